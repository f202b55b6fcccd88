package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors of one broker process. Each component gets the same instance
// so every counter ends up on the registry the admin API serves.
type Metrics struct {
	CommunicatorMessages *prometheus.CounterVec
	DistributionSends    *prometheus.CounterVec
	DistributionAcks     *prometheus.CounterVec
	DistributionInFlight *prometheus.GaugeVec
	CircuitBreakerState  *prometheus.GaugeVec
	ListenerEnvelopes    *prometheus.CounterVec
	ForwardedEnvelopes   *prometheus.CounterVec
	OwnAreaUpdates       prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil registerer leaves them
// unregistered, which is what most unit tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommunicatorMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "disgb_communicator_messages_total",
				Help: "Messages dispatched by a communicator loop (count)",
			},
			[]string{"communicator", "outcome"},
		),
		DistributionSends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "disgb_distribution_sends_total",
				Help: "Envelope send attempts towards a peer broker (count)",
			},
			[]string{"peer", "result"},
		),
		DistributionAcks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "disgb_distribution_acknowledgements_total",
				Help: "Acknowledgements received from peer brokers by reason code (count)",
			},
			[]string{"peer", "reason_code"},
		),
		DistributionInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "disgb_distribution_in_flight",
				Help: "Envelopes sent to a peer and not yet acknowledged (count)",
			},
			[]string{"peer"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "disgb_circuit_breaker_state",
				Help: "Peer circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
			},
			[]string{"name"},
		),
		ListenerEnvelopes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "disgb_listener_envelopes_total",
				Help: "Envelopes received from peer brokers by packet type and reply reason (count)",
			},
			[]string{"packet_type", "reason_code"},
		),
		ForwardedEnvelopes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "disgb_forwarded_envelopes_total",
				Help: "Envelopes handed to the communicator pool by communicator endpoint (count)",
			},
			[]string{"endpoint"},
		),
		OwnAreaUpdates: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "disgb_own_area_updates_total",
				Help: "Successful replacements of the own broker area (count)",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.CommunicatorMessages,
			m.DistributionSends,
			m.DistributionAcks,
			m.DistributionInFlight,
			m.CircuitBreakerState,
			m.ListenerEnvelopes,
			m.ForwardedEnvelopes,
			m.OwnAreaUpdates,
		)
	}

	return m
}
