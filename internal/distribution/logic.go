package distribution

import (
	"errors"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"disgb/internal/communicator"
	"disgb/internal/logger"
	"disgb/internal/message"
	"disgb/internal/metrics"
)

// Option configures a Logic
type Option func(*Logic)

func WithLogger(l zerolog.Logger) Option {
	return func(logic *Logic) {
		logic.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(logic *Logic) {
		logic.metrics = m
	}
}

// Logic is the default DistributionLogic. Sends never block: a full peer queue is retried
// with exponential backoff inside a small time budget and then dropped. Repeated failures
// open a per-peer circuit breaker so a dead peer costs nothing until the breaker lets a
// request through again.
// Envelopes sent and not yet acknowledged are counted per peer.
type Logic struct {
	name    string
	cfg     Config
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mutex    sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	inFlight map[string]int64
}

// New creates the logic of one communicator. name prefixes the breaker names.
func New(name string, cfg Config, options ...Option) *Logic {
	l := &Logic{
		name:     name,
		cfg:      cfg,
		logger:   logger.GetLogger("distribution"),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		inFlight: make(map[string]int64),
	}
	for _, option := range options {
		option(l)
	}
	if l.metrics == nil {
		l.metrics = metrics.New(nil)
	}
	l.logger = l.logger.With().Str("communicator", name).Logger()
	return l
}

// Factory returns a communicator.LogicFactory producing one Logic per instance
func Factory(cfg Config, options ...Option) communicator.LogicFactory {
	return func(identity string) communicator.DistributionLogic {
		return New(identity, cfg, options...)
	}
}

// Send implements communicator.DistributionLogic
func (l *Logic) Send(envelope [][]byte, ch communicator.Channel) error {
	peer := ch.BrokerID()

	wouldBlock := 0
	_, err := l.breaker(peer).Execute(func() (interface{}, error) {
		return nil, l.sendWithRetry(envelope, ch, &wouldBlock)
	})
	if wouldBlock > 0 {
		l.metrics.DistributionSends.WithLabelValues(peer, "would_block").Add(float64(wouldBlock))
	}

	if err != nil {
		result := "failed"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = "rejected"
		}
		l.metrics.DistributionSends.WithLabelValues(peer, result).Inc()

		var transportErr *communicator.TransportError
		if errors.As(err, &transportErr) {
			return err
		}
		return &communicator.TransportError{BrokerID: peer, Err: err}
	}

	l.metrics.DistributionSends.WithLabelValues(peer, "sent").Inc()
	l.adjustInFlight(peer, 1)
	return nil
}

func (l *Logic) sendWithRetry(envelope [][]byte, ch communicator.Channel, wouldBlock *int) error {
	var policy backoff.BackOff = &backoff.StopBackOff{}
	if l.cfg.SendRetryBudget > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = l.cfg.SendRetryInitial
		exp.MaxInterval = l.cfg.SendRetryMax
		exp.MaxElapsedTime = l.cfg.SendRetryBudget
		policy = exp
	}

	return backoff.Retry(func() error {
		err := ch.Send(envelope)
		if err == nil {
			return nil
		}
		if errors.Is(err, communicator.ErrWouldBlock) {
			*wouldBlock++
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

// ProcessAcknowledgement implements communicator.DistributionLogic
func (l *Logic) ProcessAcknowledgement(frames [][]byte, from communicator.Channel) {
	peer := from.BrokerID()

	env, err := message.Decode(frames)
	if err != nil {
		l.logger.Warn().
			Err(err).
			Str("error_kind", "decode").
			Str("peer", peer).
			Msg("Dropping undecodable message from peer")
		l.metrics.DistributionAcks.WithLabelValues(peer, "decode_error").Inc()
		return
	}

	ack, ok := env.Payload.(message.Acknowledgement)
	if !ok {
		l.logger.Debug().
			Str("peer", peer).
			Str("packet_type", env.Type.String()).
			Msg("Ignoring non-acknowledgement message from peer")
		return
	}

	l.adjustInFlight(peer, -1)
	l.metrics.DistributionAcks.WithLabelValues(peer, string(ack.Reason())).Inc()

	if ack.Reason() != message.Success {
		l.logger.Warn().
			Str("peer", peer).
			Str("packet_type", env.Type.String()).
			Str("reason_code", string(ack.Reason())).
			Msg("Peer did not accept envelope")
		return
	}

	l.logger.Debug().
		Str("peer", peer).
		Str("packet_type", env.Type.String()).
		Msg("Acknowledgement received")
}

func (l *Logic) adjustInFlight(peer string, delta int64) {
	l.mutex.Lock()
	n := l.inFlight[peer] + delta
	if n < 0 {
		n = 0
	}
	l.inFlight[peer] = n
	l.mutex.Unlock()

	l.metrics.DistributionInFlight.WithLabelValues(peer).Set(float64(n))
}

// InFlight returns the unacknowledged envelope count of one peer
func (l *Logic) InFlight(peer string) int64 {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.inFlight[peer]
}

// InFlightByPeer returns a copy of all in-flight counts
func (l *Logic) InFlightByPeer() map[string]int64 {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	out := make(map[string]int64, len(l.inFlight))
	for peer, n := range l.inFlight {
		out[peer] = n
	}
	return out
}

// BreakerStates returns the breaker state of every peer sent to so far
func (l *Logic) BreakerStates() map[string]string {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	out := make(map[string]string, len(l.breakers))
	for peer, cb := range l.breakers {
		out[peer] = cb.State().String()
	}
	return out
}

func (l *Logic) breaker(peer string) *gobreaker.CircuitBreaker {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if cb, ok := l.breakers[peer]; ok {
		return cb
	}

	failures := l.cfg.BreakerFailures
	settings := gobreaker.Settings{
		Name:        l.name + "/" + peer,
		MaxRequests: 1,
		Timeout:     l.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return failures > 0 && counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			l.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Peer circuit breaker changed state")
		},
	}

	cb := gobreaker.NewCircuitBreaker(settings)
	l.metrics.CircuitBreakerState.WithLabelValues(settings.Name).Set(stateValue(cb.State()))
	l.breakers[peer] = cb
	return cb
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}
