package broker

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"disgb/internal/area"
	"disgb/internal/message"
	"disgb/internal/spatial"
)

// EnvelopeForwarder hands an envelope to the communicators for one target broker
type EnvelopeForwarder interface {
	Forward(targetBrokerID string, env message.Envelope) error
}

// Publisher fans a publish out to every peer whose area intersects its geofence
type Publisher struct {
	areas     *area.Manager
	forwarder EnvelopeForwarder
	logger    zerolog.Logger
}

// NewPublisher creates a publisher over the given area table
func NewPublisher(areas *area.Manager, forwarder EnvelopeForwarder, log zerolog.Logger) *Publisher {
	return &Publisher{
		areas:     areas,
		forwarder: forwarder,
		logger:    log,
	}
}

// Publish forwards p as a BROKER_FORWARD_PUBLISH and returns the ids of the peers it was
// handed over for. Targets that fail are skipped and reported in the joined error.
func (p *Publisher) Publish(payload message.PublishPayload, publisher *spatial.Location) ([]string, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher location is required")
	}
	if err := publisher.Validate(); err != nil {
		return nil, fmt.Errorf("invalid publisher location: %w", err)
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("invalid publish payload: %w", err)
	}

	env := message.NewEnvelope(message.BrokerForwardPublishPayload{
		PublishPayload:    payload,
		PublisherLocation: publisher,
	})

	targets := p.areas.FindBrokersIntersecting(payload.Geofence)
	forwarded := make([]string, 0, len(targets))

	var errs error
	for _, target := range targets {
		if err := p.forwarder.Forward(target.BrokerID, env); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to forward to %s: %w", target.BrokerID, err))
			continue
		}
		forwarded = append(forwarded, target.BrokerID)
	}

	p.logger.Debug().
		Str("topic", payload.Topic.Topic).
		Strs("targets", forwarded).
		Int("failed", len(targets)-len(forwarded)).
		Msg("Publish forwarded to peers")

	if errs != nil && len(forwarded) == 0 {
		return nil, errs
	}
	return forwarded, errs
}
