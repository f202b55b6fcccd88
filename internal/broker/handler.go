package broker

import (
	"github.com/rs/zerolog"

	"disgb/internal/area"
	"disgb/internal/message"
)

// areaHandler answers peer envelopes on behalf of a broker that holds no local client
// sessions. It only checks that forwarded traffic concerns the own area.
type areaHandler struct {
	areas  *area.Manager
	logger zerolog.Logger
}

func (h *areaHandler) HandleEnvelope(from string, env message.Envelope) message.ReasonCode {
	switch p := env.Payload.(type) {
	case message.BrokerForwardPublishPayload:
		if !h.areas.OwnIntersects(p.PublishPayload.Geofence) {
			h.logger.Warn().
				Str("from", from).
				Str("topic", p.PublishPayload.Topic.Topic).
				Msg("Forwarded publish does not reach the own area")
			return message.WrongBroker
		}
		return message.Success

	case message.BrokerForwardPingreqPayload,
		message.BrokerForwardSubscribePayload,
		message.BrokerForwardUnsubscribePayload:
		// client sessions stay with the broker they connected to; nothing is sent back
		h.logger.Warn().
			Str("from", from).
			Str("packet_type", env.Type.String()).
			Msg("Unsupported operation")
		return message.ProtocolError

	default:
		h.logger.Debug().
			Str("from", from).
			Str("packet_type", env.Type.String()).
			Msg("Envelope accepted without action")
		return message.Success
	}
}
