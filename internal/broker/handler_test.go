package broker

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"disgb/internal/message"
	"disgb/internal/spatial"
)

func TestAreaHandler(t *testing.T) {
	h := &areaHandler{areas: testAreas(t, "B1"), logger: zerolog.Nop()}
	near := spatial.NewLocation(10, 10)
	far := spatial.NewLocation(-40, -40)

	tests := []struct {
		name    string
		payload message.Payload
		want    message.ReasonCode
	}{
		{"publish in own area", message.BrokerForwardPublishPayload{
			PublishPayload: publishAt(10, 10, 1000), PublisherLocation: &near,
		}, message.Success},
		{"publish elsewhere", message.BrokerForwardPublishPayload{
			PublishPayload: publishAt(-40, -40, 1000), PublisherLocation: &near,
		}, message.WrongBroker},
		{"forwarded subscribe", message.BrokerForwardSubscribePayload{
			ClientIdentifier: "c1",
			SubscribePayload: message.SubscribePayload{
				Topic:    message.Topic{Topic: "t"},
				Geofence: spatial.NewGeofence(near, 1000),
			},
		}, message.ProtocolError},
		{"forwarded ping", message.BrokerForwardPingreqPayload{
			ClientIdentifier: "c1",
			PingreqPayload:   message.PingreqPayload{Location: &far},
		}, message.ProtocolError},
		{"forwarded unsubscribe", message.BrokerForwardUnsubscribePayload{ClientIdentifier: "c1"}, message.ProtocolError},
		{"client packet", message.ConnectPayload{}, message.Success},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := h.HandleEnvelope("B3-communicator-1", message.NewEnvelope(tt.payload))
			assert.Equal(t, tt.want, got)
		})
	}
}
