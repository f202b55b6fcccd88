package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcknowledgementFor(t *testing.T) {
	tests := []struct {
		request PacketType
		ack     PacketType
		ok      bool
	}{
		{BrokerForwardPublish, PUBACK, true},
		{PUBLISH, PUBACK, true},
		{SUBSCRIBE, SUBACK, true},
		{UNSUBSCRIBE, UNSUBACK, true},
		{CONNECT, CONNACK, true},
		{PINGREQ, PINGRESP, true},
		{BrokerForwardSubscribe, 0, false},
		{BrokerForwardUnsubscribe, 0, false},
		{BrokerForwardPingreq, 0, false},
		{BrokerForwardDisconnect, 0, false},
		{PUBACK, 0, false},
		{DISCONNECT, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.request.String(), func(t *testing.T) {
			ack, ok := AcknowledgementFor(tt.request)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.ack, ack)
				assert.True(t, ack.IsAcknowledgement())
			}
		})
	}
}

func TestNewAcknowledgement(t *testing.T) {
	for _, pt := range PacketTypes() {
		ack, err := NewAcknowledgement(pt, NoMatchingSubscribers)
		if !pt.IsAcknowledgement() {
			assert.Error(t, err, pt.String())
			continue
		}
		require.NoError(t, err, pt.String())
		assert.Equal(t, pt, ack.PacketType())
		assert.Equal(t, NoMatchingSubscribers, ack.Reason())

		frames, err := Encode(pt, ack)
		require.NoError(t, err)
		env, err := Decode(frames)
		require.NoError(t, err)
		decoded, ok := env.Payload.(Acknowledgement)
		require.True(t, ok)
		assert.Equal(t, NoMatchingSubscribers, decoded.Reason())
	}
}
