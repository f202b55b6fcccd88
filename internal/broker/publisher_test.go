package broker

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disgb/internal/area"
	"disgb/internal/message"
	"disgb/internal/spatial"
)

type forwarded struct {
	target string
	env    message.Envelope
}

type fakeForwarder struct {
	sent    []forwarded
	failFor map[string]error
}

func (f *fakeForwarder) Forward(target string, env message.Envelope) error {
	if err := f.failFor[target]; err != nil {
		return err
	}
	f.sent = append(f.sent, forwarded{target: target, env: env})
	return nil
}

func descriptorEntry(id, ip string, port int, geometry string) area.DescriptorEntry {
	return area.DescriptorEntry{
		ResponsibleBroker: area.BrokerInfo{BrokerID: id, IP: ip, Port: port},
		CoveredArea:       area.CoveredArea{GeometryText: geometry},
	}
}

// B1 and B3 overlap around (10,10); B2 owns (20,20) far away
func testAreas(t *testing.T, own string) *area.Manager {
	t.Helper()
	m, err := area.Load([]area.DescriptorEntry{
		descriptorEntry("B1", "10.0.0.1", 5000, "BUFFER(POINT(10 10), 100000)"),
		descriptorEntry("B2", "10.0.0.2", 5001, "BUFFER(POINT(20 20), 100000)"),
		descriptorEntry("B3", "10.0.0.3", 5002, "BUFFER(POINT(10.5 10), 100000)"),
	}, own)
	require.NoError(t, err)
	return m
}

func publishAt(lat, lon, diameter float64) message.PublishPayload {
	return message.PublishPayload{
		Topic:    message.Topic{Topic: "road/ice"},
		Geofence: spatial.NewGeofence(spatial.NewLocation(lat, lon), diameter),
		Content:  "slippery",
	}
}

func TestPublisherFansOut(t *testing.T) {
	fwd := &fakeForwarder{}
	p := NewPublisher(testAreas(t, "B2"), fwd, zerolog.Nop())
	loc := spatial.NewLocation(20, 20)

	targets, err := p.Publish(publishAt(10, 10, 20000), &loc)
	require.NoError(t, err)
	assert.Equal(t, []string{"B1", "B3"}, targets)

	require.Len(t, fwd.sent, 2)
	for _, f := range fwd.sent {
		assert.Equal(t, message.BrokerForwardPublish, f.env.Type)
		payload, ok := f.env.Payload.(message.BrokerForwardPublishPayload)
		require.True(t, ok)
		assert.Equal(t, "slippery", payload.PublishPayload.Content)
		require.NotNil(t, payload.PublisherLocation)
		assert.Equal(t, loc, *payload.PublisherLocation)
	}
}

func TestPublisherSkipsOwnArea(t *testing.T) {
	fwd := &fakeForwarder{}
	p := NewPublisher(testAreas(t, "B1"), fwd, zerolog.Nop())
	loc := spatial.NewLocation(10, 10)

	targets, err := p.Publish(publishAt(10, 10, 20000), &loc)
	require.NoError(t, err)
	assert.Equal(t, []string{"B3"}, targets)

	targets, err = p.Publish(publishAt(-40, -40, 1000), &loc)
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestPublisherFailures(t *testing.T) {
	loc := spatial.NewLocation(20, 20)

	t.Run("missing location", func(t *testing.T) {
		p := NewPublisher(testAreas(t, "B2"), &fakeForwarder{}, zerolog.Nop())
		_, err := p.Publish(publishAt(10, 10, 20000), nil)
		assert.ErrorContains(t, err, "publisher location is required")
	})

	t.Run("invalid location", func(t *testing.T) {
		p := NewPublisher(testAreas(t, "B2"), &fakeForwarder{}, zerolog.Nop())
		bad := spatial.NewLocation(95, 0)
		_, err := p.Publish(publishAt(10, 10, 20000), &bad)
		assert.ErrorContains(t, err, "invalid publisher location")
	})

	t.Run("invalid payload", func(t *testing.T) {
		p := NewPublisher(testAreas(t, "B2"), &fakeForwarder{}, zerolog.Nop())
		payload := publishAt(10, 10, 20000)
		payload.Topic.Topic = ""
		_, err := p.Publish(payload, &loc)
		assert.ErrorContains(t, err, "invalid publish payload")
	})

	t.Run("partial failure", func(t *testing.T) {
		fwd := &fakeForwarder{failFor: map[string]error{"B1": errors.New("would block")}}
		p := NewPublisher(testAreas(t, "B2"), fwd, zerolog.Nop())
		targets, err := p.Publish(publishAt(10, 10, 20000), &loc)
		assert.Equal(t, []string{"B3"}, targets)
		assert.ErrorContains(t, err, "failed to forward to B1: would block")
	})

	t.Run("total failure", func(t *testing.T) {
		closed := errors.New("forwarder is closed")
		fwd := &fakeForwarder{failFor: map[string]error{"B1": closed, "B3": closed}}
		p := NewPublisher(testAreas(t, "B2"), fwd, zerolog.Nop())
		targets, err := p.Publish(publishAt(10, 10, 20000), &loc)
		assert.Nil(t, targets)
		assert.ErrorIs(t, err, closed)
	})
}
