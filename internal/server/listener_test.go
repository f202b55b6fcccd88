package server

import (
	"bytes"
	"syscall"
	"testing"
	"time"

	"github.com/pebbe/zmq4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disgb/internal/message"
	"disgb/internal/metrics"
	"disgb/internal/spatial"
)

type recordingHandler struct {
	reason message.ReasonCode
	from   []string
	envs   []message.Envelope
}

func (r *recordingHandler) HandleEnvelope(from string, env message.Envelope) message.ReasonCode {
	r.from = append(r.from, from)
	r.envs = append(r.envs, env)
	return r.reason
}

func publish() message.PublishPayload {
	return message.PublishPayload{
		Topic:    message.Topic{Topic: "traffic"},
		Geofence: spatial.NewGeofence(spatial.NewLocation(48.1, 11.5), 1000),
		Content:  "jam",
	}
}

func encode(t *testing.T, identity string, p message.Payload) [][]byte {
	t.Helper()
	frames, err := message.Encode(p.PacketType(), p)
	require.NoError(t, err)
	return append([][]byte{[]byte(identity)}, frames...)
}

func decodeReply(t *testing.T, reply [][]byte) (string, message.Envelope) {
	t.Helper()
	require.Len(t, reply, 3)
	env, err := message.Decode(reply[1:])
	require.NoError(t, err)
	return string(reply[0]), env
}

func TestHandleFrames(t *testing.T) {
	loc := spatial.NewLocation(48.1, 11.5)

	t.Run("forwarded publish is acknowledged", func(t *testing.T) {
		h := &recordingHandler{reason: message.Success}
		m := metrics.New(nil)
		l := NewListener("tcp://*:0", h, WithLogger(zerolog.Nop()), WithMetrics(m))

		reply := l.handleFrames(encode(t, "B1-communicator-1", message.BrokerForwardPublishPayload{
			PublishPayload:    publish(),
			PublisherLocation: &loc,
		}))

		identity, env := decodeReply(t, reply)
		assert.Equal(t, "B1-communicator-1", identity)
		assert.Equal(t, message.NewEnvelope(message.PubackPayload{ReasonCode: message.Success}), env)
		require.Len(t, h.envs, 1)
		assert.Equal(t, []string{"B1-communicator-1"}, h.from)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.ListenerEnvelopes.WithLabelValues("BrokerForwardPublish", "Success")))
	})

	t.Run("forwarded publish without location", func(t *testing.T) {
		h := &recordingHandler{reason: message.Success}
		l := NewListener("tcp://*:0", h, WithLogger(zerolog.Nop()))

		reply := l.handleFrames(encode(t, "B1-communicator-1", message.BrokerForwardPublishPayload{
			PublishPayload: publish(),
		}))

		_, env := decodeReply(t, reply)
		assert.Equal(t, message.NewEnvelope(message.PubackPayload{ReasonCode: message.ProtocolError}), env)
		assert.Empty(t, h.envs, "handler must not see a rejected publish")
	})

	t.Run("malformed envelope", func(t *testing.T) {
		var buf bytes.Buffer
		h := &recordingHandler{reason: message.Success}
		l := NewListener("tcp://*:0", h, WithLogger(zerolog.New(&buf)))

		reply := l.handleFrames([][]byte{[]byte("B1-communicator-1"), []byte("BOGUS"), []byte("{}")})

		_, env := decodeReply(t, reply)
		assert.Equal(t, message.NewEnvelope(message.PubackPayload{ReasonCode: message.MalformedPacket}), env)
		assert.Empty(t, h.envs)
		assert.Contains(t, buf.String(), `"error_kind":"decode"`)
	})

	t.Run("forwarded subscribe is not answered", func(t *testing.T) {
		h := &recordingHandler{reason: message.ProtocolError}
		l := NewListener("tcp://*:0", h, WithLogger(zerolog.Nop()))

		reply := l.handleFrames(encode(t, "B3-communicator-2", message.BrokerForwardSubscribePayload{
			ClientIdentifier: "client-7",
			SubscribePayload: message.SubscribePayload{Topic: message.Topic{Topic: "traffic"}, Geofence: spatial.Unbounded()},
		}))

		assert.Nil(t, reply)
		require.Len(t, h.envs, 1)
		assert.Equal(t, message.BrokerForwardSubscribe, h.envs[0].Type)
	})

	t.Run("direct subscribe is answered with suback", func(t *testing.T) {
		h := &recordingHandler{reason: message.GrantedQoS0}
		l := NewListener("tcp://*:0", h, WithLogger(zerolog.Nop()))

		reply := l.handleFrames(encode(t, "B3-communicator-2", message.SubscribePayload{
			Topic:    message.Topic{Topic: "traffic"},
			Geofence: spatial.Unbounded(),
		}))

		_, env := decodeReply(t, reply)
		assert.Equal(t, message.SUBACK, env.Type)
	})

	t.Run("acknowledgements are not answered", func(t *testing.T) {
		h := &recordingHandler{reason: message.Success}
		l := NewListener("tcp://*:0", h, WithLogger(zerolog.Nop()))

		reply := l.handleFrames(encode(t, "B1-communicator-1", message.PubackPayload{ReasonCode: message.Success}))
		assert.Nil(t, reply)
		assert.Len(t, h.envs, 1)
	})

	t.Run("missing identity", func(t *testing.T) {
		l := NewListener("tcp://*:0", &recordingHandler{}, WithLogger(zerolog.Nop()))
		assert.Nil(t, l.handleFrames(nil))
		assert.Nil(t, l.handleFrames([][]byte{{}, []byte("PUBACK"), []byte("{}")}))
	})

	t.Run("invalid reason from handler", func(t *testing.T) {
		l := NewListener("tcp://*:0", &recordingHandler{reason: "Whatever"}, WithLogger(zerolog.Nop()))
		reply := l.handleFrames(encode(t, "B1-communicator-1", publish()))
		assert.Nil(t, reply)
	})
}

func TestListenerOverSockets(t *testing.T) {
	h := HandlerFunc(func(from string, env message.Envelope) message.ReasonCode {
		return message.NoMatchingSubscribers
	})
	l := NewListener("tcp://127.0.0.1:*", h, WithLogger(zerolog.Nop()))
	require.NoError(t, l.Start())
	t.Cleanup(func() { l.Stop() })
	require.NotEmpty(t, l.Endpoint())

	dealer, err := zmq4.NewSocket(zmq4.DEALER)
	require.NoError(t, err)
	t.Cleanup(func() { dealer.Close() })
	require.NoError(t, dealer.SetLinger(0))
	require.NoError(t, dealer.SetIdentity("B9-communicator-1"))
	require.NoError(t, dealer.SetRcvtimeo(5*time.Second))
	require.NoError(t, dealer.Connect(l.Endpoint()))

	frames, err := message.Encode(message.PUBLISH, publish())
	require.NoError(t, err)
	_, err = dealer.SendMessage(frames)
	require.NoError(t, err)

	reply, err := dealer.RecvMessageBytes(0)
	require.NoError(t, err)
	env, err := message.Decode(reply)
	require.NoError(t, err)
	assert.Equal(t, message.NewEnvelope(message.PubackPayload{ReasonCode: message.NoMatchingSubscribers}), env)

	require.NoError(t, l.Stop())
	assert.NoError(t, l.Stop())
	assert.EqualValues(t, 1, l.ReceivedEnvelopes())
	assert.Error(t, l.Start())
}

func TestListenerRequiresHandler(t *testing.T) {
	l := NewListener("tcp://127.0.0.1:*", nil)
	assert.Error(t, l.Start())
}

func TestPollFailed(t *testing.T) {
	l := NewListener("tcp://127.0.0.1:*", &recordingHandler{}, WithLogger(zerolog.Nop()))

	assert.True(t, l.pollFailed(zmq4.ETERM))

	start := time.Now()
	assert.False(t, l.pollFailed(zmq4.Errno(syscall.EINTR)))
	assert.GreaterOrEqual(t, time.Since(start), pollRetryDelay)
}
