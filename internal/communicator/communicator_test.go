package communicator

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disgb/internal/area"
	"disgb/internal/message"
	"disgb/internal/metrics"
)

type fakeChannel struct {
	id   string
	sent [][][]byte
}

func (f *fakeChannel) BrokerID() string { return f.id }

func (f *fakeChannel) Send(frames [][]byte) error {
	f.sent = append(f.sent, frames)
	return nil
}

type sendCall struct {
	envelope [][]byte
	channel  Channel
}

type ackCall struct {
	frames [][]byte
	from   Channel
}

type fakeLogic struct {
	sends   []sendCall
	acks    []ackCall
	sendErr error
}

func (f *fakeLogic) Send(envelope [][]byte, ch Channel) error {
	f.sends = append(f.sends, sendCall{envelope: envelope, channel: ch})
	return f.sendErr
}

func (f *fakeLogic) ProcessAcknowledgement(frames [][]byte, from Channel) {
	f.acks = append(f.acks, ackCall{frames: frames, from: from})
}

var testPeers = []area.BrokerInfo{
	{BrokerID: "B1", IP: "10.0.0.1", Port: 5000},
	{BrokerID: "B3", IP: "10.0.0.3", Port: 5002},
}

// newTestCommunicator wires fake channels in place of DEALER sockets
func newTestCommunicator(t *testing.T, logic DistributionLogic) (*Communicator, *bytes.Buffer, *metrics.Metrics) {
	t.Helper()

	var buf bytes.Buffer
	m := metrics.New(nil)
	c, err := New(Config{BrokerID: "B2", Index: 1, Peers: testPeers}, logic,
		WithLogger(zerolog.New(&buf)), WithMetrics(m))
	require.NoError(t, err)

	for _, peer := range testPeers {
		c.channels = append(c.channels, &fakeChannel{id: peer.BrokerID})
	}
	return c, &buf, m
}

func routingFrames(t *testing.T, target string) [][]byte {
	t.Helper()
	frames, err := message.ToRoutingFrames(target, message.NewEnvelope(message.PubackPayload{ReasonCode: message.Success}))
	require.NoError(t, err)
	return frames
}

func countLines(buf *bytes.Buffer, needle string) int {
	n := 0
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, needle) {
			n++
		}
	}
	return n
}

func TestIdentity(t *testing.T) {
	assert.Equal(t, "B1-communicator-2", Identity("B1", 2))
	assert.Equal(t, "inproc://B1-communicator-2", Endpoint(Identity("B1", 2)))
}

func TestNewValidation(t *testing.T) {
	logic := &fakeLogic{}

	tests := []struct {
		name  string
		cfg   Config
		logic DistributionLogic
	}{
		{"missing broker id", Config{Index: 1}, logic},
		{"index zero", Config{BrokerID: "B2"}, logic},
		{"nil logic", Config{BrokerID: "B2", Index: 1}, nil},
		{"own broker as peer", Config{BrokerID: "B1", Index: 1, Peers: testPeers}, logic},
		{"duplicate peer", Config{BrokerID: "B2", Index: 1, Peers: []area.BrokerInfo{testPeers[0], testPeers[0]}}, logic},
		{"invalid peer", Config{BrokerID: "B2", Index: 1, Peers: []area.BrokerInfo{{BrokerID: "B1", IP: "10.0.0.1"}}}, logic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.logic)
			assert.Error(t, err)
		})
	}

	c, err := New(Config{BrokerID: "B2", Index: 3}, logic)
	require.NoError(t, err)
	assert.Equal(t, "B2-communicator-3", c.Identity())
	assert.Empty(t, c.Peers())
}

func TestRouteToKnownPeer(t *testing.T) {
	logic := &fakeLogic{}
	c, buf, m := newTestCommunicator(t, logic)

	frames := routingFrames(t, "B1")
	c.processMessage(0, frames)

	require.Len(t, logic.sends, 1)
	assert.Equal(t, "B1", logic.sends[0].channel.BrokerID())
	assert.Equal(t, frames[1:], logic.sends[0].envelope)
	assert.Empty(t, logic.acks)
	assert.EqualValues(t, 1, c.ProcessedMessages())
	assert.Zero(t, countLines(buf, `"error_kind"`))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommunicatorMessages.WithLabelValues("B2-communicator-1", "routed")))
}

func TestRouteToUnknownPeer(t *testing.T) {
	logic := &fakeLogic{}
	c, buf, m := newTestCommunicator(t, logic)

	c.processMessage(0, routingFrames(t, "B99"))

	assert.Empty(t, logic.sends)
	assert.EqualValues(t, 1, c.ProcessedMessages())
	assert.Equal(t, 1, countLines(buf, `"error_kind":"routing"`))
	assert.Contains(t, buf.String(), `"target_broker":"B99"`)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommunicatorMessages.WithLabelValues("B2-communicator-1", "routing_error")))
}

func TestRouteDropsMalformedFrames(t *testing.T) {
	valid := routingFrames(t, "B1")

	tests := []struct {
		name   string
		frames [][]byte
	}{
		{"no frames", nil},
		{"envelope without target", valid[1:]},
		{"extra frame", append(append([][]byte{}, valid...), []byte("x"))},
		{"empty target", [][]byte{{}, valid[1], valid[2]}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logic := &fakeLogic{}
			c, buf, _ := newTestCommunicator(t, logic)

			assert.NotPanics(t, func() { c.processMessage(0, tt.frames) })
			assert.Empty(t, logic.sends)
			assert.EqualValues(t, 1, c.ProcessedMessages())
			assert.Equal(t, 1, countLines(buf, `"error_kind":"framing"`))
		})
	}
}

func TestRouteLogsSendFailure(t *testing.T) {
	logic := &fakeLogic{sendErr: &TransportError{BrokerID: "B3", Err: ErrWouldBlock}}
	c, buf, _ := newTestCommunicator(t, logic)

	c.processMessage(0, routingFrames(t, "B3"))

	require.Len(t, logic.sends, 1)
	assert.Equal(t, "B3", logic.sends[0].channel.BrokerID())
	assert.Equal(t, 1, countLines(buf, `"error_kind":"transport"`))
}

func TestPeerMessageGoesToAcknowledgement(t *testing.T) {
	logic := &fakeLogic{}
	c, _, _ := newTestCommunicator(t, logic)

	frames := [][]byte{[]byte("PUBACK"), []byte(`{"reasonCode":"Success"}`)}
	c.processMessage(2, frames)

	require.Len(t, logic.acks, 1)
	assert.Equal(t, [][]byte{[]byte("PUBACK"), []byte(`{"reasonCode":"Success"}`)}, logic.acks[0].frames)
	assert.Equal(t, "B3", logic.acks[0].from.BrokerID())
	assert.Empty(t, logic.sends)

	// garbage is passed through as well, interpretation belongs to the logic
	c.processMessage(1, [][]byte{[]byte("not an envelope")})
	require.Len(t, logic.acks, 2)
	assert.Equal(t, "B1", logic.acks[1].from.BrokerID())
	assert.EqualValues(t, 2, c.ProcessedMessages())
}

func TestMessageFromUnknownSocket(t *testing.T) {
	logic := &fakeLogic{}
	c, buf, _ := newTestCommunicator(t, logic)

	c.processMessage(7, [][]byte{[]byte("PUBACK")})

	assert.Empty(t, logic.acks)
	assert.EqualValues(t, 1, c.ProcessedMessages())
	assert.Contains(t, buf.String(), "Message from unknown socket")
}

func TestNextReady(t *testing.T) {
	tests := []struct {
		name  string
		ready []bool
		start int
		want  int
		ok    bool
	}{
		{"none ready", []bool{false, false}, 0, 0, false},
		{"first ready", []bool{true, true, false}, 0, 0, true},
		{"rotates past served", []bool{true, true, false}, 1, 1, true},
		{"wraps around", []bool{true, false, false}, 2, 0, true},
		{"start beyond end", []bool{false, true}, 5, 1, true},
		{"empty", nil, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := nextReady(tt.ready, tt.start)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestStopWithoutStart(t *testing.T) {
	c, err := New(Config{BrokerID: "B2", Index: 1}, &fakeLogic{})
	require.NoError(t, err)

	assert.NoError(t, c.Stop())
	assert.Error(t, c.SendCommand("PAUSE"))
}

func TestTransportErrorUnwrap(t *testing.T) {
	err := &TransportError{BrokerID: "B1", Err: ErrWouldBlock}
	assert.True(t, errors.Is(err, ErrWouldBlock))
	assert.Contains(t, err.Error(), "B1")

	var routing error = &RoutingError{TargetBrokerID: "B99"}
	assert.Contains(t, routing.Error(), "B99")
}
