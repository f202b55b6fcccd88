package communicator

import (
	"fmt"
	"sync"
	"syscall"

	"github.com/pebbe/zmq4"
	"github.com/rs/zerolog"

	"disgb/internal/message"
	"disgb/internal/metrics"
)

// Forwarder is the producer side of the local hand-off: it pushes routing frames to the
// communicators of a pool, rotating over them. Safe for concurrent use.
type Forwarder struct {
	mutex     sync.Mutex
	sockets   []*zmq4.Socket
	endpoints []string
	next    int
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewForwarder connects one PUSH socket to each endpoint
func NewForwarder(endpoints []string, options ...Option) (*Forwarder, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}

	opts := newOptions(options...)
	f := &Forwarder{
		endpoints: append([]string(nil), endpoints...),
		metrics:   opts.Metrics,
		logger:  opts.Logger.With().Str("role", "forwarder").Logger(),
	}

	for _, endpoint := range endpoints {
		socket, err := zmq4.NewSocket(zmq4.PUSH)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create PUSH socket: %w", err)
		}
		f.sockets = append(f.sockets, socket)

		if err = socket.SetLinger(0); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set linger: %w", err)
		}
		if err = socket.SetSndhwm(opts.SendHighWater); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set send high watermark: %w", err)
		}
		if err = socket.Connect(endpoint); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
		}
	}

	return f, nil
}

// Forward encodes env and hands it to the next communicator for delivery to targetBrokerID
func (f *Forwarder) Forward(targetBrokerID string, env message.Envelope) error {
	frames, err := message.ToRoutingFrames(targetBrokerID, env)
	if err != nil {
		return fmt.Errorf("failed to build routing frames: %w", err)
	}
	return f.ForwardFrames(frames)
}

// ForwardFrames pushes already built frames without checking them. Malformed frames are
// dropped by the receiving communicator.
func (f *Forwarder) ForwardFrames(frames [][]byte) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if len(f.sockets) == 0 {
		return fmt.Errorf("forwarder is closed")
	}

	index := f.next
	socket := f.sockets[index]
	f.next = (f.next + 1) % len(f.sockets)

	if _, err := socket.SendMessageDontwait(frames); err != nil {
		if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
			return ErrWouldBlock
		}
		return fmt.Errorf("failed to push routing frames: %w", err)
	}

	// labelled by endpoint: frame contents are unchecked here
	f.metrics.ForwardedEnvelopes.WithLabelValues(f.endpoints[index]).Inc()
	f.logger.Debug().
		Str("endpoint", f.endpoints[index]).
		Int("frames", len(frames)).
		Msg("Forwarded routing frames")
	return nil
}

// Close closes all sockets; later calls to Forward fail
func (f *Forwarder) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	var firstErr error
	for _, socket := range f.sockets {
		if err := socket.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.sockets = nil
	return firstErr
}
