package server

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pebbe/zmq4"
	"github.com/rs/zerolog"

	"disgb/internal/logger"
	"disgb/internal/message"
	"disgb/internal/metrics"
)

const (
	commandKill    = "KILL"
	pollRetryDelay = 10 * time.Millisecond
)

// Handler processes an envelope received from a peer communicator and returns the reason
// code of the acknowledgement sent back.
type Handler interface {
	HandleEnvelope(from string, env message.Envelope) message.ReasonCode
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(from string, env message.Envelope) message.ReasonCode

func (f HandlerFunc) HandleEnvelope(from string, env message.Envelope) message.ReasonCode {
	return f(from, env)
}

// Option configures a Listener
type Option func(*Listener)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Listener) {
		s.logger = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Listener) {
		s.metrics = m
	}
}

// Listener is the ROUTER socket peers' DEALERs connect to. Each received envelope is passed
// to the handler and answered with the matching acknowledgement.
type Listener struct {
	id      string
	bind    string
	handler Handler
	metrics *metrics.Metrics
	logger  zerolog.Logger

	socket   *zmq4.Socket
	control  *zmq4.Socket
	endpoint string

	cmdMutex  sync.Mutex
	commander *zmq4.Socket

	received atomic.Uint64
	started  atomic.Bool
	stopOnce sync.Once
	stopErr  error
	done     chan struct{}
}

// NewListener creates a listener for bind, e.g. tcp://*:5000
func NewListener(bind string, handler Handler, options ...Option) *Listener {
	l := &Listener{
		id:      uuid.New().String(),
		bind:    bind,
		handler: handler,
		logger:  logger.GetLogger("listener"),
		done:    make(chan struct{}),
	}
	for _, option := range options {
		option(l)
	}
	if l.metrics == nil {
		l.metrics = metrics.New(nil)
	}
	l.logger = l.logger.With().Str("listener_id", l.id).Logger()
	return l
}

func (l *Listener) ID() string {
	return l.id
}

// Endpoint returns the bound endpoint with wildcards resolved. Empty before Start.
func (l *Listener) Endpoint() string {
	return l.endpoint
}

// ReceivedEnvelopes counts every message read from the ROUTER socket
func (l *Listener) ReceivedEnvelopes() uint64 {
	return l.received.Load()
}

// Start binds the ROUTER socket and serves it in its own goroutine
func (l *Listener) Start() error {
	if l.handler == nil {
		return fmt.Errorf("listener handler is required")
	}
	if !l.started.CompareAndSwap(false, true) {
		return fmt.Errorf("listener already started")
	}

	l.logger.Info().Str("address", l.bind).Msg("Starting peer listener")

	if err := l.open(); err != nil {
		l.closeSockets()
		l.closeCommander()
		close(l.done)
		return err
	}

	go l.loop()
	return nil
}

func (l *Listener) open() error {
	var err error
	controlAddr := "inproc://listener-" + l.id + "-control"

	if l.control, err = zmq4.NewSocket(zmq4.PULL); err != nil {
		return fmt.Errorf("failed to create control socket: %w", err)
	}
	if err = l.control.Bind(controlAddr); err != nil {
		return fmt.Errorf("failed to bind control socket: %w", err)
	}

	commander, err := zmq4.NewSocket(zmq4.PUSH)
	if err != nil {
		return fmt.Errorf("failed to create command socket: %w", err)
	}
	l.cmdMutex.Lock()
	l.commander = commander
	l.cmdMutex.Unlock()
	if err = commander.SetLinger(0); err != nil {
		return fmt.Errorf("failed to set linger: %w", err)
	}
	if err = commander.Connect(controlAddr); err != nil {
		return fmt.Errorf("failed to connect command socket: %w", err)
	}

	if l.socket, err = zmq4.NewSocket(zmq4.ROUTER); err != nil {
		return fmt.Errorf("failed to create ROUTER socket: %w", err)
	}
	if err = l.socket.SetLinger(0); err != nil {
		return fmt.Errorf("failed to set linger: %w", err)
	}
	if err = l.socket.SetRcvhwm(1000); err != nil {
		return fmt.Errorf("failed to set receive high watermark: %w", err)
	}
	if err = l.socket.Bind(l.bind); err != nil {
		return fmt.Errorf("failed to bind to address: %w", err)
	}
	if l.endpoint, err = l.socket.GetLastEndpoint(); err != nil {
		return fmt.Errorf("failed to read bound endpoint: %w", err)
	}

	return nil
}

// Stop terminates the loop and waits until the sockets are closed
func (l *Listener) Stop() error {
	if !l.started.Load() {
		return nil
	}

	l.stopOnce.Do(func() {
		select {
		case <-l.done:
		default:
			l.cmdMutex.Lock()
			_, err := l.commander.Send(commandKill, 0)
			l.cmdMutex.Unlock()
			if err != nil {
				l.stopErr = fmt.Errorf("failed to send terminate command: %w", err)
				return
			}
			<-l.done
		}
		l.closeCommander()
	})
	return l.stopErr
}

func (l *Listener) loop() {
	defer close(l.done)

	poller := zmq4.NewPoller()
	poller.Add(l.control, zmq4.POLLIN)
	poller.Add(l.socket, zmq4.POLLIN)

	for {
		polled, err := poller.PollAll(-1)
		if err != nil {
			if l.pollFailed(err) {
				break
			}
			continue
		}

		if polled[0].Events&zmq4.POLLIN != 0 {
			cmd, err := l.control.Recv(zmq4.DONTWAIT)
			if err == nil && cmd == commandKill {
				break
			}
			continue
		}

		if polled[1].Events&zmq4.POLLIN == 0 {
			continue
		}

		frames, err := l.socket.RecvMessageBytes(zmq4.DONTWAIT)
		if err != nil {
			l.logger.Error().Err(err).Msg("Failed to receive message")
			continue
		}
		l.received.Add(1)

		reply := l.handleFrames(frames)
		if reply == nil {
			continue
		}
		if _, err := l.socket.SendMessageDontwait(reply); err != nil {
			l.logger.Warn().
				Err(err).
				Str("peer", string(reply[0])).
				Msg("Failed to send acknowledgement")
		}
	}

	l.closeSockets()
	l.logger.Info().
		Uint64("received", l.received.Load()).
		Msg("Peer listener stopped")
}

// pollFailed reports whether the loop must stop after a poll error. Other errors are logged
// and followed by a short pause so a persistent failure cannot spin the loop.
func (l *Listener) pollFailed(err error) bool {
	if zmq4.AsErrno(err) == zmq4.ETERM {
		l.logger.Error().Err(err).Msg("ZMQ context terminated")
		return true
	}
	l.logger.Error().Err(err).Msg("Poll failed")
	time.Sleep(pollRetryDelay)
	return false
}

// handleFrames processes [identity, type, payload] and returns the reply frames, or nil when
// nothing is sent back
func (l *Listener) handleFrames(frames [][]byte) [][]byte {
	if len(frames) == 0 || len(frames[0]) == 0 {
		l.logger.Warn().Int("frames", len(frames)).Msg("Dropping message without peer identity")
		return nil
	}

	identity := frames[0]
	from := string(identity)

	env, err := message.Decode(frames[1:])
	if err != nil {
		l.logger.Warn().
			Err(err).
			Str("error_kind", "decode").
			Str("peer", from).
			Msg("Received malformed envelope")
		l.metrics.ListenerEnvelopes.WithLabelValues("UNKNOWN", string(message.MalformedPacket)).Inc()
		return l.reply(identity, message.PUBACK, message.MalformedPacket)
	}

	var reason message.ReasonCode
	if fwd, ok := env.Payload.(message.BrokerForwardPublishPayload); ok && fwd.PublisherLocation == nil {
		l.logger.Warn().
			Str("peer", from).
			Msg("Forwarded publish without publisher location")
		reason = message.ProtocolError
	} else {
		reason = l.handler.HandleEnvelope(from, env)
	}

	l.metrics.ListenerEnvelopes.WithLabelValues(env.Type.String(), string(reason)).Inc()
	l.logger.Debug().
		Str("peer", from).
		Str("packet_type", env.Type.String()).
		Str("reason_code", string(reason)).
		Msg("Handled peer envelope")

	ackType, ok := message.AcknowledgementFor(env.Type)
	if !ok {
		return nil
	}
	return l.reply(identity, ackType, reason)
}

func (l *Listener) reply(identity []byte, ackType message.PacketType, reason message.ReasonCode) [][]byte {
	ack, err := message.NewAcknowledgement(ackType, reason)
	if err != nil {
		l.logger.Error().Err(err).Msg("Failed to build acknowledgement")
		return nil
	}
	frames, err := message.Encode(ackType, ack)
	if err != nil {
		l.logger.Error().Err(err).Str("reason_code", string(reason)).Msg("Failed to encode acknowledgement")
		return nil
	}
	return append([][]byte{identity}, frames...)
}

func (l *Listener) closeSockets() {
	if l.socket != nil {
		if err := l.socket.Close(); err != nil {
			l.logger.Error().Err(err).Msg("Error closing ROUTER socket")
		}
		l.socket = nil
	}
	if l.control != nil {
		if err := l.control.Close(); err != nil {
			l.logger.Error().Err(err).Msg("Error closing control socket")
		}
		l.control = nil
	}
}

func (l *Listener) closeCommander() {
	l.cmdMutex.Lock()
	defer l.cmdMutex.Unlock()

	if l.commander != nil {
		l.commander.Close()
		l.commander = nil
	}
}
