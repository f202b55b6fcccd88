package communicator

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pebbe/zmq4"
	"github.com/rs/zerolog"

	"disgb/internal/area"
	"disgb/internal/message"
)

// Command is an instruction sent on the control channel of a communicator
type Command string

// CommandKill terminates the loop. Every other command is ignored by communicators.
const CommandKill Command = "KILL"

// Config describes one communicator instance
type Config struct {
	BrokerID string
	// Index distinguishes parallel instances of the same broker, starting at 1
	Index int
	Peers []area.BrokerInfo
}

// Communicator relays routing frames from local producers to peer brokers and hands
// everything peers send back to its DistributionLogic.
//
// Socket index 0 is the inbound PULL socket; index i >= 1 is the DEALER of Peers[i-1]. The
// loop serves one ready socket per iteration and owns every socket it polls.
type Communicator struct {
	identity string
	peers    []area.BrokerInfo
	logic    DistributionLogic
	opts     *Options
	logger   zerolog.Logger

	pull     *zmq4.Socket
	control  *zmq4.Socket
	dealers  []*peerChannel
	channels []Channel

	cmdMutex  sync.Mutex
	commander *zmq4.Socket

	processed atomic.Uint64
	started   atomic.Bool
	stopOnce  sync.Once
	stopErr   error
	done      chan struct{}
}

// New validates cfg and prepares a communicator. No socket is opened until Start.
func New(cfg Config, logic DistributionLogic, options ...Option) (*Communicator, error) {
	if cfg.BrokerID == "" {
		return nil, fmt.Errorf("broker id is required")
	}
	if cfg.Index < 1 {
		return nil, fmt.Errorf("communicator index must be >= 1, got %d", cfg.Index)
	}
	if logic == nil {
		return nil, fmt.Errorf("distribution logic is required")
	}

	seen := make(map[string]bool, len(cfg.Peers))
	for _, peer := range cfg.Peers {
		if err := peer.Validate(); err != nil {
			return nil, fmt.Errorf("invalid peer: %w", err)
		}
		if peer.BrokerID == cfg.BrokerID {
			return nil, fmt.Errorf("peer list contains the own broker %s", cfg.BrokerID)
		}
		if seen[peer.BrokerID] {
			return nil, fmt.Errorf("duplicate peer %s", peer.BrokerID)
		}
		seen[peer.BrokerID] = true
	}

	opts := newOptions(options...)
	identity := Identity(cfg.BrokerID, cfg.Index)

	return &Communicator{
		identity: identity,
		peers:    append([]area.BrokerInfo(nil), cfg.Peers...),
		logic:    logic,
		opts:     opts,
		logger:   opts.Logger.With().Str("communicator", identity).Logger(),
		done:     make(chan struct{}),
	}, nil
}

// Identity returns the socket identity, <brokerId>-communicator-<n>
func (c *Communicator) Identity() string {
	return c.identity
}

// Endpoint returns the inproc address producers push routing frames to
func (c *Communicator) Endpoint() string {
	return Endpoint(c.identity)
}

// Peers returns the known peers in socket order
func (c *Communicator) Peers() []area.BrokerInfo {
	return append([]area.BrokerInfo(nil), c.peers...)
}

// ProcessedMessages counts every dispatched item, dropped ones included
func (c *Communicator) ProcessedMessages() uint64 {
	return c.processed.Load()
}

// Done is closed once the loop has closed its sockets
func (c *Communicator) Done() <-chan struct{} {
	return c.done
}

// Start opens the sockets and runs the loop in its own goroutine
func (c *Communicator) Start() error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("communicator %s already started", c.identity)
	}

	c.logger.Info().
		Int("peers", len(c.peers)).
		Str("endpoint", c.Endpoint()).
		Msg("Starting communicator")

	if err := c.open(); err != nil {
		c.closeSockets()
		c.closeCommander()
		close(c.done)
		return err
	}

	go c.loop()
	return nil
}

func (c *Communicator) open() error {
	var err error

	if c.control, err = zmq4.NewSocket(zmq4.PULL); err != nil {
		return fmt.Errorf("failed to create control socket: %w", err)
	}
	if err = c.control.Bind(controlEndpoint(c.identity)); err != nil {
		return fmt.Errorf("failed to bind control socket: %w", err)
	}

	commander, err := zmq4.NewSocket(zmq4.PUSH)
	if err != nil {
		return fmt.Errorf("failed to create command socket: %w", err)
	}
	c.cmdMutex.Lock()
	c.commander = commander
	c.cmdMutex.Unlock()
	if err = commander.SetLinger(0); err != nil {
		return fmt.Errorf("failed to set linger: %w", err)
	}
	if err = commander.Connect(controlEndpoint(c.identity)); err != nil {
		return fmt.Errorf("failed to connect command socket: %w", err)
	}

	if c.pull, err = zmq4.NewSocket(zmq4.PULL); err != nil {
		return fmt.Errorf("failed to create PULL socket: %w", err)
	}
	if err = c.pull.SetLinger(0); err != nil {
		return fmt.Errorf("failed to set linger: %w", err)
	}
	if err = c.pull.Bind(c.Endpoint()); err != nil {
		return fmt.Errorf("failed to bind %s: %w", c.Endpoint(), err)
	}

	c.dealers = make([]*peerChannel, 0, len(c.peers))
	c.channels = make([]Channel, 0, len(c.peers))
	for _, peer := range c.peers {
		ch, err := newPeerChannel(c.identity, peer, c.opts.SendHighWater)
		if err != nil {
			return fmt.Errorf("failed to open channel to %s: %w", peer, err)
		}
		c.dealers = append(c.dealers, ch)
		c.channels = append(c.channels, ch)

		c.logger.Debug().
			Str("peer", peer.BrokerID).
			Str("address", peer.Address()).
			Msg("Connected peer channel")
	}

	return nil
}

// SendCommand writes a command to the control channel. Safe for concurrent use.
func (c *Communicator) SendCommand(cmd Command) error {
	c.cmdMutex.Lock()
	defer c.cmdMutex.Unlock()

	if c.commander == nil {
		return fmt.Errorf("communicator %s is not running", c.identity)
	}
	if _, err := c.commander.Send(string(cmd), 0); err != nil {
		return fmt.Errorf("failed to send %s command: %w", cmd, err)
	}
	return nil
}

// Stop sends the terminate command and waits for the loop to close its sockets. A message
// being processed is finished first.
func (c *Communicator) Stop() error {
	if !c.started.Load() {
		return nil
	}

	c.stopOnce.Do(func() {
		select {
		case <-c.done:
		default:
			if err := c.SendCommand(CommandKill); err != nil {
				c.stopErr = err
				return
			}
			<-c.done
		}
		c.closeCommander()
	})
	return c.stopErr
}

func (c *Communicator) loop() {
	defer close(c.done)

	sockets := make([]*zmq4.Socket, 0, len(c.dealers)+1)
	sockets = append(sockets, c.pull)
	for _, d := range c.dealers {
		sockets = append(sockets, d.socket)
	}

	poller := zmq4.NewPoller()
	poller.Add(c.control, zmq4.POLLIN)
	for _, s := range sockets {
		poller.Add(s, zmq4.POLLIN)
	}

	c.logger.Info().Msg("Communicator loop started")

	ready := make([]bool, len(sockets))
	next := 0
	for {
		polled, err := poller.PollAll(-1)
		if err != nil {
			if zmq4.AsErrno(err) == zmq4.ETERM {
				c.logger.Error().Err(err).Msg("ZMQ context terminated")
				c.shutdown()
				return
			}
			c.logger.Error().Err(err).Msg("Poll failed")
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if polled[0].Events&zmq4.POLLIN != 0 {
			if c.handleControl() {
				c.shutdown()
				return
			}
			continue
		}

		for i := range sockets {
			ready[i] = polled[i+1].Events&zmq4.POLLIN != 0
		}
		index, ok := nextReady(ready, next)
		if !ok {
			continue
		}
		next = index + 1

		frames, err := sockets[index].RecvMessageBytes(zmq4.DONTWAIT)
		if err != nil {
			c.logger.Error().
				Err(err).
				Int("socket_index", index).
				Msg("Failed to receive message")
			continue
		}

		c.processMessage(index, frames)
	}
}

// nextReady picks the first ready socket at or after start, wrapping around, so a busy
// socket cannot starve the others.
func nextReady(ready []bool, start int) (int, bool) {
	n := len(ready)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if ready[idx] {
			return idx, true
		}
	}
	return 0, false
}

// handleControl reports whether the loop must terminate
func (c *Communicator) handleControl() bool {
	msg, err := c.control.Recv(zmq4.DONTWAIT)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to receive control command")
		return false
	}

	if Command(msg) == CommandKill {
		c.logger.Info().Msg("Received terminate command")
		return true
	}

	c.logger.Debug().Str("command", msg).Msg("Ignoring control command")
	return false
}

// processMessage dispatches one message read from the socket at index
func (c *Communicator) processMessage(index int, frames [][]byte) {
	c.processed.Add(1)

	if index == 0 {
		c.route(frames)
		return
	}

	if index > len(c.channels) {
		c.logger.Error().
			Int("socket_index", index).
			Msg("Message from unknown socket")
		c.count("unknown_socket")
		return
	}

	c.logic.ProcessAcknowledgement(frames, c.channels[index-1])
	c.count("acknowledgement")
}

func (c *Communicator) route(frames [][]byte) {
	target, envelope, err := message.SplitRoutingFrames(frames)
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("error_kind", "framing").
			Int("socket_index", 0).
			Int("frames", len(frames)).
			Msg("Dropping malformed routing frames")
		c.count("framing_error")
		return
	}

	ch, ok := c.resolve(target)
	if !ok {
		c.logger.Error().
			Err(&RoutingError{TargetBrokerID: target}).
			Str("error_kind", "routing").
			Str("target_broker", target).
			Msg("Dropping message for unknown broker")
		c.count("routing_error")
		return
	}

	if err := c.logic.Send(envelope, ch); err != nil {
		c.logger.Warn().
			Err(err).
			Str("error_kind", "transport").
			Str("target_broker", target).
			Msg("Failed to send to peer")
		c.count("transport_error")
		return
	}

	c.count("routed")
}

// resolve does a linear scan over the peers; federations are small. Use a map if that
// stops being true.
func (c *Communicator) resolve(brokerID string) (Channel, bool) {
	for _, ch := range c.channels {
		if ch.BrokerID() == brokerID {
			return ch, true
		}
	}
	return nil, false
}

func (c *Communicator) count(outcome string) {
	c.opts.Metrics.CommunicatorMessages.WithLabelValues(c.identity, outcome).Inc()
}

// shutdown closes every socket owned by the loop
func (c *Communicator) shutdown() {
	c.closeSockets()
	c.logger.Info().
		Uint64("processed", c.processed.Load()).
		Msg("Communicator shutdown completed")
}

func (c *Communicator) closeSockets() {
	if c.pull != nil {
		if err := c.pull.Close(); err != nil {
			c.logger.Error().Err(err).Msg("Error closing PULL socket")
		}
		c.pull = nil
	}
	for _, d := range c.dealers {
		if err := d.close(); err != nil {
			c.logger.Error().Err(err).Str("peer", d.BrokerID()).Msg("Error closing peer channel")
		}
	}
	c.dealers = nil
	if c.control != nil {
		if err := c.control.Close(); err != nil {
			c.logger.Error().Err(err).Msg("Error closing control socket")
		}
		c.control = nil
	}
}

func (c *Communicator) closeCommander() {
	c.cmdMutex.Lock()
	defer c.cmdMutex.Unlock()

	if c.commander != nil {
		c.commander.Close()
		c.commander = nil
	}
}
