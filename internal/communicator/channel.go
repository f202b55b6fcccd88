package communicator

import (
	"fmt"
	"syscall"

	"github.com/pebbe/zmq4"

	"disgb/internal/area"
)

// Channel is an outbound connection to one peer broker
type Channel interface {
	BrokerID() string
	Send(frames [][]byte) error
}

// DistributionLogic decides how envelopes reach peers. Both methods run on the
// communicator loop, so they must return quickly.
type DistributionLogic interface {
	// Send transmits a 2-frame envelope on ch, including any retry policy
	Send(envelope [][]byte, ch Channel) error
	// ProcessAcknowledgement receives frames read from a peer channel, unmodified
	ProcessAcknowledgement(frames [][]byte, from Channel)
}

// LogicFactory builds the DistributionLogic of one communicator instance
type LogicFactory func(identity string) DistributionLogic

// Identity returns the socket identity of the n-th communicator of a broker
func Identity(brokerID string, n int) string {
	return fmt.Sprintf("%s-communicator-%d", brokerID, n)
}

// Endpoint returns the inproc address the communicator with the given identity binds
func Endpoint(identity string) string {
	return "inproc://" + identity
}

func controlEndpoint(identity string) string {
	return "inproc://" + identity + "-control"
}

// peerChannel is a DEALER socket connected to a peer's advertised address
type peerChannel struct {
	peer   area.BrokerInfo
	socket *zmq4.Socket
}

func newPeerChannel(identity string, peer area.BrokerInfo, hwm int) (*peerChannel, error) {
	socket, err := zmq4.NewSocket(zmq4.DEALER)
	if err != nil {
		return nil, fmt.Errorf("failed to create DEALER socket: %w", err)
	}

	if err = socket.SetIdentity(identity); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set socket identity: %w", err)
	}
	if err = socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set linger: %w", err)
	}
	if err = socket.SetSndhwm(hwm); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set send high watermark: %w", err)
	}
	if err = socket.Connect(peer.Address()); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", peer.Address(), err)
	}

	return &peerChannel{peer: peer, socket: socket}, nil
}

func (c *peerChannel) BrokerID() string {
	return c.peer.BrokerID
}

// Send never blocks. A full queue is reported as ErrWouldBlock.
func (c *peerChannel) Send(frames [][]byte) error {
	if _, err := c.socket.SendMessageDontwait(frames); err != nil {
		if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
			return ErrWouldBlock
		}
		return &TransportError{BrokerID: c.peer.BrokerID, Err: err}
	}
	return nil
}

func (c *peerChannel) close() error {
	return c.socket.Close()
}
