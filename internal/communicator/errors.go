package communicator

import (
	"errors"
	"fmt"
)

// ErrWouldBlock is returned by Channel.Send when the transport cannot take the message
// without blocking. The caller decides whether to retry.
var ErrWouldBlock = errors.New("send would block")

// RoutingError reports a routing frame addressed to a broker that is not a known peer
type RoutingError struct {
	TargetBrokerID string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("no known peer for target broker %q", e.TargetBrokerID)
}

// TransportError wraps a connection-level failure while sending to a peer
type TransportError struct {
	BrokerID string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport to broker %s: %v", e.BrokerID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
