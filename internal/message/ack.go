package message

import "fmt"

// Acknowledgement is a payload that carries only an outcome
type Acknowledgement interface {
	Payload
	Reason() ReasonCode
}

func (p ConnackPayload) Reason() ReasonCode  { return p.ReasonCode }
func (p PingrespPayload) Reason() ReasonCode { return p.ReasonCode }
func (p SubackPayload) Reason() ReasonCode   { return p.ReasonCode }
func (p UnsubackPayload) Reason() ReasonCode { return p.ReasonCode }
func (p PubackPayload) Reason() ReasonCode   { return p.ReasonCode }

var acknowledgedBy = map[PacketType]PacketType{
	CONNECT:              CONNACK,
	PINGREQ:              PINGRESP,
	SUBSCRIBE:            SUBACK,
	UNSUBSCRIBE:          UNSUBACK,
	PUBLISH:              PUBACK,
	BrokerForwardPublish: PUBACK,
}

// AcknowledgementFor returns the packet type that answers t. Acknowledgements, disconnects
// and forwarded pings, subscribes and unsubscribes are not answered.
func AcknowledgementFor(t PacketType) (PacketType, bool) {
	ack, ok := acknowledgedBy[t]
	return ack, ok
}

// IsAcknowledgement reports whether t only carries a reason code
func (t PacketType) IsAcknowledgement() bool {
	switch t {
	case CONNACK, PINGRESP, SUBACK, UNSUBACK, PUBACK:
		return true
	}
	return false
}

// NewAcknowledgement builds the acknowledgement payload of type t
func NewAcknowledgement(t PacketType, reason ReasonCode) (Acknowledgement, error) {
	switch t {
	case CONNACK:
		return ConnackPayload{ReasonCode: reason}, nil
	case PINGRESP:
		return PingrespPayload{ReasonCode: reason}, nil
	case SUBACK:
		return SubackPayload{ReasonCode: reason}, nil
	case UNSUBACK:
		return UnsubackPayload{ReasonCode: reason}, nil
	case PUBACK:
		return PubackPayload{ReasonCode: reason}, nil
	}
	return nil, fmt.Errorf("%s is not an acknowledgement", t)
}
