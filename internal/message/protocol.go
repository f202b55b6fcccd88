package message

// PacketType is the discriminator carried in the first frame of every envelope
type PacketType int

const (
	CONNECT PacketType = iota + 1
	CONNACK
	DISCONNECT
	PINGREQ
	PINGRESP
	SUBSCRIBE
	SUBACK
	UNSUBSCRIBE
	UNSUBACK
	PUBLISH
	PUBACK
	BrokerForwardDisconnect
	BrokerForwardPingreq
	BrokerForwardSubscribe
	BrokerForwardUnsubscribe
	BrokerForwardPublish
)

var packetTypeNames = map[PacketType]string{
	CONNECT:                  "CONNECT",
	CONNACK:                  "CONNACK",
	DISCONNECT:               "DISCONNECT",
	PINGREQ:                  "PINGREQ",
	PINGRESP:                 "PINGRESP",
	SUBSCRIBE:                "SUBSCRIBE",
	SUBACK:                   "SUBACK",
	UNSUBSCRIBE:              "UNSUBSCRIBE",
	UNSUBACK:                 "UNSUBACK",
	PUBLISH:                  "PUBLISH",
	PUBACK:                   "PUBACK",
	BrokerForwardDisconnect:  "BrokerForwardDisconnect",
	BrokerForwardPingreq:     "BrokerForwardPingreq",
	BrokerForwardSubscribe:   "BrokerForwardSubscribe",
	BrokerForwardUnsubscribe: "BrokerForwardUnsubscribe",
	BrokerForwardPublish:     "BrokerForwardPublish",
}

var packetTypesByName = func() map[string]PacketType {
	byName := make(map[string]PacketType, len(packetTypeNames))
	for t, name := range packetTypeNames {
		byName[name] = t
	}
	return byName
}()

// PacketTypes returns every registered packet type in declaration order
func PacketTypes() []PacketType {
	types := make([]PacketType, 0, len(packetTypeNames))
	for t := CONNECT; t <= BrokerForwardPublish; t++ {
		types = append(types, t)
	}
	return types
}

// ParsePacketType resolves a discriminator name. Names are case sensitive.
func ParsePacketType(name string) (PacketType, bool) {
	t, ok := packetTypesByName[name]
	return t, ok
}

func (t PacketType) String() string {
	if name, ok := packetTypeNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsBrokerForward reports whether the type is only exchanged between brokers
func (t PacketType) IsBrokerForward() bool {
	return t >= BrokerForwardDisconnect && t <= BrokerForwardPublish
}

// ReasonCode is the outcome carried by acknowledgement payloads
type ReasonCode string

const (
	Success                           ReasonCode = "Success"
	NormalDisconnection               ReasonCode = "NormalDisconnection"
	GrantedQoS0                       ReasonCode = "GrantedQoS0"
	NoMatchingSubscribers             ReasonCode = "NoMatchingSubscribers"
	NoMatchingSubscribersButForwarded ReasonCode = "NoMatchingSubscribersButForwarded"
	NoSubscriptionExisted             ReasonCode = "NoSubscriptionExisted"
	UnspecifiedError                  ReasonCode = "UnspecifiedError"
	MalformedPacket                   ReasonCode = "MalformedPacket"
	ProtocolError                     ReasonCode = "ProtocolError"
	NotAuthorized                     ReasonCode = "NotAuthorized"
	ServerBusy                        ReasonCode = "ServerBusy"
	ServerShuttingDown                ReasonCode = "ServerShuttingDown"
	KeepAliveTimeout                  ReasonCode = "KeepAliveTimeout"
	SessionTakenOver                  ReasonCode = "SessionTakenOver"
	TopicFilterInvalid                ReasonCode = "TopicFilterInvalid"
	TopicNameInvalid                  ReasonCode = "TopicNameInvalid"
	PayloadFormatInvalid              ReasonCode = "PayloadFormatInvalid"
	WrongBroker                       ReasonCode = "WrongBroker"
	LocationUpdated                   ReasonCode = "LocationUpdated"
	NotConnectedOrNoLocation          ReasonCode = "NotConnectedOrNoLocation"
)

var reasonCodes = map[ReasonCode]struct{}{
	Success: {}, NormalDisconnection: {}, GrantedQoS0: {}, NoMatchingSubscribers: {},
	NoMatchingSubscribersButForwarded: {}, NoSubscriptionExisted: {}, UnspecifiedError: {},
	MalformedPacket: {}, ProtocolError: {}, NotAuthorized: {}, ServerBusy: {},
	ServerShuttingDown: {}, KeepAliveTimeout: {}, SessionTakenOver: {}, TopicFilterInvalid: {},
	TopicNameInvalid: {}, PayloadFormatInvalid: {}, WrongBroker: {}, LocationUpdated: {},
	NotConnectedOrNoLocation: {},
}

// Valid reports whether the code is part of the protocol
func (r ReasonCode) Valid() bool {
	_, ok := reasonCodes[r]
	return ok
}
