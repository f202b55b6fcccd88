package message

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

const (
	// EnvelopeFrames is the frame count of the peer-to-peer wire form
	EnvelopeFrames = 2
	// RoutingFrames is the frame count of the local hand-off form
	RoutingFrames = 3
)

// Envelope is a packet type paired with its payload
type Envelope struct {
	Type    PacketType
	Payload Payload
}

// NewEnvelope wraps a payload with its own packet type
func NewEnvelope(p Payload) Envelope {
	return Envelope{Type: p.PacketType(), Payload: p}
}

func (e Envelope) String() string {
	return fmt.Sprintf("Envelope{type=%s, payload=%+v}", e.Type, e.Payload)
}

// Frames encodes the envelope into its two wire frames
func (e Envelope) Frames() ([][]byte, error) {
	return Encode(e.Type, e.Payload)
}

type payloadDecoder func(data []byte) (Payload, error)

func decodeAs[T Payload](data []byte) (Payload, error) {
	var p T
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	// the frame must hold exactly one JSON value
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after payload")
	}
	return p, nil
}

var payloadDecoders = map[PacketType]payloadDecoder{
	CONNECT:                  decodeAs[ConnectPayload],
	CONNACK:                  decodeAs[ConnackPayload],
	DISCONNECT:               decodeAs[DisconnectPayload],
	PINGREQ:                  decodeAs[PingreqPayload],
	PINGRESP:                 decodeAs[PingrespPayload],
	SUBSCRIBE:                decodeAs[SubscribePayload],
	SUBACK:                   decodeAs[SubackPayload],
	UNSUBSCRIBE:              decodeAs[UnsubscribePayload],
	UNSUBACK:                 decodeAs[UnsubackPayload],
	PUBLISH:                  decodeAs[PublishPayload],
	PUBACK:                   decodeAs[PubackPayload],
	BrokerForwardDisconnect:  decodeAs[BrokerForwardDisconnectPayload],
	BrokerForwardPingreq:     decodeAs[BrokerForwardPingreqPayload],
	BrokerForwardSubscribe:   decodeAs[BrokerForwardSubscribePayload],
	BrokerForwardUnsubscribe: decodeAs[BrokerForwardUnsubscribePayload],
	BrokerForwardPublish:     decodeAs[BrokerForwardPublishPayload],
}

// Encode turns a packet type and its payload into the two wire frames: the packet type name
// followed by the JSON payload.
func Encode(t PacketType, p Payload) ([][]byte, error) {
	if _, ok := packetTypeNames[t]; !ok {
		return nil, fmt.Errorf("encode: %w: %d", ErrUnknownPacketType, int(t))
	}
	if p == nil {
		return nil, fmt.Errorf("encode %s: payload is nil", t)
	}
	if p.PacketType() != t {
		return nil, fmt.Errorf("encode %s: %w: got %s payload", t, ErrSchemaMismatch, p.PacketType())
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("encode %s: invalid payload: %w", t, err)
	}

	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s: failed to marshal payload: %w", t, err)
	}
	return [][]byte{[]byte(t.String()), body}, nil
}

// Decode parses the two wire frames into an Envelope. It never panics; every failure is a
// *DecodeError.
func Decode(frames [][]byte) (Envelope, error) {
	if len(frames) != EnvelopeFrames {
		return Envelope{}, &DecodeError{
			Reason: fmt.Sprintf("expected %d frames, got %d", EnvelopeFrames, len(frames)),
			Err:    ErrFrameCount,
		}
	}

	name := string(frames[0])
	t, ok := ParsePacketType(name)
	if !ok {
		return Envelope{}, &DecodeError{Reason: fmt.Sprintf("packet type %q", name), Err: ErrUnknownPacketType}
	}

	p, err := payloadDecoders[t](frames[1])
	if err != nil {
		return Envelope{}, &DecodeError{
			Reason: fmt.Sprintf("payload of %s", t),
			Err:    fmt.Errorf("%w: %v", ErrSchemaMismatch, err),
		}
	}
	if err := p.Validate(); err != nil {
		return Envelope{}, &DecodeError{
			Reason: fmt.Sprintf("payload of %s", t),
			Err:    fmt.Errorf("%w: %v", ErrSchemaMismatch, err),
		}
	}

	return Envelope{Type: t, Payload: p}, nil
}

// ToRoutingFrames encodes env and prepends the target broker id frame. The result is only
// valid on the local hand-off path, never on the peer wire.
func ToRoutingFrames(targetBrokerID string, env Envelope) ([][]byte, error) {
	frames, err := env.Frames()
	if err != nil {
		return nil, err
	}
	return PrependTarget(targetBrokerID, frames)
}

// PrependTarget turns already encoded envelope frames into routing frames
func PrependTarget(targetBrokerID string, envelope [][]byte) ([][]byte, error) {
	if targetBrokerID == "" {
		return nil, &FramingError{Frames: len(envelope) + 1, Err: ErrMissingTarget}
	}
	if len(envelope) != EnvelopeFrames {
		return nil, &FramingError{Frames: len(envelope) + 1, Err: ErrFrameCount}
	}
	return [][]byte{[]byte(targetBrokerID), envelope[0], envelope[1]}, nil
}

// SplitRoutingFrames separates the target broker id from the envelope frames. The envelope
// frames are returned unmodified and not decoded.
func SplitRoutingFrames(frames [][]byte) (string, [][]byte, error) {
	if len(frames) != RoutingFrames {
		return "", nil, &FramingError{Frames: len(frames), Err: ErrFrameCount}
	}
	if len(frames[0]) == 0 {
		return "", nil, &FramingError{Frames: len(frames), Err: ErrMissingTarget}
	}
	return string(frames[0]), frames[1:], nil
}
