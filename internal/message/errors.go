package message

import (
	"errors"
	"fmt"
)

var (
	ErrFrameCount        = errors.New("wrong number of frames")
	ErrUnknownPacketType = errors.New("unknown packet type")
	ErrSchemaMismatch    = errors.New("payload does not match packet type")
	ErrMissingTarget     = errors.New("missing target broker id")
)

// DecodeError is returned when frames cannot be turned into an Envelope. Callers log and drop.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode: %s: %v", e.Reason, e.Err)
	}
	return "decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// FramingError is returned for routing frames with a wrong frame count or an empty target id
type FramingError struct {
	Frames int
	Err    error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing: %v (got %d frames)", e.Err, e.Frames)
}

func (e *FramingError) Unwrap() error {
	return e.Err
}
