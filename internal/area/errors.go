package area

import (
	"errors"
	"fmt"
)

// ErrOwnAreaMissing marks a descriptor without an entry for the own broker. Load accepts such
// a descriptor; callers that cannot run without an own area wrap this error.
var ErrOwnAreaMissing = errors.New("own broker area is not set")

// ConfigError reports a descriptor entry that could not be turned into a BrokerArea.
// Index is -1 when the descriptor as a whole is unreadable.
type ConfigError struct {
	Index  int
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := e.Reason
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	if e.Index < 0 {
		return "area descriptor: " + msg
	}
	return fmt.Sprintf("area descriptor entry %d: %s", e.Index, msg)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
