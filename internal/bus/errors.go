package bus

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus closed")

// ErrNotSubscribed is returned when polling a topic that was never subscribed.
var ErrNotSubscribed = errors.New("topic not subscribed")

// TransportError wraps a connection, publish, subscribe or poll failure.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("transport %s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err carries a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// DecodeError reports a frame that does not match the message schema.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode message: %s: %v", e.Reason, e.Err)
	}
	return "decode message: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
