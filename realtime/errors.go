package realtime

import (
	"fmt"
)

// ConnectionError means the websocket could not be established or the
// handshake could not be delivered. No session exists.
type ConnectionError struct {
	URL string
	// StatusCode is the HTTP status of a rejected upgrade, or 0.
	StatusCode int
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf(
			"failed to connect to %s (status %d): %v",
			e.URL,
			e.StatusCode,
			e.Err,
		)
	}
	return fmt.Sprintf("failed to connect to %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransportError is a read or write failure on an established session.
// The session is closed once one has been observed.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError is an inbound text frame that is not a known server message.
// The stream keeps going after one.
type ParseError struct {
	Payload []byte
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse server message %q: %v", truncate(e.Payload, 120), e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SerializationError means an outbound message could not be encoded.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("failed to encode message: %v", e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// StateError is an operation attempted in a state that does not allow it,
// such as sending audio after Stop.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s in state %s", e.Op, e.State)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
