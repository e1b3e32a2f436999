package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when an operation is attempted on a closed session
	ErrClosed = errors.New("session closed")
	// ErrNotConnected is returned when a subscription change or a run is attempted
	// before Connect succeeded
	ErrNotConnected = errors.New("not connected")
	// ErrSessionReused is returned when Connect is called on a session that has
	// already left the disconnected state. Sessions are never reused.
	ErrSessionReused = errors.New("session already used, create a new one")
	// ErrEmptyTickerID is returned when a subscription change names no ticker
	ErrEmptyTickerID = errors.New("empty ticker id")
	// ErrNoDeviceID is returned by Connect when it got no device id and no
	// device store is configured
	ErrNoDeviceID = errors.New("no device id given and no device store configured")
)

// ConnectionError is returned when the gateway rejected the connection
// with a non-success acknowledgement code.
type ConnectionError struct {
	Purpose Purpose
	Code    int
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s session rejected by gateway, code %d: %v", e.Purpose, e.Code, e.Err)
	}
	return fmt.Sprintf("%s session rejected by gateway, code %d", e.Purpose, e.Code)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TransportError is returned when sending or receiving fails because the
// session is not open or the underlying transport failed.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError is returned when a frame is malformed or misses a field
// its message class requires. The frame is dropped.
type DecodeError struct {
	Class  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "decode"
	if e.Class != "" {
		msg += " " + e.Class
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// FatalStreamError signals that the price handler failed. The stream keeps
// running; the caller decides whether to stop it.
type FatalStreamError struct {
	Purpose Purpose
	Topic   string
	Err     error
}

func (e *FatalStreamError) Error() string {
	return fmt.Sprintf("fatal %s stream error on topic %s: %v", e.Purpose, e.Topic, e.Err)
}

func (e *FatalStreamError) Unwrap() error {
	return e.Err
}

func decodeErr(class, reason string, err error) *DecodeError {
	return &DecodeError{Class: class, Reason: reason, Err: err}
}
