package client

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned by Send while another exchange is awaiting
	// its terminator line.
	ErrNotReady = errors.New("an exchange is already in flight")

	ErrTimeout        = errors.New("timed out waiting for the terminator line")
	ErrCancelled      = errors.New("exchange cancelled")
	ErrClosed         = errors.New("connection is closed")
	ErrIngressRunning = errors.New("ingress loop is already running")
	ErrLineOverflow   = errors.New("line exceeds the ingress buffer")
)

// FramingError fails the exchange in flight when the byte stream cannot be
// split into valid lines. The ingress loop keeps running.
type FramingError struct {
	// Size is the number of bytes seen before giving up on the line
	Size  int
	Limit int
	Err   error
}

func (e *FramingError) Error() string {
	if e.Limit > 0 {
		return fmt.Sprintf("framing: %v (%d bytes, limit %d)", e.Err, e.Size, e.Limit)
	}
	return fmt.Sprintf("framing: %v", e.Err)
}

func (e *FramingError) Unwrap() error {
	return e.Err
}

// TransportError is an I/O failure of the underlying byte stream. It is
// fatal to the connection: every later Send fails with it.
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

// IsTransportError returns true if err is or wraps a TransportError.
func IsTransportError(err error) bool {
	var terr *TransportError
	return errors.As(err, &terr)
}

// IsFramingError returns true if err is or wraps a FramingError.
func IsFramingError(err error) bool {
	var ferr *FramingError
	return errors.As(err, &ferr)
}
