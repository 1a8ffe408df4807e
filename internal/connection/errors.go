package connection

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by Send and the frame helpers while no channel is open.
// Frames are never queued for later delivery.
var ErrNotConnected = errors.New("connection: not connected")

// ConnectionError reports a failed channel open.
type ConnectionError struct {
	URL     string
	Attempt int
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Attempt > 0 {
		return fmt.Sprintf("connection: open %s (attempt %d): %v", e.URL, e.Attempt, e.Err)
	}
	return fmt.Sprintf("connection: open %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

const maxFrameInError = 256

// ProtocolError reports an inbound frame that could not be parsed.
type ProtocolError struct {
	Frame string
	Err   error
}

func newProtocolError(raw []byte, err error) *ProtocolError {
	s := string(raw)
	if len(s) > maxFrameInError {
		s = s[:maxFrameInError] + "..."
	}
	return &ProtocolError{Frame: s, Err: err}
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("connection: malformed frame %q: %v", e.Frame, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
