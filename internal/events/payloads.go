package events

import "github.com/chatclient/internal/model"

// ErrorPayload accompanies connect_error.
type ErrorPayload struct {
	Err error
}

// DisconnectPayload accompanies disconnect.
type DisconnectPayload struct {
	Code   int
	Reason string
}

// ReconnectingPayload accompanies reconnecting (first attempt only).
type ReconnectingPayload struct {
	Attempt     int
	MaxAttempts int
}

// ReconnectErrorPayload accompanies reconnect_error (attempts after the first).
type ReconnectErrorPayload struct {
	Attempt int
	Err     error
}

// ReconnectFailedPayload accompanies reconnect_failed.
type ReconnectFailedPayload struct {
	Attempts int
}

// StatePayload accompanies state_change.
type StatePayload struct {
	From model.ConnectionState
	To   model.ConnectionState
}
