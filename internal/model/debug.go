package model

import (
	"encoding/json"
	"time"
)

// DebugEvent is one line of the client's debug log (connection lifecycle,
// server debug_event frames).
type DebugEvent struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Data        json.RawMessage `json:"data,omitempty"`
}
