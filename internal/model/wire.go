package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ID is an opaque identifier. The server encodes ids either as JSON strings
// or as JSON numbers; both decode to the same string form.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("model.ID: %w", err)
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("model.ID: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// WireMessage is the data of an inbound "message" frame.
type WireMessage struct {
	ID        ID            `json:"id"`
	ChatID    ID            `json:"chat_id"`
	From      *User         `json:"from,omitempty"`
	FromID    ID            `json:"from_id"`
	Text      string        `json:"text"`
	Type      Kind          `json:"type"`
	Status    MessageStatus `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	CreatedAt time.Time     `json:"created_at"`
}

// SenderID prefers from.id and falls back to from_id.
func (w *WireMessage) SenderID() string {
	if w.From != nil && w.From.ID != "" {
		return string(w.From.ID)
	}
	return string(w.FromID)
}

// DecodeWireMessage parses the data of an inbound "message" frame.
func DecodeWireMessage(data []byte) (*WireMessage, error) {
	var w WireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("model.DecodeWireMessage: %w", err)
	}
	if w.ID == "" || w.ChatID == "" {
		return nil, fmt.Errorf("model.DecodeWireMessage: id and chat_id required")
	}
	return &w, nil
}

// ToMessage converts a confirmed wire message to a list entry. Direction is
// left empty; reconciliation decides it.
func (w *WireMessage) ToMessage() Message {
	kind := w.Type
	if kind == "" {
		kind = KindText
	}
	created := w.Timestamp
	if created.IsZero() {
		created = w.CreatedAt
	}
	return Message{
		ID:             string(w.ID),
		ConversationID: string(w.ChatID),
		SenderID:       w.SenderID(),
		Text:           w.Text,
		Kind:           Kind(strings.ToLower(string(kind))),
		Status:         w.Status,
		CreatedAt:      created,
		Sender:         w.From,
	}
}
