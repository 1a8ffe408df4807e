package model

import (
	"strings"
	"time"
)

// Kind is the content kind of a message.
type Kind string

const (
	KindText  Kind = "text"
	KindFile  Kind = "file"
	KindVoice Kind = "voice"
	KindPhoto Kind = "photo"
)

type MessageStatus string

const (
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// Rank orders statuses along the delivery lifecycle. Unknown statuses rank 0.
func (s MessageStatus) Rank() int {
	switch s {
	case MessageStatusSending:
		return 1
	case MessageStatusSent:
		return 2
	case MessageStatusDelivered:
		return 3
	case MessageStatusRead:
		return 4
	}
	return 0
}

// Valid reports whether s is one of the known statuses.
func (s MessageStatus) Valid() bool { return s.Rank() > 0 }

// AtLeastSent lifts empty, unknown and "sending" statuses to "sent". A message
// the server has assigned an id to is never "sending" locally.
func (s MessageStatus) AtLeastSent() MessageStatus {
	if s.Rank() < MessageStatusSent.Rank() {
		return MessageStatusSent
	}
	return s
}

type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// TempIDPrefix marks ids generated locally for messages the server has not confirmed yet.
const TempIDPrefix = "temp-"

// IsTempID reports whether id was generated locally.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Message is one entry of a conversation list.
// A message with Status=sending is always outgoing and has a temp- id.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"chat_id"`
	SenderID       string        `json:"sender_id"`
	Text           string        `json:"text"`
	Kind           Kind          `json:"type"`
	Status         MessageStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	Direction      Direction     `json:"direction"`
	Sender         *User         `json:"sender,omitempty"`
}

// IsPending reports whether m is a locally created entry awaiting confirmation.
func (m *Message) IsPending() bool {
	return IsTempID(m.ID)
}

// StatusUpdate is the payload of message_status_update.
type StatusUpdate struct {
	MessageID ID            `json:"message_id"`
	Status    MessageStatus `json:"status"`
}

// ChatRead is the payload of chat_read.
type ChatRead struct {
	ChatID ID `json:"chat_id"`
	UserID ID `json:"user_id"`
}
