package storage

import (
	"time"

	"github.com/chatclient/internal/model"
)

// ChangeKind names a Store mutation.
type ChangeKind string

const (
	ChangeMessageAdded    ChangeKind = "message_added"
	ChangeMessageReplaced ChangeKind = "message_replaced"
	ChangeMessageUpdated  ChangeKind = "message_updated"
	ChangeMessageRemoved  ChangeKind = "message_removed"
	ChangeMessagesSeeded  ChangeKind = "messages_seeded"
	ChangeState           ChangeKind = "state"
	ChangeChat            ChangeKind = "chat"
	ChangeUser            ChangeKind = "user"
	ChangeDebug           ChangeKind = "debug"
)

// Change describes one mutation of the conversation store. Only the fields
// relevant to Kind are set.
type Change struct {
	Kind           ChangeKind            `json:"kind"`
	At             time.Time             `json:"at"`
	ConversationID string                `json:"chat_id,omitempty"`
	Index          int                   `json:"index,omitempty"`
	Message        *model.Message        `json:"message,omitempty"`
	Count          int                   `json:"count,omitempty"`
	State          model.ConnectionState `json:"state,omitempty"`
	Reconnecting   bool                  `json:"reconnecting,omitempty"`
	Chat           *model.Chat           `json:"chat,omitempty"`
	User           *model.User           `json:"user,omitempty"`
	Debug          *model.DebugEvent     `json:"debug,omitempty"`
}

// ChangeSink receives store changes. Publish is called from the event loop
// and must not block.
// Реализации: redis.Mirror.
type ChangeSink interface {
	Publish(c Change)
}
