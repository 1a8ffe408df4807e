package model

import "time"

type ChatType string

const (
	ChatTypePrivate ChatType = "private"
	ChatTypeGroup   ChatType = "group"
	ChatTypeChannel ChatType = "channel"
)

type Chat struct {
	ID          ID        `json:"id"`
	Type        ChatType  `json:"type"`
	Title       string    `json:"title"`
	Username    string    `json:"username,omitempty"`
	Description string    `json:"description,omitempty"`
	Members     []User    `json:"members,omitempty"`
	UnreadCount int       `json:"unread_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
