package models

import (
	"time"
)

// MessageType identifies the author of a conversation message
type MessageType string

const (
	MessageTypeUser      MessageType = "user"
	MessageTypeAssistant MessageType = "assistant"
)

// IsValid reports whether the message type is one of the known values
func (t MessageType) IsValid() bool {
	return t == MessageTypeUser || t == MessageTypeAssistant
}

// Message is a single entry in a user's conversation
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// Conversation is a per-user ordered message log (oldest first)
type Conversation struct {
	UserID         string    `json:"user_id"`
	Messages       []Message `json:"messages"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// ConversationStats summarises the conversation store
type ConversationStats struct {
	Conversations int `json:"conversations"`
	Active        int `json:"active"`
	Messages      int `json:"messages"`
}
