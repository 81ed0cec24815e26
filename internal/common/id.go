package common

import (
	"github.com/google/uuid"
)

// NewMessageID generates a unique conversation message ID
// Format: msg_<uuid>
func NewMessageID() string {
	return "msg_" + uuid.New().String()
}

// NewRunID generates a unique indexing run ID
// Format: run_<uuid>
func NewRunID() string {
	return "run_" + uuid.New().String()
}
