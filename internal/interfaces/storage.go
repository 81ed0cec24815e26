package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/chantier/internal/models"
)

// ChunkStorage persists document chunks
type ChunkStorage interface {
	// LoadAll returns every persisted chunk and the recorded dimension.
	// Decode failures surface as ErrStoreCorruption.
	LoadAll(ctx context.Context) ([]*models.DocumentChunk, int, error)

	// Save inserts or replaces a single chunk
	Save(ctx context.Context, chunk *models.DocumentChunk, dimension int) error

	// ReplaceType deletes removedIDs and upserts chunks in one transaction
	ReplaceType(ctx context.Context, removedIDs []string, chunks []*models.DocumentChunk, dimension int) error

	// Delete removes chunks by id
	Delete(ctx context.Context, ids []string) error

	// DeleteAll removes every chunk and the recorded dimension
	DeleteAll(ctx context.Context) error
}

// ConversationStorage persists per-user conversations
type ConversationStorage interface {
	Get(ctx context.Context, userID string) (*models.Conversation, error) // ErrNotFound when absent
	Save(ctx context.Context, conversation *models.Conversation) error
	Delete(ctx context.Context, userID string) error
	ListInactiveSince(ctx context.Context, cutoff time.Time) ([]string, error)
	Stats(ctx context.Context, activeSince time.Time) (*models.ConversationStats, error)
}

// StorageManager owns the database connection and the typed storages on top of it
type StorageManager interface {
	ChunkStorage() ChunkStorage
	ConversationStorage() ConversationStorage
	Close() error
}
