package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/chantier/internal/models"
)

// Indexer builds VectorStore content from business entities
type Indexer interface {
	// IndexAll reindexes every entity type. Concurrent calls share one run.
	IndexAll(ctx context.Context) (*models.IndexReport, error)

	// IndexScoped reindexes a single entity type
	IndexScoped(ctx context.Context, entityType models.EntityType) (*models.IndexReport, error)

	// LastReport returns the most recent completed report, nil before the first run
	LastReport() *models.IndexReport

	// IsRunning reports whether a full run is in flight
	IsRunning() bool
}

// QueryEngine answers questions grounded in the vector store
type QueryEngine interface {
	Answer(ctx context.Context, query *models.RAGQuery) (*models.RAGResponse, error)
}

// ConversationService is the per-user bounded, expiring message log
type ConversationService interface {
	Load(ctx context.Context, userID string) ([]models.Message, error)
	Append(ctx context.Context, userID string, message models.Message) (*models.Message, error)
	Clear(ctx context.Context, userID string) error
	Stats(ctx context.Context) (*models.ConversationStats, error)
	PurgeExpired(ctx context.Context, ttl time.Duration) (int, error)
}
