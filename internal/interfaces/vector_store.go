package interfaces

import (
	"context"

	"github.com/ternarybob/chantier/internal/models"
)

// VectorStore is the queryable, durable collection of document chunks
type VectorStore interface {
	// Upsert inserts or replaces a chunk by id
	Upsert(ctx context.Context, chunk *models.DocumentChunk) error

	// ReplaceType atomically swaps the full chunk set of one entity type
	ReplaceType(ctx context.Context, entityType models.EntityType, chunks []*models.DocumentChunk) error

	// Remove deletes every chunk built from the entity
	Remove(ctx context.Context, entityID string) error

	// Clear deletes every chunk and resets the store dimension
	Clear(ctx context.Context) error

	// Query ranks chunks by cosine similarity, at most k results
	Query(ctx context.Context, embedding []float32, k int, filter *models.ChunkFilter) ([]models.ScoredChunk, error)

	// Get returns a copy of a chunk by id
	Get(ctx context.Context, id string) (*models.DocumentChunk, error)

	// Stats returns the chunk count per entity type
	Stats(ctx context.Context) map[models.EntityType]int

	// All returns copies of every chunk
	All(ctx context.Context) []*models.DocumentChunk

	// Count returns the total number of chunks
	Count() int

	// Dimension returns the shared embedding dimension, 0 when unset
	Dimension() int
}
