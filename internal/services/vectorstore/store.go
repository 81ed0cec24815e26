package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chantier/internal/interfaces"
	"github.com/ternarybob/chantier/internal/models"
)

// Service is an in-memory vector index persisted through ChunkStorage.
// Mutations are serialized by writeMu and persisted before they become visible;
// readers only contend on mu for the final swap.
type Service struct {
	storage interfaces.ChunkStorage
	logger  arbor.ILogger

	writeMu sync.Mutex
	mu      sync.RWMutex
	chunks  map[string]*models.DocumentChunk

	dimension           int
	configuredDimension int
}

// NewService loads every persisted chunk. A persisted index that cannot be
// read, or whose dimension disagrees with configuredDimension, is an error.
func NewService(ctx context.Context, storage interfaces.ChunkStorage, configuredDimension int, logger arbor.ILogger) (*Service, error) {
	s := &Service{
		storage:             storage,
		logger:              logger,
		chunks:              make(map[string]*models.DocumentChunk),
		dimension:           configuredDimension,
		configuredDimension: configuredDimension,
	}

	start := time.Now()
	chunks, dimension, err := storage.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	if len(chunks) > 0 {
		if configuredDimension > 0 && dimension != configuredDimension {
			return nil, interfaces.StoreCorruption("load vector store",
				fmt.Errorf("%w: persisted index has dimension %d but rag.embedding_dimension is %d; clear the index to change models",
					interfaces.ErrDimensionMismatch, dimension, configuredDimension))
		}
		s.dimension = dimension
	}

	for _, c := range chunks {
		if _, dup := s.chunks[c.ID]; dup {
			return nil, interfaces.StoreCorruption("load vector store", fmt.Errorf("duplicate chunk id %s", c.ID))
		}
		s.chunks[c.ID] = c
	}

	logger.Info().
		Int("chunks", len(s.chunks)).
		Int("dimension", s.dimension).
		Dur("duration", time.Since(start)).
		Msg("Vector store loaded")

	return s, nil
}

// Dimension returns the shared embedding dimension, 0 when unset
func (s *Service) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// Count returns the number of stored chunks
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// checkDimension returns the dimension the store will have after accepting
// embedding, or DimensionMismatch
func checkDimension(op string, current int, embedding []float32) (int, error) {
	if len(embedding) == 0 {
		return 0, interfaces.NewError(interfaces.KindInvalidInput, op, fmt.Errorf("%w: chunk has no embedding", interfaces.ErrInvalidInput))
	}
	if current == 0 {
		return len(embedding), nil
	}
	if len(embedding) != current {
		return 0, interfaces.DimensionMismatch(op, current, len(embedding))
	}
	return current, nil
}

func validateChunk(op string, chunk *models.DocumentChunk) error {
	if chunk == nil || chunk.ID == "" {
		return interfaces.NewError(interfaces.KindInvalidInput, op, fmt.Errorf("%w: chunk id is required", interfaces.ErrInvalidInput))
	}
	if chunk.Metadata.EntityType == "" {
		return interfaces.NewError(interfaces.KindInvalidInput, op, fmt.Errorf("%w: chunk %s has no entity type", interfaces.ErrInvalidInput, chunk.ID))
	}
	return nil
}

// Upsert inserts or replaces a chunk by id
func (s *Service) Upsert(ctx context.Context, chunk *models.DocumentChunk) error {
	if err := validateChunk("upsert", chunk); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	dimension, err := checkDimension("upsert", s.Dimension(), chunk.Embedding)
	if err != nil {
		return err
	}

	stored := chunk.Clone()
	if err := s.storage.Save(ctx, stored, dimension); err != nil {
		return fmt.Errorf("failed to persist chunk %s: %w", chunk.ID, err)
	}

	s.mu.Lock()
	s.chunks[stored.ID] = stored
	s.dimension = dimension
	s.mu.Unlock()

	return nil
}

// ReplaceType makes chunks the complete set for entityType. The new set is
// validated and persisted in one transaction before it replaces the previous
// set in memory, so readers see either the old or the new set.
func (s *Service) ReplaceType(ctx context.Context, entityType models.EntityType, chunks []*models.DocumentChunk) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	dimension := s.Dimension()
	incoming := make(map[string]*models.DocumentChunk, len(chunks))
	for _, chunk := range chunks {
		if err := validateChunk("replace type", chunk); err != nil {
			return err
		}
		if chunk.Metadata.EntityType != entityType {
			return interfaces.NewError(interfaces.KindInvalidInput, "replace type",
				fmt.Errorf("%w: chunk %s has type %s, expected %s", interfaces.ErrInvalidInput, chunk.ID, chunk.Metadata.EntityType, entityType))
		}
		if _, dup := incoming[chunk.ID]; dup {
			return interfaces.NewError(interfaces.KindInvalidInput, "replace type",
				fmt.Errorf("%w: duplicate chunk id %s", interfaces.ErrInvalidInput, chunk.ID))
		}

		var err error
		if dimension, err = checkDimension("replace type", dimension, chunk.Embedding); err != nil {
			return err
		}
		incoming[chunk.ID] = chunk.Clone()
	}

	var removed []string
	s.mu.RLock()
	for id, existing := range s.chunks {
		if existing.Metadata.EntityType == entityType {
			if _, keep := incoming[id]; !keep {
				removed = append(removed, id)
			}
		}
	}
	s.mu.RUnlock()

	fresh := make([]*models.DocumentChunk, 0, len(incoming))
	for _, chunk := range incoming {
		fresh = append(fresh, chunk)
	}

	if err := s.storage.ReplaceType(ctx, removed, fresh, dimension); err != nil {
		return fmt.Errorf("failed to persist %s chunks: %w", entityType, err)
	}

	s.mu.Lock()
	for _, id := range removed {
		delete(s.chunks, id)
	}
	for id, chunk := range incoming {
		s.chunks[id] = chunk
	}
	s.dimension = dimension
	s.mu.Unlock()

	s.logger.Debug().
		Str("entity_type", string(entityType)).
		Int("upserted", len(incoming)).
		Int("removed", len(removed)).
		Msg("Replaced entity type chunks")

	return nil
}

// Remove deletes every chunk built from entityID
func (s *Service) Remove(ctx context.Context, entityID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var ids []string
	s.mu.RLock()
	for id, chunk := range s.chunks {
		if chunk.Metadata.EntityID == entityID {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	if len(ids) == 0 {
		return nil
	}

	if err := s.storage.Delete(ctx, ids); err != nil {
		return fmt.Errorf("failed to remove chunks for %s: %w", entityID, err)
	}

	s.mu.Lock()
	for _, id := range ids {
		delete(s.chunks, id)
	}
	s.mu.Unlock()

	return nil
}

// Clear deletes every chunk and resets the dimension
func (s *Service) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.storage.DeleteAll(ctx); err != nil {
		return fmt.Errorf("failed to clear vector store: %w", err)
	}

	s.mu.Lock()
	cleared := len(s.chunks)
	s.chunks = make(map[string]*models.DocumentChunk)
	s.dimension = s.configuredDimension
	s.mu.Unlock()

	s.logger.Info().Int("chunks", cleared).Msg("Vector store cleared")
	return nil
}

// Query ranks chunks passing filter by cosine similarity to embedding.
// Equal scores are ordered by most recent UpdatedAt, then by id.
func (s *Service) Query(ctx context.Context, embedding []float32, k int, filter *models.ChunkFilter) ([]models.ScoredChunk, error) {
	if k <= 0 {
		return []models.ScoredChunk{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.chunks) == 0 {
		return []models.ScoredChunk{}, nil
	}
	if len(embedding) != s.dimension {
		return nil, interfaces.DimensionMismatch("query", s.dimension, len(embedding))
	}

	results := make([]models.ScoredChunk, 0, len(s.chunks))
	for _, chunk := range s.chunks {
		if !filter.Matches(chunk) {
			continue
		}
		results = append(results, models.ScoredChunk{
			Chunk: chunk,
			Score: CosineSimilarity(embedding, chunk.Embedding),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return rankBefore(results[i], results[j])
	})

	if len(results) > k {
		results = results[:k]
	}
	for i := range results {
		results[i].Chunk = results[i].Chunk.Clone()
	}

	return results, nil
}

func rankBefore(a, b models.ScoredChunk) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	ua, ub := a.Chunk.Metadata.UpdatedAt, b.Chunk.Metadata.UpdatedAt
	switch {
	case ua != nil && ub == nil:
		return true
	case ua == nil && ub != nil:
		return false
	case ua != nil && ub != nil && !ua.Equal(*ub):
		return ua.After(*ub)
	}
	return a.Chunk.ID < b.Chunk.ID
}

// Get returns a copy of the chunk with id
func (s *Service) Get(ctx context.Context, id string) (*models.DocumentChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunk, ok := s.chunks[id]
	if !ok {
		return nil, fmt.Errorf("chunk %s: %w", id, interfaces.ErrNotFound)
	}
	return chunk.Clone(), nil
}

// Stats returns the chunk count for every entity type, including empty ones
func (s *Service) Stats(ctx context.Context) map[models.EntityType]int {
	stats := make(map[models.EntityType]int)
	for _, t := range models.AllEntityTypes() {
		stats[t] = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, chunk := range s.chunks {
		stats[chunk.Metadata.EntityType]++
	}
	return stats
}

// All returns copies of every chunk ordered by id
func (s *Service) All(ctx context.Context) []*models.DocumentChunk {
	s.mu.RLock()
	out := make([]*models.DocumentChunk, 0, len(s.chunks))
	for _, chunk := range s.chunks {
		out = append(out, chunk.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
