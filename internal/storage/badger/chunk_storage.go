package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chantier/internal/interfaces"
	"github.com/ternarybob/chantier/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

const indexMetaKey = "chunk_index"

// chunkRecord is the persisted form of a DocumentChunk
type chunkRecord struct {
	ID          string
	EntityType  string `badgerhold:"index"`
	Content     string
	Metadata    models.ChunkMetadata
	Embedding   []float32
	ContentHash string
	Model       string
	IndexedAt   time.Time
}

// indexMeta records the shared embedding dimension
type indexMeta struct {
	Dimension int
	UpdatedAt time.Time
}

// ChunkStorage implements interfaces.ChunkStorage for Badger
type ChunkStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewChunkStorage creates a new ChunkStorage instance
func NewChunkStorage(db *BadgerDB, logger arbor.ILogger) *ChunkStorage {
	return &ChunkStorage{
		db:     db,
		logger: logger,
	}
}

func toRecord(c *models.DocumentChunk) *chunkRecord {
	return &chunkRecord{
		ID:          c.ID,
		EntityType:  string(c.Metadata.EntityType),
		Content:     c.Content,
		Metadata:    c.Metadata,
		Embedding:   c.Embedding,
		ContentHash: c.ContentHash,
		Model:       c.Model,
		IndexedAt:   c.IndexedAt,
	}
}

func (r *chunkRecord) toChunk() *models.DocumentChunk {
	return &models.DocumentChunk{
		ID:          r.ID,
		Content:     r.Content,
		Metadata:    r.Metadata,
		Embedding:   r.Embedding,
		ContentHash: r.ContentHash,
		Model:       r.Model,
		IndexedAt:   r.IndexedAt,
	}
}

// LoadAll reads every chunk and validates the persisted index as a whole
func (s *ChunkStorage) LoadAll(ctx context.Context) ([]*models.DocumentChunk, int, error) {
	var meta indexMeta
	if err := s.db.Store().Get(indexMetaKey, &meta); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return nil, 0, interfaces.StoreCorruption("load index meta", err)
	}

	var records []chunkRecord
	if err := s.db.Store().Find(&records, nil); err != nil {
		return nil, 0, interfaces.StoreCorruption("load chunks", err)
	}

	dimension := meta.Dimension
	chunks := make([]*models.DocumentChunk, 0, len(records))
	for i := range records {
		rec := &records[i]
		if rec.ID == "" {
			return nil, 0, interfaces.StoreCorruption("load chunks", fmt.Errorf("chunk %d has an empty id", i))
		}
		if len(rec.Embedding) == 0 {
			return nil, 0, interfaces.StoreCorruption("load chunks", fmt.Errorf("chunk %s has no embedding", rec.ID))
		}
		if dimension == 0 {
			dimension = len(rec.Embedding)
		}
		if len(rec.Embedding) != dimension {
			return nil, 0, interfaces.StoreCorruption("load chunks",
				fmt.Errorf("chunk %s has dimension %d, index dimension is %d", rec.ID, len(rec.Embedding), dimension))
		}
		chunks = append(chunks, rec.toChunk())
	}

	if len(chunks) == 0 {
		dimension = meta.Dimension
	}

	s.logger.Debug().
		Int("chunks", len(chunks)).
		Int("dimension", dimension).
		Msg("Loaded persisted chunks")

	return chunks, dimension, nil
}

// Save inserts or replaces a single chunk
func (s *ChunkStorage) Save(ctx context.Context, chunk *models.DocumentChunk, dimension int) error {
	if chunk == nil || chunk.ID == "" {
		return fmt.Errorf("chunk ID is required")
	}

	return s.db.Store().Badger().Update(func(tx *badger.Txn) error {
		if err := s.db.Store().TxUpsert(tx, chunk.ID, toRecord(chunk)); err != nil {
			return fmt.Errorf("failed to save chunk: %w", err)
		}
		return s.writeMeta(tx, dimension)
	})
}

// ReplaceType deletes removedIDs and upserts chunks within one Badger transaction
func (s *ChunkStorage) ReplaceType(ctx context.Context, removedIDs []string, chunks []*models.DocumentChunk, dimension int) error {
	return s.db.Store().Badger().Update(func(tx *badger.Txn) error {
		for _, id := range removedIDs {
			if err := s.db.Store().TxDelete(tx, id, &chunkRecord{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("failed to delete chunk %s: %w", id, err)
			}
		}
		for _, chunk := range chunks {
			if err := s.db.Store().TxUpsert(tx, chunk.ID, toRecord(chunk)); err != nil {
				return fmt.Errorf("failed to save chunk %s: %w", chunk.ID, err)
			}
		}
		return s.writeMeta(tx, dimension)
	})
}

// Delete removes chunks by id
func (s *ChunkStorage) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.Store().Badger().Update(func(tx *badger.Txn) error {
		for _, id := range ids {
			if err := s.db.Store().TxDelete(tx, id, &chunkRecord{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("failed to delete chunk %s: %w", id, err)
			}
		}
		return nil
	})
}

// DeleteAll removes every chunk and the recorded dimension
func (s *ChunkStorage) DeleteAll(ctx context.Context) error {
	var records []chunkRecord
	if err := s.db.Store().Find(&records, nil); err != nil {
		return fmt.Errorf("failed to list chunks: %w", err)
	}

	return s.db.Store().Badger().Update(func(tx *badger.Txn) error {
		for i := range records {
			if err := s.db.Store().TxDelete(tx, records[i].ID, &chunkRecord{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("failed to delete chunk %s: %w", records[i].ID, err)
			}
		}
		if err := s.db.Store().TxDelete(tx, indexMetaKey, &indexMeta{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("failed to delete index meta: %w", err)
		}
		return nil
	})
}

func (s *ChunkStorage) writeMeta(tx *badger.Txn, dimension int) error {
	if err := s.db.Store().TxUpsert(tx, indexMetaKey, &indexMeta{Dimension: dimension, UpdatedAt: time.Now()}); err != nil {
		return fmt.Errorf("failed to save index meta: %w", err)
	}
	return nil
}
