package vectorstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chantier/internal/common"
	"github.com/ternarybob/chantier/internal/interfaces"
	"github.com/ternarybob/chantier/internal/models"
	"github.com/ternarybob/chantier/internal/storage/badger"
)

// memoryStorage is a ChunkStorage double with failure injection
type memoryStorage struct {
	mu        sync.Mutex
	chunks    map[string]*models.DocumentChunk
	dimension int
	failNext  error
	loadErr   error
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{chunks: make(map[string]*models.DocumentChunk)}
}

func (m *memoryStorage) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *memoryStorage) LoadAll(ctx context.Context) ([]*models.DocumentChunk, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, 0, m.loadErr
	}
	out := make([]*models.DocumentChunk, 0, len(m.chunks))
	for _, c := range m.chunks {
		out = append(out, c.Clone())
	}
	return out, m.dimension, nil
}

func (m *memoryStorage) Save(ctx context.Context, chunk *models.DocumentChunk, dimension int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.chunks[chunk.ID] = chunk.Clone()
	m.dimension = dimension
	return nil
}

func (m *memoryStorage) ReplaceType(ctx context.Context, removedIDs []string, chunks []*models.DocumentChunk, dimension int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	for _, id := range removedIDs {
		delete(m.chunks, id)
	}
	for _, c := range chunks {
		m.chunks[c.ID] = c.Clone()
	}
	m.dimension = dimension
	return nil
}

func (m *memoryStorage) Delete(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.chunks, id)
	}
	return nil
}

func (m *memoryStorage) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = make(map[string]*models.DocumentChunk)
	m.dimension = 0
	return nil
}

func newTestStore(t *testing.T) (*Service, *memoryStorage) {
	t.Helper()
	storage := newMemoryStorage()
	store, err := NewService(context.Background(), storage, 0, arbor.NewLogger())
	require.NoError(t, err)
	return store, storage
}

func testChunk(entityType models.EntityType, entityID string, embedding ...float32) *models.DocumentChunk {
	return &models.DocumentChunk{
		ID:      string(entityType) + ":" + entityID,
		Content: string(entityType) + " " + entityID,
		Metadata: models.ChunkMetadata{
			EntityType: entityType,
			EntityID:   entityID,
			EntityName: entityID,
		},
		Embedding: embedding,
	}
}

func at(ts time.Time) *time.Time { return &ts }

func TestUpsert_ReplacesExistingID(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.Upsert(ctx, testChunk(models.EntityTypeSite, "1", 1, 0)))
	updated := testChunk(models.EntityTypeSite, "1", 0, 1)
	updated.Content = "renamed"
	require.NoError(t, store.Upsert(ctx, updated))

	assert.Equal(t, 1, store.Count())
	got, err := store.Get(ctx, "site:1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Content)
	assert.Equal(t, []float32{0, 1}, got.Embedding)
}

func TestUpsert_RejectsDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.Upsert(ctx, testChunk(models.EntityTypeSite, "1", 1, 0, 0)))
	err := store.Upsert(ctx, testChunk(models.EntityTypeSite, "2", 1, 0))

	require.Error(t, err)
	assert.True(t, errors.Is(err, interfaces.ErrDimensionMismatch))
	assert.Equal(t, interfaces.KindDimensionMismatch, interfaces.KindOf(err))
	assert.Equal(t, 1, store.Count())
	assert.Equal(t, 3, store.Dimension())
}

func TestUpsert_PersistFailureLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	store, storage := newTestStore(t)

	storage.failNext = errors.New("disk full")
	assert.Error(t, store.Upsert(ctx, testChunk(models.EntityTypeSite, "1", 1, 0)))
	assert.Equal(t, 0, store.Count())
	assert.Equal(t, 0, store.Dimension())
}

func TestReplaceType_RemovesStaleAndKeepsOtherTypes(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.ReplaceType(ctx, models.EntityTypeSite, []*models.DocumentChunk{
		testChunk(models.EntityTypeSite, "1", 1, 0),
		testChunk(models.EntityTypeSite, "2", 0, 1),
	}))
	require.NoError(t, store.ReplaceType(ctx, models.EntityTypeClient, []*models.DocumentChunk{
		testChunk(models.EntityTypeClient, "9", 1, 1),
	}))

	require.NoError(t, store.ReplaceType(ctx, models.EntityTypeSite, []*models.DocumentChunk{
		testChunk(models.EntityTypeSite, "2", 0, 1),
		testChunk(models.EntityTypeSite, "3", 1, 1),
	}))

	stats := store.Stats(ctx)
	assert.Equal(t, 2, stats[models.EntityTypeSite])
	assert.Equal(t, 1, stats[models.EntityTypeClient])

	_, err := store.Get(ctx, "site:1")
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))
	_, err = store.Get(ctx, "client:9")
	assert.NoError(t, err)
}

func TestReplaceType_IsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store, storage := newTestStore(t)

	require.NoError(t, store.ReplaceType(ctx, models.EntityTypeSite, []*models.DocumentChunk{
		testChunk(models.EntityTypeSite, "1", 1, 0),
	}))

	// A bad vector anywhere in the batch rejects the whole batch
	err := store.ReplaceType(ctx, models.EntityTypeSite, []*models.DocumentChunk{
		testChunk(models.EntityTypeSite, "2", 0, 1),
		testChunk(models.EntityTypeSite, "3", 0, 1, 0),
	})
	assert.True(t, errors.Is(err, interfaces.ErrDimensionMismatch))

	// A persistence failure leaves the previous set visible
	storage.failNext = errors.New("txn aborted")
	err = store.ReplaceType(ctx, models.EntityTypeSite, []*models.DocumentChunk{
		testChunk(models.EntityTypeSite, "4", 0, 1),
	})
	assert.Error(t, err)

	all := store.All(ctx)
	require.Len(t, all, 1)
	assert.Equal(t, "site:1", all[0].ID)
}

func TestReplaceType_RejectsForeignType(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.ReplaceType(context.Background(), models.EntityTypeSite, []*models.DocumentChunk{
		testChunk(models.EntityTypeClient, "1", 1),
	})
	assert.True(t, errors.Is(err, interfaces.ErrInvalidInput))
}

func TestQuery_OrdersByScoreThenRecency(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	older := testChunk(models.EntityTypeNote, "old", 1, 0)
	older.Metadata.UpdatedAt = at(base)
	newer := testChunk(models.EntityTypeNote, "new", 2, 0) // Same direction, same cosine
	newer.Metadata.UpdatedAt = at(base.Add(time.Hour))
	other := testChunk(models.EntityTypeNote, "other", 0, 1)
	mid := testChunk(models.EntityTypeNote, "mid", 1, 1)

	require.NoError(t, store.ReplaceType(ctx, models.EntityTypeNote, []*models.DocumentChunk{older, newer, other, mid}))

	results, err := store.Query(ctx, []float32{1, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "note:new", results[0].Chunk.ID)
	assert.Equal(t, "note:old", results[1].Chunk.ID)
	assert.Equal(t, "note:mid", results[2].Chunk.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.True(t, results[1].Score >= results[2].Score)

	results, err = store.Query(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	assert.Len(t, results, 4)

	results, err = store.Query(ctx, []float32{1, 0}, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestQuery_Filter(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	site := testChunk(models.EntityTypeSite, "s1", 1, 0)
	note := testChunk(models.EntityTypeNote, "n1", 1, 0)
	note.Metadata.ScopeID = "s1"
	otherNote := testChunk(models.EntityTypeNote, "n2", 1, 0)
	otherNote.Metadata.ScopeID = "s2"

	require.NoError(t, store.Upsert(ctx, site))
	require.NoError(t, store.ReplaceType(ctx, models.EntityTypeNote, []*models.DocumentChunk{note, otherNote}))

	results, err := store.Query(ctx, []float32{1, 0}, 10, &models.ChunkFilter{ScopeID: "s1"})
	require.NoError(t, err)
	ids := []string{}
	for _, r := range results {
		ids = append(ids, r.Chunk.ID)
	}
	assert.ElementsMatch(t, []string{"site:s1", "note:n1"}, ids)

	results, err = store.Query(ctx, []float32{1, 0}, 10, &models.ChunkFilter{EntityType: models.EntityTypeNote})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestQuery_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	require.NoError(t, store.Upsert(ctx, testChunk(models.EntityTypeSite, "1", 1, 0)))

	results, err := store.Query(ctx, []float32{1, 0}, 1, nil)
	require.NoError(t, err)
	results[0].Chunk.Embedding[0] = 42

	got, err := store.Get(ctx, "site:1")
	require.NoError(t, err)
	assert.Equal(t, float32(1), got.Embedding[0])
}

func TestQuery_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	require.NoError(t, store.Upsert(ctx, testChunk(models.EntityTypeSite, "1", 1, 0)))

	_, err := store.Query(ctx, []float32{1, 0, 0}, 5, nil)
	assert.True(t, errors.Is(err, interfaces.ErrDimensionMismatch))
}

func TestClear_ResetsStatsAndDimension(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.Upsert(ctx, testChunk(models.EntityTypeSite, "1", 1, 0)))
	require.NoError(t, store.Upsert(ctx, testChunk(models.EntityTypeTask, "1", 0, 1)))
	require.NoError(t, store.Clear(ctx))

	for entityType, count := range store.Stats(ctx) {
		assert.Zero(t, count, string(entityType))
	}
	assert.Len(t, store.Stats(ctx), len(models.AllEntityTypes()))
	assert.Equal(t, 0, store.Dimension())

	// A new model with another dimension is accepted after a clear
	require.NoError(t, store.Upsert(ctx, testChunk(models.EntityTypeSite, "1", 1, 0, 0, 0)))
	assert.Equal(t, 4, store.Dimension())
}

func TestRemove_DeletesEntityChunks(t *testing.T) {
	ctx := context.Background()
	store, storage := newTestStore(t)

	require.NoError(t, store.Upsert(ctx, testChunk(models.EntityTypeSite, "1", 1, 0)))
	require.NoError(t, store.Upsert(ctx, testChunk(models.EntityTypeSite, "2", 0, 1)))
	require.NoError(t, store.Remove(ctx, "1"))
	require.NoError(t, store.Remove(ctx, "missing"))

	assert.Equal(t, 1, store.Count())
	assert.Len(t, storage.chunks, 1)
}

func TestNewService_FailsOnCorruptStorage(t *testing.T) {
	storage := newMemoryStorage()
	storage.loadErr = interfaces.StoreCorruption("load chunks", errors.New("gob: bad data"))

	_, err := NewService(context.Background(), storage, 0, arbor.NewLogger())
	require.Error(t, err)
	assert.Equal(t, interfaces.KindStoreCorruption, interfaces.KindOf(err))
}

func TestNewService_RejectsConfiguredDimensionChange(t *testing.T) {
	storage := newMemoryStorage()
	storage.chunks["site:1"] = testChunk(models.EntityTypeSite, "1", 1, 0)
	storage.dimension = 2

	_, err := NewService(context.Background(), storage, 768, arbor.NewLogger())
	require.Error(t, err)
	assert.Equal(t, interfaces.KindStoreCorruption, interfaces.KindOf(err))
}

func TestConcurrentQueriesDuringReplace(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	setA := []*models.DocumentChunk{testChunk(models.EntityTypeSite, "a1", 1, 0), testChunk(models.EntityTypeSite, "a2", 1, 0)}
	setB := []*models.DocumentChunk{testChunk(models.EntityTypeSite, "b1", 1, 0), testChunk(models.EntityTypeSite, "b2", 1, 0), testChunk(models.EntityTypeSite, "b3", 1, 0)}
	require.NoError(t, store.ReplaceType(ctx, models.EntityTypeSite, setA))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				results, err := store.Query(ctx, []float32{1, 0}, 10, nil)
				if err != nil {
					t.Error(err)
					return
				}
				// Either the complete old set or the complete new set
				if len(results) != 2 && len(results) != 3 {
					t.Errorf("observed partial replace: %d results", len(results))
					return
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		set := setA
		if i%2 == 0 {
			set = setB
		}
		require.NoError(t, store.ReplaceType(ctx, models.EntityTypeSite, set))
	}
	close(stop)
	wg.Wait()
}

func TestPersistenceAcrossRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rag")
	logger := arbor.NewLogger()

	manager, err := badger.NewManager(logger, &common.BadgerConfig{Path: path})
	require.NoError(t, err)
	store, err := NewService(ctx, manager.ChunkStorage(), 0, logger)
	require.NoError(t, err)
	require.NoError(t, store.ReplaceType(ctx, models.EntityTypeSite, []*models.DocumentChunk{
		testChunk(models.EntityTypeSite, "1", 1, 0),
		testChunk(models.EntityTypeSite, "2", 0, 1),
	}))
	require.NoError(t, manager.Close())

	manager, err = badger.NewManager(logger, &common.BadgerConfig{Path: path})
	require.NoError(t, err)
	defer manager.Close()

	reloaded, err := NewService(ctx, manager.ChunkStorage(), 0, logger)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.Count())
	assert.Equal(t, 2, reloaded.Dimension())

	results, err := reloaded.Query(ctx, []float32{0, 1}, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "site:2", results[0].Chunk.ID)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 0}))
}
