package indexer

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
	"github.com/ternarybob/chantier/internal/services/backend/backendtest"
	"github.com/ternarybob/chantier/internal/services/events"
	"github.com/ternarybob/chantier/internal/services/provider"
	"github.com/ternarybob/chantier/internal/services/vectorstore"
	"github.com/ternarybob/chantier/internal/storage/badger"
)

type fixture struct {
	indexer  *Service
	store    *vectorstore.Service
	provider *provider.StaticProvider
	backend  *backendtest.Stub
	events   *events.Service
}

func newFixture(t *testing.T, options Options) *fixture {
	t.Helper()
	logger := arbor.NewLogger()

	manager, err := badger.NewManager(logger, &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "rag")})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	store, err := vectorstore.NewService(context.Background(), manager.ChunkStorage(), 0, logger)
	require.NoError(t, err)

	data := provider.NewStaticProvider()
	stub := backendtest.NewStub("lantin", "namur", "liège", "beton")
	eventService := events.NewService(logger)

	idx := NewService(data, stub, store, eventService, options, logger)
	t.Cleanup(idx.Close)

	return &fixture{indexer: idx, store: store, provider: data, backend: stub, events: eventService}
}

func site(id, name string) *models.Site {
	return &models.Site{EntityBase: models.EntityBase{ID: id}, Name: name, City: name}
}

func (f *fixture) seedSites() {
	f.provider.Set(models.EntityTypeSite,
		site("s1", "Lantin"),
		site("s2", "Namur"),
		site("s3", "Liège"),
	)
}

func TestIndexAll_IndexesEveryType(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 2})
	f.seedSites()
	f.provider.Set(models.EntityTypeNote, &models.Note{
		EntityBase: models.EntityBase{ID: "n1"},
		Title:      "Livraison",
		Content:    "<p>Beton pour <b>Lantin</b></p>",
		SiteID:     "s1",
	})
	f.provider.Set(models.EntityTypeClient, &models.Client{EntityBase: models.EntityBase{ID: "c1"}}) // No name

	report, err := f.indexer.IndexAll(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Len(t, report.Types, len(models.AllEntityTypes()))
	assert.Equal(t, 3, report.Types[models.EntityTypeSite].Processed)
	assert.Equal(t, 1, report.Types[models.EntityTypeNote].Processed)
	assert.Equal(t, 1, report.Types[models.EntityTypeClient].Skipped)

	totals := report.Totals()
	assert.Equal(t, 4, totals.Processed)
	assert.Equal(t, 0, totals.Failed)

	stats := f.store.Stats(context.Background())
	assert.Equal(t, 3, stats[models.EntityTypeSite])
	assert.Equal(t, 1, stats[models.EntityTypeNote])
	assert.Equal(t, report, f.indexer.LastReport())
	assert.Equal(t, 4, f.backend.EmbedCalls())

	note, err := f.store.Get(context.Background(), "note:n1")
	require.NoError(t, err)
	assert.Equal(t, "s1", note.Metadata.ScopeID)
	assert.NotContains(t, note.Content, "<p>")
	assert.Equal(t, "stub-embed", note.Model)
}

func TestIndexAll_IsIdempotent(t *testing.T) {
	ctx := context.Background()

	for _, reuse := range []bool{false, true} {
		f := newFixture(t, Options{Concurrency: 4, ReuseUnchanged: reuse})
		f.seedSites()

		_, err := f.indexer.IndexAll(ctx)
		require.NoError(t, err)
		first := f.store.All(ctx)

		report, err := f.indexer.IndexAll(ctx)
		require.NoError(t, err)
		second := f.store.All(ctx)

		require.Len(t, second, len(first))
		for i := range first {
			assert.Equal(t, first[i].ID, second[i].ID)
			assert.Equal(t, first[i].Content, second[i].Content)
			assert.Equal(t, first[i].Embedding, second[i].Embedding)
			assert.Equal(t, first[i].ContentHash, second[i].ContentHash)
		}

		if reuse {
			assert.Equal(t, 3, report.Types[models.EntityTypeSite].Reused)
			assert.Equal(t, 3, f.backend.EmbedCalls(), "unchanged entities are not re-embedded")
		} else {
			assert.Equal(t, 6, f.backend.EmbedCalls())
		}
	}
}

func TestIndexAll_RemovesDeletedEntities(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{Concurrency: 1})
	f.seedSites()
	f.provider.Set(models.EntityTypeRack, &models.Rack{EntityBase: models.EntityBase{ID: "r1"}, Name: "Allee A"})

	_, err := f.indexer.IndexAll(ctx)
	require.NoError(t, err)

	f.provider.Set(models.EntityTypeSite, site("s1", "Lantin"))
	_, err = f.indexer.IndexScoped(ctx, models.EntityTypeSite)
	require.NoError(t, err)

	stats := f.store.Stats(ctx)
	assert.Equal(t, 1, stats[models.EntityTypeSite])
	assert.Equal(t, 1, stats[models.EntityTypeRack])

	_, err = f.store.Get(ctx, "site:s2")
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))
}

func TestIndexAll_SkipsFailedEntities(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{Concurrency: 3})
	f.seedSites()
	f.backend.FailEmbedFor("Namur")

	report, err := f.indexer.IndexAll(ctx)
	require.NoError(t, err)

	sites := report.Types[models.EntityTypeSite]
	assert.Equal(t, 2, sites.Processed)
	assert.Equal(t, 1, sites.Failed)
	assert.Equal(t, string(interfaces.KindIndexingPartialFailure), sites.Error)
	assert.Equal(t, 2, f.store.Stats(ctx)[models.EntityTypeSite])
}

func TestIndexAll_KeepsPreviousIndexWhenBackendDown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{Concurrency: 2})
	f.seedSites()

	_, err := f.indexer.IndexAll(ctx)
	require.NoError(t, err)

	f.provider.Set(models.EntityTypeSite, site("s1", "Lantin renamed"), site("s2", "Namur"))
	f.backend.FailEmbed(interfaces.BackendUnavailable("embed", interfaces.ErrBackendUnavailable))

	report, err := f.indexer.IndexAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Types[models.EntityTypeSite].Failed)
	assert.NotEmpty(t, report.Types[models.EntityTypeSite].Error)
	assert.Equal(t, 3, f.store.Stats(ctx)[models.EntityTypeSite])
}

func TestIndexAll_ProviderFailureKeepsType(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{Concurrency: 2})
	f.seedSites()

	_, err := f.indexer.IndexAll(ctx)
	require.NoError(t, err)

	f.provider.Fail(models.EntityTypeSite, errors.New("database unavailable"))
	report, err := f.indexer.IndexAll(ctx)
	require.NoError(t, err)

	assert.Contains(t, report.Types[models.EntityTypeSite].Error, "database unavailable")
	assert.Equal(t, 3, f.store.Stats(ctx)[models.EntityTypeSite])
}

func TestIndexAll_ConcurrentCallsShareOneRun(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 1})
	f.seedSites()

	f.backend.Gate = make(chan struct{})
	f.backend.Entered = make(chan struct{}, 16)

	ctx := context.Background()
	var wg sync.WaitGroup
	reports := make([]*models.IndexReport, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[0], _ = f.indexer.IndexAll(ctx)
	}()

	// The first run is now blocked inside the backend
	<-f.backend.Entered
	assert.True(t, f.indexer.IsRunning())

	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[1], _ = f.indexer.IndexAll(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	close(f.backend.Gate)
	wg.Wait()

	assert.Equal(t, 3, f.backend.EmbedCalls(), "exactly one indexing pass")
	require.NotNil(t, reports[0])
	assert.Same(t, reports[0], reports[1])
	assert.False(t, f.indexer.IsRunning())
}

func TestIndexAll_CallerCancellationDoesNotAbortRun(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 1})
	f.seedSites()
	f.backend.Gate = make(chan struct{})
	f.backend.Entered = make(chan struct{}, 16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.indexer.IndexAll(ctx)
		done <- err
	}()

	<-f.backend.Entered
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(f.backend.Gate)
	require.Eventually(t, func() bool { return f.indexer.LastReport() != nil }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, f.indexer.LastReport().Types[models.EntityTypeSite].Processed)
}

func TestClose_MidTypeKeepsPreviousChunks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{Concurrency: 1})
	f.seedSites()

	_, err := f.indexer.IndexAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, f.store.Stats(ctx)[models.EntityTypeSite])
	previous, err := f.store.Get(ctx, "site:s1")
	require.NoError(t, err)

	f.provider.Set(models.EntityTypeSite,
		site("s1", "Lantin Nord"),
		site("s2", "Namur Sud"),
		site("s3", "Liège Est"),
	)
	f.backend.Gate = make(chan struct{})
	f.backend.Entered = make(chan struct{}, 16)

	done := make(chan error, 1)
	go func() {
		_, err := f.indexer.IndexScoped(ctx, models.EntityTypeSite)
		done <- err
	}()

	// Let the first embedding through, then close while the second is blocked
	<-f.backend.Entered
	f.backend.Gate <- struct{}{}
	<-f.backend.Entered

	f.indexer.Close()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, 3, f.store.Stats(ctx)[models.EntityTypeSite])
	current, err := f.store.Get(ctx, "site:s1")
	require.NoError(t, err)
	assert.Equal(t, previous.Content, current.Content)
	assert.False(t, f.indexer.IsRunning())
}

func TestClose_WaitsForInFlightRun(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 1})
	f.seedSites()
	f.backend.Gate = make(chan struct{})
	f.backend.Entered = make(chan struct{}, 16)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_, _ = f.indexer.IndexAll(context.Background())
	}()
	<-f.backend.Entered

	f.indexer.Close()

	// Close returned, so the run must already have left the store
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("index run still in flight after Close")
	}

	_, err := f.indexer.IndexAll(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIndexScoped_RejectsUnknownType(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.indexer.IndexScoped(context.Background(), models.EntityType("spaceship"))
	assert.True(t, errors.Is(err, interfaces.ErrInvalidInput))
}

func TestIndexAll_PublishesEvents(t *testing.T) {
	f := newFixture(t, Options{Concurrency: 1})
	f.seedSites()

	var mu sync.Mutex
	received := map[interfaces.EventType]int{}
	handler := func(ctx context.Context, event interfaces.Event) error {
		mu.Lock()
		defer mu.Unlock()
		received[event.Type]++
		return nil
	}
	for _, eventType := range []interfaces.EventType{interfaces.EventIndexStarted, interfaces.EventIndexTypeCompleted, interfaces.EventIndexCompleted} {
		_, err := f.events.Subscribe(eventType, handler)
		require.NoError(t, err)
	}

	_, err := f.indexer.IndexAll(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received[interfaces.EventIndexCompleted] == 1 &&
			received[interfaces.EventIndexTypeCompleted] == len(models.AllEntityTypes()) &&
			received[interfaces.EventIndexStarted] == 1
	}, 2*time.Second, 10*time.Millisecond)
}
