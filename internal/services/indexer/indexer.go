package indexer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chantier/internal/common"
	"github.com/ternarybob/chantier/internal/interfaces"
	"github.com/ternarybob/chantier/internal/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const indexAllKey = "index-all"

// Options tunes an indexing run
type Options struct {
	Concurrency    int  // Parallel embedding requests per entity type
	ReuseUnchanged bool // Keep stored embeddings whose content hash and model are unchanged
}

// Service builds VectorStore content from the business data provider
type Service struct {
	provider interfaces.BusinessDataProvider
	backend  interfaces.EmbeddingBackend
	store    interfaces.VectorStore
	events   interfaces.EventService
	options  Options
	logger   arbor.ILogger

	group   singleflight.Group
	running atomic.Int32

	// Runs outlive the request that started them; Close cancels and waits for them
	baseCtx context.Context
	cancel  context.CancelFunc
	runsMu  sync.Mutex
	runs    sync.WaitGroup
	closed  bool

	lastMu sync.RWMutex
	last   *models.IndexReport
}

// NewService creates an indexer. events may be nil.
func NewService(provider interfaces.BusinessDataProvider, backend interfaces.EmbeddingBackend, store interfaces.VectorStore, events interfaces.EventService, options Options, logger arbor.ILogger) *Service {
	if options.Concurrency < 1 {
		options.Concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		provider: provider,
		backend:  backend,
		store:    store,
		events:   events,
		options:  options,
		logger:   logger,
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Close cancels any in-flight run and waits for it to return. Runs are not
// started after Close.
func (s *Service) Close() {
	s.runsMu.Lock()
	s.closed = true
	s.runsMu.Unlock()

	s.cancel()
	s.runs.Wait()
}

// IsRunning reports whether a full run is in flight
func (s *Service) IsRunning() bool {
	return s.running.Load() > 0
}

// LastReport returns the most recent completed report
func (s *Service) LastReport() *models.IndexReport {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.last
}

// IndexAll reindexes every entity type. Callers arriving while a run is in
// flight wait for that run and receive its report. A caller whose ctx ends
// stops waiting; the shared run continues.
func (s *Service) IndexAll(ctx context.Context) (*models.IndexReport, error) {
	return s.shared(ctx, indexAllKey, models.AllEntityTypes())
}

// IndexScoped reindexes one entity type
func (s *Service) IndexScoped(ctx context.Context, entityType models.EntityType) (*models.IndexReport, error) {
	if _, err := models.ParseEntityType(string(entityType)); err != nil {
		return nil, interfaces.NewError(interfaces.KindInvalidInput, "index scoped", fmt.Errorf("%w: %v", interfaces.ErrInvalidInput, err))
	}
	return s.shared(ctx, "index:"+string(entityType), []models.EntityType{entityType})
}

func (s *Service) shared(ctx context.Context, key string, types []models.EntityType) (*models.IndexReport, error) {
	ch := s.group.DoChan(key, func() (interface{}, error) {
		s.runsMu.Lock()
		if s.closed {
			s.runsMu.Unlock()
			return nil, fmt.Errorf("indexer closed: %w", context.Canceled)
		}
		s.runs.Add(1)
		s.runsMu.Unlock()
		defer s.runs.Done()

		return s.run(s.baseCtx, key, types)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-ch:
		if result.Err != nil {
			if report, ok := result.Val.(*models.IndexReport); ok {
				return report, result.Err
			}
			return nil, result.Err
		}
		return result.Val.(*models.IndexReport), nil
	}
}

func (s *Service) run(ctx context.Context, key string, types []models.EntityType) (*models.IndexReport, error) {
	if key == indexAllKey {
		s.running.Add(1)
		defer s.running.Add(-1)
	}

	report := &models.IndexReport{
		RunID:     common.NewRunID(),
		StartedAt: time.Now(),
		Types:     make(map[models.EntityType]*models.TypeReport, len(types)),
	}

	s.logger.Info().
		Str("run_id", report.RunID).
		Int("entity_types", len(types)).
		Msg("Indexing started")

	s.publish(ctx, interfaces.EventIndexStarted, map[string]interface{}{
		"run_id":       report.RunID,
		"entity_types": len(types),
	})

	var runErr error
	for _, entityType := range types {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		typeReport := s.indexType(ctx, entityType)
		report.Types[entityType] = typeReport
		s.publish(ctx, interfaces.EventIndexTypeCompleted, typeReport)
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
	}

	report.FinishedAt = time.Now()
	report.DurationMs = report.FinishedAt.Sub(report.StartedAt).Milliseconds()

	totals := report.Totals()
	s.logger.Info().
		Str("run_id", report.RunID).
		Int("processed", totals.Processed).
		Int("reused", totals.Reused).
		Int("skipped", totals.Skipped).
		Int("failed", totals.Failed).
		Int64("duration_ms", report.DurationMs).
		Msg("Indexing completed")

	if runErr == nil {
		s.lastMu.Lock()
		s.last = report
		s.lastMu.Unlock()
	}

	s.publish(ctx, interfaces.EventIndexCompleted, report)
	return report, runErr
}

// embedResult is the outcome for one candidate chunk
type embedResult struct {
	chunk  *models.DocumentChunk
	reused bool
	err    error
}

// indexType loads, maps and embeds one entity type, then replaces its chunks.
// Provider failures and cancelled runs keep the previously indexed chunks of
// the type, as does a batch where every embedding failed.
func (s *Service) indexType(ctx context.Context, entityType models.EntityType) *models.TypeReport {
	tr := &models.TypeReport{EntityType: entityType}

	entities, err := s.provider.Load(ctx, entityType)
	if err != nil {
		tr.Error = err.Error()
		s.logger.Warn().Err(err).Str("entity_type", string(entityType)).Msg("Failed to load entities")
		return tr
	}

	candidates := make([]*models.DocumentChunk, 0, len(entities))
	seen := make(map[string]bool, len(entities))
	for _, entity := range entities {
		chunk, ok := BuildChunk(entity)
		if !ok || seen[chunk.ID] {
			tr.Skipped++
			continue
		}
		seen[chunk.ID] = true
		candidates = append(candidates, chunk)
	}

	results := s.embedAll(ctx, candidates)

	// A cancelled run is not a set of per-entity failures: replacing now
	// would drop every chunk that was not embedded before the cancellation.
	if err := ctx.Err(); err != nil {
		tr.Error = fmt.Sprintf("indexing cancelled: %v; previous index kept", err)
		s.logger.Warn().Err(err).Str("entity_type", string(entityType)).Msg("Indexing cancelled, keeping previous chunks")
		return tr
	}

	// The store dimension, or the first successful vector in entity order when unset
	dimension := s.store.Dimension()
	fresh := make([]*models.DocumentChunk, 0, len(results))
	for _, r := range results {
		if r.err == nil && dimension == 0 {
			dimension = len(r.chunk.Embedding)
		}
		if r.err == nil && len(r.chunk.Embedding) != dimension {
			r.err = interfaces.DimensionMismatch("index "+string(entityType), dimension, len(r.chunk.Embedding))
		}
		if r.err != nil {
			tr.Failed++
			s.logger.Warn().
				Err(r.err).
				Str("entity_type", string(entityType)).
				Str("chunk_id", r.chunk.ID).
				Msg("Skipping entity: embedding failed")
			continue
		}
		if r.reused {
			tr.Reused++
		}
		fresh = append(fresh, r.chunk)
	}

	if len(fresh) == 0 && tr.Failed > 0 {
		tr.Error = fmt.Sprintf("all %d embeddings failed; previous index kept", tr.Failed)
		return tr
	}

	if err := s.store.ReplaceType(ctx, entityType, fresh); err != nil {
		tr.Error = err.Error()
		tr.Failed += len(fresh)
		s.logger.Error().Err(err).Str("entity_type", string(entityType)).Msg("Failed to replace entity type chunks")
		return tr
	}

	tr.Processed = len(fresh)
	if tr.Failed > 0 {
		tr.Error = string(interfaces.KindIndexingPartialFailure)
	}

	s.logger.Debug().
		Str("entity_type", string(entityType)).
		Int("processed", tr.Processed).
		Int("reused", tr.Reused).
		Int("skipped", tr.Skipped).
		Int("failed", tr.Failed).
		Msg("Entity type indexed")

	return tr
}

// embedAll embeds candidates with bounded parallelism. Results keep the
// candidate order. Failures are recorded per result and never cancel siblings.
func (s *Service) embedAll(ctx context.Context, candidates []*models.DocumentChunk) []*embedResult {
	results := make([]*embedResult, len(candidates))
	model := s.backend.EmbedModel()

	g := new(errgroup.Group)
	g.SetLimit(s.options.Concurrency)

	for i, chunk := range candidates {
		i, chunk := i, chunk
		results[i] = &embedResult{chunk: chunk}
		chunk.Model = model

		if s.options.ReuseUnchanged {
			if existing, err := s.store.Get(ctx, chunk.ID); err == nil &&
				existing.ContentHash == chunk.ContentHash &&
				existing.Model == model &&
				len(existing.Embedding) > 0 {
				chunk.Embedding = existing.Embedding
				chunk.IndexedAt = existing.IndexedAt
				results[i].reused = true
				continue
			}
		}

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].err = err
				return nil
			}
			embedding, err := s.backend.Embed(ctx, chunk.Content)
			if err != nil {
				results[i].err = err
				return nil
			}
			chunk.Embedding = embedding
			chunk.IndexedAt = time.Now()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (s *Service) publish(ctx context.Context, eventType interfaces.EventType, payload interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		s.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish index event")
	}
}
