package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chantier/internal/interfaces"
	"github.com/ternarybob/chantier/internal/models"
)

const maxLimit = 50

// Options tunes retrieval and generation
type Options struct {
	TopK            int
	MinSimilarity   float64
	MaxContextChars int
	Temperature     float32
}

// Service answers questions from the vector store
type Service struct {
	backend interfaces.EmbeddingBackend
	store   interfaces.VectorStore
	options Options
	logger  arbor.ILogger
}

// NewService creates a query engine
func NewService(backend interfaces.EmbeddingBackend, store interfaces.VectorStore, options Options, logger arbor.ILogger) *Service {
	if options.TopK < 1 {
		options.TopK = 6
	}
	return &Service{
		backend: backend,
		store:   store,
		options: options,
		logger:  logger,
	}
}

// Answer embeds the question, retrieves the closest chunks and generates a
// grounded answer. Backend failures are returned as typed errors and never
// produce a partial response. When nothing passes the similarity threshold the
// response has confidence 0 and no sources, and the generator is not called.
func (s *Service) Answer(ctx context.Context, q *models.RAGQuery) (*models.RAGResponse, error) {
	if q == nil || strings.TrimSpace(q.Question) == "" {
		return nil, interfaces.NewError(interfaces.KindInvalidInput, "answer", fmt.Errorf("%w: question is required", interfaces.ErrInvalidInput))
	}

	start := time.Now()
	question := strings.TrimSpace(q.Question)

	embedding, err := s.backend.Embed(ctx, question)
	if err != nil {
		return nil, typed("embed question", err)
	}

	k, filter := s.retrievalParams(q.Context)
	results, err := s.store.Query(ctx, embedding, k, filter)
	if err != nil {
		return nil, typed("retrieve", err)
	}

	grounded := results[:0:0]
	for _, r := range results {
		if r.Score >= s.options.MinSimilarity {
			grounded = append(grounded, r)
		}
	}

	response := &models.RAGResponse{
		Query:   q.Question,
		Sources: make([]*models.DocumentChunk, 0, len(grounded)),
		Scores:  make([]float64, 0, len(grounded)),
	}

	if len(grounded) == 0 {
		response.Answer = NoGroundingAnswer
		response.ProcessingTimeMs = time.Since(start).Milliseconds()

		s.logger.Info().
			Str("user_id", q.UserID).
			Int("candidates", len(results)).
			Msg(string(interfaces.KindNoGroundingFound))
		return response, nil
	}

	prompt, used := BuildPrompt(question, grounded, s.options.MaxContextChars)
	grounded = grounded[:used]

	answer, err := s.backend.Generate(ctx, prompt, interfaces.GenerateOptions{
		System:      systemPrompt,
		Temperature: s.options.Temperature,
	})
	if err != nil {
		return nil, typed("generate", err)
	}

	for _, r := range grounded {
		response.Sources = append(response.Sources, r.Chunk)
		response.Scores = append(response.Scores, r.Score)
	}
	response.Answer = answer
	response.Grounded = true
	response.Confidence = Confidence(response.Scores)
	response.ProcessingTimeMs = time.Since(start).Milliseconds()

	s.logger.Info().
		Str("user_id", q.UserID).
		Int("sources", len(response.Sources)).
		Int64("duration_ms", response.ProcessingTimeMs).
		Msg("Question answered")

	return response, nil
}

func (s *Service) retrievalParams(qc *models.QueryContext) (int, *models.ChunkFilter) {
	k := s.options.TopK
	if qc == nil {
		return k, nil
	}
	if qc.Limit > 0 {
		k = qc.Limit
		if k > maxLimit {
			k = maxLimit
		}
	}
	if qc.ScopeID == "" && qc.EntityType == "" {
		return k, nil
	}
	return k, &models.ChunkFilter{ScopeID: qc.ScopeID, EntityType: qc.EntityType}
}

// typed makes sure errors leaving the engine carry a kind. Context errors
// from the caller's deadline count as backend unavailability.
func typed(op string, err error) error {
	var ragErr *interfaces.RAGError
	if errors.As(err, &ragErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return interfaces.BackendUnavailable(op, err)
	}
	return interfaces.NewError(interfaces.KindOf(err), op, err)
}
