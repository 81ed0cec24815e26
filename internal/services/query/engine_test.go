package query

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chantier/internal/common"
	"github.com/ternarybob/chantier/internal/interfaces"
	"github.com/ternarybob/chantier/internal/models"
	"github.com/ternarybob/chantier/internal/services/backend/backendtest"
	"github.com/ternarybob/chantier/internal/services/indexer"
	"github.com/ternarybob/chantier/internal/services/provider"
	"github.com/ternarybob/chantier/internal/services/vectorstore"
	"github.com/ternarybob/chantier/internal/storage/badger"
)

type fixture struct {
	engine  *Service
	store   *vectorstore.Service
	backend *backendtest.Stub
}

// newIndexedFixture indexes three sites named Lantin, Namur and Liège plus a
// task scoped to Namur
func newIndexedFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := arbor.NewLogger()

	manager, err := badger.NewManager(logger, &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "rag")})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	store, err := vectorstore.NewService(ctx, manager.ChunkStorage(), 0, logger)
	require.NoError(t, err)

	data := provider.NewStaticProvider()
	data.Set(models.EntityTypeSite,
		&models.Site{EntityBase: models.EntityBase{ID: "s1"}, Name: "Lantin", City: "Lantin"},
		&models.Site{EntityBase: models.EntityBase{ID: "s2"}, Name: "Namur", City: "Namur"},
		&models.Site{EntityBase: models.EntityBase{ID: "s3"}, Name: "Liège", City: "Liège"},
	)
	data.Set(models.EntityTypeTask,
		&models.Task{EntityBase: models.EntityBase{ID: "t1"}, Title: "Coffrage Namur", SiteID: "s2", SiteName: "Namur"},
	)

	stub := backendtest.NewStub("lantin", "namur", "liège")
	idx := indexer.NewService(data, stub, store, nil, indexer.Options{Concurrency: 2}, logger)
	t.Cleanup(idx.Close)

	_, err = idx.IndexAll(ctx)
	require.NoError(t, err)

	engine := NewService(stub, store, Options{TopK: 5, MinSimilarity: 0.25, MaxContextChars: 4000}, logger)
	return &fixture{engine: engine, store: store, backend: stub}
}

func TestAnswer_GroundsOnBestMatch(t *testing.T) {
	f := newIndexedFixture(t)

	resp, err := f.engine.Answer(context.Background(), &models.RAGQuery{Question: "chantier Lantin", UserID: "alice"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Sources)

	assert.Equal(t, "site:s1", resp.Sources[0].ID)
	assert.Greater(t, resp.Confidence, 0.0)
	assert.LessOrEqual(t, resp.Confidence, 1.0)
	assert.True(t, resp.Grounded)
	assert.Equal(t, "chantier Lantin", resp.Query)
	assert.Equal(t, "stub answer", resp.Answer)
	assert.Len(t, resp.Scores, len(resp.Sources))
	assert.GreaterOrEqual(t, resp.ProcessingTimeMs, int64(0))

	assert.Equal(t, 1, f.backend.GenerateCalls())
	assert.Contains(t, f.backend.LastPrompt(), "[Chantier] Lantin")
	assert.Contains(t, f.backend.LastPrompt(), "Question: chantier Lantin")
	assert.NotContains(t, f.backend.LastPrompt(), "[Chantier] Namur")
}

func TestAnswer_BackendUnavailableOnEmbed(t *testing.T) {
	f := newIndexedFixture(t)
	f.backend.FailEmbed(interfaces.BackendUnavailable("embed", errors.New("connection refused")))

	resp, err := f.engine.Answer(context.Background(), &models.RAGQuery{Question: "chantier Lantin", UserID: "alice"})
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, interfaces.KindBackendUnavailable, interfaces.KindOf(err))
	assert.True(t, errors.Is(err, interfaces.ErrBackendUnavailable))
	assert.Equal(t, 0, f.backend.GenerateCalls())
}

func TestAnswer_BackendUnavailableOnGenerate(t *testing.T) {
	f := newIndexedFixture(t)
	f.backend.FailGenerate(interfaces.BackendUnavailable("generate", errors.New("timeout")))

	resp, err := f.engine.Answer(context.Background(), &models.RAGQuery{Question: "chantier Lantin"})
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, interfaces.KindBackendUnavailable, interfaces.KindOf(err))
}

func TestAnswer_UntypedContextErrorIsBackendUnavailable(t *testing.T) {
	f := newIndexedFixture(t)
	f.backend.FailGenerate(context.DeadlineExceeded)

	_, err := f.engine.Answer(context.Background(), &models.RAGQuery{Question: "chantier Lantin"})
	assert.Equal(t, interfaces.KindBackendUnavailable, interfaces.KindOf(err))
}

func TestAnswer_NoGroundingFound(t *testing.T) {
	f := newIndexedFixture(t)

	resp, err := f.engine.Answer(context.Background(), &models.RAGQuery{Question: "Bruxelles"})
	require.NoError(t, err)

	assert.Equal(t, 0.0, resp.Confidence)
	assert.Empty(t, resp.Sources)
	assert.NotNil(t, resp.Sources)
	assert.False(t, resp.Grounded)
	assert.Equal(t, NoGroundingAnswer, resp.Answer)
	assert.Equal(t, 0, f.backend.GenerateCalls())
}

func TestAnswer_EmptyStoreIsNoGrounding(t *testing.T) {
	f := newIndexedFixture(t)
	require.NoError(t, f.store.Clear(context.Background()))

	resp, err := f.engine.Answer(context.Background(), &models.RAGQuery{Question: "chantier Lantin"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, resp.Confidence)
}

func TestAnswer_ScopeFilter(t *testing.T) {
	f := newIndexedFixture(t)

	resp, err := f.engine.Answer(context.Background(), &models.RAGQuery{
		Question: "Namur",
		Context:  &models.QueryContext{ScopeID: "s2"},
	})
	require.NoError(t, err)

	ids := []string{}
	for _, s := range resp.Sources {
		ids = append(ids, s.ID)
		assert.True(t, s.Metadata.ScopeID == "s2" || s.ID == "site:s2", s.ID)
	}
	assert.ElementsMatch(t, []string{"site:s2", "task:t1"}, ids)

	resp, err = f.engine.Answer(context.Background(), &models.RAGQuery{
		Question: "Namur",
		Context:  &models.QueryContext{Limit: 1},
	})
	require.NoError(t, err)
	assert.Len(t, resp.Sources, 1)
}

func TestAnswer_RejectsEmptyQuestion(t *testing.T) {
	f := newIndexedFixture(t)

	_, err := f.engine.Answer(context.Background(), &models.RAGQuery{Question: "   "})
	assert.True(t, errors.Is(err, interfaces.ErrInvalidInput))

	_, err = f.engine.Answer(context.Background(), nil)
	assert.True(t, errors.Is(err, interfaces.ErrInvalidInput))
}
