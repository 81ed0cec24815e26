package app

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
	"github.com/ternarybob/chantier/internal/services/provider"
)

func testConfig(t *testing.T) *common.Config {
	cfg := common.NewDefaultConfig()
	cfg.Storage.Badger.Path = filepath.Join(t.TempDir(), "rag")
	cfg.MCP.Enabled = true
	return cfg
}

func testProvider() *provider.StaticProvider {
	data := provider.NewStaticProvider()
	data.Set(models.EntityTypeSite,
		&models.Site{EntityBase: models.EntityBase{ID: "s1"}, Name: "Lantin"},
		&models.Site{EntityBase: models.EntityBase{ID: "s2"}, Name: "Namur"},
	)
	return data
}

func TestNew_WiresServicesAndJobs(t *testing.T) {
	cfg := testConfig(t)
	app, err := New(cfg, arbor.NewLogger(), WithBackend(backendtest.NewStub("lantin", "namur")), WithDataProvider(testProvider()))
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.RAGHandler)
	assert.NotNil(t, app.MCPHandler)
	assert.True(t, app.SchedulerService.IsRunning())

	statuses := app.SchedulerService.GetAllJobStatuses()
	assert.Contains(t, statuses, JobReindex)
	assert.Contains(t, statuses, JobConversationPurge)

	report, err := app.Indexer.IndexAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Types[models.EntityTypeSite].Processed)
	assert.Equal(t, 2, app.VectorStore.Count())
}

func TestNew_IndexSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	stub := backendtest.NewStub("lantin", "namur")

	first, err := New(cfg, arbor.NewLogger(), WithBackend(stub), WithDataProvider(testProvider()))
	require.NoError(t, err)
	_, err = first.Indexer.IndexAll(context.Background())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := New(cfg, arbor.NewLogger(), WithBackend(stub), WithDataProvider(testProvider()))
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, 2, second.VectorStore.Count())
	assert.Equal(t, 3, second.VectorStore.Dimension())
}

func TestNew_ConfiguredDimensionConflictFailsFast(t *testing.T) {
	cfg := testConfig(t)
	stub := backendtest.NewStub("lantin", "namur")

	first, err := New(cfg, arbor.NewLogger(), WithBackend(stub), WithDataProvider(testProvider()))
	require.NoError(t, err)
	_, err = first.Indexer.IndexAll(context.Background())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	cfg.RAG.EmbeddingDimension = 768
	_, err = New(cfg, arbor.NewLogger(), WithBackend(stub), WithDataProvider(testProvider()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, interfaces.ErrStoreCorruption))
}
