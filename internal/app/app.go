package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chantier/internal/common"
	"github.com/ternarybob/chantier/internal/handlers"
	"github.com/ternarybob/chantier/internal/interfaces"
	"github.com/ternarybob/chantier/internal/services/backend"
	"github.com/ternarybob/chantier/internal/services/conversation"
	"github.com/ternarybob/chantier/internal/services/events"
	"github.com/ternarybob/chantier/internal/services/indexer"
	"github.com/ternarybob/chantier/internal/services/provider"
	"github.com/ternarybob/chantier/internal/services/query"
	"github.com/ternarybob/chantier/internal/services/scheduler"
	"github.com/ternarybob/chantier/internal/services/vectorstore"
	"github.com/ternarybob/chantier/internal/storage"
)

// Scheduled job names
const (
	JobReindex           = "reindex"
	JobConversationPurge = "conversation_purge"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	ctx            context.Context
	cancelCtx      context.CancelFunc
	StorageManager interfaces.StorageManager

	// RAG services
	Backend             interfaces.EmbeddingBackend
	DataProvider        interfaces.BusinessDataProvider
	VectorStore         *vectorstore.Service
	Indexer             *indexer.Service
	QueryEngine         *query.Service
	ConversationService *conversation.Service

	// Event-driven services
	EventService     interfaces.EventService
	SchedulerService interfaces.SchedulerService

	// HTTP handlers
	APIHandler       *handlers.APIHandler
	RAGHandler       *handlers.RAGHandler
	SchedulerHandler *handlers.SchedulerHandler
	WSHandler        *handlers.WebSocketHandler
	MCPHandler       *handlers.MCPHandler
}

// Option overrides a component before services are wired, mainly for tests
type Option func(*App)

// WithBackend replaces the configured embedding backend
func WithBackend(b interfaces.EmbeddingBackend) Option {
	return func(a *App) { a.Backend = b }
}

// WithDataProvider replaces the YAML business data provider
func WithDataProvider(p interfaces.BusinessDataProvider) Option {
	return func(a *App) { a.DataProvider = p }
}

// New initializes the application with all dependencies. A persisted index
// that cannot be read aborts startup with a StoreCorruption error.
func New(cfg *common.Config, logger arbor.ILogger, opts ...Option) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}
	app.ctx, app.cancelCtx = context.WithCancel(context.Background())

	for _, opt := range opts {
		opt(app)
	}

	if err := app.initDatabase(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initHandlers(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	if err := app.initScheduler(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	if cfg.Indexer.RunOnStartup {
		common.SafeGo(logger, "startup-index", func() {
			if _, err := app.Indexer.IndexAll(app.ctx); err != nil {
				logger.Warn().Err(err).Msg("Startup indexing failed")
			}
		})
	}

	logger.Info().
		Int("chunks", app.VectorStore.Count()).
		Int("dimension", app.VectorStore.Dimension()).
		Msg("Application initialized")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

func (a *App) initServices() error {
	var err error

	a.VectorStore, err = vectorstore.NewService(a.ctx, a.StorageManager.ChunkStorage(), a.Config.RAG.EmbeddingDimension, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to load vector store: %w", err)
	}

	if a.Backend == nil {
		a.Backend, err = backend.NewBackend(a.ctx, a.Config, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to create embedding backend: %w", err)
		}
	}

	if a.DataProvider == nil {
		a.DataProvider = provider.NewFileProvider(a.Config.Data.FixturesPath, a.Logger)
	}

	a.EventService = events.NewService(a.Logger)
	if err := events.SubscribeLoggerToAllEvents(a.EventService, a.Logger); err != nil {
		return fmt.Errorf("failed to subscribe event logger: %w", err)
	}

	a.Indexer = indexer.NewService(a.DataProvider, a.Backend, a.VectorStore, a.EventService, indexer.Options{
		Concurrency:    a.Config.RAG.EmbedConcurrency,
		ReuseUnchanged: a.Config.RAG.ReuseUnchanged,
	}, a.Logger)

	a.QueryEngine = query.NewService(a.Backend, a.VectorStore, query.Options{
		TopK:            a.Config.RAG.TopK,
		MinSimilarity:   a.Config.RAG.MinSimilarity,
		MaxContextChars: a.Config.RAG.MaxContextChars,
		Temperature:     a.Config.Backend.Temperature,
	}, a.Logger)

	a.ConversationService = conversation.NewService(
		a.StorageManager.ConversationStorage(),
		a.EventService,
		a.Config.Conversation.MaxMessages,
		a.conversationTTL(),
		a.Logger,
	)

	return nil
}

func (a *App) initHandlers() error {
	a.APIHandler = handlers.NewAPIHandler(a.Logger)
	a.RAGHandler = handlers.NewRAGHandler(a.Indexer, a.QueryEngine, a.VectorStore, a.ConversationService, a.Backend, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.Logger, &a.Config.WebSocket)

	if a.Config.MCP.Enabled {
		a.MCPHandler = handlers.NewMCPHandler(a.QueryEngine, a.VectorStore, a.Indexer, a.Config.MCP.UserID, a.Logger)
		a.Logger.Debug().Str("user_id", a.Config.MCP.UserID).Msg("MCP endpoint enabled")
	}

	return nil
}

// initScheduler registers the reindex and conversation expiry jobs and starts the scheduler
func (a *App) initScheduler() error {
	a.SchedulerService = scheduler.NewService(a.Logger)

	if a.Config.Indexer.Schedule != "" {
		if err := a.SchedulerService.RegisterJob(JobReindex, a.Config.Indexer.Schedule, "Full reindex of business entities", func(ctx context.Context) error {
			_, err := a.Indexer.IndexAll(ctx)
			return err
		}); err != nil {
			return err
		}
	}

	ttl := a.conversationTTL()
	if err := a.SchedulerService.RegisterJob(JobConversationPurge, a.Config.Conversation.PurgeSchedule, "Purge expired conversations", func(ctx context.Context) error {
		_, err := a.ConversationService.PurgeExpired(ctx, ttl)
		return err
	}); err != nil {
		return err
	}

	if err := a.SchedulerService.Start(a.ctx); err != nil {
		return err
	}

	a.SchedulerHandler = handlers.NewSchedulerHandler(a.SchedulerService, a.Logger)
	return nil
}

func (a *App) conversationTTL() time.Duration {
	return common.MustDuration(a.Config.Conversation.TTL, 24*time.Hour)
}

// Close stops background work and releases storage, in reverse start order
func (a *App) Close() error {
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.Indexer != nil {
		a.Indexer.Close()
	}

	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.WSHandler != nil {
		a.WSHandler.Close()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
			return err
		}
		a.StorageManager = nil
	}

	a.Logger.Info().Msg("Application closed")
	return nil
}
