package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment  string             `toml:"environment"` // "development" or "production"
	Server       ServerConfig       `toml:"server"`
	Storage      StorageConfig      `toml:"storage"`
	Logging      LoggingConfig      `toml:"logging"`
	Backend      BackendConfig      `toml:"backend"`
	RAG          RAGConfig          `toml:"rag"`
	Conversation ConversationConfig `toml:"conversation"`
	Indexer      IndexerConfig      `toml:"indexer"`
	Data         DataConfig         `toml:"data"`
	Auth         AuthConfig         `toml:"auth"`
	WebSocket    WebSocketConfig    `toml:"websocket"`
	MCP          MCPConfig          `toml:"mcp"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// BackendProvider selects the embedding/generation backend implementation
type BackendProvider string

const (
	// BackendOllama talks to an Ollama-compatible HTTP API
	BackendOllama BackendProvider = "ollama"
	// BackendGemini uses the Google Gemini API
	BackendGemini BackendProvider = "gemini"
)

// BackendConfig configures the embedding/generation backend
type BackendConfig struct {
	Provider       BackendProvider `toml:"provider"`        // "ollama" (default) or "gemini"
	BaseURL        string          `toml:"base_url"`        // Ollama base URL
	EmbedModel     string          `toml:"embed_model"`     // Model used for embeddings
	ChatModel      string          `toml:"chat_model"`      // Model used for generation
	APIKey         string          `toml:"api_key"`         // Gemini only
	Timeout        string          `toml:"timeout"`         // Per-attempt timeout, e.g. "30s"
	MaxAttempts    int             `toml:"max_attempts"`    // Total attempts including the first
	InitialBackoff string          `toml:"initial_backoff"` // Wait before the first retry
	MaxBackoff     string          `toml:"max_backoff"`     // Cap for exponential backoff
	RateLimit      float64         `toml:"rate_limit"`      // Requests per second, 0 = unlimited
	Temperature    float32         `toml:"temperature"`     // Generation temperature
}

// RAGConfig configures retrieval and answer generation
type RAGConfig struct {
	TopK               int     `toml:"top_k"`               // Chunks retrieved per question
	MinSimilarity      float64 `toml:"min_similarity"`      // Chunks below this score are not used for grounding
	MaxContextChars    int     `toml:"max_context_chars"`   // Upper bound for the grounding context in the prompt
	EmbeddingDimension int     `toml:"embedding_dimension"` // 0 = adopt the dimension of the first stored embedding
	ReuseUnchanged     bool    `toml:"reuse_unchanged"`     // Reuse stored embeddings when content is unchanged
	EmbedConcurrency   int     `toml:"embed_concurrency"`   // Parallel embedding requests per entity type
}

// ConversationConfig configures the per-user message log
type ConversationConfig struct {
	MaxMessages   int    `toml:"max_messages"`   // M: most recent messages kept per user
	TTL           string `toml:"ttl"`            // Inactivity duration before a conversation is purged
	PurgeSchedule string `toml:"purge_schedule"` // Cron expression for the expiry sweep
}

// IndexerConfig configures background reindexing
type IndexerConfig struct {
	Schedule     string `toml:"schedule"`       // Cron expression, empty disables scheduled reindex
	RunOnStartup bool   `toml:"run_on_startup"` // Trigger IndexAll once the app has started
}

// DataConfig locates the business data provider
type DataConfig struct {
	FixturesPath string `toml:"fixtures_path"` // YAML file with business entities
}

// AuthConfig describes how the resolved caller identity reaches the service
type AuthConfig struct {
	UserHeader string `toml:"user_header"` // Header set by the upstream auth proxy
}

// WebSocketConfig contains configuration for index event streaming
type WebSocketConfig struct {
	Throttle string `toml:"throttle"` // Minimum interval between type-progress events per client
}

// MCPConfig configures the in-process MCP endpoint
type MCPConfig struct {
	Enabled bool   `toml:"enabled"`
	UserID  string `toml:"user_id"` // Identity used for MCP tool calls
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/rag",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Backend: BackendConfig{
			Provider:       BackendOllama,
			BaseURL:        "http://localhost:11434",
			EmbedModel:     "nomic-embed-text",
			ChatModel:      "llama3.1",
			Timeout:        "60s",
			MaxAttempts:    3,
			InitialBackoff: "500ms",
			MaxBackoff:     "5s",
			RateLimit:      0,
			Temperature:    0.2,
		},
		RAG: RAGConfig{
			TopK:               6,
			MinSimilarity:      0.25,
			MaxContextChars:    12000,
			EmbeddingDimension: 0,
			ReuseUnchanged:     true,
			EmbedConcurrency:   4,
		},
		Conversation: ConversationConfig{
			MaxMessages:   50,
			TTL:           "24h",
			PurgeSchedule: "*/15 * * * *",
		},
		Indexer: IndexerConfig{
			Schedule:     "0 3 * * *", // Nightly full reindex
			RunOnStartup: false,
		},
		Data: DataConfig{
			FixturesPath: "./data/entities.yaml",
		},
		Auth: AuthConfig{
			UserHeader: "X-User-ID",
		},
		WebSocket: WebSocketConfig{
			Throttle: "250ms",
		},
		MCP: MCPConfig{
			Enabled: false,
			UserID:  "mcp",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("CHANTIER_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("CHANTIER_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("CHANTIER_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("CHANTIER_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("CHANTIER_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("CHANTIER_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Backend configuration
	if provider := os.Getenv("CHANTIER_BACKEND_PROVIDER"); provider != "" {
		config.Backend.Provider = BackendProvider(provider)
	}
	if baseURL := os.Getenv("CHANTIER_BACKEND_BASE_URL"); baseURL != "" {
		config.Backend.BaseURL = baseURL
	} else if ollamaHost := os.Getenv("OLLAMA_HOST"); ollamaHost != "" {
		config.Backend.BaseURL = ollamaHost
	}
	if model := os.Getenv("CHANTIER_BACKEND_EMBED_MODEL"); model != "" {
		config.Backend.EmbedModel = model
	}
	if model := os.Getenv("CHANTIER_BACKEND_CHAT_MODEL"); model != "" {
		config.Backend.ChatModel = model
	}
	if apiKey := os.Getenv("CHANTIER_BACKEND_API_KEY"); apiKey != "" {
		config.Backend.APIKey = apiKey
	} else if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" && config.Backend.APIKey == "" {
		config.Backend.APIKey = apiKey
	}
	if timeout := os.Getenv("CHANTIER_BACKEND_TIMEOUT"); timeout != "" {
		config.Backend.Timeout = timeout
	}
	if attempts := os.Getenv("CHANTIER_BACKEND_MAX_ATTEMPTS"); attempts != "" {
		if a, err := strconv.Atoi(attempts); err == nil {
			config.Backend.MaxAttempts = a
		}
	}

	// RAG configuration
	if topK := os.Getenv("CHANTIER_RAG_TOP_K"); topK != "" {
		if k, err := strconv.Atoi(topK); err == nil {
			config.RAG.TopK = k
		}
	}
	if minSimilarity := os.Getenv("CHANTIER_RAG_MIN_SIMILARITY"); minSimilarity != "" {
		if ms, err := strconv.ParseFloat(minSimilarity, 64); err == nil {
			config.RAG.MinSimilarity = ms
		}
	}

	// Conversation configuration
	if maxMessages := os.Getenv("CHANTIER_CONVERSATION_MAX_MESSAGES"); maxMessages != "" {
		if m, err := strconv.Atoi(maxMessages); err == nil {
			config.Conversation.MaxMessages = m
		}
	}
	if ttl := os.Getenv("CHANTIER_CONVERSATION_TTL"); ttl != "" {
		config.Conversation.TTL = ttl
	}

	// Indexer configuration
	if schedule, ok := os.LookupEnv("CHANTIER_INDEXER_SCHEDULE"); ok {
		config.Indexer.Schedule = schedule
	}
	if runOnStartup := os.Getenv("CHANTIER_INDEXER_RUN_ON_STARTUP"); runOnStartup != "" {
		if r, err := strconv.ParseBool(runOnStartup); err == nil {
			config.Indexer.RunOnStartup = r
		}
	}

	if fixtures := os.Getenv("CHANTIER_DATA_FIXTURES_PATH"); fixtures != "" {
		config.Data.FixturesPath = fixtures
	}
	if header := os.Getenv("CHANTIER_AUTH_USER_HEADER"); header != "" {
		config.Auth.UserHeader = header
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks values that would otherwise fail late at runtime
func (c *Config) Validate() error {
	switch c.Backend.Provider {
	case BackendOllama, BackendGemini:
	default:
		return fmt.Errorf("unsupported backend provider: %s (expected 'ollama' or 'gemini')", c.Backend.Provider)
	}

	for name, value := range map[string]string{
		"backend.timeout":         c.Backend.Timeout,
		"backend.initial_backoff": c.Backend.InitialBackoff,
		"backend.max_backoff":     c.Backend.MaxBackoff,
		"conversation.ttl":        c.Conversation.TTL,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s '%s': %w", name, value, err)
		}
	}

	if c.Backend.MaxAttempts < 1 {
		return fmt.Errorf("backend.max_attempts must be at least 1, got %d", c.Backend.MaxAttempts)
	}
	if c.RAG.TopK < 1 {
		return fmt.Errorf("rag.top_k must be at least 1, got %d", c.RAG.TopK)
	}
	if c.RAG.MinSimilarity < -1 || c.RAG.MinSimilarity > 1 {
		return fmt.Errorf("rag.min_similarity must be within [-1, 1], got %v", c.RAG.MinSimilarity)
	}
	if c.Conversation.MaxMessages < 1 {
		return fmt.Errorf("conversation.max_messages must be at least 1, got %d", c.Conversation.MaxMessages)
	}

	if err := ValidateSchedule(c.Conversation.PurgeSchedule); err != nil {
		return fmt.Errorf("conversation.purge_schedule: %w", err)
	}
	if c.Indexer.Schedule != "" {
		if err := ValidateSchedule(c.Indexer.Schedule); err != nil {
			return fmt.Errorf("indexer.schedule: %w", err)
		}
	}

	return nil
}

// ValidateSchedule validates a standard 5-field cron expression
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// MustDuration parses a duration already checked by Validate
func MustDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
