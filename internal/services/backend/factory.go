package backend

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chantier/internal/common"
	"github.com/ternarybob/chantier/internal/interfaces"
)

// NewBackend builds the configured embedding backend
func NewBackend(ctx context.Context, config *common.Config, logger arbor.ILogger) (interfaces.EmbeddingBackend, error) {
	switch config.Backend.Provider {
	case common.BackendOllama, "":
		logger.Info().
			Str("base_url", config.Backend.BaseURL).
			Str("embed_model", config.Backend.EmbedModel).
			Str("chat_model", config.Backend.ChatModel).
			Msg("Using Ollama backend")
		return NewOllamaBackend(&config.Backend, logger), nil
	case common.BackendGemini:
		logger.Info().
			Str("embed_model", config.Backend.EmbedModel).
			Str("chat_model", config.Backend.ChatModel).
			Msg("Using Gemini backend")
		gemini, err := NewGeminiBackend(ctx, &config.Backend, config.RAG.EmbeddingDimension, logger)
		if err != nil {
			return nil, err
		}
		return gemini, nil
	}
	return nil, fmt.Errorf("unsupported backend provider: %s", config.Backend.Provider)
}
