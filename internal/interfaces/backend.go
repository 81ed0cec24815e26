package interfaces

import (
	"context"
)

// GenerateOptions tunes a single generation call
type GenerateOptions struct {
	System      string  // Optional system instruction
	Temperature float32 // 0 keeps the backend default
	MaxTokens   int     // 0 keeps the backend default
}

// EmbeddingBackend is the narrow capability surface of the external
// embedding/generation service. Transport failures are returned as
// ErrBackendUnavailable and malformed payloads as ErrInvalidBackendResponse.
type EmbeddingBackend interface {
	// Health reports whether the backend is reachable. It never returns an error.
	Health(ctx context.Context) bool

	// ListModels returns the model names the backend can serve
	ListModels(ctx context.Context) ([]string, error)

	// Embed returns the embedding vector for text using the configured embed model
	Embed(ctx context.Context, text string) ([]float32, error)

	// Generate returns the completion for prompt using the configured chat model
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

	// EmbedModel names the model used by Embed
	EmbedModel() string
}
