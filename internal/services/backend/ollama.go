package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chantier/internal/common"
	"github.com/ternarybob/chantier/internal/interfaces"
)

// OllamaBackend implements EmbeddingBackend against an Ollama-compatible HTTP API
type OllamaBackend struct {
	baseURL    string
	embedModel string
	chatModel  string
	options    ollamaOptions
	client     *http.Client
	retrier    *retrier
	logger     arbor.ILogger
}

type ollamaOptions struct {
	Temperature float32 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaGenerateResponse struct {
	Response *string `json:"response"`
	Done     bool    `json:"done"`
}

// NewOllamaBackend creates an Ollama client from backend configuration
func NewOllamaBackend(config *common.BackendConfig, logger arbor.ILogger) *OllamaBackend {
	policy := NewRetryPolicy(config)
	return &OllamaBackend{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		embedModel: config.EmbedModel,
		chatModel:  config.ChatModel,
		options:    ollamaOptions{Temperature: config.Temperature},
		client:     &http.Client{},
		retrier:    newRetrier(policy, config.RateLimit, logger),
		logger:     logger,
	}
}

// EmbedModel names the model used by Embed
func (b *OllamaBackend) EmbedModel() string {
	return b.embedModel
}

// Health reports whether /api/tags answers within the per-attempt timeout
func (b *OllamaBackend) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, b.retrier.policy.Timeout)
	defer cancel()

	var tags ollamaTagsResponse
	if err := b.call(ctx, http.MethodGet, "/api/tags", nil, &tags); err != nil {
		b.logger.Debug().Err(err).Str("base_url", b.baseURL).Msg("Ollama health check failed")
		return false
	}
	return true
}

// ListModels returns the names of locally available models
func (b *OllamaBackend) ListModels(ctx context.Context) ([]string, error) {
	var tags ollamaTagsResponse
	err := b.retrier.do(ctx, "list models", func(ctx context.Context) error {
		return b.call(ctx, http.MethodGet, "/api/tags", nil, &tags)
	})
	if err != nil {
		return nil, err
	}

	models := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

// Embed returns the embedding for text
func (b *OllamaBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, interfaces.NewError(interfaces.KindInvalidInput, "embed", fmt.Errorf("%w: empty text", interfaces.ErrInvalidInput))
	}

	var resp ollamaEmbedResponse
	err := b.retrier.do(ctx, "embed", func(ctx context.Context) error {
		resp = ollamaEmbedResponse{}
		if err := b.call(ctx, http.MethodPost, "/api/embed", ollamaEmbedRequest{Model: b.embedModel, Input: text}, &resp); err != nil {
			return err
		}
		if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
			return permanent(interfaces.InvalidBackendResponse("embed", fmt.Errorf("%w: empty embedding", interfaces.ErrInvalidBackendResponse)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

// Generate returns the non-streamed completion for prompt
func (b *OllamaBackend) Generate(ctx context.Context, prompt string, opts interfaces.GenerateOptions) (string, error) {
	options := b.options
	if opts.Temperature > 0 {
		options.Temperature = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		options.NumPredict = opts.MaxTokens
	}

	req := ollamaGenerateRequest{
		Model:   b.chatModel,
		Prompt:  prompt,
		System:  opts.System,
		Stream:  false,
		Options: options,
	}

	var resp ollamaGenerateResponse
	start := time.Now()
	err := b.retrier.do(ctx, "generate", func(ctx context.Context) error {
		resp = ollamaGenerateResponse{}
		if err := b.call(ctx, http.MethodPost, "/api/generate", req, &resp); err != nil {
			return err
		}
		if resp.Response == nil {
			return permanent(interfaces.InvalidBackendResponse("generate", fmt.Errorf("%w: missing response field", interfaces.ErrInvalidBackendResponse)))
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	b.logger.Debug().
		Str("model", b.chatModel).
		Dur("duration", time.Since(start)).
		Int("response_length", len(*resp.Response)).
		Msg("Generation completed")

	return strings.TrimSpace(*resp.Response), nil
}

// call performs one HTTP exchange. Transport errors and 5xx/429 statuses are
// retryable; other statuses and undecodable bodies are permanent.
func (b *OllamaBackend) call(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return permanent(fmt.Errorf("failed to marshal request: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return permanent(fmt.Errorf("failed to create request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := fmt.Errorf("%w: %s returned status %d: %s", interfaces.ErrBackendUnavailable, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return statusErr
		}
		return permanent(interfaces.BackendUnavailable(path, statusErr))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return permanent(interfaces.InvalidBackendResponse(path, fmt.Errorf("%w: %v", interfaces.ErrInvalidBackendResponse, err)))
	}
	return nil
}
