package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chantier/internal/common"
	"github.com/ternarybob/chantier/internal/interfaces"
	"google.golang.org/genai"
)

// GeminiBackend implements EmbeddingBackend using the Google Gemini API
type GeminiBackend struct {
	client      *genai.Client
	embedModel  string
	chatModel   string
	temperature float32
	dimension   int
	retrier     *retrier
	logger      arbor.ILogger
}

// NewGeminiBackend creates a Gemini client. dimension requests a reduced
// embedding size when > 0.
func NewGeminiBackend(ctx context.Context, config *common.BackendConfig, dimension int, logger arbor.ILogger) (*GeminiBackend, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini backend requires an API key (backend.api_key or GEMINI_API_KEY)")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiBackend{
		client:      client,
		embedModel:  config.EmbedModel,
		chatModel:   config.ChatModel,
		temperature: config.Temperature,
		dimension:   dimension,
		retrier:     newRetrier(NewRetryPolicy(config), config.RateLimit, logger),
		logger:      logger,
	}, nil
}

// EmbedModel names the model used by Embed
func (b *GeminiBackend) EmbedModel() string {
	return b.embedModel
}

// Health lists models once without retrying
func (b *GeminiBackend) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, b.retrier.policy.Timeout)
	defer cancel()

	if _, err := b.client.Models.List(ctx, &genai.ListModelsConfig{}); err != nil {
		b.logger.Debug().Err(err).Msg("Gemini health check failed")
		return false
	}
	return true
}

// ListModels returns the first page of model names
func (b *GeminiBackend) ListModels(ctx context.Context) ([]string, error) {
	var names []string
	err := b.retrier.do(ctx, "list models", func(ctx context.Context) error {
		page, err := b.client.Models.List(ctx, &genai.ListModelsConfig{})
		if err != nil {
			return err
		}
		names = names[:0]
		for _, model := range page.Items {
			names = append(names, strings.TrimPrefix(model.Name, "models/"))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// Embed returns the embedding for text
func (b *GeminiBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, interfaces.NewError(interfaces.KindInvalidInput, "embed", fmt.Errorf("%w: empty text", interfaces.ErrInvalidInput))
	}

	embedConfig := &genai.EmbedContentConfig{}
	if b.dimension > 0 {
		dim := int32(b.dimension)
		embedConfig.OutputDimensionality = &dim
	}

	var embedding []float32
	err := b.retrier.do(ctx, "embed", func(ctx context.Context) error {
		result, err := b.client.Models.EmbedContent(ctx, b.embedModel, []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, embedConfig)
		if err != nil {
			return err
		}
		if result == nil || len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
			return permanent(interfaces.InvalidBackendResponse("embed", fmt.Errorf("%w: no embedding returned", interfaces.ErrInvalidBackendResponse)))
		}
		embedding = result.Embeddings[0].Values
		return nil
	})
	if err != nil {
		return nil, err
	}
	return embedding, nil
}

// Generate returns the completion for prompt
func (b *GeminiBackend) Generate(ctx context.Context, prompt string, opts interfaces.GenerateOptions) (string, error) {
	temperature := b.temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(temperature),
	}
	if opts.System != "" {
		config.SystemInstruction = genai.NewContentFromText(opts.System, genai.RoleUser)
	}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}

	var answer string
	err := b.retrier.do(ctx, "generate", func(ctx context.Context) error {
		resp, err := b.client.Models.GenerateContent(ctx, b.chatModel, []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, config)
		if err != nil {
			return err
		}

		var response strings.Builder
		if resp != nil {
			for _, candidate := range resp.Candidates {
				if candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					response.WriteString(part.Text)
				}
				if response.Len() > 0 {
					break
				}
			}
		}
		if response.Len() == 0 {
			return permanent(interfaces.InvalidBackendResponse("generate", fmt.Errorf("%w: no text in response", interfaces.ErrInvalidBackendResponse)))
		}
		answer = strings.TrimSpace(response.String())
		return nil
	})
	if err != nil {
		return "", err
	}
	return answer, nil
}
