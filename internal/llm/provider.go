// Package llm provides embedding providers behind a shared rate-limited gate.
package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/raphaelgruber/echoes/internal/config"
)

// Mode selects how a provider should treat the input texts.
type Mode string

const (
	// ModeDocument embeds corpus sentences at ingestion time.
	ModeDocument Mode = "document"

	// ModeQuery embeds a single retrieval prompt.
	ModeQuery Mode = "query"
)

// Provider turns texts into vectors, one per text, in input order.
// Implementations report quota rejections as ErrRateLimited.
type Provider interface {
	Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error)
	Name() string
}

// defaultModels maps each provider to its default model and vector width.
var defaultModels = map[string]struct {
	model     string
	dimension int
}{
	config.ProviderBedrock: {"cohere.embed-english-v3", 1024},
	config.ProviderGemini:  {"text-embedding-004", 768},
	config.ProviderOllama:  {"all-minilm:l6-v2", 384},
	config.ProviderOpenAI:  {"text-embedding-3-small", 1536},
}

// ResolveModel fills in the provider default for an empty model name or a
// zero dimension.
func ResolveModel(provider, model string, dimension int) (string, int, error) {
	def, ok := defaultModels[provider]
	if !ok {
		return "", 0, fmt.Errorf("unsupported embedding provider: %s", provider)
	}
	if model == "" {
		model = def.model
	}
	if dimension == 0 {
		dimension = def.dimension
	}
	return model, dimension, nil
}

// NewProvider creates the embedding provider named in configuration.
func NewProvider(ctx context.Context, cfg config.Config) (Provider, error) {
	model, _, err := ResolveModel(cfg.EmbedProvider, cfg.EmbedModel, cfg.EmbedDimension)
	if err != nil {
		return nil, err
	}

	httpClient := NewHTTPClient(http.DefaultTransport)
	httpClient.Timeout = cfg.EmbedTimeout

	switch cfg.EmbedProvider {
	case config.ProviderBedrock:
		return NewBedrockProvider(ctx, cfg.AWSRegion, model)

	case config.ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("Gemini API key required")
		}
		return NewGeminiProvider(ctx, cfg.GeminiAPIKey, model)

	case config.ProviderOllama:
		return NewOllamaProvider(cfg.OllamaHost, model, httpClient)

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		return NewOpenAIProvider(cfg.OpenAIAPIKey, model, httpClient)

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.EmbedProvider)
	}
}
