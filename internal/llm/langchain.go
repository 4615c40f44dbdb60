package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainProvider embeds through a langchaingo embedder (Ollama or OpenAI).
type LangChainProvider struct {
	model embeddings.Embedder
	name  string
}

// Compile-time check that LangChainProvider implements Provider.
var _ Provider = (*LangChainProvider)(nil)

// NewOllamaProvider creates a provider backed by a local Ollama server.
// httpClient should come from NewHTTPClient so 429 responses are detected.
func NewOllamaProvider(host, model string, httpClient *http.Client) (*LangChainProvider, error) {
	llm, err := ollama.New(
		ollama.WithModel(model),
		ollama.WithServerURL(host),
		ollama.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create ollama embedder: %w", err)
	}
	return &LangChainProvider{model: embedder, name: "ollama/" + model}, nil
}

// NewOpenAIProvider creates a provider backed by the OpenAI embeddings API.
func NewOpenAIProvider(apiKey, model string, httpClient *http.Client) (*LangChainProvider, error) {
	llm, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithEmbeddingModel(model),
		openai.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create openai embedder: %w", err)
	}
	return &LangChainProvider{model: embedder, name: "openai/" + model}, nil
}

// Name returns the provider/model label.
func (p *LangChainProvider) Name() string {
	return p.name
}

// Embed uses EmbedQuery for a single query text and EmbedDocuments otherwise.
func (p *LangChainProvider) Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	ctx, rec := withStatusRecorder(ctx)

	var vectors [][]float32
	var err error
	if mode == ModeQuery && len(texts) == 1 {
		var v []float32
		v, err = p.model.EmbedQuery(ctx, texts[0])
		if err == nil {
			vectors = [][]float32{v}
		}
	} else {
		vectors, err = p.model.EmbedDocuments(ctx, texts)
	}

	if err != nil {
		if statusErr := rec.err(); statusErr != nil {
			err = fmt.Errorf("%w: %w", statusErr, err)
		}
		return nil, classifyError(p.name, err)
	}
	return vectors, nil
}
