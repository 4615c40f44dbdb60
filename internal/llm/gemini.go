package llm

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiProvider embeds with the Gemini embedding API.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// Compile-time check that GeminiProvider implements Provider.
var _ Provider = (*GeminiProvider)(nil)

// NewGeminiProvider creates a Gemini client authenticated with an API key.
func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

// Name returns the provider/model label.
func (p *GeminiProvider) Name() string {
	return "gemini/" + p.model
}

// Embed sends one batch request; the task type follows the mode.
func (p *GeminiProvider) Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	em := p.client.EmbeddingModel(p.model)
	em.TaskType = geminiTaskType(mode)

	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, classifyError(p.Name(), err)
	}

	vectors := make([][]float32, 0, len(res.Embeddings))
	for i, e := range res.Embeddings {
		if e == nil {
			return nil, classifyError(p.Name(), fmt.Errorf("missing embedding %d", i))
		}
		vectors = append(vectors, e.Values)
	}
	return vectors, nil
}

// Close releases the underlying client.
func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

func geminiTaskType(mode Mode) genai.TaskType {
	if mode == ModeQuery {
		return genai.TaskTypeRetrievalQuery
	}
	return genai.TaskTypeRetrievalDocument
}
