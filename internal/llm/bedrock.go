package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// bedrockInvoker is the subset of the Bedrock runtime client used here.
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockProvider embeds with Cohere embedding models hosted on AWS Bedrock.
type BedrockProvider struct {
	client bedrockInvoker
	model  string
}

// Compile-time check that BedrockProvider implements Provider.
var _ Provider = (*BedrockProvider)(nil)

type cohereEmbedRequest struct {
	Texts     []string `json:"texts"`
	InputType string   `json:"input_type"`
	Truncate  string   `json:"truncate,omitempty"`
}

type cohereEmbedResponse struct {
	ID         string      `json:"id"`
	Embeddings [][]float32 `json:"embeddings"`
}

// NewBedrockProvider creates a Bedrock client from the default AWS credential chain.
func NewBedrockProvider(ctx context.Context, region, model string) (*BedrockProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &BedrockProvider{
		client: bedrockruntime.NewFromConfig(awsCfg),
		model:  model,
	}, nil
}

// Name returns the provider/model label.
func (p *BedrockProvider) Name() string {
	return "bedrock/" + p.model
}

// Embed sends one InvokeModel request for the whole batch.
func (p *BedrockProvider) Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	body, err := json.Marshal(cohereEmbedRequest{
		Texts:     texts,
		InputType: cohereInputType(mode),
		Truncate:  "END",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, classifyError(p.Name(), err)
	}

	var resp cohereEmbedResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, classifyError(p.Name(), fmt.Errorf("unmarshal response: %w", err))
	}
	return resp.Embeddings, nil
}

func cohereInputType(mode Mode) string {
	if mode == ModeQuery {
		return "search_query"
	}
	return "search_document"
}
