package llm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInvoker struct {
	input *bedrockruntime.InvokeModelInput
	body  []byte
	err   error
}

func (f *fakeInvoker) InvokeModel(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.body}, nil
}

func TestBedrockEmbed(t *testing.T) {
	tests := []struct {
		mode      Mode
		inputType string
	}{
		{ModeDocument, "search_document"},
		{ModeQuery, "search_query"},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			inv := &fakeInvoker{body: []byte(`{"id":"x","embeddings":[[0.1,0.2],[0.3,0.4]]}`)}
			p := &BedrockProvider{client: inv, model: "cohere.embed-english-v3"}

			vectors, err := p.Embed(context.Background(), []string{"a", "b"}, tt.mode)
			require.NoError(t, err)
			assert.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, vectors)

			assert.Equal(t, "cohere.embed-english-v3", aws.ToString(inv.input.ModelId))
			var req cohereEmbedRequest
			require.NoError(t, json.Unmarshal(inv.input.Body, &req))
			assert.Equal(t, []string{"a", "b"}, req.Texts)
			assert.Equal(t, tt.inputType, req.InputType)
		})
	}
}

func TestBedrockThrottling(t *testing.T) {
	inv := &fakeInvoker{err: &types.ThrottlingException{Message: aws.String("too many requests")}}
	p := &BedrockProvider{client: inv, model: "cohere.embed-english-v3"}

	_, err := p.Embed(context.Background(), []string{"a"}, ModeDocument)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestResolveModel(t *testing.T) {
	model, dim, err := ResolveModel("gemini", "", 0)
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-004", model)
	assert.Equal(t, 768, dim)

	model, dim, err = ResolveModel("ollama", "nomic-embed-text", 768)
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", model)
	assert.Equal(t, 768, dim)

	_, _, err = ResolveModel("anthropic", "", 0)
	assert.Error(t, err)
}
