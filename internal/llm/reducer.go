package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Reducer projects embeddings to a lower dimension through an external PCA service.
type Reducer struct {
	url        string
	dimension  int
	httpClient *http.Client
}

// NewReducer creates a client for the PCA service at baseURL.
func NewReducer(baseURL string, dimension int, timeout time.Duration) *Reducer {
	return &Reducer{
		url:        strings.TrimRight(baseURL, "/") + "/pca",
		dimension:  dimension,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type pcaRequest struct {
	Embeddings [][]float32 `json:"embeddings"`
	OutputDim  int         `json:"output_dim"`
}

type pcaResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

// Dimension returns the output dimension.
func (r *Reducer) Dimension() int {
	return r.dimension
}

// Reduce sends vectors to the service and returns the projected vectors in order.
func (r *Reducer) Reduce(ctx context.Context, vectors [][]float32) ([][]float32, error) {
	body, err := json.Marshal(pcaRequest{Embeddings: vectors, OutputDim: r.dimension})
	if err != nil {
		return nil, fmt.Errorf("marshal pca request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create pca request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pca request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("pca service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out pcaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode pca response: %w", err)
	}

	if len(out.Vectors) != len(vectors) {
		return nil, fmt.Errorf("pca count mismatch: got %d, want %d", len(out.Vectors), len(vectors))
	}
	for i, v := range out.Vectors {
		if len(v) != r.dimension {
			return nil, fmt.Errorf("pca vector %d dimension mismatch: got %d, want %d", i, len(v), r.dimension)
		}
	}
	return out.Vectors, nil
}
