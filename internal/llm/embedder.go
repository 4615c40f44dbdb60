package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/echoes/internal/metrics"
)

// EmbedderOptions configures an Embedder.
type EmbedderOptions struct {
	// Dimension every provider vector must have.
	Dimension int
	// Timeout bounds a single provider call; zero means no extra bound.
	Timeout time.Duration
	// Reducer optionally projects vectors to a smaller dimension.
	Reducer *Reducer
	Metrics *metrics.Collector
}

// Embedder runs provider calls through the shared Gate and validates the result.
type Embedder struct {
	provider  Provider
	gate      *Gate
	reducer   *Reducer
	dimension int
	timeout   time.Duration
	metrics   *metrics.Collector
}

// NewEmbedder wires a provider to a gate.
func NewEmbedder(provider Provider, gate *Gate, opts EmbedderOptions) *Embedder {
	return &Embedder{
		provider:  provider,
		gate:      gate,
		reducer:   opts.Reducer,
		dimension: opts.Dimension,
		timeout:   opts.Timeout,
		metrics:   opts.Metrics,
	}
}

// Embed returns one vector per text, in input order.
// Quota rejections come back as ErrRateLimited, everything else as ErrProvider.
func (e *Embedder) Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	release, err := e.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	vectors, err := e.provider.Embed(callCtx, texts, mode)
	duration := time.Since(start)
	release()

	if err != nil {
		err = classifyError(e.provider.Name(), err)
		if errors.Is(err, ErrRateLimited) {
			e.metrics.Inc(metrics.CountRateLimited, 1)
			slog.Warn("embedding rate limited", "provider", e.provider.Name(), "texts", len(texts), "duration_ms", duration.Milliseconds())
		} else {
			slog.Warn("embedding failed", "provider", e.provider.Name(), "texts", len(texts), "duration_ms", duration.Milliseconds(), "error", err)
		}
		return nil, err
	}

	e.metrics.RecordItems(opForMode(mode), duration, len(texts))

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: count mismatch: got %d, want %d", ErrProvider, len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != e.dimension {
			return nil, fmt.Errorf("%w: embedding %d dimension mismatch: got %d, want %d", ErrProvider, i, len(v), e.dimension)
		}
	}

	if e.reducer != nil {
		vectors, err = e.reducer.Reduce(ctx, vectors)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProvider, err)
		}
	}

	slog.Debug("embedding complete", "provider", e.provider.Name(), "texts", len(texts), "duration_ms", duration.Milliseconds())
	return vectors, nil
}

// EmbedDocuments embeds ingestion sentences.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return e.Embed(ctx, texts, ModeDocument)
}

// EmbedQuery embeds a single retrieval prompt.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text}, ModeQuery)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Model returns the provider/model label.
func (e *Embedder) Model() string {
	return e.provider.Name()
}

// Dimension returns the dimension of stored vectors (after reduction).
func (e *Embedder) Dimension() int {
	if e.reducer != nil {
		return e.reducer.Dimension()
	}
	return e.dimension
}

func opForMode(mode Mode) string {
	if mode == ModeQuery {
		return metrics.OpEmbedQuery
	}
	return metrics.OpEmbedDocument
}
