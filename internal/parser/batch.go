package parser

import (
	"errors"
	"fmt"
)

// ErrOversizedSentence means a single sentence exceeds the per-batch token budget.
// It cannot be fixed by retrying; the text must be cleaned and re-uploaded.
var ErrOversizedSentence = errors.New("sentence exceeds token budget")

// BatchOptions bounds each embedding request.
type BatchOptions struct {
	MaxBatchSize int
	MaxTokens    int
}

// DefaultBatchOptions returns the provider limits for a single embed call.
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{
		MaxBatchSize: 96,
		MaxTokens:    32000,
	}
}

// Batch greedily packs sentences, in order, into batches holding at most
// MaxBatchSize sentences and MaxTokens tokens.
func Batch(sentences []string, tok Tokenizer, opts BatchOptions) ([][]string, error) {
	if opts.MaxBatchSize <= 0 || opts.MaxTokens <= 0 {
		return nil, fmt.Errorf("invalid batch options: size=%d tokens=%d", opts.MaxBatchSize, opts.MaxTokens)
	}

	var batches [][]string
	var current []string
	tokens := 0

	for i, s := range sentences {
		n := tok.Count(s)
		if n > opts.MaxTokens {
			return nil, fmt.Errorf("%w: sentence %d has %d tokens (max %d)", ErrOversizedSentence, i, n, opts.MaxTokens)
		}

		if len(current) > 0 && (len(current) >= opts.MaxBatchSize || tokens+n > opts.MaxTokens) {
			batches = append(batches, current)
			current = nil
			tokens = 0
		}

		current = append(current, s)
		tokens += n
	}

	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches, nil
}
