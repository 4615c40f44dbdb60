package service

import (
	"errors"
	"fmt"

	"github.com/raphaelgruber/echoes/internal/llm"
	"github.com/raphaelgruber/echoes/internal/models"
	"github.com/raphaelgruber/echoes/internal/parser"
)

// Sentinel errors for service operations.
var (
	// ErrValidation means the caller's input was rejected.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is a validation error for a missing record.
	ErrNotFound = fmt.Errorf("%w: not found", ErrValidation)

	// ErrStorage wraps any persistence failure.
	ErrStorage = errors.New("storage error")

	// ErrNoCandidates means every participant sentence was already spoken.
	ErrNoCandidates = errors.New("no unused sentences left")

	// ErrNoPriorContext means an empty prompt arrived before any message.
	ErrNoPriorContext = errors.New("no prompt and no prior message")

	// ErrActiveJob means the text already has a pending, processing or paused job.
	ErrActiveJob = models.ErrActiveJob
)

// Error kinds reported to API clients.
const (
	KindValidation     = "validation"
	KindNotFound       = "not_found"
	KindActiveJob      = "active_job"
	KindNoCandidates   = "no_candidates"
	KindNoPriorContext = "no_prior_context"
	KindRateLimited    = "rate_limited"
	KindProvider       = "provider"
	KindOversized      = "oversized_sentence"
	KindStorage        = "storage"
	KindInternal       = "internal"
)

// Kind maps an error to its taxonomy name.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrActiveJob):
		return KindActiveJob
	case errors.Is(err, ErrNoCandidates):
		return KindNoCandidates
	case errors.Is(err, ErrNoPriorContext):
		return KindNoPriorContext
	case errors.Is(err, llm.ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, llm.ErrProvider):
		return KindProvider
	case errors.Is(err, parser.ErrOversizedSentence):
		return KindOversized
	case errors.Is(err, ErrStorage):
		return KindStorage
	default:
		return KindInternal
	}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFoundErr(kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}
