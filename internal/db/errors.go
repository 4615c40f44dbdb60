package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/echoes/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// Sentinel errors for database operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrAlreadyExists indicates a unique index rejected the write.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrTransactionConflict indicates a SurrealDB transaction conflict.
	// This occurs when multiple concurrent operations attempt to modify the same records.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrNotFound indicates the record to update does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrActiveJob is returned when a text already has an active job.
	ErrActiveJob = models.ErrActiveJob
)

// activeJobMarker is thrown by the job creation transaction.
const activeJobMarker = "active job exists"

// wrapQueryError inspects a SurrealDB error and wraps it with the appropriate
// sentinel error if it's a known query error type. A failed transaction
// reports every statement, so the whole message is searched.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if !errors.As(err, &queryErr) {
		return err
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, activeJobMarker):
		return fmt.Errorf("%w: %w", ErrActiveJob, err)
	case strings.Contains(msg, "already contains"), strings.Contains(msg, "already exists"):
		return fmt.Errorf("%w: %w", ErrAlreadyExists, err)
	case strings.Contains(msg, "Transaction conflict"):
		return fmt.Errorf("%w: %w", ErrTransactionConflict, err)
	}
	return err
}
