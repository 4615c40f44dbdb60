// Package blob stores the raw content of uploaded texts.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a ref names no stored object.
var ErrNotFound = errors.New("blob not found")

// Store saves and loads opaque byte objects by reference.
type Store interface {
	// Put stores the reader's content and returns a new reference to it.
	Put(ctx context.Context, r io.Reader) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, ref string) error
}
