package models

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// NewID returns a fresh random identifier for any entity.
func NewID() string {
	return uuid.NewString()
}

// RecordIDString safely extracts the string ID from a SurrealDB RecordID.
// Returns an error if the ID is not a string type.
func RecordIDString(id surrealmodels.RecordID) (string, error) {
	s, ok := id.ID.(string)
	if !ok {
		return "", fmt.Errorf("unexpected ID type: %T (expected string)", id.ID)
	}
	return s, nil
}

// MustRecordIDString extracts the string ID, panicking if not a string.
// Every record this module creates uses a string key.
func MustRecordIDString(id surrealmodels.RecordID) string {
	s, err := RecordIDString(id)
	if err != nil {
		panic(err)
	}
	return s
}

// NormalizeName trims a writer name and collapses inner whitespace so that
// "Jane  Austen " and "Jane Austen" resolve to the same writer.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
