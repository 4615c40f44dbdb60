// Package models defines the data structures shared by the Echoes stores and services.
package models

import "time"

// Writer is an author whose uploaded texts form a retrievable corpus.
type Writer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Text is one uploaded work. Immutable after creation.
type Text struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	WriterID  string    `json:"writer_id"`
	BlobRef   string    `json:"blob_ref"`
	CreatedAt time.Time `json:"created_at"`
}

// TextInput is the input structure for creating a text.
type TextInput struct {
	Title    string
	WriterID string
	BlobRef  string
}

// TextDeletion reports what a text deletion removed.
type TextDeletion struct {
	TextID        string `json:"text_id"`
	BlobRef       string `json:"blob_ref"`
	Sentences     int    `json:"sentences"`
	WriterDeleted bool   `json:"writer_deleted"`
}
