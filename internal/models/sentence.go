package models

import "time"

// Sentence is an ordered, indexed utterance extracted from a text.
type Sentence struct {
	ID            string    `json:"id"`
	TextID        string    `json:"text_id"`
	Content       string    `json:"content"`
	SentenceIndex int       `json:"sentence_index"`
	CreatedAt     time.Time `json:"created_at"`
}

// Embedding is the vector for exactly one sentence.
type Embedding struct {
	ID         string    `json:"id"`
	SentenceID string    `json:"sentence_id"`
	WriterID   string    `json:"writer_id"`
	Vector     []float32 `json:"vector"`
	CreatedAt  time.Time `json:"created_at"`
}

// SentenceInput is one sentence plus its vector, persisted together.
type SentenceInput struct {
	Content       string
	SentenceIndex int
	Vector        []float32
}

// Candidate is a nearest-neighbour search hit.
type Candidate struct {
	SentenceID    string  `json:"sentence_id"`
	Content       string  `json:"content"`
	SentenceIndex int     `json:"sentence_index"`
	WriterID      string  `json:"writer_id"`
	Distance      float64 `json:"distance"`
}
