package models

import "time"

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderSystem Sender = "system"
)

// Conversation is a chat session with a fixed set of participant writers.
type Conversation struct {
	ID        string    `json:"id"`
	WriterIDs []string  `json:"writer_ids"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one entry of a conversation history, ordered by Seq.
// User messages carry Text; system messages carry SentenceID, and reads
// resolve Content, WriterID and SentenceIndex from the referenced sentence.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         Sender    `json:"sender"`
	SentenceID     *string   `json:"sentence_id,omitempty"`
	Text           *string   `json:"text,omitempty"`
	Seq            int       `json:"seq"`
	CreatedAt      time.Time `json:"created_at"`

	Content       string  `json:"content"`
	WriterID      *string `json:"writer_id,omitempty"`
	SentenceIndex *int    `json:"sentence_index,omitempty"`
}

// Turn is the result of one retrieval step.
type Turn struct {
	SentenceID    string   `json:"sentence_id"`
	Text          string   `json:"text"`
	WriterID      string   `json:"writer_id"`
	SentenceIndex int      `json:"sentence_index"`
	Distance      *float64 `json:"distance,omitempty"`
	Seq           int      `json:"seq"`
}
