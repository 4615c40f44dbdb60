package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/echoes/internal/llm"
	"github.com/raphaelgruber/echoes/internal/metrics"
	"github.com/raphaelgruber/echoes/internal/models"
)

const (
	// MaxParticipants is the largest writer set of one conversation.
	MaxParticipants = 3
	candidateLimit  = 5
)

// ConversationOptions configures retrieval.
type ConversationOptions struct {
	// RandomColdStart answers an empty first prompt with a random unused
	// sentence instead of ErrNoPriorContext.
	RandomColdStart bool
	Metrics         *metrics.Collector
}

// ConversationService answers prompts with the nearest unused sentence of
// the participating writers.
type ConversationService struct {
	store           Store
	embedder        *llm.Embedder
	randomColdStart bool
	metrics         *metrics.Collector
	locks           *keyedMutex
}

// NewConversationService creates a new conversation service.
func NewConversationService(store Store, embedder *llm.Embedder, opts ConversationOptions) *ConversationService {
	return &ConversationService{
		store:           store,
		embedder:        embedder,
		randomColdStart: opts.RandomColdStart,
		metrics:         opts.Metrics,
		locks:           newKeyedMutex(),
	}
}

// StartConversation creates a conversation between 1 and 3 distinct, existing writers.
func (s *ConversationService) StartConversation(ctx context.Context, writerIDs []string) (*models.Conversation, error) {
	ids := uniqueStrings(writerIDs)
	if len(ids) == 0 || len(ids) > MaxParticipants {
		return nil, validationErr("a conversation needs 1 to %d writers, got %d", MaxParticipants, len(ids))
	}
	for _, id := range ids {
		w, err := s.store.GetWriter(ctx, id)
		if err != nil {
			return nil, storageErr("get writer", err)
		}
		if w == nil {
			return nil, notFoundErr("writer", id)
		}
	}

	conv, err := s.store.CreateConversation(ctx, ids)
	if err != nil {
		return nil, storageErr("create conversation", err)
	}
	slog.Info("conversation started", "conversation_id", conv.ID, "writers", len(ids))
	return conv, nil
}

// Get returns the conversation or ErrNotFound.
func (s *ConversationService) Get(ctx context.Context, id string) (*models.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, storageErr("get conversation", err)
	}
	if conv == nil {
		return nil, notFoundErr("conversation", id)
	}
	return conv, nil
}

// History returns the messages ordered by seq, system messages resolved to
// their sentence content and writer.
func (s *ConversationService) History(ctx context.Context, id string) ([]models.Message, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, id)
	if err != nil {
		return nil, storageErr("list messages", err)
	}
	return msgs, nil
}

// Writers returns the participant writers.
func (s *ConversationService) Writers(ctx context.Context, id string) ([]models.Writer, error) {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	writers := make([]models.Writer, 0, len(conv.WriterIDs))
	for _, wid := range conv.WriterIDs {
		w, err := s.store.GetWriter(ctx, wid)
		if err != nil {
			return nil, storageErr("get writer", err)
		}
		// Writers can disappear when their last text is deleted.
		if w != nil {
			writers = append(writers, *w)
		}
	}
	return writers, nil
}

// NextTurn picks the next sentence for the conversation.
//
// A non-blank prompt is the query and is recorded as a user message. A blank
// prompt continues from the latest message without recording anything for
// the user. The nearest sentence of a participant that the conversation has
// not spoken yet is recorded as the system message and returned. Nothing is
// written when no turn can be produced.
func (s *ConversationService) NextTurn(ctx context.Context, conversationID, prompt string) (*models.Turn, error) {
	start := time.Now()

	unlock := s.locks.Lock(conversationID)
	defer unlock()

	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	var userText *string
	query := strings.TrimSpace(prompt)
	if query != "" {
		userText = &query
	} else {
		last, err := s.store.LastMessage(ctx, conversationID)
		if err != nil {
			return nil, storageErr("last message", err)
		}
		if last == nil {
			if s.randomColdStart {
				return s.coldStart(ctx, conv, start)
			}
			return nil, ErrNoPriorContext
		}
		query = strings.TrimSpace(messageText(last))
		if query == "" {
			return nil, ErrNoPriorContext
		}
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	searchStart := time.Now()
	candidates, err := s.store.NearestUnused(ctx, conversationID, conv.WriterIDs, vector, candidateLimit)
	if err != nil {
		return nil, storageErr("nearest unused", err)
	}
	s.metrics.RecordTiming(metrics.OpVectorSearch, time.Since(searchStart))

	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	best := candidates[0]

	seq, err := s.store.AppendTurn(ctx, conversationID, userText, best.SentenceID)
	if err != nil {
		return nil, storageErr("append turn", err)
	}
	s.metrics.RecordTiming(metrics.OpTurn, time.Since(start))

	slog.Debug("turn", "conversation_id", conversationID, "sentence_id", best.SentenceID, "distance", best.Distance, "seq", seq)

	distance := best.Distance
	return &models.Turn{
		SentenceID:    best.SentenceID,
		Text:          best.Content,
		WriterID:      best.WriterID,
		SentenceIndex: best.SentenceIndex,
		Distance:      &distance,
		Seq:           seq,
	}, nil
}

// coldStart answers the first empty prompt with a random unused sentence.
func (s *ConversationService) coldStart(ctx context.Context, conv *models.Conversation, start time.Time) (*models.Turn, error) {
	c, err := s.store.RandomUnused(ctx, conv.ID, conv.WriterIDs)
	if err != nil {
		return nil, storageErr("random unused", err)
	}
	if c == nil {
		return nil, ErrNoCandidates
	}

	seq, err := s.store.AppendTurn(ctx, conv.ID, nil, c.SentenceID)
	if err != nil {
		return nil, storageErr("append turn", err)
	}
	s.metrics.RecordTiming(metrics.OpTurn, time.Since(start))

	return &models.Turn{
		SentenceID:    c.SentenceID,
		Text:          c.Content,
		WriterID:      c.WriterID,
		SentenceIndex: c.SentenceIndex,
		Seq:           seq,
	}, nil
}

// messageText is the text a message contributes as a query.
func messageText(m *models.Message) string {
	if m.Content != "" {
		return m.Content
	}
	if m.Text != nil {
		return *m.Text
	}
	return ""
}
