package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/echoes/internal/models"
	"github.com/raphaelgruber/echoes/internal/service"
)

const (
	sunrise   = "The sun rises in the east."
	birds     = "Birds sing at the dawn."
	rain      = "Rain falls on the city."
	umbrellas = "Umbrellas bloom everywhere."
	cats      = "Cats sleep all day long."
)

type corpus struct {
	a, b, c *models.Text
}

// seedCorpus ingests three writers with hand-placed vectors. Writer C's
// sentence is the closest to every eastward query but never participates.
func seedCorpus(t *testing.T, e *env) corpus {
	t.Helper()
	e.provider.vectors[sunrise] = []float32{1, 0, 0}
	e.provider.vectors[birds] = []float32{0, 1, 0}
	e.provider.vectors[rain] = []float32{0.7, 0.7, 0}
	e.provider.vectors[umbrellas] = []float32{0, 0, 1}
	e.provider.vectors[cats] = []float32{1, 0.01, 0}
	e.provider.vectors["east please"] = []float32{1, 0, 0}

	c := corpus{
		a: e.upload(t, "Writer A", "Morning", sunrise+" "+birds),
		b: e.upload(t, "Writer B", "Weather", rain+" "+umbrellas),
		c: e.upload(t, "Writer C", "Pets", cats),
	}
	for _, text := range []*models.Text{c.a, c.b, c.c} {
		job := e.ingestText(t, text.ID)
		require.Equal(t, models.JobCompleted, job.Status)
	}
	return c
}

func TestConversationNeverRepeats(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	c := seedCorpus(t, e)

	conv, err := e.convs.StartConversation(ctx, []string{c.a.WriterID, c.b.WriterID})
	require.NoError(t, err)

	first, err := e.convs.NextTurn(ctx, conv.ID, "  east please ")
	require.NoError(t, err)
	assert.Equal(t, sunrise, first.Text)
	assert.Equal(t, c.a.WriterID, first.WriterID)
	assert.Equal(t, 0, first.SentenceIndex)
	assert.Equal(t, 2, first.Seq)
	require.NotNil(t, first.Distance)
	assert.InDelta(t, 0, *first.Distance, 1e-6)

	var spoken []string
	for {
		turn, err := e.convs.NextTurn(ctx, conv.ID, "")
		if err != nil {
			require.ErrorIs(t, err, service.ErrNoCandidates)
			assert.Equal(t, service.KindNoCandidates, service.Kind(err))
			break
		}
		spoken = append(spoken, turn.Text)
		assert.NotEqual(t, c.c.WriterID, turn.WriterID)
	}
	assert.Equal(t, []string{rain, birds, umbrellas}, spoken)

	history, err := e.convs.History(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, history, 5)

	seen := map[string]bool{}
	for i, m := range history {
		assert.Equal(t, i+1, m.Seq)
		if m.Sender == models.SenderSystem {
			require.NotNil(t, m.SentenceID)
			assert.False(t, seen[*m.SentenceID], "sentence repeated")
			seen[*m.SentenceID] = true
		}
	}
	assert.Equal(t, models.SenderUser, history[0].Sender)
	require.NotNil(t, history[0].Text)
	assert.Equal(t, "east please", *history[0].Text)
	assert.Equal(t, sunrise, history[1].Content)
	require.NotNil(t, history[1].WriterID)
	assert.Equal(t, c.a.WriterID, *history[1].WriterID)
}

func TestNextTurnFailuresWriteNothing(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	c := seedCorpus(t, e)

	conv, err := e.convs.StartConversation(ctx, []string{c.c.WriterID})
	require.NoError(t, err)

	_, err = e.convs.NextTurn(ctx, conv.ID, "   ")
	assert.ErrorIs(t, err, service.ErrNoPriorContext)
	assert.Equal(t, service.KindNoPriorContext, service.Kind(err))

	turn, err := e.convs.NextTurn(ctx, conv.ID, "east please")
	require.NoError(t, err)
	assert.Equal(t, cats, turn.Text)

	// The only sentence is spoken; a new prompt is not recorded either.
	_, err = e.convs.NextTurn(ctx, conv.ID, "anything else")
	assert.ErrorIs(t, err, service.ErrNoCandidates)

	history, err := e.convs.History(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	_, err = e.convs.NextTurn(ctx, "missing", "hello")
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestNextTurnRandomColdStart(t *testing.T) {
	e := newEnv(t, withRandomColdStart())
	ctx := t.Context()
	c := seedCorpus(t, e)

	conv, err := e.convs.StartConversation(ctx, []string{c.a.WriterID})
	require.NoError(t, err)

	turn, err := e.convs.NextTurn(ctx, conv.ID, "")
	require.NoError(t, err)
	assert.Contains(t, []string{sunrise, birds}, turn.Text)
	assert.Equal(t, c.a.WriterID, turn.WriterID)
	assert.Nil(t, turn.Distance)
	assert.Equal(t, 1, turn.Seq)

	// After the cold start the conversation continues from history.
	next, err := e.convs.NextTurn(ctx, conv.ID, "")
	require.NoError(t, err)
	assert.NotEqual(t, turn.SentenceID, next.SentenceID)
	assert.Equal(t, 2, next.Seq)
}

func TestStartConversationValidation(t *testing.T) {
	e := newEnv(t)
	c := seedCorpus(t, e)
	extra := e.upload(t, "Writer D", "More", "Yet another sentence.")

	tests := []struct {
		name    string
		writers []string
		wantErr error
	}{
		{"no writers", nil, service.ErrValidation},
		{"too many writers", []string{c.a.WriterID, c.b.WriterID, c.c.WriterID, extra.WriterID}, service.ErrValidation},
		{"unknown writer", []string{c.a.WriterID, "missing"}, service.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.convs.StartConversation(t.Context(), tt.writers)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	conv, err := e.convs.StartConversation(t.Context(), []string{c.a.WriterID, c.a.WriterID, c.b.WriterID})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{c.a.WriterID, c.b.WriterID}, conv.WriterIDs)

	writers, err := e.convs.Writers(t.Context(), conv.ID)
	require.NoError(t, err)
	require.Len(t, writers, 2)

	_, err = e.convs.Get(t.Context(), "missing")
	assert.ErrorIs(t, err, service.ErrNotFound)
}
