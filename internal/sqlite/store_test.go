package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/raphaelgruber/echoes/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "echoes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedText(t *testing.T, s *Store, writer, title string) (*models.Writer, *models.Text) {
	t.Helper()
	ctx := context.Background()
	w, err := s.FindOrCreateWriter(ctx, writer)
	require.NoError(t, err)
	text, err := s.CreateText(ctx, models.TextInput{Title: title, WriterID: w.ID, BlobRef: "blob-" + title})
	require.NoError(t, err)
	return w, text
}

func TestFindOrCreateWriter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.FindOrCreateWriter(ctx, "Jane Austen")
	require.NoError(t, err)
	b, err := s.FindOrCreateWriter(ctx, "Jane Austen")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	got, err := s.GetWriter(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Austen", got.Name)

	missing, err := s.GetWriter(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTexts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w, first := seedText(t, s, "Austen", "Emma")
	_, _ = seedText(t, s, "Austen", "Persuasion")
	_, _ = seedText(t, s, "Bronte", "Jane Eyre")

	got, err := s.GetText(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Emma", got.Title)
	assert.Equal(t, w.ID, got.WriterID)

	texts, err := s.ListTexts(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, texts, 2)

	all, err := s.ListTexts(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestOneActiveJobPerText(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, text := seedText(t, s, "Austen", "Emma")

	job, err := s.CreateJob(ctx, text.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, job.Status)

	_, err = s.CreateJob(ctx, text.ID)
	assert.ErrorIs(t, err, models.ErrActiveJob)

	active, err := s.ActiveJob(ctx, text.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, job.ID, active.ID)

	require.NoError(t, s.UpdateJob(ctx, job.ID, models.JobUpdate{Status: models.JobCompleted}))

	// A terminal job no longer blocks a new one.
	second, err := s.CreateJob(ctx, text.ID)
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, second.ID)

	jobs, err := s.ListJobs(ctx, text.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID)
}

func TestClaimJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, text := seedText(t, s, "Austen", "Emma")

	job, err := s.CreateJob(ctx, text.ID)
	require.NoError(t, err)

	claimed, err := s.ClaimJob(ctx, job.ID, "run-a")
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.ClaimJob(ctx, job.ID, "run-b")
	require.NoError(t, err)
	assert.False(t, claimed, "processing job must not be claimed twice")

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobProcessing, got.Status)
	assert.NotNil(t, got.StartedAt)

	require.NoError(t, s.UpdateJob(ctx, job.ID, models.JobUpdate{RunID: "run-a", Status: models.JobPaused}))
	claimed, err = s.ClaimJob(ctx, job.ID, "run-b")
	require.NoError(t, err)
	assert.True(t, claimed, "paused job is claimable")

	n, err := s.ResetProcessingJobs(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := s.ListJobsByStatus(ctx, models.JobPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, job.ID, pending[0].ID)
}

func TestJobLease(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, text := seedText(t, s, "Austen", "Emma")

	job, err := s.CreateJob(ctx, text.ID)
	require.NoError(t, err)
	claimed, err := s.ClaimJob(ctx, job.ID, "run-a")
	require.NoError(t, err)
	require.True(t, claimed)

	// A heartbeat newer than the cutoff keeps the job.
	n, err := s.ResetProcessingJobs(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, s.UpdateJob(ctx, job.ID, models.JobUpdate{RunID: "run-a"}))
	err = s.UpdateJob(ctx, job.ID, models.JobUpdate{RunID: "run-b", Status: models.JobFailed})
	assert.ErrorIs(t, err, models.ErrLeaseLost)

	// Expired: the job goes back to pending and the old run loses it.
	n, err = s.ResetProcessingJobs(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count := 3
	err = s.UpdateJob(ctx, job.ID, models.JobUpdate{RunID: "run-a", Status: models.JobCompleted, SentenceCount: &count})
	assert.ErrorIs(t, err, models.ErrLeaseLost)

	claimed, err = s.ClaimJob(ctx, job.ID, "run-b")
	require.NoError(t, err)
	require.True(t, claimed)

	err = s.UpdateJob(ctx, job.ID, models.JobUpdate{RunID: "run-a", Status: models.JobFailed})
	assert.ErrorIs(t, err, models.ErrLeaseLost)
	require.NoError(t, s.UpdateJob(ctx, job.ID, models.JobUpdate{RunID: "run-b", Status: models.JobCompleted, SentenceCount: &count}))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.Status)
	assert.Equal(t, 3, got.SentenceCount)

	// Terminal jobs accept no further run-scoped writes.
	err = s.UpdateJob(ctx, job.ID, models.JobUpdate{RunID: "run-b", Status: models.JobFailed})
	assert.ErrorIs(t, err, models.ErrLeaseLost)
}

func TestUpdateJobFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, text := seedText(t, s, "Austen", "Emma")

	job, err := s.CreateJob(ctx, text.ID)
	require.NoError(t, err)

	count, total, msg := 3, 10, "boom"
	require.NoError(t, s.UpdateJob(ctx, job.ID, models.JobUpdate{
		Status:         models.JobFailed,
		SentenceCount:  &count,
		TotalSentences: &total,
		Error:          &msg,
	}))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, 3, got.SentenceCount)
	assert.Equal(t, 10, got.TotalSentences)
	require.NotNil(t, got.Error)
	assert.Equal(t, "boom", *got.Error)

	assert.Error(t, s.UpdateJob(ctx, "missing", models.JobUpdate{Status: models.JobFailed}))
}

func batchOf(start int, contents ...string) []models.SentenceInput {
	out := make([]models.SentenceInput, len(contents))
	for i, c := range contents {
		out[i] = models.SentenceInput{Content: c, SentenceIndex: start + i, Vector: []float32{1, 0}}
	}
	return out
}

func TestInsertSentenceBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w, text := seedText(t, s, "Austen", "Emma")

	maxIdx, err := s.MaxSentenceIndex(ctx, text.ID)
	require.NoError(t, err)
	assert.Equal(t, -1, maxIdx)

	require.NoError(t, s.InsertSentenceBatch(ctx, text.ID, w.ID, batchOf(0, "One.", "Two.")))

	maxIdx, err = s.MaxSentenceIndex(ctx, text.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, maxIdx)

	// A duplicate index rolls back the whole batch.
	err = s.InsertSentenceBatch(ctx, text.ID, w.ID, batchOf(1, "Dup.", "Three."))
	require.Error(t, err)

	n, err := s.CountSentences(ctx, text.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDeleteUnembeddedSentences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w, text := seedText(t, s, "Austen", "Emma")

	require.NoError(t, s.InsertSentenceBatch(ctx, text.ID, w.ID, batchOf(0, "One.", "Two.")))
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sentences (id, text_id, content, sentence_index, created_at) VALUES ('orphan', ?, 'Three.', 2, ?)",
		text.ID, now())
	require.NoError(t, err)

	removed, err := s.DeleteUnembeddedSentences(ctx, text.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	maxIdx, err := s.MaxSentenceIndex(ctx, text.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, maxIdx)
}

func TestNearestUnused(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, textA := seedText(t, s, "A", "a")
	b, textB := seedText(t, s, "B", "b")
	c, textC := seedText(t, s, "C", "c")

	require.NoError(t, s.InsertSentenceBatch(ctx, textA.ID, a.ID, []models.SentenceInput{
		{Content: "A east.", SentenceIndex: 0, Vector: []float32{1, 0}},
		{Content: "A north.", SentenceIndex: 1, Vector: []float32{0, 1}},
	}))
	require.NoError(t, s.InsertSentenceBatch(ctx, textB.ID, b.ID, []models.SentenceInput{
		{Content: "B northeast.", SentenceIndex: 0, Vector: []float32{1, 1}},
	}))
	require.NoError(t, s.InsertSentenceBatch(ctx, textC.ID, c.ID, []models.SentenceInput{
		{Content: "C east.", SentenceIndex: 0, Vector: []float32{1, 0}},
	}))

	conv, err := s.CreateConversation(ctx, []string{a.ID, b.ID})
	require.NoError(t, err)

	got, err := s.NearestUnused(ctx, conv.ID, conv.WriterIDs, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, got, 3, "writer C is not a participant")
	assert.Equal(t, "A east.", got[0].Content)
	assert.Equal(t, "B northeast.", got[1].Content)
	assert.Equal(t, "A north.", got[2].Content)
	assert.InDelta(t, 0.0, got[0].Distance, 1e-9)
	assert.InDelta(t, 1.0, got[2].Distance, 1e-9)

	_, err = s.AppendTurn(ctx, conv.ID, nil, got[0].SentenceID)
	require.NoError(t, err)

	got, err = s.NearestUnused(ctx, conv.ID, conv.WriterIDs, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "B northeast.", got[0].Content)

	random, err := s.RandomUnused(ctx, conv.ID, conv.WriterIDs)
	require.NoError(t, err)
	require.NotNil(t, random)
	assert.NotEqual(t, "A east.", random.Content)
}

func TestConversationMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w, text := seedText(t, s, "Austen", "Emma")
	require.NoError(t, s.InsertSentenceBatch(ctx, text.ID, w.ID, batchOf(0, "One.", "Two.")))

	conv, err := s.CreateConversation(ctx, []string{w.ID})
	require.NoError(t, err)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{w.ID}, got.WriterIDs)

	last, err := s.LastMessage(ctx, conv.ID)
	require.NoError(t, err)
	assert.Nil(t, last)

	cands, err := s.NearestUnused(ctx, conv.ID, conv.WriterIDs, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, cands, 2)

	prompt := "hello"
	seq, err := s.AppendTurn(ctx, conv.ID, &prompt, cands[0].SentenceID)
	require.NoError(t, err)
	assert.Equal(t, 2, seq)

	seq, err = s.AppendTurn(ctx, conv.ID, nil, cands[1].SentenceID)
	require.NoError(t, err)
	assert.Equal(t, 3, seq)

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, models.SenderUser, msgs[0].Sender)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, models.SenderSystem, msgs[1].Sender)
	assert.Equal(t, cands[0].Content, msgs[1].Content)
	require.NotNil(t, msgs[1].WriterID)
	assert.Equal(t, w.ID, *msgs[1].WriterID)
	for i, m := range msgs {
		assert.Equal(t, i+1, m.Seq)
	}

	last, err = s.LastMessage(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, last.Seq)
	assert.Equal(t, cands[1].Content, last.Content)
}

func TestDeleteTextCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w, emma := seedText(t, s, "Austen", "Emma")
	_, persuasion := seedText(t, s, "Austen", "Persuasion")
	require.NoError(t, s.InsertSentenceBatch(ctx, emma.ID, w.ID, batchOf(0, "One.", "Two.")))
	_, err := s.CreateJob(ctx, emma.ID)
	require.NoError(t, err)

	del, err := s.DeleteText(ctx, emma.ID)
	require.NoError(t, err)
	require.NotNil(t, del)
	assert.Equal(t, 2, del.Sentences)
	assert.Equal(t, "blob-Emma", del.BlobRef)
	assert.False(t, del.WriterDeleted)

	jobs, err := s.ListJobs(ctx, emma.ID)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	del, err = s.DeleteText(ctx, persuasion.ID)
	require.NoError(t, err)
	assert.True(t, del.WriterDeleted)

	writer, err := s.GetWriter(ctx, w.ID)
	require.NoError(t, err)
	assert.Nil(t, writer)

	del, err = s.DeleteText(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, del)
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2}, []float32{1, 2}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineDistance(tt.a, tt.b), 1e-9)
		})
	}
}
