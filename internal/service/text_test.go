package service_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/echoes/internal/blob"
	"github.com/raphaelgruber/echoes/internal/llm"
	"github.com/raphaelgruber/echoes/internal/parser"
	"github.com/raphaelgruber/echoes/internal/service"
)

func TestUploadValidation(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name    string
		writer  string
		title   string
		content string
	}{
		{"blank writer", "  ", "Title", greeting},
		{"blank title", "Ada", " ", greeting},
		{"blank content", "Ada", "Title", " \n\t "},
		{"invalid utf8", "Ada", "Title", "bad \xff bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.texts.Upload(t.Context(), tt.writer, tt.title, strings.NewReader(tt.content))
			assert.ErrorIs(t, err, service.ErrValidation)
			assert.Equal(t, service.KindValidation, service.Kind(err))
		})
	}

	writers, err := e.texts.Writers(t.Context())
	require.NoError(t, err)
	assert.Empty(t, writers)
}

func TestUploadReusesWriter(t *testing.T) {
	e := newEnv(t)

	first := e.upload(t, "Jane  Austen", "Emma", greeting)
	second := e.upload(t, " Jane Austen ", "Persuasion", greeting)
	assert.Equal(t, first.WriterID, second.WriterID)

	data, err := e.blobs.Get(t.Context(), first.BlobRef)
	require.NoError(t, err)
	assert.Equal(t, greeting, string(data))

	texts, err := e.texts.Texts(t.Context(), first.WriterID)
	require.NoError(t, err)
	assert.Len(t, texts, 2)

	_, err = e.texts.Texts(t.Context(), "missing")
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestDeleteText(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	keep := e.upload(t, "Ada", "Keep", greeting)
	drop := e.upload(t, "Ada", "Drop", "Short text here. And one more.")
	e.ingestText(t, drop.ID)

	deletion, err := e.texts.Delete(ctx, drop.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, deletion.Sentences)
	assert.False(t, deletion.WriterDeleted)

	_, err = e.blobs.Get(ctx, drop.BlobRef)
	assert.ErrorIs(t, err, blob.ErrNotFound)

	_, err = e.texts.Text(ctx, drop.ID)
	assert.ErrorIs(t, err, service.ErrNotFound)

	deletion, err = e.texts.Delete(ctx, keep.ID)
	require.NoError(t, err)
	assert.True(t, deletion.WriterDeleted)

	_, err = e.texts.Delete(ctx, keep.ID)
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestDeleteRefusesWhileProcessing(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	text := e.upload(t, "Ada", "Busy", greeting)

	job, err := e.jobs.StartIngestion(ctx, text.ID)
	require.NoError(t, err)

	writers, err := e.texts.ProcessingWriters(ctx)
	require.NoError(t, err)
	require.Len(t, writers, 1)
	assert.Equal(t, text.WriterID, writers[0].ID)

	claimed, err := e.store.ClaimJob(ctx, job.ID, "run-busy")
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = e.texts.Delete(ctx, text.ID)
	assert.ErrorIs(t, err, service.ErrValidation)
	assert.NotErrorIs(t, err, service.ErrNotFound)
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{service.ErrNotFound, service.KindNotFound},
		{service.ErrValidation, service.KindValidation},
		{service.ErrActiveJob, service.KindActiveJob},
		{service.ErrNoCandidates, service.KindNoCandidates},
		{service.ErrNoPriorContext, service.KindNoPriorContext},
		{llm.ErrRateLimited, service.KindRateLimited},
		{llm.ErrProvider, service.KindProvider},
		{parser.ErrOversizedSentence, service.KindOversized},
		{service.ErrStorage, service.KindStorage},
		{errors.New("boom"), service.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, service.Kind(tt.err))
		})
	}
}
