package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/raphaelgruber/echoes/internal/blob"
	"github.com/raphaelgruber/echoes/internal/models"
)

// MaxUploadBytes caps the size of one uploaded text.
const MaxUploadBytes = 32 << 20

// TextService manages writers and their uploaded texts.
type TextService struct {
	store Store
	blobs blob.Store
	locks *keyedMutex
}

// NewTextService creates a text service. Deletions coordinate with the
// ingest service's per-text locks so a text is never removed mid-run.
func NewTextService(store Store, blobs blob.Store, ingest *IngestService) *TextService {
	locks := newKeyedMutex()
	if ingest != nil {
		locks = ingest.locks
	}
	return &TextService{store: store, blobs: blobs, locks: locks}
}

// Upload stores the content and registers it as a text of the named writer,
// creating the writer on first use.
func (s *TextService) Upload(ctx context.Context, writerName, title string, r io.Reader) (*models.Text, error) {
	name := models.NormalizeName(writerName)
	title = strings.TrimSpace(title)
	if name == "" {
		return nil, validationErr("writer name is required")
	}
	if title == "" {
		return nil, validationErr("title is required")
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > MaxUploadBytes {
		return nil, validationErr("text exceeds %d bytes", MaxUploadBytes)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, validationErr("text is empty")
	}
	if !utf8.Valid(data) {
		return nil, validationErr("text is not valid UTF-8")
	}

	writer, err := s.store.FindOrCreateWriter(ctx, name)
	if err != nil {
		return nil, storageErr("find or create writer", err)
	}

	ref, err := s.blobs.Put(ctx, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("store text content: %w", err)
	}

	text, err := s.store.CreateText(ctx, models.TextInput{
		Title:    title,
		WriterID: writer.ID,
		BlobRef:  ref,
	})
	if err != nil {
		if delErr := s.blobs.Delete(context.WithoutCancel(ctx), ref); delErr != nil {
			slog.Warn("failed to remove orphaned blob", "blob_ref", ref, "error", delErr)
		}
		return nil, storageErr("create text", err)
	}

	slog.Info("text uploaded", "text_id", text.ID, "writer_id", writer.ID, "bytes", len(data))
	return text, nil
}

// Delete removes a text with everything derived from it. It refuses while
// an ingestion run is processing the text.
func (s *TextService) Delete(ctx context.Context, textID string) (*models.TextDeletion, error) {
	if err := s.checkNotProcessing(ctx, textID); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(textID)
	defer unlock()

	// A run may have claimed the job before we took the lock; it has
	// finished by now, so check again for a job it left behind.
	if err := s.checkNotProcessing(ctx, textID); err != nil {
		return nil, err
	}

	deletion, err := s.store.DeleteText(ctx, textID)
	if err != nil {
		return nil, storageErr("delete text", err)
	}
	if deletion == nil {
		return nil, notFoundErr("text", textID)
	}

	if err := s.blobs.Delete(ctx, deletion.BlobRef); err != nil {
		slog.Warn("failed to delete text blob", "text_id", textID, "blob_ref", deletion.BlobRef, "error", err)
	}

	slog.Info("text deleted", "text_id", textID, "sentences", deletion.Sentences, "writer_deleted", deletion.WriterDeleted)
	return deletion, nil
}

func (s *TextService) checkNotProcessing(ctx context.Context, textID string) error {
	text, err := s.store.GetText(ctx, textID)
	if err != nil {
		return storageErr("get text", err)
	}
	if text == nil {
		return notFoundErr("text", textID)
	}
	job, err := s.store.ActiveJob(ctx, textID)
	if err != nil {
		return storageErr("active job", err)
	}
	if job != nil && job.Status == models.JobProcessing {
		return validationErr("text %s is being processed by job %s", textID, job.ID)
	}
	return nil
}

// Writers lists all writers.
func (s *TextService) Writers(ctx context.Context) ([]models.Writer, error) {
	writers, err := s.store.ListWriters(ctx)
	if err != nil {
		return nil, storageErr("list writers", err)
	}
	return writers, nil
}

// ProcessingWriters lists writers that own a text with an active job.
func (s *TextService) ProcessingWriters(ctx context.Context) ([]models.Writer, error) {
	writers, err := s.store.ListProcessingWriters(ctx)
	if err != nil {
		return nil, storageErr("list processing writers", err)
	}
	return writers, nil
}

// Texts lists the texts of a writer, or all texts for an empty writerID.
func (s *TextService) Texts(ctx context.Context, writerID string) ([]models.Text, error) {
	if writerID != "" {
		w, err := s.store.GetWriter(ctx, writerID)
		if err != nil {
			return nil, storageErr("get writer", err)
		}
		if w == nil {
			return nil, notFoundErr("writer", writerID)
		}
	}
	texts, err := s.store.ListTexts(ctx, writerID)
	if err != nil {
		return nil, storageErr("list texts", err)
	}
	return texts, nil
}

// Text returns one text or ErrNotFound.
func (s *TextService) Text(ctx context.Context, id string) (*models.Text, error) {
	text, err := s.store.GetText(ctx, id)
	if err != nil {
		return nil, storageErr("get text", err)
	}
	if text == nil {
		return nil, notFoundErr("text", id)
	}
	return text, nil
}
