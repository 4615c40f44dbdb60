package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/raphaelgruber/echoes/internal/models"
	"github.com/raphaelgruber/echoes/internal/service"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// UploadResponse is returned by POST /api/texts.
type UploadResponse struct {
	Text *models.Text `json:"text"`
	Job  *models.Job  `json:"job,omitempty"`
}

// WritersRequest selects writers for ingestion or a new conversation.
type WritersRequest struct {
	WriterIDs []string `json:"writerIds"`
}

// TurnRequest carries the user prompt; an empty prompt continues the conversation.
type TurnRequest struct {
	Prompt string `json:"prompt"`
}

// ProcessRequest is a task delivery from an external scheduler.
type ProcessRequest struct {
	TextID string `json:"textId"`
}

const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind string) int {
	switch kind {
	case service.KindValidation, service.KindOversized:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindActiveJob, service.KindNoCandidates, service.KindNoPriorContext:
		return http.StatusConflict
	case service.KindRateLimited:
		return http.StatusTooManyRequests
	case service.KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := service.Kind(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request error", "path", r.URL.Path, "kind", kind, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: kind})
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg, Code: service.KindValidation})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Metrics.Snapshot())
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, service.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		s.badRequest(w, "invalid multipart form: "+err.Error())
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		s.badRequest(w, "file is required")
		return
	}
	defer func() { _ = file.Close() }()

	text, err := s.svc.Texts.Upload(r.Context(), r.FormValue("writerName"), r.FormValue("title"), file)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := UploadResponse{Text: text}
	if ingest, _ := strconv.ParseBool(r.URL.Query().Get("ingest")); ingest {
		job, err := s.svc.Jobs.StartIngestion(r.Context(), text.ID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp.Job = job
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListTexts(w http.ResponseWriter, r *http.Request) {
	texts, err := s.svc.Texts.Texts(r.Context(), r.URL.Query().Get("writerId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(texts))
}

func (s *Server) handleDeleteText(w http.ResponseWriter, r *http.Request) {
	deletion, err := s.svc.Texts.Delete(r.Context(), chi.URLParam(r, "textID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deletion)
}

func (s *Server) handleStartIngestion(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.Jobs.StartIngestion(r.Context(), chi.URLParam(r, "textID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.svc.Jobs.ListJobs(r.Context(), r.URL.Query().Get("textId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(jobs))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.Jobs.JobStatus(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListWriters(w http.ResponseWriter, r *http.Request) {
	writers, err := s.svc.Texts.Writers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(writers))
}

func (s *Server) handleProcessingWriters(w http.ResponseWriter, r *http.Request) {
	writers, err := s.svc.Texts.ProcessingWriters(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(writers))
}

func (s *Server) handleStartWriters(w http.ResponseWriter, r *http.Request) {
	var req WritersRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}
	jobs, err := s.svc.Jobs.StartWriters(r.Context(), req.WriterIDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, nonNil(jobs))
}

func (s *Server) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	var req WritersRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}
	conv, err := s.svc.Conversations.StartConversation(r.Context(), req.WriterIDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.svc.Conversations.Get(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleConversationWriters(w http.ResponseWriter, r *http.Request) {
	writers, err := s.svc.Conversations.Writers(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(writers))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.svc.Conversations.History(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(msgs))
}

func (s *Server) handleNextTurn(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}
	turn, err := s.svc.Conversations.NextTurn(r.Context(), chi.URLParam(r, "conversationID"), req.Prompt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

// handleProcess accepts a task delivery and runs it in the background.
// Redelivery is harmless: a job that is not claimable is skipped.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.TextID == "" {
		s.badRequest(w, "textId is required")
		return
	}

	ctx := context.WithoutCancel(r.Context())
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		s.svc.Ingest.RunText(ctx, req.TextID)
	}()
	w.WriteHeader(http.StatusAccepted)
}

// nonNil makes empty lists encode as [] instead of null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
