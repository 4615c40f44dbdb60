// Package server exposes the Echoes services over REST and WebSocket.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/raphaelgruber/echoes/internal/metrics"
	"github.com/raphaelgruber/echoes/internal/service"
)

// Services are the operations the server exposes.
type Services struct {
	Texts         *service.TextService
	Jobs          *service.JobManager
	Ingest        *service.IngestService
	Conversations *service.ConversationService
	Metrics       *metrics.Collector
}

// Server routes HTTP requests to the services.
type Server struct {
	svc    Services
	logger *slog.Logger

	// watchInterval is how often a job watch polls the store.
	watchInterval time.Duration

	// background tracks ingestion runs started by /internal/process.
	background sync.WaitGroup
}

// New creates a server.
func New(svc Services, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, logger: logger, watchInterval: 500 * time.Millisecond}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(LoggingMiddleware(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		r.Get("/stats", s.handleStats)

		r.Route("/texts", func(r chi.Router) {
			r.Post("/", s.handleUpload)
			r.Get("/", s.handleListTexts)
			r.Delete("/{textID}", s.handleDeleteText)
			r.Post("/{textID}/ingest", s.handleStartIngestion)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Get("/{jobID}", s.handleGetJob)
			r.Get("/{jobID}/watch", s.handleWatchJob)
		})

		r.Route("/writers", func(r chi.Router) {
			r.Get("/", s.handleListWriters)
			r.Get("/processing", s.handleProcessingWriters)
			r.Post("/ingest", s.handleStartWriters)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", s.handleStartConversation)
			r.Get("/{conversationID}", s.handleGetConversation)
			r.Get("/{conversationID}/writers", s.handleConversationWriters)
			r.Get("/{conversationID}/messages", s.handleHistory)
			r.Post("/{conversationID}/turns", s.handleNextTurn)
		})
	})

	r.Post("/internal/process", s.handleProcess)

	return r
}

// Wait blocks until ingestion runs started through /internal/process finish.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
