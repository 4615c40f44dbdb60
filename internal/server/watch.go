package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/echoes/internal/models"
)

const watchWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleWatchJob streams job snapshots over a WebSocket until the job reaches
// a terminal state. A snapshot is sent whenever the job changes.
func (s *Server) handleWatchJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	// Resolve the job before upgrading so a bad ID gets a plain 404.
	job, err := s.svc.Jobs.JobStatus(r.Context(), jobID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		s.logger.Warn("websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	// The read pump only notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.watchInterval)
	defer ticker.Stop()

	var last *models.Job
	for {
		if changed(last, job) {
			_ = conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
			if err := conn.WriteJSON(job); err != nil {
				s.logger.Debug("job watch write failed", "job_id", jobID, "error", err)
				return
			}
			last = job
		}
		if job.Status.Terminal() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(job.Status))
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(watchWriteTimeout))
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-gone:
			return
		case <-ticker.C:
		}

		next, err := s.svc.Jobs.JobStatus(r.Context(), jobID)
		if err != nil {
			// The text (and its jobs) may have been deleted mid-watch.
			s.logger.Debug("job watch lookup failed", "job_id", jobID, "error", err)
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "job unavailable")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(watchWriteTimeout))
			return
		}
		job = next
	}
}

func changed(prev, cur *models.Job) bool {
	if prev == nil {
		return true
	}
	return prev.Status != cur.Status ||
		prev.SentenceCount != cur.SentenceCount ||
		prev.TotalSentences != cur.TotalSentences ||
		!prev.UpdatedAt.Equal(cur.UpdatedAt)
}
