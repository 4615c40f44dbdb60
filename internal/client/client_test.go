package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/echoes/internal/models"
)

func TestUploadSendsMultipart(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/texts", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("ingest"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Ada", r.FormValue("writerName"))
		assert.Equal(t, "Notes", r.FormValue("title"))

		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "Some text.", string(data))

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"text": models.Text{ID: "t1", Title: "Notes"},
			"job":  models.Job{ID: "j1", Status: models.JobPending},
		})
	}))
	defer ts.Close()

	c := New(ts.URL, 0)
	res, err := c.Upload(context.Background(), "Ada", "Notes", "notes.txt", strings.NewReader("Some text."), true)
	require.NoError(t, err)
	assert.Equal(t, "t1", res.Text.ID)
	require.NotNil(t, res.Job)
	assert.Equal(t, models.JobPending, res.Job.Status)
}

func TestAPIErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/conversations/c1/turns":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"no unused sentences left","code":"no_candidates"}`))
		default:
			http.Error(w, "gateway down", http.StatusBadGateway)
		}
	}))
	defer ts.Close()

	c := New(ts.URL+"/", 0)

	_, err := c.NextTurn(context.Background(), "c1", "")
	require.Error(t, err)
	assert.True(t, IsCode(err, "no_candidates"))
	assert.Equal(t, "no unused sentences left (no_candidates)", err.Error())

	_, err = c.GetJob(context.Background(), "j1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Empty(t, apiErr.Code)
	assert.Equal(t, "gateway down", apiErr.Message)
}

func TestWatchJob(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/jobs/j1/watch" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for _, status := range []models.JobStatus{models.JobProcessing, models.JobCompleted} {
			require.NoError(t, conn.WriteJSON(models.Job{ID: "j1", Status: status}))
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "completed"))
		// Wait for the client's close reply.
		_, _, _ = conn.ReadMessage()
	}))
	defer ts.Close()

	c := New(ts.URL, 0)
	var seen []models.JobStatus
	err := c.WatchJob(context.Background(), "j1", func(j models.Job) error {
		seen = append(seen, j.Status)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []models.JobStatus{models.JobProcessing, models.JobCompleted}, seen)

	err = c.WatchJob(context.Background(), "missing", func(models.Job) error { return nil })
	assert.True(t, IsCode(err, "not_found"))
}
