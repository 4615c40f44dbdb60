// Package client provides a REST client for the Echoes server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/echoes/internal/metrics"
	"github.com/raphaelgruber/echoes/internal/models"
)

// Client talks to an Echoes server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client. An empty baseURL defaults to localhost:8484 and a
// zero timeout to 2 minutes.
func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8484"
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("server error: %d - %s", e.StatusCode, e.Message)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// UploadResult is the server's reply to an upload.
type UploadResult struct {
	Text *models.Text `json:"text"`
	Job  *models.Job  `json:"job,omitempty"`
}

// do sends a request and decodes a JSON reply into result (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var body struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			apiErr.Message = body.Error
			apiErr.Code = body.Code
		}
		return apiErr
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, body, contentType, out)
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/api/health", nil, nil)
}

// Upload sends a text for the named writer. With ingest set the server
// starts ingestion right away and the job is included in the result.
func (c *Client) Upload(ctx context.Context, writerName, title, filename string, content io.Reader, ingest bool) (*UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("writerName", writerName); err != nil {
		return nil, fmt.Errorf("write form: %w", err)
	}
	if err := mw.WriteField("title", title); err != nil {
		return nil, fmt.Errorf("write form: %w", err)
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("write form: %w", err)
	}
	if _, err := io.Copy(fw, content); err != nil {
		return nil, fmt.Errorf("write form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("write form: %w", err)
	}

	path := "/api/texts"
	if ingest {
		path += "?ingest=true"
	}
	var result UploadResult
	if err := c.do(ctx, http.MethodPost, path, &buf, mw.FormDataContentType(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListTexts lists texts, optionally filtered by writer.
func (c *Client) ListTexts(ctx context.Context, writerID string) ([]models.Text, error) {
	path := "/api/texts"
	if writerID != "" {
		path += "?writerId=" + url.QueryEscape(writerID)
	}
	var texts []models.Text
	err := c.doJSON(ctx, http.MethodGet, path, nil, &texts)
	return texts, err
}

// DeleteText deletes a text and everything derived from it.
func (c *Client) DeleteText(ctx context.Context, textID string) (*models.TextDeletion, error) {
	var deletion models.TextDeletion
	if err := c.doJSON(ctx, http.MethodDelete, "/api/texts/"+url.PathEscape(textID), nil, &deletion); err != nil {
		return nil, err
	}
	return &deletion, nil
}

// StartIngestion starts a job for the text.
func (c *Client) StartIngestion(ctx context.Context, textID string) (*models.Job, error) {
	var job models.Job
	if err := c.doJSON(ctx, http.MethodPost, "/api/texts/"+url.PathEscape(textID)+"/ingest", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs lists jobs, optionally filtered by text.
func (c *Client) ListJobs(ctx context.Context, textID string) ([]models.Job, error) {
	path := "/api/jobs"
	if textID != "" {
		path += "?textId=" + url.QueryEscape(textID)
	}
	var jobs []models.Job
	err := c.doJSON(ctx, http.MethodGet, path, nil, &jobs)
	return jobs, err
}

// GetJob returns a job snapshot.
func (c *Client) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := c.doJSON(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(jobID), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListWriters lists all writers, or only those with an active job.
func (c *Client) ListWriters(ctx context.Context, processing bool) ([]models.Writer, error) {
	path := "/api/writers"
	if processing {
		path += "/processing"
	}
	var writers []models.Writer
	err := c.doJSON(ctx, http.MethodGet, path, nil, &writers)
	return writers, err
}

// StartWriters starts ingestion for every text of the writers.
func (c *Client) StartWriters(ctx context.Context, writerIDs []string) ([]models.Job, error) {
	var jobs []models.Job
	err := c.doJSON(ctx, http.MethodPost, "/api/writers/ingest", map[string]any{"writerIds": writerIDs}, &jobs)
	return jobs, err
}

// StartConversation creates a conversation with the writers.
func (c *Client) StartConversation(ctx context.Context, writerIDs []string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := c.doJSON(ctx, http.MethodPost, "/api/conversations", map[string]any{"writerIds": writerIDs}, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetConversation returns a conversation.
func (c *Client) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := c.doJSON(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(id), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ConversationWriters returns the participant writers.
func (c *Client) ConversationWriters(ctx context.Context, id string) ([]models.Writer, error) {
	var writers []models.Writer
	err := c.doJSON(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(id)+"/writers", nil, &writers)
	return writers, err
}

// History returns the messages of a conversation in order.
func (c *Client) History(ctx context.Context, id string) ([]models.Message, error) {
	var msgs []models.Message
	err := c.doJSON(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(id)+"/messages", nil, &msgs)
	return msgs, err
}

// NextTurn sends a prompt (empty to continue) and returns the reply.
func (c *Client) NextTurn(ctx context.Context, conversationID, prompt string) (*models.Turn, error) {
	var turn models.Turn
	if err := c.doJSON(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(conversationID)+"/turns",
		map[string]string{"prompt": prompt}, &turn); err != nil {
		return nil, err
	}
	return &turn, nil
}

// Stats returns the server's runtime metrics.
func (c *Client) Stats(ctx context.Context) (*metrics.Snapshot, error) {
	var snap metrics.Snapshot
	if err := c.doJSON(ctx, http.MethodGet, "/api/stats", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// WatchJob streams job snapshots to onUpdate until the job reaches a
// terminal state, the server closes the stream or ctx is cancelled.
// Return an error from onUpdate to stop early.
func (c *Client) WatchJob(ctx context.Context, jobID string, onUpdate func(models.Job) error) error {
	wsEndpoint := c.baseURL
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint + "/api/jobs/" + url.PathEscape(jobID) + "/watch")
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return &APIError{StatusCode: resp.StatusCode, Code: "not_found", Message: "job " + jobID + " not found"}
		}
		return fmt.Errorf("websocket connect: %w", err)
	}

	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			_ = conn.Close()
		}
	}
	defer closeConn()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		var job models.Job
		if err := conn.ReadJSON(&job); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read job update: %w", err)
		}
		if err := onUpdate(job); err != nil {
			return err
		}
	}
}
