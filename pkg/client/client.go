package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to the hark HTTP API
type Client struct {
	baseURL string
	opts    *options
	ws      *WebSocketClient
}

// New creates a new Client for the given base URL
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &Client{baseURL: baseURL, opts: o}, nil
}

// APIError is a non-2xx response from the server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// File is an uploaded file record
type File struct {
	FileID      string `json:"file_id"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// Task is a transcription task record
type Task struct {
	TaskID      string     `json:"task_id"`
	FileID      string     `json:"file_id"`
	Status      string     `json:"status"`
	Priority    int        `json:"priority"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	Progress    float64    `json:"progress"`
	Duration    *float64   `json:"duration,omitempty"`
	Segments    []Segment  `json:"segments,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Segment is a time-bounded piece of transcript
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TaskList is a paginated listing
type TaskList struct {
	Tasks  []*Task `json:"tasks"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// CreateOptions carries optional scheduling knobs for CreateTranscription
type CreateOptions struct {
	Priority       int
	MaxRetries     *int
	TimeoutSeconds *int
}

// UploadFile uploads audio content for later transcription
func (c *Client) UploadFile(ctx context.Context, filename string, content io.Reader) (*File, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/files", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var f File
	if err := c.do(req, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// GetFile fetches file metadata
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	var f File
	if err := c.getJSON(ctx, "/api/files/"+fileID, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// DeleteFile removes a file and its blob
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/files/"+fileID, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// CreateTranscription enqueues a transcription task for an uploaded file
func (c *Client) CreateTranscription(ctx context.Context, fileID string, opts CreateOptions) (*Task, error) {
	payload := map[string]interface{}{
		"file_id":  fileID,
		"priority": opts.Priority,
	}
	if opts.MaxRetries != nil {
		payload["max_retries"] = *opts.MaxRetries
	}
	if opts.TimeoutSeconds != nil {
		payload["timeout_seconds"] = *opts.TimeoutSeconds
	}

	var t Task
	if err := c.postJSON(ctx, "/api/transcriptions", payload, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTranscriptionFromPath registers a server-side file and enqueues it
func (c *Client) CreateTranscriptionFromPath(ctx context.Context, filePath string, priority int) (*Task, error) {
	payload := map[string]interface{}{
		"file_path": filePath,
		"priority":  priority,
	}
	var t Task
	if err := c.postJSON(ctx, "/api/transcriptions/from-path", payload, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTranscription fetches a task, including segments once completed
func (c *Client) GetTranscription(ctx context.Context, taskID string) (*Task, error) {
	var t Task
	if err := c.getJSON(ctx, "/api/transcriptions/"+taskID, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTranscriptions lists tasks, optionally filtered by status
func (c *Client) ListTranscriptions(ctx context.Context, status string, limit, offset int) (*TaskList, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	path := "/api/transcriptions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var list TaskList
	if err := c.getJSON(ctx, path, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// CancelTranscription cancels a pending or processing task
func (c *Client) CancelTranscription(ctx context.Context, taskID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/transcriptions/"+taskID, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Health probes the server
func (c *Client) Health(ctx context.Context) error {
	return c.getJSON(ctx, "/admin/health", nil)
}

// ConnectWebSocket establishes a WebSocket connection for real-time events
func (c *Client) ConnectWebSocket(ctx context.Context) error {
	if c.ws != nil && c.ws.IsConnected() {
		return nil
	}
	c.ws = newWebSocketClient(c.baseURL, c.opts.apiKey)
	return c.ws.Connect(ctx)
}

// Events returns a channel of WebSocket events. ConnectWebSocket must be
// called first; otherwise the channel is closed immediately.
func (c *Client) Events() <-chan *Event {
	if c.ws == nil {
		ch := make(chan *Event)
		close(ch)
		return ch
	}
	return c.ws.Events()
}

// CloseWebSocket tears down the WebSocket connection if open
func (c *Client) CloseWebSocket() error {
	if c.ws == nil {
		return nil
	}
	return c.ws.Close()
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	c.opts.applyHeaders(req)

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := resp.Status
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
