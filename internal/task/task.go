package task

import (
	"encoding/json"
	"time"
)

// Default scheduling knobs applied by enqueue when the caller does not
// override them.
const (
	DefaultMaxRetries     = 3
	DefaultTimeoutSeconds = 3600
)

// Segment is a time-bounded piece of transcript. Segments are produced by the
// engine in increasing start order and persisted on the task as a JSON array
// once it completes.
type Segment struct {
	Start float64 `json:"start"` // seconds
	End   float64 `json:"end"`   // seconds
	Text  string  `json:"text"`
}

// Task is a unit of work: transcribe one uploaded file with a given priority.
//
// StartedAt and LastHeartbeat are nil until the task has been claimed at least
// once; CompletedAt is non-nil exactly when the status is terminal; Segments
// and Duration are set only on completion.
type Task struct {
	ID             string     `json:"id"`
	FileID         string     `json:"file_id"`
	Status         Status     `json:"status"`
	Priority       int        `json:"priority"`
	RetryCount     int        `json:"retry_count"`
	MaxRetries     int        `json:"max_retries"`
	WorkerID       string     `json:"worker_id,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	LastHeartbeat  *time.Time `json:"last_heartbeat,omitempty"`
	TimeoutSeconds int        `json:"timeout_seconds"`
	Progress       float64    `json:"progress"`
	Duration       *float64   `json:"duration,omitempty"`
	Segments       []Segment  `json:"segments,omitempty"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// CreateRequest is the API request for creating a transcription task
type CreateRequest struct {
	FileID         string `json:"file_id"`
	Priority       int    `json:"priority,omitempty"`
	MaxRetries     *int   `json:"max_retries,omitempty"`
	TimeoutSeconds *int   `json:"timeout_seconds,omitempty"`
}

// Response is the API representation of a task
type Response struct {
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

// ToResponse converts a Task to its API representation
func (t *Task) ToResponse() *Response {
	return &Response{
		TaskID:      t.ID,
		FileID:      t.FileID,
		Status:      t.Status.String(),
		Priority:    t.Priority,
		RetryCount:  t.RetryCount,
		MaxRetries:  t.MaxRetries,
		Progress:    t.Progress,
		Duration:    t.Duration,
		Segments:    t.Segments,
		Error:       t.Error,
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
	}
}

// EncodeSegments serializes segments for storage. An empty (or nil) slice
// encodes to "[]" so a completed task always carries a non-null result.
func EncodeSegments(segments []Segment) (string, error) {
	if segments == nil {
		segments = []Segment{}
	}
	data, err := json.Marshal(segments)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeSegments deserializes segments from storage. Empty input decodes to
// nil, matching a task that never completed.
func DecodeSegments(data string) ([]Segment, error) {
	if data == "" {
		return nil, nil
	}
	var segments []Segment
	if err := json.Unmarshal([]byte(data), &segments); err != nil {
		return nil, err
	}
	return segments, nil
}
