// Package queue implements the durable transcription task queue and its
// recovery sweeper on top of the shared SQLite store.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harkaudio/hark/internal/events"
	"github.com/harkaudio/hark/internal/logger"
	"github.com/harkaudio/hark/internal/metrics"
	"github.com/harkaudio/hark/internal/store"
	"github.com/harkaudio/hark/internal/task"
)

// Error definitions
var (
	ErrDuplicateID = errors.New("task id already exists")
	ErrUnknownFile = errors.New("file id has no record")
)

const taskColumns = `id, file_id, status, priority, retry_count, max_retries,
	worker_id, started_at, last_heartbeat, timeout_seconds,
	progress, duration, segments, error, created_at, completed_at`

// TaskQueue is the durable priority queue owning the task state machine.
// Every operation is a single atomic statement against the store, except Fail,
// which runs a requeue statement and, when that misses, a second one that
// fails the task; none hold transactions open across engine or filesystem I/O. Benign predicate misses
// (a heartbeat against a cancelled task, a complete that lost the race)
// return false rather than an error.
type TaskQueue struct {
	store     *store.Store
	publisher events.Publisher // optional
}

// Option configures a TaskQueue
type Option func(*TaskQueue)

// WithPublisher attaches an event publisher; queue transitions are announced
// on it
func WithPublisher(p events.Publisher) Option {
	return func(q *TaskQueue) { q.publisher = p }
}

// New creates a TaskQueue over the shared store
func New(s *store.Store, opts ...Option) *TaskQueue {
	q := &TaskQueue{store: s}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// EnqueueParams carries the optional scheduling knobs for Enqueue
type EnqueueParams struct {
	Priority       int
	MaxRetries     int
	TimeoutSeconds int
}

// DefaultEnqueueParams returns the documented defaults
func DefaultEnqueueParams() EnqueueParams {
	return EnqueueParams{
		Priority:       0,
		MaxRetries:     task.DefaultMaxRetries,
		TimeoutSeconds: task.DefaultTimeoutSeconds,
	}
}

// Enqueue inserts a new PENDING task for fileID. Fails with ErrDuplicateID
// if taskID exists and ErrUnknownFile if fileID has no file record.
func (q *TaskQueue) Enqueue(ctx context.Context, taskID, fileID string, params EnqueueParams) error {
	if params.MaxRetries < 0 {
		params.MaxRetries = 0
	}
	if params.TimeoutSeconds <= 0 {
		params.TimeoutSeconds = task.DefaultTimeoutSeconds
	}

	_, err := q.store.DB().ExecContext(ctx,
		`INSERT INTO transcription_tasks
		 (id, file_id, status, priority, max_retries, timeout_seconds, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		taskID, fileID, task.StatusPending,
		params.Priority, params.MaxRetries, params.TimeoutSeconds,
		store.FormatTime(time.Now()),
	)
	if err != nil {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "UNIQUE constraint failed"):
			return ErrDuplicateID
		case strings.Contains(msg, "FOREIGN KEY constraint failed"):
			return ErrUnknownFile
		}
		return fmt.Errorf("enqueue: %w", err)
	}

	metrics.RecordTaskEnqueued()
	q.publish(ctx, events.EventTaskSubmitted, events.TaskEventData(taskID, map[string]interface{}{
		"file_id":  fileID,
		"priority": params.Priority,
	}))

	l := logger.WithTask(taskID)
	l.Info().
		Str("file_id", fileID).
		Int("priority", params.Priority).
		Msg("task enqueued")

	return nil
}

// Dequeue atomically claims the highest-priority PENDING task for workerID
// and returns its post-image, or (nil, nil) when the queue is empty. The
// select-and-update runs as one statement, so two concurrent workers never
// receive the same task.
func (q *TaskQueue) Dequeue(ctx context.Context, workerID string) (*task.Task, error) {
	now := store.FormatTime(time.Now())

	row := q.store.DB().QueryRowContext(ctx,
		`UPDATE transcription_tasks
		 SET status = ?, worker_id = ?, started_at = ?, last_heartbeat = ?
		 WHERE id IN (
			 SELECT id FROM transcription_tasks
			 WHERE status = ?
			 ORDER BY priority DESC, created_at ASC
			 LIMIT 1
		 )
		 RETURNING `+taskColumns,
		task.StatusProcessing, workerID, now, now,
		task.StatusPending,
	)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	metrics.RecordTaskClaimed()
	q.publish(ctx, events.EventTaskStarted, events.TaskEventData(t.ID, map[string]interface{}{
		"worker_id":   workerID,
		"retry_count": t.RetryCount,
	}))

	return t, nil
}

// Heartbeat updates last_heartbeat and progress, only while the task is
// still PROCESSING. Returns true iff a row was updated; a heartbeat must
// never resurrect a cancelled or completed task.
func (q *TaskQueue) Heartbeat(ctx context.Context, taskID string, progress float64) (bool, error) {
	res, err := q.store.DB().ExecContext(ctx,
		`UPDATE transcription_tasks
		 SET last_heartbeat = ?, progress = ?
		 WHERE id = ? AND status = ?`,
		store.FormatTime(time.Now()), progress, taskID, task.StatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("heartbeat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		q.publish(ctx, events.EventTaskProgress, events.TaskEventData(taskID, map[string]interface{}{
			"progress": progress,
		}))
	}
	return n > 0, nil
}

// Complete transitions PROCESSING -> COMPLETED with results. Applied only
// while the task is PROCESSING, which protects against a cancellation that
// won the race with a completing worker. Returns true iff applied.
func (q *TaskQueue) Complete(ctx context.Context, taskID string, segments []task.Segment, duration float64) (bool, error) {
	encoded, err := task.EncodeSegments(segments)
	if err != nil {
		return false, fmt.Errorf("complete: encode segments: %w", err)
	}

	res, err := q.store.DB().ExecContext(ctx,
		`UPDATE transcription_tasks
		 SET status = ?, segments = ?, duration = ?, progress = 100.0, completed_at = ?
		 WHERE id = ? AND status = ?`,
		task.StatusCompleted, encoded, duration, store.FormatTime(time.Now()),
		taskID, task.StatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("complete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	if n > 0 {
		metrics.RecordTaskFinished(string(task.StatusCompleted))
		metrics.RecordAudioTranscribed(duration)
		q.publish(ctx, events.EventTaskCompleted, events.TaskEventData(taskID, map[string]interface{}{
			"segments": len(segments),
			"duration": duration,
		}))
		l := logger.WithTask(taskID)
		l.Info().
			Int("segments", len(segments)).
			Float64("duration", duration).
			Msg("task completed")
	}
	return n > 0, nil
}

// Fail records a failure. With shouldRetry, the task first attempts the
// atomic requeue `retry_count < max_retries` guard inside the UPDATE
// predicate; checking the ceiling with a prior SELECT would lose updates
// under concurrency. When the guard misses (or shouldRetry is false) the
// task transitions PROCESSING -> FAILED. Returns true iff either statement
// updated a row; never transitions out of a terminal state.
func (q *TaskQueue) Fail(ctx context.Context, taskID, errMsg string, shouldRetry bool) (bool, error) {
	if shouldRetry {
		res, err := q.store.DB().ExecContext(ctx,
			`UPDATE transcription_tasks
			 SET status = ?, retry_count = retry_count + 1,
			     error = ?, worker_id = NULL, started_at = NULL
			 WHERE id = ? AND status = ? AND retry_count < max_retries`,
			task.StatusPending, errMsg, taskID, task.StatusProcessing,
		)
		if err != nil {
			return false, fmt.Errorf("fail: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		if n > 0 {
			metrics.RecordTaskRetried()
			q.publish(ctx, events.EventTaskRetrying, events.TaskEventData(taskID, map[string]interface{}{
				"error": errMsg,
			}))
			l := logger.WithTask(taskID)
			l.Warn().Str("error", errMsg).Msg("task requeued for retry")
			return true, nil
		}
	}

	res, err := q.store.DB().ExecContext(ctx,
		`UPDATE transcription_tasks
		 SET status = ?, error = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		task.StatusFailed, errMsg, store.FormatTime(time.Now()),
		taskID, task.StatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("fail: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		metrics.RecordTaskFinished(string(task.StatusFailed))
		q.publish(ctx, events.EventTaskFailed, events.TaskEventData(taskID, map[string]interface{}{
			"error": errMsg,
		}))
		l := logger.WithTask(taskID)
		l.Error().Str("error", errMsg).Msg("task failed")
	}
	return n > 0, nil
}

// Cancel transitions a PENDING or PROCESSING task to CANCELLED. Returns true
// iff applied; terminal tasks are untouched. A mid-flight worker observes the
// change at its next segment boundary and abandons the job.
func (q *TaskQueue) Cancel(ctx context.Context, taskID string) (bool, error) {
	res, err := q.store.DB().ExecContext(ctx,
		`UPDATE transcription_tasks
		 SET status = ?, completed_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		task.StatusCancelled, store.FormatTime(time.Now()),
		taskID, task.StatusPending, task.StatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("cancel: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		metrics.RecordTaskFinished(string(task.StatusCancelled))
		q.publish(ctx, events.EventTaskCancelled, events.TaskEventData(taskID, nil))
		l := logger.WithTask(taskID)
		l.Info().Msg("task cancelled")
	}
	return n > 0, nil
}

// GetTask fetches a task by id
func (q *TaskQueue) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	row := q.store.DB().QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM transcription_tasks WHERE id = ?`, taskID)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, task.ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListTasks returns tasks ordered by created_at DESC, optionally filtered by
// exact status
func (q *TaskQueue) ListTasks(ctx context.Context, status *task.Status, limit, offset int) ([]*task.Task, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status != nil {
		rows, err = q.store.DB().QueryContext(ctx,
			`SELECT `+taskColumns+` FROM transcription_tasks
			 WHERE status = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
			*status, limit, offset)
	} else {
		rows, err = q.store.DB().QueryContext(ctx,
			`SELECT `+taskColumns+` FROM transcription_tasks
			 ORDER BY created_at DESC LIMIT ? OFFSET ?`,
			limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// CountTasks counts tasks, optionally filtered by exact status
func (q *TaskQueue) CountTasks(ctx context.Context, status *task.Status) (int, error) {
	var n int
	var err error
	if status != nil {
		err = q.store.DB().QueryRowContext(ctx,
			`SELECT COUNT(*) FROM transcription_tasks WHERE status = ?`, *status).Scan(&n)
	} else {
		err = q.store.DB().QueryRowContext(ctx,
			`SELECT COUNT(*) FROM transcription_tasks`).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

// CountByStatus returns task counts grouped by status. Statuses with no
// tasks are present with a zero count.
func (q *TaskQueue) CountByStatus(ctx context.Context) (map[task.Status]int, error) {
	rows, err := q.store.DB().QueryContext(ctx,
		`SELECT status, COUNT(*) FROM transcription_tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[task.Status]int, len(task.Statuses))
	for _, s := range task.Statuses {
		counts[s] = 0
	}
	for rows.Next() {
		var s task.Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[s] = n
	}
	return counts, rows.Err()
}

func (q *TaskQueue) publish(ctx context.Context, eventType events.EventType, data map[string]interface{}) {
	if q.publisher == nil {
		return
	}
	if err := q.publisher.Publish(ctx, events.NewEvent(eventType, data)); err != nil {
		logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("failed to publish event")
	}
}

// scanner covers *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(s scanner) (*task.Task, error) {
	var (
		t             task.Task
		workerID      sql.NullString
		startedAt     sql.NullString
		lastHeartbeat sql.NullString
		duration      sql.NullFloat64
		segments      sql.NullString
		errMsg        sql.NullString
		createdAt     string
		completedAt   sql.NullString
	)

	if err := s.Scan(
		&t.ID, &t.FileID, &t.Status, &t.Priority, &t.RetryCount, &t.MaxRetries,
		&workerID, &startedAt, &lastHeartbeat, &t.TimeoutSeconds,
		&t.Progress, &duration, &segments, &errMsg, &createdAt, &completedAt,
	); err != nil {
		return nil, err
	}

	t.WorkerID = workerID.String
	t.Error = errMsg.String

	ts, err := store.ParseTime(createdAt)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = ts

	if startedAt.Valid {
		ts, err := store.ParseTime(startedAt.String)
		if err != nil {
			return nil, err
		}
		t.StartedAt = &ts
	}
	if lastHeartbeat.Valid {
		ts, err := store.ParseTime(lastHeartbeat.String)
		if err != nil {
			return nil, err
		}
		t.LastHeartbeat = &ts
	}
	if completedAt.Valid {
		ts, err := store.ParseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		t.CompletedAt = &ts
	}
	if duration.Valid {
		d := duration.Float64
		t.Duration = &d
	}
	if segments.Valid {
		segs, err := task.DecodeSegments(segments.String)
		if err != nil {
			return nil, err
		}
		t.Segments = segs
	}

	return &t, nil
}
