// Package worker implements the single-threaded claim-and-transcribe loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/harkaudio/hark/internal/config"
	"github.com/harkaudio/hark/internal/engine"
	"github.com/harkaudio/hark/internal/logger"
	"github.com/harkaudio/hark/internal/metrics"
	"github.com/harkaudio/hark/internal/queue"
	"github.com/harkaudio/hark/internal/store"
	"github.com/harkaudio/hark/internal/task"
)

// Worker drives one claim at a time: dequeue, preflight the audio file, run
// the engine, stream heartbeats at segment boundaries, and report the
// terminal state. Cancellation is cooperative: the worker polls the task
// between segments and abandons without writing when it observes CANCELLED.
type Worker struct {
	id           string
	queue        *queue.TaskQueue
	files        *store.FileRegistry
	engine       engine.Engine
	options      *engine.Options
	pollInterval time.Duration
	errorBackoff time.Duration
	log          zerolog.Logger
}

// New creates a worker. An empty cfg.ID derives one from the hostname plus a
// random suffix; it only needs to be unique among live workers.
func New(cfg *config.WorkerConfig, q *queue.TaskQueue, files *store.FileRegistry, eng engine.Engine) *Worker {
	workerID := cfg.ID
	if workerID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		workerID = fmt.Sprintf("worker-%s-%s", hostname, uuid.New().String()[:8])
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	errorBackoff := cfg.ErrorBackoff
	if errorBackoff <= 0 {
		errorBackoff = 5 * time.Second
	}

	return &Worker{
		id:           workerID,
		queue:        q,
		files:        files,
		engine:       eng,
		options:      engine.DefaultOptions(),
		pollInterval: pollInterval,
		errorBackoff: errorBackoff,
		log:          logger.WithWorker(workerID),
	}
}

// ID returns the worker's identity as written into claims
func (w *Worker) ID() string {
	return w.id
}

// Run executes the poll loop until ctx is cancelled. A task already
// mid-flight when ctx ends runs to completion; the loop only observes
// shutdown between tasks.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("worker stopped")
			return nil
		default:
		}

		t, err := w.queue.Dequeue(ctx, w.id)
		if err != nil {
			w.log.Error().Err(err).Msg("dequeue failed")
			if !w.sleep(ctx, w.errorBackoff) {
				return nil
			}
			continue
		}

		if t == nil {
			if !w.sleep(ctx, w.pollInterval) {
				return nil
			}
			continue
		}

		// Writes for the in-flight task must survive shutdown
		if err := w.runTask(context.WithoutCancel(ctx), t); err != nil {
			w.log.Error().Err(err).Str("task_id", t.ID).Msg("task loop error")
			if !w.sleep(ctx, w.errorBackoff) {
				return nil
			}
		}
	}
}

// sleep waits for d or until ctx ends; returns false on shutdown
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// runTask supervises one claimed task. All unexpected panics are converted
// into a retryable failure so one bad task never stops the worker.
func (w *Worker) runTask(ctx context.Context, t *task.Task) (err error) {
	log := w.log.With().Str("task_id", t.ID).Logger()
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("transcription panicked")
			if _, failErr := w.queue.Fail(ctx, t.ID, fmt.Sprintf("worker panic: %v", r), true); failErr != nil {
				log.Error().Err(failErr).Msg("failed to record panic failure")
			}
			err = fmt.Errorf("panic: %v", r)
		}
		metrics.RecordTranscription(time.Since(started).Seconds())
	}()

	log.Info().Str("file_id", t.FileID).Msg("starting transcription")

	// Preflight: a missing record or blob cannot be healed by retrying
	filePath, ferr := w.files.GetFilePath(ctx, t.FileID)
	if ferr != nil {
		if errors.Is(ferr, store.ErrFileNotFound) {
			_, err = w.queue.Fail(ctx, t.ID, fmt.Sprintf("file not found: %s", t.FileID), false)
			return err
		}
		_, err = w.queue.Fail(ctx, t.ID, fmt.Sprintf("file lookup failed: %v", ferr), true)
		return err
	}
	if _, statErr := os.Stat(filePath); statErr != nil {
		_, err = w.queue.Fail(ctx, t.ID, fmt.Sprintf("file does not exist: %s", filePath), false)
		return err
	}

	var lastProgress float64
	onProgress := func(percent float64) {
		if percent > lastProgress {
			lastProgress = percent
		}
	}

	stream, terr := w.engine.Transcribe(ctx, filePath, w.options, onProgress)
	if terr != nil {
		_, err = w.queue.Fail(ctx, t.ID, terr.Error(), true)
		return err
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			log.Debug().Err(cerr).Msg("stream close")
		}
	}()

	var segments []task.Segment
	var duration float64

	for {
		seg, nerr := stream.Next()
		if nerr != nil {
			if errors.Is(nerr, io.EOF) {
				break
			}
			_, err = w.queue.Fail(ctx, t.ID, nerr.Error(), true)
			return err
		}

		segments = append(segments, task.Segment{Start: seg.Start, End: seg.End, Text: seg.Text})
		if seg.End > duration {
			duration = seg.End
		}
		metrics.RecordSegments(1)

		// Cancellation is observable within one segment boundary
		current, gerr := w.queue.GetTask(ctx, t.ID)
		if gerr == nil && current.Status == task.StatusCancelled {
			log.Warn().Msg("task cancelled mid-transcription, discarding partial result")
			return nil
		}

		// Transient heartbeat failures must not kill the job; the sweeper
		// reclaims the claim if it goes truly silent.
		if _, herr := w.queue.Heartbeat(ctx, t.ID, lastProgress); herr != nil {
			metrics.RecordHeartbeatError()
			log.Warn().Err(herr).Msg("heartbeat failed")
		}
	}

	if len(segments) == 0 {
		log.Warn().Msg("no segments produced; file may be silent or fully VAD-filtered")
	}

	ok, cerr := w.queue.Complete(ctx, t.ID, segments, duration)
	if cerr != nil {
		return cerr
	}
	if !ok {
		log.Warn().Msg("task was cancelled before completion, result discarded")
		return nil
	}

	log.Info().
		Int("segments", len(segments)).
		Float64("duration", duration).
		Dur("elapsed", time.Since(started)).
		Msg("transcription finished")
	return nil
}
