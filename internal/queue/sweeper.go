package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harkaudio/hark/internal/logger"
	"github.com/harkaudio/hark/internal/metrics"
	"github.com/harkaudio/hark/internal/store"
	"github.com/harkaudio/hark/internal/task"
)

// Error markers written by the sweeper passes
const (
	errTimeoutRequeued    = "task timeout - requeued"
	errTimeoutExhausted   = "task timeout - max retries exceeded"
	errHeartbeatRequeued  = "worker heartbeat timeout - requeued"
	errHeartbeatExhausted = "worker heartbeat timeout - max retries exceeded"
)

// Sweeper reclaims tasks abandoned by crashed or stuck workers. Each pass is
// two atomic statements: tasks below the retry ceiling go back to PENDING,
// tasks at the ceiling go to terminal FAILED. Both passes are idempotent and
// safe to run from any process sharing the store.
type Sweeper struct {
	queue            *TaskQueue
	interval         time.Duration
	taskTimeout      time.Duration
	heartbeatTimeout time.Duration
	stopCh           chan struct{}
	stopOnce         sync.Once
	wg               sync.WaitGroup
}

// NewSweeper creates a sweeper over the queue
func NewSweeper(q *TaskQueue, interval, taskTimeout, heartbeatTimeout time.Duration) *Sweeper {
	return &Sweeper{
		queue:            q,
		interval:         interval,
		taskTimeout:      taskTimeout,
		heartbeatTimeout: heartbeatTimeout,
		stopCh:           make(chan struct{}),
	}
}

// Start begins the sweep loop
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.sweepLoop(ctx)

	logger.Info().
		Dur("interval", s.interval).
		Dur("task_timeout", s.taskTimeout).
		Dur("heartbeat_timeout", s.heartbeatTimeout).
		Msg("sweeper started")
}

// Stop stops the sweep loop
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	logger.Info().Msg("sweeper stopped")
}

func (s *Sweeper) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs both maintenance passes once
func (s *Sweeper) Sweep(ctx context.Context) {
	if requeued, failed, err := s.RequeueTimedOut(ctx, s.taskTimeout); err != nil {
		logger.Error().Err(err).Msg("timeout sweep failed")
	} else if requeued > 0 || failed > 0 {
		logger.Info().Int("requeued", requeued).Int("failed", failed).Msg("reclaimed timed-out tasks")
	}

	if requeued, failed, err := s.RequeueDeadWorkers(ctx, s.heartbeatTimeout); err != nil {
		logger.Error().Err(err).Msg("heartbeat sweep failed")
	} else if requeued > 0 || failed > 0 {
		logger.Info().Int("requeued", requeued).Int("failed", failed).Msg("reclaimed tasks from dead workers")
	}
}

// RequeueTimedOut reclaims PROCESSING tasks whose started_at is older than
// timeout. Tasks below the retry ceiling return to PENDING with the claim
// cleared; tasks at the ceiling become FAILED.
func (s *Sweeper) RequeueTimedOut(ctx context.Context, timeout time.Duration) (requeued, failed int, err error) {
	cutoff := store.FormatTime(time.Now().Add(-timeout))
	return s.reclaim(ctx, "started_at", cutoff, errTimeoutRequeued, errTimeoutExhausted)
}

// RequeueDeadWorkers reclaims PROCESSING tasks whose last_heartbeat is older
// than timeout. This covers workers alive enough to hold a claim but not to
// report progress.
func (s *Sweeper) RequeueDeadWorkers(ctx context.Context, timeout time.Duration) (requeued, failed int, err error) {
	cutoff := store.FormatTime(time.Now().Add(-timeout))
	return s.reclaim(ctx, "last_heartbeat", cutoff, errHeartbeatRequeued, errHeartbeatExhausted)
}

// reclaim is the shared two-phase pass. The retry ceiling lives inside the
// UPDATE predicates; a read-compute-write pattern here would be a lost-update
// race.
func (s *Sweeper) reclaim(ctx context.Context, ageColumn, cutoff, requeueMsg, exhaustMsg string) (int, int, error) {
	db := s.queue.store.DB()

	res, err := db.ExecContext(ctx,
		`UPDATE transcription_tasks
		 SET status = ?, worker_id = NULL, started_at = NULL,
		     retry_count = retry_count + 1, error = ?
		 WHERE status = ?
		   AND `+ageColumn+` < ?
		   AND retry_count < max_retries`,
		task.StatusPending, requeueMsg, task.StatusProcessing, cutoff,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("sweep requeue: %w", err)
	}
	requeued64, err := res.RowsAffected()
	if err != nil {
		return 0, 0, err
	}

	res, err = db.ExecContext(ctx,
		`UPDATE transcription_tasks
		 SET status = ?, error = ?, completed_at = ?
		 WHERE status = ?
		   AND `+ageColumn+` < ?
		   AND retry_count >= max_retries`,
		task.StatusFailed, exhaustMsg, store.FormatTime(time.Now()),
		task.StatusProcessing, cutoff,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("sweep exhaust: %w", err)
	}
	failed64, err := res.RowsAffected()
	if err != nil {
		return 0, 0, err
	}

	if requeued64 > 0 {
		metrics.RecordSweeperRequeued(int(requeued64))
	}
	if failed64 > 0 {
		metrics.RecordSweeperFailed(int(failed64))
	}

	return int(requeued64), int(failed64), nil
}
