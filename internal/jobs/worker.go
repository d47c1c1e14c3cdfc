package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sjperalta/fintera-sign-api/internal/telemetry"
	"github.com/sjperalta/fintera-sign-api/pkg/logger"
)

// Job represents a background task
type Job func(ctx context.Context) error

// DefaultAsyncTimeout bounds one fire-and-forget job
const DefaultAsyncTimeout = 30 * time.Second

// Job kinds used as metric labels
const (
	kindAsync     = "async"
	kindScheduled = "scheduled"
)

// Worker runs fire-and-forget jobs (audit appends off the request path)
// and interval schedules (expiry sweep).
//
// Async jobs are not cancelled by Shutdown: Shutdown stops the schedules and
// then waits for every accepted async job, so no ledger append is dropped on
// a graceful stop. Jobs submitted after Shutdown run inline.
type Worker struct {
	ctx    context.Context
	cancel context.CancelFunc

	schedules sync.WaitGroup
	async     sync.WaitGroup
	asyncSem  chan struct{}
	timeout   time.Duration

	mu     sync.RWMutex
	closed bool
	stats  WorkerStats
}

// WorkerStats holds statistics about the worker.
// CompletedJobs counts every finished job; FailedJobs is the failing subset.
type WorkerStats struct {
	ActiveJobs    int   `json:"active_jobs"`
	CompletedJobs int64 `json:"completed_jobs"`
	FailedJobs    int64 `json:"failed_jobs"`
	QueueLength   int   `json:"queue_length"`
	MaxConcurrent int   `json:"max_concurrent"`
}

// NewWorker creates a worker running at most 2*concurrency async jobs at once (minimum 10)
func NewWorker(concurrency int) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	limit := concurrency * 2
	if limit < 10 {
		limit = 10
	}
	return &Worker{
		ctx:      ctx,
		cancel:   cancel,
		asyncSem: make(chan struct{}, limit),
		timeout:  DefaultAsyncTimeout,
	}
}

// EnqueueAsync runs job in its own goroutine, bounded by the concurrency limit
func (w *Worker) EnqueueAsync(job Job) {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		w.run(kindAsync, job, w.timeout)
		return
	}
	w.async.Add(1)
	w.mu.RUnlock()

	w.mu.Lock()
	w.stats.QueueLength++
	w.mu.Unlock()

	go func() {
		defer w.async.Done()

		w.asyncSem <- struct{}{}
		defer func() { <-w.asyncSem }()

		w.mu.Lock()
		w.stats.QueueLength--
		w.mu.Unlock()

		w.run(kindAsync, job, w.timeout)
	}()
}

// ScheduleEvery runs a job at fixed intervals. The first run happens after the interval (not at startup).
func (w *Worker) ScheduleEvery(interval time.Duration, job Job) {
	w.schedules.Add(1)
	go func() {
		defer w.schedules.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-w.ctx.Done():
				return
			case <-ticker.C:
				w.run(kindScheduled, func(ctx context.Context) error {
					// Scheduled jobs stop with the worker
					ctx, cancel := context.WithCancel(ctx)
					defer cancel()
					stop := context.AfterFunc(w.ctx, cancel)
					defer stop()
					return job(ctx)
				}, 0)
			}
		}
	}()
}

// run executes one job, recovering panics and recording its outcome.
// timeout 0 means no deadline.
func (w *Worker) run(kind string, job Job, timeout time.Duration) {
	w.trackJobStart()
	outcome := telemetry.OutcomeSuccess
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error(fmt.Sprintf("[Worker] %s job panic: %v", kind, r))
			outcome = telemetry.OutcomeError
		}
		w.trackJobEnd(outcome == telemetry.OutcomeError)
		telemetry.BackgroundJobsTotal.WithLabelValues(kind, outcome).Inc()
	}()

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := job(ctx); err != nil {
		logger.Error(fmt.Sprintf("[Worker] %s job error: %v", kind, err))
		outcome = telemetry.OutcomeError
		return
	}
	logger.Debug(fmt.Sprintf("[Worker] %s job completed in %v", kind, time.Since(start)))
}

// Shutdown stops the schedules, then waits for accepted async jobs to finish
func (w *Worker) Shutdown() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	w.cancel()
	w.schedules.Wait()
	w.async.Wait()
}

// GetStats returns the current worker statistics
func (w *Worker) GetStats() WorkerStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	stats := w.stats
	stats.MaxConcurrent = cap(w.asyncSem)
	return stats
}

func (w *Worker) trackJobStart() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.ActiveJobs++
}

func (w *Worker) trackJobEnd(failed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.ActiveJobs--
	w.stats.CompletedJobs++
	if failed {
		w.stats.FailedJobs++
	}
}
