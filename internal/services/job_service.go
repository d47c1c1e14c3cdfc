package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sjperalta/fintera-sign-api/internal/jobs"
	"github.com/sjperalta/fintera-sign-api/pkg/logger"
)

// ExpirySweepInterval is how often pending requests past their deadline are removed
const ExpirySweepInterval = time.Hour

// ErrSweepRunning is returned when an expiry sweep is requested while one is in progress
var ErrSweepRunning = fmt.Errorf("%w: ya hay un barrido de expiración en curso", ErrConflict)

// ExpirySweeper removes pending requests past their deadline
type ExpirySweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// SweepRun is the outcome of the last finished expiry sweep
type SweepRun struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Removed    int       `json:"removed"`
	Error      string    `json:"error,omitempty"`
}

// JobStatus is the worker and schedule report of the jobs endpoint
type JobStatus struct {
	Worker        jobs.WorkerStats `json:"worker"`
	SweepInterval string           `json:"sweep_interval"`
	SweepRunning  bool             `json:"sweep_running"`
	LastSweep     *SweepRun        `json:"last_sweep,omitempty"`
}

// JobService exposes the background worker and schedules maintenance jobs
type JobService struct {
	worker  *jobs.Worker
	sweeper ExpirySweeper
	now     func() time.Time

	running atomic.Bool
	mu      sync.Mutex
	last    *SweepRun
}

func NewJobService(worker *jobs.Worker, sweeper ExpirySweeper) *JobService {
	return &JobService{
		worker:  worker,
		sweeper: sweeper,
		now:     time.Now,
	}
}

func (s *JobService) GetStatus() JobStatus {
	status := JobStatus{
		Worker:        s.worker.GetStats(),
		SweepInterval: ExpirySweepInterval.String(),
		SweepRunning:  s.running.Load(),
	}
	s.mu.Lock()
	if s.last != nil {
		last := *s.last
		status.LastSweep = &last
	}
	s.mu.Unlock()
	return status
}

// StartSchedules registers the recurring jobs
func (s *JobService) StartSchedules() {
	s.worker.ScheduleEvery(ExpirySweepInterval, func(ctx context.Context) error {
		if !s.running.CompareAndSwap(false, true) {
			logger.Warn("[Jobs] Skipping scheduled expiry sweep, previous run still active")
			return nil
		}
		return s.sweep(ctx)
	})
	logger.Info(fmt.Sprintf("[Jobs] Expiry sweep scheduled every %s", ExpirySweepInterval))
}

// TriggerExpirySweep queues one expiry sweep now.
// It returns ErrSweepRunning when a sweep is already in progress.
func (s *JobService) TriggerExpirySweep() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrSweepRunning
	}
	s.worker.EnqueueAsync(s.sweep)
	return nil
}

// sweep runs with the running flag already held and releases it
func (s *JobService) sweep(ctx context.Context) error {
	defer s.running.Store(false)

	run := SweepRun{StartedAt: s.now()}
	removed, err := s.sweeper.SweepExpired(ctx)
	run.FinishedAt = s.now()
	run.Removed = removed
	if err != nil {
		run.Error = err.Error()
	}

	s.mu.Lock()
	s.last = &run
	s.mu.Unlock()
	return err
}
