package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorker_EnqueueAsyncCompletesBeforeShutdown(t *testing.T) {
	w := NewWorker(2)
	var ran atomic.Int32
	for i := 0; i < 20; i++ {
		w.EnqueueAsync(func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
	}
	w.Shutdown()
	assert.Equal(t, int32(20), ran.Load())
	assert.Equal(t, int64(20), w.GetStats().CompletedJobs)
}

func TestWorker_TracksFailuresAndPanics(t *testing.T) {
	w := NewWorker(1)
	w.EnqueueAsync(func(ctx context.Context) error { return errors.New("boom") })
	w.EnqueueAsync(func(ctx context.Context) error { panic("kaboom") })
	w.Shutdown()

	stats := w.GetStats()
	assert.Equal(t, int64(2), stats.FailedJobs)
	assert.Equal(t, int64(2), stats.CompletedJobs)
	assert.Equal(t, 0, stats.ActiveJobs)
}

func TestWorker_ScheduleEveryStopsOnShutdown(t *testing.T) {
	w := NewWorker(1)
	var ticks atomic.Int32
	w.ScheduleEvery(10*time.Millisecond, func(ctx context.Context) error {
		ticks.Add(1)
		return nil
	})
	assert.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, 5*time.Millisecond)
	w.Shutdown()
	after := ticks.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, ticks.Load())
}

func TestWorker_AsyncJobsSurviveShutdown(t *testing.T) {
	w := NewWorker(1)
	release := make(chan struct{})
	var ctxErr atomic.Value
	w.EnqueueAsync(func(ctx context.Context) error {
		<-release
		if err := ctx.Err(); err != nil {
			ctxErr.Store(err)
		}
		return nil
	})

	done := make(chan struct{})
	go func() {
		w.Shutdown()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Shutdown returned before the async job finished")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-done
	assert.Nil(t, ctxErr.Load())
}

func TestWorker_EnqueueAfterShutdownRunsInline(t *testing.T) {
	w := NewWorker(1)
	w.Shutdown()

	ran := false
	w.EnqueueAsync(func(ctx context.Context) error {
		ran = true
		return nil
	})
	assert.True(t, ran)
	assert.Equal(t, int64(1), w.GetStats().CompletedJobs)
}
