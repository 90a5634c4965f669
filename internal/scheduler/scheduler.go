// Package scheduler runs pipeline stages on fixed intervals. Each job runs
// once immediately on start and then on every tick; a tick that arrives while
// the previous invocation is still active is skipped rather than queued.
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Job is one periodically executed stage.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(context.Context) error

	mu sync.Mutex
	wg sync.WaitGroup
}

// Start blocks until ctx is cancelled, invoking the job immediately and then
// once per interval. It waits for an in-flight invocation before returning.
func (j *Job) Start(ctx context.Context) {
	log.Printf("[%s] scheduler started, interval %s", j.Name, j.Interval)

	j.invoke(ctx)

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			j.wg.Wait()
			log.Printf("[%s] scheduler stopped", j.Name)
			return
		case <-ticker.C:
			j.wg.Add(1)
			go func() {
				defer j.wg.Done()
				j.invoke(ctx)
			}()
		}
	}
}

// invoke runs the job once unless the previous invocation is still active.
// Cancellation is an orderly stop, not a failure.
func (j *Job) invoke(ctx context.Context) {
	if !j.mu.TryLock() {
		log.Printf("[%s] previous run still active, skipping", j.Name)
		return
	}
	defer j.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	if err := j.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Printf("[%s] run failed: %v", j.Name, err)
	}
}
