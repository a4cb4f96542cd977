package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Job is a unit of periodic background work.
type Job func(ctx context.Context) error

// Runner executes registered jobs on a fixed-delay loop. One cycle runs all
// jobs sequentially; a job that errors or panics is logged and never stops
// its siblings or the loop. Start is idempotent.
type Runner struct {
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	jobs    []namedJob
	running bool
	stop    chan struct{}
	done    chan struct{}
}

type namedJob struct {
	name string
	job  Job
}

// NewRunner creates a runner with the given cycle interval.
func NewRunner(interval time.Duration, log *slog.Logger) *Runner {
	return &Runner{interval: interval, log: log}
}

// Register adds a named job. Must be called before Start.
func (r *Runner) Register(name string, job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, namedJob{name: name, job: job})
}

// Start launches the loop. Calling Start on a running runner is a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	stop, done := r.stop, r.done
	r.mu.Unlock()

	go r.loop(ctx, stop, done)
	r.log.Info("maintenance runner started", "interval", r.interval, "jobs", len(r.jobs))
}

func (r *Runner) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle executes every job once, in registration order.
func (r *Runner) runCycle(ctx context.Context) {
	r.mu.Lock()
	jobs := make([]namedJob, len(r.jobs))
	copy(jobs, r.jobs)
	r.mu.Unlock()

	for _, nj := range jobs {
		if err := r.runJob(ctx, nj); err != nil {
			r.log.Error("maintenance job failed", "job", nj.name, "error", err)
		}
	}
}

func (r *Runner) runJob(ctx context.Context, nj namedJob) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return nj.job(ctx)
}

// Stop halts the loop and waits for the current cycle to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	stop, done := r.stop, r.done
	r.mu.Unlock()

	close(stop)
	<-done
	r.log.Info("maintenance runner stopped")
}
