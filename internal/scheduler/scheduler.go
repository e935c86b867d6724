// Package scheduler runs the engine's periodic jobs on a shared worker
// pool. Jobs register once at startup; each gets its own ticker loop, and
// individual cycles are submitted to the pool so slow cycles never stall
// the tickers of other jobs.
package scheduler

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

// Job is one periodic duty of the engine.
type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

type Scheduler struct {
	pool  *ants.Pool
	clock Clock
	jobs  []Job
	wg    sync.WaitGroup
}

func New(poolSize int, clock Clock) (*Scheduler, error) {
	pool, err := ants.NewPool(poolSize, ants.WithPanicHandler(func(p any) {
		slog.Error("job panic", "panic", p, "stack", string(debug.Stack()))
	}))
	if err != nil {
		return nil, err
	}
	return &Scheduler{pool: pool, clock: clock}, nil
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(jobs ...Job) {
	s.jobs = append(s.jobs, jobs...)
}

// Start launches one ticker loop per registered job. It returns
// immediately; loops stop when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
		slog.Info("job registered", "job", job.Name(), "interval", job.Interval().String())
	}
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(job.Interval()):
		}

		err := s.pool.Submit(func() {
			if err := job.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("job cycle failed", "job", job.Name(), "error", err)
			}
		})
		if err != nil {
			slog.Error("job submit failed", "job", job.Name(), "error", err)
		}
	}
}

// Stop waits for ticker loops to exit, then releases the pool, waiting out
// any in-flight cycles up to timeout.
func (s *Scheduler) Stop(timeout time.Duration) {
	s.wg.Wait()
	if err := s.pool.ReleaseTimeout(timeout); err != nil {
		slog.Error("worker pool release timed out", "error", err)
	}
}

// JobFunc adapts a func to the Job interface.
type JobFunc struct {
	JobName     string
	JobInterval time.Duration
	Fn          func(ctx context.Context) error
}

func (j JobFunc) Name() string            { return j.JobName }
func (j JobFunc) Interval() time.Duration { return j.JobInterval }
func (j JobFunc) Run(ctx context.Context) error {
	return j.Fn(ctx)
}
