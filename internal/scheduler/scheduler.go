// Package scheduler submits incremental sync jobs on a fixed interval. It
// owns all timing state; the job orchestrator stays timer-unaware.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"outreach-sync-engine/internal/syncjob/domain"
)

// Submitter is the slice of the job tracker the scheduler needs.
type Submitter interface {
	SubmitAsync(ctx context.Context, job *domain.Job) error
}

// Scheduler ticks at a fixed interval and submits an INCREMENTAL job covering
// the configured platforms. Namespaces are left empty so each run targets
// whatever namespaces are active at that moment.
type Scheduler struct {
	submitter Submitter
	platforms []string
	interval  time.Duration

	mu      sync.Mutex
	enabled bool
	nextRun time.Time
}

// New returns a scheduler. An interval of 0 disables it.
func New(submitter Submitter, platforms []string, interval time.Duration) *Scheduler {
	return &Scheduler{
		submitter: submitter,
		platforms: platforms,
		interval:  interval,
		enabled:   interval > 0,
	}
}

// Enabled reports whether the scheduler will submit jobs.
func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// NextRun returns when the next submission is due. Zero before Run starts.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// Run submits incremental jobs until the context is cancelled. It blocks;
// callers run it in its own goroutine or as a worker main loop.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.Enabled() {
		log.Printf("scheduler: disabled, not starting")
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.setNextRun(time.Now().Add(s.interval))
	log.Printf("scheduler: submitting incremental syncs every %s", s.interval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("scheduler: stopping: %v", ctx.Err())
			return
		case <-ticker.C:
			s.setNextRun(time.Now().Add(s.interval))
			s.submit(ctx)
		}
	}
}

func (s *Scheduler) setNextRun(t time.Time) {
	s.mu.Lock()
	s.nextRun = t
	s.mu.Unlock()
}

func (s *Scheduler) submit(ctx context.Context) {
	job := &domain.Job{
		Mode:      domain.ModeIncremental,
		Platforms: s.platforms,
	}
	if err := s.submitter.SubmitAsync(ctx, job); err != nil {
		log.Printf("scheduler: submit incremental sync: %v", err)
		return
	}
	log.Printf("scheduler: submitted incremental sync job %s", job.ID)
}
