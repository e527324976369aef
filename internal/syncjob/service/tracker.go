package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"outreach-sync-engine/internal/namespace"
	"outreach-sync-engine/internal/syncjob/domain"
	jobrepo "outreach-sync-engine/internal/syncjob/repository"
)

// notifyTimeout bounds each terminal notification delivery.
const notifyTimeout = 10 * time.Second

// ErrJobNotFound is returned when a job id does not exist.
var ErrJobNotFound = errors.New("sync job not found")

// Runner executes a job's sync work. Implemented by Orchestrator.
type Runner interface {
	Execute(ctx context.Context, job *domain.Job) error
}

// JobNotifier receives job lifecycle events. Implementations are best-effort;
// delivery failures never affect the job.
type JobNotifier interface {
	JobEvent(ctx context.Context, job *domain.Job, event string) error
}

// Tracker owns job records: validation, submission, the status state machine,
// cancellation flags, and exactly-once terminal notification.
type Tracker struct {
	jobs      jobrepo.Repository
	runner    Runner
	registry  *namespace.Registry
	platforms map[string]bool
	notifiers []JobNotifier
	nowF      func() time.Time

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	// cancelled marks jobs whose cancellation was requested, so a run that
	// ends by context cancellation lands on cancelled rather than failed.
	cancelled map[string]bool
}

// NewTracker returns a tracker over the given job store and runner.
// knownPlatforms is the set of configured connector names.
func NewTracker(jobs jobrepo.Repository, runner Runner, registry *namespace.Registry, knownPlatforms []string, notifiers ...JobNotifier) *Tracker {
	platforms := make(map[string]bool, len(knownPlatforms))
	for _, p := range knownPlatforms {
		platforms[p] = true
	}
	return &Tracker{
		jobs:      jobs,
		runner:    runner,
		registry:  registry,
		platforms: platforms,
		notifiers: notifiers,
		nowF:      func() time.Time { return time.Now().UTC() },
		cancels:   make(map[string]context.CancelFunc),
		cancelled: make(map[string]bool),
	}
}

func (t *Tracker) now() time.Time { return t.nowF() }

// Validate checks a job request without persisting anything. Shared by the
// dry-run endpoint and Submit.
func (t *Tracker) Validate(job *domain.Job) error {
	if err := job.Validate(t.platforms); err != nil {
		return err
	}
	for _, name := range job.Namespaces {
		ns := t.registry.GetByName(name)
		if ns == nil {
			return fmt.Errorf("%w: %s", namespace.ErrNotFound, name)
		}
		if !ns.Active {
			return fmt.Errorf("namespace %q is not active", name)
		}
	}
	return nil
}

// Submit validates and persists a new queued job.
func (t *Tracker) Submit(ctx context.Context, job *domain.Job) error {
	if err := t.Validate(job); err != nil {
		return err
	}
	job.ID = uuid.New().String()
	job.Status = domain.StatusQueued
	job.CreatedAt = t.now()
	if err := t.jobs.Create(ctx, job); err != nil {
		return err
	}
	t.emit(job, "queued")
	return nil
}

// Run executes a submitted job to its terminal state, blocking until done.
// The terminal transition happens exactly once; notifications fire after it.
func (t *Tracker) Run(ctx context.Context, job *domain.Job) error {
	now := t.now()
	if err := job.Transition(domain.StatusRunning, now); err != nil {
		return err
	}
	if err := t.jobs.Update(ctx, job); err != nil {
		return err
	}
	t.emit(job, "running")

	runCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancels[job.ID] = cancel
	t.mu.Unlock()
	defer func() {
		cancel()
		t.mu.Lock()
		delete(t.cancels, job.ID)
		delete(t.cancelled, job.ID)
		t.mu.Unlock()
	}()

	execErr := t.runner.Execute(runCtx, job)

	t.mu.Lock()
	wasCancelled := t.cancelled[job.ID]
	t.mu.Unlock()

	var terminal domain.Status
	switch {
	case wasCancelled || errors.Is(execErr, context.Canceled):
		terminal = domain.StatusCancelled
	case execErr != nil:
		terminal = domain.StatusFailed
		job.Error = execErr.Error()
	default:
		terminal = job.TerminalStatus()
		if terminal == domain.StatusFailed {
			job.Error = "all sync tasks failed"
		}
	}
	if err := job.Transition(terminal, t.now()); err != nil {
		return err
	}

	// The terminal record must land even when the surrounding context is gone.
	persistCtx, persistCancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer persistCancel()
	if err := t.jobs.Update(persistCtx, job); err != nil {
		return err
	}
	t.emit(job, string(terminal))

	if terminal == domain.StatusFailed {
		if execErr != nil {
			return execErr
		}
		return errors.New(job.Error)
	}
	return nil
}

// SubmitAsync persists the job and runs it in the background.
func (t *Tracker) SubmitAsync(ctx context.Context, job *domain.Job) error {
	if err := t.Submit(ctx, job); err != nil {
		return err
	}
	go func() {
		if err := t.Run(context.Background(), job); err != nil {
			log.Printf("syncjob: job %s: %v", job.ID, err)
		}
	}()
	return nil
}

// Cancel requests cancellation. Running jobs stop cooperatively at the next
// batch boundary; queued jobs go straight to cancelled.
func (t *Tracker) Cancel(ctx context.Context, id string) error {
	t.mu.Lock()
	cancel, running := t.cancels[id]
	if running {
		t.cancelled[id] = true
	}
	t.mu.Unlock()
	if running {
		cancel()
		return nil
	}

	job, err := t.jobs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return nil
	}
	if err := job.Transition(domain.StatusCancelled, t.now()); err != nil {
		return err
	}
	if err := t.jobs.Update(ctx, job); err != nil {
		return err
	}
	t.emit(job, string(domain.StatusCancelled))
	return nil
}

// Get returns the job by id.
func (t *Tracker) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := t.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// List returns recent jobs, optionally filtered by status.
func (t *Tracker) List(ctx context.Context, status domain.Status, limit int) ([]*domain.Job, error) {
	return t.jobs.List(ctx, status, limit)
}

// emit delivers a lifecycle event to every notifier on a detached context so
// a slow broker or webhook cannot stall the job path. Notifiers get a snapshot
// because the job keeps mutating while they deliver.
func (t *Tracker) emit(job *domain.Job, event string) {
	snap := *job
	if job.Checkpoints != nil {
		cps := make(map[string]*domain.Checkpoint, len(job.Checkpoints))
		for k, v := range job.Checkpoints {
			c := *v
			cps[k] = &c
		}
		snap.Checkpoints = cps
	}
	for _, n := range t.notifiers {
		n := n
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			defer cancel()
			if err := n.JobEvent(ctx, &snap, event); err != nil {
				log.Printf("syncjob: notify %s for job %s: %v", event, snap.ID, err)
			}
		}()
	}
}
