package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"outreach-sync-engine/internal/namespace"
	"outreach-sync-engine/internal/syncjob/domain"
)

// stubRunner lets tests script the execution outcome.
type stubRunner struct {
	err   error
	block chan struct{} // when set, Execute waits for ctx or the channel
	fn    func(ctx context.Context, job *domain.Job) error
}

func (r *stubRunner) Execute(ctx context.Context, job *domain.Job) error {
	if r.fn != nil {
		return r.fn(ctx, job)
	}
	if r.block != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.block:
		}
	}
	return r.err
}

type memNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *memNotifier) JobEvent(ctx context.Context, job *domain.Job, event string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *memNotifier) waitFor(t *testing.T, event string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n.mu.Lock()
		for _, e := range n.events {
			if e == event {
				n.mu.Unlock()
				return
			}
		}
		n.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("notifier never saw event %q", event)
}

func (n *memNotifier) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e == event {
			c++
		}
	}
	return c
}

func newTestTracker(t *testing.T, runner Runner, notifiers ...JobNotifier) (*Tracker, *memJobRepo) {
	t.Helper()
	registry, err := namespace.NewRegistry(context.Background(), newMemNamespaceRepo())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	jobs := newMemJobRepo()
	return NewTracker(jobs, runner, registry, []string{"instantly", "smartlead", "attio"}, notifiers...), jobs
}

func TestSubmit_ValidatesAndQueues(t *testing.T) {
	tr, jobs := newTestTracker(t, &stubRunner{})

	job := &domain.Job{Mode: domain.ModeFullHistorical, Platforms: []string{"instantly"}}
	if err := tr.Submit(context.Background(), job); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.ID == "" || job.Status != domain.StatusQueued {
		t.Errorf("job = %+v, want queued with id", job)
	}
	stored, _ := jobs.GetByID(context.Background(), job.ID)
	if stored == nil {
		t.Fatal("job not persisted")
	}

	bad := &domain.Job{Mode: domain.ModeFullHistorical, Platforms: []string{"hubspot"}}
	if err := tr.Submit(context.Background(), bad); err == nil {
		t.Error("unknown platform must be rejected")
	}
	unknownNS := &domain.Job{Mode: domain.ModeFullHistorical, Platforms: []string{"instantly"}, Namespaces: []string{"missing"}}
	if err := tr.Submit(context.Background(), unknownNS); err == nil {
		t.Error("unknown namespace must be rejected")
	}
}

func TestRun_CompletedAndNotifiedOnce(t *testing.T) {
	notifier := &memNotifier{}
	tr, _ := newTestTracker(t, &stubRunner{}, notifier)

	job := &domain.Job{Mode: domain.ModeFullHistorical, Platforms: []string{"instantly"}}
	if err := tr.Submit(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if err := tr.Run(context.Background(), job); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.Status != domain.StatusCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
	notifier.waitFor(t, "completed")
	if got := notifier.count("completed"); got != 1 {
		t.Errorf("terminal notifications = %d, want exactly 1", got)
	}
}

func TestRun_ExecutionErrorFailsJob(t *testing.T) {
	tr, _ := newTestTracker(t, &stubRunner{err: errors.New("store gone")})

	job := &domain.Job{Mode: domain.ModeFullHistorical, Platforms: []string{"instantly"}}
	if err := tr.Submit(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if err := tr.Run(context.Background(), job); err == nil {
		t.Fatal("Run must return the execution error")
	}
	if job.Status != domain.StatusFailed || job.Error == "" {
		t.Errorf("job = status %s error %q, want failed with reason", job.Status, job.Error)
	}
}

func TestRun_TupleOutcomesDriveTerminalStatus(t *testing.T) {
	runner := &stubRunner{fn: func(ctx context.Context, job *domain.Job) error {
		job.Checkpoint(domain.TupleKey("instantly", "default")).Failed = true
		job.Checkpoint(domain.TupleKey("smartlead", "default")).UsersSynced = 3
		return nil
	}}
	tr, _ := newTestTracker(t, runner)

	job := &domain.Job{Mode: domain.ModeFullHistorical, Platforms: []string{"instantly", "smartlead"}}
	if err := tr.Submit(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if err := tr.Run(context.Background(), job); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.Status != domain.StatusPartialSuccess {
		t.Errorf("status = %s, want partial_success", job.Status)
	}
}

func TestCancel_RunningJobLandsOnCancelled(t *testing.T) {
	runner := &stubRunner{block: make(chan struct{})}
	tr, _ := newTestTracker(t, runner)

	job := &domain.Job{Mode: domain.ModeFullHistorical, Platforms: []string{"instantly"}}
	if err := tr.Submit(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- tr.Run(context.Background(), job) }()

	// Wait until the run registered its cancel func.
	deadline := time.Now().Add(2 * time.Second)
	for {
		tr.mu.Lock()
		_, running := tr.cancels[job.ID]
		tr.mu.Unlock()
		if running {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job never started running")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := tr.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Run after cancel: %v", err)
	}
	if job.Status != domain.StatusCancelled {
		t.Errorf("status = %s, want cancelled", job.Status)
	}
}

func TestCancel_QueuedJobGoesStraightToCancelled(t *testing.T) {
	tr, jobs := newTestTracker(t, &stubRunner{})

	job := &domain.Job{Mode: domain.ModeFullHistorical, Platforms: []string{"instantly"}}
	if err := tr.Submit(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if err := tr.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	stored, _ := jobs.GetByID(context.Background(), job.ID)
	if stored.Status != domain.StatusCancelled {
		t.Errorf("status = %s, want cancelled", stored.Status)
	}
}

func TestCancel_UnknownJob(t *testing.T) {
	tr, _ := newTestTracker(t, &stubRunner{})
	if err := tr.Cancel(context.Background(), "nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Cancel unknown = %v, want ErrJobNotFound", err)
	}
}
