// Package domain defines sync jobs: the unit of work that pulls users and
// events from outreach platforms into namespaces, with resumable per-tuple
// checkpoints and a strict status state machine.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Mode selects how the sync window is derived.
type Mode string

const (
	// ModeFullHistorical syncs everything from the epoch to now, ignoring watermarks.
	ModeFullHistorical Mode = "FULL_HISTORICAL"
	// ModeDateRange syncs an explicit window; watermarks are left untouched.
	ModeDateRange Mode = "DATE_RANGE"
	// ModeResetFromDate rewinds the watermark to a given date and syncs forward from it.
	ModeResetFromDate Mode = "RESET_FROM_DATE"
	// ModeIncremental syncs from the stored watermark to now and advances it on success.
	ModeIncremental Mode = "INCREMENTAL"
)

// Status is the job lifecycle state.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusRunning        Status = "running"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusPartialSuccess Status = "partial_success"
	StatusCancelled      Status = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusPartialSuccess, StatusCancelled:
		return true
	}
	return false
}

// transitions lists the allowed status edges.
var transitions = map[Status][]Status{
	StatusQueued:  {StatusRunning, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusPartialSuccess, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal status edge.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition is returned when a status change violates the state machine.
var ErrInvalidTransition = errors.New("invalid job status transition")

// RateOverride is a per-job rate limit for one platform.
type RateOverride struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	MaxBatch          int     `json:"max_batch,omitempty"`
}

// Window is the sync time window. For watermark-driven modes it is derived
// per tuple at run time and Start/End stay zero on the job itself.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Phase is the per-tuple progress phase recorded in checkpoints.
type Phase string

const (
	PhaseUsers  Phase = "users"
	PhaseEvents Phase = "events"
	PhaseDone   Phase = "done"
)

// Checkpoint is the durable resume point for one (platform, namespace) tuple.
// It is written after every batch, before the next batch starts; a restarted
// job re-fetches the checkpointed page, so delivery is at-least-once and the
// dedup store absorbs the overlap.
type Checkpoint struct {
	Phase        Phase     `json:"phase"`
	Cursor       string    `json:"cursor"`
	UsersSynced  int       `json:"users_synced"`
	EventsSynced int       `json:"events_synced"`
	Deduped      int       `json:"deduped"`
	ErrorCount   int       `json:"error_count"`
	Failed       bool      `json:"failed,omitempty"`
	Error        string    `json:"error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TupleKey identifies one (platform, namespace) unit of work inside a job.
func TupleKey(platform, namespace string) string {
	return platform + "/" + namespace
}

// PlatformSummary aggregates results for one platform across namespaces.
type PlatformSummary struct {
	UsersSynced  int  `json:"users_synced"`
	EventsSynced int  `json:"events_synced"`
	Deduped      int  `json:"deduped"`
	ErrorCount   int  `json:"error_count"`
	Failed       bool `json:"failed"`
}

// NamespaceSummary aggregates results for one namespace across platforms.
type NamespaceSummary struct {
	UsersSynced  int `json:"users_synced"`
	EventsSynced int `json:"events_synced"`
}

// Summary is the final per-platform and per-namespace result breakdown.
type Summary struct {
	Platforms  map[string]*PlatformSummary  `json:"platforms"`
	Namespaces map[string]*NamespaceSummary `json:"namespaces"`
}

// BuildSummary folds the tuple checkpoints into a result summary. Tuple keys
// are platform/namespace as produced by TupleKey.
func BuildSummary(checkpoints map[string]*Checkpoint) *Summary {
	s := &Summary{
		Platforms:  make(map[string]*PlatformSummary),
		Namespaces: make(map[string]*NamespaceSummary),
	}
	for key, cp := range checkpoints {
		platform, namespace := splitTupleKey(key)
		ps := s.Platforms[platform]
		if ps == nil {
			ps = &PlatformSummary{}
			s.Platforms[platform] = ps
		}
		ps.UsersSynced += cp.UsersSynced
		ps.EventsSynced += cp.EventsSynced
		ps.Deduped += cp.Deduped
		ps.ErrorCount += cp.ErrorCount
		if cp.Failed {
			ps.Failed = true
		}

		nss := s.Namespaces[namespace]
		if nss == nil {
			nss = &NamespaceSummary{}
			s.Namespaces[namespace] = nss
		}
		nss.UsersSynced += cp.UsersSynced
		nss.EventsSynced += cp.EventsSynced
	}
	return s
}

func splitTupleKey(key string) (platform, namespace string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

// Job is one sync run. Platforms and Namespaces are the requested sets; empty
// Namespaces means all active namespaces at start time.
type Job struct {
	ID   string
	Mode Mode

	Platforms  []string
	Namespaces []string
	Window     Window
	ResetFrom  *time.Time
	BatchSize  int

	RateOverrides map[string]RateOverride
	CallbackURL   string

	Status Status
	// Error holds the job-level failure reason for StatusFailed.
	Error string

	// Checkpoints is the per-tuple resume state, keyed by TupleKey.
	Checkpoints map[string]*Checkpoint
	Summary     *Summary

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Transition moves the job to the given status, enforcing the state machine.
func (j *Job) Transition(to Status, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	switch {
	case to == StatusRunning:
		t := now
		j.StartedAt = &t
	case to.IsTerminal():
		t := now
		j.FinishedAt = &t
	}
	return nil
}

// Checkpoint returns the tuple's checkpoint, creating an empty one on first use.
func (j *Job) Checkpoint(key string) *Checkpoint {
	if j.Checkpoints == nil {
		j.Checkpoints = make(map[string]*Checkpoint)
	}
	cp, ok := j.Checkpoints[key]
	if !ok {
		cp = &Checkpoint{Phase: PhaseUsers}
		j.Checkpoints[key] = cp
	}
	return cp
}

// TerminalStatus derives the terminal status from the tuple outcomes:
// every tuple failed means the whole job failed, a mix means partial success.
func (j *Job) TerminalStatus() Status {
	if len(j.Checkpoints) == 0 {
		return StatusCompleted
	}
	failed := 0
	for _, cp := range j.Checkpoints {
		if cp.Failed {
			failed++
		}
	}
	switch {
	case failed == 0:
		return StatusCompleted
	case failed == len(j.Checkpoints):
		return StatusFailed
	default:
		return StatusPartialSuccess
	}
}

// Validate checks a job request against the known platforms. Shared by the
// submit and dry-run validate paths.
func (j *Job) Validate(knownPlatforms map[string]bool) error {
	switch j.Mode {
	case ModeFullHistorical, ModeDateRange, ModeResetFromDate, ModeIncremental:
	default:
		return fmt.Errorf("unknown sync mode %q", j.Mode)
	}
	if len(j.Platforms) == 0 {
		return errors.New("at least one platform is required")
	}
	for _, p := range j.Platforms {
		if !knownPlatforms[p] {
			return fmt.Errorf("unknown platform %q", p)
		}
	}
	if j.BatchSize < 0 {
		return errors.New("batch size must not be negative")
	}
	switch j.Mode {
	case ModeDateRange:
		if j.Window.Start.IsZero() || j.Window.End.IsZero() {
			return errors.New("DATE_RANGE requires a start and end date")
		}
		if j.Window.End.Before(j.Window.Start) {
			return errors.New("sync window end precedes start")
		}
	case ModeResetFromDate:
		if j.ResetFrom == nil || j.ResetFrom.IsZero() {
			return errors.New("RESET_FROM_DATE requires a reset date")
		}
	}
	for p, o := range j.RateOverrides {
		if !knownPlatforms[p] {
			return fmt.Errorf("rate override for unknown platform %q", p)
		}
		if o.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate override for %q must have positive rps", p)
		}
	}
	return nil
}
