// Package service runs sync jobs: the orchestrator executes the (platform,
// namespace) fan-out with checkpointing, and the tracker owns job records,
// the status state machine, and cancellation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"outreach-sync-engine/internal/enrichment"
	eventdomain "outreach-sync-engine/internal/event/domain"
	eventrepo "outreach-sync-engine/internal/event/repository"
	leaddomain "outreach-sync-engine/internal/lead/domain"
	leadrepo "outreach-sync-engine/internal/lead/repository"
	"outreach-sync-engine/internal/namespace"
	nsdomain "outreach-sync-engine/internal/namespace/domain"
	"outreach-sync-engine/internal/platform"
	"outreach-sync-engine/internal/ratelimit"
	"outreach-sync-engine/internal/retry"
	"outreach-sync-engine/internal/scoring"
	"outreach-sync-engine/internal/syncjob/domain"
	jobrepo "outreach-sync-engine/internal/syncjob/repository"
)

const (
	// mergeMaxAttempts bounds the optimistic re-read loop on a contended lead.
	mergeMaxAttempts = 3
	// icpMaxAge is how long an ICP score stays fresh before enrichment reruns.
	icpMaxAge = 30 * 24 * time.Hour
)

// Options wires an Orchestrator. Connectors, Registry, Leads, Events, Jobs,
// and Limiter are required; Watermarks is required for incremental modes.
type Options struct {
	Connectors platform.Set
	Registry   *namespace.Registry
	Leads      leadrepo.Repository
	Events     eventrepo.Repository
	Jobs       jobrepo.Repository
	Watermarks jobrepo.WatermarkRepository
	Limiter    *ratelimit.Limiter
	Engine     *scoring.Engine
	// Enricher is optional; without it ICP scores stay at their stored values.
	Enricher *enrichment.Chain
	// CRM is the export sink for qualified leads (optional).
	CRM platform.Connector

	RetryPolicy       retry.Policy
	BatchTimeout      time.Duration
	DefaultBatchSize  int
	MaxConcurrent     int
	MinBehaviorExport int
}

// Orchestrator executes one job at a time per call: it expands the job into
// (platform, namespace) tuples, runs them concurrently under the shared rate
// limiter, and checkpoints after every batch. A returned error means the job
// itself failed (store failure); tuple-level failures land in checkpoints.
type Orchestrator struct {
	opts Options
	nowF func() time.Time

	// mu serializes checkpoint map writes and job row persistence across tuples.
	mu sync.Mutex
}

// NewOrchestrator returns an orchestrator over the given dependencies.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = 30 * time.Second
	}
	if opts.DefaultBatchSize <= 0 {
		opts.DefaultBatchSize = 100
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.RetryPolicy.MaxAttempts == 0 {
		opts.RetryPolicy = retry.DefaultPolicy()
	}
	return &Orchestrator{
		opts: opts,
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

func (o *Orchestrator) now() time.Time { return o.nowF() }

// Execute runs the job to completion, cancellation, or job-level failure.
// Tuple outcomes are recorded in job.Checkpoints; the caller derives the
// terminal status from them.
func (o *Orchestrator) Execute(ctx context.Context, job *domain.Job) error {
	limiter := o.opts.Limiter
	crm := o.opts.CRM
	if len(job.RateOverrides) > 0 {
		overrides := make(map[string]ratelimit.Limits, len(job.RateOverrides))
		for p, ov := range job.RateOverrides {
			overrides[p] = ratelimit.Limits{RequestsPerSecond: ov.RequestsPerSecond, MaxBatch: ov.MaxBatch}
		}
		limiter = limiter.Derive(overrides)
		if crm != nil {
			crm = crm.WithLimiter(limiter)
		}
	}

	namespaces, err := o.targetNamespaces(job)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.MaxConcurrent)
	for _, p := range job.Platforms {
		conn, ok := o.opts.Connectors[p]
		if !ok {
			return fmt.Errorf("no connector configured for platform %q", p)
		}
		if limiter != o.opts.Limiter {
			// Rebind so every request the tuple makes draws from the job's
			// derived buckets, not the boot-time ones.
			conn = conn.WithLimiter(limiter)
		}
		for _, ns := range namespaces {
			conn, ns := conn, ns
			g.Go(func() error {
				return o.runTuple(gctx, job, limiter, conn, crm, ns)
			})
		}
	}
	err = g.Wait()

	o.mu.Lock()
	job.Summary = domain.BuildSummary(job.Checkpoints)
	o.mu.Unlock()
	return err
}

// targetNamespaces resolves the job's namespace set: named namespaces must be
// active, an empty set means every active namespace.
func (o *Orchestrator) targetNamespaces(job *domain.Job) ([]*nsdomain.Namespace, error) {
	if len(job.Namespaces) == 0 {
		return o.opts.Registry.ListActive(), nil
	}
	out := make([]*nsdomain.Namespace, 0, len(job.Namespaces))
	for _, name := range job.Namespaces {
		ns := o.opts.Registry.GetByName(name)
		if ns == nil {
			return nil, fmt.Errorf("%w: %s", namespace.ErrNotFound, name)
		}
		out = append(out, ns)
	}
	return out, nil
}

// runTuple syncs one (platform, namespace) pair: users, then events, then an
// enrich-and-score pass over every lead the tuple touched. Connector failures
// fail the tuple and return nil; store failures fail the job.
func (o *Orchestrator) runTuple(ctx context.Context, job *domain.Job, limiter *ratelimit.Limiter, conn, crm platform.Connector, ns *nsdomain.Namespace) error {
	key := domain.TupleKey(conn.Name(), ns.Name)
	// The tuple works on a private copy; saveCheckpoint publishes snapshots
	// into the shared job under the lock.
	o.mu.Lock()
	cp := &domain.Checkpoint{}
	*cp = *job.Checkpoint(key)
	o.mu.Unlock()
	if cp.Failed || cp.Phase == domain.PhaseDone {
		return nil
	}

	window, err := o.resolveWindow(ctx, job, conn.Name(), ns)
	if err != nil {
		return fmt.Errorf("tuple %s: resolve window: %w", key, err)
	}

	batch := job.BatchSize
	if batch <= 0 {
		batch = o.opts.DefaultBatchSize
	}
	if max := limiter.MaxBatch(conn.Name()); max > 0 && batch > max {
		batch = max
	}

	touched := make(map[string]bool)

	if cp.Phase == domain.PhaseUsers {
		if err := o.syncUsers(ctx, job, cp, key, conn, ns, window, batch, touched); err != nil {
			return err
		}
		if cp.Failed {
			return nil
		}
	}
	if cp.Phase == domain.PhaseEvents {
		if err := o.syncEvents(ctx, job, cp, key, conn, ns, window, batch, touched); err != nil {
			return err
		}
		if cp.Failed {
			return nil
		}
	}

	o.scoreTouched(ctx, cp, conn, crm, ns, touched)

	if job.Mode == domain.ModeIncremental || job.Mode == domain.ModeResetFromDate {
		if err := o.opts.Watermarks.Set(ctx, conn.Name(), ns.ID, window.End); err != nil {
			// A stale watermark only causes an overlapping re-sync, which the
			// dedup store absorbs.
			log.Printf("syncjob: tuple %s: advance watermark: %v", key, err)
			cp.ErrorCount++
		}
	}

	cp.Phase = domain.PhaseDone
	return o.saveCheckpoint(ctx, job, key, cp)
}

// resolveWindow derives the tuple's sync window from the job mode and the
// stored watermark.
func (o *Orchestrator) resolveWindow(ctx context.Context, job *domain.Job, platformName string, ns *nsdomain.Namespace) (platform.Window, error) {
	now := o.now()
	switch job.Mode {
	case domain.ModeFullHistorical:
		return platform.Window{Start: time.Unix(0, 0).UTC(), End: now}, nil
	case domain.ModeDateRange:
		return platform.Window{Start: job.Window.Start, End: job.Window.End}, nil
	case domain.ModeResetFromDate:
		if err := o.opts.Watermarks.Set(ctx, platformName, ns.ID, *job.ResetFrom); err != nil {
			return platform.Window{}, err
		}
		return platform.Window{Start: *job.ResetFrom, End: now}, nil
	case domain.ModeIncremental:
		wm, err := o.opts.Watermarks.Get(ctx, platformName, ns.ID)
		if err != nil {
			return platform.Window{}, err
		}
		start := time.Unix(0, 0).UTC()
		if wm != nil {
			start = *wm
		}
		return platform.Window{Start: start, End: now}, nil
	default:
		return platform.Window{}, fmt.Errorf("unknown sync mode %q", job.Mode)
	}
}

// fetchRetryable decides which batch errors are worth another attempt: the
// connector's retryable classification plus per-batch timeouts, unless the
// job itself is being cancelled.
func fetchRetryable(ctx context.Context) retry.Retryable {
	return func(err error) bool {
		if ctx.Err() != nil {
			return false
		}
		return platform.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded)
	}
}

func (o *Orchestrator) syncUsers(ctx context.Context, job *domain.Job, cp *domain.Checkpoint, key string, conn platform.Connector, ns *nsdomain.Namespace, window platform.Window, batch int, touched map[string]bool) error {
	for {
		// Cancellation is cooperative: checked between batches, never mid-batch.
		if err := ctx.Err(); err != nil {
			return err
		}

		var (
			users   []platform.User
			next    string
			hasMore bool
		)
		err := retry.Do(ctx, o.opts.RetryPolicy, fetchRetryable(ctx), func(ctx context.Context) error {
			bctx, cancel := context.WithTimeout(ctx, o.opts.BatchTimeout)
			defer cancel()
			var ferr error
			users, next, hasMore, ferr = conn.FetchUsers(bctx, window, cp.Cursor, batch)
			return ferr
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return o.failTuple(ctx, job, key, cp, fmt.Errorf("fetch users: %w", err))
		}

		now := o.now()
		for _, u := range users {
			if u.Email == "" {
				cp.ErrorCount++
				continue
			}
			route := o.opts.Registry.Resolve(u.Campaign)
			if route.ID != ns.ID {
				// Another tuple owns this record.
				continue
			}
			if err := o.mergeUser(ctx, ns, conn.Name(), u, now); err != nil {
				log.Printf("syncjob: tuple %s: merge %s: %v", key, u.Email, err)
				cp.ErrorCount++
				continue
			}
			cp.UsersSynced++
			touched[leaddomain.NormalizeEmail(u.Email)] = true
		}

		cp.Cursor = next
		if !hasMore {
			cp.Phase = domain.PhaseEvents
			cp.Cursor = ""
		}
		if err := o.saveCheckpoint(ctx, job, key, cp); err != nil {
			return err
		}
		if !hasMore {
			return nil
		}
	}
}

func (o *Orchestrator) syncEvents(ctx context.Context, job *domain.Job, cp *domain.Checkpoint, key string, conn platform.Connector, ns *nsdomain.Namespace, window platform.Window, batch int, touched map[string]bool) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var (
			events  []platform.Event
			next    string
			hasMore bool
		)
		err := retry.Do(ctx, o.opts.RetryPolicy, fetchRetryable(ctx), func(ctx context.Context) error {
			bctx, cancel := context.WithTimeout(ctx, o.opts.BatchTimeout)
			defer cancel()
			var ferr error
			events, next, hasMore, ferr = conn.FetchEvents(bctx, window, cp.Cursor, batch)
			return ferr
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return o.failTuple(ctx, job, key, cp, fmt.Errorf("fetch events: %w", err))
		}

		now := o.now()
		for _, ev := range events {
			if ev.Email == "" || ev.Type == "" {
				cp.ErrorCount++
				continue
			}
			route := o.opts.Registry.Resolve(ev.Campaign)
			if route.ID != ns.ID {
				continue
			}
			email := leaddomain.NormalizeEmail(ev.Email)
			eventKey, _ := eventdomain.DeriveKey(conn.Name(), ev.ExternalID, email, ev.Type, ev.OccurredAt)
			rec := &eventdomain.Event{
				Key:         eventKey,
				Type:        ev.Type,
				Platform:    conn.Name(),
				NamespaceID: ns.ID,
				Email:       email,
				ExternalID:  ev.ExternalID,
				Metadata:    ev.Metadata,
				OccurredAt:  ev.OccurredAt,
				CreatedAt:   now,
			}
			var inserted bool
			err := retry.Do(ctx, o.opts.RetryPolicy, nil, func(ctx context.Context) error {
				var rerr error
				inserted, rerr = o.opts.Events.RecordEvent(ctx, rec)
				return rerr
			})
			if err != nil {
				// The dedup store is the correctness backbone; losing it fails the job.
				return fmt.Errorf("tuple %s: record event: %w", key, err)
			}
			if !inserted {
				cp.Deduped++
				continue
			}
			cp.EventsSynced++
			touched[email] = true
		}

		cp.Cursor = next
		if !hasMore {
			cp.Cursor = ""
		}
		if err := o.saveCheckpoint(ctx, job, key, cp); err != nil {
			return err
		}
		if !hasMore {
			return nil
		}
	}
}

// mergeUser folds one platform sighting into the lead store, creating the lead
// on first sighting. Concurrent writers are resolved by re-reading on version
// conflict.
func (o *Orchestrator) mergeUser(ctx context.Context, ns *nsdomain.Namespace, platformName string, u platform.User, now time.Time) error {
	email := leaddomain.NormalizeEmail(u.Email)
	incoming := &leaddomain.Lead{
		NamespaceID:    ns.ID,
		Email:          email,
		Name:           u.Name,
		Company:        u.Company,
		Title:          u.Title,
		SourcePlatform: platformName,
	}

	var lastErr error
	for attempt := 0; attempt < mergeMaxAttempts; attempt++ {
		existing, err := o.opts.Leads.GetByEmail(ctx, ns.ID, email)
		if err != nil {
			return err
		}
		if existing == nil {
			l := *incoming
			l.ID = uuid.New().String()
			l.CreatedAt = now
			l.UpdatedAt = now
			if lastErr = o.opts.Leads.Create(ctx, &l); lastErr == nil {
				return nil
			}
			// Likely a unique-key race with another tuple; re-read and merge.
			continue
		}
		if !existing.Merge(incoming, now) {
			return nil
		}
		lastErr = o.opts.Leads.Update(ctx, existing)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, leadrepo.ErrVersionConflict) {
			return lastErr
		}
	}
	return fmt.Errorf("merge %s: %w", email, lastErr)
}

// scoreTouched runs the enrich-then-score pass over every lead the tuple
// touched, and exports qualified leads to the CRM. All failures here are
// per-lead and best-effort.
func (o *Orchestrator) scoreTouched(ctx context.Context, cp *domain.Checkpoint, conn, crm platform.Connector, ns *nsdomain.Namespace, touched map[string]bool) {
	if o.opts.Engine == nil || len(touched) == 0 {
		return
	}
	threshold := o.opts.MinBehaviorExport
	if ns.MinBehaviorScore != nil {
		threshold = *ns.MinBehaviorScore
	}

	for email := range touched {
		if ctx.Err() != nil {
			return
		}
		lead, err := o.opts.Leads.GetByEmail(ctx, ns.ID, email)
		if err != nil || lead == nil {
			if err != nil {
				cp.ErrorCount++
			}
			continue
		}
		events, err := o.opts.Events.ListByLead(ctx, ns.ID, email)
		if err != nil {
			cp.ErrorCount++
			continue
		}

		now := o.now()
		if o.opts.Enricher != nil && lead.NeedsICPRefresh(now, icpMaxAge) {
			payload, source, err := o.opts.Enricher.Enrich(ctx, lead)
			if err == nil {
				lead.Enrichment = payload
				lead.EnrichmentSource = source
				t := now
				lead.EnrichedAt = &t
			} else if !errors.Is(err, enrichment.ErrNoResult) {
				log.Printf("syncjob: enrich %s: %v", email, err)
			}
		}
		if len(lead.Enrichment) > 0 {
			o.opts.Engine.ScoreFull(lead, events, now)
		} else {
			o.opts.Engine.RescoreBehavior(lead, events, now)
		}
		if err := o.opts.Leads.Update(ctx, lead); err != nil {
			if errors.Is(err, leadrepo.ErrVersionConflict) {
				// Another tuple rescored concurrently; its pass saw the same events.
				continue
			}
			cp.ErrorCount++
			continue
		}

		if crm != nil && conn.Name() != crm.Name() && lead.BehaviorScore >= threshold {
			o.exportLead(ctx, cp, crm, lead)
		}
	}
}

// exportLead pushes a qualified lead to the CRM and drops a scoring note on
// its timeline. The upsert is idempotent by email, so repeats are harmless.
func (o *Orchestrator) exportLead(ctx context.Context, cp *domain.Checkpoint, crm platform.Connector, lead *leaddomain.Lead) {
	if err := crm.UpsertUser(ctx, lead); err != nil {
		log.Printf("syncjob: export %s to %s: %v", lead.Email, crm.Name(), err)
		cp.ErrorCount++
		return
	}
	entry := platform.TimelineEntry{
		Email:      lead.Email,
		Type:       "lead_scored",
		Title:      "Lead scored " + lead.Grade,
		Body:       fmt.Sprintf("Lead score %d (ICP %d, behavior %d), grade %s.", lead.LeadScore, lead.ICPScore, lead.BehaviorScore, lead.Grade),
		OccurredAt: o.now(),
	}
	if err := crm.Notify(ctx, entry); err != nil && !errors.Is(err, platform.ErrNotSupported) {
		log.Printf("syncjob: timeline note for %s: %v", lead.Email, err)
		cp.ErrorCount++
	}
}

// failTuple records a tuple-level failure and persists it. The tuple is spent
// but the job keeps running other tuples.
func (o *Orchestrator) failTuple(ctx context.Context, job *domain.Job, key string, cp *domain.Checkpoint, cause error) error {
	log.Printf("syncjob: tuple %s failed: %v", key, cause)
	cp.Failed = true
	cp.Error = cause.Error()
	cp.ErrorCount++
	return o.saveCheckpoint(ctx, job, key, cp)
}

// saveCheckpoint publishes the tuple's checkpoint into the job and persists
// the job row before the next batch may start. Losing the checkpoint store
// fails the job.
func (o *Orchestrator) saveCheckpoint(ctx context.Context, job *domain.Job, key string, cp *domain.Checkpoint) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	cp.UpdatedAt = o.now()
	snap := *cp
	job.Checkpoints[key] = &snap
	err := retry.Do(ctx, o.opts.RetryPolicy, nil, func(ctx context.Context) error {
		return o.opts.Jobs.Update(ctx, job)
	})
	if err != nil {
		return fmt.Errorf("persist checkpoint for job %s: %w", job.ID, err)
	}
	return nil
}
