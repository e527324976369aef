package repository

import (
	"context"
	"time"

	nsdomain "outreach-sync-engine/internal/namespace/domain"
	"outreach-sync-engine/internal/syncjob/domain"
)

// Repository persists sync jobs. Jobs have a single writer at a time (the
// tracker / orchestrator that owns the run), so Update replaces the mutable
// columns without a version guard.
type Repository interface {
	Create(ctx context.Context, j *domain.Job) error
	// Update persists status, error, checkpoints, summary, and timestamps.
	Update(ctx context.Context, j *domain.Job) error
	// GetByID returns the job, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	// List returns recent jobs, newest first. status "" means all statuses.
	List(ctx context.Context, status domain.Status, limit int) ([]*domain.Job, error)
}

// WatermarkRepository stores the per-(platform, namespace) high-water mark
// used by incremental syncs.
type WatermarkRepository interface {
	// Get returns the watermark, or nil when the tuple has never synced.
	Get(ctx context.Context, platform string, ns nsdomain.Handle) (*time.Time, error)
	// Set upserts the watermark.
	Set(ctx context.Context, platform string, ns nsdomain.Handle, t time.Time) error
}
