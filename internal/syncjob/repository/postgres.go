package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	nsdomain "outreach-sync-engine/internal/namespace/domain"
	"outreach-sync-engine/internal/syncjob/domain"
)

const jobColumns = `id, mode, platforms, namespaces, window_start, window_end, reset_from,
	batch_size, rate_overrides, callback_url, status, error, checkpoints, summary,
	created_at, started_at, finished_at`

// PostgresRepository persists sync jobs in the sync_jobs table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a job repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists a new job. The job must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, j *domain.Job) error {
	platforms, namespaces, overrides, checkpoints, summary, err := marshalJob(j)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sync_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		j.ID, string(j.Mode), platforms, namespaces,
		nullTime(windowPtr(j.Window.Start)), nullTime(windowPtr(j.Window.End)), nullTime(j.ResetFrom),
		j.BatchSize, overrides, j.CallbackURL, string(j.Status), j.Error, checkpoints, summary,
		j.CreatedAt, nullTime(j.StartedAt), nullTime(j.FinishedAt))
	return err
}

// Update persists the mutable job state: status, error, checkpoints, summary, timestamps.
func (r *PostgresRepository) Update(ctx context.Context, j *domain.Job) error {
	_, _, _, checkpoints, summary, err := marshalJob(j)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE sync_jobs
		SET status = $2, error = $3, checkpoints = $4, summary = $5, started_at = $6, finished_at = $7
		WHERE id = $1`,
		j.ID, string(j.Status), j.Error, checkpoints, summary, nullTime(j.StartedAt), nullTime(j.FinishedAt))
	return err
}

// GetByID returns the job, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM sync_jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return j, nil
}

// List returns recent jobs, newest first. status "" means all statuses.
func (r *PostgresRepository) List(ctx context.Context, status domain.Status, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+jobColumns+` FROM sync_jobs ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+jobColumns+` FROM sync_jobs WHERE status = $1 ORDER BY created_at DESC LIMIT $2`,
			string(status), limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func marshalJob(j *domain.Job) (platforms, namespaces, overrides, checkpoints, summary []byte, err error) {
	if platforms, err = json.Marshal(j.Platforms); err != nil {
		return
	}
	if namespaces, err = json.Marshal(j.Namespaces); err != nil {
		return
	}
	if overrides, err = json.Marshal(j.RateOverrides); err != nil {
		return
	}
	if checkpoints, err = json.Marshal(j.Checkpoints); err != nil {
		return
	}
	summary, err = json.Marshal(j.Summary)
	return
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		j                      domain.Job
		mode, status           string
		platforms, namespaces  []byte
		overrides, checkpoints []byte
		summary                []byte
		windowStart, windowEnd sql.NullTime
		resetFrom              sql.NullTime
		startedAt, finishedAt  sql.NullTime
	)
	if err := row.Scan(&j.ID, &mode, &platforms, &namespaces, &windowStart, &windowEnd, &resetFrom,
		&j.BatchSize, &overrides, &j.CallbackURL, &status, &j.Error, &checkpoints, &summary,
		&j.CreatedAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	j.Mode = domain.Mode(mode)
	j.Status = domain.Status(status)
	if err := json.Unmarshal(platforms, &j.Platforms); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(namespaces, &j.Namespaces); err != nil {
		return nil, err
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &j.RateOverrides); err != nil {
			return nil, err
		}
	}
	if len(checkpoints) > 0 {
		if err := json.Unmarshal(checkpoints, &j.Checkpoints); err != nil {
			return nil, err
		}
	}
	if len(summary) > 0 && string(summary) != "null" {
		if err := json.Unmarshal(summary, &j.Summary); err != nil {
			return nil, err
		}
	}
	if windowStart.Valid {
		j.Window.Start = windowStart.Time
	}
	if windowEnd.Valid {
		j.Window.End = windowEnd.Time
	}
	if resetFrom.Valid {
		t := resetFrom.Time
		j.ResetFrom = &t
	}
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		j.FinishedAt = &t
	}
	return &j, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func windowPtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// PostgresWatermarkRepository persists sync watermarks in the sync_watermarks table.
type PostgresWatermarkRepository struct {
	db *sql.DB
}

// NewPostgresWatermarkRepository returns a watermark repository backed by the given db.
func NewPostgresWatermarkRepository(db *sql.DB) *PostgresWatermarkRepository {
	return &PostgresWatermarkRepository{db: db}
}

// Get returns the watermark for (platform, namespace), or nil when the tuple has never synced.
func (r *PostgresWatermarkRepository) Get(ctx context.Context, platform string, ns nsdomain.Handle) (*time.Time, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT watermark FROM sync_watermarks WHERE platform = $1 AND namespace_id = $2`,
		platform, string(ns))
	var t time.Time
	if err := row.Scan(&t); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// Set upserts the watermark for (platform, namespace).
func (r *PostgresWatermarkRepository) Set(ctx context.Context, platform string, ns nsdomain.Handle, t time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_watermarks (platform, namespace_id, watermark, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (platform, namespace_id) DO UPDATE SET watermark = $3, updated_at = now()`,
		platform, string(ns), t)
	return err
}
