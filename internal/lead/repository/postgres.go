package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	leaddomain "outreach-sync-engine/internal/lead/domain"
	nsdomain "outreach-sync-engine/internal/namespace/domain"
)

// PostgresRepository persists leads in the leads table, logically partitioned
// by namespace_id. The partition handle is a column filter, never part of a
// table name.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a lead repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const leadColumns = `id, namespace_id, email, name, company, title,
	enrichment, enrichment_source, enriched_at,
	icp_score, behavior_score, lead_score, grade, scored_at,
	source_platform, version, created_at, updated_at`

// GetByID returns the lead for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*leaddomain.Lead, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
	return scanLead(row)
}

// GetByEmail returns the lead for (namespace, email), or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, ns nsdomain.Handle, email string) (*leaddomain.Lead, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE namespace_id = $1 AND email = $2`,
		string(ns), leaddomain.NormalizeEmail(email))
	return scanLead(row)
}

// ExistsByEmail reports whether a lead exists for (namespace, email).
func (r *PostgresRepository) ExistsByEmail(ctx context.Context, ns nsdomain.Handle, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM leads WHERE namespace_id = $1 AND email = $2)`,
		string(ns), leaddomain.NormalizeEmail(email)).Scan(&exists)
	return exists, err
}

// Create persists the lead. The lead must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, l *leaddomain.Lead) error {
	enrichment, err := marshalEnrichment(l.Enrichment)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO leads (`+leadColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		l.ID, string(l.NamespaceID), leaddomain.NormalizeEmail(l.Email),
		nullString(l.Name), nullString(l.Company), nullString(l.Title),
		enrichment, nullString(l.EnrichmentSource), nullTime(l.EnrichedAt),
		l.ICPScore, l.BehaviorScore, l.LeadScore, nullString(l.Grade), nullTime(l.ScoredAt),
		nullString(l.SourcePlatform), l.Version, l.CreatedAt, l.UpdatedAt)
	return err
}

// Update writes the lead guarded by its version and bumps it. Returns
// ErrVersionConflict when the row moved on since the read.
func (r *PostgresRepository) Update(ctx context.Context, l *leaddomain.Lead) error {
	enrichment, err := marshalEnrichment(l.Enrichment)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE leads
		SET name = $3, company = $4, title = $5,
		    enrichment = $6, enrichment_source = $7, enriched_at = $8,
		    icp_score = $9, behavior_score = $10, lead_score = $11, grade = $12, scored_at = $13,
		    source_platform = $14, version = version + 1, updated_at = $15
		WHERE id = $1 AND version = $2`,
		l.ID, l.Version,
		nullString(l.Name), nullString(l.Company), nullString(l.Title),
		enrichment, nullString(l.EnrichmentSource), nullTime(l.EnrichedAt),
		l.ICPScore, l.BehaviorScore, l.LeadScore, nullString(l.Grade), nullTime(l.ScoredAt),
		nullString(l.SourcePlatform), l.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	l.Version++
	return nil
}

func marshalEnrichment(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func scanLead(row *sql.Row) (*leaddomain.Lead, error) {
	var (
		l           leaddomain.Lead
		nsID        string
		name        sql.NullString
		company     sql.NullString
		title       sql.NullString
		enrichment  []byte
		enrichSrc   sql.NullString
		enrichedAt  sql.NullTime
		grade       sql.NullString
		scoredAt    sql.NullTime
		sourcePform sql.NullString
	)
	err := row.Scan(&l.ID, &nsID, &l.Email, &name, &company, &title,
		&enrichment, &enrichSrc, &enrichedAt,
		&l.ICPScore, &l.BehaviorScore, &l.LeadScore, &grade, &scoredAt,
		&sourcePform, &l.Version, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	l.NamespaceID = nsdomain.Handle(nsID)
	l.Name = name.String
	l.Company = company.String
	l.Title = title.String
	l.EnrichmentSource = enrichSrc.String
	l.Grade = grade.String
	l.SourcePlatform = sourcePform.String
	if enrichedAt.Valid {
		t := enrichedAt.Time
		l.EnrichedAt = &t
	}
	if scoredAt.Valid {
		t := scoredAt.Time
		l.ScoredAt = &t
	}
	if len(enrichment) > 0 {
		if err := json.Unmarshal(enrichment, &l.Enrichment); err != nil {
			return nil, err
		}
	}
	return &l, nil
}
