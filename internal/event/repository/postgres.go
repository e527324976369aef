package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	eventdomain "outreach-sync-engine/internal/event/domain"
	nsdomain "outreach-sync-engine/internal/namespace/domain"
)

// PostgresRepository stores events in lead_events with a unique event_key.
// ON CONFLICT DO NOTHING gives the atomic check-and-set the dedup contract needs.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an event repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// HasEvent reports whether an event with the key was already persisted.
func (r *PostgresRepository) HasEvent(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM lead_events WHERE event_key = $1)`, key).Scan(&exists)
	return exists, err
}

// RecordEvent inserts the event unless its key exists. inserted=false means a
// concurrent or earlier writer won; that is not an error.
func (r *PostgresRepository) RecordEvent(ctx context.Context, e *eventdomain.Event) (bool, error) {
	var metadata any
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return false, err
		}
		metadata = b
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO lead_events (event_key, event_type, platform, namespace_id, email, external_id, metadata, occurred_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_key) DO NOTHING`,
		e.Key, e.Type, e.Platform, string(e.NamespaceID), e.Email,
		sql.NullString{String: e.ExternalID, Valid: e.ExternalID != ""},
		metadata, e.OccurredAt, e.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListByLead returns all events for (namespace, email), oldest first.
func (r *PostgresRepository) ListByLead(ctx context.Context, ns nsdomain.Handle, email string) ([]*eventdomain.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_key, event_type, platform, namespace_id, email, external_id, metadata, occurred_at, created_at
		FROM lead_events
		WHERE namespace_id = $1 AND email = $2
		ORDER BY occurred_at`, string(ns), email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*eventdomain.Event
	for rows.Next() {
		var (
			e          eventdomain.Event
			nsID       string
			externalID sql.NullString
			metadata   []byte
		)
		if err := rows.Scan(&e.Key, &e.Type, &e.Platform, &nsID, &e.Email, &externalID, &metadata, &e.OccurredAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.NamespaceID = nsdomain.Handle(nsID)
		e.ExternalID = externalID.String
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
