package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"outreach-sync-engine/internal/namespace/domain"
)

// PostgresRepository persists namespaces in the namespaces table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a namespace repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// List returns all namespaces ordered by registration position.
func (r *PostgresRepository) List(ctx context.Context) ([]*domain.Namespace, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, keywords, position, active, is_default, min_behavior_score, created_at, updated_at
		FROM namespaces
		ORDER BY position, created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Namespace
	for rows.Next() {
		ns, err := scanNamespace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ns)
	}
	return out, rows.Err()
}

// GetByName returns the namespace with the given name, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByName(ctx context.Context, name string) (*domain.Namespace, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, keywords, position, active, is_default, min_behavior_score, created_at, updated_at
		FROM namespaces
		WHERE name = $1`, name)
	ns, err := scanNamespace(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return ns, nil
}

// Create persists the namespace. The namespace must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, ns *domain.Namespace) error {
	keywords, err := json.Marshal(ns.Keywords)
	if err != nil {
		return err
	}
	minScore := sql.NullInt64{}
	if ns.MinBehaviorScore != nil {
		minScore = sql.NullInt64{Int64: int64(*ns.MinBehaviorScore), Valid: true}
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO namespaces (id, name, keywords, position, active, is_default, min_behavior_score, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(ns.ID), ns.Name, keywords, ns.Position, ns.Active, ns.IsDefault, minScore, ns.CreatedAt, ns.UpdatedAt)
	return err
}

// Update updates keywords, active flag, export threshold, and updated_at for an existing namespace.
func (r *PostgresRepository) Update(ctx context.Context, ns *domain.Namespace) error {
	keywords, err := json.Marshal(ns.Keywords)
	if err != nil {
		return err
	}
	minScore := sql.NullInt64{}
	if ns.MinBehaviorScore != nil {
		minScore = sql.NullInt64{Int64: int64(*ns.MinBehaviorScore), Valid: true}
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE namespaces
		SET keywords = $2, active = $3, min_behavior_score = $4, updated_at = $5
		WHERE id = $1`,
		string(ns.ID), keywords, ns.Active, minScore, ns.UpdatedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNamespace(row rowScanner) (*domain.Namespace, error) {
	var (
		ns       domain.Namespace
		id       string
		keywords []byte
		minScore sql.NullInt64
	)
	if err := row.Scan(&id, &ns.Name, &keywords, &ns.Position, &ns.Active, &ns.IsDefault, &minScore, &ns.CreatedAt, &ns.UpdatedAt); err != nil {
		return nil, err
	}
	ns.ID = domain.Handle(id)
	if len(keywords) > 0 {
		if err := json.Unmarshal(keywords, &ns.Keywords); err != nil {
			return nil, err
		}
	}
	if minScore.Valid {
		v := int(minScore.Int64)
		ns.MinBehaviorScore = &v
	}
	return &ns, nil
}
