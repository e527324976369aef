package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepository stores scoring configs in the scoring_configs table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a scoring config repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetActive returns the active config document, or nil if none is stored.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetActive(ctx context.Context) ([]byte, error) {
	var doc []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT doc FROM scoring_configs WHERE active ORDER BY version DESC LIMIT 1`).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return doc, nil
}

// Insert stores a config version. When activate is true the previous active
// version is deactivated in the same transaction.
func (r *PostgresRepository) Insert(ctx context.Context, version int, doc []byte, activate bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if activate {
		if _, err := tx.ExecContext(ctx, `UPDATE scoring_configs SET active = FALSE WHERE active`); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO scoring_configs (version, doc, active, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (version) DO UPDATE SET doc = EXCLUDED.doc, active = EXCLUDED.active`,
		version, doc, activate, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}
