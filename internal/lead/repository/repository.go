package repository

import (
	"context"
	"errors"

	leaddomain "outreach-sync-engine/internal/lead/domain"
	nsdomain "outreach-sync-engine/internal/namespace/domain"
)

// ErrVersionConflict is returned by Update when another writer changed the
// lead since it was read. Callers re-read and retry the merge.
var ErrVersionConflict = errors.New("lead was modified concurrently")

// Repository defines persistence for leads.
type Repository interface {
	GetByID(ctx context.Context, id string) (*leaddomain.Lead, error)
	GetByEmail(ctx context.Context, ns nsdomain.Handle, email string) (*leaddomain.Lead, error)
	Create(ctx context.Context, l *leaddomain.Lead) error
	// Update writes the lead guarded by its Version; ErrVersionConflict on a lost race.
	Update(ctx context.Context, l *leaddomain.Lead) error
	// ExistsByEmail reports whether a lead exists for (namespace, email).
	ExistsByEmail(ctx context.Context, ns nsdomain.Handle, email string) (bool, error)
}
