package repository

import "context"

// Repository defines persistence for versioned scoring config documents.
// Exactly one version is active at a time; activation is an administrative
// operation outside the sync path.
type Repository interface {
	// GetActive returns the active config document, or nil if none is stored.
	GetActive(ctx context.Context) ([]byte, error)
	// Insert stores a config version and optionally activates it, deactivating
	// the previous active version.
	Insert(ctx context.Context, version int, doc []byte, activate bool) error
}
