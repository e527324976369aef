package repository

import (
	"context"

	"outreach-sync-engine/internal/namespace/domain"
)

// Repository defines persistence for namespaces.
type Repository interface {
	List(ctx context.Context) ([]*domain.Namespace, error)
	GetByName(ctx context.Context, name string) (*domain.Namespace, error)
	Create(ctx context.Context, ns *domain.Namespace) error
	Update(ctx context.Context, ns *domain.Namespace) error
}
