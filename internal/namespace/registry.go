// Package namespace routes inbound records to tenant partitions by campaign-name
// keyword rules and owns the namespace registry.
package namespace

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"outreach-sync-engine/internal/namespace/domain"
)

// Sentinel errors for registry operations; the HTTP layer maps them to status codes.
var (
	ErrNotFound      = errors.New("namespace not found")
	ErrAlreadyExists = errors.New("namespace already registered")
	ErrDefaultExists = errors.New("default namespace already registered")
)

// Repository defines persistence for namespaces.
type Repository interface {
	List(ctx context.Context) ([]*domain.Namespace, error)
	GetByName(ctx context.Context, name string) (*domain.Namespace, error)
	Create(ctx context.Context, ns *domain.Namespace) error
	Update(ctx context.Context, ns *domain.Namespace) error
}

// Registry holds the read-mostly namespace snapshot used for routing.
// Administrative updates go through the repository and refresh the snapshot
// under an exclusive lock; Resolve reads the snapshot without I/O.
type Registry struct {
	repo Repository

	mu       sync.RWMutex
	ordered  []*domain.Namespace // active, by Position, excluding default
	fallback *domain.Namespace
	nowF     func() time.Time
}

// NewRegistry loads the current namespaces from the repository. The default
// namespace is created if it does not exist yet.
func NewRegistry(ctx context.Context, repo Repository) (*Registry, error) {
	r := &Registry{repo: repo, nowF: func() time.Time { return time.Now().UTC() }}
	if err := r.ensureDefault(ctx); err != nil {
		return nil, err
	}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) ensureDefault(ctx context.Context) error {
	existing, err := r.repo.GetByName(ctx, domain.DefaultName)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	now := r.now()
	return r.repo.Create(ctx, &domain.Namespace{
		ID:        domain.Handle(uuid.New().String()),
		Name:      domain.DefaultName,
		Active:    true,
		IsDefault: true,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (r *Registry) now() time.Time {
	if r.nowF != nil {
		return r.nowF()
	}
	return time.Now().UTC()
}

// Reload replaces the routing snapshot with the repository's current state.
func (r *Registry) Reload(ctx context.Context) error {
	all, err := r.repo.List(ctx)
	if err != nil {
		return err
	}
	var ordered []*domain.Namespace
	var fallback *domain.Namespace
	for _, ns := range all {
		if ns.IsDefault {
			fallback = ns
			continue
		}
		if ns.Active {
			ordered = append(ordered, ns)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })
	if fallback == nil {
		return errors.New("namespace: default namespace missing")
	}

	r.mu.Lock()
	r.ordered = ordered
	r.fallback = fallback
	r.mu.Unlock()
	return nil
}

// Resolve returns the namespace for a campaign name: first active namespace
// (in registration order) with a keyword that is a case-insensitive substring
// of the campaign name, else the default namespace. Pure over the snapshot.
func (r *Registry) Resolve(campaignName string) *domain.Namespace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ns := range r.ordered {
		if ns.Matches(campaignName) {
			return ns
		}
	}
	return r.fallback
}

// Default returns the fallback namespace.
func (r *Registry) Default() *domain.Namespace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fallback
}

// ListActive returns the active namespaces in routing order, default last.
func (r *Registry) ListActive() []*domain.Namespace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Namespace, 0, len(r.ordered)+1)
	out = append(out, r.ordered...)
	if r.fallback != nil {
		out = append(out, r.fallback)
	}
	return out
}

// GetByName returns the active namespace with the given name, or nil.
func (r *Registry) GetByName(name string) *domain.Namespace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.fallback != nil && r.fallback.Name == name {
		return r.fallback
	}
	for _, ns := range r.ordered {
		if ns.Name == name {
			return ns
		}
	}
	return nil
}

// Register creates a new namespace at the end of the routing order and
// refreshes the snapshot. Partition provisioning happens in the repository.
func (r *Registry) Register(ctx context.Context, name string, keywords []string, minBehaviorScore *int) (*domain.Namespace, error) {
	if name == domain.DefaultName {
		return nil, ErrDefaultExists
	}
	existing, err := r.repo.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}

	r.mu.RLock()
	position := len(r.ordered) + 1
	r.mu.RUnlock()

	now := r.now()
	ns := &domain.Namespace{
		ID:               domain.Handle(uuid.New().String()),
		Name:             name,
		Keywords:         keywords,
		Position:         position,
		Active:           true,
		MinBehaviorScore: minBehaviorScore,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := ns.Validate(); err != nil {
		return nil, err
	}
	if err := r.repo.Create(ctx, ns); err != nil {
		return nil, err
	}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return ns, nil
}

// UpdateKeywords replaces a namespace's keyword list and refreshes the snapshot.
func (r *Registry) UpdateKeywords(ctx context.Context, name string, keywords []string) error {
	ns, err := r.repo.GetByName(ctx, name)
	if err != nil {
		return err
	}
	if ns == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	ns.Keywords = keywords
	ns.UpdatedAt = r.now()
	if err := ns.Validate(); err != nil {
		return err
	}
	if err := r.repo.Update(ctx, ns); err != nil {
		return err
	}
	return r.Reload(ctx)
}

// Deactivate marks a namespace inactive. Namespaces that own data are never
// deleted; the default namespace cannot be deactivated.
func (r *Registry) Deactivate(ctx context.Context, name string) error {
	if name == domain.DefaultName {
		return errors.New("namespace: default namespace cannot be deactivated")
	}
	ns, err := r.repo.GetByName(ctx, name)
	if err != nil {
		return err
	}
	if ns == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	ns.Active = false
	ns.UpdatedAt = r.now()
	if err := r.repo.Update(ctx, ns); err != nil {
		return err
	}
	return r.Reload(ctx)
}
