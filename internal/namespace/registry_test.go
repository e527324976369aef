package namespace

import (
	"context"
	"errors"
	"sync"
	"testing"

	"outreach-sync-engine/internal/namespace/domain"
)

type memNamespaceRepo struct {
	mu     sync.Mutex
	byName map[string]*domain.Namespace
}

func newMemNamespaceRepo() *memNamespaceRepo {
	return &memNamespaceRepo{byName: map[string]*domain.Namespace{}}
}

func (r *memNamespaceRepo) List(ctx context.Context) ([]*domain.Namespace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Namespace, 0, len(r.byName))
	for _, ns := range r.byName {
		c := *ns
		out = append(out, &c)
	}
	return out, nil
}

func (r *memNamespaceRepo) GetByName(ctx context.Context, name string) (*domain.Namespace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ns, ok := r.byName[name]; ok {
		c := *ns
		return &c, nil
	}
	return nil, nil
}

func (r *memNamespaceRepo) Create(ctx context.Context, ns *domain.Namespace) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *ns
	r.byName[ns.Name] = &c
	return nil
}

func (r *memNamespaceRepo) Update(ctx context.Context, ns *domain.Namespace) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *ns
	r.byName[ns.Name] = &c
	return nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(context.Background(), newMemNamespaceRepo())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func TestNewRegistry_CreatesDefault(t *testing.T) {
	reg := newTestRegistry(t)
	def := reg.Default()
	if def == nil || !def.IsDefault || def.Name != domain.DefaultName {
		t.Fatalf("default namespace = %+v", def)
	}
}

// Scenario: "ACME Corp Outreach" routes to the acme namespace; a campaign
// with no keyword match routes to default.
func TestResolve_FirstMatchWinsAndDefaultFallback(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	if _, err := reg.Register(ctx, "acme", []string{"ACME"}, nil); err != nil {
		t.Fatalf("Register acme: %v", err)
	}

	got := reg.Resolve("ACME Corp Outreach")
	if got.Name != "acme" {
		t.Errorf("Resolve(ACME Corp Outreach) = %q, want acme", got.Name)
	}

	// Case-insensitive substring.
	if got := reg.Resolve("q3 acme expansion"); got.Name != "acme" {
		t.Errorf("Resolve(q3 acme expansion) = %q, want acme", got.Name)
	}

	if got := reg.Resolve("Generic Outreach"); got.Name != domain.DefaultName {
		t.Errorf("Resolve(Generic Outreach) = %q, want default", got.Name)
	}
}

func TestResolve_Deterministic(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	if _, err := reg.Register(ctx, "acme", []string{"ACME"}, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	first := reg.Resolve("Acme Corp Q1 Campaign")
	for i := 0; i < 50; i++ {
		if got := reg.Resolve("Acme Corp Q1 Campaign"); got.ID != first.ID {
			t.Fatalf("Resolve changed: %q vs %q", got.Name, first.Name)
		}
	}
}

func TestResolve_RegistrationOrderPrecedence(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	if _, err := reg.Register(ctx, "enterprise", []string{"corp"}, nil); err != nil {
		t.Fatalf("Register enterprise: %v", err)
	}
	if _, err := reg.Register(ctx, "acme", []string{"acme corp"}, nil); err != nil {
		t.Fatalf("Register acme: %v", err)
	}

	// Both namespaces match; the earlier registration wins.
	if got := reg.Resolve("Acme Corp Outreach"); got.Name != "enterprise" {
		t.Errorf("Resolve = %q, want enterprise (registered first)", got.Name)
	}
}

func TestRegister_DuplicateRejected(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	if _, err := reg.Register(ctx, "acme", []string{"acme"}, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := reg.Register(ctx, "acme", []string{"other"}, nil); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second Register = %v, want ErrAlreadyExists", err)
	}
}

func TestUpdateKeywords_ChangesRouting(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	if _, err := reg.Register(ctx, "acme", []string{"acme"}, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.UpdateKeywords(ctx, "acme", []string{"globex"}); err != nil {
		t.Fatalf("UpdateKeywords: %v", err)
	}
	if got := reg.Resolve("ACME Corp Outreach"); got.Name != domain.DefaultName {
		t.Errorf("Resolve after keyword change = %q, want default", got.Name)
	}
	if got := reg.Resolve("Globex Launch"); got.Name != "acme" {
		t.Errorf("Resolve(Globex Launch) = %q, want acme", got.Name)
	}
}

func TestDeactivate_RemovesFromRoutingButNotRegistry(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	if _, err := reg.Register(ctx, "acme", []string{"acme"}, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Deactivate(ctx, "acme"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if got := reg.Resolve("ACME Corp Outreach"); got.Name != domain.DefaultName {
		t.Errorf("Resolve after deactivate = %q, want default", got.Name)
	}
	if err := reg.Deactivate(ctx, domain.DefaultName); err == nil {
		t.Error("Deactivate(default) should fail")
	}
	if err := reg.Deactivate(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Deactivate(missing) = %v, want ErrNotFound", err)
	}
}
