package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	leaddomain "outreach-sync-engine/internal/lead/domain"
	"outreach-sync-engine/internal/namespace"
	nsdomain "outreach-sync-engine/internal/namespace/domain"
	"outreach-sync-engine/internal/platform"
	"outreach-sync-engine/internal/syncjob/domain"
	"outreach-sync-engine/internal/syncjob/service"
)

type memNamespaceRepo struct {
	mu   sync.Mutex
	byID map[string]*nsdomain.Namespace
}

func (r *memNamespaceRepo) List(ctx context.Context) ([]*nsdomain.Namespace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*nsdomain.Namespace, 0, len(r.byID))
	for _, ns := range r.byID {
		c := *ns
		out = append(out, &c)
	}
	return out, nil
}

func (r *memNamespaceRepo) GetByName(ctx context.Context, name string) (*nsdomain.Namespace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ns := range r.byID {
		if ns.Name == name {
			c := *ns
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memNamespaceRepo) Create(ctx context.Context, ns *nsdomain.Namespace) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *ns
	r.byID[string(ns.ID)] = &c
	return nil
}

func (r *memNamespaceRepo) Update(ctx context.Context, ns *nsdomain.Namespace) error {
	return r.Create(ctx, ns)
}

type memJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func (r *memJobRepo) Create(ctx context.Context, j *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID] = j
	return nil
}

func (r *memJobRepo) Update(ctx context.Context, j *domain.Job) error {
	return r.Create(ctx, j)
}

func (r *memJobRepo) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id], nil
}

func (r *memJobRepo) List(ctx context.Context, status domain.Status, limit int) ([]*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Job
	for _, j := range r.jobs {
		if status == "" || j.Status == status {
			out = append(out, j)
		}
	}
	return out, nil
}

type stubRunner struct {
	fn func(ctx context.Context, job *domain.Job) error
}

func (r *stubRunner) Execute(ctx context.Context, job *domain.Job) error {
	if r.fn != nil {
		return r.fn(ctx, job)
	}
	return nil
}

type stubConnector struct {
	name    string
	pingErr error
}

func (c *stubConnector) Name() string { return c.name }
func (c *stubConnector) FetchUsers(ctx context.Context, w platform.Window, cursor string, limit int) ([]platform.User, string, bool, error) {
	return nil, "", false, nil
}
func (c *stubConnector) FetchEvents(ctx context.Context, w platform.Window, cursor string, limit int) ([]platform.Event, string, bool, error) {
	return nil, "", false, nil
}
func (c *stubConnector) UpsertUser(ctx context.Context, lead *leaddomain.Lead) error { return nil }
func (c *stubConnector) Notify(ctx context.Context, entry platform.TimelineEntry) error {
	return nil
}
func (c *stubConnector) Ping(ctx context.Context) error { return c.pingErr }
func (c *stubConnector) WithLimiter(l platform.Limiter) platform.Connector {
	return c
}

type stubPinger struct{ err error }

func (p stubPinger) PingContext(ctx context.Context) error { return p.err }

func newTestServer(t *testing.T, runner service.Runner, connectors platform.Set, db Pinger) *Server {
	t.Helper()
	registry, err := namespace.NewRegistry(context.Background(), &memNamespaceRepo{byID: make(map[string]*nsdomain.Namespace)})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	jobs := &memJobRepo{jobs: make(map[string]*domain.Job)}
	tracker := service.NewTracker(jobs, runner, registry, connectors.Names())
	return New(tracker, registry, connectors, db)
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestSync_BlockingRunsToTerminal(t *testing.T) {
	runner := &stubRunner{fn: func(ctx context.Context, job *domain.Job) error {
		job.Checkpoint(domain.TupleKey("instantly", "default")).UsersSynced = 3
		return nil
	}}
	srv := newTestServer(t, runner, platform.Set{"instantly": &stubConnector{name: "instantly"}}, nil)

	w := do(t, srv, http.MethodPost, "/sync", `{"mode":"FULL_HISTORICAL","platforms":["instantly"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var view jobView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Status != "completed" || view.ID == "" {
		t.Errorf("view = %+v, want completed with id", view)
	}
}

func TestSync_ValidationErrors(t *testing.T) {
	srv := newTestServer(t, &stubRunner{}, platform.Set{"instantly": &stubConnector{name: "instantly"}}, nil)

	cases := []struct {
		name string
		body string
	}{
		{"unknown platform", `{"mode":"FULL_HISTORICAL","platforms":["hubspot"]}`},
		{"bad mode", `{"mode":"HOURLY","platforms":["instantly"]}`},
		{"inverted window", `{"mode":"DATE_RANGE","platforms":["instantly"],"start_date":"2026-08-02T00:00:00Z","end_date":"2026-08-01T00:00:00Z"}`},
		{"bad date format", `{"mode":"DATE_RANGE","platforms":["instantly"],"start_date":"yesterday","end_date":"2026-08-01T00:00:00Z"}`},
		{"missing reset date", `{"mode":"RESET_FROM_DATE","platforms":["instantly"]}`},
	}
	for _, c := range cases {
		w := do(t, srv, http.MethodPost, "/sync", c.body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", c.name, w.Code)
		}
		if !strings.Contains(w.Body.String(), "error") {
			t.Errorf("%s: body %s lacks error field", c.name, w.Body.String())
		}
	}
}

func TestValidate_DryRun(t *testing.T) {
	srv := newTestServer(t, &stubRunner{}, platform.Set{"instantly": &stubConnector{name: "instantly"}}, nil)

	w := do(t, srv, http.MethodPost, "/sync/validate", `{"mode":"INCREMENTAL","platforms":["instantly"]}`)
	if w.Code != http.StatusOK {
		t.Errorf("valid request: status = %d", w.Code)
	}

	w = do(t, srv, http.MethodPost, "/sync/validate", `{"mode":"INCREMENTAL","platforms":["hubspot"]}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid request: status = %d, want 422", w.Code)
	}

	// A dry run must not create a job.
	w = do(t, srv, http.MethodGet, "/jobs", "")
	var list struct {
		Jobs []jobView `json:"jobs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Jobs) != 0 {
		t.Errorf("jobs after validate = %d, want 0", len(list.Jobs))
	}
}

func TestSyncAsync_Returns202AndJobBecomesVisible(t *testing.T) {
	started := make(chan struct{})
	runner := &stubRunner{fn: func(ctx context.Context, job *domain.Job) error {
		close(started)
		return nil
	}}
	srv := newTestServer(t, runner, platform.Set{"instantly": &stubConnector{name: "instantly"}}, nil)

	w := do(t, srv, http.MethodPost, "/sync/async", `{"mode":"FULL_HISTORICAL","platforms":["instantly"]}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	var view jobView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("background run never started")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w = do(t, srv, http.MethodGet, "/jobs/"+view.ID, "")
		if w.Code == http.StatusOK && strings.Contains(w.Body.String(), `"completed"`) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job never reached completed: %s", w.Body.String())
}

func TestGetJob_NotFound(t *testing.T) {
	srv := newTestServer(t, &stubRunner{}, platform.Set{}, nil)
	w := do(t, srv, http.MethodGet, "/jobs/nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestNamespaces_RegisterAndList(t *testing.T) {
	srv := newTestServer(t, &stubRunner{}, platform.Set{}, nil)

	w := do(t, srv, http.MethodPost, "/namespaces", `{"name":"acme","keywords":["acme","acme corp"]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("register: status = %d body = %s", w.Code, w.Body.String())
	}

	w = do(t, srv, http.MethodPost, "/namespaces", `{"name":"acme","keywords":["acme"]}`)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate register: status = %d, want 409", w.Code)
	}

	w = do(t, srv, http.MethodGet, "/namespaces", "")
	var list struct {
		Namespaces []namespaceView `json:"namespaces"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Namespaces) != 2 {
		t.Fatalf("namespaces = %d, want acme + default", len(list.Namespaces))
	}
	if last := list.Namespaces[len(list.Namespaces)-1]; !last.IsDefault {
		t.Errorf("default namespace must list last, got %+v", last)
	}
}

func TestHealth_ReportsEachDependency(t *testing.T) {
	connectors := platform.Set{
		"instantly": &stubConnector{name: "instantly"},
		"smartlead": &stubConnector{name: "smartlead", pingErr: errors.New("401 unauthorized")},
	}
	srv := newTestServer(t, &stubRunner{}, connectors, stubPinger{})

	w := do(t, srv, http.MethodGet, "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when a connector is down", w.Code)
	}
	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "degraded" {
		t.Errorf("status = %s, want degraded", resp.Status)
	}
	if resp.Checks["instantly"] != "ok" || resp.Checks["database"] != "ok" {
		t.Errorf("checks = %v", resp.Checks)
	}
	if !strings.Contains(resp.Checks["smartlead"], "unauthorized") {
		t.Errorf("smartlead check = %q", resp.Checks["smartlead"])
	}

	healthy := newTestServer(t, &stubRunner{}, platform.Set{"instantly": &stubConnector{name: "instantly"}}, stubPinger{})
	w = do(t, healthy, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("healthy status = %d, want 200", w.Code)
	}
}
