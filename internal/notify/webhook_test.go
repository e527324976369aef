package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"outreach-sync-engine/internal/syncjob/domain"
)

func terminalJob(callbackURL string) *domain.Job {
	now := time.Now().UTC()
	return &domain.Job{
		ID:          "job-1",
		Mode:        domain.ModeFullHistorical,
		Status:      domain.StatusCompleted,
		CallbackURL: callbackURL,
		FinishedAt:  &now,
		Summary: &domain.Summary{
			Platforms:  map[string]*domain.PlatformSummary{"instantly": {UsersSynced: 4}},
			Namespaces: map[string]*domain.NamespaceSummary{"default": {UsersSynced: 4}},
		},
	}
}

func TestWebhook_PostsTerminalPayload(t *testing.T) {
	var got CallbackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
	}))
	defer srv.Close()

	n := NewWebhookNotifier("")
	if err := n.JobEvent(context.Background(), terminalJob(srv.URL), "completed"); err != nil {
		t.Fatalf("JobEvent: %v", err)
	}
	if got.JobID != "job-1" || got.Status != "completed" {
		t.Errorf("payload = %+v", got)
	}
	if got.Summary == nil || got.Summary.Platforms["instantly"].UsersSynced != 4 {
		t.Errorf("summary not delivered: %+v", got.Summary)
	}
}

func TestWebhook_SkipsNonTerminalAndMissingURL(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)

	running := terminalJob(srv.URL)
	running.Status = domain.StatusRunning
	if err := n.JobEvent(context.Background(), running, "running"); err != nil {
		t.Fatalf("running JobEvent: %v", err)
	}
	if calls != 0 {
		t.Errorf("non-terminal event must not be delivered, got %d calls", calls)
	}

	noURL := NewWebhookNotifier("")
	if err := noURL.JobEvent(context.Background(), terminalJob(""), "completed"); err != nil {
		t.Fatalf("no-url JobEvent: %v", err)
	}
}

func TestWebhook_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier("")
	if err := n.JobEvent(context.Background(), terminalJob(srv.URL), "completed"); err == nil {
		t.Error("502 callback must return an error")
	}
}
