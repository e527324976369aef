package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"outreach-sync-engine/internal/ratelimit"
)

// openLimiter admits every request immediately.
type openLimiter struct{}

func (openLimiter) Acquire(ctx context.Context, platform string, n int) error { return nil }

// starvedLimiter times out every request.
type starvedLimiter struct{}

func (starvedLimiter) Acquire(ctx context.Context, platform string, n int) error {
	return ratelimit.ErrRateLimitTimeout
}

func TestInstantlyFetchUsers_Pagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/leads" {
			t.Errorf("path = %q, want /leads", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Errorf("auth header = %q", got)
		}
		resp := map[string]any{
			"next_starting_after": "",
			"items": []map[string]any{
				{"email": "a@acme.com", "first_name": "Ada", "last_name": "Lovelace", "company_name": "ACME", "campaign_name": "ACME Q3"},
			},
		}
		if r.URL.Query().Get("starting_after") == "" {
			resp["next_starting_after"] = "cur-2"
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewInstantlyConnector(srv.URL, "key-1", openLimiter{})
	w := Window{Start: time.Now().Add(-time.Hour), End: time.Now()}

	users, next, hasMore, err := c.FetchUsers(context.Background(), w, "", 100)
	if err != nil {
		t.Fatalf("FetchUsers: %v", err)
	}
	if !hasMore || next != "cur-2" {
		t.Errorf("hasMore = %v next = %q, want true cur-2", hasMore, next)
	}
	if len(users) != 1 || users[0].Email != "a@acme.com" || users[0].Name != "Ada Lovelace" {
		t.Errorf("unexpected users: %+v", users)
	}

	_, _, hasMore, err = c.FetchUsers(context.Background(), w, "cur-2", 100)
	if err != nil {
		t.Fatalf("FetchUsers page 2: %v", err)
	}
	if hasMore {
		t.Error("final page must report hasMore = false")
	}
}

func TestInstantlyFetchEvents_MapsTypes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"id": "ev-1", "event_type": "email_opened", "lead_email": "a@acme.com", "timestamp": time.Now().UTC().Format(time.RFC3339)},
				{"id": "ev-2", "event_type": "reply_received", "lead_email": "a@acme.com", "timestamp": time.Now().UTC().Format(time.RFC3339)},
			},
		})
	}))
	defer srv.Close()

	c := NewInstantlyConnector(srv.URL, "k", openLimiter{})
	events, _, _, err := c.FetchEvents(context.Background(), Window{Start: time.Now().Add(-time.Hour), End: time.Now()}, "", 100)
	if err != nil {
		t.Fatalf("FetchEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].Type != "email_open" || events[1].Type != "email_reply" {
		t.Errorf("event types = %q %q, want email_open email_reply", events[0].Type, events[1].Type)
	}
}

func TestSmartleadFetchUsers_OffsetCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("api_key"); got != "sl-key" {
			t.Errorf("api_key = %q", got)
		}
		offset := r.URL.Query().Get("offset")
		leads := []map[string]any{}
		if offset == "0" || offset == "" {
			leads = append(leads,
				map[string]any{"email": "a@x.com"},
				map[string]any{"email": "b@x.com"},
			)
		} else {
			leads = append(leads, map[string]any{"email": "c@x.com"})
		}
		json.NewEncoder(w).Encode(map[string]any{"data": leads, "total": 3})
	}))
	defer srv.Close()

	c := NewSmartleadConnector(srv.URL, "sl-key", openLimiter{})
	w := Window{Start: time.Now().Add(-time.Hour), End: time.Now()}

	users, next, hasMore, err := c.FetchUsers(context.Background(), w, "", 2)
	if err != nil {
		t.Fatalf("FetchUsers: %v", err)
	}
	if len(users) != 2 || next != "2" || !hasMore {
		t.Errorf("page 1: len=%d next=%q hasMore=%v", len(users), next, hasMore)
	}

	users, _, hasMore, err = c.FetchUsers(context.Background(), w, next, 2)
	if err != nil {
		t.Fatalf("FetchUsers page 2: %v", err)
	}
	if len(users) != 1 || hasMore {
		t.Errorf("page 2: len=%d hasMore=%v, want 1 false", len(users), hasMore)
	}
}

func TestClient_ErrorClassification(t *testing.T) {
	status := http.StatusUnauthorized
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := NewInstantlyConnector(srv.URL, "k", openLimiter{})
	err := c.Ping(context.Background())
	if !IsFatal(err) {
		t.Errorf("401 Ping error = %v, want fatal", err)
	}

	status = http.StatusTooManyRequests
	err = c.Ping(context.Background())
	if !IsRetryable(err) {
		t.Errorf("429 Ping error = %v, want retryable", err)
	}
}

func TestClient_ContextCancelPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewInstantlyConnector(srv.URL, "k", openLimiter{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Ping(ctx)
	if IsRetryable(err) || IsFatal(err) {
		t.Errorf("cancellation must not be classified, got %v", err)
	}
	if err == nil {
		t.Fatal("expected error from cancelled request")
	}
}

func TestWithLimiter_RebindsRateBucket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{}})
	}))
	defer srv.Close()

	w := Window{Start: time.Now().Add(-time.Hour), End: time.Now()}
	c := NewInstantlyConnector(srv.URL, "k", starvedLimiter{})
	if _, _, _, err := c.FetchUsers(context.Background(), w, "", 100); !IsRetryable(err) {
		t.Fatalf("starved fetch error = %v, want retryable", err)
	}

	fast := c.WithLimiter(openLimiter{})
	if _, _, _, err := fast.FetchUsers(context.Background(), w, "", 100); err != nil {
		t.Fatalf("fetch after rebind: %v", err)
	}
	// The original keeps its own bucket.
	if _, _, _, err := c.FetchUsers(context.Background(), w, "", 100); !IsRetryable(err) {
		t.Fatalf("original fetch error = %v, want still retryable", err)
	}
}
