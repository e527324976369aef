package enrichment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	leaddomain "outreach-sync-engine/internal/lead/domain"
)

func TestHTTPSource_Enrich(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("email"); got != "a@acme.com" {
			t.Errorf("email = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k1" {
			t.Errorf("auth = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data":       map[string]any{"headcount": 120, "revenue_usd": 9000000},
			"confidence": 0.92,
		})
	}))
	defer srv.Close()

	src := NewHTTPSource("clearbit", srv.URL, "k1")
	payload, confidence, err := src.Enrich(context.Background(), &leaddomain.Lead{Email: "a@acme.com", Company: "ACME"})
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if confidence != 0.92 {
		t.Errorf("confidence = %v", confidence)
	}
	if payload["headcount"] != float64(120) {
		t.Errorf("payload = %v", payload)
	}
}

func TestHTTPSource_NotFoundIsMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	src := NewHTTPSource("clearbit", srv.URL, "")
	payload, confidence, err := src.Enrich(context.Background(), &leaddomain.Lead{Email: "nobody@x.com"})
	if err != nil || payload != nil || confidence != 0 {
		t.Errorf("miss = (%v, %v, %v), want empty result without error", payload, confidence, err)
	}
}

func TestHTTPSource_ServerErrorIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := NewHTTPSource("clearbit", srv.URL, "")
	if _, _, err := src.Enrich(context.Background(), &leaddomain.Lead{Email: "a@x.com"}); err == nil {
		t.Error("500 must surface as an error")
	}
}
