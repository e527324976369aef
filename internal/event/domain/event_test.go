package domain

import (
	"testing"
	"time"
)

func TestDeriveKey_PrefersExternalID(t *testing.T) {
	key, src := DeriveKey("instantly", "evt-123", "a@acme.com", "email_open", time.Now())
	if src != KeyFromExternalID {
		t.Fatalf("src = %q, want external_id", src)
	}
	if key != "instantly:evt-123" {
		t.Errorf("key = %q, want instantly:evt-123", key)
	}
}

func TestDeriveKey_CompositeIsDeterministic(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 17, 42, 0, time.UTC)
	k1, src := DeriveKey("smartlead", "", "a@acme.com", "email_open", at)
	if src != KeyFromComposite {
		t.Fatalf("src = %q, want composite", src)
	}
	// Same hour bucket, different minute: same key.
	k2, _ := DeriveKey("smartlead", "", "a@acme.com", "email_open", at.Add(20*time.Minute))
	if k1 != k2 {
		t.Errorf("keys differ within one bucket: %q vs %q", k1, k2)
	}
	// Different hour: different key.
	k3, _ := DeriveKey("smartlead", "", "a@acme.com", "email_open", at.Add(2*time.Hour))
	if k1 == k3 {
		t.Error("keys must differ across buckets")
	}
	// Fixed length hex for composite keys.
	if len(k1) != 64 {
		t.Errorf("composite key length = %d, want 64", len(k1))
	}
}

func TestDeriveKey_DistinguishesDimensions(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	base, _ := DeriveKey("smartlead", "", "a@acme.com", "email_open", at)
	for name, variant := range map[string]struct {
		platform, email, typ string
	}{
		"platform": {"instantly", "a@acme.com", "email_open"},
		"email":    {"smartlead", "b@acme.com", "email_open"},
		"type":     {"smartlead", "a@acme.com", "email_click"},
	} {
		k, _ := DeriveKey(variant.platform, "", variant.email, variant.typ, at)
		if k == base {
			t.Errorf("key must change when %s changes", name)
		}
	}
}

func TestEventValidate(t *testing.T) {
	e := &Event{Key: "k", Type: "email_open", Platform: "instantly", NamespaceID: "ns-1"}
	if err := e.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := (&Event{Type: "open", Platform: "p", NamespaceID: "ns"}).Validate(); err == nil {
		t.Error("missing key must fail validation")
	}
}
