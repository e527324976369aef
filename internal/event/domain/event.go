package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	nsdomain "outreach-sync-engine/internal/namespace/domain"
)

// KeySource records how an event key was derived.
type KeySource string

const (
	// KeyFromExternalID means the platform supplied a stable event id.
	KeyFromExternalID KeySource = "external_id"
	// KeyFromComposite means the key was hashed from platform, user, type, and time bucket.
	KeyFromComposite KeySource = "composite"
)

// compositeBucket is the time bucket used when a platform has no stable event
// id; sightings of the same (platform, email, type) within one bucket collapse
// to one event.
const compositeBucket = time.Hour

// Event is an immutable engagement record (open, click, reply, ...). The event
// key is the sole deduplication contract: no two stored events share a key.
type Event struct {
	Key         string
	Type        string
	Platform    string
	NamespaceID nsdomain.Handle
	Email       string
	ExternalID  string
	Metadata    map[string]any
	OccurredAt  time.Time
	CreatedAt   time.Time
}

// Validate validates the event for persistence. Returns an error describing the first validation failure.
func (e *Event) Validate() error {
	if e.Key == "" {
		return errors.New("event key is required")
	}
	if e.Type == "" {
		return errors.New("event type is required")
	}
	if e.Platform == "" {
		return errors.New("platform is required")
	}
	if e.NamespaceID == "" {
		return errors.New("namespace is required")
	}
	return nil
}

// DeriveKey returns the deterministic dedup key for an event and the source used.
// Prefer the platform's own event id; fall back to a sha256 over
// platform|email|type|hourBucket so replayed batches collapse to one key.
func DeriveKey(platform, externalID, email, eventType string, occurredAt time.Time) (key string, src KeySource) {
	if externalID != "" {
		return platform + ":" + externalID, KeyFromExternalID
	}
	bucket := occurredAt.UTC().Truncate(compositeBucket).Unix()
	composite := fmt.Sprintf("%s|%s|%s|%d", platform, email, eventType, bucket)
	sum := sha256.Sum256([]byte(composite))
	return hex.EncodeToString(sum[:]), KeyFromComposite
}
