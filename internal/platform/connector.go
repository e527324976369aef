// Package platform provides the uniform connector interface over external
// data sources and the CRM sink, with rate limiting and error classification
// at the boundary.
package platform

import (
	"context"
	"time"

	leaddomain "outreach-sync-engine/internal/lead/domain"
)

// Window is the inclusive time window a fetch operates over.
type Window struct {
	Start time.Time
	End   time.Time
}

// User is a raw contact record as a platform reports it, before namespace
// routing and merging.
type User struct {
	Email    string
	Name     string
	Company  string
	Title    string
	Campaign string
	Metadata map[string]any
}

// Event is a raw engagement record as a platform reports it.
type Event struct {
	ExternalID string
	Type       string
	Email      string
	Campaign   string
	OccurredAt time.Time
	Metadata   map[string]any
}

// TimelineEntry is a CRM timeline write-back (e.g. "lead scored A").
type TimelineEntry struct {
	Email      string
	Type       string
	Title      string
	Body       string
	OccurredAt time.Time
}

// Connector is the capability set implemented once per external platform.
// Every operation routes through the platform's rate limiter before the
// network call, and every error is classified retryable or fatal.
type Connector interface {
	Name() string
	// FetchUsers returns one page of contacts in the window. cursor "" starts
	// from the beginning; hasMore false means the stream is exhausted.
	FetchUsers(ctx context.Context, w Window, cursor string, limit int) (records []User, nextCursor string, hasMore bool, err error)
	// FetchEvents returns one page of engagement events in the window.
	FetchEvents(ctx context.Context, w Window, cursor string, limit int) (records []Event, nextCursor string, hasMore bool, err error)
	// UpsertUser pushes a qualified lead to the platform (idempotent by email).
	UpsertUser(ctx context.Context, lead *leaddomain.Lead) error
	// Notify writes a timeline entry to the platform.
	Notify(ctx context.Context, entry TimelineEntry) error
	// Ping reports reachability for health checks.
	Ping(ctx context.Context) error
	// WithLimiter returns a copy of the connector bound to the given limiter,
	// so per-job rate overrides apply without disturbing the shared set.
	WithLimiter(l Limiter) Connector
}

// Limiter is the slice of the rate limiter connectors need.
type Limiter interface {
	Acquire(ctx context.Context, platform string, n int) error
}

// Set is the configured connectors keyed by platform name.
type Set map[string]Connector

// Names returns the configured platform names.
func (s Set) Names() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	return out
}
