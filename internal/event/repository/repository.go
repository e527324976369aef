package repository

import (
	"context"

	eventdomain "outreach-sync-engine/internal/event/domain"
	nsdomain "outreach-sync-engine/internal/namespace/domain"
)

// Repository is the deduplication store: the authoritative record of which
// event keys have been persisted. RecordEvent is an atomic check-and-set; two
// writers racing on one key cannot both insert.
type Repository interface {
	HasEvent(ctx context.Context, key string) (bool, error)
	// RecordEvent inserts the event if its key is unseen. Returns inserted=false
	// (and no error) when the key already exists.
	RecordEvent(ctx context.Context, e *eventdomain.Event) (inserted bool, err error)
	// ListByLead returns all stored events for (namespace, email), oldest first.
	ListByLead(ctx context.Context, ns nsdomain.Handle, email string) ([]*eventdomain.Event, error)
}
