package domain

import (
	"errors"
	"strings"
	"time"

	nsdomain "outreach-sync-engine/internal/namespace/domain"
)

// Lead is one user record per (namespace, email). It is created on first
// sighting from any platform and merged on every later sighting; the core
// never hard-deletes leads.
type Lead struct {
	ID          string
	NamespaceID nsdomain.Handle
	Email       string
	Name        string
	Company     string
	Title       string

	// Enrichment is the opaque payload from whichever enrichment source ran last.
	Enrichment       map[string]any
	EnrichmentSource string
	EnrichedAt       *time.Time

	// ICPScore is the firmographic fit score, capped at 100.
	ICPScore int
	// BehaviorScore is the uncapped engagement score; it never decreases while
	// the event history only grows.
	BehaviorScore int
	// LeadScore is ICPScore + BehaviorScore.
	LeadScore int
	Grade     string
	ScoredAt  *time.Time

	// SourcePlatform is the platform that first produced this lead.
	SourcePlatform string

	// Version guards read-modify-write merges (optimistic concurrency).
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate validates the lead for persistence. Returns an error describing the first validation failure.
func (l *Lead) Validate() error {
	if strings.TrimSpace(l.Email) == "" {
		return errors.New("email is required")
	}
	if l.NamespaceID == "" {
		return errors.New("namespace is required")
	}
	return nil
}

// NormalizeEmail lowercases and trims an email for use as the per-namespace unique key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Merge folds an incoming sighting into the lead. Identity fields are
// first-write-wins (only blanks are filled); enrichment is last-write-wins
// when the incoming sighting carries a payload. Nothing is ever overwritten
// with an empty value. Returns true if anything changed.
func (l *Lead) Merge(in *Lead, now time.Time) bool {
	changed := false
	if l.Name == "" && in.Name != "" {
		l.Name = in.Name
		changed = true
	}
	if l.Company == "" && in.Company != "" {
		l.Company = in.Company
		changed = true
	}
	if l.Title == "" && in.Title != "" {
		l.Title = in.Title
		changed = true
	}
	if l.SourcePlatform == "" && in.SourcePlatform != "" {
		l.SourcePlatform = in.SourcePlatform
		changed = true
	}
	if len(in.Enrichment) > 0 {
		l.Enrichment = in.Enrichment
		l.EnrichmentSource = in.EnrichmentSource
		if in.EnrichedAt != nil {
			l.EnrichedAt = in.EnrichedAt
		} else {
			t := now
			l.EnrichedAt = &t
		}
		changed = true
	}
	if changed {
		l.UpdatedAt = now
	}
	return changed
}

// ApplyScores writes a scoring pass onto the lead. Behavior score is kept
// monotonic: a recomputation can only raise it.
func (l *Lead) ApplyScores(icp, behavior int, grade string, now time.Time) {
	if behavior < l.BehaviorScore {
		behavior = l.BehaviorScore
	}
	l.ICPScore = icp
	l.BehaviorScore = behavior
	l.LeadScore = icp + behavior
	l.Grade = grade
	t := now
	l.ScoredAt = &t
	l.UpdatedAt = now
}

// NeedsICPRefresh reports whether the lead lacks an ICP score fresh within maxAge.
// Used to bound enrichment cost: ICP passes only run for stale leads.
func (l *Lead) NeedsICPRefresh(now time.Time, maxAge time.Duration) bool {
	if l.ScoredAt == nil || l.ICPScore == 0 {
		return true
	}
	return now.Sub(*l.ScoredAt) > maxAge
}
