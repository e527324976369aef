package domain

import (
	"errors"
	"strings"
	"time"
)

// DefaultName is the catch-all namespace that always exists and receives
// records whose campaign matches no keyword rule.
const DefaultName = "default"

// Handle is the opaque partition identifier for a namespace. Data access
// resolves it through the repository; tenant names are never formatted into
// storage paths.
type Handle string

// Namespace is a tenant partition descriptor. Records are routed into it by
// case-insensitive keyword matching against campaign names.
type Namespace struct {
	ID   Handle
	Name string
	// Keywords are matched in order against campaign names; across namespaces,
	// registration order (Position) decides precedence.
	Keywords []string
	// Position is the registration order used for first-match-wins routing.
	Position  int
	Active    bool
	IsDefault bool
	// MinBehaviorScore, when non-nil, overrides the global CRM export threshold.
	MinBehaviorScore *int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Validate validates the namespace for persistence. Returns an error describing the first validation failure.
func (n *Namespace) Validate() error {
	if strings.TrimSpace(n.Name) == "" {
		return errors.New("name is required")
	}
	if !n.IsDefault && len(n.Keywords) == 0 {
		return errors.New("at least one keyword is required for a non-default namespace")
	}
	for _, k := range n.Keywords {
		if strings.TrimSpace(k) == "" {
			return errors.New("keywords must be non-empty")
		}
	}
	return nil
}

// Matches reports whether any keyword is a case-insensitive substring of campaignName.
// The default namespace never matches by keyword; it is the fallback.
func (n *Namespace) Matches(campaignName string) bool {
	if n.IsDefault {
		return false
	}
	lower := strings.ToLower(campaignName)
	for _, k := range n.Keywords {
		if k == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}
