// Package enrichment acquires firmographic payloads for leads from a
// precedence-ordered chain of external sources. The scoring engine never calls
// this package; the orchestrator attaches the payload before an ICP pass.
package enrichment

import (
	"context"
	"errors"
	"log"

	leaddomain "outreach-sync-engine/internal/lead/domain"
)

// ErrNoResult is returned when no source produced a payload at or above its
// confidence threshold.
var ErrNoResult = errors.New("no enrichment source produced a confident result")

// Source is one external enrichment provider. Confidence is in [0, 1].
type Source interface {
	Name() string
	Enrich(ctx context.Context, lead *leaddomain.Lead) (payload map[string]any, confidence float64, err error)
}

// Step is a source with its acceptance threshold.
type Step struct {
	Source Source
	// MinConfidence gates acceptance; results below it fall through to the next step.
	MinConfidence float64
}

// Chain tries sources in precedence order (AI enrichment first, then the
// secondary API, then the primary API) and accepts the first confident result.
type Chain struct {
	steps []Step
}

// NewChain returns a chain over the given steps, tried in order.
func NewChain(steps ...Step) *Chain {
	return &Chain{steps: steps}
}

// Enrich runs the chain for a lead. Source errors are logged and treated as a
// miss; the chain moves on. Returns the accepted payload and the source name.
func (c *Chain) Enrich(ctx context.Context, lead *leaddomain.Lead) (map[string]any, string, error) {
	for _, step := range c.steps {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		payload, confidence, err := step.Source.Enrich(ctx, lead)
		if err != nil {
			log.Printf("enrichment: source %s failed for %s: %v", step.Source.Name(), lead.Email, err)
			continue
		}
		if len(payload) == 0 || confidence < step.MinConfidence {
			continue
		}
		return payload, step.Source.Name(), nil
	}
	return nil, "", ErrNoResult
}
