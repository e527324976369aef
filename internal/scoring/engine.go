package scoring

import (
	"strconv"
	"time"

	eventdomain "outreach-sync-engine/internal/event/domain"
	leaddomain "outreach-sync-engine/internal/lead/domain"
)

// Engine evaluates a resolved Config. The config is read-only at evaluation
// time; swapping versions means building a new Engine.
type Engine struct {
	cfg *Config
}

// NewEngine returns an engine over the given resolved config.
func NewEngine(cfg *Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the engine's rule set.
func (e *Engine) Config() *Config { return e.cfg }

// ScoreBehavior sums per-event-type points over the stored events. Uncapped;
// grows monotonically with the event history. Unknown event types score zero.
func (e *Engine) ScoreBehavior(events []*eventdomain.Event) int {
	total := 0
	for _, ev := range events {
		total += e.cfg.BehaviorPoints[ev.Type]
	}
	return total
}

// ScoreICP applies the ICP rules to the enrichment payload. Each rule
// contributes independently (capped per rule), and the total is capped at 100.
// Missing or non-numeric attributes contribute nothing.
func (e *Engine) ScoreICP(enrichment map[string]any) int {
	if len(enrichment) == 0 {
		return 0
	}
	total := 0
	for _, rule := range e.cfg.ICPRules {
		v, ok := numericAttr(enrichment[rule.Attribute])
		if !ok {
			continue
		}
		points := 0
		for _, r := range rule.Ranges {
			if r.Contains(v) {
				points += r.Points
			}
		}
		if rule.Cap > 0 && points > rule.Cap {
			points = rule.Cap
		}
		total += points
	}
	if total > ICPTotalCap {
		total = ICPTotalCap
	}
	return total
}

// Grade maps a lead score to a letter grade: thresholds are checked in
// descending order and the first satisfied one wins.
func (e *Engine) Grade(score int) string {
	for _, t := range e.cfg.GradeThresholds {
		if score >= t.MinScore {
			return t.Grade
		}
	}
	// Below every threshold; the lowest grade applies.
	return e.cfg.GradeThresholds[len(e.cfg.GradeThresholds)-1].Grade
}

// RescoreBehavior runs the cheap database-only pass: behavior from events,
// ICP left as-is. Safe to run frequently.
func (e *Engine) RescoreBehavior(l *leaddomain.Lead, events []*eventdomain.Event, now time.Time) {
	behavior := e.ScoreBehavior(events)
	grade := e.Grade(l.ICPScore + maxInt(behavior, l.BehaviorScore))
	l.ApplyScores(l.ICPScore, behavior, grade, now)
}

// ScoreFull runs the composed pass: ICP from the lead's attached enrichment
// plus behavior from events. It does not call external enrichment.
func (e *Engine) ScoreFull(l *leaddomain.Lead, events []*eventdomain.Event, now time.Time) {
	icp := e.ScoreICP(l.Enrichment)
	behavior := e.ScoreBehavior(events)
	grade := e.Grade(icp + maxInt(behavior, l.BehaviorScore))
	l.ApplyScores(icp, behavior, grade, now)
}

// numericAttr coerces enrichment attribute values to float64. Enrichment blobs
// come from JSON, so numbers arrive as float64, but sources also ship numeric
// strings.
func numericAttr(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
