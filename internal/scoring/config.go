// Package scoring computes ICP, behavior, and combined lead scores from a
// versioned rule config.
package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ICPTotalCap is the hard ceiling on the ICP score.
const ICPTotalCap = 100

// RawRange is the tagged on-disk form of a range rule. Either the numeric
// bounds or the legacy string form ("51-200", "200+", "<50") is set; both are
// resolved into a single canonical numeric representation at load time so the
// engine never branches on format.
type RawRange struct {
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	Legacy string   `json:"range,omitempty"`
	Points int      `json:"points"`
}

// Range is the canonical numeric range. Min/Max are inclusive; open ends use
// +/-Inf.
type Range struct {
	Min    float64
	Max    float64
	Points int
}

// Contains reports whether v falls inside the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// RawICPRule is the on-disk ICP component rule for one enrichment attribute.
type RawICPRule struct {
	Attribute string     `json:"attribute"`
	Ranges    []RawRange `json:"ranges"`
	// Cap bounds this rule's contribution; 0 means uncapped (up to the total cap).
	Cap int `json:"cap,omitempty"`
}

// ICPRule is the resolved ICP component rule.
type ICPRule struct {
	Attribute string
	Ranges    []Range
	Cap       int
}

// GradeThreshold maps a minimum lead score to a letter grade.
type GradeThreshold struct {
	MinScore int    `json:"min_score"`
	Grade    string `json:"grade"`
}

// RawConfig is the stored JSON form of a scoring config version.
type RawConfig struct {
	Version         int              `json:"version"`
	ICPRules        []RawICPRule     `json:"icp_rules"`
	BehaviorPoints  map[string]int   `json:"behavior_points"`
	GradeThresholds []GradeThreshold `json:"grade_thresholds"`
}

// Config is the resolved rule set the engine evaluates against. Read-only
// after Resolve.
type Config struct {
	Version         int
	ICPRules        []ICPRule
	BehaviorPoints  map[string]int
	GradeThresholds []GradeThreshold // descending by MinScore
}

// ParseConfig unmarshals and resolves a stored scoring config document.
func ParseConfig(raw []byte) (*Config, error) {
	var rc RawConfig
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, fmt.Errorf("scoring: parse config: %w", err)
	}
	return rc.Resolve()
}

// Resolve canonicalizes the raw config: legacy string ranges become numeric
// bounds and grade thresholds are ordered descending.
func (rc *RawConfig) Resolve() (*Config, error) {
	if len(rc.GradeThresholds) == 0 {
		return nil, errors.New("scoring: config has no grade thresholds")
	}
	cfg := &Config{
		Version:        rc.Version,
		BehaviorPoints: rc.BehaviorPoints,
	}
	for _, rr := range rc.ICPRules {
		if rr.Attribute == "" {
			return nil, errors.New("scoring: ICP rule missing attribute")
		}
		rule := ICPRule{Attribute: rr.Attribute, Cap: rr.Cap}
		for _, raw := range rr.Ranges {
			r, err := raw.resolve()
			if err != nil {
				return nil, fmt.Errorf("scoring: attribute %s: %w", rr.Attribute, err)
			}
			rule.Ranges = append(rule.Ranges, r)
		}
		cfg.ICPRules = append(cfg.ICPRules, rule)
	}
	cfg.GradeThresholds = append(cfg.GradeThresholds, rc.GradeThresholds...)
	sort.SliceStable(cfg.GradeThresholds, func(i, j int) bool {
		return cfg.GradeThresholds[i].MinScore > cfg.GradeThresholds[j].MinScore
	})
	return cfg, nil
}

func (raw RawRange) resolve() (Range, error) {
	if raw.Legacy != "" {
		if raw.Min != nil || raw.Max != nil {
			return Range{}, fmt.Errorf("range %q sets both legacy and numeric bounds", raw.Legacy)
		}
		return parseLegacyRange(raw.Legacy, raw.Points)
	}
	r := Range{Min: math.Inf(-1), Max: math.Inf(1), Points: raw.Points}
	if raw.Min != nil {
		r.Min = *raw.Min
	}
	if raw.Max != nil {
		r.Max = *raw.Max
	}
	if r.Min > r.Max {
		return Range{}, fmt.Errorf("range has min %v > max %v", r.Min, r.Max)
	}
	return r, nil
}

// parseLegacyRange handles the legacy string formats: "a-b", "a+", "<b".
func parseLegacyRange(s string, points int) (Range, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "<"):
		max, err := strconv.ParseFloat(strings.TrimSpace(s[1:]), 64)
		if err != nil {
			return Range{}, fmt.Errorf("invalid legacy range %q", s)
		}
		return Range{Min: math.Inf(-1), Max: max - 1, Points: points}, nil
	case strings.HasSuffix(s, "+"):
		min, err := strconv.ParseFloat(strings.TrimSpace(s[:len(s)-1]), 64)
		if err != nil {
			return Range{}, fmt.Errorf("invalid legacy range %q", s)
		}
		return Range{Min: min, Max: math.Inf(1), Points: points}, nil
	case strings.Contains(s, "-"):
		parts := strings.SplitN(s, "-", 2)
		min, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		max, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err1 != nil || err2 != nil || min > max {
			return Range{}, fmt.Errorf("invalid legacy range %q", s)
		}
		return Range{Min: min, Max: max, Points: points}, nil
	default:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Range{}, fmt.Errorf("invalid legacy range %q", s)
		}
		return Range{Min: v, Max: v, Points: points}, nil
	}
}

// DefaultRawConfig returns the seed scoring config.
func DefaultRawConfig() *RawConfig {
	f := func(v float64) *float64 { return &v }
	return &RawConfig{
		Version: 1,
		ICPRules: []RawICPRule{
			{
				Attribute: "headcount",
				Ranges: []RawRange{
					{Legacy: "<11", Points: 5},
					{Legacy: "11-50", Points: 10},
					{Legacy: "51-200", Points: 20},
					{Legacy: "200+", Points: 30},
				},
				Cap: 30,
			},
			{
				Attribute: "revenue_usd",
				Ranges: []RawRange{
					{Min: f(1_000_000), Max: f(10_000_000), Points: 15},
					{Min: f(10_000_000), Points: 30},
				},
				Cap: 30,
			},
			{
				Attribute: "funding_rounds",
				Ranges: []RawRange{
					{Min: f(1), Max: f(2), Points: 15},
					{Min: f(3), Points: 25},
				},
				Cap: 25,
			},
		},
		BehaviorPoints: map[string]int{
			"email_open":     5,
			"email_click":    10,
			"email_reply":    25,
			"meeting_booked": 50,
			"unsubscribe":    0,
		},
		GradeThresholds: []GradeThreshold{
			{MinScore: 90, Grade: "A+"},
			{MinScore: 80, Grade: "A"},
			{MinScore: 70, Grade: "B+"},
			{MinScore: 60, Grade: "B"},
			{MinScore: 40, Grade: "C"},
			{MinScore: 20, Grade: "D"},
			{MinScore: 0, Grade: "F"},
		},
	}
}
