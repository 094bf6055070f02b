// Package metric resolves raw export metric names to canonical metric types
// and applies the ordered device-specific override rules.
package metric

import (
	"strings"

	"github.com/septivank/health-sync-worker/internal/source"
)

// Canonical metric types referenced by the override rules.
const (
	SleepAnalysis    = "sleep_analysis"
	SleepPrefix      = "sleep_"
	HeartRate        = "heart_rate"
	RestingHeartRate = "resting_heart_rate"
	StepCount        = "step_count"
)

// Reading is a sample's identity as seen by the override rules.
type Reading struct {
	MetricType string
	Source     string
}

// Rule rewrites or drops a reading. Returning false drops it.
type Rule struct {
	Name  string
	Apply func(Reading) (Reading, bool)
}

// DefaultRules is the ordered override list. Sleep-device heart rate is
// reclassified before the phone step drop is evaluated.
var DefaultRules = []Rule{
	{
		Name: "sleep_device_resting_heart_rate",
		Apply: func(r Reading) (Reading, bool) {
			if r.MetricType == HeartRate && r.Source == source.EightSleep {
				r.MetricType = RestingHeartRate
			}
			return r, true
		},
	},
	{
		Name: "drop_phone_step_count",
		Apply: func(r Reading) (Reading, bool) {
			if r.MetricType == StepCount && r.Source == source.IPhone {
				return r, false
			}
			return r, true
		},
	},
}

// Decision is the outcome of canonicalizing one sample.
type Decision struct {
	Reading
	Keep bool
	// DroppedBy names the rule that dropped the reading, if any.
	DroppedBy string
}

// Canonicalizer turns raw metric names into canonical types.
type Canonicalizer struct {
	rules []Rule
}

// NewCanonicalizer creates a canonicalizer with the given ordered rules.
func NewCanonicalizer(rules []Rule) *Canonicalizer {
	return &Canonicalizer{rules: rules}
}

// TypeFor returns the canonical type for a raw metric name. For sleep
// analysis the stage value (e.g. "Deep", "REM") selects the type.
func TypeFor(name, stage string) string {
	if name != SleepAnalysis {
		return name
	}
	stage = strings.TrimSpace(stage)
	if stage == "" {
		stage = "asleep"
	}
	return SleepPrefix + strings.Join(strings.Fields(strings.ToLower(stage)), "_")
}

// Canonicalize resolves the metric type and runs the override rules in order.
func (c *Canonicalizer) Canonicalize(name, stage, canonicalSource string) Decision {
	r := Reading{
		MetricType: TypeFor(name, stage),
		Source:     canonicalSource,
	}
	for _, rule := range c.rules {
		next, keep := rule.Apply(r)
		if !keep {
			return Decision{Reading: next, DroppedBy: rule.Name}
		}
		r = next
	}
	return Decision{Reading: r, Keep: true}
}

// summedKeywords select sum-combination; everything else is averaged.
var summedKeywords = []string{"step", "energy", "distance", "calorie", "active", "flight"}

// IsSummed reports whether duplicate samples of this metric type are summed
// rather than averaged.
func IsSummed(metricType string) bool {
	lower := strings.ToLower(metricType)
	if strings.HasPrefix(lower, SleepPrefix) {
		return true
	}
	for _, kw := range summedKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// IsStepCount reports whether the metric is the step counter. Other
// step-related gauges such as walking_step_length are not.
func IsStepCount(metricType string) bool {
	return metricType == StepCount
}
