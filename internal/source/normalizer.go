// Package source maps free-text device labels from health exports to a
// small set of canonical source identifiers.
package source

import (
	"strings"

	"go.uber.org/zap"
)

// Canonical source labels.
const (
	EightSleep = "Eight Sleep"
	Whoop      = "Whoop"
	AppleWatch = "Apple Watch"
	IPhone     = "iPhone"
	Dexcom     = "Dexcom"
	Unknown    = "Unknown"
)

// exactOverrides repairs labels known to arrive corrupted. Keys are matched
// after non-breaking spaces have been replaced.
var exactOverrides = map[string]string{
	"Jeffreyâ€™s Apple Watch": AppleWatch,
	"Jeffrey's Apple Watch":   AppleWatch,
	"DrZ iPhone 17 Pro":       IPhone,
	"DrZ iPhone":              IPhone,
}

type classification struct {
	keywords []string
	label    string
}

// classifications are checked in order; the first keyword hit wins.
var classifications = []classification{
	{keywords: []string{"eight"}, label: EightSleep},
	{keywords: []string{"whoop"}, label: Whoop},
	{keywords: []string{"watch", "health"}, label: AppleWatch},
	{keywords: []string{"iphone"}, label: IPhone},
	{keywords: []string{"dexcom"}, label: Dexcom},
}

// Result is the outcome of normalizing one raw label.
type Result struct {
	Label      string
	Recognized bool
}

// Normalizer resolves raw source labels to canonical identifiers.
// Unmatched labels pass through unchanged and are logged so the
// classification table can be extended.
type Normalizer struct {
	logger *zap.Logger
}

// NewNormalizer creates a new source normalizer
func NewNormalizer(logger *zap.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize maps a raw label to its canonical form.
func (n *Normalizer) Normalize(raw string) Result {
	label := raw
	if i := strings.Index(label, "|"); i >= 0 {
		label = label[:i]
	}
	label = strings.TrimSpace(strings.ReplaceAll(label, "\u00a0", " "))
	if label == "" {
		return Result{Label: Unknown}
	}

	if canonical, ok := exactOverrides[label]; ok {
		return Result{Label: canonical, Recognized: true}
	}

	lower := strings.ToLower(label)
	for _, c := range classifications {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return Result{Label: c.label, Recognized: true}
			}
		}
	}

	n.logger.Warn("unrecognized source label", zap.String("source", label))
	return Result{Label: label}
}
