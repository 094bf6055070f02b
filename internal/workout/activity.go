package workout

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type activityGroup struct {
	keywords []string
	activity string
}

// activityGroups are checked in order; "Outdoor Walk" must resolve before
// anything that could also contain "run".
var activityGroups = []activityGroup{
	{keywords: []string{"walk", "hiking"}, activity: "Walking"},
	{keywords: []string{"run", "jog"}, activity: "Running"},
	{keywords: []string{"cycle", "bike", "cycling"}, activity: "Cycling"},
	{keywords: []string{"swim"}, activity: "Swimming"},
	{keywords: []string{"golf"}, activity: "Golf"},
	{keywords: []string{"yoga"}, activity: "Yoga"},
	{keywords: []string{"strength", "weight", "functional"}, activity: "Strength Training"},
	{keywords: []string{"hiit", "interval"}, activity: "HIIT"},
	{keywords: []string{"elliptical"}, activity: "Elliptical"},
	{keywords: []string{"rowing", "rower"}, activity: "Rowing"},
	{keywords: []string{"stair"}, activity: "Stair Climbing"},
	{keywords: []string{"sauna"}, activity: "Sauna"},
}

// NormalizeActivity maps a free-text workout name to a canonical activity.
// The second return is false when no group matched and the name was only
// title-cased.
func NormalizeActivity(name string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(name))
	for _, g := range activityGroups {
		for _, kw := range g.keywords {
			if strings.Contains(lower, kw) {
				return g.activity, true
			}
		}
	}
	// Casers are stateful and must not be shared between requests.
	return cases.Title(language.Und).String(strings.TrimSpace(name)), false
}
