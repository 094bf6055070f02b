// Package export declares the JSON shapes sent by health exporter apps.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Payload is the top-level request body. Workouts may arrive under data
// or at the top level depending on exporter version.
type Payload struct {
	Data     Data      `json:"data"`
	Workouts []Workout `json:"workouts,omitempty"`
}

// Data carries the exported collections.
type Data struct {
	Metrics  []Metric  `json:"metrics,omitempty"`
	Workouts []Workout `json:"workouts,omitempty"`
}

// AllWorkouts returns data.workouts, falling back to top-level workouts.
func (p Payload) AllWorkouts() []Workout {
	if len(p.Data.Workouts) > 0 {
		return p.Data.Workouts
	}
	return p.Workouts
}

// Metric is one named series of samples.
type Metric struct {
	Name  string         `json:"name"`
	Units string         `json:"units"`
	Data  []MetricSample `json:"data"`
}

// MetricSample is a single exported sample. Exporters vary in which
// timestamp and value fields they populate.
type MetricSample struct {
	Date       string `json:"date,omitempty"`
	StartDate  string `json:"startDate,omitempty"`
	RecordedAt string `json:"recorded_at,omitempty"`
	Qty        Number `json:"qty"`
	Sum        Number `json:"sum"`
	Avg        Number `json:"Avg"`
	Min        Number `json:"Min"`
	Max        Number `json:"Max"`
	// Value is numeric for most metrics and a stage name for sleep analysis.
	Value  Number `json:"value"`
	Source string `json:"source,omitempty"`
}

// Timestamp returns the first populated timestamp field.
func (s MetricSample) Timestamp() string {
	for _, v := range []string{s.Date, s.StartDate, s.RecordedAt} {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Quantity is a value with units, e.g. {"qty": 5.2, "units": "km"}.
type Quantity struct {
	Qty   Number `json:"qty"`
	Units string `json:"units"`
}

// HeartRatePoint is one interval of a workout's heart-rate series.
type HeartRatePoint struct {
	Date   string `json:"date"`
	Avg    Number `json:"Avg"`
	Min    Number `json:"Min"`
	Max    Number `json:"Max"`
	Source string `json:"source,omitempty"`
}

// Workout is one exported workout.
type Workout struct {
	ID                 string           `json:"id"`
	Name               string           `json:"name"`
	Start              string           `json:"start"`
	End                string           `json:"end"`
	Duration           Number           `json:"duration"`
	ActiveEnergyBurned *Quantity        `json:"activeEnergyBurned,omitempty"`
	Distance           *Quantity        `json:"distance,omitempty"`
	HeartRateData      []HeartRatePoint `json:"heartRateData,omitempty"`
	Temperature        *Quantity        `json:"temperature,omitempty"`
	Humidity           *Quantity        `json:"humidity,omitempty"`
	Location           string           `json:"location,omitempty"`
}

// Number is a JSON value that may be a number, a numeric string, a
// non-numeric string, or absent.
type Number struct {
	raw string
	set bool
}

// NumberOf builds a Number from a float, for tests and fixtures.
func NumberOf(v float64) Number {
	return Number{raw: strconv.FormatFloat(v, 'f', -1, 64), set: true}
}

// UnmarshalJSON accepts numbers, strings and null.
func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = Number{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = Number{raw: s, set: true}
		return nil
	}
	if b[0] == '{' || b[0] == '[' {
		return fmt.Errorf("expected number or string, got %s", string(b))
	}
	*n = Number{raw: string(b), set: true}
	return nil
}

// MarshalJSON writes numbers as numbers and anything else as a string.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.set {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseFloat(n.raw, 64); err == nil {
		return []byte(n.raw), nil
	}
	return json.Marshal(n.raw)
}

// IsSet reports whether the field was present and non-null.
func (n Number) IsSet() bool {
	return n.set
}

// String returns the raw text of the value.
func (n Number) String() string {
	return n.raw
}

// Float parses the value as a finite float64. NaN and infinities are
// reported as non-numeric.
func (n Number) Float() (float64, bool) {
	if !n.set {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(n.raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// FirstFloat returns the first field that parses as a number.
func FirstFloat(candidates ...Number) (float64, bool) {
	for _, c := range candidates {
		if v, ok := c.Float(); ok {
			return v, true
		}
	}
	return 0, false
}
