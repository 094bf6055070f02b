package validator

import (
	"fmt"
	"strings"
	"time"

	"github.com/septivank/health-sync-worker/internal/export"
	"github.com/septivank/health-sync-worker/tools/timeparser"
)

// Skip reasons reported in metrics and logs.
const (
	ReasonEmptyName        = "empty_metric_name"
	ReasonMissingTimestamp = "missing_timestamp"
	ReasonInvalidTimestamp = "invalid_timestamp"
	ReasonNonNumeric       = "non_numeric_value"
	ReasonNonPositive      = "non_positive_value"
)

// ValidationResult holds validation outcome
type ValidationResult struct {
	IsValid    bool
	SkipReason string
	Detail     string
}

func invalid(reason, detail string) ValidationResult {
	return ValidationResult{SkipReason: reason, Detail: detail}
}

// Reading is a sample that passed validation.
type Reading struct {
	Value      float64
	RecordedAt time.Time
	// LocalDate is the date prefix of the raw timestamp.
	LocalDate string
	// Stage is the non-numeric value text, used by sleep analysis.
	Stage string
}

// Validator extracts timestamps and values from exported samples.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateMetricSample validates a single sample of a scalar metric.
// The value is taken from qty, then Avg, then a numeric value field.
func (v *Validator) ValidateMetricSample(name string, s export.MetricSample) (Reading, ValidationResult) {
	if strings.TrimSpace(name) == "" {
		return Reading{}, invalid(ReasonEmptyName, "metric has no name")
	}

	r, result := parseTimestamp(s)
	if !result.IsValid {
		return r, result
	}

	value, ok := export.FirstFloat(s.Qty, s.Avg, s.Value)
	if !ok {
		return r, invalid(ReasonNonNumeric, fmt.Sprintf("no numeric value in sample of %s", name))
	}
	r.Value = value

	if _, numeric := s.Value.Float(); s.Value.IsSet() && !numeric {
		r.Stage = s.Value.String()
	}
	return r, result
}

// ValidateHourlySteps validates one hourly step sample for daily rollup.
// The value is taken from qty, then sum, then value; non-positive counts
// are skipped.
func (v *Validator) ValidateHourlySteps(s export.MetricSample) (Reading, ValidationResult) {
	r, result := parseTimestamp(s)
	if !result.IsValid {
		return r, result
	}

	value, ok := export.FirstFloat(s.Qty, s.Sum, s.Value)
	if !ok {
		return r, invalid(ReasonNonNumeric, "no numeric step count")
	}
	if value <= 0 {
		return r, invalid(ReasonNonPositive, fmt.Sprintf("step count %v", value))
	}
	r.Value = value
	return r, result
}

func parseTimestamp(s export.MetricSample) (Reading, ValidationResult) {
	raw := s.Timestamp()
	if raw == "" {
		return Reading{}, invalid(ReasonMissingTimestamp, "sample has no date, startDate or recorded_at")
	}

	recordedAt, err := timeparser.ParseExportTimestamp(raw)
	if err != nil {
		return Reading{}, invalid(ReasonInvalidTimestamp, err.Error())
	}
	localDate, err := timeparser.LocalDate(raw)
	if err != nil {
		return Reading{}, invalid(ReasonInvalidTimestamp, err.Error())
	}

	return Reading{RecordedAt: recordedAt.UTC(), LocalDate: localDate}, ValidationResult{IsValid: true}
}
