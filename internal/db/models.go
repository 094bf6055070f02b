package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Sample is a canonical measurement. Its natural key is
// (UserID, MetricType, Source, RecordedAt).
type Sample struct {
	UserID     uuid.UUID
	MetricType string
	Source     string
	Value      float64
	Unit       string
	RecordedAt time.Time
}

// SeriesKey identifies one (metric_type, source) series for watermarking.
type SeriesKey struct {
	MetricType string
	Source     string
}

// Key returns the sample's series key.
func (s Sample) Key() SeriesKey {
	return SeriesKey{MetricType: s.MetricType, Source: s.Source}
}

// RawExport is an archived inbound payload, kept for replay and debugging.
type RawExport struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Workout is a discrete workout keyed by its device-assigned id.
type Workout struct {
	ID             string
	UserID         uuid.UUID
	ActivityType   string
	ActivityRaw    string
	DurationMin    int
	CaloriesBurned *int
	DistanceMi     *float64
	AvgHeartRate   *int
	MaxHeartRate   *int
	StartTime      time.Time
	EndTime        time.Time
	WorkoutDate    string
	Location       *string
	TemperatureF   *float64
	HumidityPct    *int
}

// WorkoutHeartRate is one sampled interval of heart rate within a workout.
type WorkoutHeartRate struct {
	WorkoutID  string
	UserID     uuid.UUID
	RecordedAt time.Time
	AvgHR      int
	MinHR      *int
	MaxHR      *int
}
