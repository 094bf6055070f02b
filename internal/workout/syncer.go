// Package workout syncs discrete workouts and their heart-rate series.
package workout

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/septivank/health-sync-worker/internal/db"
	"github.com/septivank/health-sync-worker/internal/export"
	"github.com/septivank/health-sync-worker/internal/observability"
	"github.com/septivank/health-sync-worker/internal/source"
	"github.com/septivank/health-sync-worker/tools/timeparser"
)

const (
	kmToMiles = 0.621371

	// Whole workouts.
	SkipMissingID        = "missing_workout_id"
	SkipInvalidTimestamp = "invalid_timestamp"

	// Heart-rate detail rows.
	SkipMissingAvgHR       = "missing_avg_hr"
	SkipInvalidHRTimestamp = "invalid_hr_timestamp"
)

// Store persists workouts and replaces their heart-rate detail.
type Store interface {
	UpsertWorkout(ctx context.Context, w *db.Workout) error
	ReplaceWorkoutHeartRate(ctx context.Context, workoutID string, rows []db.WorkoutHeartRate) error
}

// Summary is the per-workout line reported back to the exporter.
type Summary struct {
	Activity    string `json:"activity"`
	Date        string `json:"date"`
	DurationMin int    `json:"duration_min"`
	Calories    *int   `json:"calories"`
}

// Result reports one sync pass.
type Result struct {
	Processed      int
	Skipped        map[string]int
	HRRecords      int
	Workouts       []Summary
	UnknownSources map[string]int
}

// WorkoutsSkipped counts whole workouts that were not stored. Skipped
// heart-rate rows are not included.
func (r Result) WorkoutsSkipped() int {
	return r.Skipped[SkipMissingID] + r.Skipped[SkipInvalidTimestamp]
}

// Syncer converts exported workouts into stored rows.
type Syncer struct {
	store      Store
	normalizer *source.Normalizer
	logger     *zap.Logger
}

// NewSyncer creates a workout syncer.
func NewSyncer(store Store, normalizer *source.Normalizer, logger *zap.Logger) *Syncer {
	return &Syncer{store: store, normalizer: normalizer, logger: logger}
}

// Sync upserts every workout bearing an id, then replaces its heart-rate
// detail when the export carries a series. Workouts without an id are
// skipped since they cannot be deduplicated. Storage errors abort.
func (s *Syncer) Sync(ctx context.Context, userID uuid.UUID, workouts []export.Workout) (Result, error) {
	result := Result{
		Skipped:        make(map[string]int),
		UnknownSources: make(map[string]int),
		Workouts:       make([]Summary, 0, len(workouts)),
	}

	for _, in := range workouts {
		if strings.TrimSpace(in.ID) == "" {
			s.logger.Info("skipping workout without id", zap.String("name", in.Name))
			result.Skipped[SkipMissingID]++
			continue
		}

		w, err := s.convert(userID, in)
		if err != nil {
			s.logger.Info("skipping workout with unparseable times",
				zap.String("workout_id", in.ID),
				zap.Error(err),
			)
			result.Skipped[SkipInvalidTimestamp]++
			continue
		}

		if err := s.store.UpsertWorkout(ctx, w); err != nil {
			return result, err
		}
		result.Processed++
		observability.RecordWorkoutSynced(w.ActivityType)
		result.Workouts = append(result.Workouts, Summary{
			Activity:    w.ActivityType,
			Date:        w.WorkoutDate,
			DurationMin: w.DurationMin,
			Calories:    w.CaloriesBurned,
		})

		if len(in.HeartRateData) == 0 {
			continue
		}

		rows := s.heartRateRows(userID, in, &result)
		if err := s.store.ReplaceWorkoutHeartRate(ctx, w.ID, rows); err != nil {
			return result, err
		}
		result.HRRecords += len(rows)
	}

	return result, nil
}

func (s *Syncer) convert(userID uuid.UUID, in export.Workout) (*db.Workout, error) {
	start, err := timeparser.ParseExportTimestamp(in.Start)
	if err != nil {
		return nil, fmt.Errorf("failed to parse start: %w", err)
	}
	end, err := timeparser.ParseExportTimestamp(in.End)
	if err != nil {
		return nil, fmt.Errorf("failed to parse end: %w", err)
	}
	workoutDate, err := timeparser.LocalDate(in.Start)
	if err != nil {
		return nil, err
	}

	activity, matched := NormalizeActivity(in.Name)
	if !matched {
		s.logger.Warn("unrecognized workout activity",
			zap.String("workout_id", in.ID),
			zap.String("activity", in.Name),
		)
	}

	w := &db.Workout{
		ID:           in.ID,
		UserID:       userID,
		ActivityType: activity,
		ActivityRaw:  in.Name,
		StartTime:    start.UTC(),
		EndTime:      end.UTC(),
		WorkoutDate:  workoutDate,
	}

	if seconds, ok := in.Duration.Float(); ok && seconds > 0 {
		w.DurationMin = int(math.Round(seconds / 60))
	}
	if q := nonZeroQty(in.ActiveEnergyBurned); q != nil {
		w.CaloriesBurned = intPtr(math.Round(*q))
	}
	if q := nonZeroQty(in.Distance); q != nil {
		miles := *q
		if in.Distance.Units == "km" {
			miles *= kmToMiles
		}
		w.DistanceMi = floatPtr(roundTo(miles, 2))
	}
	if q := nonZeroQty(in.Temperature); q != nil {
		f := *q
		if in.Temperature.Units == "degC" {
			f = f*9/5 + 32
		}
		w.TemperatureF = floatPtr(roundTo(f, 1))
	}
	if q := nonZeroQty(in.Humidity); q != nil {
		w.HumidityPct = intPtr(math.Round(*q))
	}
	if loc := strings.TrimSpace(in.Location); loc != "" {
		w.Location = &loc
	}

	w.AvgHeartRate, w.MaxHeartRate = heartRateStats(in.HeartRateData)
	return w, nil
}

// heartRateStats returns the rounded mean of positive interval averages and
// the rounded maximum of interval maxima.
func heartRateStats(points []export.HeartRatePoint) (*int, *int) {
	var total, maxHR float64
	count := 0
	for _, p := range points {
		if avg, ok := p.Avg.Float(); ok && avg > 0 {
			total += avg
			count++
		}
		if m, ok := p.Max.Float(); ok && m > maxHR {
			maxHR = m
		}
	}

	var avgOut, maxOut *int
	if count > 0 {
		avgOut = intPtr(math.Round(total / float64(count)))
	}
	if maxHR > 0 {
		maxOut = intPtr(math.Round(maxHR))
	}
	return avgOut, maxOut
}

// heartRateRows builds detail rows, one per recorded timestamp. Rows without
// an average are dropped; a later point for the same timestamp wins.
func (s *Syncer) heartRateRows(userID uuid.UUID, in export.Workout, result *Result) []db.WorkoutHeartRate {
	byTime := make(map[int64]db.WorkoutHeartRate, len(in.HeartRateData))
	for _, p := range in.HeartRateData {
		if p.Source != "" {
			if norm := s.normalizer.Normalize(p.Source); !norm.Recognized {
				result.UnknownSources[norm.Label]++
			}
		}

		avg, ok := p.Avg.Float()
		if !ok || avg <= 0 {
			result.Skipped[SkipMissingAvgHR]++
			continue
		}
		at, err := timeparser.ParseExportTimestamp(p.Date)
		if err != nil {
			result.Skipped[SkipInvalidHRTimestamp]++
			continue
		}
		at = at.UTC()

		row := db.WorkoutHeartRate{
			WorkoutID:  in.ID,
			UserID:     userID,
			RecordedAt: at,
			AvgHR:      int(math.Round(avg)),
		}
		if v, ok := p.Min.Float(); ok && v > 0 {
			row.MinHR = intPtr(math.Round(v))
		}
		if v, ok := p.Max.Float(); ok && v > 0 {
			row.MaxHR = intPtr(math.Round(v))
		}
		byTime[at.UnixNano()] = row
	}

	rows := make([]db.WorkoutHeartRate, 0, len(byTime))
	for _, row := range byTime {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].RecordedAt.Before(rows[j].RecordedAt)
	})
	return rows
}

func nonZeroQty(q *export.Quantity) *float64 {
	if q == nil {
		return nil
	}
	v, ok := q.Qty.Float()
	if !ok || v == 0 {
		return nil
	}
	return &v
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func intPtr(v float64) *int {
	i := int(v)
	return &i
}

func floatPtr(v float64) *float64 {
	return &v
}
