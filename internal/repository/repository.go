package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/septivank/health-sync-worker/internal/db"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Repository handles database operations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertSamples writes one sub-batch of samples in a single statement.
// A conflicting natural key has its value, unit and timestamp replaced.
// Callers must not pass two samples with the same natural key.
func (r *Repository) UpsertSamples(ctx context.Context, samples []db.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	query := `
		INSERT INTO health_samples (user_id, metric_type, source, value, unit, recorded_at)
		SELECT * FROM unnest($1::uuid[], $2::text[], $3::text[], $4::float8[], $5::text[], $6::timestamptz[])
		ON CONFLICT (user_id, metric_type, source, recorded_at)
		DO UPDATE SET value = EXCLUDED.value,
		              unit = EXCLUDED.unit,
		              recorded_at = EXCLUDED.recorded_at,
		              updated_at = now()
	`

	users := make([]string, len(samples))
	metrics := make([]string, len(samples))
	sources := make([]string, len(samples))
	values := make([]float64, len(samples))
	units := make([]string, len(samples))
	recordedAt := make([]time.Time, len(samples))
	for i, s := range samples {
		users[i] = s.UserID.String()
		metrics[i] = s.MetricType
		sources[i] = s.Source
		values[i] = s.Value
		units[i] = s.Unit
		recordedAt[i] = s.RecordedAt
	}

	if _, err := r.pool.Exec(ctx, query, users, metrics, sources, values, units, recordedAt); err != nil {
		return fmt.Errorf("failed to upsert samples: %w", err)
	}
	return nil
}

// LatestRecordedAt returns the newest stored recorded_at per (metric_type, source)
// for the user, looking no further back than since.
func (r *Repository) LatestRecordedAt(ctx context.Context, userID uuid.UUID, since time.Time) (map[db.SeriesKey]time.Time, error) {
	query := `
		SELECT metric_type, source, max(recorded_at)
		FROM health_samples
		WHERE user_id = $1 AND recorded_at >= $2
		GROUP BY metric_type, source
	`

	rows, err := r.pool.Query(ctx, query, userID.String(), since)
	if err != nil {
		return nil, fmt.Errorf("failed to query watermarks: %w", err)
	}
	defer rows.Close()

	watermarks := make(map[db.SeriesKey]time.Time)
	for rows.Next() {
		var key db.SeriesKey
		var latest time.Time
		if err := rows.Scan(&key.MetricType, &key.Source, &latest); err != nil {
			return nil, fmt.Errorf("failed to scan watermark: %w", err)
		}
		watermarks[key] = latest
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return watermarks, nil
}

// InsertRawExport archives an inbound payload
func (r *Repository) InsertRawExport(ctx context.Context, export *db.RawExport) error {
	query := `
		INSERT INTO raw_health_exports (id, user_id, payload, received_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.pool.Exec(ctx, query,
		export.ID.String(),
		export.UserID.String(),
		[]byte(export.Payload),
		export.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert raw export: %w", err)
	}

	return nil
}

// GetRawExport loads an archived payload by id
func (r *Repository) GetRawExport(ctx context.Context, id uuid.UUID) (*db.RawExport, error) {
	query := `
		SELECT id::text, user_id::text, payload, received_at
		FROM raw_health_exports
		WHERE id = $1
	`

	var (
		export        db.RawExport
		rawID, rawUID string
		payload       []byte
	)
	err := r.pool.QueryRow(ctx, query, id.String()).Scan(&rawID, &rawUID, &payload, &export.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("raw export %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query raw export: %w", err)
	}

	if export.ID, err = uuid.Parse(rawID); err != nil {
		return nil, fmt.Errorf("failed to parse raw export id: %w", err)
	}
	if export.UserID, err = uuid.Parse(rawUID); err != nil {
		return nil, fmt.Errorf("failed to parse raw export user id: %w", err)
	}
	export.Payload = payload

	return &export, nil
}

// DeleteRawExportsBefore prunes archived payloads received before cutoff
func (r *Repository) DeleteRawExportsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM raw_health_exports WHERE received_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune raw exports: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UpsertWorkout writes a workout row keyed by its device-assigned id
func (r *Repository) UpsertWorkout(ctx context.Context, w *db.Workout) error {
	query := `
		INSERT INTO workouts (
			id, user_id, activity_type, activity_raw, duration_min, calories_burned,
			distance_mi, avg_heart_rate, max_heart_rate, start_time, end_time,
			workout_date, location, temperature_f, humidity_pct
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::date, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			activity_type = EXCLUDED.activity_type,
			activity_raw = EXCLUDED.activity_raw,
			duration_min = EXCLUDED.duration_min,
			calories_burned = EXCLUDED.calories_burned,
			distance_mi = EXCLUDED.distance_mi,
			avg_heart_rate = EXCLUDED.avg_heart_rate,
			max_heart_rate = EXCLUDED.max_heart_rate,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			workout_date = EXCLUDED.workout_date,
			location = EXCLUDED.location,
			temperature_f = EXCLUDED.temperature_f,
			humidity_pct = EXCLUDED.humidity_pct,
			updated_at = now()
	`

	_, err := r.pool.Exec(ctx, query,
		w.ID,
		w.UserID.String(),
		w.ActivityType,
		w.ActivityRaw,
		w.DurationMin,
		w.CaloriesBurned,
		w.DistanceMi,
		w.AvgHeartRate,
		w.MaxHeartRate,
		w.StartTime,
		w.EndTime,
		w.WorkoutDate,
		w.Location,
		w.TemperatureF,
		w.HumidityPct,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert workout %s: %w", w.ID, err)
	}

	return nil
}

// ReplaceWorkoutHeartRate deletes every stored heart-rate row for the workout
// and inserts rows in one transaction.
func (r *Repository) ReplaceWorkoutHeartRate(ctx context.Context, workoutID string, rows []db.WorkoutHeartRate) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM workout_heart_rate WHERE workout_id = $1`, workoutID); err != nil {
		return fmt.Errorf("failed to delete heart rate rows for workout %s: %w", workoutID, err)
	}

	if len(rows) > 0 {
		query := `
			INSERT INTO workout_heart_rate (workout_id, user_id, recorded_at, avg_hr, min_hr, max_hr)
			SELECT * FROM unnest($1::text[], $2::uuid[], $3::timestamptz[], $4::int[], $5::int[], $6::int[])
		`

		workoutIDs := make([]string, len(rows))
		users := make([]string, len(rows))
		recordedAt := make([]time.Time, len(rows))
		avg := make([]int, len(rows))
		minHR := make([]*int, len(rows))
		maxHR := make([]*int, len(rows))
		for i, row := range rows {
			workoutIDs[i] = workoutID
			users[i] = row.UserID.String()
			recordedAt[i] = row.RecordedAt
			avg[i] = row.AvgHR
			minHR[i] = row.MinHR
			maxHR[i] = row.MaxHR
		}

		if _, err := tx.Exec(ctx, query, workoutIDs, users, recordedAt, avg, minHR, maxHR); err != nil {
			return fmt.Errorf("failed to insert heart rate rows for workout %s: %w", workoutID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit heart rate replace: %w", err)
	}
	return nil
}

// FlagUnrecognizedSources records source labels no classification matched
func (r *Repository) FlagUnrecognizedSources(ctx context.Context, occurrences map[string]int) error {
	if len(occurrences) == 0 {
		return nil
	}

	query := `
		INSERT INTO source_review_queue (label, occurrences)
		SELECT * FROM unnest($1::text[], $2::bigint[])
		ON CONFLICT (label) DO UPDATE SET
			last_seen_at = now(),
			occurrences = source_review_queue.occurrences + EXCLUDED.occurrences
	`

	labels := make([]string, 0, len(occurrences))
	counts := make([]int64, 0, len(occurrences))
	for label, n := range occurrences {
		labels = append(labels, label)
		counts = append(counts, int64(n))
	}

	if _, err := r.pool.Exec(ctx, query, labels, counts); err != nil {
		return fmt.Errorf("failed to flag unrecognized sources: %w", err)
	}
	return nil
}
