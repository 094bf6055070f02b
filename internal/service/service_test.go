package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/septivank/health-sync-worker/internal/archive"
	"github.com/septivank/health-sync-worker/internal/db"
	"github.com/septivank/health-sync-worker/internal/metric"
	"github.com/septivank/health-sync-worker/internal/mq"
	"github.com/septivank/health-sync-worker/internal/source"
	"github.com/septivank/health-sync-worker/internal/validator"
	"github.com/septivank/health-sync-worker/internal/watermark"
	"github.com/septivank/health-sync-worker/internal/workout"
	"github.com/septivank/health-sync-worker/internal/writer"
)

// testLookback reaches far enough back that fixture dates always fall
// inside the watermark window.
const testLookback = 50 * 365 * 24 * time.Hour

type sampleKey struct {
	userID     uuid.UUID
	metricType string
	source     string
	at         int64
}

// memStore emulates the repository with natural-key upsert semantics.
type memStore struct {
	samples   map[sampleKey]db.Sample
	raw       []*db.RawExport
	workouts  map[string]db.Workout
	heartRate map[string][]db.WorkoutHeartRate
	flagged   map[string]int

	upsertCalls  int
	upsertErr    error
	watermarkErr error
	archiveErr   error
	sweeps       int
}

func newMemStore() *memStore {
	return &memStore{
		samples:   make(map[sampleKey]db.Sample),
		workouts:  make(map[string]db.Workout),
		heartRate: make(map[string][]db.WorkoutHeartRate),
		flagged:   make(map[string]int),
	}
}

func (m *memStore) UpsertSamples(_ context.Context, samples []db.Sample) error {
	m.upsertCalls++
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for _, s := range samples {
		m.samples[sampleKey{s.UserID, s.MetricType, s.Source, s.RecordedAt.UnixNano()}] = s
	}
	return nil
}

func (m *memStore) LatestRecordedAt(_ context.Context, userID uuid.UUID, since time.Time) (map[db.SeriesKey]time.Time, error) {
	if m.watermarkErr != nil {
		return nil, m.watermarkErr
	}
	out := make(map[db.SeriesKey]time.Time)
	for k, s := range m.samples {
		if k.userID != userID || s.RecordedAt.Before(since) {
			continue
		}
		if cur, ok := out[s.Key()]; !ok || s.RecordedAt.After(cur) {
			out[s.Key()] = s.RecordedAt
		}
	}
	return out, nil
}

func (m *memStore) InsertRawExport(_ context.Context, export *db.RawExport) error {
	if m.archiveErr != nil {
		return m.archiveErr
	}
	m.raw = append(m.raw, export)
	return nil
}

func (m *memStore) DeleteRawExportsBefore(_ context.Context, _ time.Time) (int64, error) {
	m.sweeps++
	return 0, nil
}

func (m *memStore) UpsertWorkout(_ context.Context, w *db.Workout) error {
	m.workouts[w.ID] = *w
	return nil
}

func (m *memStore) ReplaceWorkoutHeartRate(_ context.Context, workoutID string, rows []db.WorkoutHeartRate) error {
	m.heartRate[workoutID] = rows
	return nil
}

func (m *memStore) FlagUnrecognizedSources(_ context.Context, occurrences map[string]int) error {
	for label, n := range occurrences {
		m.flagged[label] += n
	}
	return nil
}

// sorted returns stored samples in a stable order for comparison.
func (m *memStore) sorted() []db.Sample {
	out := make([]db.Sample, 0, len(m.samples))
	for _, s := range m.samples {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MetricType != out[j].MetricType {
			return out[i].MetricType < out[j].MetricType
		}
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out
}

type recordingPublisher struct {
	events []mq.SyncCompletedEvent
	err    error
}

func (p *recordingPublisher) PublishSyncCompleted(_ context.Context, event mq.SyncCompletedEvent) error {
	p.events = append(p.events, event)
	return p.err
}

var ownerID = uuid.MustParse("cac3a2da-0baa-491e-bf0d-01a2740b50eb")

func newTestService(store *memStore, publisher EventPublisher) *SyncService {
	logger := zap.NewNop()
	normalizer := source.NewNormalizer(logger)
	return NewSyncService(
		Options{OwnerUserID: ownerID, DailyStepsSource: source.AppleWatch},
		archive.NewArchivist(store, 48*time.Hour, logger),
		normalizer,
		metric.NewCanonicalizer(metric.DefaultRules),
		validator.NewValidator(),
		watermark.NewDeduplicator(store, testLookback, logger),
		writer.NewWriter(store, 2, logger),
		workout.NewSyncer(store, normalizer, logger),
		store,
		publisher,
		logger,
	)
}

func find(t *testing.T, store *memStore, metricType, src string, at time.Time) db.Sample {
	t.Helper()
	s, ok := store.samples[sampleKey{ownerID, metricType, src, at.UnixNano()}]
	require.True(t, ok, "no sample %s/%s at %s", metricType, src, at)
	return s
}

const metricsPayload = `{"data":{"metrics":[
	{"name":"heart_rate","units":"count/min","data":[
		{"date":"2025-12-18 06:00:00 -0600","Avg":60,"source":"Jeffrey's Apple Watch"},
		{"date":"2025-12-18 06:00:00 -0600","Avg":70,"source":"Jeffrey's Apple Watch|DrZ iPhone"},
		{"date":"2025-12-18 06:05:00 -0600","Avg":55,"source":"Eight Sleep Pod"}
	]},
	{"name":"step_count","units":"count","data":[
		{"date":"2025-12-18 06:01:10 -0600","qty":0.4,"source":"Jeffrey's Apple Watch"},
		{"date":"2025-12-18 06:01:50 -0600","qty":0.8,"source":"Jeffrey's Apple Watch"},
		{"date":"2025-12-18 06:01:20 -0600","qty":12,"source":"DrZ iPhone 17 Pro"}
	]},
	{"name":"sleep_analysis","units":"hr","data":[
		{"date":"2025-12-18 02:00:00 -0600","qty":0.5,"value":"Deep","source":"Eight Sleep"},
		{"date":"2025-12-18 02:00:00 -0600","qty":0.25,"value":"Deep","source":"Eight Sleep"}
	]},
	{"name":"blood_glucose","units":"mg/dL","data":[
		{"date":"2025-12-18 07:00:00 -0600","qty":98,"source":"Libre 3"},
		{"qty":101,"source":"Libre 3"},
		{"date":"2025-12-18 07:10:00 -0600","value":"HI","source":"Libre 3"}
	]}
]}}`

func TestSyncMetrics_CanonicalizesAndAggregates(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil)

	resp, err := svc.SyncMetrics(context.Background(), "req-1", []byte(metricsPayload))
	require.NoError(t, err)

	assert.Equal(t, 11, resp.SamplesReceived)
	// missing timestamp, non-numeric value, iPhone steps
	assert.Equal(t, 3, resp.SamplesSkipped)
	assert.Equal(t, 5, resp.SummariesSynced)
	assert.NotEmpty(t, resp.RawExportID)

	sixAM := time.Date(2025, 12, 18, 12, 0, 0, 0, time.UTC)

	hr := find(t, store, metric.HeartRate, source.AppleWatch, sixAM)
	assert.Equal(t, 65.0, hr.Value, "duplicate heart rate readings are averaged")
	assert.Equal(t, "count/min", hr.Unit)

	resting := find(t, store, metric.RestingHeartRate, source.EightSleep, sixAM.Add(5*time.Minute))
	assert.Equal(t, 55.0, resting.Value)

	steps := find(t, store, metric.StepCount, source.AppleWatch, sixAM.Add(time.Minute))
	assert.InDelta(t, 1.2, steps.Value, 1e-9, "steps within one minute are summed")

	sleep := find(t, store, "sleep_deep", source.EightSleep, sixAM.Add(-4*time.Hour))
	assert.Equal(t, 0.75, sleep.Value)

	glucose := find(t, store, "blood_glucose", "Libre 3", sixAM.Add(time.Hour))
	assert.Equal(t, 98.0, glucose.Value, "unrecognized source is stored verbatim")
	assert.Equal(t, 1, store.flagged["Libre 3"])

	for _, s := range store.samples {
		assert.NotEqual(t, source.IPhone, s.Source)
		assert.Equal(t, ownerID, s.UserID)
	}

	require.Len(t, store.raw, 1)
	var envelope archive.Envelope
	require.NoError(t, json.Unmarshal(store.raw[0].Payload, &envelope))
	assert.Equal(t, PipelineHealthSync, envelope.Source)
	assert.Equal(t, 1, store.sweeps)
}

func TestSyncMetrics_Idempotent(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil)

	_, err := svc.SyncMetrics(context.Background(), "req-1", []byte(metricsPayload))
	require.NoError(t, err)
	first := store.sorted()

	resp, err := svc.SyncMetrics(context.Background(), "req-2", []byte(metricsPayload))
	require.NoError(t, err)

	assert.Equal(t, first, store.sorted())
	assert.Equal(t, 0, resp.SummariesSynced)
	assert.Equal(t, 5, resp.SamplesDeduplicated)
}

func TestSyncMetrics_WatermarkFailOpen(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil)

	_, err := svc.SyncMetrics(context.Background(), "req-1", []byte(metricsPayload))
	require.NoError(t, err)

	store.watermarkErr = errors.New("statement timeout")
	resp, err := svc.SyncMetrics(context.Background(), "req-2", []byte(metricsPayload))
	require.NoError(t, err)

	assert.Equal(t, 5, resp.SummariesSynced, "every sample is rewritten when watermarks are unavailable")
	assert.Len(t, store.samples, 5, "upsert keeps one row per natural key")
}

func TestSyncMetrics_UpsertFailureAborts(t *testing.T) {
	store := newMemStore()
	store.upsertErr = errors.New("connection refused")
	publisher := &recordingPublisher{}
	svc := newTestService(store, publisher)

	_, err := svc.SyncMetrics(context.Background(), "req-1", []byte(metricsPayload))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 1, store.upsertCalls, "first failing sub-batch stops the write")
	assert.Empty(t, publisher.events)
	assert.Equal(t, 0, store.sweeps)
}

func TestSyncMetrics_ArchiveFailureIgnored(t *testing.T) {
	store := newMemStore()
	store.archiveErr = errors.New("disk full")
	svc := newTestService(store, nil)

	resp, err := svc.SyncMetrics(context.Background(), "req-1", []byte(metricsPayload))
	require.NoError(t, err)
	assert.Empty(t, resp.RawExportID)
	assert.Equal(t, 5, resp.SummariesSynced)
}

func TestSyncMetrics_MalformedPayload(t *testing.T) {
	svc := newTestService(newMemStore(), nil)

	_, err := svc.SyncMetrics(context.Background(), "req-1", []byte(`{"data":`))
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestSyncMetrics_NoData(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil)

	resp, err := svc.SyncMetrics(context.Background(), "req-1", []byte(`{"data":{"metrics":[]}}`))
	require.NoError(t, err)
	assert.Equal(t, "No data to sync", resp.Message)
	assert.Equal(t, 0, store.upsertCalls)
}

func TestSyncMetrics_NonFiniteValuesSkipped(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil)

	body := `{"data":{"metrics":[{"name":"heart_rate","units":"count/min","data":[
		{"date":"2025-12-18 06:00:00 -0600","qty":60,"source":"Apple Watch"},
		{"date":"2025-12-18 06:00:00 -0600","qty":"NaN","source":"Apple Watch"},
		{"date":"2025-12-18 06:00:00 -0600","qty":"Infinity","source":"Apple Watch"}
	]}]}}`

	resp, err := svc.SyncMetrics(context.Background(), "req-1", []byte(body))
	require.NoError(t, err)

	assert.Equal(t, 2, resp.SamplesSkipped)
	assert.Equal(t, 1, resp.SummariesSynced)
	hr := find(t, store, metric.HeartRate, source.AppleWatch, time.Date(2025, 12, 18, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, 60.0, hr.Value)
}

func TestSyncMetrics_PublishesEvent(t *testing.T) {
	store := newMemStore()
	publisher := &recordingPublisher{err: errors.New("channel closed")}
	svc := newTestService(store, publisher)

	_, err := svc.SyncMetrics(context.Background(), "req-7", []byte(metricsPayload))
	require.NoError(t, err, "publish failures never fail the sync")

	require.Len(t, publisher.events, 1)
	event := publisher.events[0]
	assert.Equal(t, PipelineHealthSync, event.Pipeline)
	assert.Equal(t, "req-7", event.RequestID)
	assert.Equal(t, ownerID.String(), event.UserID)
	assert.Equal(t, 11, event.Received)
	assert.Equal(t, 5, event.Written)
}

const stepsPayload = `{"data":{"metrics":[
	{"name":"step_count","units":"count","data":[
		{"date":"2025-12-18 22:00:00 -0600","qty":400.4},
		{"date":"2025-12-18 23:00:00 -0600","qty":100.3},
		{"date":"2025-12-19 00:00:00 -0600","sum":50},
		{"date":"2025-12-19 01:00:00 -0600","qty":0},
		{"date":"2025-12-19 02:00:00 -0600","qty":30,"source":"DrZ iPhone"}
	]},
	{"name":"heart_rate","units":"count/min","data":[{"date":"2025-12-18 22:00:00 -0600","qty":60}]}
]}}`

func TestSyncDailySteps_RollsUpByLocalDate(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil)

	resp, err := svc.SyncDailySteps(context.Background(), "req-1", []byte(stepsPayload))
	require.NoError(t, err)

	assert.Equal(t, 2, resp.DaysProcessed)
	assert.Equal(t, map[string]float64{"2025-12-18": 501, "2025-12-19": 50}, resp.DailyTotals)
	// zero count, iPhone steps, non-step metric
	assert.Equal(t, 3, resp.SamplesSkipped)

	day := find(t, store, metric.StepCount, source.AppleWatch, time.Date(2025, 12, 18, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, 501.0, day.Value)
	assert.Equal(t, "count", day.Unit)
}

func TestSyncDailySteps_NonFiniteValuesSkipped(t *testing.T) {
	svc := newTestService(newMemStore(), nil)

	body := `{"data":{"metrics":[{"name":"step_count","units":"count","data":[
		{"date":"2025-12-18 22:00:00 -0600","qty":400},
		{"date":"2025-12-18 23:00:00 -0600","qty":"Infinity"},
		{"date":"2025-12-18 23:30:00 -0600","sum":"NaN"}
	]}]}}`

	resp, err := svc.SyncDailySteps(context.Background(), "req-1", []byte(body))
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{"2025-12-18": 400}, resp.DailyTotals)
	assert.Equal(t, 2, resp.SamplesSkipped)
}

func TestSyncDailySteps_OpenDayKeepsUpdating(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil)

	_, err := svc.SyncDailySteps(context.Background(), "req-1", []byte(stepsPayload))
	require.NoError(t, err)

	later := `{"data":{"metrics":[{"name":"step_count","units":"count","data":[
		{"date":"2025-12-18 23:00:00 -0600","qty":900},
		{"date":"2025-12-19 00:00:00 -0600","qty":50},
		{"date":"2025-12-19 05:00:00 -0600","qty":250}
	]}]}}`
	resp, err := svc.SyncDailySteps(context.Background(), "req-2", []byte(later))
	require.NoError(t, err)

	assert.Equal(t, 1, resp.DaysProcessed)
	assert.Equal(t, 1, resp.SamplesDeduplicated, "closed days are not rewritten")

	closed := find(t, store, metric.StepCount, source.AppleWatch, time.Date(2025, 12, 18, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, 501.0, closed.Value)
	open := find(t, store, metric.StepCount, source.AppleWatch, time.Date(2025, 12, 19, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, 300.0, open.Value)
}

func TestSyncWorkouts(t *testing.T) {
	store := newMemStore()
	publisher := &recordingPublisher{}
	svc := newTestService(store, publisher)

	body := `{"data":{"workouts":[
		{"id":"W-1","name":"Outdoor Walk","start":"2025-12-23 19:57:00 -0600","end":"2025-12-23 20:27:00 -0600","duration":1800,
		 "heartRateData":[{"date":"2025-12-23 19:58:00 -0600","Avg":100,"source":"Garmin Fenix"},{"date":"garbage","Avg":90}]},
		{"name":"Yoga","start":"2025-12-23 07:00:00 -0600","end":"2025-12-23 07:30:00 -0600"}
	]}}`

	resp, err := svc.SyncWorkouts(context.Background(), "req-1", []byte(body))
	require.NoError(t, err)

	assert.Equal(t, 1, resp.WorkoutsProcessed)
	assert.Equal(t, 1, resp.WorkoutsSkipped, "skipped heart-rate rows are not skipped workouts")
	assert.Equal(t, 1, resp.HRRecordsStored)
	require.Len(t, resp.Workouts, 1)
	assert.Equal(t, "Walking", resp.Workouts[0].Activity)
	assert.Equal(t, "2025-12-23", resp.Workouts[0].Date)

	assert.Contains(t, store.workouts, "W-1")
	assert.Equal(t, 1, store.flagged["Garmin Fenix"])
	require.Len(t, publisher.events, 1)
	assert.Equal(t, PipelineWorkoutsSync, publisher.events[0].Pipeline)
}

func TestCapture(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil)

	resp, err := svc.Capture(context.Background(), "req-1", []byte(`{"anything":[1,2,3]}`))
	require.NoError(t, err)
	assert.True(t, resp.Received)
	require.Len(t, store.raw, 1)
	assert.JSONEq(t, `{"anything":[1,2,3]}`, string(store.raw[0].Payload))

	_, err = svc.Capture(context.Background(), "req-2", []byte(`not json`))
	require.ErrorIs(t, err, ErrMalformedPayload)

	store.archiveErr = errors.New("disk full")
	_, err = svc.Capture(context.Background(), "req-3", []byte(`{}`))
	require.Error(t, err)
}

func TestProcessMessage_Dispatches(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil)

	msg, err := json.Marshal(IngestMessage{
		RequestID: "mq-1",
		Pipeline:  PipelineStepsDaily,
		Payload:   json.RawMessage(stepsPayload),
	})
	require.NoError(t, err)

	require.NoError(t, svc.ProcessMessage(context.Background(), msg))
	assert.Len(t, store.samples, 2)

	err = svc.ProcessMessage(context.Background(), []byte(`{"pipeline":"unknown","payload":{}}`))
	require.ErrorIs(t, err, ErrUnknownPipeline)

	require.Error(t, svc.ProcessMessage(context.Background(), []byte(`[`)))
}

func TestReplay(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil)

	_, err := svc.SyncDailySteps(context.Background(), "req-1", []byte(stepsPayload))
	require.NoError(t, err)
	require.Len(t, store.raw, 1)

	archived := store.raw[0]
	store.samples = make(map[sampleKey]db.Sample)

	out, err := svc.Replay(context.Background(), archived, "")
	require.NoError(t, err)
	resp, ok := out.(*StepsResponse)
	require.True(t, ok)
	assert.Equal(t, 2, resp.DaysProcessed)
	assert.Len(t, store.raw, 1, "replays are not archived again")

	captured := &db.RawExport{ID: uuid.New(), Payload: json.RawMessage(stepsPayload)}
	_, err = svc.Replay(context.Background(), captured, "")
	require.ErrorIs(t, err, ErrUnknownPipeline)

	_, err = svc.Replay(context.Background(), captured, PipelineStepsDaily)
	require.NoError(t, err)
}

func TestUnwrapEnvelope(t *testing.T) {
	body, err := unwrapEnvelope(archive.Envelope{Source: PipelineStepsDaily, Data: json.RawMessage(`{"metrics":[]}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{"metrics":[]}}`, string(body))

	_, err = unwrapEnvelope(archive.Envelope{Source: PipelineStepsDaily, Data: json.RawMessage(`{"metrics":`)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to re-encode archived payload")
}
