// Package observability registers the prometheus counters exported on /metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	samplesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "health_sync",
		Subsystem: "pipeline",
		Name:      "samples_received_total",
		Help:      "Raw samples read from inbound payloads.",
	}, []string{"pipeline"})

	samplesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "health_sync",
		Subsystem: "pipeline",
		Name:      "samples_skipped_total",
		Help:      "Samples skipped before aggregation, grouped by reason.",
	}, []string{"pipeline", "reason"})

	samplesDeduplicated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "health_sync",
		Subsystem: "pipeline",
		Name:      "samples_deduplicated_total",
		Help:      "Bucketed samples suppressed by the stored watermark.",
	}, []string{"pipeline"})

	samplesWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "health_sync",
		Subsystem: "writer",
		Name:      "samples_upserted_total",
		Help:      "Canonical samples upserted.",
	}, []string{"pipeline"})

	watermarkFailOpen = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "health_sync",
		Subsystem: "watermark",
		Name:      "fail_open_total",
		Help:      "Syncs that proceeded without watermarks because loading them failed.",
	}, []string{"pipeline"})

	unrecognizedSources = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "health_sync",
		Subsystem: "source",
		Name:      "unrecognized_total",
		Help:      "Samples whose source label matched no classification.",
	}, []string{"pipeline"})

	archiveFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "health_sync",
		Subsystem: "archive",
		Name:      "failures_total",
		Help:      "Raw payload archive writes or retention sweeps that failed.",
	})

	workoutsSynced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "health_sync",
		Subsystem: "workouts",
		Name:      "synced_total",
		Help:      "Workouts upserted, grouped by canonical activity.",
	}, []string{"activity"})

	syncFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "health_sync",
		Subsystem: "pipeline",
		Name:      "failures_total",
		Help:      "Pipeline invocations that returned an error.",
	}, []string{"pipeline"})
)

func init() {
	prometheus.MustRegister(
		samplesReceived,
		samplesSkipped,
		samplesDeduplicated,
		samplesWritten,
		watermarkFailOpen,
		unrecognizedSources,
		archiveFailures,
		workoutsSynced,
		syncFailures,
	)
}

// RecordReceived counts raw samples read for a pipeline.
func RecordReceived(pipeline string, n int) {
	samplesReceived.WithLabelValues(pipeline).Add(float64(n))
}

// RecordSkipped counts samples skipped for a reason.
func RecordSkipped(pipeline, reason string, n int) {
	if n <= 0 {
		return
	}
	samplesSkipped.WithLabelValues(pipeline, reason).Add(float64(n))
}

// RecordDeduplicated counts samples suppressed by the watermark.
func RecordDeduplicated(pipeline string, n int) {
	samplesDeduplicated.WithLabelValues(pipeline).Add(float64(n))
}

// RecordWritten counts upserted samples.
func RecordWritten(pipeline string, n int) {
	samplesWritten.WithLabelValues(pipeline).Add(float64(n))
}

// RecordWatermarkFailOpen notes a sync that ran without watermarks.
func RecordWatermarkFailOpen(pipeline string) {
	watermarkFailOpen.WithLabelValues(pipeline).Inc()
}

// RecordUnrecognizedSource counts samples from unclassified sources.
func RecordUnrecognizedSource(pipeline string, n int) {
	unrecognizedSources.WithLabelValues(pipeline).Add(float64(n))
}

// RecordArchiveFailure counts a failed archive write or sweep.
func RecordArchiveFailure() {
	archiveFailures.Inc()
}

// RecordWorkoutSynced counts an upserted workout.
func RecordWorkoutSynced(activity string) {
	workoutsSynced.WithLabelValues(activity).Inc()
}

// RecordSyncFailure counts a failed pipeline run.
func RecordSyncFailure(pipeline string) {
	syncFailures.WithLabelValues(pipeline).Inc()
}
