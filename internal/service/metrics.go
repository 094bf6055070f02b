package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/septivank/health-sync-worker/internal/aggregate"
	"github.com/septivank/health-sync-worker/internal/db"
	"github.com/septivank/health-sync-worker/internal/metric"
	"github.com/septivank/health-sync-worker/internal/observability"
	"github.com/septivank/health-sync-worker/internal/source"
	"github.com/septivank/health-sync-worker/internal/watermark"
)

const (
	skipDroppedByRule = "dropped_by_rule"
	skipNotStepMetric = "not_step_metric"
	skipUnbucketable  = "unbucketable"
)

// MetricsResponse reports a scalar metrics sync
type MetricsResponse struct {
	Message             string `json:"message"`
	SamplesReceived     int    `json:"samples_received"`
	SamplesSkipped      int    `json:"samples_skipped"`
	SamplesDeduplicated int    `json:"samples_deduplicated"`
	SummariesSynced     int    `json:"summaries_synced"`
	RawExportID         string `json:"raw_export_id,omitempty"`
}

// SyncMetrics runs the scalar metrics pipeline over an export body.
func (s *SyncService) SyncMetrics(ctx context.Context, requestID string, body []byte) (*MetricsResponse, error) {
	return s.syncMetrics(ctx, requestID, body, runOptions{archive: true})
}

func (s *SyncService) syncMetrics(ctx context.Context, requestID string, body []byte, opts runOptions) (*MetricsResponse, error) {
	logger := s.requestLogger(requestID, PipelineHealthSync)

	payload, data, err := decodePayload(body)
	if err != nil {
		return nil, s.fail(logger, PipelineHealthSync, err)
	}

	resp := &MetricsResponse{}
	if opts.archive {
		resp.RawExportID = s.archiveTagged(ctx, PipelineHealthSync, data)
	}

	agg := aggregate.New(aggregate.ScalarPolicy)
	skipped := make(map[string]int)
	unknown := make(map[string]int)

	for _, m := range payload.Data.Metrics {
		observability.RecordReceived(PipelineHealthSync, len(m.Data))
		resp.SamplesReceived += len(m.Data)

		for _, sample := range m.Data {
			reading, result := s.validator.ValidateMetricSample(m.Name, sample)
			if !result.IsValid {
				skipped[result.SkipReason]++
				logger.Debug("skipping sample",
					zap.String("metric", m.Name),
					zap.String("reason", result.SkipReason),
					zap.String("detail", result.Detail),
				)
				continue
			}

			src := s.normalizer.Normalize(sample.Source)
			if !src.Recognized && src.Label != source.Unknown {
				unknown[src.Label]++
			}

			decision := s.canonicalizer.Canonicalize(m.Name, reading.Stage, src.Label)
			if !decision.Keep {
				skipped[skipDroppedByRule]++
				continue
			}

			err := agg.Add(aggregate.Reading{
				MetricType: decision.MetricType,
				Source:     decision.Source,
				Unit:       m.Units,
				Value:      reading.Value,
				RecordedAt: reading.RecordedAt,
				LocalDate:  reading.LocalDate,
			})
			if err != nil {
				skipped[skipUnbucketable]++
			}
		}
	}

	for reason, n := range skipped {
		observability.RecordSkipped(PipelineHealthSync, reason, n)
	}
	resp.SamplesSkipped = sumSkips(skipped)

	if agg.Len() == 0 {
		resp.Message = "No data to sync"
		logger.Info("no samples to sync", zap.Int("received", resp.SamplesReceived), zap.Int("skipped", resp.SamplesSkipped))
		return resp, nil
	}

	samples := s.toSamples(agg.Buckets())
	written, deduplicated, err := s.persist(ctx, logger, PipelineHealthSync, samples, watermark.Strict)
	resp.SamplesDeduplicated = deduplicated
	if err != nil {
		return nil, s.fail(logger, PipelineHealthSync, err)
	}
	resp.SummariesSynced = written
	resp.Message = "Data aggregated and synced successfully"

	logger.Info("metrics synced",
		zap.Int("received", resp.SamplesReceived),
		zap.Int("skipped", resp.SamplesSkipped),
		zap.Int("deduplicated", deduplicated),
		zap.Int("written", written),
	)

	s.epilogue(ctx, logger, requestID, PipelineHealthSync, unknown, counts{
		received:     resp.SamplesReceived,
		skipped:      resp.SamplesSkipped,
		deduplicated: deduplicated,
		written:      written,
	})
	return resp, nil
}

// StepsResponse reports a daily step rollup
type StepsResponse struct {
	Message             string             `json:"message"`
	DaysProcessed       int                `json:"days_processed"`
	SamplesSkipped      int                `json:"samples_skipped"`
	SamplesDeduplicated int                `json:"samples_deduplicated"`
	DailyTotals         map[string]float64 `json:"daily_totals"`
	RawExportID         string             `json:"raw_export_id,omitempty"`
}

// SyncDailySteps rolls hourly step samples up to local calendar days.
func (s *SyncService) SyncDailySteps(ctx context.Context, requestID string, body []byte) (*StepsResponse, error) {
	return s.syncDailySteps(ctx, requestID, body, runOptions{archive: true})
}

func (s *SyncService) syncDailySteps(ctx context.Context, requestID string, body []byte, opts runOptions) (*StepsResponse, error) {
	logger := s.requestLogger(requestID, PipelineStepsDaily)

	payload, data, err := decodePayload(body)
	if err != nil {
		return nil, s.fail(logger, PipelineStepsDaily, err)
	}

	resp := &StepsResponse{DailyTotals: make(map[string]float64)}
	if opts.archive {
		resp.RawExportID = s.archiveTagged(ctx, PipelineStepsDaily, data)
	}

	agg := aggregate.New(aggregate.DailyRollupPolicy)
	skipped := make(map[string]int)
	unknown := make(map[string]int)
	received := 0

	for _, m := range payload.Data.Metrics {
		observability.RecordReceived(PipelineStepsDaily, len(m.Data))
		received += len(m.Data)

		if !strings.Contains(strings.ToLower(m.Name), "step") {
			logger.Info("skipping non-step metric", zap.String("metric", m.Name))
			skipped[skipNotStepMetric] += len(m.Data)
			continue
		}

		for _, sample := range m.Data {
			reading, result := s.validator.ValidateHourlySteps(sample)
			if !result.IsValid {
				skipped[result.SkipReason]++
				continue
			}

			label := s.opts.DailyStepsSource
			if strings.TrimSpace(sample.Source) != "" {
				src := s.normalizer.Normalize(sample.Source)
				if !src.Recognized {
					unknown[src.Label]++
				}
				label = src.Label
			}

			decision := s.canonicalizer.Canonicalize(metric.StepCount, "", label)
			if !decision.Keep {
				skipped[skipDroppedByRule]++
				continue
			}

			err := agg.Add(aggregate.Reading{
				MetricType: decision.MetricType,
				Source:     decision.Source,
				Unit:       "count",
				Value:      reading.Value,
				RecordedAt: reading.RecordedAt,
				LocalDate:  reading.LocalDate,
			})
			if err != nil {
				skipped[skipUnbucketable]++
			}
		}
	}

	for reason, n := range skipped {
		observability.RecordSkipped(PipelineStepsDaily, reason, n)
	}
	resp.SamplesSkipped = sumSkips(skipped)

	buckets := agg.Buckets()
	for _, b := range buckets {
		resp.DailyTotals[b.RecordedAt.Format("2006-01-02")] += b.Value
	}

	if len(buckets) == 0 {
		resp.Message = "No step data to sync"
		return resp, nil
	}

	written, deduplicated, err := s.persist(ctx, logger, PipelineStepsDaily, s.toSamples(buckets), watermark.ReopenLatest)
	resp.SamplesDeduplicated = deduplicated
	if err != nil {
		return nil, s.fail(logger, PipelineStepsDaily, err)
	}
	resp.DaysProcessed = written
	resp.Message = "Steps daily sync successful."

	logger.Info("daily steps synced",
		zap.Int("days", len(buckets)),
		zap.Int("deduplicated", deduplicated),
		zap.Int("written", written),
	)

	s.epilogue(ctx, logger, requestID, PipelineStepsDaily, unknown, counts{
		received:     received,
		skipped:      resp.SamplesSkipped,
		deduplicated: deduplicated,
		written:      written,
	})
	return resp, nil
}

func (s *SyncService) toSamples(buckets []aggregate.Bucket) []db.Sample {
	samples := make([]db.Sample, 0, len(buckets))
	for _, b := range buckets {
		samples = append(samples, db.Sample{
			UserID:     s.opts.OwnerUserID,
			MetricType: b.MetricType,
			Source:     b.Source,
			Value:      b.Value,
			Unit:       b.Unit,
			RecordedAt: b.RecordedAt,
		})
	}
	return samples
}

// persist filters samples against stored watermarks and writes the rest.
func (s *SyncService) persist(ctx context.Context, logger *zap.Logger, pipeline string, samples []db.Sample, mode watermark.Mode) (int, int, error) {
	filtered := s.deduplicator.Filter(ctx, s.opts.OwnerUserID, samples, mode)
	if filtered.FailedOpen {
		observability.RecordWatermarkFailOpen(pipeline)
	}
	observability.RecordDeduplicated(pipeline, filtered.Dropped)

	written, err := s.writer.Write(ctx, filtered.Kept)
	observability.RecordWritten(pipeline, written)
	if err != nil {
		logger.Error("sample write aborted", zap.Int("written", written), zap.Int("pending", len(filtered.Kept)-written))
		return written, filtered.Dropped, err
	}
	return written, filtered.Dropped, nil
}
