package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/septivank/health-sync-worker/internal/archive"
	"github.com/septivank/health-sync-worker/internal/export"
	"github.com/septivank/health-sync-worker/internal/logging"
	"github.com/septivank/health-sync-worker/internal/metric"
	"github.com/septivank/health-sync-worker/internal/mq"
	"github.com/septivank/health-sync-worker/internal/observability"
	"github.com/septivank/health-sync-worker/internal/source"
	"github.com/septivank/health-sync-worker/internal/validator"
	"github.com/septivank/health-sync-worker/internal/watermark"
	"github.com/septivank/health-sync-worker/internal/workout"
	"github.com/septivank/health-sync-worker/internal/writer"
)

// Entry pipelines.
const (
	PipelineHealthSync   = "health-sync"
	PipelineStepsDaily   = "steps-daily"
	PipelineWorkoutsSync = "workouts-sync"
	PipelineCapture      = "capture-payload"
)

// ErrMalformedPayload marks a request body that could not be decoded.
var ErrMalformedPayload = errors.New("malformed payload")

// ErrUnknownPipeline is returned when a queued or archived payload names
// no known pipeline.
var ErrUnknownPipeline = errors.New("unknown pipeline")

// SourceFlagger records unrecognized source labels for review.
type SourceFlagger interface {
	FlagUnrecognizedSources(ctx context.Context, occurrences map[string]int) error
}

// EventPublisher announces completed syncs. It may be nil.
type EventPublisher interface {
	PublishSyncCompleted(ctx context.Context, event mq.SyncCompletedEvent) error
}

// Options tunes the pipelines.
type Options struct {
	OwnerUserID      uuid.UUID
	DailyStepsSource string
}

// SyncService runs the entry pipelines
type SyncService struct {
	opts          Options
	archivist     *archive.Archivist
	normalizer    *source.Normalizer
	canonicalizer *metric.Canonicalizer
	validator     *validator.Validator
	deduplicator  *watermark.Deduplicator
	writer        *writer.Writer
	syncer        *workout.Syncer
	flagger       SourceFlagger
	publisher     EventPublisher
	logger        *zap.Logger
	now           func() time.Time
}

// NewSyncService creates a new sync service
func NewSyncService(
	opts Options,
	archivist *archive.Archivist,
	normalizer *source.Normalizer,
	canonicalizer *metric.Canonicalizer,
	validator *validator.Validator,
	deduplicator *watermark.Deduplicator,
	writer *writer.Writer,
	syncer *workout.Syncer,
	flagger SourceFlagger,
	publisher EventPublisher,
	logger *zap.Logger,
) *SyncService {
	if opts.DailyStepsSource == "" {
		opts.DailyStepsSource = source.AppleWatch
	}
	return &SyncService{
		opts:          opts,
		archivist:     archivist,
		normalizer:    normalizer,
		canonicalizer: canonicalizer,
		validator:     validator,
		deduplicator:  deduplicator,
		writer:        writer,
		syncer:        syncer,
		flagger:       flagger,
		publisher:     publisher,
		logger:        logger,
		now:           time.Now,
	}
}

// runOptions control side effects that replays must not repeat.
type runOptions struct {
	archive bool
}

// counts is the shared tally reported in events.
type counts struct {
	received     int
	skipped      int
	deduplicated int
	written      int
}

func decodePayload(body []byte) (export.Payload, json.RawMessage, error) {
	var payload export.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return payload, nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	var raw struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return payload, nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return payload, raw.Data, nil
}

// archiveTagged stores the payload data and returns its id, or "" when the
// archive write failed.
func (s *SyncService) archiveTagged(ctx context.Context, pipeline string, data json.RawMessage) string {
	id, err := s.archivist.ArchiveTagged(ctx, s.opts.OwnerUserID, pipeline, data)
	if err != nil {
		return ""
	}
	return id.String()
}

func (s *SyncService) requestLogger(requestID, pipeline string) *zap.Logger {
	return logging.WithPipeline(logging.WithRequestID(s.logger, requestID), pipeline)
}

// epilogue runs the best-effort steps after a successful write.
func (s *SyncService) epilogue(ctx context.Context, logger *zap.Logger, requestID, pipeline string, unknown map[string]int, c counts) {
	if len(unknown) > 0 {
		total := 0
		for _, n := range unknown {
			total += n
		}
		observability.RecordUnrecognizedSource(pipeline, total)
		if err := s.flagger.FlagUnrecognizedSources(ctx, unknown); err != nil {
			logger.Warn("failed to flag unrecognized sources", zap.Error(err))
		}
	}

	s.archivist.Sweep(ctx)

	if s.publisher == nil {
		return
	}
	event := mq.SyncCompletedEvent{
		Pipeline:     pipeline,
		UserID:       s.opts.OwnerUserID.String(),
		RequestID:    requestID,
		Received:     c.received,
		Skipped:      c.skipped,
		Deduplicated: c.deduplicated,
		Written:      c.written,
		CompletedAt:  s.now().UTC(),
	}
	if err := s.publisher.PublishSyncCompleted(ctx, event); err != nil {
		// Log error but don't fail the sync
		logger.Error("failed to publish sync completed event", zap.Error(err))
	}
}

func (s *SyncService) fail(logger *zap.Logger, pipeline string, err error) error {
	observability.RecordSyncFailure(pipeline)
	logger.Error("sync failed", zap.Error(err))
	return err
}

func sumSkips(skipped map[string]int) int {
	total := 0
	for _, n := range skipped {
		total += n
	}
	return total
}
