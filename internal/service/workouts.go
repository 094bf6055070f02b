package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/septivank/health-sync-worker/internal/observability"
	"github.com/septivank/health-sync-worker/internal/workout"
)

// WorkoutsResponse reports a workout sync
type WorkoutsResponse struct {
	Message           string            `json:"message"`
	WorkoutsProcessed int               `json:"workouts_processed"`
	WorkoutsSkipped   int               `json:"workouts_skipped"`
	HRRecordsStored   int               `json:"hr_records_stored"`
	Workouts          []workout.Summary `json:"workouts"`
	RawExportID       string            `json:"raw_export_id,omitempty"`
}

// SyncWorkouts upserts exported workouts and replaces their heart-rate detail.
func (s *SyncService) SyncWorkouts(ctx context.Context, requestID string, body []byte) (*WorkoutsResponse, error) {
	return s.syncWorkouts(ctx, requestID, body, runOptions{archive: true})
}

func (s *SyncService) syncWorkouts(ctx context.Context, requestID string, body []byte, opts runOptions) (*WorkoutsResponse, error) {
	logger := s.requestLogger(requestID, PipelineWorkoutsSync)

	payload, data, err := decodePayload(body)
	if err != nil {
		return nil, s.fail(logger, PipelineWorkoutsSync, err)
	}

	workouts := payload.AllWorkouts()
	logger.Info("received workouts", zap.Int("count", len(workouts)))
	observability.RecordReceived(PipelineWorkoutsSync, len(workouts))

	resp := &WorkoutsResponse{}
	if opts.archive {
		resp.RawExportID = s.archiveTagged(ctx, PipelineWorkoutsSync, data)
	}

	result, err := s.syncer.Sync(ctx, s.opts.OwnerUserID, workouts)
	if err != nil {
		return nil, s.fail(logger, PipelineWorkoutsSync, err)
	}
	for reason, n := range result.Skipped {
		observability.RecordSkipped(PipelineWorkoutsSync, reason, n)
	}

	resp.Message = "Workouts sync successful."
	resp.WorkoutsProcessed = result.Processed
	resp.WorkoutsSkipped = result.WorkoutsSkipped()
	resp.HRRecordsStored = result.HRRecords
	resp.Workouts = result.Workouts

	logger.Info("workouts synced",
		zap.Int("processed", result.Processed),
		zap.Int("hr_records", result.HRRecords),
		zap.Int("skipped", resp.WorkoutsSkipped),
	)

	s.epilogue(ctx, logger, requestID, PipelineWorkoutsSync, result.UnknownSources, counts{
		received: len(workouts),
		skipped:  resp.WorkoutsSkipped,
		written:  result.Processed,
	})
	return resp, nil
}
