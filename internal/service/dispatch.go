package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/septivank/health-sync-worker/internal/archive"
	"github.com/septivank/health-sync-worker/internal/db"
)

// IngestMessage is the envelope consumed from the ingest queue
type IngestMessage struct {
	RequestID string          `json:"request_id"`
	Pipeline  string          `json:"pipeline"`
	Payload   json.RawMessage `json:"payload"`
}

// ProcessMessage runs a queued export through the pipeline it names.
func (s *SyncService) ProcessMessage(ctx context.Context, body []byte) error {
	var msg IngestMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}

	_, err := s.Dispatch(ctx, msg.RequestID, msg.Pipeline, msg.Payload)
	return err
}

// Dispatch runs body through the named pipeline and returns its response.
func (s *SyncService) Dispatch(ctx context.Context, requestID, pipeline string, body []byte) (any, error) {
	return s.dispatch(ctx, requestID, pipeline, body, runOptions{archive: true})
}

func (s *SyncService) dispatch(ctx context.Context, requestID, pipeline string, body []byte, opts runOptions) (any, error) {
	switch pipeline {
	case PipelineHealthSync:
		return s.syncMetrics(ctx, requestID, body, opts)
	case PipelineStepsDaily:
		return s.syncDailySteps(ctx, requestID, body, opts)
	case PipelineWorkoutsSync:
		return s.syncWorkouts(ctx, requestID, body, opts)
	case PipelineCapture:
		if !opts.archive {
			return nil, fmt.Errorf("%w: captured payloads are already archived", ErrUnknownPipeline)
		}
		return s.Capture(ctx, requestID, body)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPipeline, pipeline)
	}
}

// Replay re-runs an archived export. Tagged archives name their pipeline;
// pipeline overrides the tag and is required for verbatim captures. The
// replay itself is not archived again.
func (s *SyncService) Replay(ctx context.Context, exp *db.RawExport, pipeline string) (any, error) {
	body := []byte(exp.Payload)

	var envelope archive.Envelope
	if err := json.Unmarshal(exp.Payload, &envelope); err == nil && envelope.Source != "" {
		if pipeline == "" {
			pipeline = envelope.Source
		}
		var err error
		if body, err = unwrapEnvelope(envelope); err != nil {
			return nil, err
		}
	}
	if pipeline == "" {
		return nil, fmt.Errorf("%w: raw export %s carries no pipeline tag", ErrUnknownPipeline, exp.ID)
	}

	requestID := "replay-" + exp.ID.String()
	s.requestLogger(requestID, pipeline).Info("replaying raw export",
		zap.Time("received_at", exp.ReceivedAt),
	)
	return s.dispatch(ctx, requestID, pipeline, body, runOptions{archive: false})
}

// unwrapEnvelope rebuilds the request body a tagged archive was made from.
func unwrapEnvelope(envelope archive.Envelope) ([]byte, error) {
	body, err := json.Marshal(struct {
		Data json.RawMessage `json:"data,omitempty"`
	}{Data: envelope.Data})
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode archived payload: %w", err)
	}
	return body, nil
}
