package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// CaptureResponse acknowledges a captured payload
type CaptureResponse struct {
	Message     string `json:"message"`
	Received    bool   `json:"received"`
	RawExportID string `json:"raw_export_id"`
}

// Capture archives a body verbatim for later inspection or replay. Unlike
// the sync pipelines an archive failure here fails the request.
func (s *SyncService) Capture(ctx context.Context, requestID string, body []byte) (*CaptureResponse, error) {
	logger := s.requestLogger(requestID, PipelineCapture)

	if !json.Valid(body) {
		return nil, s.fail(logger, PipelineCapture, ErrMalformedPayload)
	}

	id, err := s.archivist.ArchiveVerbatim(ctx, s.opts.OwnerUserID, body)
	if err != nil {
		return nil, s.fail(logger, PipelineCapture, err)
	}

	logger.Info("payload captured", zap.String("raw_export_id", id.String()), zap.Int("bytes", len(body)))
	return &CaptureResponse{
		Message:     "Payload saved to database",
		Received:    true,
		RawExportID: id.String(),
	}, nil
}
