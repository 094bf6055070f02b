// Package writer persists canonical samples in bounded, idempotent sub-batches.
package writer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/septivank/health-sync-worker/internal/db"
)

// DefaultBatchSize bounds a single upsert statement.
const DefaultBatchSize = 500

// Upserter writes one sub-batch keyed on the sample natural key.
type Upserter interface {
	UpsertSamples(ctx context.Context, samples []db.Sample) error
}

// Writer splits sample batches and upserts them in order.
type Writer struct {
	store     Upserter
	batchSize int
	logger    *zap.Logger
}

// NewWriter creates a sample writer. A non-positive batchSize uses DefaultBatchSize.
func NewWriter(store Upserter, batchSize int, logger *zap.Logger) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Writer{store: store, batchSize: batchSize, logger: logger}
}

// Write upserts every sample. Sub-batches commit independently; the first
// failure stops the write and is returned, so the caller can retry the
// whole request.
func (w *Writer) Write(ctx context.Context, samples []db.Sample) (int, error) {
	written := 0
	for start := 0; start < len(samples); start += w.batchSize {
		end := start + w.batchSize
		if end > len(samples) {
			end = len(samples)
		}

		if err := w.store.UpsertSamples(ctx, samples[start:end]); err != nil {
			w.logger.Error("sample sub-batch upsert failed",
				zap.Error(err),
				zap.Int("batch_start", start),
				zap.Int("batch_size", end-start),
				zap.Int("written", written),
			)
			return written, fmt.Errorf("failed to write samples %d-%d: %w", start, end-1, err)
		}
		written += end - start
	}

	return written, nil
}
