// Package watermark suppresses samples already represented by stored data.
package watermark

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/septivank/health-sync-worker/internal/db"
)

// Store loads the newest stored timestamp per series.
type Store interface {
	LatestRecordedAt(ctx context.Context, userID uuid.UUID, since time.Time) (map[db.SeriesKey]time.Time, error)
}

// Mode selects how a sample sitting exactly on the watermark is treated.
type Mode int

const (
	// Strict discards samples at or before the watermark.
	Strict Mode = iota
	// ReopenLatest discards only samples strictly before the watermark, so
	// the newest stored bucket can still be rewritten while it is open.
	ReopenLatest
)

// Result reports what a filter pass kept and dropped.
type Result struct {
	Kept []db.Sample
	// Dropped counts samples already represented by stored data.
	Dropped int
	// FailedOpen is set when watermarks could not be loaded and every
	// sample was admitted.
	FailedOpen bool
}

// Deduplicator filters samples against stored watermarks.
type Deduplicator struct {
	store    Store
	lookback time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewDeduplicator creates a deduplicator. lookback bounds the watermark
// query and must exceed any overlap between consecutive syncs.
func NewDeduplicator(store Store, lookback time.Duration, logger *zap.Logger) *Deduplicator {
	return &Deduplicator{
		store:    store,
		lookback: lookback,
		now:      time.Now,
		logger:   logger,
	}
}

// Filter drops samples whose recorded_at does not advance past their
// series watermark. A failed watermark load admits everything.
func (d *Deduplicator) Filter(ctx context.Context, userID uuid.UUID, samples []db.Sample, mode Mode) Result {
	if len(samples) == 0 {
		return Result{}
	}

	since := d.now().Add(-d.lookback)
	watermarks, err := d.store.LatestRecordedAt(ctx, userID, since)
	if err != nil {
		d.logger.Warn("failed to load watermarks, admitting all samples",
			zap.Error(err),
			zap.Int("samples", len(samples)),
		)
		return Result{Kept: samples, FailedOpen: true}
	}

	kept := make([]db.Sample, 0, len(samples))
	dropped := 0
	for _, s := range samples {
		mark, ok := watermarks[s.Key()]
		if ok && !admits(mode, s.RecordedAt, mark) {
			dropped++
			continue
		}
		kept = append(kept, s)
	}

	if dropped > 0 {
		d.logger.Debug("samples suppressed by watermark",
			zap.Int("dropped", dropped),
			zap.Int("kept", len(kept)),
		)
	}

	return Result{Kept: kept, Dropped: dropped}
}

func admits(mode Mode, recordedAt, mark time.Time) bool {
	if mode == ReopenLatest {
		return !recordedAt.Before(mark)
	}
	return recordedAt.After(mark)
}
