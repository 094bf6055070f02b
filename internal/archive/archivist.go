// Package archive keeps a best-effort audit log of inbound payloads.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/septivank/health-sync-worker/internal/db"
	"github.com/septivank/health-sync-worker/internal/observability"
)

// Store persists and prunes raw exports.
type Store interface {
	InsertRawExport(ctx context.Context, export *db.RawExport) error
	DeleteRawExportsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Envelope tags an archived payload with the pipeline that received it.
type Envelope struct {
	Source string          `json:"source"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Archivist writes raw payloads and sweeps expired ones.
type Archivist struct {
	store     Store
	retention time.Duration
	now       func() time.Time
	newID     func() uuid.UUID
	logger    *zap.Logger
}

// NewArchivist creates an archivist that keeps payloads for retention.
func NewArchivist(store Store, retention time.Duration, logger *zap.Logger) *Archivist {
	return &Archivist{
		store:     store,
		retention: retention,
		now:       time.Now,
		newID:     uuid.New,
		logger:    logger,
	}
}

// ArchiveTagged stores {source: pipeline, data: data}. Failures are logged
// and returned; pipelines ignore the error.
func (a *Archivist) ArchiveTagged(ctx context.Context, userID uuid.UUID, pipeline string, data json.RawMessage) (uuid.UUID, error) {
	body, err := json.Marshal(Envelope{Source: pipeline, Data: data})
	if err != nil {
		return uuid.Nil, a.fail(fmt.Errorf("failed to marshal archive envelope: %w", err))
	}
	return a.ArchiveVerbatim(ctx, userID, body)
}

// ArchiveVerbatim stores the payload exactly as received.
func (a *Archivist) ArchiveVerbatim(ctx context.Context, userID uuid.UUID, payload []byte) (uuid.UUID, error) {
	export := &db.RawExport{
		ID:         a.newID(),
		UserID:     userID,
		Payload:    json.RawMessage(payload),
		ReceivedAt: a.now().UTC(),
	}

	if err := a.store.InsertRawExport(ctx, export); err != nil {
		return uuid.Nil, a.fail(err)
	}

	a.logger.Debug("raw payload archived",
		zap.String("raw_export_id", export.ID.String()),
		zap.Int("bytes", len(payload)),
	)
	return export.ID, nil
}

// Sweep deletes payloads older than the retention window. Failures are
// logged and never returned.
func (a *Archivist) Sweep(ctx context.Context) int64 {
	cutoff := a.now().Add(-a.retention)
	deleted, err := a.store.DeleteRawExportsBefore(ctx, cutoff)
	if err != nil {
		observability.RecordArchiveFailure()
		a.logger.Warn("raw export retention sweep failed", zap.Error(err))
		return 0
	}
	if deleted > 0 {
		a.logger.Info("pruned raw exports",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff),
		)
	}
	return deleted
}

func (a *Archivist) fail(err error) error {
	observability.RecordArchiveFailure()
	a.logger.Warn("failed to archive raw payload", zap.Error(err))
	return err
}
