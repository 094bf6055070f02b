package cli

import (
	"context"

	"go.uber.org/zap"

	"github.com/septivank/health-sync-worker/internal/archive"
	"github.com/septivank/health-sync-worker/internal/config"
	"github.com/septivank/health-sync-worker/internal/db"
	"github.com/septivank/health-sync-worker/internal/logging"
	"github.com/septivank/health-sync-worker/internal/metric"
	"github.com/septivank/health-sync-worker/internal/repository"
	"github.com/septivank/health-sync-worker/internal/service"
	"github.com/septivank/health-sync-worker/internal/source"
	"github.com/septivank/health-sync-worker/internal/validator"
	"github.com/septivank/health-sync-worker/internal/watermark"
	"github.com/septivank/health-sync-worker/internal/workout"
	"github.com/septivank/health-sync-worker/internal/writer"
)

// runtime is the set of components a one-shot command needs.
type runtime struct {
	cfg       *config.Config
	logger    *zap.Logger
	pool      *db.Pool
	repo      *repository.Repository
	archivist *archive.Archivist
	service   *service.SyncService
}

func newRuntime(ctx context.Context, opts *RootOptions) (*runtime, error) {
	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := zap.NewNop()
	if opts.Verbose {
		if logger, err = logging.NewLogger(cfg.ServiceName + "-ctl"); err != nil {
			return nil, err
		}
	}

	pool, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	repo := repository.NewRepository(pool)
	archivist := archive.NewArchivist(repo, cfg.Ingest.RawExportRetention, logger)
	normalizer := source.NewNormalizer(logger)

	svc := service.NewSyncService(
		service.Options{OwnerUserID: cfg.OwnerUserID, DailyStepsSource: cfg.Ingest.DailyStepsSource},
		archivist,
		normalizer,
		metric.NewCanonicalizer(metric.DefaultRules),
		validator.NewValidator(),
		watermark.NewDeduplicator(repo, cfg.Ingest.WatermarkLookback, logger),
		writer.NewWriter(repo, cfg.Ingest.UpsertBatchSize, logger),
		workout.NewSyncer(repo, normalizer, logger),
		repo,
		nil,
		logger,
	)

	return &runtime{
		cfg:       cfg,
		logger:    logger,
		pool:      pool,
		repo:      repo,
		archivist: archivist,
		service:   svc,
	}, nil
}

func (r *runtime) Close() {
	r.pool.Close()
	_ = r.logger.Sync()
}
