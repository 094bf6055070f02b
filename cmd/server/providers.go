package main

import (
	"context"

	"github.com/septivank/health-sync-worker/internal/api"
	"github.com/septivank/health-sync-worker/internal/archive"
	"github.com/septivank/health-sync-worker/internal/config"
	"github.com/septivank/health-sync-worker/internal/db"
	"github.com/septivank/health-sync-worker/internal/metric"
	"github.com/septivank/health-sync-worker/internal/mq"
	"github.com/septivank/health-sync-worker/internal/repository"
	"github.com/septivank/health-sync-worker/internal/service"
	"github.com/septivank/health-sync-worker/internal/source"
	"github.com/septivank/health-sync-worker/internal/validator"
	"github.com/septivank/health-sync-worker/internal/watermark"
	"github.com/septivank/health-sync-worker/internal/workout"
	"github.com/septivank/health-sync-worker/internal/writer"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// startConsumer runs queue ingest when a broker is configured
func startConsumer(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	svc *service.SyncService,
) error {
	if !conn.Enabled() {
		return nil
	}

	// Create context for consumer that will be cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:    conn,
		Queue:         cfg.RabbitMQ.IngestQueue,
		DLQQueue:      cfg.RabbitMQ.DLQQueue,
		Exchange:      cfg.RabbitMQ.IngestExchange,
		RoutingKey:    cfg.RabbitMQ.IngestRoutingKey,
		PrefetchCount: cfg.RabbitMQ.PrefetchCount,
		Logger:        logger,
		Handler:       svc.ProcessMessage,
	})
	if err != nil {
		cancel()
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting ingest consumer",
				zap.String("queue", cfg.RabbitMQ.IngestQueue),
				zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			logger.Info("ingest consumer stopped gracefully")
			return nil
		},
	})

	return nil
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideArchivist creates the raw payload archivist
func ProvideArchivist(repo *repository.Repository, cfg *config.Config, logger *zap.Logger) *archive.Archivist {
	return archive.NewArchivist(repo, cfg.Ingest.RawExportRetention, logger)
}

// ProvideNormalizer creates the source normalizer
func ProvideNormalizer(logger *zap.Logger) *source.Normalizer {
	return source.NewNormalizer(logger)
}

// ProvideCanonicalizer creates the metric canonicalizer with the default rules
func ProvideCanonicalizer() *metric.Canonicalizer {
	return metric.NewCanonicalizer(metric.DefaultRules)
}

// ProvideValidator creates a new validator instance
func ProvideValidator() *validator.Validator {
	return validator.NewValidator()
}

// ProvideDeduplicator creates the watermark deduplicator
func ProvideDeduplicator(repo *repository.Repository, cfg *config.Config, logger *zap.Logger) *watermark.Deduplicator {
	return watermark.NewDeduplicator(repo, cfg.Ingest.WatermarkLookback, logger)
}

// ProvideWriter creates the sample writer
func ProvideWriter(repo *repository.Repository, cfg *config.Config, logger *zap.Logger) *writer.Writer {
	return writer.NewWriter(repo, cfg.Ingest.UpsertBatchSize, logger)
}

// ProvideWorkoutSyncer creates the workout syncer
func ProvideWorkoutSyncer(repo *repository.Repository, normalizer *source.Normalizer, logger *zap.Logger) *workout.Syncer {
	return workout.NewSyncer(repo, normalizer, logger)
}

// ProvideMQConnection creates a new RabbitMQ connection instance, nil when disabled
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvidePublisher creates the sync event publisher. It returns a nil
// interface when no broker is configured.
func ProvidePublisher(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (service.EventPublisher, error) {
	if !conn.Enabled() {
		return nil, nil
	}

	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.EventsExchange, cfg.RabbitMQ.EventsRoutingKey, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}

// ProvideSyncService creates a new sync service instance
func ProvideSyncService(
	cfg *config.Config,
	archivist *archive.Archivist,
	normalizer *source.Normalizer,
	canonicalizer *metric.Canonicalizer,
	validator *validator.Validator,
	deduplicator *watermark.Deduplicator,
	writer *writer.Writer,
	syncer *workout.Syncer,
	repo *repository.Repository,
	publisher service.EventPublisher,
	logger *zap.Logger,
) *service.SyncService {
	return service.NewSyncService(
		service.Options{
			OwnerUserID:      cfg.OwnerUserID,
			DailyStepsSource: cfg.Ingest.DailyStepsSource,
		},
		archivist,
		normalizer,
		canonicalizer,
		validator,
		deduplicator,
		writer,
		syncer,
		repo,
		publisher,
		logger,
	)
}

// ProvideHandler creates the HTTP handler
func ProvideHandler(svc *service.SyncService, logger *zap.Logger) *api.Handler {
	return api.NewHandler(svc, logger)
}
