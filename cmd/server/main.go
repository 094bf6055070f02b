package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/septivank/health-sync-worker/internal/api"
	"github.com/septivank/health-sync-worker/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	config.LoadDotEnv()

	app := fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			ProvideDBPool,
			ProvideRepository,
			ProvideArchivist,
			ProvideNormalizer,
			ProvideCanonicalizer,
			ProvideValidator,
			ProvideDeduplicator,
			ProvideWriter,
			ProvideWorkoutSyncer,
			ProvideMQConnection,
			ProvidePublisher,
			ProvideSyncService,
			ProvideHandler,
			api.NewServer,
		),
		fx.Invoke(startConsumer),
		fx.Invoke(func(*http.Server) {}),
	)

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Create a temporary logger for startup error messages
	tempLogger, _ := newLogger(&config.Config{ServiceName: "health-sync-worker"})
	tempLogger.Info("starting application...", zap.String("timeout", "30s"))

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		if startCtx.Err() == context.DeadlineExceeded {
			tempLogger.Error("APPLICATION START TIMEOUT: Failed to start within 30 seconds. This usually means a dependency (Database or RabbitMQ) is not accessible. Check the error messages above for specific connection failures.")
		}
		panic(err)
	}

	// Wait for interrupt signal
	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Println("error stopping app:", err)
	}
}
