package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	OwnerUserID uuid.UUID
	HTTP        HTTPConfig
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Ingest      IngestConfig
}

// HTTPConfig holds listener settings for the ingest endpoints
type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// RabbitMQConfig holds RabbitMQ connection and queue settings.
// An empty URL disables queue ingest and event publishing.
type RabbitMQConfig struct {
	URL              string
	IngestExchange   string
	IngestQueue      string
	IngestRoutingKey string
	EventsExchange   string
	EventsRoutingKey string
	DLQQueue         string
	PrefetchCount    int
}

// Enabled reports whether a broker is configured.
func (c RabbitMQConfig) Enabled() bool {
	return c.URL != ""
}

// IngestConfig holds pipeline tunables
type IngestConfig struct {
	// WatermarkLookback bounds how far back stored watermarks are loaded.
	// It must exceed the largest overlap between consecutive exporter syncs.
	WatermarkLookback  time.Duration
	RawExportRetention time.Duration
	UpsertBatchSize    int
	DailyStepsSource   string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "health-sync-worker"),
		HTTP: HTTPConfig{
			Address:      getEnv("HTTP_ADDRESS", ":8080"),
			ReadTimeout:  getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("HTTP_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:  getEnvAsDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		RabbitMQ: RabbitMQConfig{
			URL:              getEnv("RABBITMQ_URL", ""),
			IngestExchange:   getEnv("RABBITMQ_INGEST_EXCHANGE", "health-sync.ingest.exchange"),
			IngestQueue:      getEnv("RABBITMQ_INGEST_QUEUE", "health-sync.ingest.queue"),
			IngestRoutingKey: getEnv("RABBITMQ_INGEST_ROUTING_KEY", "export.#"),
			EventsExchange:   getEnv("RABBITMQ_EVENTS_EXCHANGE", "health-sync.events.exchange"),
			EventsRoutingKey: getEnv("RABBITMQ_EVENTS_ROUTING_KEY", "sync.completed"),
			DLQQueue:         getEnv("RABBITMQ_DLQ_QUEUE", "health-sync.ingest.dlq"),
			PrefetchCount:    getEnvAsInt("RABBITMQ_PREFETCH", 4),
		},
		Ingest: IngestConfig{
			WatermarkLookback:  getEnvAsDuration("WATERMARK_LOOKBACK", 7*24*time.Hour),
			RawExportRetention: getEnvAsDuration("RAW_EXPORT_RETENTION", 48*time.Hour),
			UpsertBatchSize:    getEnvAsInt("UPSERT_BATCH_SIZE", 500),
			DailyStepsSource:   getEnv("DAILY_STEPS_SOURCE", "Apple Watch"),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}

	owner := getEnv("OWNER_USER_ID", "")
	if owner == "" {
		return nil, fmt.Errorf("OWNER_USER_ID is required but not set in environment variables")
	}
	ownerID, err := uuid.Parse(owner)
	if err != nil {
		return nil, fmt.Errorf("OWNER_USER_ID must be a UUID: %w", err)
	}
	cfg.OwnerUserID = ownerID

	if cfg.Ingest.UpsertBatchSize <= 0 {
		return nil, fmt.Errorf("UPSERT_BATCH_SIZE must be positive, got %d", cfg.Ingest.UpsertBatchSize)
	}
	if cfg.Ingest.WatermarkLookback <= 0 {
		return nil, fmt.Errorf("WATERMARK_LOOKBACK must be positive, got %s", cfg.Ingest.WatermarkLookback)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
