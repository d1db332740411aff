package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Mevo (Tricity) GBFS documents.
const (
	DefaultSystemInfoURL    = "https://gbfs.urbansharing.com/rowermevo.pl/system_information.json"
	DefaultStationInfoURL   = "https://gbfs.urbansharing.com/rowermevo.pl/station_information.json"
	DefaultStationStatusURL = "https://gbfs.urbansharing.com/rowermevo.pl/station_status.json"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DatabaseURL      string
	DBConnectTimeout time.Duration
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	// Feed configuration.
	FeedSystemInfoURL    string
	FeedStationInfoURL   string
	FeedStationStatusURL string
	FeedTimeout          time.Duration

	// Scheduling and aggregation.
	SyncInterval        time.Duration
	MaintenanceSchedule string
	Location            *time.Location
	ReliabilityDaysBack int
	RecomputeBatchSize  int
	RecomputeBatchPause time.Duration
	WorkerCount         int
	WorkerQueueDepth    int

	// Sync-run publishing, disabled when no brokers are set.
	KafkaBrokers   []string
	KafkaSyncTopic string
}

// KafkaEnabled reports whether sync logs are published to Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Load reads configuration from environment variables, applying defaults where unset.
// A .env file in the working directory is loaded first if present; real
// environment variables take precedence over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := parsePositiveDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	connectTimeout, err := parsePositiveDuration("DB_CONNECT_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	feedTimeout, err := parsePositiveDuration("FEED_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	batchPause, err := parseDuration("RECOMPUTE_BATCH_PAUSE", "1s")
	if err != nil {
		return nil, err
	}

	intervalMinutes, err := parseIntInRange("SYNC_INTERVAL_MINUTES", 5, 1, 1440)
	if err != nil {
		return nil, err
	}
	daysBack, err := parseIntInRange("RELIABILITY_DAYS_BACK", 30, 1, 365)
	if err != nil {
		return nil, err
	}
	batchSize, err := parseIntInRange("RECOMPUTE_BATCH_SIZE", 10, 1, 1000)
	if err != nil {
		return nil, err
	}
	workers, err := parseIntInRange("WORKER_COUNT", 1, 1, 64)
	if err != nil {
		return nil, err
	}
	queueDepth, err := parseIntInRange("WORKER_QUEUE_DEPTH", 1, 1, 1024)
	if err != nil {
		return nil, err
	}

	schedule := envOrDefault("MAINTENANCE_SCHEDULE", "0 3 * * 0")
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid MAINTENANCE_SCHEDULE: %w", err)
	}

	loc, err := time.LoadLocation(envOrDefault("TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	cfg := &Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DBConnectTimeout: connectTimeout,
		HTTPAddr:         envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:  shutdownTimeout,

		FeedSystemInfoURL:    envOrDefault("FEED_SYSTEM_INFO_URL", DefaultSystemInfoURL),
		FeedStationInfoURL:   envOrDefault("FEED_STATION_INFO_URL", DefaultStationInfoURL),
		FeedStationStatusURL: envOrDefault("FEED_STATION_STATUS_URL", DefaultStationStatusURL),
		FeedTimeout:          feedTimeout,

		SyncInterval:        time.Duration(intervalMinutes) * time.Minute,
		MaintenanceSchedule: schedule,
		Location:            loc,
		ReliabilityDaysBack: daysBack,
		RecomputeBatchSize:  batchSize,
		RecomputeBatchPause: batchPause,
		WorkerCount:         workers,
		WorkerQueueDepth:    queueDepth,

		KafkaBrokers:   parseList(os.Getenv("KAFKA_BROKERS")),
		KafkaSyncTopic: envOrDefault("KAFKA_SYNC_TOPIC", "bikeshare-sync-runs"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.KafkaEnabled() && cfg.KafkaSyncTopic == "" {
		return nil, errors.New("KAFKA_SYNC_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveDuration(key, fallback string) (time.Duration, error) {
	d, err := parseDuration(key, fallback)
	if err != nil || d == 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parseIntInRange(key string, fallback, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be an integer between %d and %d", key, lo, hi)
	}
	return n, nil
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
