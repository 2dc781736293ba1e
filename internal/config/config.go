package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	// DBPath is the SQLite index file. Passed explicitly into the store at
	// construction; there is no process-wide current-database state.
	DBPath string

	// CorpusRoots are directories scanned recursively for .grb2 files.
	CorpusRoots []string

	// SpatialIndex enables the per-file bounding-box side table. Off by
	// default: a globally-covering corpus makes spatial filtering dead
	// weight, so region predicates become advisory and cropping happens at
	// extraction time only.
	SpatialIndex bool

	// SummaryIndex switches indexing to one row per (file, variable) using
	// filename-derived times, instead of one row per message.
	SummaryIndex bool

	ExtractWorkers int
	BusyTimeout    time.Duration
	BusyRetries    int
	QueryTimeout   time.Duration
	MaxDeltaHours  int // 0 disables the nearest-match distance guard

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Kafka query-telemetry configuration. Enabled when a topic is set.
	KafkaBrokers        []string
	KafkaTelemetryTopic string
	TelemetryEnabled    bool
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	busyTimeout, err := parseDuration("BUSY_TIMEOUT", "8s")
	if err != nil {
		return nil, err
	}
	queryTimeout, err := parseDuration("QUERY_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	workers, err := parseInt("EXTRACT_WORKERS", 8)
	if err != nil {
		return nil, err
	}
	busyRetries, err := parseInt("BUSY_RETRIES", 3)
	if err != nil {
		return nil, err
	}
	maxDelta, err := parseInt("MAX_DELTA_HOURS", 0)
	if err != nil {
		return nil, err
	}

	topic := os.Getenv("KAFKA_TELEMETRY_TOPIC")
	telemetryEnabled := topic != ""
	if v := os.Getenv("TELEMETRY_ENABLED"); v != "" {
		telemetryEnabled = v == "true"
	}

	cfg := &Config{
		DBPath:       envOrDefault("DB_PATH", "./grib_index.sqlite"),
		CorpusRoots:  splitList(envOrDefault("CORPUS_ROOTS", "data")),
		SpatialIndex: os.Getenv("SPATIAL_INDEX") == "true",
		SummaryIndex: os.Getenv("SUMMARY_INDEX") == "true",

		ExtractWorkers: workers,
		BusyTimeout:    busyTimeout,
		BusyRetries:    busyRetries,
		QueryTimeout:   queryTimeout,
		MaxDeltaHours:  maxDelta,

		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		KafkaBrokers:        splitList(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTelemetryTopic: topic,
		TelemetryEnabled:    telemetryEnabled,
	}

	if cfg.DBPath == "" {
		return nil, errors.New("DB_PATH is required")
	}
	if cfg.ExtractWorkers < 1 {
		return nil, errors.New("EXTRACT_WORKERS must be at least 1")
	}
	if cfg.TelemetryEnabled && cfg.KafkaTelemetryTopic == "" {
		return nil, errors.New("TELEMETRY_ENABLED is true but KAFKA_TELEMETRY_TOPIC is not set")
	}
	if cfg.TelemetryEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required when telemetry is enabled")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseDuration(key, def string) (time.Duration, error) {
	s := envOrDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}
