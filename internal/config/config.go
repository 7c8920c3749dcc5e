package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Daily environment cache.
	CachePath string

	// ZIP resolution.
	ZipBaseURL   string
	ZipTimeout   time.Duration
	ZipCacheSize int

	// Environmental data provider.
	WeatherBaseURL    string
	AirQualityBaseURL string
	FetchTimeout      time.Duration
	ForecastDays      int

	// Scoring delegate. Empty commands select the in-process scorer.
	ScorerBatchCmd   []string
	ScorerPatientCmd []string
	ScorerTimeout    time.Duration
	ScratchDir       string

	// Result store.
	StoreDSN string

	// Optional scored-batch event publishing.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads configuration from the environment, applying defaults where
// unset. A .env file in the working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	zipTimeout, err := parseDuration("ZIP_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := parseDuration("FETCH_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	scorerTimeout, err := parseDuration("SCORER_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	forecastDays, err := parsePositiveInt("FORECAST_DAYS", 5)
	if err != nil {
		return nil, err
	}
	zipCacheSize, err := parsePositiveInt("ZIP_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}

	kafkaBrokers := splitList(os.Getenv("KAFKA_BROKERS"))
	kafkaEnabled := false
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	cfg := &Config{
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		CachePath: envOrDefault("CACHE_PATH", "weather_cache.json"),

		ZipBaseURL:   envOrDefault("ZIP_BASE_URL", "https://api.zippopotam.us/us"),
		ZipTimeout:   zipTimeout,
		ZipCacheSize: zipCacheSize,

		WeatherBaseURL:    envOrDefault("WEATHER_BASE_URL", "https://api.open-meteo.com/v1/forecast"),
		AirQualityBaseURL: envOrDefault("AIR_QUALITY_BASE_URL", "https://air-quality-api.open-meteo.com/v1/air-quality"),
		FetchTimeout:      fetchTimeout,
		ForecastDays:      forecastDays,

		ScorerBatchCmd:   splitCommand(os.Getenv("SCORER_BATCH_CMD")),
		ScorerPatientCmd: splitCommand(os.Getenv("SCORER_PATIENT_CMD")),
		ScorerTimeout:    scorerTimeout,
		ScratchDir:       envOrDefault("SCRATCH_DIR", "temp"),

		StoreDSN: envOrDefault("STORE_DSN", "file:climate_risk.db"),

		KafkaEnabled: kafkaEnabled,
		KafkaBrokers: kafkaBrokers,
		KafkaTopic:   envOrDefault("KAFKA_TOPIC", "scored-risk-rows"),
	}

	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if (len(cfg.ScorerBatchCmd) == 0) != (len(cfg.ScorerPatientCmd) == 0) {
		return nil, errors.New("SCORER_BATCH_CMD and SCORER_PATIENT_CMD must be set together")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDuration(key, def string) (time.Duration, error) {
	s := envOrDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitCommand splits a command line on whitespace. Delegate commands are
// operator-controlled and never contain quoted arguments.
func splitCommand(s string) []string {
	return strings.Fields(s)
}
