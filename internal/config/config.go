package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the tarpit service and CLI.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	FreqKeyPrefix string
	FreqWindow    time.Duration
	FreqTTL       time.Duration

	TrainBatchSize        int
	TrainMaxFlushAttempts int

	MarkovTopK        int
	SentencesPerPage  int
	FakeLinkCount     int
	FakeLinkDepth     int
	GenerationTimeout time.Duration

	StreamMinDelay time.Duration
	StreamMaxDelay time.Duration
	MaxHops        int
	HopWindow      time.Duration
	SystemSeed     string
	WSMaxDuration  time.Duration

	LogLevel  string
	LogFormat string
}

// Defaults returns the built-in settings before any file or environment
// overrides.
func Defaults() Config {
	return Config{
		BindAddr:              ":8080",
		ShutdownTimeout:       15 * time.Second,
		MetricsNamespace:      "tarpit",
		AllowAnyOrigin:        true,
		FreqKeyPrefix:         "tarpit:freq:",
		FreqWindow:            60 * time.Second,
		FreqTTL:               24 * time.Hour,
		TrainBatchSize:        10000,
		TrainMaxFlushAttempts: 3,
		MarkovTopK:            20,
		SentencesPerPage:      15,
		FakeLinkCount:         7,
		FakeLinkDepth:         3,
		GenerationTimeout:     2 * time.Second,
		StreamMinDelay:        600 * time.Millisecond,
		StreamMaxDelay:        1200 * time.Millisecond,
		MaxHops:               250,
		HopWindow:             24 * time.Hour,
		SystemSeed:            "default_system_seed_value_change_me",
		WSMaxDuration:         5 * time.Minute,
		LogLevel:              "info",
		LogFormat:             "text",
	}
}

// Load reads TARPIT_CONFIG_FILE (if set), then environment variables, and
// validates the result. Environment values win over the file.
func Load() (Config, error) {
	cfg := Defaults()
	if path := stringsTrimSpace("TARPIT_CONFIG_FILE"); path != "" {
		file, err := LoadFile(path)
		if err != nil {
			return Config{}, err
		}
		file.apply(&cfg)
	}

	cfg.BindAddr = envOrDefault("APP_BIND_ADDR", cfg.BindAddr)
	cfg.MetricsNamespace = envOrDefault("APP_METRICS_NAMESPACE", cfg.MetricsNamespace)
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.SQLitePath = envOrDefault("SQLITE_PATH", cfg.SQLitePath)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.FreqKeyPrefix = envOrDefault("FREQ_KEY_PREFIX", cfg.FreqKeyPrefix)
	cfg.SystemSeed = envOrDefault("SYSTEM_SEED", cfg.SystemSeed)
	cfg.LogLevel = strings.ToLower(envOrDefault("LOG_LEVEL", cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(envOrDefault("LOG_FORMAT", cfg.LogFormat))

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"FREQ_WINDOW", &cfg.FreqWindow},
		{"FREQ_TTL", &cfg.FreqTTL},
		{"GENERATION_TIMEOUT", &cfg.GenerationTimeout},
		{"TAR_PIT_MIN_DELAY", &cfg.StreamMinDelay},
		{"TAR_PIT_MAX_DELAY", &cfg.StreamMaxDelay},
		{"TAR_PIT_HOP_WINDOW", &cfg.HopWindow},
		{"WS_MAX_DURATION", &cfg.WSMaxDuration},
	}
	for _, d := range durations {
		if *d.dst, err = durationFromEnv(d.key, *d.dst); err != nil {
			return Config{}, err
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"TRAIN_BATCH_SIZE", &cfg.TrainBatchSize},
		{"TRAIN_MAX_FLUSH_ATTEMPTS", &cfg.TrainMaxFlushAttempts},
		{"MARKOV_TOP_K", &cfg.MarkovTopK},
		{"DEFAULT_SENTENCES_PER_PAGE", &cfg.SentencesPerPage},
		{"FAKE_LINK_COUNT", &cfg.FakeLinkCount},
		{"FAKE_LINK_DEPTH", &cfg.FakeLinkDepth},
		{"TAR_PIT_MAX_HOPS", &cfg.MaxHops},
	}
	for _, n := range ints {
		if *n.dst, err = intFromEnv(n.key, *n.dst); err != nil {
			return Config{}, err
		}
	}

	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	switch {
	case c.FreqWindow <= 0:
		return fmt.Errorf("FREQ_WINDOW must be positive")
	case c.FreqTTL < c.FreqWindow:
		return fmt.Errorf("FREQ_TTL must be at least FREQ_WINDOW")
	case strings.TrimSpace(c.FreqKeyPrefix) == "":
		return fmt.Errorf("FREQ_KEY_PREFIX must not be empty")
	case c.TrainBatchSize <= 0:
		return fmt.Errorf("TRAIN_BATCH_SIZE must be positive")
	case c.TrainMaxFlushAttempts <= 0:
		return fmt.Errorf("TRAIN_MAX_FLUSH_ATTEMPTS must be positive")
	case c.MarkovTopK <= 0:
		return fmt.Errorf("MARKOV_TOP_K must be positive")
	case c.SentencesPerPage <= 0:
		return fmt.Errorf("DEFAULT_SENTENCES_PER_PAGE must be positive")
	case c.FakeLinkCount < 0:
		return fmt.Errorf("FAKE_LINK_COUNT must be >= 0")
	case c.FakeLinkDepth < 0:
		return fmt.Errorf("FAKE_LINK_DEPTH must be >= 0")
	case c.GenerationTimeout < 0:
		return fmt.Errorf("GENERATION_TIMEOUT must be >= 0")
	case c.StreamMinDelay < 0:
		return fmt.Errorf("TAR_PIT_MIN_DELAY must be >= 0")
	case c.StreamMaxDelay < c.StreamMinDelay:
		return fmt.Errorf("TAR_PIT_MAX_DELAY must be >= TAR_PIT_MIN_DELAY")
	case c.MaxHops > 0 && c.HopWindow <= 0:
		return fmt.Errorf("TAR_PIT_HOP_WINDOW must be positive when the hop limit is enabled")
	case c.WSMaxDuration <= 0:
		return fmt.Errorf("WS_MAX_DURATION must be positive")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}
	return nil
}

// HopLimitEnabled is true when TAR_PIT_MAX_HOPS is positive.
func (c Config) HopLimitEnabled() bool {
	return c.MaxHops > 0
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
