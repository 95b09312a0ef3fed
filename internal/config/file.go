package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// File is the optional YAML configuration. Unset fields keep their defaults.
type File struct {
	BindAddr         string `yaml:"bind_addr"`
	ShutdownTimeout  string `yaml:"shutdown_timeout"`
	MetricsNamespace string `yaml:"metrics_namespace"`
	AllowAnyOrigin   *bool  `yaml:"allow_any_origin"`

	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`
	RedisURL    string `yaml:"redis_url"`

	Frequency struct {
		KeyPrefix string `yaml:"key_prefix"`
		Window    string `yaml:"window"`
		TTL       string `yaml:"ttl"`
	} `yaml:"frequency"`

	Training struct {
		BatchSize        int `yaml:"batch_size"`
		MaxFlushAttempts int `yaml:"max_flush_attempts"`
	} `yaml:"training"`

	Generation struct {
		TopK             int    `yaml:"top_k"`
		SentencesPerPage int    `yaml:"sentences_per_page"`
		Timeout          string `yaml:"timeout"`
	} `yaml:"generation"`

	Links struct {
		Count *int `yaml:"count"`
		Depth *int `yaml:"depth"`
	} `yaml:"links"`

	Tarpit struct {
		MinDelay      string `yaml:"min_delay"`
		MaxDelay      string `yaml:"max_delay"`
		MaxHops       *int   `yaml:"max_hops"`
		HopWindow     string `yaml:"hop_window"`
		SystemSeed    string `yaml:"system_seed"`
		WSMaxDuration string `yaml:"ws_max_duration"`
	} `yaml:"tarpit"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	durations map[string]time.Duration
}

// LoadFile reads a YAML configuration file. A missing file yields
// ErrConfigNotFound.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if err := f.parseDurations(); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &f, nil
}

func (f *File) parseDurations() error {
	raw := map[string]string{
		"shutdown_timeout":       f.ShutdownTimeout,
		"frequency.window":       f.Frequency.Window,
		"frequency.ttl":          f.Frequency.TTL,
		"generation.timeout":     f.Generation.Timeout,
		"tarpit.min_delay":       f.Tarpit.MinDelay,
		"tarpit.max_delay":       f.Tarpit.MaxDelay,
		"tarpit.hop_window":      f.Tarpit.HopWindow,
		"tarpit.ws_max_duration": f.Tarpit.WSMaxDuration,
	}
	f.durations = make(map[string]time.Duration, len(raw))
	for key, v := range raw {
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		f.durations[key] = d
	}
	return nil
}

func (f *File) apply(cfg *Config) {
	setString(&cfg.BindAddr, f.BindAddr)
	setString(&cfg.MetricsNamespace, f.MetricsNamespace)
	setString(&cfg.DatabaseURL, f.DatabaseURL)
	setString(&cfg.SQLitePath, f.SQLitePath)
	setString(&cfg.RedisURL, f.RedisURL)
	setString(&cfg.FreqKeyPrefix, f.Frequency.KeyPrefix)
	setString(&cfg.SystemSeed, f.Tarpit.SystemSeed)
	setString(&cfg.LogLevel, f.Log.Level)
	setString(&cfg.LogFormat, f.Log.Format)
	if f.AllowAnyOrigin != nil {
		cfg.AllowAnyOrigin = *f.AllowAnyOrigin
	}

	setInt(&cfg.TrainBatchSize, f.Training.BatchSize)
	setInt(&cfg.TrainMaxFlushAttempts, f.Training.MaxFlushAttempts)
	setInt(&cfg.MarkovTopK, f.Generation.TopK)
	setInt(&cfg.SentencesPerPage, f.Generation.SentencesPerPage)
	if f.Links.Count != nil {
		cfg.FakeLinkCount = *f.Links.Count
	}
	if f.Links.Depth != nil {
		cfg.FakeLinkDepth = *f.Links.Depth
	}
	if f.Tarpit.MaxHops != nil {
		cfg.MaxHops = *f.Tarpit.MaxHops
	}

	durations := map[string]*time.Duration{
		"shutdown_timeout":       &cfg.ShutdownTimeout,
		"frequency.window":       &cfg.FreqWindow,
		"frequency.ttl":          &cfg.FreqTTL,
		"generation.timeout":     &cfg.GenerationTimeout,
		"tarpit.min_delay":       &cfg.StreamMinDelay,
		"tarpit.max_delay":       &cfg.StreamMaxDelay,
		"tarpit.hop_window":      &cfg.HopWindow,
		"tarpit.ws_max_duration": &cfg.WSMaxDuration,
	}
	for key, dst := range durations {
		if d, ok := f.durations[key]; ok {
			*dst = d
		}
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
