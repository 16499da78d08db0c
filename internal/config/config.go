// Package config loads thawk-forensics settings from a YAML file and
// THAWK_FORENSICS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Upload modes.
const (
	ModeParallel  = "parallel"
	ModeStreaming = "streaming"
)

// DLQ backends.
const (
	DLQBackendFile      = "file"
	DLQBackendJetStream = "jetstream"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "THAWK_FORENSICS"

// Config is the complete configuration of a run.
type Config struct {
	Case       CaseConfig       `mapstructure:"case"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch"`
	Bulk       BulkConfig       `mapstructure:"bulk"`
	Templates  TemplatesConfig  `mapstructure:"templates"`
	DLQ        DLQConfig        `mapstructure:"dlq"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// CaseConfig names the investigation and the examined host.
type CaseConfig struct {
	Name    string `mapstructure:"name"`
	Machine string `mapstructure:"machine"`
}

// OpenSearchConfig holds OpenSearch connection settings
type OpenSearchConfig struct {
	URLs             []string      `mapstructure:"urls"`
	Username         string        `mapstructure:"username"`
	Password         string        `mapstructure:"password"`
	TLSSkipVerify    bool          `mapstructure:"tls_skip_verify"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryOnTimeout   bool          `mapstructure:"retry_on_timeout"`
	RetryBackoffBase time.Duration `mapstructure:"retry_backoff_base"`
	RetryBackoffMax  time.Duration `mapstructure:"retry_backoff_max"`
}

// BulkConfig controls batching of the bulk indexer.
type BulkConfig struct {
	ChunkSize     int           `mapstructure:"chunk_size"`
	Workers       int           `mapstructure:"workers"`
	FlushBytes    int           `mapstructure:"flush_bytes"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	Mode          string        `mapstructure:"mode"`
}

// EffectiveWorkers returns the worker count for the configured mode.
func (b BulkConfig) EffectiveWorkers() int {
	if b.Mode == ModeStreaming || b.Workers < 1 {
		return 1
	}
	return b.Workers
}

// TemplatesConfig controls index template provisioning.
type TemplatesConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	Priority         int  `mapstructure:"priority"`
	TotalFieldsLimit int  `mapstructure:"total_fields_limit"`
}

// DLQConfig holds dead letter queue configuration
type DLQConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Backend       string `mapstructure:"backend"`   // "file" (default) or "jetstream"
	BasePath      string `mapstructure:"base_path"` // Only used for file backend
	NatsURL       string `mapstructure:"nats_url"`  // Only used for jetstream backend
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// MetricsConfig holds the Prometheus endpoint address. Empty disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from path, when set, and the environment. A
// missing file is an error only when path was given explicitly.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	// comma separated lists from the environment
	if len(cfg.OpenSearch.URLs) == 1 && strings.Contains(cfg.OpenSearch.URLs[0], ",") {
		cfg.OpenSearch.URLs = SplitList(cfg.OpenSearch.URLs[0])
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late in a run.
func (c *Config) Validate() error {
	switch c.Bulk.Mode {
	case ModeParallel, ModeStreaming:
	default:
		return fmt.Errorf("invalid bulk mode %q: expected %s or %s", c.Bulk.Mode, ModeParallel, ModeStreaming)
	}
	if c.Bulk.ChunkSize < 1 {
		return fmt.Errorf("bulk chunk_size must be positive, got %d", c.Bulk.ChunkSize)
	}
	if c.DLQ.Enabled {
		switch c.DLQ.Backend {
		case DLQBackendFile, DLQBackendJetStream:
		default:
			return fmt.Errorf("invalid dlq backend %q", c.DLQ.Backend)
		}
	}
	return nil
}

// SplitList splits a comma separated flag or environment value.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// setDefaults sets all default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("case.name", "")
	v.SetDefault("case.machine", "")

	// OpenSearch defaults
	v.SetDefault("opensearch.urls", []string{"https://localhost:9200"})
	v.SetDefault("opensearch.username", "admin")
	v.SetDefault("opensearch.password", "")
	v.SetDefault("opensearch.tls_skip_verify", true)
	v.SetDefault("opensearch.request_timeout", "60s")
	v.SetDefault("opensearch.max_retries", 3)
	v.SetDefault("opensearch.retry_on_timeout", true)
	v.SetDefault("opensearch.retry_backoff_base", "100ms")
	v.SetDefault("opensearch.retry_backoff_max", "10s")

	// Bulk defaults
	v.SetDefault("bulk.chunk_size", 1000)
	v.SetDefault("bulk.workers", 4)
	v.SetDefault("bulk.flush_bytes", 5*1024*1024)
	v.SetDefault("bulk.flush_interval", "30s")
	v.SetDefault("bulk.mode", ModeParallel)

	// Template defaults
	v.SetDefault("templates.enabled", true)
	v.SetDefault("templates.priority", 400)
	v.SetDefault("templates.total_fields_limit", 2000)

	// DLQ defaults
	v.SetDefault("dlq.enabled", false)
	v.SetDefault("dlq.backend", DLQBackendFile)
	v.SetDefault("dlq.base_path", "./dlq")
	v.SetDefault("dlq.nats_url", "nats://localhost:4222")
	v.SetDefault("dlq.subject_prefix", "forensics.dlq")

	v.SetDefault("metrics.addr", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
