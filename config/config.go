// Package config loads and validates the non-secret runtime configuration
// for darwincancel. Secrets (broker credentials) are kept separately in a
// keybox.Keybox, following the teacher's own split between structured
// options and sensitive values.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	validator "github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Broker holds STOMP push-port connection settings.
type Broker struct {
	Host         string `yaml:"host" validate:"required"`
	Port         int    `yaml:"port" validate:"required,min=1,max=65535"`
	Topic        string `yaml:"topic" validate:"required"`
	HeartbeatMs  int    `yaml:"heartbeat_ms" validate:"min=0"`
	BackoffMaxMs int    `yaml:"backoff_max_ms" validate:"min=0"`
}

// Store holds Schedule Store settings.
type Store struct {
	Path          string `yaml:"path" validate:"required"`
	RetentionDays int    `yaml:"retention_days" validate:"min=0"`
}

// Cache holds Cancellation Cache bounds.
type Cache struct {
	MaxEntries int      `yaml:"max_entries" validate:"min=1"`
	MaxAge     Duration `yaml:"max_age"`
}

// Duration wraps time.Duration so it decodes from a YAML string like "24h"
// rather than yaml.v3's default of raw integer nanoseconds.
type Duration time.Duration

// UnmarshalYAML decodes a duration string (e.g. "24h", "90m") via
// time.ParseDuration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Server holds HTTP server settings.
type Server struct {
	Listen           string `yaml:"listen" validate:"required"`
	RequestTimeoutMs int    `yaml:"request_timeout_ms" validate:"min=1"`
}

// RequestTimeout returns Server.RequestTimeoutMs as a time.Duration.
func (s Server) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutMs) * time.Millisecond
}

// RateLimit holds token-bucket rate limit settings, in requests per minute.
type RateLimit struct {
	Default int `yaml:"default" validate:"min=1"`
	Health  int `yaml:"health" validate:"min=1"`
}

// CORS holds the CORS allowlist.
type CORS struct {
	Origins []string `yaml:"origins"`
}

// Health holds health-check pacing settings.
type Health struct {
	CheckTimeoutMs int `yaml:"check_timeout_ms" validate:"min=1"`
	CacheTTLMs     int `yaml:"cache_ttl_ms" validate:"min=0"`
}

// Ingest holds ingestion pipeline tuning.
type Ingest struct {
	QueueCapacity int `yaml:"queue_capacity" validate:"min=1"`
}

// Config is the fully validated runtime configuration.
type Config struct {
	Broker    Broker    `yaml:"broker" validate:"required"`
	Store     Store     `yaml:"store" validate:"required"`
	Cache     Cache     `yaml:"cache"`
	Server    Server    `yaml:"server" validate:"required"`
	RateLimit RateLimit `yaml:"rate_limit"`
	CORS      CORS      `yaml:"cors"`
	Health    Health    `yaml:"health"`
	Ingest    Ingest    `yaml:"ingest"`
}

func defaults() Config {
	return Config{
		Broker: Broker{
			HeartbeatMs:  10000,
			BackoffMaxMs: 60000,
		},
		Store: Store{
			RetentionDays: 90,
		},
		Cache: Cache{
			MaxEntries: 500,
			MaxAge:     Duration(24 * time.Hour),
		},
		Server: Server{
			Listen:           ":8090",
			RequestTimeoutMs: 5000,
		},
		RateLimit: RateLimit{
			Default: 120,
			Health:  60,
		},
		CORS: CORS{
			Origins: nil,
		},
		Health: Health{
			CheckTimeoutMs: 2000,
			CacheTTLMs:     1000,
		},
		Ingest: Ingest{
			QueueCapacity: 1024,
		},
	}
}

// Load reads, strictly decodes and validates the configuration file at path.
// Unknown keys are rejected as a fatal configuration error, per the ingestion
// design's exit-code-2 contract.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := defaults()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config: invalid configuration: %w", err)
	}

	return cfg, nil
}
