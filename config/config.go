// Package config loads the platform configuration from a YAML file with
// environment-variable overrides. Every recognised option carries a default
// matching the platform contracts: a 5 minute event replay window, 15 second
// heartbeats, a 0.95 semantic-cache hit threshold with a 30 day TTL, and
// three document-processing retries before dead-letter.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	// Config is the full recognised option set.
	Config struct {
		// DatabaseURL is the primary datastore connection string. The
		// vector index lives in the same database.
		DatabaseURL string `yaml:"database_url"`
		// EventBusURL is the Redis connection string backing broadcast and
		// replay.
		EventBusURL string `yaml:"event_bus_url"`

		// Legislation configures the gateway endpoints and probe loop.
		Legislation Legislation `yaml:"legislation"`
		// Events configures the fabric windows.
		Events Events `yaml:"events"`
		// Embedding configures the embedding provider.
		Embedding Embedding `yaml:"embedding"`
		// Chunking configures the ingestion chunker.
		Chunking Chunking `yaml:"chunking"`
		// Models maps capability tiers to model identifiers.
		Models Models `yaml:"models"`
		// Cache configures the semantic cache.
		Cache Cache `yaml:"cache"`

		// MaxUploadBytes bounds document uploads.
		MaxUploadBytes int64 `yaml:"max_upload_bytes"`
		// MaxRetries is the document processing retry budget before
		// dead-letter.
		MaxRetries int `yaml:"max_retries"`

		// AnthropicAPIKey and OpenAIAPIKey are provider credentials,
		// normally supplied through the environment.
		AnthropicAPIKey string `yaml:"anthropic_api_key"`
		OpenAIAPIKey    string `yaml:"openai_api_key"`
	}

	// Legislation holds the gateway endpoints and health/change settings.
	Legislation struct {
		PrimaryURL                 string `yaml:"primary_url"`
		FallbackURL                string `yaml:"fallback_url"`
		HealthCheckIntervalSeconds int    `yaml:"health_check_interval_seconds"`
		SnapshotDir                string `yaml:"snapshot_dir"`
		ChangeCheckIntervalHours   int    `yaml:"change_check_interval_hours"`
	}

	// Events holds the fabric retention and keep-alive settings.
	Events struct {
		ReplayWindowSeconds int `yaml:"replay_window_seconds"`
		HeartbeatSeconds    int `yaml:"heartbeat_seconds"`
	}

	// Embedding holds the embedding provider settings.
	Embedding struct {
		Model      string `yaml:"model"`
		Dimensions int    `yaml:"dimensions"`
		BatchSize  int    `yaml:"batch_size"`
	}

	// Chunking holds the ingestion chunker token budgets.
	Chunking struct {
		TargetTokens  int `yaml:"target_tokens"`
		MaxTokens     int `yaml:"max_tokens"`
		OverlapTokens int `yaml:"overlap_tokens"`
	}

	// Models maps the capability tiers to provider model identifiers.
	Models struct {
		Fast     string `yaml:"fast"`
		Standard string `yaml:"standard"`
		Advanced string `yaml:"advanced"`
	}

	// Cache holds the semantic cache settings.
	Cache struct {
		Enabled      bool    `yaml:"enabled"`
		HitThreshold float64 `yaml:"hit_threshold"`
		TTLDays      int     `yaml:"ttl_days"`
	}
)

// Default returns a Config populated with every default.
func Default() Config {
	return Config{
		Legislation: Legislation{
			HealthCheckIntervalSeconds: 30,
			SnapshotDir:                "data/legislation-snapshots",
			ChangeCheckIntervalHours:   24,
		},
		Events: Events{
			ReplayWindowSeconds: 300,
			HeartbeatSeconds:    15,
		},
		Embedding: Embedding{
			Model:      "text-embedding-3-large",
			Dimensions: 1024,
			BatchSize:  64,
		},
		Chunking: Chunking{
			TargetTokens:  512,
			MaxTokens:     1024,
			OverlapTokens: 64,
		},
		Cache: Cache{
			Enabled:      true,
			HitThreshold: 0.95,
			TTLDays:      30,
		},
		MaxUploadBytes: 50 << 20,
		MaxRetries:     3,
	}
}

// Load reads the YAML file at path (optional; empty path skips the file),
// applies environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides file values with CLEARLINE_-prefixed environment
// variables. Credentials also accept the providers' conventional names.
func (c *Config) applyEnv() {
	envStr("CLEARLINE_DATABASE_URL", &c.DatabaseURL)
	envStr("CLEARLINE_EVENT_BUS_URL", &c.EventBusURL)
	envStr("CLEARLINE_LEGISLATION_PRIMARY_URL", &c.Legislation.PrimaryURL)
	envStr("CLEARLINE_LEGISLATION_FALLBACK_URL", &c.Legislation.FallbackURL)
	envStr("CLEARLINE_SNAPSHOT_DIR", &c.Legislation.SnapshotDir)
	envInt("CLEARLINE_REPLAY_WINDOW_SECONDS", &c.Events.ReplayWindowSeconds)
	envInt("CLEARLINE_HEARTBEAT_SECONDS", &c.Events.HeartbeatSeconds)
	envStr("CLEARLINE_MODEL_FAST", &c.Models.Fast)
	envStr("CLEARLINE_MODEL_STANDARD", &c.Models.Standard)
	envStr("CLEARLINE_MODEL_ADVANCED", &c.Models.Advanced)
	// The providers' conventional names apply first so the namespaced
	// variants win when both are set.
	envStr("ANTHROPIC_API_KEY", &c.AnthropicAPIKey)
	envStr("OPENAI_API_KEY", &c.OpenAIAPIKey)
	envStr("CLEARLINE_ANTHROPIC_API_KEY", &c.AnthropicAPIKey)
	envStr("CLEARLINE_OPENAI_API_KEY", &c.OpenAIAPIKey)
}

// Validate checks the options that have no workable default.
func (c *Config) Validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("config: database_url is required")
	case c.EventBusURL == "":
		return errors.New("config: event_bus_url is required")
	case c.Legislation.PrimaryURL == "":
		return errors.New("config: legislation.primary_url is required")
	case c.Legislation.FallbackURL == "":
		return errors.New("config: legislation.fallback_url is required")
	case c.Models.Standard == "":
		return errors.New("config: models.standard is required")
	}
	if c.Cache.HitThreshold <= 0 || c.Cache.HitThreshold > 1 {
		return fmt.Errorf("config: cache.hit_threshold %v is outside (0, 1]", c.Cache.HitThreshold)
	}
	return nil
}

// ReplayWindow returns the fabric retention window as a duration.
func (c *Config) ReplayWindow() time.Duration {
	return time.Duration(c.Events.ReplayWindowSeconds) * time.Second
}

// Heartbeat returns the fabric keep-alive interval as a duration.
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.Events.HeartbeatSeconds) * time.Second
}

// CacheTTL returns the semantic cache entry lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLDays) * 24 * time.Hour
}

// HealthCheckInterval returns the legislation probe period.
func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.Legislation.HealthCheckIntervalSeconds) * time.Second
}

// ChangeCheckInterval returns the dataset change-detection period.
func (c *Config) ChangeCheckInterval() time.Duration {
	return time.Duration(c.Legislation.ChangeCheckIntervalHours) * time.Hour
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
