// Package config defines the engine configuration: an explicit object
// loaded from a TOML file with an environment-variable overlay, passed to
// the engine at construction time. Nothing reads configuration from ambient
// globals during execution.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

// TypeConfig holds per-entity-type overrides.
type TypeConfig struct {
	// Mode overrides the global hybrid mode for this type.
	Mode string `toml:"mode"`
	// CacheTTL overrides the global cache time-to-live, e.g. "30s".
	CacheTTL string `toml:"cache_ttl"`
	// RelatedTags are extra cache tags this type's entries share with
	// related types.
	RelatedTags []string `toml:"related_tags"`
	// ArrayStyle overrides membership-list serialization per field,
	// e.g. {tags = "pipe"}.
	ArrayStyle map[string]string `toml:"array_style"`
}

// RetryConfig configures the remote executor's retry policy.
type RetryConfig struct {
	MaxRetries     int     `toml:"max_retries" env:"RESTSYNC_MAX_RETRIES"`
	InitialBackoff string  `toml:"initial_backoff" env:"RESTSYNC_INITIAL_BACKOFF"`
	MaxBackoff     string  `toml:"max_backoff" env:"RESTSYNC_MAX_BACKOFF"`
	JitterFraction float64 `toml:"jitter_fraction" env:"RESTSYNC_JITTER_FRACTION"`
}

// Config is the engine configuration.
type Config struct {
	// BaseURL is the remote API root, e.g. "https://api.example.com/v1".
	BaseURL string `toml:"base_url" env:"RESTSYNC_BASE_URL"`
	// Token, when set, is attached as a bearer credential.
	Token string `toml:"token" env:"RESTSYNC_TOKEN"`
	// Mode is the global default hybrid mode.
	Mode string `toml:"mode" env:"RESTSYNC_MODE"`
	// CacheTTL is the default cache time-to-live, e.g. "5m".
	CacheTTL string `toml:"cache_ttl" env:"RESTSYNC_CACHE_TTL"`
	// Timeout bounds each remote call, e.g. "10s".
	Timeout string `toml:"timeout" env:"RESTSYNC_TIMEOUT"`
	// StorePath is the local SQLite database path. Empty disables the
	// local store; modes that need one then fail at operation time.
	StorePath string `toml:"store_path" env:"RESTSYNC_STORE_PATH"`
	// PaginationStyle is "limit_offset" (default) or "page".
	PaginationStyle string `toml:"pagination_style" env:"RESTSYNC_PAGINATION_STYLE"`
	// ArrayStyle is the default membership-list serialization:
	// "comma" (default), "space", or "pipe".
	ArrayStyle string `toml:"array_style" env:"RESTSYNC_ARRAY_STYLE"`
	// ContainerKeys are the recognized list-container envelope keys.
	// Defaults to ["data"].
	ContainerKeys []string `toml:"container_keys"`
	// PersistFallback persists remote fallback results into the local
	// store under local-first mode.
	PersistFallback bool `toml:"persist_fallback" env:"RESTSYNC_PERSIST_FALLBACK"`
	// ConflictStrategy is "newer" (default), "remote", or "local".
	ConflictStrategy string `toml:"conflict_strategy" env:"RESTSYNC_CONFLICT_STRATEGY"`

	Retry RetryConfig           `toml:"retry"`
	Types map[string]TypeConfig `toml:"types"`
}

// Default returns the configuration used when no file or environment
// settings are present.
func Default() *Config {
	return &Config{
		Mode:     "remote_only",
		CacheTTL: "5m",
		Timeout:  "10s",
		Retry: RetryConfig{
			MaxRetries:     3,
			InitialBackoff: "500ms",
			MaxBackoff:     "30s",
			JitterFraction: 0.25,
		},
	}
}

// Load reads a TOML configuration file and applies the environment overlay
// on top. A missing file is not an error; the defaults plus environment
// apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to disk.
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks that every duration and enum token parses.
func (c *Config) Validate() error {
	for name, value := range map[string]string{
		"cache_ttl":       c.CacheTTL,
		"timeout":         c.Timeout,
		"initial_backoff": c.Retry.InitialBackoff,
		"max_backoff":     c.Retry.MaxBackoff,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
	}
	for typeName, tc := range c.Types {
		if tc.CacheTTL != "" {
			if _, err := time.ParseDuration(tc.CacheTTL); err != nil {
				return fmt.Errorf("invalid cache_ttl for type %q: %w", typeName, err)
			}
		}
	}
	return nil
}

// Duration parses a duration field, falling back when empty or malformed.
// Validate has already rejected malformed values on the Load path.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
