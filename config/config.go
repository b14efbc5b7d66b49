// Package config loads the engine's runtime configuration: provider
// credential lists per class, quotas, timeouts, storage root, and
// concurrency caps. Load starts from Default, applies an optional
// engine.yaml file, then applies environment variables. Environment
// variables exist only for the storage root, the Redis address, the
// session cap and the synthetic-fallback toggle; provider credential
// lists, quotas and deadlines are read from the file alone. This mirrors
// the functional-options-plus-env-plus-optional-file-override pattern this
// codebase's own configuration loader uses (AIOption-style functional
// options for component construction, a yaml.v3-parsed file for bulk
// settings).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderCredential is one entry in a provider class's configured pool.
type ProviderCredential struct {
	Name         string `yaml:"name"`
	Priority     int    `yaml:"priority"`
	Credentials  string `yaml:"credentials"`
	ModelOrIndex string `yaml:"model_or_index"`
	DailyQuota   int64  `yaml:"daily_quota"`
}

// Config is the engine's fully resolved runtime configuration.
type Config struct {
	StorageRoot          string                           `yaml:"storage_root"`
	RedisAddr            string                           `yaml:"redis_addr"`
	MaxConcurrentSessions int                             `yaml:"max_concurrent_sessions"`
	ComponentDeadline    time.Duration                     `yaml:"component_deadline"`
	DispatchDeadline     time.Duration                     `yaml:"dispatch_deadline"`
	AllowSyntheticFallback bool                            `yaml:"allow_synthetic_fallback"`
	Providers            map[string][]ProviderCredential  `yaml:"providers"`
}

// Default returns a Config with sane defaults; Load layers environment
// variables and an optional file on top of it.
func Default() Config {
	return Config{
		StorageRoot:            "./data",
		MaxConcurrentSessions:  8,
		ComponentDeadline:      10 * time.Minute,
		DispatchDeadline:       60 * time.Second,
		AllowSyntheticFallback: false,
		Providers:              make(map[string][]ProviderCredential),
	}
}

// Load builds a Config starting from Default(), applying an optional
// YAML override file (path from ENGINE_CONFIG_FILE, default
// "engine.yaml" if present), then environment variables, which take
// final precedence.
func Load() (Config, error) {
	cfg := Default()

	path := os.Getenv("ENGINE_CONFIG_FILE")
	if path == "" {
		path = "engine.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: read %q: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if len(cfg.Providers["llm"]) == 0 || len(cfg.Providers["search"]) == 0 {
		return cfg, fmt.Errorf("config: at least one llm and one search provider must be configured")
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ENGINE_STORAGE_ROOT"); v != "" {
		cfg.StorageRoot = v
	}
	if v := os.Getenv("ENGINE_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("ENGINE_MAX_CONCURRENT_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrentSessions = n
		}
	}
	if v := os.Getenv("ENGINE_ALLOW_SYNTHETIC_FALLBACK"); v != "" {
		cfg.AllowSyntheticFallback = v == "true" || v == "1"
	}
}
