// Package daemon wires the deckd process together: configuration, storage,
// the worker pool and the HTTP server.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full daemon configuration, loaded from
// ~/.deckd/config.toml with environment overrides for secrets.
type Config struct {
	API        APIConfig        `toml:"api"`
	Store      StoreConfig      `toml:"store"`
	Generation GenerationConfig `toml:"generation"`
	Credits    CreditsConfig    `toml:"credits"`
	Stages     StagesConfig     `toml:"stages"`
	Tracing    TracingConfig    `toml:"tracing"`
}

// APIConfig controls the HTTP listener.
type APIConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Metrics bool   `toml:"metrics"`
}

// StoreConfig controls the sqlite data directory.
type StoreConfig struct {
	Dir string `toml:"dir"` // empty: ~/.deckd
}

// GenerationConfig controls the worker pool.
type GenerationConfig struct {
	Workers       int    `toml:"workers"`
	PollInterval  string `toml:"poll_interval"`
	StageTimeout  string `toml:"stage_timeout"`
	MaxSlideCount int    `toml:"max_slide_count"`
}

// CreditsConfig controls pricing.
type CreditsConfig struct {
	CostPerSlide int64 `toml:"cost_per_slide"`
}

// StagesConfig selects and configures the stage adapters.
type StagesConfig struct {
	Provider string `toml:"provider"` // "openai" or "static"
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"` // DECKD_API_KEY overrides
}

// TracingConfig controls the in-memory span buffer.
type TracingConfig struct {
	Enabled  bool `toml:"enabled"`
	MaxSpans int  `toml:"max_spans"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    8844,
			Metrics: true,
		},
		Generation: GenerationConfig{
			Workers:       4,
			PollInterval:  "500ms",
			StageTimeout:  "2m",
			MaxSlideCount: 100,
		},
		Credits: CreditsConfig{
			CostPerSlide: 2,
		},
		Stages: StagesConfig{
			Provider: "openai",
		},
		Tracing: TracingConfig{
			Enabled:  true,
			MaxSpans: 10_000,
		},
	}
}

// Load reads the config file at path (default location when empty), merged
// over defaults. A missing file is not an error. The DECKD_API_KEY
// environment variable overrides the configured stage API key.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = filepath.Join(home(), "config.toml")
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if key := os.Getenv("DECKD_API_KEY"); key != "" {
		cfg.Stages.APIKey = key
	}
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = home()
	}
	return cfg, nil
}

// home returns the deckd state directory (~/.deckd).
func home() string {
	if dir := os.Getenv("DECKD_HOME"); dir != "" {
		return dir
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ".deckd"
	}
	return filepath.Join(userHome, ".deckd")
}

// PollIntervalDuration parses the configured poll cadence, falling back to
// the default on garbage.
func (c GenerationConfig) PollIntervalDuration() time.Duration {
	if d, err := time.ParseDuration(c.PollInterval); err == nil && d > 0 {
		return d
	}
	return 500 * time.Millisecond
}

// StageTimeoutDuration parses the configured stage deadline.
func (c GenerationConfig) StageTimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(c.StageTimeout); err == nil && d > 0 {
		return d
	}
	return 2 * time.Minute
}
