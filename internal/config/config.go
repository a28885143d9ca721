// Package config loads the handler's YAML configuration file: backend
// selection, concurrency caps, retry budget, and the ambient logging
// and metrics surface.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Handler holds the recognized per-handler options.
type Handler struct {
	Name        string        `yaml:"name"`
	WorkDir     string        `yaml:"work_dir"`
	Backend     string        `yaml:"backend"`     // "local" or "batch"
	LocalMax    int           `yaml:"local_max"`   // 0 = all batch
	RunMax      int           `yaml:"run_max"`     // 0 = unbounded
	MaxRetries  int           `yaml:"max_retries"` // default retry budget
	IsVerbose   bool          `yaml:"is_verbose"`
	Theme       []string      `yaml:"theme"`
	UseSnapshot bool          `yaml:"use_snapshot"`
	TickEvery   time.Duration `yaml:"tick_interval"`
}

// Logging configures the ambient slog handler.
type Logging struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Metrics configures the ambient Prometheus endpoint.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Config is the root configuration document. Backend is the
// process-wide fallback consulted only when a handler doesn't set one
// explicitly.
type Config struct {
	Handler Handler `yaml:"handler"`
	Backend string  `yaml:"backend"`
	Logging Logging `yaml:"logging"`
	Metrics Metrics `yaml:"metrics"`
}

// Default returns a Config with conservative defaults: local_max=0
// (everything runs batch), run_max unbounded, max_retries=0, and a
// 5-second tick interval.
func Default() Config {
	return Config{
		Handler: Handler{
			Backend:   "batch",
			TickEvery: 5 * time.Second,
		},
		Backend: "batch",
		Logging: Logging{Level: "info", Format: "text"},
		Metrics: Metrics{Enabled: false, Addr: ":9090"},
	}
}

// Load reads and parses a YAML config file, filling gaps with Default.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if cfg.Handler.Backend == "" {
		cfg.Handler.Backend = cfg.Backend
	}
	if cfg.Handler.TickEvery == 0 {
		cfg.Handler.TickEvery = 5 * time.Second
	}
	return cfg, nil
}
