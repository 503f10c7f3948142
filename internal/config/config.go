// Package config handles configuration loading and management for fluxcore.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
)

// Config represents the global configuration for fluxcore
type Config struct {
	Engine EngineConfig `yaml:"engine"`
	Agents AgentConfig  `yaml:"agents"`
	Output OutputConfig `yaml:"output"`
	Faults FaultsConfig `yaml:"faults"`
}

// EngineConfig defines the iteration loop configuration
type EngineConfig struct {
	Seed       *int64 `yaml:"seed"`       // nil picks a seed from the clock
	Iterations int    `yaml:"iterations"` // 0 runs until exhausted or stopped
	Start      int    `yaml:"start"`
	Strategy   string `yaml:"strategy"` // overrides the test's strategy class
	MaxSteps   int    `yaml:"max_steps"`
}

// AgentConfig defines the monitor pool configuration
type AgentConfig struct {
	Workers int `yaml:"workers"`
}

// OutputConfig defines the output configuration
type OutputConfig struct {
	Dir       string `yaml:"dir"`
	Format    string `yaml:"format"` // json, text
	LogLevel  string `yaml:"log_level"`
	EnableTUI bool   `yaml:"enable_tui"`
	Quiet     bool   `yaml:"quiet"`
}

// FaultsConfig defines where fault records are stored
type FaultsConfig struct {
	Dir     string `yaml:"dir"`
	Persist bool   `yaml:"persist"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Start:    1,
			MaxSteps: 100,
		},
		Agents: AgentConfig{
			Workers: 8,
		},
		Output: OutputConfig{
			Dir:      "fluxcore-out",
			Format:   "json",
			LogLevel: "info",
		},
		Faults: FaultsConfig{
			Dir:     "fluxcore-out/faults",
			Persist: true,
		},
	}
}

// LoadFile reads path over the defaults. Unknown keys are rejected.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes data over the defaults
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errdefs.WrapConfig("config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	switch {
	case c.Engine.Iterations < 0:
		return errdefs.Config("config", "engine.iterations must not be negative")
	case c.Engine.Start < 1:
		return errdefs.Config("config", "engine.start must be at least 1")
	case c.Engine.MaxSteps < 1:
		return errdefs.Config("config", "engine.max_steps must be at least 1")
	case c.Agents.Workers < 1:
		return errdefs.Config("config", "agents.workers must be at least 1")
	}
	switch c.Output.Format {
	case "json", "text":
	default:
		return errdefs.Config("config", "unknown output format %q", c.Output.Format)
	}
	if _, err := ParseLevel(c.Output.LogLevel); err != nil {
		return errdefs.WrapConfig("config", err)
	}
	return nil
}

// ParseLevel maps a level name to a slog level
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}
