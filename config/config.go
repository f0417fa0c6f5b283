// Package config loads the breakpoint engine configuration: transport
// settings, the retry policy for coordinator control traffic, and the
// breakpoints declared up front for a job.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// NATSConfig holds the messaging layer settings.
type NATSConfig struct {
	URL string `json:"url" yaml:"url"`
}

// RetryConfig bounds the reliable request substrate.
type RetryConfig struct {
	MaxAttempts    int           `json:"maxAttempts" yaml:"maxAttempts"`
	AttemptTimeout time.Duration `json:"attemptTimeout" yaml:"attemptTimeout"`
}

// HTTPConfig holds the control API settings.
type HTTPConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// BreakpointSpec declares one breakpoint to install at startup.
type BreakpointSpec struct {
	ID         string   `json:"id" yaml:"id"`
	Kind       string   `json:"kind" yaml:"kind"`
	Expression string   `json:"expression,omitempty" yaml:"expression,omitempty"`
	Count      int64    `json:"count,omitempty" yaml:"count,omitempty"`
	Layer      []string `json:"layer" yaml:"layer"`
}

// Config is the engine configuration.
type Config struct {
	NATS        NATSConfig       `json:"nats" yaml:"nats"`
	Retry       RetryConfig      `json:"retry" yaml:"retry"`
	HTTP        HTTPConfig       `json:"http" yaml:"http"`
	Breakpoints []BreakpointSpec `json:"breakpoints,omitempty" yaml:"breakpoints,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		NATS: NATSConfig{URL: "nats://127.0.0.1:4222"},
		Retry: RetryConfig{
			MaxAttempts:    10,
			AttemptTimeout: 5 * time.Second,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
	}
}

// LoadFromFile loads a configuration from a YAML file, filling unset
// fields from the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.maxAttempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.AttemptTimeout <= 0 {
		return fmt.Errorf("retry.attemptTimeout must be positive, got %s", c.Retry.AttemptTimeout)
	}
	seen := make(map[string]bool, len(c.Breakpoints))
	for i, bp := range c.Breakpoints {
		if bp.ID == "" {
			return fmt.Errorf("breakpoints[%d]: id is required", i)
		}
		if seen[bp.ID] {
			return fmt.Errorf("breakpoints[%d]: duplicate id %q", i, bp.ID)
		}
		seen[bp.ID] = true

		switch bp.Kind {
		case "conditional":
			if bp.Expression == "" {
				return fmt.Errorf("breakpoint %q: conditional kind requires an expression", bp.ID)
			}
		case "count":
			if bp.Count < 1 {
				return fmt.Errorf("breakpoint %q: count kind requires count >= 1", bp.ID)
			}
		default:
			return fmt.Errorf("breakpoint %q: unknown kind %q", bp.ID, bp.Kind)
		}
		if len(bp.Layer) == 0 {
			return fmt.Errorf("breakpoint %q: layer must name at least one worker", bp.ID)
		}
	}
	return nil
}
