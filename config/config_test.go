package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
nats:
  url: nats://broker:4222
retry:
  maxAttempts: 4
  attemptTimeout: 2000000000
http:
  addr: ":9090"
breakpoints:
  - id: bp-high-value
    kind: conditional
    expression: "value > 100"
    layer: [worker-1, worker-2]
  - id: bp-first-50
    kind: count
    count: 50
    layer: [worker-1]
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.NATS.URL != "nats://broker:4222" {
		t.Errorf("unexpected NATS URL %q", cfg.NATS.URL)
	}
	if cfg.Retry.MaxAttempts != 4 || cfg.Retry.AttemptTimeout != 2*time.Second {
		t.Errorf("unexpected retry config %+v", cfg.Retry)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("unexpected HTTP addr %q", cfg.HTTP.Addr)
	}
	if len(cfg.Breakpoints) != 2 {
		t.Fatalf("expected 2 breakpoints, got %d", len(cfg.Breakpoints))
	}
	if cfg.Breakpoints[0].Kind != "conditional" || cfg.Breakpoints[0].Expression != "value > 100" {
		t.Errorf("unexpected breakpoint spec %+v", cfg.Breakpoints[0])
	}
	if cfg.Breakpoints[1].Count != 50 || len(cfg.Breakpoints[1].Layer) != 1 {
		t.Errorf("unexpected breakpoint spec %+v", cfg.Breakpoints[1])
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: ":9191"
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	def := Default()
	if cfg.NATS.URL != def.NATS.URL {
		t.Errorf("expected default NATS URL, got %q", cfg.NATS.URL)
	}
	if cfg.Retry != def.Retry {
		t.Errorf("expected default retry, got %+v", cfg.Retry)
	}
	if cfg.HTTP.Addr != ":9191" {
		t.Errorf("expected override preserved, got %q", cfg.HTTP.Addr)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "nats: [unclosed")
	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}

func TestValidateRejections(t *testing.T) {
	base := func() *Config { return Default() }

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "zero retry attempts",
			mutate:  func(c *Config) { c.Retry.MaxAttempts = 0 },
			wantSub: "maxAttempts",
		},
		{
			name:    "non-positive timeout",
			mutate:  func(c *Config) { c.Retry.AttemptTimeout = 0 },
			wantSub: "attemptTimeout",
		},
		{
			name: "missing breakpoint id",
			mutate: func(c *Config) {
				c.Breakpoints = []BreakpointSpec{{Kind: "count", Count: 1, Layer: []string{"w1"}}}
			},
			wantSub: "id is required",
		},
		{
			name: "duplicate breakpoint id",
			mutate: func(c *Config) {
				c.Breakpoints = []BreakpointSpec{
					{ID: "bp", Kind: "count", Count: 1, Layer: []string{"w1"}},
					{ID: "bp", Kind: "count", Count: 2, Layer: []string{"w1"}},
				}
			},
			wantSub: "duplicate id",
		},
		{
			name: "conditional without expression",
			mutate: func(c *Config) {
				c.Breakpoints = []BreakpointSpec{{ID: "bp", Kind: "conditional", Layer: []string{"w1"}}}
			},
			wantSub: "expression",
		},
		{
			name: "count without budget",
			mutate: func(c *Config) {
				c.Breakpoints = []BreakpointSpec{{ID: "bp", Kind: "count", Layer: []string{"w1"}}}
			},
			wantSub: "count >= 1",
		},
		{
			name: "unknown kind",
			mutate: func(c *Config) {
				c.Breakpoints = []BreakpointSpec{{ID: "bp", Kind: "tracepoint", Layer: []string{"w1"}}}
			},
			wantSub: "unknown kind",
		},
		{
			name: "empty layer",
			mutate: func(c *Config) {
				c.Breakpoints = []BreakpointSpec{{ID: "bp", Kind: "count", Count: 1}}
			},
			wantSub: "layer",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}
