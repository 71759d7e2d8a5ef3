package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/screenshare/backend/internal/frame"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
web:
  port: 8080
desktop:
  port: 5556
security:
  code_length: 8
  require_approval: false
quality:
  low:
    scale: 50
    jpeg_quality: 60
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Web.Port != 8080 {
		t.Errorf("web port = %d, want 8080", cfg.Web.Port)
	}
	if cfg.Desktop.Port != 5556 {
		t.Errorf("desktop port = %d, want 5556", cfg.Desktop.Port)
	}
	if cfg.Security.CodeLength != 8 {
		t.Errorf("code length = %d, want 8", cfg.Security.CodeLength)
	}
	if cfg.Security.RequireApproval {
		t.Error("require_approval should be overridden to false")
	}
	// Unspecified sections keep their defaults.
	if cfg.Capture.Source != "screen" {
		t.Errorf("capture source = %q, want screen", cfg.Capture.Source)
	}

	table, err := cfg.TierTable()
	if err != nil {
		t.Fatalf("TierTable: %v", err)
	}
	if table[frame.Low].ScalePercent != 50 {
		t.Errorf("low scale = %d, want 50", table[frame.Low].ScalePercent)
	}
	// Tiers not mentioned in the file keep their defaults.
	if table[frame.High].JPEGQuality != 95 {
		t.Errorf("high jpeg quality = %d, want 95", table[frame.High].JPEGQuality)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad web port", func(c *Config) { c.Web.Port = 0 }},
		{"bad desktop port", func(c *Config) { c.Desktop.Port = 70000 }},
		{"port collision", func(c *Config) { c.Desktop.Port = c.Web.Port }},
		{"short code", func(c *Config) { c.Security.CodeLength = 2 }},
		{"zero session ttl", func(c *Config) { c.Security.SessionTTL = 0 }},
		{"missing tier", func(c *Config) { delete(c.Quality, "medium") }},
		{"bad tier scale", func(c *Config) {
			c.Quality["low"] = frame.TierSettings{ScalePercent: 0, JPEGQuality: 75}
		}},
		{"unknown tier name", func(c *Config) {
			c.Quality["ultra"] = frame.TierSettings{ScalePercent: 100, JPEGQuality: 99}
		}},
		{"zero rate floor", func(c *Config) { c.Rates.Capture.Floor = 0 }},
		{"unknown source", func(c *Config) { c.Capture.Source = "webcam" }},
		{"unknown tunnel", func(c *Config) { c.Tunnel.Provider = "serveo" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
