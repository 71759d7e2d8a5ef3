package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/screenshare/backend/internal/capture"
	"github.com/screenshare/backend/internal/frame"
)

type Config struct {
	Web      WebConfig                     `yaml:"web"`
	Desktop  DesktopConfig                 `yaml:"desktop"`
	Security SecurityConfig                `yaml:"security"`
	Capture  CaptureConfig                 `yaml:"capture"`
	Quality  map[string]frame.TierSettings `yaml:"quality"`
	Rates    RatesConfig                   `yaml:"rates"`
	Tunnel   TunnelConfig                  `yaml:"tunnel"`
}

type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DesktopConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Enabled bool   `yaml:"enabled"`
}

type SecurityConfig struct {
	CodeLength      int           `yaml:"code_length"`
	RequireApproval bool          `yaml:"require_approval"`
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`
	// SessionTTL bounds how long a verified session may sit idle before it
	// opens a stream; stale ones are reaped so they stop counting as viewers.
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type CaptureConfig struct {
	// Source selects the frame source: "screen" (gst build) or "synthetic".
	Source string `yaml:"source"`
	// Synthetic source dimensions.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type RatesConfig struct {
	Capture  capture.RatePolicy `yaml:"capture"`
	Delivery capture.RatePolicy `yaml:"delivery"`
}

type TunnelConfig struct {
	// Provider is "", "cloudflared", or "ngrok".
	Provider string `yaml:"provider"`
}

// Default returns the stock configuration, matching the defaults the wire
// protocols document.
func Default() *Config {
	return &Config{
		Web: WebConfig{
			Host: "0.0.0.0",
			Port: 5000,
		},
		Desktop: DesktopConfig{
			Host:    "0.0.0.0",
			Port:    5555,
			Enabled: true,
		},
		Security: SecurityConfig{
			CodeLength:      6,
			RequireApproval: true,
			ApprovalTimeout: 60 * time.Second,
			SessionTTL:      2 * time.Minute,
		},
		Capture: CaptureConfig{
			Source: "screen",
			Width:  1280,
			Height: 720,
		},
		Quality: map[string]frame.TierSettings{
			"high":   {ScalePercent: 100, JPEGQuality: 95},
			"medium": {ScalePercent: 85, JPEGQuality: 85},
			"low":    {ScalePercent: 70, JPEGQuality: 75},
		},
		Rates: RatesConfig{
			Capture:  capture.DefaultCapturePolicy(),
			Delivery: capture.DefaultDeliveryPolicy(),
		},
	}
}

// Load reads a yaml file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that must not reach a listener: bad
// ports, broken quality tables, non-monotone rate policies.
func (c *Config) Validate() error {
	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web port %d out of range", c.Web.Port)
	}
	if c.Desktop.Enabled && (c.Desktop.Port <= 0 || c.Desktop.Port > 65535) {
		return fmt.Errorf("desktop port %d out of range", c.Desktop.Port)
	}
	if c.Web.Port == c.Desktop.Port && c.Desktop.Enabled {
		return fmt.Errorf("web and desktop ports collide on %d", c.Web.Port)
	}
	if c.Security.CodeLength < 4 {
		return fmt.Errorf("security code length %d too short", c.Security.CodeLength)
	}
	if c.Security.SessionTTL <= 0 {
		return fmt.Errorf("session ttl must be positive, got %v", c.Security.SessionTTL)
	}
	if _, err := c.TierTable(); err != nil {
		return err
	}
	if err := c.Rates.Capture.Validate(); err != nil {
		return fmt.Errorf("capture rate policy: %w", err)
	}
	if err := c.Rates.Delivery.Validate(); err != nil {
		return fmt.Errorf("delivery rate policy: %w", err)
	}
	switch c.Capture.Source {
	case "screen", "synthetic":
	default:
		return fmt.Errorf("unknown capture source %q", c.Capture.Source)
	}
	switch c.Tunnel.Provider {
	case "", "cloudflared", "ngrok":
	default:
		return fmt.Errorf("unknown tunnel provider %q", c.Tunnel.Provider)
	}
	return nil
}

// TierTable converts the yaml quality table into tier-keyed settings. Every
// tier must be present and within range.
func (c *Config) TierTable() (map[frame.Tier]frame.TierSettings, error) {
	table := make(map[frame.Tier]frame.TierSettings, len(c.Quality))
	for name, settings := range c.Quality {
		tier, err := frame.ParseTier(name)
		if err != nil {
			return nil, err
		}
		if settings.ScalePercent <= 0 || settings.ScalePercent > 100 {
			return nil, fmt.Errorf("tier %s: scale %d out of range", name, settings.ScalePercent)
		}
		if settings.JPEGQuality <= 0 || settings.JPEGQuality > 100 {
			return nil, fmt.Errorf("tier %s: jpeg quality %d out of range", name, settings.JPEGQuality)
		}
		table[tier] = settings
	}
	for _, tier := range frame.Tiers() {
		if _, ok := table[tier]; !ok {
			return nil, fmt.Errorf("quality table missing tier %s", tier)
		}
	}
	return table, nil
}
