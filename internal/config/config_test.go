package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
trading:
  profit_target_rate: 0.05
  candle_interval: 3m
storage:
  use_memory: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Trading.ProfitTargetRate != 0.05 {
		t.Errorf("ProfitTargetRate: got %f, want 0.05", cfg.Trading.ProfitTargetRate)
	}
	if cfg.Trading.CandleInterval != 3*time.Minute {
		t.Errorf("CandleInterval: got %s, want 3m", cfg.Trading.CandleInterval)
	}
	// Untouched fields keep defaults.
	if cfg.Trading.StopLossRate != 0.025 {
		t.Errorf("StopLossRate default: got %f, want 0.025", cfg.Trading.StopLossRate)
	}
	if cfg.Trading.MinOrderQty != 1 {
		t.Errorf("MinOrderQty default: got %d, want 1", cfg.Trading.MinOrderQty)
	}
}

func TestLoad_EnvSecretOverride(t *testing.T) {
	path := writeConfig(t, `
storage:
  use_memory: true
`)

	t.Setenv("KIS_APP_KEY", "env-key")
	t.Setenv("KIS_APP_SECRET", "env-secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Venue.AppKey != "env-key" || cfg.Venue.AppSecret != "env-secret" {
		t.Errorf("env overrides not applied: %+v", cfg.Venue)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero profit target", func(c *Config) { c.Trading.ProfitTargetRate = 0 }},
		{"trailing rate too large", func(c *Config) { c.Trading.TrailingStopRate = 1 }},
		{"negative stop loss", func(c *Config) { c.Trading.StopLossRate = -0.01 }},
		{"zero min qty", func(c *Config) { c.Trading.MinOrderQty = 0 }},
		{"unknown market", func(c *Config) { c.Trading.DisabledMarkets = []string{"lunar"} }},
		{"missing dsn", func(c *Config) { c.Storage.UseMemory = false; c.Storage.PostgresDSN = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Storage.UseMemory = true
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}
