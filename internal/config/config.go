// Package config loads and validates the service configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"equity-auto-trader/internal/domain"
)

// Config is the full service configuration, loaded from a YAML file with
// environment variables overriding venue secrets.
type Config struct {
	Venue   VenueConfig   `yaml:"venue"`
	Trading TradingConfig `yaml:"trading"`
	Webhook WebhookConfig `yaml:"webhook"`
	Storage StorageConfig `yaml:"storage"`
}

// VenueConfig identifies the brokerage environment and account.
type VenueConfig struct {
	BaseURL            string `yaml:"base_url"`
	WSURL              string `yaml:"ws_url"`
	AppKey             string `yaml:"app_key"`
	AppSecret          string `yaml:"app_secret"`
	AccountNo          string `yaml:"account_no"`
	AccountProductCode string `yaml:"account_product_code"`
	Paper              bool   `yaml:"paper"`
}

// TradingConfig holds the position lifecycle rules. The partial exit
// fraction and minimum lot are configurable because the rounding policy
// is a deliberate knob, not a constant.
type TradingConfig struct {
	ProfitTargetRate    float64       `yaml:"profit_target_rate"`
	TrailingStopRate    float64       `yaml:"trailing_stop_rate"`
	StopLossRate        float64       `yaml:"stop_loss_rate"`
	PartialExitFraction float64       `yaml:"partial_exit_fraction"`
	MinOrderQty         int64         `yaml:"min_order_qty"`
	OrderNotional       float64       `yaml:"order_notional"`
	CandleInterval      time.Duration `yaml:"candle_interval"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	DisabledMarkets     []string      `yaml:"disabled_markets"`
}

// WebhookConfig configures the inbound signal endpoint.
type WebhookConfig struct {
	Addr        string `yaml:"addr"`
	Path        string `yaml:"path"`
	SecretToken string `yaml:"secret_token"`
}

// StorageConfig selects the backing stores.
type StorageConfig struct {
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
	UseMemory     bool   `yaml:"use_memory"`
}

// Default returns a configuration with the documented rule defaults.
func Default() *Config {
	return &Config{
		Trading: TradingConfig{
			ProfitTargetRate:    0.03,
			TrailingStopRate:    0.02,
			StopLossRate:        0.025,
			PartialExitFraction: 0.5,
			MinOrderQty:         1,
			OrderNotional:       1_000_000,
			CandleInterval:      time.Minute,
			PollInterval:        10 * time.Second,
		},
		Webhook: WebhookConfig{
			Addr: ":8080",
			Path: "/webhook",
		},
	}
}

// Load reads a YAML config file, applies defaults and env overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Secrets may come from the environment instead of the file.
	if v := os.Getenv("KIS_APP_KEY"); v != "" {
		cfg.Venue.AppKey = v
	}
	if v := os.Getenv("KIS_APP_SECRET"); v != "" {
		cfg.Venue.AppSecret = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("CLICKHOUSE_DSN"); v != "" {
		cfg.Storage.ClickhouseDSN = v
	}
	if v := os.Getenv("WEBHOOK_SECRET_TOKEN"); v != "" {
		cfg.Webhook.SecretToken = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks rule and wiring sanity.
func (c *Config) Validate() error {
	t := c.Trading
	if t.ProfitTargetRate <= 0 || t.ProfitTargetRate >= 1 {
		return fmt.Errorf("profit_target_rate must be in (0, 1): %f", t.ProfitTargetRate)
	}
	if t.TrailingStopRate <= 0 || t.TrailingStopRate >= 1 {
		return fmt.Errorf("trailing_stop_rate must be in (0, 1): %f", t.TrailingStopRate)
	}
	if t.StopLossRate <= 0 || t.StopLossRate >= 1 {
		return fmt.Errorf("stop_loss_rate must be in (0, 1): %f", t.StopLossRate)
	}
	if t.PartialExitFraction <= 0 || t.PartialExitFraction > 1 {
		return fmt.Errorf("partial_exit_fraction must be in (0, 1]: %f", t.PartialExitFraction)
	}
	if t.MinOrderQty < 1 {
		return fmt.Errorf("min_order_qty must be >= 1: %d", t.MinOrderQty)
	}
	if t.OrderNotional <= 0 {
		return fmt.Errorf("order_notional must be positive: %f", t.OrderNotional)
	}
	if t.CandleInterval <= 0 {
		return fmt.Errorf("candle_interval must be positive: %s", t.CandleInterval)
	}
	for _, m := range t.DisabledMarkets {
		if m != domain.MarketDomestic && m != domain.MarketOverseas {
			return fmt.Errorf("unknown market in disabled_markets: %q", m)
		}
	}
	if !c.Storage.UseMemory && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("postgres_dsn is required unless use_memory is set")
	}
	return nil
}

// DisabledMarketSet returns the disabled markets as a lookup set.
func (c *Config) DisabledMarketSet() map[string]bool {
	set := make(map[string]bool, len(c.Trading.DisabledMarkets))
	for _, m := range c.Trading.DisabledMarkets {
		set[m] = true
	}
	return set
}
