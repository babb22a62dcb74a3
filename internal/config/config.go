// Package config loads the engine configuration from a YAML file with
// environment-variable overrides for deployment-specific and sensitive
// values.
package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/investleague/league-engine/internal/rules"
)

// League declares one league and its rule set. Leagues are configuration
// here because membership management lives outside this service; the engine
// only needs the rules and starting cash to seed and validate ledgers.
type League struct {
	ID              string          `yaml:"id"`
	Name            string          `yaml:"name"`
	StartingCash    decimal.Decimal `yaml:"starting_cash"`
	MaxPositionSize decimal.Decimal `yaml:"max_position_size"` // fraction; 0 disables
	AllowOptions    bool            `yaml:"allow_options"`
	AllowCrypto     bool            `yaml:"allow_crypto"`
	TradingHours    string          `yaml:"trading_hours"` // "24/7" or "market-hours"
}

// Config holds all engine settings.
type Config struct {
	Server struct {
		Port            string `yaml:"port"`
		ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
		WriteTimeoutSec int    `yaml:"write_timeout_sec"`
		IdleTimeoutSec  int    `yaml:"idle_timeout_sec"`
	} `yaml:"server"`

	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`

	Redis struct {
		URL         string `yaml:"url"`
		CacheTTLSec int    `yaml:"cache_ttl_sec"`
	} `yaml:"redis"`

	MarketData struct {
		BaseURL           string `yaml:"base_url"`
		APIKey            string `yaml:"api_key"`
		CacheTTLSec       int    `yaml:"cache_ttl_sec"`
		RequestTimeoutSec int    `yaml:"request_timeout_sec"`
		WSRefreshSec      int    `yaml:"ws_refresh_sec"`
	} `yaml:"market_data"`

	Leagues []League `yaml:"leagues"`
}

// Load reads the YAML file at path and applies env overrides. A missing
// file is not an error: defaults plus environment are enough to run.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// fall through to env overrides
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	// Env overrides for deployment and secrets.
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("ALPHA_VANTAGE_API_KEY"); v != "" {
		cfg.MarketData.APIKey = v
	}

	if len(cfg.Leagues) == 0 {
		cfg.Leagues = []League{demoLeague()}
	}
	return cfg, nil
}

// RuleSets converts the configured leagues into the rule sets consumed by
// the trade executor and aggregator.
func (c *Config) RuleSets() map[string]*rules.RuleSet {
	sets := make(map[string]*rules.RuleSet, len(c.Leagues))
	for _, l := range c.Leagues {
		sets[l.ID] = &rules.RuleSet{
			StartingCash:    l.StartingCash,
			MaxPositionSize: l.MaxPositionSize,
			AllowOptions:    l.AllowOptions,
			AllowCrypto:     l.AllowCrypto,
			TradingHours:    l.TradingHours,
		}
	}
	return sets
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Server.Port = "8080"
	cfg.Server.ReadTimeoutSec = 10
	cfg.Server.WriteTimeoutSec = 10
	cfg.Server.IdleTimeoutSec = 60
	cfg.Redis.CacheTTLSec = 30
	cfg.MarketData.APIKey = "demo"
	cfg.MarketData.CacheTTLSec = 60
	cfg.MarketData.RequestTimeoutSec = 5
	cfg.MarketData.WSRefreshSec = 5
	return cfg
}

func demoLeague() League {
	return League{
		ID:              "demo",
		Name:            "Demo League",
		StartingCash:    decimal.NewFromInt(100000),
		MaxPositionSize: decimal.NewFromFloat(0.2),
		TradingHours:    rules.TradingHoursAlways,
	}
}
