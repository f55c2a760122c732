package infra

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the service. Loaded from YAML, then sensitive
// or deploy-specific values are overridden from the environment.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Binance struct {
		WSURL   string   `yaml:"ws_url"`
		RestURL string   `yaml:"rest_url"`
		Symbols []string `yaml:"symbols"`
	} `yaml:"binance"`

	Audit struct {
		FeeRate          decimal.Decimal `yaml:"fee_rate"`           // 0.001 = 0.1% per fill
		EntryTolerance   decimal.Decimal `yaml:"entry_tolerance"`    // 0.003 = ±0.3% band
		MarketSlippage   decimal.Decimal `yaml:"market_slippage"`    // 0.0005, immediate fills
		LimitSlippage    decimal.Decimal `yaml:"limit_slippage"`     // 0.0002, band-touch fills
		PartialExitRatio decimal.Decimal `yaml:"partial_exit_ratio"` // 0.4 = 40% out at TP1
		SweepIntervalSec int             `yaml:"sweep_interval_sec"`
	} `yaml:"audit"`

	Stream struct {
		ReconnectDelaySec int `yaml:"reconnect_delay_sec"`
		FlushIntervalSec  int `yaml:"flush_interval_sec"`
	} `yaml:"stream"`

	Watchdog struct {
		CheckIntervalSec    int `yaml:"check_interval_sec"`
		SilenceThresholdSec int `yaml:"silence_threshold_sec"`
	} `yaml:"watchdog"`

	Metrics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"metrics"`

	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies environment
// overrides, fills defaults and validates.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Audit.FeeRate.IsZero() {
		c.Audit.FeeRate = decimal.NewFromFloat(0.001)
	}
	if c.Audit.EntryTolerance.IsZero() {
		c.Audit.EntryTolerance = decimal.NewFromFloat(0.003)
	}
	if c.Audit.MarketSlippage.IsZero() {
		c.Audit.MarketSlippage = decimal.NewFromFloat(0.0005)
	}
	if c.Audit.LimitSlippage.IsZero() {
		c.Audit.LimitSlippage = decimal.NewFromFloat(0.0002)
	}
	if c.Audit.PartialExitRatio.IsZero() {
		c.Audit.PartialExitRatio = decimal.NewFromFloat(0.4)
	}
	if c.Audit.SweepIntervalSec <= 0 {
		c.Audit.SweepIntervalSec = 300
	}
	if c.Stream.ReconnectDelaySec <= 0 {
		c.Stream.ReconnectDelaySec = 5
	}
	if c.Stream.FlushIntervalSec <= 0 {
		c.Stream.FlushIntervalSec = 10
	}
	if c.Watchdog.CheckIntervalSec <= 0 {
		c.Watchdog.CheckIntervalSec = 30
	}
	if c.Watchdog.SilenceThresholdSec <= 0 {
		c.Watchdog.SilenceThresholdSec = 45
	}
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = "localhost:6060"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Binance.WSURL == "" || (!hasPrefix(c.Binance.WSURL, "ws://") && !hasPrefix(c.Binance.WSURL, "wss://")) {
		return fmt.Errorf("invalid Binance WS URL: %s", c.Binance.WSURL)
	}
	if c.Binance.RestURL == "" || (!hasPrefix(c.Binance.RestURL, "http://") && !hasPrefix(c.Binance.RestURL, "https://")) {
		return fmt.Errorf("invalid Binance REST URL: %s", c.Binance.RestURL)
	}
	if c.Audit.FeeRate.IsNegative() || c.Audit.FeeRate.GreaterThan(decimal.NewFromFloat(0.01)) {
		return fmt.Errorf("fee rate out of range: %s", c.Audit.FeeRate)
	}
	if c.Audit.PartialExitRatio.IsNegative() || c.Audit.PartialExitRatio.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("partial exit ratio out of range: %s", c.Audit.PartialExitRatio)
	}
	return nil
}

// ReconnectDelay returns the fixed delay between reconnect attempts.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Stream.ReconnectDelaySec) * time.Second
}

// FlushInterval returns the liquidation write-behind flush interval.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Stream.FlushIntervalSec) * time.Second
}

// SweepInterval returns the expiration sweep interval.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Audit.SweepIntervalSec) * time.Second
}

// WatchdogInterval returns the silence check interval.
func (c *Config) WatchdogInterval() time.Duration {
	return time.Duration(c.Watchdog.CheckIntervalSec) * time.Second
}

// SilenceThreshold returns the maximum tolerated stream silence.
func (c *Config) SilenceThreshold() time.Duration {
	return time.Duration(c.Watchdog.SilenceThresholdSec) * time.Second
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv applies environment overrides for deploy-specific values.
func overrideWithEnv(cfg *Config) {
	if url := os.Getenv("SENTINEL_WS_URL"); url != "" {
		cfg.Binance.WSURL = url
	}
	if url := os.Getenv("SENTINEL_REST_URL"); url != "" {
		cfg.Binance.RestURL = url
	}
	if path := os.Getenv("SENTINEL_DB_PATH"); path != "" {
		cfg.Storage.DBPath = path
	}
}
