package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for pnlscope.
type Config struct {
	Storage    Storage    `yaml:"storage"`
	Server     Server     `yaml:"server"`
	MarketData MarketData `yaml:"market_data"`
	Alpaca     Alpaca     `yaml:"alpaca"`
	Yahoo      Yahoo      `yaml:"yahoo"`
	Analysis   Analysis   `yaml:"analysis"`
	Refresh    Refresh    `yaml:"refresh"`
	Logging    Logging    `yaml:"logging"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`    // Parquet bar cache root
	SQLitePath string `yaml:"sqlite_path"` // analysis results
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// MarketData selects and tunes the bar provider.
type MarketData struct {
	Provider        string `yaml:"provider"` // "yahoo" or "alpaca"
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	Cache           bool   `yaml:"cache"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	DataURL    string `yaml:"data_url"`
	TradingURL string `yaml:"trading_url"`
	Feed       string `yaml:"feed"`
}

// Yahoo configures the Yahoo Finance chart endpoint.
type Yahoo struct {
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// Analysis tunes the profit engine and persistence.
type Analysis struct {
	Horizon          int `yaml:"horizon"`
	ChartDays        int `yaml:"chart_days"`
	PersistAttempts  int `yaml:"persist_attempts"`
	PersistBackoffMs int `yaml:"persist_backoff_ms"`
}

// Refresh controls the background job that completes sessions persisted
// before their full horizon had traded.
type Refresh struct {
	Enabled      bool   `yaml:"enabled"`
	Schedule     string `yaml:"schedule"` // cron spec with seconds field
	LookbackDays int    `yaml:"lookback_days"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// YahooTimeout returns the HTTP timeout for Yahoo requests.
func (c *Config) YahooTimeout() time.Duration {
	return time.Duration(c.Yahoo.TimeoutSec) * time.Second
}

// PersistBackoff returns the initial delay between persist attempts.
func (c *Config) PersistBackoff() time.Duration {
	return time.Duration(c.Analysis.PersistBackoffMs) * time.Millisecond
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, fills defaults, and then applies environment variable
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOptional behaves like Load but falls back to Default when the file
// does not exist.
func LoadOptional(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Default returns the built-in configuration with environment overrides.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg
}

// Validate reports configuration values the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Storage.SQLitePath == "" {
		errs = append(errs, errors.New("storage.sqlite_path is required"))
	}
	if c.MarketData.Cache && c.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir is required when market_data.cache is on"))
	}
	switch c.MarketData.Provider {
	case "yahoo":
	case "alpaca":
		if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
			errs = append(errs, errors.New("alpaca provider requires api_key and api_secret"))
		}
	default:
		errs = append(errs, fmt.Errorf("market_data.provider %q is not one of yahoo, alpaca", c.MarketData.Provider))
	}
	if c.Analysis.Horizon < 1 {
		errs = append(errs, fmt.Errorf("analysis.horizon must be >= 1, got %d", c.Analysis.Horizon))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("server.grpc_port %d out of range", c.Server.GRPCPort))
	}
	return errors.Join(errs...)
}

// applyDefaults fills zero-valued fields.
func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "stock_analysis.db"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.MarketData.Provider == "" {
		cfg.MarketData.Provider = "yahoo"
	}
	if cfg.MarketData.RateLimitPerMin == 0 {
		cfg.MarketData.RateLimitPerMin = 120
	}
	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "iex"
	}
	if cfg.Yahoo.TimeoutSec == 0 {
		cfg.Yahoo.TimeoutSec = 30
	}
	if cfg.Analysis.Horizon == 0 {
		cfg.Analysis.Horizon = 7
	}
	if cfg.Analysis.ChartDays == 0 {
		cfg.Analysis.ChartDays = 30
	}
	if cfg.Analysis.PersistAttempts == 0 {
		cfg.Analysis.PersistAttempts = 3
	}
	if cfg.Analysis.PersistBackoffMs == 0 {
		cfg.Analysis.PersistBackoffMs = 200
	}
	if cfg.Refresh.Schedule == "" {
		cfg.Refresh.Schedule = "0 30 21 * * 1-5"
	}
	if cfg.Refresh.LookbackDays == 0 {
		cfg.Refresh.LookbackDays = 21
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("MARKETDATA_PROVIDER"); v != "" {
		cfg.MarketData.Provider = v
	}

	if v := os.Getenv("PNLSCOPE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("ALPACA_TRADING_URL"); v != "" {
		cfg.Alpaca.TradingURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
