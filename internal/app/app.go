// Package app assembles the analysis stack from configuration. Commands use
// it so the server and the CLI wire sources, caches and stores the same way.
package app

import (
	"fmt"
	"log/slog"

	"pnlscope/internal/analysis"
	"pnlscope/internal/chart"
	"pnlscope/internal/config"
	"pnlscope/internal/marketdata"
	"pnlscope/internal/store"
)

// App holds the long-lived components built from a Config.
type App struct {
	Config   *config.Config
	Source   marketdata.Source
	Store    store.ResultStore
	Analyzer *analysis.Analyzer
	Charts   *chart.Renderer
	Log      *slog.Logger
}

// New builds the market data source (behind the Parquet cache when
// enabled), opens the SQLite result store and creates the Analyzer. The
// caller must Close the App.
func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	src, err := NewSource(cfg)
	if err != nil {
		return nil, err
	}

	st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("opening result store: %w", err)
	}

	a := analysis.NewAnalyzer(src, st, cfg.Analysis.Horizon, log,
		analysis.WithPersistRetry(cfg.Analysis.PersistAttempts, cfg.PersistBackoff()))

	log.Info("analysis stack ready",
		"provider", src.Name(),
		"cache", cfg.MarketData.Cache,
		"sqlite", cfg.Storage.SQLitePath,
		"horizon", a.Horizon(),
	)
	return &App{
		Config:   cfg,
		Source:   src,
		Store:    st,
		Analyzer: a,
		Charts:   chart.NewRenderer(0, 0),
		Log:      log,
	}, nil
}

// NewSource builds the configured market data source.
func NewSource(cfg *config.Config) (marketdata.Source, error) {
	src, err := marketdata.New(marketdata.Options{
		Provider:         cfg.MarketData.Provider,
		RateLimitPerMin:  cfg.MarketData.RateLimitPerMin,
		Timeout:          cfg.YahooTimeout(),
		AlpacaKey:        cfg.Alpaca.APIKey,
		AlpacaSecret:     cfg.Alpaca.APISecret,
		AlpacaDataURL:    cfg.Alpaca.DataURL,
		AlpacaTradingURL: cfg.Alpaca.TradingURL,
		AlpacaFeed:       cfg.Alpaca.Feed,
		YahooBaseURL:     cfg.Yahoo.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	if cfg.MarketData.Cache && cfg.Storage.DataDir != "" {
		src = marketdata.NewCachedSource(src, store.NewParquetStore(cfg.Storage.DataDir))
	}
	return src, nil
}

// Close releases the result store.
func (a *App) Close() error {
	return a.Store.Close()
}
