package app

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"pnlscope/internal/config"
	"pnlscope/internal/marketdata"
)

func TestNew(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.DataDir = filepath.Join(dir, "data")
	cfg.Storage.SQLitePath = filepath.Join(dir, "data", "stock_analysis.db")
	cfg.MarketData.Provider = marketdata.ProviderYahoo
	cfg.MarketData.Cache = true

	a, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if _, ok := a.Source.(*marketdata.CachedSource); !ok {
		t.Errorf("source = %T, want cached source", a.Source)
	}
	if a.Source.Name() != marketdata.ProviderYahoo {
		t.Errorf("provider = %q, want yahoo", a.Source.Name())
	}
	if a.Analyzer.Horizon() != 7 {
		t.Errorf("horizon = %d, want 7", a.Analyzer.Horizon())
	}
}

func TestNewSourceWithoutCache(t *testing.T) {
	cfg := config.Default()
	cfg.MarketData.Provider = marketdata.ProviderYahoo
	cfg.MarketData.Cache = false
	src, err := NewSource(cfg)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	if _, ok := src.(*marketdata.YahooSource); !ok {
		t.Errorf("source = %T, want *YahooSource", src)
	}

	cfg.MarketData.Provider = marketdata.ProviderAlpaca
	cfg.Alpaca.APIKey, cfg.Alpaca.APISecret = "", ""
	if _, err := NewSource(cfg); err == nil {
		t.Error("alpaca without credentials should fail")
	}
}
