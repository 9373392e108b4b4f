// Package marketdata provides daily bar sources for the analysis engine:
// Alpaca, Yahoo Finance, and a Parquet-backed cache in front of either.
package marketdata

import (
	"context"
	"fmt"
	"sort"
	"time"

	"pnlscope/internal/domain"
)

// Source returns daily bars for a symbol.
type Source interface {
	// Name returns the provider identifier.
	Name() string

	// Fetch returns the bars dated within the half-open range [start, end),
	// ascending by date. An empty slice means the provider has no data for
	// the window.
	Fetch(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// Provider names accepted by New.
const (
	ProviderAlpaca = "alpaca"
	ProviderYahoo  = "yahoo"
)

// Options configures a Source built by New.
type Options struct {
	Provider        string
	RateLimitPerMin int
	Timeout         time.Duration

	AlpacaKey     string
	AlpacaSecret  string
	AlpacaDataURL string
	AlpacaFeed    string
	// AlpacaTradingURL serves asset lookups.
	AlpacaTradingURL string

	YahooBaseURL string
}

// New builds the Source named by opts.Provider.
func New(opts Options) (Source, error) {
	switch opts.Provider {
	case ProviderAlpaca:
		if opts.AlpacaKey == "" || opts.AlpacaSecret == "" {
			return nil, fmt.Errorf("alpaca provider requires api key and secret")
		}
		return NewAlpacaSource(opts.AlpacaKey, opts.AlpacaSecret, opts.AlpacaDataURL, opts.AlpacaTradingURL, opts.AlpacaFeed, opts.RateLimitPerMin), nil
	case ProviderYahoo, "":
		return NewYahooSource(opts.YahooBaseURL, opts.Timeout, opts.RateLimitPerMin), nil
	default:
		return nil, fmt.Errorf("unknown market data provider %q", opts.Provider)
	}
}

// clip keeps bars dated in [start, end), drops duplicate dates (last one
// wins) and sorts ascending.
func clip(bars []domain.Bar, start, end time.Time) []domain.Bar {
	byDate := make(map[time.Time]domain.Bar, len(bars))
	for _, b := range bars {
		if b.Date.Before(start) || !b.Date.Before(end) {
			continue
		}
		byDate[b.Date] = b
	}
	out := make([]domain.Bar, 0, len(byDate))
	for _, b := range byDate {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
