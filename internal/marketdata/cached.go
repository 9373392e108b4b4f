package marketdata

import (
	"context"
	"log/slog"
	"time"

	"pnlscope/internal/domain"
	"pnlscope/internal/store"
)

var _ Source = (*CachedSource)(nil)

// CachedSource serves windows that were already fetched completely from a
// BarStore and forwards everything else to the wrapped Source. A window is
// recorded as covered only once it lies entirely in the past, so today's
// partial bar is never frozen into the cache.
type CachedSource struct {
	next   Source
	cache  store.BarStore
	market string
	now    func() time.Time
	log    *slog.Logger
}

// NewCachedSource wraps next with a bar cache. Bars are cached under the
// "us" market, the only one the providers serve.
func NewCachedSource(next Source, cache store.BarStore) *CachedSource {
	return &CachedSource{
		next:   next,
		cache:  cache,
		market: "us",
		now:    time.Now,
		log:    slog.Default().With("source", "cache", "upstream", next.Name()),
	}
}

// Name returns the upstream provider name.
func (s *CachedSource) Name() string { return s.next.Name() }

// Fetch returns bars for [start, end), from the cache when possible.
func (s *CachedSource) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	covered, err := s.cache.Covers(ctx, symbol, s.market, start, end)
	if err != nil {
		s.log.Warn("cache lookup failed", "symbol", symbol, "error", err)
	}
	if covered {
		bars, err := s.cache.ReadBars(ctx, symbol, s.market, start, end)
		if err == nil {
			s.log.Debug("cache hit", "symbol", symbol, "count", len(bars))
			return bars, nil
		}
		s.log.Warn("cache read failed", "symbol", symbol, "error", err)
	}

	bars, err := s.next.Fetch(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}

	if len(bars) > 0 {
		if err := s.cache.WriteBars(ctx, bars); err != nil {
			s.log.Warn("cache write failed", "symbol", symbol, "error", err)
			return bars, nil
		}
	}
	if !end.After(domain.TruncateDay(s.now())) {
		if err := s.cache.MarkCovered(ctx, symbol, s.market, start, end); err != nil {
			s.log.Warn("cache coverage update failed", "symbol", symbol, "error", err)
		}
	}
	return bars, nil
}
