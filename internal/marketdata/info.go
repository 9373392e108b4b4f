package marketdata

import (
	"context"
	"fmt"

	"pnlscope/internal/domain"
)

// InfoProvider is implemented by sources that can describe a symbol.
type InfoProvider interface {
	// Info returns descriptive data for symbol, or an error wrapping
	// domain.ErrNotFound when the provider does not know it.
	Info(ctx context.Context, symbol string) (*domain.StockInfo, error)
}

// LookupInfo asks src for symbol's description. Sources without an info
// endpoint report domain.ErrNoData.
func LookupInfo(ctx context.Context, src Source, symbol string) (*domain.StockInfo, error) {
	ip, ok := src.(InfoProvider)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not provide stock info", domain.ErrNoData, src.Name())
	}
	return ip.Info(ctx, symbol)
}

// Info forwards to the upstream source. Descriptions change daily, so they
// are not cached.
func (s *CachedSource) Info(ctx context.Context, symbol string) (*domain.StockInfo, error) {
	return LookupInfo(ctx, s.next, symbol)
}
