package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	alpacamd "github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"pnlscope/internal/domain"
	"pnlscope/internal/util"
)

var (
	_ Source       = (*AlpacaSource)(nil)
	_ InfoProvider = (*AlpacaSource)(nil)
)

// AlpacaSource fetches split- and dividend-adjusted daily bars from the
// Alpaca market-data API.
type AlpacaSource struct {
	client  *alpacamd.Client
	trading *alpaca.Client
	feed    string
	limiter *util.RateLimiter
	loc     *time.Location
	log     *slog.Logger
}

// NewAlpacaSource creates an AlpacaSource. An empty feed defaults to "iex",
// which free accounts can query for historical bars. tradingURL is the
// trading API host used for asset lookups; empty selects the SDK default.
func NewAlpacaSource(apiKey, apiSecret, dataURL, tradingURL, feed string, rateLimitPerMin int) *AlpacaSource {
	opts := alpacamd.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if feed == "" {
		feed = "iex"
	}

	// Daily bars are stamped at midnight ET.
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("EST", -5*3600)
	}

	trading := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   tradingURL,
	})

	return &AlpacaSource{
		client:  alpacamd.NewClient(opts),
		trading: trading,
		feed:    feed,
		limiter: util.NewRateLimiter(rateLimitPerMin),
		loc:     loc,
		log:     slog.Default().With("source", ProviderAlpaca),
	}
}

// Name returns the provider identifier.
func (s *AlpacaSource) Name() string { return ProviderAlpaca }

// Fetch returns daily bars for symbol within [start, end).
func (s *AlpacaSource) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	alpacaBars, err := s.client.GetBars(symbol, alpacamd.GetBarsRequest{
		TimeFrame:  alpacamd.OneDay,
		Start:      start,
		End:        end,
		Feed:       alpacamd.Feed(s.feed),
		Adjustment: alpacamd.All,
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}

	bars := make([]domain.Bar, 0, len(alpacaBars))
	for _, ab := range alpacaBars {
		bars = append(bars, domain.Bar{
			Symbol:     strings.ToUpper(symbol),
			Date:       domain.TruncateDay(ab.Timestamp.In(s.loc)),
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}

	s.log.Debug("bars fetched", "symbol", symbol, "count", len(bars),
		"start", start.Format(domain.DateLayout), "end", end.Format(domain.DateLayout))
	return clip(bars, start, end), nil
}

// Info returns the asset record of symbol. Alpaca reports identity and
// listing only; fundamentals stay zero.
func (s *AlpacaSource) Info(ctx context.Context, symbol string) (*domain.StockInfo, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	sym := strings.ToUpper(symbol)
	asset, err := s.trading.GetAsset(sym)
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s: %w", domain.ErrNotFound, sym, err)
		}
		return nil, fmt.Errorf("GetAsset %s: %w", sym, err)
	}
	return &domain.StockInfo{
		Symbol:   asset.Symbol,
		Name:     asset.Name,
		Exchange: asset.Exchange,
		Currency: "USD",
	}, nil
}
