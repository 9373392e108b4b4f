package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"pnlscope/internal/domain"
)

var _ InfoProvider = (*YahooSource)(nil)

// yahooValue is the {"raw": 1.5, "fmt": "1.50"} wrapper quoteSummary uses
// for numbers. Missing fields decode as zero.
type yahooValue struct {
	Raw float64 `json:"raw"`
}

type yahooQuoteSummary struct {
	QuoteSummary struct {
		Result []struct {
			Price struct {
				LongName     string     `json:"longName"`
				ShortName    string     `json:"shortName"`
				ExchangeName string     `json:"exchangeName"`
				Currency     string     `json:"currency"`
				MarketCap    yahooValue `json:"marketCap"`
			} `json:"price"`
			SummaryProfile struct {
				Sector   string `json:"sector"`
				Industry string `json:"industry"`
			} `json:"summaryProfile"`
			SummaryDetail struct {
				TrailingPE       yahooValue `json:"trailingPE"`
				DividendYield    yahooValue `json:"dividendYield"`
				FiftyTwoWeekHigh yahooValue `json:"fiftyTwoWeekHigh"`
				FiftyTwoWeekLow  yahooValue `json:"fiftyTwoWeekLow"`
				AverageVolume    yahooValue `json:"averageVolume"`
			} `json:"summaryDetail"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteSummary"`
}

// Info returns the quoteSummary profile of symbol. When Yahoo refuses the
// request (it wants a session crumb for quoteSummary) the chart metadata is
// used instead, which carries the name, exchange and 52-week range but no
// fundamentals.
func (s *YahooSource) Info(ctx context.Context, symbol string) (*domain.StockInfo, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	sym := strings.ToUpper(symbol)

	q := url.Values{}
	q.Set("modules", "price,summaryProfile,summaryDetail")
	status, body, err := s.get(ctx, "/v10/finance/quoteSummary/"+url.PathEscape(sym), q)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		s.log.Debug("quoteSummary refused, using chart metadata", "symbol", sym, "status", status)
		return s.chartInfo(ctx, sym)
	}

	var qs yahooQuoteSummary
	if err := json.Unmarshal(body, &qs); err != nil {
		if status != http.StatusOK {
			return nil, fmt.Errorf("yahoo: status %d", status)
		}
		return nil, fmt.Errorf("yahoo decode: %w", err)
	}
	if e := qs.QuoteSummary.Error; e != nil {
		if e.Code == "Not Found" {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, e.Description)
		}
		return nil, fmt.Errorf("yahoo api error: %s", e.Description)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("yahoo: status %d", status)
	}
	if len(qs.QuoteSummary.Result) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, sym)
	}

	r := qs.QuoteSummary.Result[0]
	info := &domain.StockInfo{
		Symbol:           sym,
		Name:             firstNonEmpty(r.Price.LongName, r.Price.ShortName),
		Exchange:         r.Price.ExchangeName,
		Currency:         r.Price.Currency,
		Sector:           r.SummaryProfile.Sector,
		Industry:         r.SummaryProfile.Industry,
		MarketCap:        r.Price.MarketCap.Raw,
		PERatio:          r.SummaryDetail.TrailingPE.Raw,
		DividendYield:    r.SummaryDetail.DividendYield.Raw,
		FiftyTwoWeekHigh: r.SummaryDetail.FiftyTwoWeekHigh.Raw,
		FiftyTwoWeekLow:  r.SummaryDetail.FiftyTwoWeekLow.Raw,
		AvgVolume:        int64(r.SummaryDetail.AverageVolume.Raw),
	}
	return info, nil
}

// chartInfo builds a StockInfo from three months of chart data. The average
// volume is taken over the returned sessions.
func (s *YahooSource) chartInfo(ctx context.Context, sym string) (*domain.StockInfo, error) {
	q := url.Values{}
	q.Set("range", "3mo")
	q.Set("interval", "1d")
	chart, status, err := s.chart(ctx, sym, q)
	if err != nil {
		return nil, err
	}
	if e := chart.Chart.Error; e != nil {
		if e.Code == "Not Found" {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, e.Description)
		}
		return nil, fmt.Errorf("yahoo api error: %s", e.Description)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("yahoo: status %d", status)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, sym)
	}

	result := chart.Chart.Result[0]
	meta := result.Meta
	info := &domain.StockInfo{
		Symbol:           sym,
		Name:             firstNonEmpty(meta.LongName, meta.ShortName),
		Exchange:         meta.ExchangeName,
		Currency:         meta.Currency,
		FiftyTwoWeekHigh: meta.FiftyTwoWeekHigh,
		FiftyTwoWeekLow:  meta.FiftyTwoWeekLow,
	}
	if len(result.Indicators.Quote) > 0 {
		var sum float64
		var n int
		for _, v := range result.Indicators.Quote[0].Volume {
			if v != nil {
				sum += *v
				n++
			}
		}
		if n > 0 {
			info.AvgVolume = int64(sum / float64(n))
		}
	}
	return info, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
