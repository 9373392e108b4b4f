package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pnlscope/internal/domain"
	"pnlscope/internal/util"
)

// DefaultYahooBaseURL is the public Yahoo Finance chart endpoint host.
const DefaultYahooBaseURL = "https://query1.finance.yahoo.com"

var _ Source = (*YahooSource)(nil)

// YahooSource fetches daily bars from the Yahoo Finance chart API.
type YahooSource struct {
	baseURL string
	client  *http.Client
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewYahooSource creates a YahooSource. Empty baseURL and zero timeout fall
// back to the public endpoint and 30 seconds.
func NewYahooSource(baseURL string, timeout time.Duration, rateLimitPerMin int) *YahooSource {
	if baseURL == "" {
		baseURL = DefaultYahooBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &YahooSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		limiter: util.NewRateLimiter(rateLimitPerMin),
		log:     slog.Default().With("source", ProviderYahoo),
	}
}

// Name returns the provider identifier.
func (s *YahooSource) Name() string { return ProviderYahoo }

// yahooChart is the subset of the chart API response we decode. Price and
// volume arrays hold nulls for halted sessions.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta       yahooMeta `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type yahooMeta struct {
	GMTOffset        int64   `json:"gmtoffset"`
	Currency         string  `json:"currency"`
	ExchangeName     string  `json:"fullExchangeName"`
	LongName         string  `json:"longName"`
	ShortName        string  `json:"shortName"`
	FiftyTwoWeekHigh float64 `json:"fiftyTwoWeekHigh"`
	FiftyTwoWeekLow  float64 `json:"fiftyTwoWeekLow"`
}

// Fetch returns daily bars for symbol within [start, end).
func (s *YahooSource) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("period1", strconv.FormatInt(start.Unix(), 10))
	q.Set("period2", strconv.FormatInt(end.Unix(), 10))
	q.Set("interval", "1d")
	q.Set("events", "div,split")
	chart, status, err := s.chart(ctx, symbol, q)
	if err != nil {
		return nil, err
	}
	if chart.Chart.Error != nil {
		// Unknown symbols and empty ranges come back as API errors.
		if chart.Chart.Error.Code == "Not Found" {
			return nil, fmt.Errorf("%w: %s", domain.ErrNoData, chart.Chart.Error.Description)
		}
		return nil, fmt.Errorf("yahoo api error: %s", chart.Chart.Error.Description)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("yahoo: status %d", status)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, nil
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	bars := make([]domain.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		c := at(quote.Close, i)
		if c == 0 {
			continue // null bar
		}
		bars = append(bars, domain.Bar{
			Symbol: strings.ToUpper(symbol),
			Date:   time.Unix(ts+result.Meta.GMTOffset, 0).UTC().Truncate(24 * time.Hour),
			Open:   at(quote.Open, i),
			High:   at(quote.High, i),
			Low:    at(quote.Low, i),
			Close:  c,
			Volume: int64(at(quote.Volume, i)),
		})
	}

	s.log.Debug("bars fetched", "symbol", symbol, "count", len(bars))
	return clip(bars, start, end), nil
}

// chart calls the chart endpoint and decodes the response. The HTTP status
// is returned alongside because error bodies are also JSON.
func (s *YahooSource) chart(ctx context.Context, symbol string, q url.Values) (*yahooChart, int, error) {
	status, body, err := s.get(ctx, "/v8/finance/chart/"+url.PathEscape(symbol), q)
	if err != nil {
		return nil, 0, err
	}
	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		if status != http.StatusOK {
			return nil, status, fmt.Errorf("yahoo: status %d", status)
		}
		return nil, status, fmt.Errorf("yahoo decode: %w", err)
	}
	return &chart, status, nil
}

// get issues a GET against baseURL+path and returns the status and body.
func (s *YahooSource) get(ctx context.Context, path string, q url.Values) (int, []byte, error) {
	u := s.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("yahoo fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("yahoo read body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func at(vals []*float64, i int) float64 {
	if i >= len(vals) || vals[i] == nil {
		return 0
	}
	return *vals[i]
}
