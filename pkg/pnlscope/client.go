// Package pnlscope is a Go client for the pnlscope-server HTTP API.
package pnlscope

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client provides a Go SDK for interacting with the pnlscope-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new pnlscope API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// DailyReturn is one trading day after the purchase.
type DailyReturn struct {
	AnalysisDate     string  `json:"analysis_date"`
	ClosingPrice     float64 `json:"closing_price"`
	ProfitPercentage float64 `json:"profit_percentage"`
}

// Session is an analysis result.
type Session struct {
	Symbol          string        `json:"symbol"`
	PurchaseDate    string        `json:"purchase_date"`
	PurchaseBarDate string        `json:"purchase_bar_date,omitempty"`
	PurchasePrice   float64       `json:"purchase_price"`
	Complete        bool          `json:"complete"`
	CreatedAt       *time.Time    `json:"created_at,omitempty"`
	Returns         []DailyReturn `json:"returns"`
}

// AnalyzeResult is the response of Analyze.
type AnalyzeResult struct {
	Session      Session `json:"session"`
	Persisted    bool    `json:"persisted"`
	PersistError string  `json:"persist_error,omitempty"`
}

// SessionKey identifies a persisted session.
type SessionKey struct {
	Symbol       string    `json:"symbol"`
	PurchaseDate string    `json:"purchase_date"`
	CreatedAt    time.Time `json:"created_at"`
}

// Candle is one OHLC point; Time is a Unix timestamp in seconds.
type Candle struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Volume is one volume histogram point.
type Volume struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
	Color string  `json:"color"`
}

// Candles is the candlestick context around a purchase date.
type Candles struct {
	Symbol            string   `json:"symbol"`
	PurchaseDate      string   `json:"purchase_date"`
	PurchaseBarDate   string   `json:"purchase_bar_date,omitempty"`
	PurchasePrice     float64  `json:"purchase_price,omitempty"`
	PurchaseTimestamp int64    `json:"purchase_timestamp"`
	Candlestick       []Candle `json:"candlestick"`
	Volume            []Volume `json:"volume"`
}

// StockInfo describes a listed symbol. Fields the provider does not report
// are zero.
type StockInfo struct {
	Symbol           string  `json:"symbol"`
	Name             string  `json:"name"`
	Exchange         string  `json:"exchange,omitempty"`
	Currency         string  `json:"currency,omitempty"`
	Sector           string  `json:"sector,omitempty"`
	Industry         string  `json:"industry,omitempty"`
	MarketCap        float64 `json:"market_cap,omitempty"`
	PERatio          float64 `json:"pe_ratio,omitempty"`
	DividendYield    float64 `json:"dividend_yield,omitempty"`
	FiftyTwoWeekHigh float64 `json:"fifty_two_week_high,omitempty"`
	FiftyTwoWeekLow  float64 `json:"fifty_two_week_low,omitempty"`
	AvgVolume        int64   `json:"avg_volume,omitempty"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pnlscope: %d %s", e.StatusCode, e.Message)
}

// NotFound reports whether the server had no data or no stored session.
func (e *APIError) NotFound() bool { return e.StatusCode == http.StatusNotFound }

// Analyze runs an analysis for symbol bought on purchaseDate (YYYY-MM-DD),
// persisting it when persist is true.
func (c *Client) Analyze(ctx context.Context, symbol, purchaseDate string, persist bool) (*AnalyzeResult, error) {
	body, err := json.Marshal(map[string]any{
		"symbol":        symbol,
		"purchase_date": purchaseDate,
		"persist":       persist,
	})
	if err != nil {
		return nil, err
	}
	var out AnalyzeResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/analyze", bytes.NewReader(body), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions lists persisted sessions, most recent first.
func (c *Client) ListSessions(ctx context.Context) ([]SessionKey, error) {
	var out struct {
		Sessions []SessionKey `json:"sessions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// GetSession loads the latest persisted batch of a session.
func (c *Client) GetSession(ctx context.Context, symbol, purchaseDate string) (*Session, error) {
	var out Session
	if err := c.doJSON(ctx, http.MethodGet, sessionPath(symbol, purchaseDate), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetChart returns the PNG chart of a persisted session. kind is "price" or
// "profit"; empty means price.
func (c *Client) GetChart(ctx context.Context, symbol, purchaseDate, kind string) ([]byte, error) {
	path := sessionPath(symbol, purchaseDate) + "/chart.png"
	if kind != "" {
		path += "?kind=" + url.QueryEscape(kind)
	}
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// GetCandles returns days calendar days of OHLCV bars centred on
// purchaseDate. days <= 0 uses the server default.
func (c *Client) GetCandles(ctx context.Context, symbol, purchaseDate string, days int) (*Candles, error) {
	q := url.Values{}
	q.Set("date", purchaseDate)
	if days > 0 {
		q.Set("days", strconv.Itoa(days))
	}
	var out Candles
	if err := c.doJSON(ctx, http.MethodGet, "/api/candles/"+url.PathEscape(symbol)+"?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetStockInfo returns the name, sector and key figures of symbol.
func (c *Client) GetStockInfo(ctx context.Context, symbol string) (*StockInfo, error) {
	var out StockInfo
	if err := c.doJSON(ctx, http.MethodGet, "/api/stock-info/"+url.PathEscape(symbol), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	var out map[string]string
	return c.doJSON(ctx, http.MethodGet, "/healthz", nil, &out)
}

func sessionPath(symbol, purchaseDate string) string {
	return "/api/sessions/" + url.PathEscape(symbol) + "/" + url.PathEscape(purchaseDate)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var msg struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&msg) == nil && msg.Error != "" {
			apiErr.Message = msg.Error
		} else {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, apiErr
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
