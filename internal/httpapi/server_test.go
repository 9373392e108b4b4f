package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"pnlscope/internal/analysis"
	"pnlscope/internal/chart"
	"pnlscope/internal/domain"
	"pnlscope/internal/store"
)

type fakeSource struct{ bars []domain.Bar }

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(_ context.Context, _ string, start, end time.Time) ([]domain.Bar, error) {
	var out []domain.Bar
	for _, b := range f.bars {
		if !b.Date.Before(start) && b.Date.Before(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeSource) Info(_ context.Context, symbol string) (*domain.StockInfo, error) {
	if symbol != "AAPL" {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, symbol)
	}
	return &domain.StockInfo{
		Symbol:           "AAPL",
		Name:             "Apple Inc.",
		Sector:           "Technology",
		Industry:         "Consumer Electronics",
		MarketCap:        2.89e12,
		PERatio:          29.5,
		FiftyTwoWeekHigh: 199.62,
		FiftyTwoWeekLow:  164.08,
		AvgVolume:        53201400,
	}, nil
}

func weekdayBars(from time.Time, closes ...float64) []domain.Bar {
	var bars []domain.Bar
	d := from
	for _, c := range closes {
		for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, 1)
		}
		bars = append(bars, domain.Bar{Symbol: "AAPL", Date: d, Open: c - 1, High: c + 1, Low: c - 2, Close: c, Volume: 1000})
		d = d.AddDate(0, 0, 1)
	}
	return bars
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "stock_analysis.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{bars: weekdayBars(start, 95, 96, 97, 98, 99, 99.5, 100, 105, 98, 101, 102, 103, 104, 106)}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := analysis.NewAnalyzer(src, st, domain.DefaultHorizon, log,
		analysis.WithClock(func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }))

	srv := httptest.NewServer(NewServer(a, st, chart.NewRenderer(600, 300), 30, log).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postAnalyze(t *testing.T, srv *httptest.Server, req AnalyzeRequest) *http.Response {
	t.Helper()
	body, _ := json.Marshal(req)
	resp, err := http.Post(srv.URL+"/api/analyze", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/analyze: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func TestAnalyzeAndBrowse(t *testing.T) {
	srv := newTestServer(t)

	resp := postAnalyze(t, srv, AnalyzeRequest{Symbol: "aapl", PurchaseDate: "2024-01-10", Persist: true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analyze status = %d", resp.StatusCode)
	}
	ar := decode[AnalyzeResponse](t, resp)
	if !ar.Persisted || ar.PersistError != "" {
		t.Errorf("persisted = %v, error = %q", ar.Persisted, ar.PersistError)
	}
	if ar.Session.Symbol != "AAPL" || ar.Session.PurchasePrice != 100 {
		t.Errorf("session = %+v", ar.Session)
	}
	if len(ar.Session.Returns) != 5 || ar.Session.Returns[0].ProfitPercentage != 5 || ar.Session.Returns[1].ProfitPercentage != -2 {
		t.Errorf("returns = %+v", ar.Session.Returns)
	}

	resp, err := http.Get(srv.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("GET /api/sessions: %v", err)
	}
	sr := decode[SessionsResponse](t, resp)
	if len(sr.Sessions) != 1 || sr.Sessions[0].Symbol != "AAPL" || sr.Sessions[0].PurchaseDate != "2024-01-10" {
		t.Errorf("sessions = %+v", sr.Sessions)
	}

	resp, err = http.Get(srv.URL + "/api/sessions/AAPL/2024-01-10")
	if err != nil {
		t.Fatalf("GET session: %v", err)
	}
	sess := decode[SessionJSON](t, resp)
	if sess.PurchasePrice != 100 || len(sess.Returns) != 5 || sess.CreatedAt == nil {
		t.Errorf("stored session = %+v", sess)
	}
	if sess.Returns[0].AnalysisDate != "2024-01-11" {
		t.Errorf("first analysis date = %s", sess.Returns[0].AnalysisDate)
	}

	resp, err = http.Get(srv.URL + "/api/sessions/AAPL/2024-01-10/chart.png?kind=profit")
	if err != nil {
		t.Fatalf("GET chart: %v", err)
	}
	img, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("chart status = %d type = %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !bytes.HasPrefix(img, []byte("\x89PNG")) {
		t.Error("chart is not a PNG")
	}
}

func TestAnalyzeWithoutPersist(t *testing.T) {
	srv := newTestServer(t)

	resp := postAnalyze(t, srv, AnalyzeRequest{Symbol: "AAPL", PurchaseDate: "2024-01-10"})
	ar := decode[AnalyzeResponse](t, resp)
	if ar.Persisted {
		t.Error("session persisted without being asked")
	}

	resp, _ = http.Get(srv.URL + "/api/sessions")
	if sr := decode[SessionsResponse](t, resp); len(sr.Sessions) != 0 {
		t.Errorf("sessions = %+v, want none", sr.Sessions)
	}
}

func TestErrorStatus(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		do   func() (*http.Response, error)
		want int
	}{
		{"malformed date", func() (*http.Response, error) {
			return postAnalyze(t, srv, AnalyzeRequest{Symbol: "AAPL", PurchaseDate: "10/01/2024"}), nil
		}, http.StatusBadRequest},
		{"blank symbol", func() (*http.Response, error) {
			return postAnalyze(t, srv, AnalyzeRequest{Symbol: " ", PurchaseDate: "2024-01-10"}), nil
		}, http.StatusBadRequest},
		{"no data", func() (*http.Response, error) {
			return postAnalyze(t, srv, AnalyzeRequest{Symbol: "AAPL", PurchaseDate: "2023-01-10"}), nil
		}, http.StatusNotFound},
		{"bad body", func() (*http.Response, error) {
			return http.Post(srv.URL+"/api/analyze", "application/json", bytes.NewReader([]byte("{")))
		}, http.StatusBadRequest},
		{"missing session", func() (*http.Response, error) {
			return http.Get(srv.URL + "/api/sessions/MSFT/2024-01-10")
		}, http.StatusNotFound},
		{"bad session date", func() (*http.Response, error) {
			return http.Get(srv.URL + "/api/sessions/MSFT/yesterday")
		}, http.StatusBadRequest},
		{"bad chart kind", func() (*http.Response, error) {
			return http.Get(srv.URL + "/api/sessions/AAPL/2024-01-10/chart.png?kind=pie")
		}, http.StatusBadRequest},
		{"bad candle days", func() (*http.Response, error) {
			return http.Get(srv.URL + "/api/candles/AAPL?date=2024-01-10&days=0")
		}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := tt.do()
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			body := decode[map[string]string](t, resp)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d (%v)", resp.StatusCode, tt.want, body)
			}
			if body["error"] == "" {
				t.Error("error body missing")
			}
		})
	}
}

func TestCandles(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/candles/aapl?date=2024-01-10&days=10")
	if err != nil {
		t.Fatalf("GET candles: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	cr := decode[CandlesResponse](t, resp)
	// Window [2024-01-05, 2024-01-15).
	if len(cr.Candlestick) != 6 || len(cr.Volume) != 6 {
		t.Fatalf("got %d candles and %d volumes, want 6", len(cr.Candlestick), len(cr.Volume))
	}
	if cr.PurchaseBarDate != "2024-01-10" || cr.PurchasePrice != 100 {
		t.Errorf("purchase marker = %s @ %v", cr.PurchaseBarDate, cr.PurchasePrice)
	}
	want := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC).Unix()
	if cr.PurchaseTimestamp != want {
		t.Errorf("purchase_timestamp = %d, want %d", cr.PurchaseTimestamp, want)
	}
	for _, v := range cr.Volume {
		if v.Color != volumeUpColor {
			t.Errorf("rising candle colored %q", v.Color)
		}
	}
}

func TestHealthAndCORS(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	if h := decode[map[string]string](t, resp); h["status"] != "ok" {
		t.Errorf("health = %v", h)
	}

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/analyze", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight status = %d, origin = %q", resp.StatusCode, resp.Header.Get("Access-Control-Allow-Origin"))
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidPrice, http.StatusUnprocessableEntity},
		{domain.ErrStore, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestStockInfo(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/stock-info/aapl")
	if err != nil {
		t.Fatalf("GET stock-info: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	info := decode[StockInfoJSON](t, resp)
	if info.Symbol != "AAPL" || info.Name != "Apple Inc." || info.Sector != "Technology" {
		t.Errorf("info = %+v", info)
	}
	if info.PERatio != 29.5 || info.AvgVolume != 53201400 || info.FiftyTwoWeekLow != 164.08 {
		t.Errorf("numbers = %+v", info)
	}

	resp, err = http.Get(srv.URL + "/api/stock-info/ZZZZ")
	if err != nil {
		t.Fatalf("GET stock-info: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown symbol status = %d, want 404", resp.StatusCode)
	}
}
