package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pnlscope/internal/domain"
	"pnlscope/internal/store"
)

const quoteSummaryFixture = `{
  "quoteSummary": {
    "result": [{
      "price": {
        "longName": "Apple Inc.",
        "shortName": "Apple",
        "exchangeName": "NasdaqGS",
        "currency": "USD",
        "marketCap": {"raw": 2890000000000, "fmt": "2.89T"}
      },
      "summaryProfile": {"sector": "Technology", "industry": "Consumer Electronics"},
      "summaryDetail": {
        "trailingPE": {"raw": 29.5, "fmt": "29.50"},
        "dividendYield": {"raw": 0.0051, "fmt": "0.51%"},
        "fiftyTwoWeekHigh": {"raw": 199.62},
        "fiftyTwoWeekLow": {"raw": 164.08},
        "averageVolume": {"raw": 53201400}
      }
    }],
    "error": null
  }
}`

func TestYahooSourceInfo(t *testing.T) {
	var gotPath, gotModules string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotModules = r.URL.Query().Get("modules")
		w.Write([]byte(quoteSummaryFixture))
	}))
	defer srv.Close()

	info, err := NewYahooSource(srv.URL, 5*time.Second, 0).Info(context.Background(), "aapl")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if gotPath != "/v10/finance/quoteSummary/AAPL" || gotModules != "price,summaryProfile,summaryDetail" {
		t.Errorf("request path %q modules %q", gotPath, gotModules)
	}
	want := domain.StockInfo{
		Symbol:           "AAPL",
		Name:             "Apple Inc.",
		Exchange:         "NasdaqGS",
		Currency:         "USD",
		Sector:           "Technology",
		Industry:         "Consumer Electronics",
		MarketCap:        2890000000000,
		PERatio:          29.5,
		DividendYield:    0.0051,
		FiftyTwoWeekHigh: 199.62,
		FiftyTwoWeekLow:  164.08,
		AvgVolume:        53201400,
	}
	if *info != want {
		t.Errorf("info = %+v\nwant   %+v", *info, want)
	}
}

func TestYahooSourceInfoNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"quoteSummary":{"result":null,"error":{"code":"Not Found","description":"Quote not found for symbol: ZZZZ"}}}`))
	}))
	defer srv.Close()

	_, err := NewYahooSource(srv.URL, 5*time.Second, 0).Info(context.Background(), "ZZZZ")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestYahooSourceInfoFallsBackToChart(t *testing.T) {
	const chartMeta = `{
  "chart": {
    "result": [{
      "meta": {"symbol": "AAPL", "currency": "USD", "fullExchangeName": "NasdaqGS",
               "longName": "Apple Inc.", "fiftyTwoWeekHigh": 199.62, "fiftyTwoWeekLow": 164.08},
      "timestamp": [1704897000, 1704983400, 1705069800],
      "indicators": {"quote": [{"volume": [46792900, 49128400, null]}]}
    }],
    "error": null
  }
}`
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v10/finance/quoteSummary/AAPL":
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"finance":{"result":null,"error":{"code":"Unauthorized","description":"Invalid Crumb"}}}`))
		case "/v8/finance/chart/AAPL":
			gotRange = r.URL.Query().Get("range")
			w.Write([]byte(chartMeta))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	info, err := NewYahooSource(srv.URL, 5*time.Second, 0).Info(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if gotRange != "3mo" {
		t.Errorf("chart range = %q, want 3mo", gotRange)
	}
	if info.Name != "Apple Inc." || info.Exchange != "NasdaqGS" || info.FiftyTwoWeekHigh != 199.62 {
		t.Errorf("info = %+v", info)
	}
	if info.AvgVolume != 47960650 {
		t.Errorf("AvgVolume = %d, want 47960650", info.AvgVolume)
	}
	if info.Sector != "" || info.PERatio != 0 {
		t.Errorf("chart fallback should not report fundamentals: %+v", info)
	}
}

func TestAlpacaSourceInfo(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("APCA-API-KEY-ID")
		switch r.URL.Path {
		case "/v2/assets/AAPL":
			w.Write([]byte(`{"id":"b0b6dd9d","class":"us_equity","exchange":"NASDAQ","symbol":"AAPL",
				"name":"Apple Inc. Common Stock","status":"active","tradable":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"code":40410000,"message":"asset not found"}`))
		}
	}))
	defer srv.Close()

	src := NewAlpacaSource("key", "secret", "", srv.URL, "", 0)
	info, err := src.Info(context.Background(), "aapl")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if gotKey != "key" {
		t.Errorf("API key header = %q", gotKey)
	}
	if info.Symbol != "AAPL" || info.Name != "Apple Inc. Common Stock" || info.Exchange != "NASDAQ" {
		t.Errorf("info = %+v", info)
	}

	if _, err := src.Info(context.Background(), "ZZZZ"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown asset error = %v, want ErrNotFound", err)
	}
}

type infoOnly struct {
	mapSource
	info *domain.StockInfo
}

func (s *infoOnly) Info(context.Context, string) (*domain.StockInfo, error) { return s.info, nil }

func TestLookupInfo(t *testing.T) {
	plain := &mapSource{calls: map[string]int{}}
	if _, err := LookupInfo(context.Background(), plain, "AAPL"); !errors.Is(err, domain.ErrNoData) {
		t.Errorf("source without info: error = %v, want ErrNoData", err)
	}

	src := &infoOnly{mapSource: mapSource{calls: map[string]int{}}, info: &domain.StockInfo{Symbol: "AAPL", Name: "Apple"}}
	cached := NewCachedSource(src, store.NewParquetStore(t.TempDir()))
	info, err := LookupInfo(context.Background(), cached, "AAPL")
	if err != nil {
		t.Fatalf("LookupInfo through cache: %v", err)
	}
	if info.Name != "Apple" {
		t.Errorf("info = %+v", info)
	}
}
