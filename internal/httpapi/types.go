// Package httpapi provides the HTTP REST API for running analyses, browsing
// persisted sessions, and feeding candlestick charts.
package httpapi

import (
	"time"

	"pnlscope/internal/analysis"
	"pnlscope/internal/domain"
)

// AnalyzeRequest is the body of POST /api/analyze.
type AnalyzeRequest struct {
	Symbol       string `json:"symbol"`
	PurchaseDate string `json:"purchase_date"`
	Persist      bool   `json:"persist"`
}

// DailyReturnJSON is one trading day of a session.
type DailyReturnJSON struct {
	AnalysisDate     string  `json:"analysis_date"`
	ClosingPrice     float64 `json:"closing_price"`
	ProfitPercentage float64 `json:"profit_percentage"`
}

// SessionJSON is the JSON representation of an analysis session.
type SessionJSON struct {
	Symbol          string            `json:"symbol"`
	PurchaseDate    string            `json:"purchase_date"`
	PurchaseBarDate string            `json:"purchase_bar_date,omitempty"`
	PurchasePrice   float64           `json:"purchase_price"`
	Complete        bool              `json:"complete"`
	CreatedAt       *time.Time        `json:"created_at,omitempty"`
	Returns         []DailyReturnJSON `json:"returns"`
}

// AnalyzeResponse is returned by POST /api/analyze. When persisting was
// requested and failed, the computed session is still returned with
// PersistError set.
type AnalyzeResponse struct {
	Session      SessionJSON `json:"session"`
	Persisted    bool        `json:"persisted"`
	PersistError string      `json:"persist_error,omitempty"`
}

// SessionKeyJSON identifies a persisted session.
type SessionKeyJSON struct {
	Symbol       string    `json:"symbol"`
	PurchaseDate string    `json:"purchase_date"`
	CreatedAt    time.Time `json:"created_at"`
}

// SessionsResponse is returned by GET /api/sessions.
type SessionsResponse struct {
	Sessions []SessionKeyJSON `json:"sessions"`
}

// CandleJSON is one OHLC point. Time is the Unix second of the bar date.
type CandleJSON struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// VolumeJSON is one volume histogram point, colored by candle direction.
type VolumeJSON struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
	Color string  `json:"color"`
}

// CandlesResponse is returned by GET /api/candles/{symbol}.
type CandlesResponse struct {
	Symbol            string       `json:"symbol"`
	PurchaseDate      string       `json:"purchase_date"`
	PurchaseBarDate   string       `json:"purchase_bar_date,omitempty"`
	PurchasePrice     float64      `json:"purchase_price,omitempty"`
	PurchaseTimestamp int64        `json:"purchase_timestamp"`
	Candlestick       []CandleJSON `json:"candlestick"`
	Volume            []VolumeJSON `json:"volume"`
}

// StockInfoJSON is returned by GET /api/stock-info/{symbol}. Fields the
// provider does not report are omitted.
type StockInfoJSON struct {
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

const (
	volumeUpColor   = "rgba(38, 166, 154, 0.5)"
	volumeDownColor = "rgba(239, 83, 80, 0.5)"
)

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(domain.DateLayout)
}

func convertSession(sess *domain.Session, horizon int) SessionJSON {
	out := SessionJSON{
		Symbol:          sess.Symbol,
		PurchaseDate:    formatDate(sess.PurchaseDate),
		PurchaseBarDate: formatDate(sess.PurchaseBarDate),
		PurchasePrice:   sess.PurchasePrice,
		Complete:        sess.Complete(horizon),
		Returns:         make([]DailyReturnJSON, 0, len(sess.Returns)),
	}
	if !sess.CreatedAt.IsZero() {
		created := sess.CreatedAt
		out.CreatedAt = &created
	}
	for _, r := range sess.Returns {
		out.Returns = append(out.Returns, DailyReturnJSON{
			AnalysisDate:     formatDate(r.AnalysisDate),
			ClosingPrice:     r.ClosingPrice,
			ProfitPercentage: r.ProfitPercentage,
		})
	}
	return out
}

func convertCandles(cs *analysis.CandleSeries) CandlesResponse {
	out := CandlesResponse{
		Symbol:            cs.Symbol,
		PurchaseDate:      formatDate(cs.PurchaseDate),
		PurchaseBarDate:   formatDate(cs.PurchaseBarDate),
		PurchasePrice:     cs.PurchasePrice,
		PurchaseTimestamp: cs.PurchaseDate.Unix(),
		Candlestick:       make([]CandleJSON, 0, len(cs.Bars)),
		Volume:            make([]VolumeJSON, 0, len(cs.Bars)),
	}
	for _, b := range cs.Bars {
		ts := b.Date.Unix()
		out.Candlestick = append(out.Candlestick, CandleJSON{Time: ts, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close})
		color := volumeUpColor
		if b.Close < b.Open {
			color = volumeDownColor
		}
		out.Volume = append(out.Volume, VolumeJSON{Time: ts, Value: float64(b.Volume), Color: color})
	}
	return out
}

func convertStockInfo(info *domain.StockInfo) StockInfoJSON {
	return StockInfoJSON{
		Symbol:           info.Symbol,
		Name:             info.Name,
		Exchange:         info.Exchange,
		Currency:         info.Currency,
		Sector:           info.Sector,
		Industry:         info.Industry,
		MarketCap:        info.MarketCap,
		PERatio:          info.PERatio,
		DividendYield:    info.DividendYield,
		FiftyTwoWeekHigh: info.FiftyTwoWeekHigh,
		FiftyTwoWeekLow:  info.FiftyTwoWeekLow,
		AvgVolume:        info.AvgVolume,
	}
}
