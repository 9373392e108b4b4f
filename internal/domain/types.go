// Package domain defines the core types shared by the analysis engine, the
// market data sources and the result store.
package domain

import (
	"strings"
	"time"
)

// DateLayout is the ISO 8601 calendar date format used on every external
// surface (CLI arguments, HTTP, SQLite columns).
const DateLayout = "2006-01-02"

// DefaultHorizon is the number of trading days after the purchase bar for
// which returns are computed.
const DefaultHorizon = 7

// Bar is one trading day of OHLCV data for a symbol. Date is the trading
// day at UTC midnight.
type Bar struct {
	Symbol     string
	Date       time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// DailyReturn is the profit of holding from the purchase bar to the close of
// a later trading day.
type DailyReturn struct {
	AnalysisDate     time.Time `json:"analysis_date"`
	ClosingPrice     float64   `json:"closing_price"`
	ProfitPercentage float64   `json:"profit_percentage"`
}

// Session is one (symbol, purchase date) analysis and its returns.
type Session struct {
	Symbol       string
	PurchaseDate time.Time
	// PurchaseBarDate is the trading day whose close is PurchasePrice. It
	// differs from PurchaseDate when the purchase falls on a non-trading day.
	PurchaseBarDate time.Time
	PurchasePrice   float64
	Returns         []DailyReturn
	// CreatedAt is set by the store for loaded sessions.
	CreatedAt time.Time
}

// Key returns the identity of the session.
func (s *Session) Key() SessionKey {
	return SessionKey{Symbol: s.Symbol, PurchaseDate: s.PurchaseDate, CreatedAt: s.CreatedAt}
}

// Complete reports whether the session holds a full horizon of returns.
func (s *Session) Complete(horizon int) bool {
	return len(s.Returns) >= horizon
}

// SessionKey identifies a persisted session. CreatedAt is the append time of
// its most recent batch.
type SessionKey struct {
	Symbol       string
	PurchaseDate time.Time
	CreatedAt    time.Time
}

// Record is one persisted row: a DailyReturn flattened with its session.
type Record struct {
	ID               int64
	Symbol           string
	PurchaseDate     time.Time
	PurchasePrice    float64
	AnalysisDate     time.Time
	ClosingPrice     float64
	ProfitPercentage float64
	CreatedAt        time.Time
}

// Records flattens the session into one Record per DailyReturn.
func (s *Session) Records(createdAt time.Time) []Record {
	out := make([]Record, 0, len(s.Returns))
	for _, r := range s.Returns {
		out = append(out, Record{
			Symbol:           s.Symbol,
			PurchaseDate:     s.PurchaseDate,
			PurchasePrice:    s.PurchasePrice,
			AnalysisDate:     r.AnalysisDate,
			ClosingPrice:     r.ClosingPrice,
			ProfitPercentage: r.ProfitPercentage,
			CreatedAt:        createdAt,
		})
	}
	return out
}

// StockInfo is descriptive data about a listed symbol. Zero values mean the
// provider did not report the field.
type StockInfo struct {
	Symbol           string
	Name             string
	Exchange         string
	Currency         string
	Sector           string
	Industry         string
	MarketCap        float64
	PERatio          float64 // trailing
	DividendYield    float64 // fraction, 0.005 = 0.5%
	FiftyTwoWeekHigh float64
	FiftyTwoWeekLow  float64
	AvgVolume        int64
}

// NormalizeSymbol trims and upper-cases a ticker. It returns ErrInvalidSymbol
// for an empty result.
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return "", ErrInvalidSymbol
	}
	return s, nil
}

// TruncateDay returns t's calendar day at UTC midnight, as seen in t's own
// location.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
