// Package analysis implements the post-purchase profit engine: fetch window
// derivation, return computation, and the Analyzer that wires a market data
// source and a result store around them.
package analysis

import (
	"fmt"
	"strings"
	"time"

	"pnlscope/internal/domain"
)

// DefaultChartDays is the width of the candlestick context window.
const DefaultChartDays = 30

// ParseDate parses an ISO 8601 calendar date (YYYY-MM-DD).
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(domain.DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not a YYYY-MM-DD date", domain.ErrInvalidDate, s)
	}
	return t, nil
}

// ComputeFetchWindow returns the half-open range [start, end) to request
// from a market data source. start is the purchase date so its bar is
// included; end adds one buffer day past the horizon. The buffer does not
// guarantee a full horizon across holiday clusters.
func ComputeFetchWindow(purchase time.Time, horizonDays int) (start, end time.Time, err error) {
	if purchase.IsZero() {
		return time.Time{}, time.Time{}, domain.ErrInvalidDate
	}
	if horizonDays < 1 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: got %d", domain.ErrInvalidHorizon, horizonDays)
	}
	start = domain.TruncateDay(purchase)
	end = start.AddDate(0, 0, horizonDays+1)
	return start, end, nil
}

// ComputeChartWindow returns a window of days calendar days around the
// purchase date, split evenly before and after it.
func ComputeChartWindow(purchase time.Time, days int) (start, end time.Time, err error) {
	if purchase.IsZero() {
		return time.Time{}, time.Time{}, domain.ErrInvalidDate
	}
	if days < 1 {
		days = DefaultChartDays
	}
	before := days / 2
	after := days - before
	day := domain.TruncateDay(purchase)
	return day.AddDate(0, 0, -before), day.AddDate(0, 0, after), nil
}
