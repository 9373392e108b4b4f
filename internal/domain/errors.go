package domain

import "errors"

// Analysis errors. Window and engine failures wrap one of these.
var (
	ErrInvalidDate    = errors.New("invalid purchase date")
	ErrNoData         = errors.New("no data available")
	ErrInvalidPrice   = errors.New("invalid purchase price")
	ErrInvalidSymbol  = errors.New("invalid symbol")
	ErrInvalidHorizon = errors.New("horizon must be at least one day")
	ErrUnorderedBars  = errors.New("bars are not in ascending date order")
)

// Store errors.
var (
	ErrStore    = errors.New("store error")
	ErrNotFound = errors.New("session not found")
)

// IsAnalysisError reports whether err is one of the computation errors a
// caller should present to the user rather than retry.
func IsAnalysisError(err error) bool {
	for _, target := range []error{
		ErrInvalidDate, ErrNoData, ErrInvalidPrice,
		ErrInvalidSymbol, ErrInvalidHorizon, ErrUnorderedBars,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
