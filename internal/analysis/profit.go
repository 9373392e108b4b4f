package analysis

import (
	"fmt"
	"math"
	"time"

	"pnlscope/internal/domain"
)

// ComputeReturns derives the purchase price and the per-day returns for the
// first horizon trading days after the purchase bar.
//
// The purchase bar is the first bar dated on or after purchase, so bars
// preceding the purchase date are ignored. Each DailyReturn is keyed by the
// date of the bar it was computed from. When fewer than horizon bars follow
// the purchase bar the result is truncated, never padded.
func ComputeReturns(symbol string, bars []domain.Bar, purchase time.Time, horizon int) (*domain.Session, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, domain.ErrNoData)
	}
	if purchase.IsZero() {
		return nil, domain.ErrInvalidDate
	}
	if horizon < 1 {
		return nil, fmt.Errorf("%w: got %d", domain.ErrInvalidHorizon, horizon)
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Date.After(bars[i-1].Date) {
			return nil, fmt.Errorf("%w: %s at index %d", domain.ErrUnorderedBars,
				bars[i].Date.Format(domain.DateLayout), i)
		}
	}

	day := domain.TruncateDay(purchase)
	idx := -1
	for i := range bars {
		if !bars[i].Date.Before(day) {
			idx = i
			break
		}
	}
	if idx < 0 {
		last := bars[len(bars)-1].Date.Format(domain.DateLayout)
		return nil, fmt.Errorf("%w: %s is after the last available bar %s",
			domain.ErrInvalidDate, day.Format(domain.DateLayout), last)
	}

	pb := bars[idx]
	if pb.Close <= 0 || math.IsNaN(pb.Close) || math.IsInf(pb.Close, 0) {
		return nil, fmt.Errorf("%w: close %v on %s", domain.ErrInvalidPrice,
			pb.Close, pb.Date.Format(domain.DateLayout))
	}

	following := bars[idx+1:]
	n := min(horizon, len(following))
	returns := make([]domain.DailyReturn, 0, n)
	for _, b := range following[:n] {
		if math.IsNaN(b.Close) || math.IsInf(b.Close, 0) {
			return nil, fmt.Errorf("%w: close %v on %s", domain.ErrInvalidPrice,
				b.Close, b.Date.Format(domain.DateLayout))
		}
		returns = append(returns, domain.DailyReturn{
			AnalysisDate:     b.Date,
			ClosingPrice:     b.Close,
			ProfitPercentage: ProfitPercentage(pb.Close, b.Close),
		})
	}

	return &domain.Session{
		Symbol:          symbol,
		PurchaseDate:    day,
		PurchaseBarDate: pb.Date,
		PurchasePrice:   pb.Close,
		Returns:         returns,
	}, nil
}

// ProfitPercentage returns 100 × (closing − purchase) / purchase rounded to
// two decimals. purchase must be positive.
func ProfitPercentage(purchase, closing float64) float64 {
	return round2((closing - purchase) / purchase * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
