package api

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"pnlscope/internal/domain"
)

// Messages travel as google.protobuf.Struct. Dates are YYYY-MM-DD strings,
// created_at is RFC 3339 with nanoseconds.
const timeLayout = time.RFC3339Nano

func sessionToMap(sess *domain.Session, horizon int) map[string]any {
	returns := make([]any, 0, len(sess.Returns))
	for _, r := range sess.Returns {
		returns = append(returns, map[string]any{
			"analysis_date":     r.AnalysisDate.Format(domain.DateLayout),
			"closing_price":     r.ClosingPrice,
			"profit_percentage": r.ProfitPercentage,
		})
	}
	m := map[string]any{
		"symbol":         sess.Symbol,
		"purchase_date":  sess.PurchaseDate.Format(domain.DateLayout),
		"purchase_price": sess.PurchasePrice,
		"complete":       sess.Complete(horizon),
		"returns":        returns,
	}
	if !sess.PurchaseBarDate.IsZero() {
		m["purchase_bar_date"] = sess.PurchaseBarDate.Format(domain.DateLayout)
	}
	if !sess.CreatedAt.IsZero() {
		m["created_at"] = sess.CreatedAt.UTC().Format(timeLayout)
	}
	return m
}

func sessionFromStruct(s *structpb.Struct) (*domain.Session, error) {
	f := s.GetFields()
	sess := &domain.Session{
		Symbol:        f["symbol"].GetStringValue(),
		PurchasePrice: f["purchase_price"].GetNumberValue(),
	}
	var err error
	if sess.PurchaseDate, err = parseDate(f["purchase_date"]); err != nil {
		return nil, err
	}
	if sess.PurchaseBarDate, err = parseDate(f["purchase_bar_date"]); err != nil {
		return nil, err
	}
	if v := f["created_at"].GetStringValue(); v != "" {
		if sess.CreatedAt, err = time.Parse(timeLayout, v); err != nil {
			return nil, fmt.Errorf("created_at: %w", err)
		}
	}
	for _, item := range f["returns"].GetListValue().GetValues() {
		rf := item.GetStructValue().GetFields()
		d, err := parseDate(rf["analysis_date"])
		if err != nil {
			return nil, err
		}
		sess.Returns = append(sess.Returns, domain.DailyReturn{
			AnalysisDate:     d,
			ClosingPrice:     rf["closing_price"].GetNumberValue(),
			ProfitPercentage: rf["profit_percentage"].GetNumberValue(),
		})
	}
	return sess, nil
}

func sessionKeysFromStruct(s *structpb.Struct) ([]domain.SessionKey, error) {
	var keys []domain.SessionKey
	for _, item := range s.GetFields()["sessions"].GetListValue().GetValues() {
		f := item.GetStructValue().GetFields()
		d, err := parseDate(f["purchase_date"])
		if err != nil {
			return nil, err
		}
		key := domain.SessionKey{Symbol: f["symbol"].GetStringValue(), PurchaseDate: d}
		if v := f["created_at"].GetStringValue(); v != "" {
			if key.CreatedAt, err = time.Parse(timeLayout, v); err != nil {
				return nil, fmt.Errorf("created_at: %w", err)
			}
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func stockInfoToMap(info *domain.StockInfo) map[string]any {
	return map[string]any{
		"symbol":              info.Symbol,
		"name":                info.Name,
		"exchange":            info.Exchange,
		"currency":            info.Currency,
		"sector":              info.Sector,
		"industry":            info.Industry,
		"market_cap":          info.MarketCap,
		"pe_ratio":            info.PERatio,
		"dividend_yield":      info.DividendYield,
		"fifty_two_week_high": info.FiftyTwoWeekHigh,
		"fifty_two_week_low":  info.FiftyTwoWeekLow,
		"avg_volume":          info.AvgVolume,
	}
}

func stockInfoFromStruct(s *structpb.Struct) *domain.StockInfo {
	f := s.GetFields()
	return &domain.StockInfo{
		Symbol:           f["symbol"].GetStringValue(),
		Name:             f["name"].GetStringValue(),
		Exchange:         f["exchange"].GetStringValue(),
		Currency:         f["currency"].GetStringValue(),
		Sector:           f["sector"].GetStringValue(),
		Industry:         f["industry"].GetStringValue(),
		MarketCap:        f["market_cap"].GetNumberValue(),
		PERatio:          f["pe_ratio"].GetNumberValue(),
		DividendYield:    f["dividend_yield"].GetNumberValue(),
		FiftyTwoWeekHigh: f["fifty_two_week_high"].GetNumberValue(),
		FiftyTwoWeekLow:  f["fifty_two_week_low"].GetNumberValue(),
		AvgVolume:        int64(f["avg_volume"].GetNumberValue()),
	}
}

// parseDate returns the zero time for an absent value.
func parseDate(v *structpb.Value) (time.Time, error) {
	s := v.GetStringValue()
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", domain.ErrInvalidDate, s)
	}
	return t, nil
}
