package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pnlscope/internal/domain"
	"pnlscope/internal/marketdata"
	"pnlscope/internal/store"
	"pnlscope/internal/util"
)

// Analyzer runs one analysis end to end: it derives the fetch window, pulls
// bars from the source, computes the session and optionally persists it.
type Analyzer struct {
	source  marketdata.Source
	store   store.ResultStore
	horizon int

	persistAttempts int
	persistBackoff  time.Duration

	now func() time.Time
	log *slog.Logger
}

// Option customises an Analyzer.
type Option func(*Analyzer)

// WithPersistRetry sets how many times a failed Persist is attempted and
// the initial backoff between attempts.
func WithPersistRetry(attempts int, backoff time.Duration) Option {
	return func(a *Analyzer) {
		a.persistAttempts = max(attempts, 1)
		a.persistBackoff = backoff
	}
}

// WithClock overrides the wall clock used to reject future purchase dates.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// NewAnalyzer creates an Analyzer. st may be nil when results are never
// persisted. A horizon below one falls back to domain.DefaultHorizon.
func NewAnalyzer(src marketdata.Source, st store.ResultStore, horizon int, log *slog.Logger, opts ...Option) *Analyzer {
	if horizon < 1 {
		horizon = domain.DefaultHorizon
	}
	if log == nil {
		log = slog.Default()
	}
	a := &Analyzer{
		source:          src,
		store:           st,
		horizon:         horizon,
		persistAttempts: 1,
		now:             time.Now,
		log:             log.With("component", "analyzer"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Horizon returns the number of trading days analysed after the purchase.
func (a *Analyzer) Horizon() int { return a.horizon }

// Analyze parses the raw user inputs and runs AnalyzeDate.
func (a *Analyzer) Analyze(ctx context.Context, symbol, purchaseDate string) (*domain.Session, error) {
	purchase, err := ParseDate(purchaseDate)
	if err != nil {
		return nil, err
	}
	return a.AnalyzeDate(ctx, symbol, purchase)
}

// AnalyzeDate computes the session for symbol bought on purchase. It does
// not persist anything.
func (a *Analyzer) AnalyzeDate(ctx context.Context, symbol string, purchase time.Time) (*domain.Session, error) {
	sym, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if today := domain.TruncateDay(a.now()); domain.TruncateDay(purchase).After(today) {
		return nil, fmt.Errorf("%w: %s is in the future", domain.ErrInvalidDate, purchase.Format(domain.DateLayout))
	}

	start, end, err := ComputeFetchWindow(purchase, a.horizon)
	if err != nil {
		return nil, err
	}

	bars, err := a.fetch(ctx, sym, start, end)
	if err != nil {
		return nil, err
	}

	sess, err := ComputeReturns(sym, bars, purchase, a.horizon)
	if err != nil {
		return nil, err
	}

	a.log.Info("analysis computed",
		"symbol", sym,
		"purchaseDate", sess.PurchaseDate.Format(domain.DateLayout),
		"purchasePrice", sess.PurchasePrice,
		"returns", len(sess.Returns),
	)
	return sess, nil
}

// Persist writes the session to the store, retrying store failures with
// exponential backoff. The session is never recomputed.
func (a *Analyzer) Persist(ctx context.Context, sess *domain.Session) error {
	if a.store == nil {
		return fmt.Errorf("%w: no result store configured", domain.ErrStore)
	}
	retryable := func(err error) bool {
		return errors.Is(err, domain.ErrStore) && ctx.Err() == nil
	}
	err := util.RetryIf(ctx, a.persistAttempts, a.persistBackoff, retryable, func() error {
		err := a.store.Persist(ctx, sess)
		if err != nil {
			a.log.Warn("persist failed", "symbol", sess.Symbol, "error", err)
		}
		return err
	})
	if err != nil {
		if !errors.Is(err, domain.ErrStore) {
			err = fmt.Errorf("%w: %w", domain.ErrStore, err)
		}
		return err
	}
	a.log.Info("session persisted",
		"symbol", sess.Symbol,
		"purchaseDate", sess.PurchaseDate.Format(domain.DateLayout),
		"records", len(sess.Returns),
	)
	return nil
}

// AnalyzeAndPersist computes the session and persists it. A store failure
// is returned together with the computed session so the caller can retry
// Persist without fetching again.
func (a *Analyzer) AnalyzeAndPersist(ctx context.Context, symbol string, purchase time.Time) (*domain.Session, error) {
	sess, err := a.AnalyzeDate(ctx, symbol, purchase)
	if err != nil {
		return nil, err
	}
	if err := a.Persist(ctx, sess); err != nil {
		return sess, err
	}
	return sess, nil
}

// CandleSeries is the input of candlestick renderers: the bars around the
// purchase date and the purchase marker.
type CandleSeries struct {
	Symbol          string
	PurchaseDate    time.Time
	PurchaseBarDate time.Time
	PurchasePrice   float64
	Bars            []domain.Bar
}

// Candles fetches days calendar days of bars centred on purchase. The
// purchase marker is the first bar on or after the purchase date; it is left
// zero when the window holds no such bar.
func (a *Analyzer) Candles(ctx context.Context, symbol string, purchase time.Time, days int) (*CandleSeries, error) {
	sym, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	start, end, err := ComputeChartWindow(purchase, days)
	if err != nil {
		return nil, err
	}
	bars, err := a.fetch(ctx, sym, start, end)
	if err != nil {
		return nil, err
	}

	cs := &CandleSeries{Symbol: sym, PurchaseDate: domain.TruncateDay(purchase), Bars: bars}
	for _, b := range bars {
		if !b.Date.Before(cs.PurchaseDate) {
			cs.PurchaseBarDate = b.Date
			cs.PurchasePrice = b.Close
			break
		}
	}
	return cs, nil
}

// Info describes symbol using the configured source. Unknown symbols report
// ErrNotFound; other provider failures are reported as ErrNoData.
func (a *Analyzer) Info(ctx context.Context, symbol string) (*domain.StockInfo, error) {
	sym, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	info, err := marketdata.LookupInfo(ctx, a.source, sym)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrNoData) {
			return nil, err
		}
		a.log.Warn("stock info lookup failed", "symbol", sym, "source", a.source.Name(), "error", err)
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrNoData, sym, err)
	}
	return info, nil
}

// fetch calls the source once. Provider failures and empty results are both
// reported as ErrNoData; the provider error stays in the chain for logging.
func (a *Analyzer) fetch(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	bars, err := a.source.Fetch(ctx, symbol, start, end)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.log.Warn("market data fetch failed", "symbol", symbol, "source", a.source.Name(), "error", err)
		if errors.Is(err, domain.ErrNoData) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrNoData, symbol, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s between %s and %s", domain.ErrNoData, symbol,
			start.Format(domain.DateLayout), end.Format(domain.DateLayout))
	}
	return bars, nil
}
