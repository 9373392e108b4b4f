package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"pnlscope/internal/analysis"
	"pnlscope/internal/domain"
	"pnlscope/internal/store"
)

// Refresher re-runs analyses whose persisted batch holds fewer returns than
// the horizon and was written before the fetch window closed, which happens
// when a session is analysed while its horizon is still trading.
type Refresher struct {
	analyzer     *analysis.Analyzer
	store        store.ResultStore
	lookbackDays int
	now          func() time.Time
	log          *slog.Logger
}

// NewRefresher creates a Refresher that considers sessions purchased within
// the last lookbackDays calendar days.
func NewRefresher(a *analysis.Analyzer, st store.ResultStore, lookbackDays int, log *slog.Logger) *Refresher {
	if log == nil {
		log = slog.Default()
	}
	return &Refresher{
		analyzer:     a,
		store:        st,
		lookbackDays: lookbackDays,
		now:          time.Now,
		log:          log.With("component", "refresher"),
	}
}

// RunOnce refreshes every incomplete session in the lookback window and
// returns how many received a newer batch. Per-session failures are logged
// and skipped.
func (r *Refresher) RunOnce(ctx context.Context) (int, error) {
	keys, err := r.store.ListSessions(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := domain.TruncateDay(r.now()).AddDate(0, 0, -r.lookbackDays)
	horizon := r.analyzer.Horizon()
	refreshed := 0

	for _, key := range keys {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		if key.PurchaseDate.Before(cutoff) {
			continue
		}

		log := r.log.With("symbol", key.Symbol, "purchaseDate", key.PurchaseDate.Format(domain.DateLayout))

		current, err := r.store.LoadSession(ctx, key.Symbol, key.PurchaseDate)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				log.Warn("loading session failed", "error", err)
			}
			continue
		}
		if current.Complete(horizon) {
			continue
		}
		// A batch written after its fetch window closed already holds
		// every bar the window can produce.
		if _, end, err := analysis.ComputeFetchWindow(key.PurchaseDate, horizon); err == nil && !current.CreatedAt.Before(end) {
			continue
		}

		fresh, err := r.analyzer.AnalyzeDate(ctx, key.Symbol, key.PurchaseDate)
		if err != nil {
			log.Warn("re-analysis failed", "error", err)
			continue
		}
		if len(fresh.Returns) <= len(current.Returns) {
			log.Debug("no new trading days yet", "returns", len(current.Returns))
			continue
		}

		if err := r.analyzer.Persist(ctx, fresh); err != nil {
			log.Error("persisting refreshed session failed", "error", err)
			continue
		}
		log.Info("session refreshed", "before", len(current.Returns), "after", len(fresh.Returns))
		refreshed++
	}
	return refreshed, nil
}
