// Package store defines storage interfaces for persisting analysis sessions
// and caching daily bars, with SQLite and Parquet implementations.
package store

import (
	"context"
	"time"

	"pnlscope/internal/domain"
)

// ResultStore persists analysis sessions as one row per daily return.
type ResultStore interface {
	// Persist writes every DailyReturn of the session atomically. Repeated
	// persists of the same (symbol, purchase date) append a newer batch.
	Persist(ctx context.Context, sess *domain.Session) error

	// ListSessions returns distinct (symbol, purchase date) pairs, most
	// recently persisted first.
	ListSessions(ctx context.Context) ([]domain.SessionKey, error)

	// LoadSession returns the latest persisted batch of a session, or
	// domain.ErrNotFound.
	LoadSession(ctx context.Context, symbol string, purchaseDate time.Time) (*domain.Session, error)

	// ListRecords returns every persisted row of a session across all
	// batches, oldest first.
	ListRecords(ctx context.Context, symbol string, purchaseDate time.Time) ([]domain.Record, error)

	// Close releases the underlying database.
	Close() error
}

// BarStore persists and retrieves daily OHLCV bars.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end).
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)

	// MarkCovered records that [start, end) was fetched completely for symbol.
	MarkCovered(ctx context.Context, symbol, market string, start, end time.Time) error

	// Covers reports whether [start, end) lies inside a recorded window.
	Covers(ctx context.Context, symbol, market string, start, end time.Time) (bool, error)
}
