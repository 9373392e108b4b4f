package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pnlscope/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ ResultStore = (*SQLiteStore)(nil)

// Dates are stored as TEXT rather than DATE/TIMESTAMP so the driver hands
// them back verbatim. createdAtLayout is fixed width so that created_at
// sorts lexicographically.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements ResultStore backed by a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger

	mu          sync.Mutex
	lastCreated time.Time
	now         func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating %s: %w", domain.ErrStore, dir, err)
		}
	}

	// Writers take the lock up front and wait on each other instead of
	// failing with SQLITE_BUSY.
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(10000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	dsn := "file:" + dbPath + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %w", domain.ErrStore, err)
	}

	s := &SQLiteStore{
		db:  db,
		log: slog.Default().With("component", "sqlite-store"),
		now: time.Now,
	}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	s.log.Info("sqlite store opened", "path", dbPath)
	return s, nil
}

// Migrate creates the schema. It is safe to call on an initialised database.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stock_analysis (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol            TEXT NOT NULL,
			purchase_date     TEXT NOT NULL,
			purchase_price    REAL NOT NULL,
			analysis_date     TEXT NOT NULL,
			closing_price     REAL NOT NULL,
			profit_percentage REAL NOT NULL,
			created_at        TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stock_analysis_session
			ON stock_analysis(symbol, purchase_date, id)`,
		`CREATE INDEX IF NOT EXISTS idx_stock_analysis_created
			ON stock_analysis(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: migrate: %w", domain.ErrStore, err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nextCreatedAt returns a timestamp strictly after the previous one handed
// out by this store, so batches written in the same instant stay ordered.
func (s *SQLiteStore) nextCreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now().UTC()
	if !t.After(s.lastCreated) {
		t = s.lastCreated.Add(time.Nanosecond)
	}
	s.lastCreated = t
	return t
}

// Persist inserts one row per DailyReturn inside a single transaction. Any
// failure rolls the whole batch back. A session without returns writes
// nothing.
func (s *SQLiteStore) Persist(ctx context.Context, sess *domain.Session) error {
	if sess == nil || sess.Symbol == "" || sess.PurchaseDate.IsZero() {
		return fmt.Errorf("%w: session is missing symbol or purchase date", domain.ErrStore)
	}
	if len(sess.Returns) == 0 {
		s.log.Info("nothing to persist", "symbol", sess.Symbol,
			"purchaseDate", sess.PurchaseDate.Format(domain.DateLayout))
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", domain.ErrStore, err)
	}
	defer tx.Rollback() // no-op after Commit

	// Another process may share the database file, so the batch must also
	// sort after whatever is already stored for this session.
	pd := sess.PurchaseDate.Format(domain.DateLayout)
	var latest sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT MAX(created_at) FROM stock_analysis
		WHERE symbol = ? AND purchase_date = ?`, sess.Symbol, pd).Scan(&latest); err != nil {
		return fmt.Errorf("%w: latest batch: %w", domain.ErrStore, err)
	}
	createdAt := s.nextCreatedAt()
	if latest.Valid {
		prev, err := time.Parse(createdAtLayout, latest.String)
		if err != nil {
			return fmt.Errorf("%w: bad created_at %q: %w", domain.ErrStore, latest.String, err)
		}
		if !createdAt.After(prev) {
			createdAt = prev.Add(time.Nanosecond)
		}
	}
	records := sess.Records(createdAt)

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO stock_analysis
		(symbol, purchase_date, purchase_price, analysis_date, closing_price, profit_percentage, created_at)
		VALUES (?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("%w: prepare insert: %w", domain.ErrStore, err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.Symbol,
			r.PurchaseDate.Format(domain.DateLayout),
			r.PurchasePrice,
			r.AnalysisDate.Format(domain.DateLayout),
			r.ClosingPrice,
			r.ProfitPercentage,
			r.CreatedAt.Format(createdAtLayout),
		); err != nil {
			return fmt.Errorf("%w: insert %s %s: %w", domain.ErrStore,
				r.Symbol, r.AnalysisDate.Format(domain.DateLayout), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", domain.ErrStore, err)
	}
	return nil
}

// ListSessions returns distinct sessions ordered by their latest batch.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]domain.SessionKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, purchase_date, MAX(created_at) AS latest, MAX(id) AS last_id
		FROM stock_analysis
		GROUP BY symbol, purchase_date
		ORDER BY latest DESC, last_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %w", domain.ErrStore, err)
	}
	defer rows.Close()

	var keys []domain.SessionKey
	for rows.Next() {
		var (
			symbol, purchase, created string
			lastID                    int64
		)
		if err := rows.Scan(&symbol, &purchase, &created, &lastID); err != nil {
			return nil, fmt.Errorf("%w: scan session: %w", domain.ErrStore, err)
		}
		key := domain.SessionKey{Symbol: symbol}
		if key.PurchaseDate, err = time.Parse(domain.DateLayout, purchase); err != nil {
			return nil, fmt.Errorf("%w: bad purchase_date %q: %w", domain.ErrStore, purchase, err)
		}
		if key.CreatedAt, err = time.Parse(createdAtLayout, created); err != nil {
			return nil, fmt.Errorf("%w: bad created_at %q: %w", domain.ErrStore, created, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list sessions: %w", domain.ErrStore, err)
	}
	return keys, nil
}

// LoadSession returns the most recently persisted batch of the session.
func (s *SQLiteStore) LoadSession(ctx context.Context, symbol string, purchaseDate time.Time) (*domain.Session, error) {
	pd := purchaseDate.Format(domain.DateLayout)

	var created string
	err := s.db.QueryRowContext(ctx, `SELECT created_at FROM stock_analysis
		WHERE symbol = ? AND purchase_date = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, symbol, pd).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", domain.ErrNotFound, symbol, pd)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load session: %w", domain.ErrStore, err)
	}

	records, err := s.queryRecords(ctx, `SELECT id, symbol, purchase_date, purchase_price, analysis_date,
			closing_price, profit_percentage, created_at
		FROM stock_analysis
		WHERE symbol = ? AND purchase_date = ? AND created_at = ?
		ORDER BY analysis_date ASC, id ASC`, symbol, pd, created)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s %s", domain.ErrNotFound, symbol, pd)
	}

	sess := &domain.Session{
		Symbol:        records[0].Symbol,
		PurchaseDate:  records[0].PurchaseDate,
		PurchasePrice: records[0].PurchasePrice,
		CreatedAt:     records[0].CreatedAt,
		Returns:       make([]domain.DailyReturn, 0, len(records)),
	}
	for _, r := range records {
		sess.Returns = append(sess.Returns, domain.DailyReturn{
			AnalysisDate:     r.AnalysisDate,
			ClosingPrice:     r.ClosingPrice,
			ProfitPercentage: r.ProfitPercentage,
		})
	}
	return sess, nil
}

// ListRecords returns all rows of a session across batches, oldest first.
func (s *SQLiteStore) ListRecords(ctx context.Context, symbol string, purchaseDate time.Time) ([]domain.Record, error) {
	return s.queryRecords(ctx, `SELECT id, symbol, purchase_date, purchase_price, analysis_date,
			closing_price, profit_percentage, created_at
		FROM stock_analysis
		WHERE symbol = ? AND purchase_date = ?
		ORDER BY id ASC`, symbol, purchaseDate.Format(domain.DateLayout))
}

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...any) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query records: %w", domain.ErrStore, err)
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		var (
			r                          domain.Record
			purchase, analysis, created string
		)
		if err := rows.Scan(&r.ID, &r.Symbol, &purchase, &r.PurchasePrice, &analysis,
			&r.ClosingPrice, &r.ProfitPercentage, &created); err != nil {
			return nil, fmt.Errorf("%w: scan record: %w", domain.ErrStore, err)
		}
		if r.PurchaseDate, err = time.Parse(domain.DateLayout, purchase); err != nil {
			return nil, fmt.Errorf("%w: bad purchase_date %q: %w", domain.ErrStore, purchase, err)
		}
		if r.AnalysisDate, err = time.Parse(domain.DateLayout, analysis); err != nil {
			return nil, fmt.Errorf("%w: bad analysis_date %q: %w", domain.ErrStore, analysis, err)
		}
		if r.CreatedAt, err = time.Parse(createdAtLayout, created); err != nil {
			return nil, fmt.Errorf("%w: bad created_at %q: %w", domain.ErrStore, created, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: query records: %w", domain.ErrStore, err)
	}
	return out, nil
}
