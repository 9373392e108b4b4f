package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"pnlscope/internal/domain"
	"pnlscope/internal/marketdata"
)

type fakeSource struct {
	bars  []domain.Bar
	err   error
	calls int
	start time.Time
	end   time.Time
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(_ context.Context, _ string, start, end time.Time) ([]domain.Bar, error) {
	f.calls++
	f.start, f.end = start, end
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Bar
	for _, b := range f.bars {
		if !b.Date.Before(start) && b.Date.Before(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

// flakyStore fails the first failures Persist calls with ErrStore.
type flakyStore struct {
	mu       sync.Mutex
	failures int
	calls    int
	saved    []*domain.Session
	err      error
}

func (s *flakyStore) Persist(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return s.err
	}
	if s.calls <= s.failures {
		return fmt.Errorf("%w: database is locked", domain.ErrStore)
	}
	s.saved = append(s.saved, sess)
	return nil
}

func (s *flakyStore) ListSessions(context.Context) ([]domain.SessionKey, error) { return nil, nil }

func (s *flakyStore) LoadSession(context.Context, string, time.Time) (*domain.Session, error) {
	return nil, domain.ErrNotFound
}

func (s *flakyStore) ListRecords(context.Context, string, time.Time) ([]domain.Record, error) {
	return nil, nil
}

func (s *flakyStore) Close() error { return nil }

func testAnalyzer(src *fakeSource, st *flakyStore, opts ...Option) *Analyzer {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithClock(func() time.Time {
		return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	})}, opts...)
	if st == nil {
		return NewAnalyzer(src, nil, 7, log, opts...)
	}
	return NewAnalyzer(src, st, 7, log, opts...)
}

func TestAnalyzerAnalyze(t *testing.T) {
	purchase := mustDate(t, "2024-01-10")
	src := &fakeSource{bars: weekdayBars("AAPL", mustDate(t, "2024-01-02"), 90, 91, 92, 93, 94, 95, 100, 105, 98, 101, 102, 103, 104, 106)}
	a := testAnalyzer(src, nil)

	sess, err := a.Analyze(context.Background(), " aapl ", "2024-01-10")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if sess.Symbol != "AAPL" {
		t.Errorf("Symbol = %q, want AAPL", sess.Symbol)
	}
	if !src.start.Equal(purchase) || src.end.Format(domain.DateLayout) != "2024-01-18" {
		t.Errorf("fetched [%v, %v), want [2024-01-10, 2024-01-18)", src.start, src.end)
	}
	if sess.PurchasePrice != 100 {
		t.Errorf("PurchasePrice = %v, want 100", sess.PurchasePrice)
	}
	// Jan 11, 12, 15, 16, 17 fall inside the window.
	if len(sess.Returns) != 5 {
		t.Errorf("got %d returns, want 5", len(sess.Returns))
	}
}

func TestAnalyzerInputErrors(t *testing.T) {
	a := testAnalyzer(&fakeSource{}, nil)
	ctx := context.Background()

	if _, err := a.Analyze(ctx, "AAPL", "2024/01/10"); !errors.Is(err, domain.ErrInvalidDate) {
		t.Errorf("malformed date error = %v, want ErrInvalidDate", err)
	}
	if _, err := a.Analyze(ctx, "  ", "2024-01-10"); !errors.Is(err, domain.ErrInvalidSymbol) {
		t.Errorf("blank symbol error = %v, want ErrInvalidSymbol", err)
	}
	if _, err := a.Analyze(ctx, "AAPL", "2024-06-02"); !errors.Is(err, domain.ErrInvalidDate) {
		t.Errorf("future date error = %v, want ErrInvalidDate", err)
	}
}

func TestAnalyzerNoData(t *testing.T) {
	ctx := context.Background()

	a := testAnalyzer(&fakeSource{}, nil)
	if _, err := a.Analyze(ctx, "ZZZZ", "2024-01-10"); !errors.Is(err, domain.ErrNoData) {
		t.Errorf("empty result error = %v, want ErrNoData", err)
	}

	providerErr := errors.New("503 service unavailable")
	a = testAnalyzer(&fakeSource{err: providerErr}, nil)
	_, err := a.Analyze(ctx, "AAPL", "2024-01-10")
	if !errors.Is(err, domain.ErrNoData) {
		t.Errorf("provider error = %v, want ErrNoData", err)
	}
	if !errors.Is(err, providerErr) {
		t.Error("provider error should stay in the chain")
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	a = testAnalyzer(&fakeSource{err: context.Canceled}, nil)
	if _, err := a.Analyze(cctx, "AAPL", "2024-01-10"); !errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrNoData) {
		t.Errorf("cancelled fetch error = %v, want context.Canceled only", err)
	}
}

func TestAnalyzerPersistRetry(t *testing.T) {
	src := &fakeSource{bars: weekdayBars("AAPL", mustDate(t, "2024-01-10"), 100, 105, 98)}
	st := &flakyStore{failures: 2}
	a := testAnalyzer(src, st, WithPersistRetry(3, time.Millisecond))

	sess, err := a.AnalyzeAndPersist(context.Background(), "AAPL", mustDate(t, "2024-01-10"))
	if err != nil {
		t.Fatalf("AnalyzeAndPersist: %v", err)
	}
	if st.calls != 3 || len(st.saved) != 1 || st.saved[0] != sess {
		t.Errorf("store calls = %d saved = %d, want 3 and 1", st.calls, len(st.saved))
	}
	if src.calls != 1 {
		t.Errorf("source called %d times, want 1", src.calls)
	}
}

func TestAnalyzerPersistFailure(t *testing.T) {
	src := &fakeSource{bars: weekdayBars("AAPL", mustDate(t, "2024-01-10"), 100, 105)}
	st := &flakyStore{failures: 10}
	a := testAnalyzer(src, st, WithPersistRetry(2, time.Millisecond))

	sess, err := a.AnalyzeAndPersist(context.Background(), "AAPL", mustDate(t, "2024-01-10"))
	if !errors.Is(err, domain.ErrStore) {
		t.Fatalf("error = %v, want ErrStore", err)
	}
	if domain.IsAnalysisError(err) {
		t.Error("store failure reported as an analysis error")
	}
	if sess == nil || len(sess.Returns) != 1 {
		t.Errorf("computed session should be returned with the store error, got %+v", sess)
	}
	if st.calls != 2 {
		t.Errorf("store calls = %d, want 2", st.calls)
	}

	// Errors outside ErrStore are not retried but still reported as store errors.
	st = &flakyStore{err: errors.New("disk full")}
	a = testAnalyzer(src, st, WithPersistRetry(5, time.Millisecond))
	if err := a.Persist(context.Background(), sess); !errors.Is(err, domain.ErrStore) {
		t.Errorf("error = %v, want ErrStore", err)
	}
	if st.calls != 1 {
		t.Errorf("store calls = %d, want 1", st.calls)
	}
}

func TestAnalyzerPersistWithoutStore(t *testing.T) {
	a := testAnalyzer(&fakeSource{}, nil)
	err := a.Persist(context.Background(), &domain.Session{Symbol: "AAPL"})
	if !errors.Is(err, domain.ErrStore) {
		t.Errorf("error = %v, want ErrStore", err)
	}
}

func TestAnalyzerCandles(t *testing.T) {
	src := &fakeSource{bars: weekdayBars("TSLA", mustDate(t, "2024-01-02"), 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20)}
	a := testAnalyzer(src, nil)

	// Saturday purchase: marker on Monday 2024-01-08.
	cs, err := a.Candles(context.Background(), "tsla", mustDate(t, "2024-01-06"), 10)
	if err != nil {
		t.Fatalf("Candles: %v", err)
	}
	if cs.Symbol != "TSLA" {
		t.Errorf("Symbol = %q", cs.Symbol)
	}
	if got := cs.PurchaseBarDate.Format(domain.DateLayout); got != "2024-01-08" {
		t.Errorf("PurchaseBarDate = %s, want 2024-01-08", got)
	}
	if cs.PurchasePrice != 14 {
		t.Errorf("PurchasePrice = %v, want 14", cs.PurchasePrice)
	}
	// Window [2024-01-01, 2024-01-11).
	if len(cs.Bars) != 7 {
		t.Errorf("got %d bars, want 7", len(cs.Bars))
	}
}

type infoSource struct {
	fakeSource
	info  *domain.StockInfo
	err   error
	asked string
}

func (s *infoSource) Info(_ context.Context, symbol string) (*domain.StockInfo, error) {
	s.asked = symbol
	if s.err != nil {
		return nil, s.err
	}
	return s.info, nil
}

func TestAnalyzerInfo(t *testing.T) {
	src := &infoSource{info: &domain.StockInfo{Symbol: "AAPL", Name: "Apple Inc.", Sector: "Technology"}}
	a := NewAnalyzer(src, nil, 7, slog.New(slog.NewTextHandler(io.Discard, nil)))

	info, err := a.Info(context.Background(), " aapl ")
	if err != nil {
		t.Fatalf("Info returned error: %v", err)
	}
	if src.asked != "AAPL" {
		t.Errorf("source asked for %q, want AAPL", src.asked)
	}
	if info.Name != "Apple Inc." || info.Sector != "Technology" {
		t.Errorf("info = %+v", info)
	}
}

func TestAnalyzerInfoErrors(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	tests := []struct {
		name   string
		src    marketdata.Source
		symbol string
		want   error
	}{
		{"empty symbol", &infoSource{}, "  ", domain.ErrInvalidSymbol},
		{"no info endpoint", &fakeSource{}, "AAPL", domain.ErrNoData},
		{"unknown symbol", &infoSource{err: fmt.Errorf("%w: ZZZZ", domain.ErrNotFound)}, "ZZZZ", domain.ErrNotFound},
		{"provider failure", &infoSource{err: errors.New("HTTP 500")}, "AAPL", domain.ErrNoData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAnalyzer(tt.src, nil, 7, log)
			if _, err := a.Info(context.Background(), tt.symbol); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}
