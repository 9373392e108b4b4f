package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"pnlscope/internal/analysis"
	"pnlscope/internal/domain"
	"pnlscope/internal/store"
)

type fakeSource struct{ bars []domain.Bar }

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(_ context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	var out []domain.Bar
	for _, b := range f.bars {
		if b.Symbol == symbol && !b.Date.Before(start) && b.Date.Before(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeSource) Info(_ context.Context, symbol string) (*domain.StockInfo, error) {
	if symbol != "AAPL" {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, symbol)
	}
	return &domain.StockInfo{Symbol: "AAPL", Name: "Apple Inc.", Sector: "Technology", PERatio: 29.5, AvgVolume: 53201400}, nil
}

func date(s string) time.Time {
	t, _ := time.Parse(domain.DateLayout, s)
	return t
}

func startServer(t *testing.T) *Client {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "stock_analysis.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	src := &fakeSource{bars: []domain.Bar{
		{Symbol: "AAPL", Date: date("2024-01-10"), Close: 100},
		{Symbol: "AAPL", Date: date("2024-01-11"), Close: 105},
		{Symbol: "AAPL", Date: date("2024-01-12"), Close: 98},
		{Symbol: "ZERO", Date: date("2024-01-10"), Close: 0},
	}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := analysis.NewAnalyzer(src, st, domain.DefaultHorizon, log,
		analysis.WithClock(func() time.Time { return date("2024-06-01") }))

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	NewServer(a, st, log).RegisterGRPC(gs)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	c, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestAnalyzeRoundTrip(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()

	res, err := c.Analyze(ctx, "aapl", "2024-01-10", true)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !res.Persisted || res.PersistError != "" {
		t.Errorf("persisted = %v, error = %q", res.Persisted, res.PersistError)
	}
	if res.Complete {
		t.Error("two returns should not complete a seven-day horizon")
	}
	sess := res.Session
	if sess.Symbol != "AAPL" || sess.PurchasePrice != 100 || len(sess.Returns) != 2 {
		t.Fatalf("session = %+v", sess)
	}
	if sess.Returns[0].ProfitPercentage != 5 || sess.Returns[1].ProfitPercentage != -2 {
		t.Errorf("returns = %+v", sess.Returns)
	}
	if !sess.Returns[1].AnalysisDate.Equal(date("2024-01-12")) {
		t.Errorf("analysis date = %v", sess.Returns[1].AnalysisDate)
	}

	keys, err := c.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(keys) != 1 || keys[0].Symbol != "AAPL" || !keys[0].PurchaseDate.Equal(date("2024-01-10")) || keys[0].CreatedAt.IsZero() {
		t.Errorf("keys = %+v", keys)
	}

	got, err := c.GetSession(ctx, "AAPL", "2024-01-10")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.PurchasePrice != 100 || len(got.Returns) != 2 || got.CreatedAt.IsZero() {
		t.Errorf("stored session = %+v", got)
	}
}

func TestStatusCodes(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{"bad date", func() error { _, err := c.Analyze(ctx, "AAPL", "2024/01/10", false); return err }, codes.InvalidArgument},
		{"no data", func() error { _, err := c.Analyze(ctx, "MSFT", "2024-01-10", false); return err }, codes.NotFound},
		{"zero price", func() error { _, err := c.Analyze(ctx, "ZERO", "2024-01-10", false); return err }, codes.FailedPrecondition},
		{"missing session", func() error { _, err := c.GetSession(ctx, "AAPL", "2020-01-01"); return err }, codes.NotFound},
		{"blank symbol", func() error { _, err := c.GetSession(ctx, "", "2024-01-10"); return err }, codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if got := status.Code(err); got != tt.want {
				t.Errorf("code = %v, want %v (%v)", got, tt.want, err)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	c := startServer(t)
	resp, err := healthpb.NewHealthClient(c.conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", resp.GetStatus())
	}
}

func TestStockInfo(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()

	info, err := c.StockInfo(ctx, "aapl")
	if err != nil {
		t.Fatalf("StockInfo: %v", err)
	}
	want := domain.StockInfo{Symbol: "AAPL", Name: "Apple Inc.", Sector: "Technology", PERatio: 29.5, AvgVolume: 53201400}
	if *info != want {
		t.Errorf("info = %+v, want %+v", *info, want)
	}

	_, err = c.StockInfo(ctx, "ZZZZ")
	if status.Code(err) != codes.NotFound {
		t.Errorf("unknown symbol code = %v, want NotFound", status.Code(err))
	}
	_, err = c.StockInfo(ctx, " ")
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("empty symbol code = %v, want InvalidArgument", status.Code(err))
	}
}
