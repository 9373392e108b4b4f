package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pnlscope/internal/analysis"
	"pnlscope/internal/api"
	"pnlscope/internal/app"
	"pnlscope/internal/chart"
	"pnlscope/internal/config"
	"pnlscope/internal/domain"
	"pnlscope/internal/util"
	"pnlscope/pkg/pnlscope"
)

// analyzeResult is what every backend reports for an analysis.
type analyzeResult struct {
	session      *domain.Session
	complete     bool
	persisted    bool
	persistError string
}

// backend runs commands either in-process or against a pnlscope-server.
type backend interface {
	Analyze(ctx context.Context, symbol, date string, save bool) (*analyzeResult, error)
	Sessions(ctx context.Context) ([]domain.SessionKey, error)
	Show(ctx context.Context, symbol, date string) (*domain.Session, error)
	Chart(ctx context.Context, symbol, date, kind string) ([]byte, error)
	Info(ctx context.Context, symbol string) (*domain.StockInfo, error)
	Close() error
}

type target struct {
	server string
	grpc   string
}

func openBackend(t target) (backend, error) {
	switch {
	case t.grpc != "":
		c, err := api.Dial(t.grpc)
		if err != nil {
			return nil, err
		}
		return &grpcBackend{client: c}, nil
	case t.server != "":
		return &httpBackend{client: pnlscope.NewClient(t.server)}, nil
	}

	cfgPath := "config/pnlscope.yaml"
	if p := os.Getenv("PNLSCOPE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadOptional(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	// Keep stdout for tables.
	level := cfg.Logging.Level
	if os.Getenv("LOG_LEVEL") == "" {
		level = "warn"
	}
	logger := util.NewLogger(level, "text")
	util.SetDefault(logger)

	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &localBackend{app: a}, nil
}

// ---------------------------------------------------------------------------
// In-process
// ---------------------------------------------------------------------------

type localBackend struct {
	app *app.App
}

func (b *localBackend) Analyze(ctx context.Context, symbol, date string, save bool) (*analyzeResult, error) {
	sess, err := b.app.Analyzer.Analyze(ctx, symbol, date)
	if err != nil {
		return nil, err
	}
	res := &analyzeResult{session: sess, complete: sess.Complete(b.app.Analyzer.Horizon())}
	if save {
		if err := b.app.Analyzer.Persist(ctx, sess); err != nil {
			res.persistError = err.Error()
		} else {
			res.persisted = true
		}
	}
	return res, nil
}

func (b *localBackend) Sessions(ctx context.Context) ([]domain.SessionKey, error) {
	return b.app.Store.ListSessions(ctx)
}

func (b *localBackend) Show(ctx context.Context, symbol, date string) (*domain.Session, error) {
	sym, err := domain.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	d, err := analysis.ParseDate(date)
	if err != nil {
		return nil, err
	}
	return b.app.Store.LoadSession(ctx, sym, d)
}

func (b *localBackend) Chart(ctx context.Context, symbol, date, kind string) ([]byte, error) {
	k, err := chart.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	sess, err := b.Show(ctx, symbol, date)
	if err != nil {
		return nil, err
	}
	return b.app.Charts.Render(sess, k)
}

func (b *localBackend) Info(ctx context.Context, symbol string) (*domain.StockInfo, error) {
	return b.app.Analyzer.Info(ctx, symbol)
}

func (b *localBackend) Close() error { return b.app.Close() }

// ---------------------------------------------------------------------------
// HTTP
// ---------------------------------------------------------------------------

type httpBackend struct {
	client *pnlscope.Client
}

func (b *httpBackend) Analyze(ctx context.Context, symbol, date string, save bool) (*analyzeResult, error) {
	res, err := b.client.Analyze(ctx, symbol, date, save)
	if err != nil {
		return nil, err
	}
	sess, err := fromSDK(&res.Session)
	if err != nil {
		return nil, err
	}
	return &analyzeResult{
		session:      sess,
		complete:     res.Session.Complete,
		persisted:    res.Persisted,
		persistError: res.PersistError,
	}, nil
}

func (b *httpBackend) Sessions(ctx context.Context) ([]domain.SessionKey, error) {
	keys, err := b.client.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SessionKey, 0, len(keys))
	for _, k := range keys {
		d, err := time.Parse(domain.DateLayout, k.PurchaseDate)
		if err != nil {
			return nil, fmt.Errorf("server sent purchase_date %q: %w", k.PurchaseDate, err)
		}
		out = append(out, domain.SessionKey{Symbol: k.Symbol, PurchaseDate: d, CreatedAt: k.CreatedAt})
	}
	return out, nil
}

func (b *httpBackend) Show(ctx context.Context, symbol, date string) (*domain.Session, error) {
	s, err := b.client.GetSession(ctx, symbol, date)
	if err != nil {
		return nil, err
	}
	return fromSDK(s)
}

func (b *httpBackend) Chart(ctx context.Context, symbol, date, kind string) ([]byte, error) {
	return b.client.GetChart(ctx, symbol, date, kind)
}

func (b *httpBackend) Info(ctx context.Context, symbol string) (*domain.StockInfo, error) {
	info, err := b.client.GetStockInfo(ctx, symbol)
	if err != nil {
		return nil, err
	}
	out := domain.StockInfo(*info)
	return &out, nil
}

func (b *httpBackend) Close() error { return nil }

func fromSDK(s *pnlscope.Session) (*domain.Session, error) {
	parse := func(v string) (time.Time, error) {
		if v == "" {
			return time.Time{}, nil
		}
		return time.Parse(domain.DateLayout, v)
	}
	sess := &domain.Session{Symbol: s.Symbol, PurchasePrice: s.PurchasePrice}
	var err error
	if sess.PurchaseDate, err = parse(s.PurchaseDate); err != nil {
		return nil, err
	}
	if sess.PurchaseBarDate, err = parse(s.PurchaseBarDate); err != nil {
		return nil, err
	}
	if s.CreatedAt != nil {
		sess.CreatedAt = *s.CreatedAt
	}
	for _, r := range s.Returns {
		d, err := parse(r.AnalysisDate)
		if err != nil {
			return nil, err
		}
		sess.Returns = append(sess.Returns, domain.DailyReturn{
			AnalysisDate:     d,
			ClosingPrice:     r.ClosingPrice,
			ProfitPercentage: r.ProfitPercentage,
		})
	}
	return sess, nil
}

// ---------------------------------------------------------------------------
// gRPC
// ---------------------------------------------------------------------------

type grpcBackend struct {
	client *api.Client
}

func (b *grpcBackend) Analyze(ctx context.Context, symbol, date string, save bool) (*analyzeResult, error) {
	res, err := b.client.Analyze(ctx, symbol, date, save)
	if err != nil {
		return nil, err
	}
	return &analyzeResult{
		session:      res.Session,
		complete:     res.Complete,
		persisted:    res.Persisted,
		persistError: res.PersistError,
	}, nil
}

func (b *grpcBackend) Sessions(ctx context.Context) ([]domain.SessionKey, error) {
	return b.client.ListSessions(ctx)
}

func (b *grpcBackend) Show(ctx context.Context, symbol, date string) (*domain.Session, error) {
	return b.client.GetSession(ctx, symbol, date)
}

// Chart renders locally from the session fetched over gRPC.
func (b *grpcBackend) Chart(ctx context.Context, symbol, date, kind string) ([]byte, error) {
	k, err := chart.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	sess, err := b.client.GetSession(ctx, symbol, date)
	if err != nil {
		return nil, err
	}
	return chart.NewRenderer(0, 0).Render(sess, k)
}

func (b *grpcBackend) Info(ctx context.Context, symbol string) (*domain.StockInfo, error) {
	return b.client.StockInfo(ctx, symbol)
}

func (b *grpcBackend) Close() error { return b.client.Close() }

// ---------------------------------------------------------------------------
// Error messages
// ---------------------------------------------------------------------------

// describe turns an error from any backend into a message for the user.
func describe(err error) string {
	var apiErr *pnlscope.APIError
	switch {
	case errors.Is(err, domain.ErrInvalidDate):
		return fmt.Sprintf("invalid date: %v (use YYYY-MM-DD, not in the future)", err)
	case errors.Is(err, domain.ErrInvalidSymbol):
		return "a ticker symbol is required"
	case errors.Is(err, domain.ErrNoData):
		return fmt.Sprintf("no market data found: %v", err)
	case errors.Is(err, domain.ErrInvalidPrice):
		return fmt.Sprintf("the purchase day has no usable closing price: %v", err)
	case errors.Is(err, domain.ErrNotFound):
		return "no saved analysis for that symbol and date (run analyze -save first)"
	case errors.Is(err, domain.ErrStore):
		return fmt.Sprintf("result database error: %v", err)
	case errors.As(err, &apiErr):
		return fmt.Sprintf("server error (%d): %s", apiErr.StatusCode, apiErr.Message)
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return fmt.Sprintf("server error (%s): %s", st.Code(), st.Message())
	}
	return err.Error()
}
