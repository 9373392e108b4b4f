package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"pnlscope/internal/analysis"
	"pnlscope/internal/chart"
	"pnlscope/internal/domain"
	"pnlscope/internal/store"
)

// Server serves the analysis HTTP API.
type Server struct {
	analyzer  *analysis.Analyzer
	store     store.ResultStore
	charts    *chart.Renderer
	chartDays int
	log       *slog.Logger
}

// NewServer creates a new HTTP API server. st may be nil, in which case the
// session routes answer 503.
func NewServer(a *analysis.Analyzer, st store.ResultStore, charts *chart.Renderer, chartDays int, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if charts == nil {
		charts = chart.NewRenderer(0, 0)
	}
	if chartDays < 1 {
		chartDays = analysis.DefaultChartDays
	}
	return &Server{
		analyzer:  a,
		store:     st,
		charts:    charts,
		chartDays: chartDays,
		log:       log.With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/sessions/{symbol}/{date}", s.handleSession)
	mux.HandleFunc("GET /api/sessions/{symbol}/{date}/chart.png", s.handleChart)
	mux.HandleFunc("GET /api/candles/{symbol}", s.handleCandles)
	mux.HandleFunc("GET /api/stock-info/{symbol}", s.handleStockInfo)
	mux.HandleFunc("GET /healthz", s.handleHealth)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidDate),
		errors.Is(err, domain.ErrInvalidSymbol),
		errors.Is(err, domain.ErrInvalidHorizon):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoData), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidPrice), errors.Is(err, domain.ErrUnorderedBars):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrStore):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", r.URL.Path, "error", err)
	} else {
		s.log.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeError(w, status, err.Error())
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sess, err := s.analyzer.Analyze(r.Context(), req.Symbol, req.PurchaseDate)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := AnalyzeResponse{}
	if req.Persist {
		if err := s.analyzer.Persist(r.Context(), sess); err != nil {
			s.log.Error("persist failed", "symbol", sess.Symbol, "error", err)
			resp.PersistError = err.Error()
		} else {
			resp.Persisted = true
		}
	}
	resp.Session = convertSession(sess, s.analyzer.Horizon())
	writeJSON(w, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no result store configured")
		return
	}
	keys, err := s.store.ListSessions(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	out := SessionsResponse{Sessions: make([]SessionKeyJSON, 0, len(keys))}
	for _, k := range keys {
		out.Sessions = append(out.Sessions, SessionKeyJSON{
			Symbol:       k.Symbol,
			PurchaseDate: formatDate(k.PurchaseDate),
			CreatedAt:    k.CreatedAt,
		})
	}
	writeJSON(w, out)
}

// loadSession resolves the {symbol}/{date} path values to a stored session.
func (s *Server) loadSession(r *http.Request) (*domain.Session, error) {
	if s.store == nil {
		return nil, fmt.Errorf("%w: no result store configured", domain.ErrStore)
	}
	symbol, err := domain.NormalizeSymbol(r.PathValue("symbol"))
	if err != nil {
		return nil, err
	}
	date, err := analysis.ParseDate(r.PathValue("date"))
	if err != nil {
		return nil, err
	}
	return s.store.LoadSession(r.Context(), symbol, date)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.loadSession(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, convertSession(sess, s.analyzer.Horizon()))
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	kind, err := chart.ParseKind(r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.loadSession(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	img, err := s.charts.Render(sess, kind)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "max-age=300")
	w.Write(img)
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := analysis.ParseDate(q.Get("date"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	days := s.chartDays
	if v := q.Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 3650 {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 3650")
			return
		}
		days = n
	}

	cs, err := s.analyzer.Candles(r.Context(), r.PathValue("symbol"), date, days)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, convertCandles(cs))
}

func (s *Server) handleStockInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.analyzer.Info(r.Context(), r.PathValue("symbol"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "max-age=3600")
	writeJSON(w, convertStockInfo(info))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}
