// Package api exposes the analysis engine over gRPC.
package api

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"pnlscope/internal/analysis"
	"pnlscope/internal/domain"
	"pnlscope/internal/store"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "pnlscope.v1.Analysis"

// AnalysisService is the server API of ServiceName.
type AnalysisService interface {
	// Analyze takes {symbol, purchase_date, persist} and returns
	// {session, persisted, persist_error}.
	Analyze(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	// ListSessions returns {sessions: [{symbol, purchase_date, created_at}]}.
	ListSessions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	// GetSession takes {symbol, purchase_date} and returns the stored session.
	GetSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	// StockInfo takes {symbol} and returns the provider's description.
	StockInfo(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var _ AnalysisService = (*Server)(nil)

// Server implements AnalysisService on top of an Analyzer and a ResultStore.
type Server struct {
	analyzer *analysis.Analyzer
	store    store.ResultStore
	log      *slog.Logger
}

// NewServer creates a gRPC analysis server. st may be nil.
func NewServer(a *analysis.Analyzer, st store.ResultStore, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{analyzer: a, store: st, log: log.With("component", "grpc")}
}

// RegisterGRPC registers the analysis and health services on gs.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
}

// Analyze runs an analysis and optionally persists it.
func (s *Server) Analyze(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := req.GetFields()
	sess, err := s.analyzer.Analyze(ctx, f["symbol"].GetStringValue(), f["purchase_date"].GetStringValue())
	if err != nil {
		return nil, s.toStatus(err)
	}

	resp := map[string]any{
		"session":   sessionToMap(sess, s.analyzer.Horizon()),
		"persisted": false,
	}
	if f["persist"].GetBoolValue() {
		if err := s.analyzer.Persist(ctx, sess); err != nil {
			s.log.Error("persist failed", "symbol", sess.Symbol, "error", err)
			resp["persist_error"] = err.Error()
		} else {
			resp["persisted"] = true
		}
	}
	return newStruct(resp)
}

// ListSessions lists persisted sessions, most recent first.
func (s *Server) ListSessions(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.store == nil {
		return nil, status.Error(codes.Unavailable, "no result store configured")
	}
	keys, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, s.toStatus(err)
	}
	list := make([]any, 0, len(keys))
	for _, k := range keys {
		list = append(list, map[string]any{
			"symbol":        k.Symbol,
			"purchase_date": k.PurchaseDate.Format(domain.DateLayout),
			"created_at":    k.CreatedAt.UTC().Format(timeLayout),
		})
	}
	return newStruct(map[string]any{"sessions": list})
}

// GetSession loads the latest persisted batch of a session.
func (s *Server) GetSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.store == nil {
		return nil, status.Error(codes.Unavailable, "no result store configured")
	}
	f := req.GetFields()
	symbol, err := domain.NormalizeSymbol(f["symbol"].GetStringValue())
	if err != nil {
		return nil, s.toStatus(err)
	}
	date, err := analysis.ParseDate(f["purchase_date"].GetStringValue())
	if err != nil {
		return nil, s.toStatus(err)
	}
	sess, err := s.store.LoadSession(ctx, symbol, date)
	if err != nil {
		return nil, s.toStatus(err)
	}
	return newStruct(sessionToMap(sess, s.analyzer.Horizon()))
}

// StockInfo describes a symbol using the market data source.
func (s *Server) StockInfo(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	info, err := s.analyzer.Info(ctx, req.GetFields()["symbol"].GetStringValue())
	if err != nil {
		return nil, s.toStatus(err)
	}
	return newStruct(stockInfoToMap(info))
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return st, nil
}

// toStatus maps error kinds to gRPC status codes.
func (s *Server) toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, domain.ErrInvalidDate),
		errors.Is(err, domain.ErrInvalidSymbol),
		errors.Is(err, domain.ErrInvalidHorizon):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrNoData), errors.Is(err, domain.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, domain.ErrInvalidPrice), errors.Is(err, domain.ErrUnorderedBars):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrStore):
		code = codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	default:
		code = codes.Internal
		s.log.Error("request failed", "error", err)
	}
	return status.Error(code, err.Error())
}

// ---------------------------------------------------------------------------
// Service descriptor
// ---------------------------------------------------------------------------

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AnalysisService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Analyze", Handler: unaryHandler("Analyze", AnalysisService.Analyze)},
		{MethodName: "ListSessions", Handler: unaryHandler("ListSessions", AnalysisService.ListSessions)},
		{MethodName: "GetSession", Handler: unaryHandler("GetSession", AnalysisService.GetSession)},
		{MethodName: "StockInfo", Handler: unaryHandler("StockInfo", AnalysisService.StockInfo)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pnlscope/v1/analysis.proto",
}

type unaryMethod func(AnalysisService, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AnalysisService), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AnalysisService), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
