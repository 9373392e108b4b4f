package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"pnlscope/internal/api"
	"pnlscope/internal/app"
	"pnlscope/internal/config"
	"pnlscope/internal/httpapi"
	"pnlscope/internal/scheduler"
	"pnlscope/internal/util"
)

// newApp is replaced in tests.
var newApp = app.New

func main() {
	cfgPath := "config/pnlscope.yaml"
	if p := os.Getenv("PNLSCOPE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.LoadOptional(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("pnlscope-server failed", "error", err)
		cancel()
		os.Exit(1)
	}
}

// run serves until ctx is cancelled or a server fails. The result store is
// closed on every return path.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing: %w", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpLis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listening for HTTP: %w", err)
	}
	defer httpLis.Close()

	// gRPC API, disabled when grpc_port is 0.
	var grpcLis net.Listener
	if cfg.Server.GRPCPort > 0 {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort)
		if grpcLis, err = net.Listen("tcp", addr); err != nil {
			return fmt.Errorf("listening on %s: %w", addr, err)
		}
		defer grpcLis.Close()
	}

	// Background refresh of sessions persisted mid-horizon.
	var sched *scheduler.Scheduler
	if cfg.Refresh.Enabled {
		refresher := scheduler.NewRefresher(a.Analyzer, a.Store, cfg.Refresh.LookbackDays, logger)
		sched = scheduler.NewScheduler(ctx, refresher, logger)
		if err := sched.RegisterRefresh(cfg.Refresh.Schedule); err != nil {
			return fmt.Errorf("scheduling refresh: %w", err)
		}
	}

	errCh := make(chan error, 2)

	httpSrv := httpapi.NewServer(a.Analyzer, a.Store, a.Charts, cfg.Analysis.ChartDays, logger)
	httpServer := &http.Server{
		Handler:           httpSrv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", "addr", httpLis.Addr().String())
		if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var grpcServer *grpc.Server
	if grpcLis != nil {
		grpcServer = grpc.NewServer()
		api.NewServer(a.Analyzer, a.Store, logger).RegisterGRPC(grpcServer)
		go func() {
			logger.Info("gRPC server listening", "addr", grpcLis.Addr().String())
			if err := grpcServer.Serve(grpcLis); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	if sched != nil {
		sched.Start()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	logger.Info("shutting down pnlscope-server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if sched != nil {
		sched.Stop()
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	return runErr
}
