// indicatord watches the keyboard-layout indicator and reports whether it
// matches the stored reference mask over HTTP, WebSocket and gRPC health.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GriffinCanCode/indicator-watch/internal/config"
	"github.com/GriffinCanCode/indicator-watch/internal/mask"
	"github.com/GriffinCanCode/indicator-watch/internal/orchestrator"
	"github.com/GriffinCanCode/indicator-watch/internal/screen"
	"github.com/GriffinCanCode/indicator-watch/internal/server"
	"github.com/GriffinCanCode/indicator-watch/internal/status"
)

func main() {
	cfg := config.Load()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// "indicatord check" asks a running daemon for its decision; the exit
	// code suits container health checks.
	if len(os.Args) > 1 && os.Args[1] == "check" {
		os.Exit(runCheck(cfg))
	}

	opts := []mask.Option{mask.WithLogger(logger)}
	locator, err := newLocator(cfg)
	if err != nil {
		slog.Error("indicator locator unavailable", "error", err)
		os.Exit(1)
	}
	if locator != nil {
		opts = append(opts, mask.WithLocator(locator))
	}

	store, err := mask.Open(cfg.MaskPath, screen.New(), opts...)
	if err != nil {
		slog.Error("failed to open reference mask", "path", cfg.MaskPath, "error", err)
		os.Exit(1)
	}

	orch, err := orchestrator.New(cfg, store)
	if err != nil {
		slog.Error("failed to create orchestrator", "error", err)
		os.Exit(1)
	}

	health := status.New()
	srv := server.New(orch, cfg, server.WithObserver(health.Observe))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.Start(ctx); err != nil {
		slog.Error("orchestrator error", "error", err)
		os.Exit(1)
	}

	// Start HTTP server
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("indicator watch starting", "http", cfg.HTTPAddr, "grpc", cfg.GRPCAddr, "mask", cfg.MaskPath)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	// Start gRPC health server
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		slog.Error("failed to listen", "addr", cfg.GRPCAddr, "error", err)
		os.Exit(1)
	}
	go func() {
		if err := health.Serve(ctx, lis); err != nil {
			slog.Error("grpc server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	cancel()
	orch.Stop()
	srv.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	health.Stop()

	slog.Info("shutdown complete")
}

// newLocator picks the region source: the tray window when AUTO_LOCATE is
// set, else LOCATE_REGION when given, else the stored mask bounds (nil).
func newLocator(cfg *config.Config) (mask.Locator, error) {
	if cfg.AutoLocate {
		return screen.NewTrayLocator()
	}
	if cfg.LocateRegion == "" {
		return nil, nil
	}
	r, err := screen.ParseRegion(cfg.LocateRegion)
	if err != nil {
		return nil, err
	}
	return screen.FixedLocator(r), nil
}

// runCheck returns 0 when the running daemon reports a match, 1 when it does
// not and 2 when it cannot be asked.
func runCheck(cfg *config.Config) int {
	addr := cfg.GRPCAddr
	if host, port, err := net.SplitHostPort(addr); err == nil && host == "" {
		addr = net.JoinHostPort("localhost", port)
	}
	c, err := status.Dial(addr)
	if err != nil {
		slog.Error("status client", "error", err)
		return 2
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	matched, err := c.Matched(ctx)
	if err != nil {
		slog.Error("status check failed", "addr", addr, "error", err)
		return 2
	}
	slog.Info("indicator status", "matched", matched)
	if !matched {
		return 1
	}
	return 0
}
