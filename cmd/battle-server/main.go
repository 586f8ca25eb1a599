// Command battle-server serves the voting API and runs the timeout sweeper in the background.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/trick-battle/internal/app"
	appcfg "github.com/park285/trick-battle/internal/config"
	"github.com/park285/trick-battle/internal/obslog"
	"github.com/park285/trick-battle/internal/transport/httpapi"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv("battle-server"); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("deps_init_failed", zap.Error(err))
	}
	defer func() { _ = deps.Close() }()

	handler := httpapi.NewHandler(deps.Engine, deps.Sweeper, httpapi.WithLogger(logger))
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		deps.Sweeper.Run(ctx, cfg.SweepInterval)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http_listen", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("http_serve_failed", zap.Error(err))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_failed", zap.Error(err))
	}
	<-sweepDone
	logger.Info("shutdown_complete")
}
