// Command battle-sweep runs a single timeout sweep and prints the report, for cron-style schedulers.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/park285/trick-battle/internal/app"
	appcfg "github.com/park285/trick-battle/internal/config"
	"github.com/park285/trick-battle/internal/obslog"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv("battle-sweep"); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("deps_init_failed", zap.Error(err))
		obslog.Sync()
		os.Exit(1)
	}

	report := deps.Sweeper.ProcessExpired(ctx)
	_ = deps.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)

	obslog.Sync()
	if report.Error != "" || report.Failed > 0 {
		os.Exit(1)
	}
}
