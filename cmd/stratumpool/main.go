// Command stratumpool is the process entry point, grounded on the
// teacher's cmd/stratum/main.go (env-driven config, DB/Redis connect,
// accept-loop goroutine, SIGINT/SIGTERM graceful shutdown), adapted to
// this core's YAML-overlay config loader and log/slog logging instead
// of the teacher's bare log.Println calls.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vertexpool/stratum-core/internal/pool"
	"github.com/vertexpool/stratum-core/internal/poolconfig"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config overlay")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := poolconfig.LoadFromEnv()
	if *configPath != "" {
		if err := poolconfig.LoadYAMLOverlay(&cfg, *configPath); err != nil {
			logger.Error("failed to load config overlay", "err", err)
			os.Exit(1)
		}
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	orch := pool.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start pool", "err", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	orch.Stop()
	logger.Info("stopped")
}
