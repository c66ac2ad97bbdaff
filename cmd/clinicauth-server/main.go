package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrEthical07/clinicAuth/internal/app"
	"github.com/MrEthical07/clinicAuth/internal/config"
	"github.com/MrEthical07/clinicAuth/internal/logging"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("CLINICAUTH_CONFIG"), "path to a YAML config file; environment variables override it")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New("clinicauth", cfg.Log.Level)
	slog.SetDefault(log)
	log.Info("starting clinicauth server",
		slog.String("environment", cfg.Environment),
		slog.String("http_addr", cfg.HTTP.Addr),
		slog.Bool("durable_ledger", cfg.Postgres.DurableLedger),
	)

	application, err := app.NewApp(cfg, log)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("run application: %w", err)
	}

	log.Info("clinicauth server stopped")
	return nil
}
