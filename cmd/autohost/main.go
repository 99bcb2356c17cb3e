package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/beyond-all-reason/autohost-go/internal/config"
	"github.com/beyond-all-reason/autohost-go/internal/supervisor"
)

const ConfigPath = "config/autohost.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sv, err := setup(ctx)
	if err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()

		sig = <-sigCh
		slog.Warn("second signal received, killing all battles", "signal", sig)
		sv.Kill()
		os.Exit(1)
	}()

	if err := sv.Run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func setup(ctx context.Context) (*supervisor.Supervisor, error) {
	slog.Info("autohost controller starting")

	cfgPath := ConfigPath
	if p := os.Getenv("AUTOHOST_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	slog.Info("config loaded", "tachyonServer", cfg.TachyonServer, "maxBattles", cfg.MaxBattles)

	return supervisor.New(ctx, cfg), nil
}
