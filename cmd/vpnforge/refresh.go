package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Strob0t/VPNForge/internal/config"
)

// runRefresh reconciles every running tenant once, sweeps stale sessions
// and exits. Per-tenant failures are reported together after the pass.
func runRefresh(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	n, refreshErr := a.sessions.RefreshAll(ctx)
	swept, err := a.sessions.Sweep(ctx)
	if err != nil {
		slog.Warn("session sweep failed", "error", err)
	}
	slog.Info("refresh complete", "tenants", n, "swept_sessions", swept)
	if refreshErr != nil {
		return fmt.Errorf("refresh: %w", refreshErr)
	}
	return nil
}
