// Package main runs the traffic driver against a running gateway.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/order-gateway/ogw/internal/driver"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg := driver.ConfigFromEnv()
	logger.Info("starting traffic driver", "endpoint", cfg.Endpoint, "appId", cfg.AppID, "interval", cfg.Interval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := driver.New(cfg, driver.WithLogger(logger)).Run(ctx); err != nil {
		logger.Error("driver stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("traffic driver stopped")
}
