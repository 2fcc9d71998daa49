// Package main implements the order gateway entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/order-gateway/ogw/internal/api"
	"github.com/order-gateway/ogw/internal/audit"
	"github.com/order-gateway/ogw/internal/auth"
	"github.com/order-gateway/ogw/internal/config"
	"github.com/order-gateway/ogw/internal/dispatch"
	"github.com/order-gateway/ogw/internal/sidecar"
	"github.com/order-gateway/ogw/internal/sidecar/grpcclient"
	"github.com/order-gateway/ogw/internal/sidecar/httpclient"
	"github.com/order-gateway/ogw/internal/telemetry"
)

// Version is the gateway release.
const Version = "1.0.0"

func main() {
	if err := run(); err != nil {
		slog.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Step 1: Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	logger.Info("starting order gateway", "version", Version, "sidecarProtocol", cfg.Sidecar.Protocol)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Step 2: Telemetry
	tracing, err := telemetry.SetupTracing(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	metrics := telemetry.NewMetrics()
	logger.Info("telemetry initialized", "exporter", cfg.Tracing.Exporter)

	// Step 3: Sidecar client
	client, err := newSidecarClient(ctx, cfg.Sidecar)
	if err != nil {
		return err
	}
	logger.Info("sidecar client ready", "protocol", cfg.Sidecar.Protocol, "host", cfg.Sidecar.Host)

	// Step 4: Dispatcher, with the audit trail when enabled
	opts := []dispatch.Option{
		dispatch.WithMetrics(metrics),
		dispatch.WithLogger(logger),
		dispatch.WithTracer(tracing.Tracer()),
	}
	var auditLogger *audit.Logger
	if cfg.Audit.Enabled() {
		auditLogger, err = audit.NewLogger(cfg.Audit.Dir, audit.Options{
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize audit logger: %w", err)
		}
		opts = append(opts, dispatch.WithAuditLogger(auditLogger))
		logger.Info("audit logger initialized", "path", auditLogger.GetFilePath())
	}
	dispatcher := dispatch.New(client, cfg.Components, opts...)

	// Step 5: API server
	authMiddleware, err := newAuthMiddleware(cfg.Auth)
	if err != nil {
		return err
	}
	server := api.NewServer(dispatcher, api.Options{
		Metrics:        metrics,
		AuthMiddleware: authMiddleware,
		Logger:         logger,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.Server.Addr())
	}()
	logger.Info("gateway listening", "addr", cfg.Server.Addr(), "auth", authMiddleware != nil)

	// Wait for shutdown signal or server error
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error stopping HTTP server", "error", err)
	}
	if err := client.Close(); err != nil {
		logger.Error("error closing sidecar client", "error", err)
	}
	if auditLogger != nil {
		if err := auditLogger.Close(); err != nil {
			logger.Error("error closing audit logger", "error", err)
		}
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Error("error flushing traces", "error", err)
	}

	logger.Info("order gateway shutdown complete")
	return runErr
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func newSidecarClient(ctx context.Context, cfg config.SidecarConfig) (sidecar.Client, error) {
	switch cfg.Protocol {
	case config.ProtocolGRPC:
		client, err := grpcclient.Dial(ctx, cfg.GRPCAddress(), cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return httpclient.New(httpclient.Config{
			BaseURL:  cfg.HTTPEndpoint(),
			APIToken: cfg.APIToken,
			Timeout:  cfg.Timeout,
		}), nil
	}
}

func newAuthMiddleware(cfg config.AuthConfig) (*auth.Middleware, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	vc := auth.VerifierConfig{Algorithm: cfg.Algorithm, SecretKey: cfg.Secret}
	if cfg.PublicKeyFile != "" {
		pem, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read public key: %w", err)
		}
		vc.PublicKeyPEM = string(pem)
	}

	verifier, err := auth.NewVerifier(vc)
	if err != nil {
		return nil, errors.Join(errors.New("failed to create token verifier"), err)
	}
	return auth.NewMiddleware(verifier), nil
}
