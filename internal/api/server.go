package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/order-gateway/ogw/internal/auth"
)

// Options configures a Server.
type Options struct {
	Metrics        MetricsPort
	AuthMiddleware *auth.Middleware
	Logger         *slog.Logger
	MaxBodyBytes   int64
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

// Server represents the HTTP API server.
type Server struct {
	httpServer     *http.Server
	dispatcher     DispatchPort
	metrics        MetricsPort
	authMiddleware *auth.Middleware
	logger         *slog.Logger
	maxBodyBytes   int64
	startTime      time.Time
}

// NewServer creates a new API server.
func NewServer(dispatcher DispatchPort, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	s := &Server{
		dispatcher:     dispatcher,
		metrics:        opts.Metrics,
		authMiddleware: opts.AuthMiddleware,
		logger:         logger,
		maxBodyBytes:   maxBody,
		startTime:      time.Now(),
	}

	// Built once here so Stop never races with Serve.
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  opts.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	return s
}

// Handler returns the routed mux wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	// Outermost first: request ID, tracing, metrics, access log, recovery, body limit.
	var h http.Handler = mux
	h = s.limitBody(h)
	h = s.recoverPanics(h)
	h = s.accessLog(h)
	h = s.observe(h)
	h = s.traceRequests(h)
	h = s.requestID(h)
	return h
}

// Start listens on addr and serves until Stop.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener until Stop. After Stop it returns
// nil at once without serving.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Stop gracefully stops the HTTP server, waiting for in-flight requests
// until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
