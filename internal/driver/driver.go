// Package driver generates steady traffic against the gateway through the
// sidecar's service invocation endpoint.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/order-gateway/ogw/internal/config"
)

// Environment variables read by ConfigFromEnv.
const (
	EndpointEnv = "DAPR_HTTP_ENDPOINT"
	AppIDEnv    = "OGW_DRIVER_APP_ID"
	IntervalEnv = "OGW_DRIVER_INTERVAL"
	TimeoutEnv  = "OGW_DRIVER_TIMEOUT"
)

// AppIDHeader routes a request through the sidecar to the target app.
const AppIDHeader = "dapr-app-id"

// Config configures the driver.
type Config struct {
	Endpoint string
	AppID    string
	Timeout  time.Duration
	Interval time.Duration
}

// DefaultConfig returns the defaults used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Endpoint: "http://localhost:3500",
		AppID:    "nodeapp",
		Timeout:  5 * time.Second,
		Interval: 2 * time.Second,
	}
}

// ConfigFromEnv reads the driver configuration from the environment.
func ConfigFromEnv() Config {
	def := DefaultConfig()
	return Config{
		Endpoint: config.GetEnvVar(EndpointEnv, def.Endpoint),
		AppID:    config.GetEnvVar(AppIDEnv, def.AppID),
		Timeout:  config.GetEnvDuration(TimeoutEnv, def.Timeout),
		Interval: config.GetEnvDuration(IntervalEnv, def.Interval),
	}
}

// Call is one request the driver can send.
type Call struct {
	Name   string
	Method string
	Path   string
	Body   string
}

// DefaultCalls returns the four gateway calls in a fixed order.
func DefaultCalls() []Call {
	return []Call{
		{Name: "get", Method: fasthttp.MethodGet, Path: "/order/1"},
		{Name: "binding", Method: fasthttp.MethodPost, Path: "/binding",
			Body: `{"bindingName":"order-binding","message":"Hello from Dapr Binding!"}`},
		{Name: "query", Method: fasthttp.MethodPost, Path: "/query",
			Body: `{"query":{"filter":{"EQ":{"state":"CA"}},"page":{"limit":10}}}`},
		{Name: "publish", Method: fasthttp.MethodPost, Path: "/publish",
			Body: `{"topic":"topic4","message":"Hello from Dapr Pubsub!"}`},
	}
}

// Result is the outcome of one call.
type Result struct {
	Call   Call
	Status int
	Body   []byte
}

// OK reports whether the call was answered with a 2xx status.
func (r *Result) OK() bool {
	return r.Status >= 200 && r.Status <= 299
}

// Driver sends randomly chosen calls until its context is cancelled.
type Driver struct {
	cfg    Config
	calls  []Call
	client *fasthttp.Client
	logger *slog.Logger
	rand   *rand.Rand
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithDial overrides connection setup.
func WithDial(dial fasthttp.DialFunc) Option {
	return func(d *Driver) { d.client.Dial = dial }
}

// WithRand sets the source used to pick calls.
func WithRand(r *rand.Rand) Option {
	return func(d *Driver) { d.rand = r }
}

// WithCalls replaces the default call set.
func WithCalls(calls ...Call) Option {
	return func(d *Driver) { d.calls = calls }
}

// New creates a driver.
func New(cfg Config, opts ...Option) *Driver {
	def := DefaultConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.AppID == "" {
		cfg.AppID = def.AppID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Interval < 0 {
		cfg.Interval = 0
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	d := &Driver{
		cfg:    cfg,
		calls:  DefaultCalls(),
		client: &fasthttp.Client{Name: "ogw-driver", ReadTimeout: cfg.Timeout, WriteTimeout: cfg.Timeout},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		rand:   rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run sends one call per interval until ctx is done. Failed calls are logged
// and do not stop the loop.
func (d *Driver) Run(ctx context.Context) error {
	if len(d.calls) == 0 {
		return errors.New("driver has no calls to send")
	}

	for {
		call := d.calls[d.rand.IntN(len(d.calls))]
		url := d.cfg.Endpoint + call.Path
		d.logger.InfoContext(ctx, "calling", "call", call.Name, "url", url)

		res, err := d.Invoke(ctx, call)
		switch {
		case err != nil:
			d.logger.WarnContext(ctx, "call failed", "call", call.Name, "url", url, "error", err)
		case !res.OK():
			d.logger.WarnContext(ctx, "call rejected", "call", call.Name, "url", url,
				"status", res.Status, "body", string(res.Body))
		default:
			d.logger.InfoContext(ctx, "completed call", "call", call.Name, "url", url, "status", res.Status)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d.cfg.Interval):
		}
	}
}

// Invoke sends one call and returns the answer.
func (d *Driver) Invoke(ctx context.Context, call Call) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(call.Method)
	req.SetRequestURI(d.cfg.Endpoint + call.Path)
	req.Header.Set(AppIDHeader, d.cfg.AppID)
	if call.Body != "" {
		req.Header.SetContentType("application/json")
		req.SetBodyString(call.Body)
	}

	deadline := time.Now().Add(d.cfg.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := d.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("%s %s: %w", call.Method, call.Path, err)
	}

	return &Result{
		Call:   call,
		Status: resp.StatusCode(),
		Body:   append([]byte(nil), resp.Body()...),
	}, nil
}
