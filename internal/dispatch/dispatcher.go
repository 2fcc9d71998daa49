package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/order-gateway/ogw/internal/audit"
	"github.com/order-gateway/ogw/internal/config"
	"github.com/order-gateway/ogw/internal/sidecar"
)

// Dispatcher routes validated gateway requests to the sidecar client.
type Dispatcher struct {
	client     sidecar.Client
	components config.ComponentsConfig

	auditLogger AuditLogger
	metrics     MetricsRecorder
	logger      *slog.Logger
	tracer      trace.Tracer
}

// Compile-time assertion that Dispatcher implements Port
var _ Port = (*Dispatcher)(nil)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithAuditLogger records mutating and querying calls.
func WithAuditLogger(l AuditLogger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.auditLogger = l
		}
	}
}

// WithMetrics observes every sidecar call.
func WithMetrics(m MetricsRecorder) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithTracer sets the tracer used for sidecar call spans.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.tracer = t
		}
	}
}

// New creates a dispatcher for client using the configured component names.
func New(client sidecar.Client, components config.ComponentsConfig, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		client:      client,
		components:  components,
		auditLogger: nopAudit{},
		metrics:     nopMetrics{},
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:      noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// GetOrder returns the raw stored value for orderID, or nil when the key
// holds no value.
func (d *Dispatcher) GetOrder(ctx context.Context, orderID string) (json.RawMessage, error) {
	if err := requireName("orderId", orderID); err != nil {
		return nil, err
	}

	store := d.components.StateStore
	var item *sidecar.StateItem
	err := d.call(ctx, sidecar.OpGetState, store+"/"+orderID, func(ctx context.Context) error {
		var err error
		item, err = d.client.GetState(ctx, store, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if item == nil || len(item.Value) == 0 {
		return nil, nil
	}
	return json.RawMessage(item.Value), nil
}

// SaveOrder saves one key/value pair.
func (d *Dispatcher) SaveOrder(ctx context.Context, order Order) error {
	start := time.Now()
	store := d.components.StateStore
	target := store + "/" + order.Key

	if err := order.Validate(); err != nil {
		d.logAudit(ctx, sidecar.OpSaveState, target, err, time.Since(start))
		return err
	}

	err := d.call(ctx, sidecar.OpSaveState, target, func(ctx context.Context) error {
		return d.client.SaveState(ctx, store, sidecar.StateItem{Key: order.Key, Value: order.Value})
	})
	d.logAudit(ctx, sidecar.OpSaveState, target, err, time.Since(start))
	return err
}

// InvokeBinding sends the message to the named binding with the "create" operation.
func (d *Dispatcher) InvokeBinding(ctx context.Context, req BindingRequest) error {
	start := time.Now()

	if err := req.Validate(); err != nil {
		d.logAudit(ctx, sidecar.OpInvokeBinding, req.BindingName, err, time.Since(start))
		return err
	}

	err := d.call(ctx, sidecar.OpInvokeBinding, req.BindingName, func(ctx context.Context) error {
		_, err := d.client.InvokeBinding(ctx, &sidecar.BindingRequest{
			Name:      req.BindingName,
			Operation: BindingOperation,
			Data:      req.Message,
		})
		return err
	})
	d.logAudit(ctx, sidecar.OpInvokeBinding, req.BindingName, err, time.Since(start))
	return err
}

// QueryState runs the query against the configured query store. A row that
// carries its own error fails the whole call as an embedded error.
func (d *Dispatcher) QueryState(ctx context.Context, req QueryRequest) (*sidecar.QueryResponse, error) {
	start := time.Now()
	store := d.components.QueryStateStore

	if err := req.Validate(); err != nil {
		d.logAudit(ctx, sidecar.OpQueryState, store, err, time.Since(start))
		return nil, err
	}

	var resp *sidecar.QueryResponse
	err := d.call(ctx, sidecar.OpQueryState, store, func(ctx context.Context) error {
		var err error
		resp, err = d.client.QueryState(ctx, store, req.Query)
		if err != nil {
			return err
		}
		if resp == nil {
			resp = &sidecar.QueryResponse{Results: []sidecar.QueryItem{}}
		}
		return resp.ItemError()
	})
	d.logAudit(ctx, sidecar.OpQueryState, store, err, time.Since(start))
	if err != nil {
		return nil, err
	}

	d.logger.DebugContext(ctx, "query completed",
		"store", store,
		"results", len(resp.Results),
		"requestId", audit.RequestIDFromContext(ctx))
	return resp, nil
}

// Publish publishes the message on the configured pub/sub component.
func (d *Dispatcher) Publish(ctx context.Context, req PublishRequest) error {
	start := time.Now()
	pubsub := d.components.PubSub
	target := pubsub + "/" + req.Topic

	if err := req.Validate(); err != nil {
		d.logAudit(ctx, sidecar.OpPublish, target, err, time.Since(start))
		return err
	}

	err := d.call(ctx, sidecar.OpPublish, target, func(ctx context.Context) error {
		return d.client.PublishEvent(ctx, pubsub, req.Topic, req.Message)
	})
	d.logAudit(ctx, sidecar.OpPublish, target, err, time.Since(start))
	return err
}

// Health probes the sidecar.
func (d *Dispatcher) Health(ctx context.Context) error {
	err := d.call(ctx, sidecar.OpHealth, "sidecar", d.client.Health)
	d.metrics.SetSidecarReachable(err == nil)
	return err
}

// call runs one sidecar call inside a client span and normalizes its error.
func (d *Dispatcher) call(ctx context.Context, op, target string, fn func(ctx context.Context) error) error {
	ctx, span := d.tracer.Start(ctx, op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("sidecar.op", op),
			attribute.String("sidecar.target", target),
		),
	)
	defer span.End()

	start := time.Now()
	err := sidecar.Normalize(op, fn(ctx))
	elapsed := time.Since(start)
	d.metrics.ObserveSidecar(op, err, elapsed)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("sidecar.error_kind", sidecar.KindOf(err).String()))

		d.logger.ErrorContext(ctx, "sidecar call failed",
			"op", op,
			"target", target,
			"kind", sidecar.KindOf(err).String(),
			"requestId", audit.RequestIDFromContext(ctx),
			"latency", elapsed,
			"error", err)
		return err
	}

	d.logger.DebugContext(ctx, "sidecar call succeeded",
		"op", op,
		"target", target,
		"requestId", audit.RequestIDFromContext(ctx),
		"latency", elapsed)
	return nil
}

func (d *Dispatcher) logAudit(ctx context.Context, action, target string, err error, latency time.Duration) {
	d.auditLogger.Record(ctx, action, target, Code(err), err, latency)
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, string, string, string, error, time.Duration) {}

type nopMetrics struct{}

func (nopMetrics) ObserveSidecar(string, error, time.Duration) {}
func (nopMetrics) SetSidecarReachable(bool)                    {}
