package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/order-gateway/ogw/internal/dispatch"
	"github.com/order-gateway/ogw/internal/sidecar"
	"github.com/order-gateway/ogw/internal/telemetry"
)

// DispatchPort defines the minimal interface the API needs from the dispatcher.
type DispatchPort interface {
	GetOrder(ctx context.Context, orderID string) (json.RawMessage, error)
	SaveOrder(ctx context.Context, order dispatch.Order) error
	InvokeBinding(ctx context.Context, req dispatch.BindingRequest) error
	QueryState(ctx context.Context, req dispatch.QueryRequest) (*sidecar.QueryResponse, error)
	Publish(ctx context.Context, req dispatch.PublishRequest) error
	Health(ctx context.Context) error
}

// MetricsPort defines what the API needs from the metrics registry.
type MetricsPort interface {
	ObserveHTTP(route string, status int, elapsed time.Duration)
	Handler() http.Handler
}

// Compile-time assertions for port conformance
var _ DispatchPort = (*dispatch.Dispatcher)(nil)
var _ MetricsPort = (*telemetry.Metrics)(nil)
