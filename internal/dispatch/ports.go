package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/order-gateway/ogw/internal/sidecar"
)

// Port is what the HTTP layer needs from the dispatcher.
type Port interface {
	GetOrder(ctx context.Context, orderID string) (json.RawMessage, error)
	SaveOrder(ctx context.Context, order Order) error
	InvokeBinding(ctx context.Context, req BindingRequest) error
	QueryState(ctx context.Context, req QueryRequest) (*sidecar.QueryResponse, error)
	Publish(ctx context.Context, req PublishRequest) error
	Health(ctx context.Context) error
}

// AuditLogger writes audit records.
type AuditLogger interface {
	Record(ctx context.Context, action, target, code string, err error, latency time.Duration)
}

// MetricsRecorder observes sidecar calls.
type MetricsRecorder interface {
	ObserveSidecar(op string, err error, elapsed time.Duration)
	SetSidecarReachable(ok bool)
}

// ErrInvalidParameter indicates a required field is missing or structurally invalid.
var ErrInvalidParameter = errors.New("invalid parameter")

// Error codes shared by the audit trail and the HTTP envelope.
const (
	CodeOK               = "OK"
	CodeBadRequest       = "BAD_REQUEST"
	CodeNotFound         = "NOT_FOUND"
	CodeSidecarTransport = "SIDECAR_TRANSPORT"
	CodeSidecarError     = "SIDECAR_ERROR"
	CodeInternal         = "INTERNAL"
)

// Code maps a dispatcher error to its stable code.
func Code(err error) string {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrInvalidParameter):
		return CodeBadRequest
	case sidecar.IsTransport(err):
		return CodeSidecarTransport
	case sidecar.IsEmbedded(err):
		return CodeSidecarError
	default:
		return CodeInternal
	}
}
