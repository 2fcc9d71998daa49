// Package grpcclient implements sidecar.Client with the Dapr Go SDK, which
// talks to the sidecar over gRPC.
package grpcclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	dapr "github.com/dapr/go-sdk/client"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/order-gateway/ogw/internal/sidecar"
)

// sdkClient is the subset of the SDK client the gateway uses.
type sdkClient interface {
	GetState(ctx context.Context, storeName, key string, meta map[string]string) (*dapr.StateItem, error)
	SaveBulkState(ctx context.Context, storeName string, items ...*dapr.SetStateItem) error
	QueryStateAlpha1(ctx context.Context, storeName, query string, meta map[string]string) (*dapr.QueryResponse, error)
	InvokeBinding(ctx context.Context, in *dapr.InvokeBindingRequest) (*dapr.BindingEvent, error)
	PublishEvent(ctx context.Context, pubsubName, topicName string, data interface{}, opts ...dapr.PublishEventOption) error
	Close()
}

// Client adapts the SDK client to sidecar.Client.
type Client struct {
	sdk     sdkClient
	health  func(ctx context.Context) error
	timeout time.Duration
}

var _ sidecar.Client = (*Client)(nil)

// Dial connects to the sidecar gRPC endpoint at address (host:port). Each
// later call is bounded by timeout unless ctx ends earlier; zero disables it.
func Dial(ctx context.Context, address string, timeout time.Duration) (*Client, error) {
	c, err := dapr.NewClientWithAddressContext(ctx, address)
	if err != nil {
		return nil, sidecar.Transport(sidecar.OpHealth, fmt.Errorf("failed to connect to sidecar at %s: %w", address, err))
	}
	client := newClient(c, nil)
	client.timeout = timeout
	return client, nil
}

// newClient wraps an SDK client. health may be nil, in which case a state
// read of a reserved key serves as the readiness probe.
func newClient(sdk sdkClient, health func(ctx context.Context) error) *Client {
	return &Client{sdk: sdk, health: health}
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// GetState reads one key. The SDK answers an absent key with an empty value.
func (c *Client) GetState(ctx context.Context, store, key string) (*sidecar.StateItem, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	item, err := c.sdk.GetState(ctx, store, key, nil)
	if err != nil {
		return nil, classify(sidecar.OpGetState, err)
	}
	if item == nil || len(item.Value) == 0 {
		return nil, nil
	}
	return &sidecar.StateItem{Key: key, Value: item.Value, ETag: item.Etag}, nil
}

// SaveState stores all items with one bulk call.
func (c *Client) SaveState(ctx context.Context, store string, items ...sidecar.StateItem) error {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	bulk := make([]*dapr.SetStateItem, 0, len(items))
	for _, item := range items {
		bulk = append(bulk, &dapr.SetStateItem{Key: item.Key, Value: item.Value})
	}
	if err := c.sdk.SaveBulkState(ctx, store, bulk...); err != nil {
		return classify(sidecar.OpSaveState, err)
	}
	return nil
}

// QueryState runs the query document through the alpha query API.
func (c *Client) QueryState(ctx context.Context, store string, query []byte) (*sidecar.QueryResponse, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.sdk.QueryStateAlpha1(ctx, store, string(query), nil)
	if err != nil {
		return nil, classify(sidecar.OpQueryState, err)
	}

	out := &sidecar.QueryResponse{Results: []sidecar.QueryItem{}}
	if resp == nil {
		return out, nil
	}
	out.Token = resp.Token
	for _, r := range resp.Results {
		out.Results = append(out.Results, sidecar.QueryItem{
			Key:   r.Key,
			Data:  r.Value,
			ETag:  r.Etag,
			Error: r.Error,
		})
	}
	return out, nil
}

// InvokeBinding runs an output binding operation and returns its data.
func (c *Client) InvokeBinding(ctx context.Context, req *sidecar.BindingRequest) ([]byte, error) {
	if req == nil {
		return nil, sidecar.Embedded(sidecar.OpInvokeBinding, "ERR_MALFORMED_REQUEST", "binding request is nil")
	}
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	out, err := c.sdk.InvokeBinding(ctx, &dapr.InvokeBindingRequest{
		Name:      req.Name,
		Operation: req.Operation,
		Data:      req.Data,
		Metadata:  req.Metadata,
	})
	if err != nil {
		return nil, classify(sidecar.OpInvokeBinding, err)
	}
	if out == nil {
		return nil, nil
	}
	return out.Data, nil
}

// PublishEvent publishes data as application/json.
func (c *Client) PublishEvent(ctx context.Context, pubsub, topic string, data []byte) error {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	err := c.sdk.PublishEvent(ctx, pubsub, topic, data, dapr.PublishEventWithContentType("application/json"))
	if err != nil {
		return classify(sidecar.OpPublish, err)
	}
	return nil
}

// Health probes the sidecar. Without a dedicated probe, any answer from the
// sidecar, including an embedded error, proves the connection is live.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	if c.health != nil {
		return sidecar.Normalize(sidecar.OpHealth, c.health(ctx))
	}
	_, err := c.sdk.GetState(ctx, "", "__ogw_health__", nil)
	if err == nil {
		return nil
	}
	if classified := classify(sidecar.OpHealth, err); sidecar.IsTransport(classified) {
		return classified
	}
	return nil
}

// Close closes the underlying gRPC connection.
func (c *Client) Close() error {
	c.sdk.Close()
	return nil
}

// classify maps a gRPC failure to an error kind. Codes that mean no answer
// came back from the sidecar are transport failures; any other status was
// produced by the sidecar itself.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return sidecar.Transport(op, err)
	}

	st, ok := status.FromError(err)
	if !ok {
		return sidecar.Transport(op, err)
	}

	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return &sidecar.Error{Kind: sidecar.KindTransport, Op: op, Code: st.Code().String(), Message: st.Message(), Err: err}
	default:
		return &sidecar.Error{Kind: sidecar.KindEmbedded, Op: op, Code: st.Code().String(), Message: st.Message(), Err: err}
	}
}
