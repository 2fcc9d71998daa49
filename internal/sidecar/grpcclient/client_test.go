package grpcclient

import (
	"context"
	"errors"
	"testing"
	"time"

	dapr "github.com/dapr/go-sdk/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/order-gateway/ogw/internal/sidecar"
)

type stubSDK struct {
	err       error
	state     *dapr.StateItem
	saved     []*dapr.SetStateItem
	query     *dapr.QueryResponse
	queryText string
	binding   *dapr.InvokeBindingRequest
	published []byte
	closed    bool

	hadDeadline bool
}

func (s *stubSDK) GetState(ctx context.Context, storeName, key string, meta map[string]string) (*dapr.StateItem, error) {
	_, s.hadDeadline = ctx.Deadline()
	return s.state, s.err
}

func (s *stubSDK) SaveBulkState(ctx context.Context, storeName string, items ...*dapr.SetStateItem) error {
	s.saved = append(s.saved, items...)
	return s.err
}

func (s *stubSDK) QueryStateAlpha1(ctx context.Context, storeName, query string, meta map[string]string) (*dapr.QueryResponse, error) {
	s.queryText = query
	return s.query, s.err
}

func (s *stubSDK) InvokeBinding(ctx context.Context, in *dapr.InvokeBindingRequest) (*dapr.BindingEvent, error) {
	s.binding = in
	if s.err != nil {
		return nil, s.err
	}
	return &dapr.BindingEvent{Data: []byte(`"ok"`)}, nil
}

func (s *stubSDK) PublishEvent(ctx context.Context, pubsubName, topicName string, data interface{}, opts ...dapr.PublishEventOption) error {
	if b, ok := data.([]byte); ok {
		s.published = b
	}
	return s.err
}

func (s *stubSDK) Close() { s.closed = true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind sidecar.Kind
		code string
	}{
		{"unavailable", status.Error(codes.Unavailable, "connection refused"), sidecar.KindTransport, "Unavailable"},
		{"deadline", status.Error(codes.DeadlineExceeded, "too slow"), sidecar.KindTransport, "DeadlineExceeded"},
		{"canceled status", status.Error(codes.Canceled, "gone"), sidecar.KindTransport, "Canceled"},
		{"context canceled", context.Canceled, sidecar.KindTransport, ""},
		{"plain error", errors.New("dial tcp: refused"), sidecar.KindTransport, ""},
		{"invalid argument", status.Error(codes.InvalidArgument, "bad query"), sidecar.KindEmbedded, "InvalidArgument"},
		{"internal", status.Error(codes.Internal, "store failed"), sidecar.KindEmbedded, "Internal"},
		{"not found", status.Error(codes.NotFound, "no such binding"), sidecar.KindEmbedded, "NotFound"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(sidecar.OpGetState, tt.err)
			var se *sidecar.Error
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.kind, se.Kind)
			assert.Equal(t, tt.code, se.Code)
			assert.Equal(t, sidecar.OpGetState, se.Op)
		})
	}

	assert.NoError(t, classify(sidecar.OpGetState, nil))
}

func TestGetStateEmptyValueIsMissing(t *testing.T) {
	c := newClient(&stubSDK{state: &dapr.StateItem{Key: "1"}}, nil)
	item, err := c.GetState(context.Background(), "statestore", "1")
	require.NoError(t, err)
	assert.Nil(t, item)

	c = newClient(&stubSDK{state: &dapr.StateItem{Key: "1", Value: []byte(`{"a":1}`), Etag: "3"}}, nil)
	item, err = c.GetState(context.Background(), "statestore", "1")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.JSONEq(t, `{"a":1}`, string(item.Value))
	assert.Equal(t, "3", item.ETag)
}

func TestSaveStateUsesBulkCall(t *testing.T) {
	stub := &stubSDK{}
	c := newClient(stub, nil)
	err := c.SaveState(context.Background(), "statestore",
		sidecar.StateItem{Key: "1", Value: []byte(`{}`)},
		sidecar.StateItem{Key: "2", Value: []byte(`[]`)},
	)
	require.NoError(t, err)
	require.Len(t, stub.saved, 2)
	assert.Equal(t, "2", stub.saved[1].Key)
}

func TestQueryStateMapsRows(t *testing.T) {
	stub := &stubSDK{query: &dapr.QueryResponse{
		Results: []dapr.QueryItem{
			{Key: "1", Value: []byte(`{"x":1}`)},
			{Key: "2", Error: "bad row"},
		},
		Token: "2",
	}}
	c := newClient(stub, nil)

	resp, err := c.QueryState(context.Background(), "statestore-im", []byte(`{"filter":{}}`))
	require.NoError(t, err)
	assert.Equal(t, `{"filter":{}}`, stub.queryText)
	assert.Equal(t, "2", resp.Token)
	require.Len(t, resp.Results, 2)
	assert.True(t, sidecar.IsEmbedded(resp.ItemError()))
}

func TestInvokeBindingAndPublish(t *testing.T) {
	stub := &stubSDK{}
	c := newClient(stub, nil)

	out, err := c.InvokeBinding(context.Background(), &sidecar.BindingRequest{Name: "b", Operation: "create", Data: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, `"ok"`, string(out))
	assert.Equal(t, "create", stub.binding.Operation)

	require.NoError(t, c.PublishEvent(context.Background(), "pubsub", "orders", []byte(`{"id":1}`)))
	assert.Equal(t, `{"id":1}`, string(stub.published))

	require.NoError(t, c.Close())
	assert.True(t, stub.closed)
}

func TestHealthIgnoresEmbeddedErrors(t *testing.T) {
	c := newClient(&stubSDK{err: status.Error(codes.InvalidArgument, "no store")}, nil)
	assert.NoError(t, c.Health(context.Background()))

	c = newClient(&stubSDK{err: status.Error(codes.Unavailable, "down")}, nil)
	assert.True(t, sidecar.IsTransport(c.Health(context.Background())))

	c = newClient(&stubSDK{}, func(ctx context.Context) error { return errors.New("probe failed") })
	assert.True(t, sidecar.IsTransport(c.Health(context.Background())))
}

func TestCallTimeout(t *testing.T) {
	stub := &stubSDK{}
	c := newClient(stub, nil)
	_, err := c.GetState(context.Background(), "statestore", "1")
	require.NoError(t, err)
	assert.False(t, stub.hadDeadline)

	c.timeout = time.Second
	_, err = c.GetState(context.Background(), "statestore", "1")
	require.NoError(t, err)
	assert.True(t, stub.hadDeadline)
}
