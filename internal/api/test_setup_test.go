package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/order-gateway/ogw/internal/config"
	"github.com/order-gateway/ogw/internal/dispatch"
	"github.com/order-gateway/ogw/internal/sidecar"
	"github.com/order-gateway/ogw/internal/sidecar/memory"
)

var testComponents = config.ComponentsConfig{
	StateStore:      "statestore",
	QueryStateStore: "statestore-im",
	PubSub:          "pubsub",
}

// setupAPITest wires a server to a dispatcher backed by the in-memory sidecar.
func setupAPITest(t *testing.T, opts Options) (http.Handler, *memory.Client) {
	t.Helper()
	client := memory.New()
	t.Cleanup(func() { _ = client.Close() })
	return setupAPITestWithClient(t, client, opts), client
}

func setupAPITestWithClient(t *testing.T, client sidecar.Client, opts Options) http.Handler {
	t.Helper()
	var dopts []dispatch.Option
	if recorder, ok := opts.Metrics.(dispatch.MetricsRecorder); ok {
		dopts = append(dopts, dispatch.WithMetrics(recorder))
	}
	d := dispatch.New(client, testComponents, dopts...)
	return NewServer(d, opts).Handler()
}

func doRequest(h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode envelope %q: %v", w.Body.String(), err)
	}
	return resp
}

// assertError checks status, envelope code and that message contains msg.
func assertError(t *testing.T, w *httptest.ResponseRecorder, status int, code, msg string) Response {
	t.Helper()
	if w.Code != status {
		t.Fatalf("Expected status %d, got %d: %s", status, w.Code, w.Body.String())
	}
	resp := decodeEnvelope(t, w)
	if resp.Result != "error" {
		t.Errorf("Expected result error, got %q", resp.Result)
	}
	if resp.Code != code {
		t.Errorf("Expected code %s, got %s", code, resp.Code)
	}
	if msg != "" && !strings.Contains(resp.Message, msg) {
		t.Errorf("Expected message to contain %q, got %q", msg, resp.Message)
	}
	if resp.CorrelationID == "" {
		t.Error("Expected correlationId to be present")
	}
	return resp
}

// panicDispatcher panics on every call.
type panicDispatcher struct{}

func (panicDispatcher) GetOrder(context.Context, string) (json.RawMessage, error) {
	panic("unexpected state")
}
func (panicDispatcher) SaveOrder(context.Context, dispatch.Order) error { panic("unexpected state") }
func (panicDispatcher) InvokeBinding(context.Context, dispatch.BindingRequest) error {
	panic("unexpected state")
}
func (panicDispatcher) QueryState(context.Context, dispatch.QueryRequest) (*sidecar.QueryResponse, error) {
	panic("unexpected state")
}
func (panicDispatcher) Publish(context.Context, dispatch.PublishRequest) error {
	panic("unexpected state")
}
func (panicDispatcher) Health(context.Context) error { return nil }

func newMemoryDispatcher(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	client := memory.New()
	t.Cleanup(func() { _ = client.Close() })
	return dispatch.New(client, testComponents)
}
