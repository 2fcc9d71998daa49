package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/order-gateway/ogw/internal/config"
	"github.com/order-gateway/ogw/internal/sidecar"
	"github.com/order-gateway/ogw/internal/sidecar/memory"
)

type auditRecord struct {
	Action string
	Target string
	Code   string
	Failed bool
}

type mockAuditLogger struct {
	mu      sync.Mutex
	records []auditRecord
}

func (m *mockAuditLogger) Record(ctx context.Context, action, target, code string, err error, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, auditRecord{Action: action, Target: target, Code: code, Failed: err != nil})
}

func (m *mockAuditLogger) last(t *testing.T) auditRecord {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == 0 {
		t.Fatal("Expected an audit record")
	}
	return m.records[len(m.records)-1]
}

type mockMetrics struct {
	mu        sync.Mutex
	outcomes  map[string][]error
	reachable *bool
}

func (m *mockMetrics) ObserveSidecar(op string, err error, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = make(map[string][]error)
	}
	m.outcomes[op] = append(m.outcomes[op], err)
}

func (m *mockMetrics) SetSidecarReachable(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reachable = &ok
}

var testComponents = config.ComponentsConfig{
	StateStore:      "statestore",
	QueryStateStore: "statestore-im",
	PubSub:          "pubsub",
}

func newTestDispatcher(opts ...memory.Option) (*Dispatcher, *memory.Client, *mockAuditLogger, *mockMetrics) {
	client := memory.New(opts...)
	auditLog := &mockAuditLogger{}
	metrics := &mockMetrics{}
	d := New(client, testComponents, WithAuditLogger(auditLog), WithMetrics(metrics))
	return d, client, auditLog, metrics
}

func TestSaveThenGetOrder(t *testing.T) {
	d, _, auditLog, _ := newTestDispatcher()
	ctx := context.Background()

	values := []string{`{"orderId":1}`, `"text"`, `42`, `[1,2,3]`, `true`}
	for i, v := range values {
		key := "k" + string(rune('a'+i))
		if err := d.SaveOrder(ctx, Order{Key: key, Value: json.RawMessage(v)}); err != nil {
			t.Fatalf("SaveOrder(%s) failed: %v", key, err)
		}
		got, err := d.GetOrder(ctx, key)
		if err != nil {
			t.Fatalf("GetOrder(%s) failed: %v", key, err)
		}
		if string(got) != v {
			t.Errorf("Expected %s, got %s", v, got)
		}
	}

	rec := auditLog.last(t)
	if rec.Action != sidecar.OpSaveState || rec.Code != CodeOK || rec.Failed {
		t.Errorf("Unexpected audit record %+v", rec)
	}
	if !strings.HasPrefix(rec.Target, "statestore/") {
		t.Errorf("Expected target in statestore, got %s", rec.Target)
	}
}

func TestGetOrderMissingKeyIsEmpty(t *testing.T) {
	d, _, _, _ := newTestDispatcher()

	value, err := d.GetOrder(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Expected no error for a missing key, got %v", err)
	}
	if value != nil {
		t.Errorf("Expected nil value, got %s", value)
	}
}

func TestGetOrderFailures(t *testing.T) {
	tests := []struct {
		name     string
		fault    error
		wantKind sidecar.Kind
		wantMsg  string
	}{
		{"rejected call", errors.New("boom"), sidecar.KindTransport, "boom"},
		{"embedded error", sidecar.Embedded(sidecar.OpGetState, "ERR_STATE_GET", "store offline"), sidecar.KindEmbedded, "store offline"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, client, _, metrics := newTestDispatcher()
			client.Fail(sidecar.OpGetState, tt.fault)

			_, err := d.GetOrder(context.Background(), "1")
			if sidecar.KindOf(err) != tt.wantKind {
				t.Fatalf("Expected kind %s, got %v", tt.wantKind, err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Expected message to contain %q, got %q", tt.wantMsg, err.Error())
			}
			if len(metrics.outcomes[sidecar.OpGetState]) != 1 {
				t.Errorf("Expected one observed call, got %d", len(metrics.outcomes[sidecar.OpGetState]))
			}
		})
	}
}

func TestSaveOrderValidation(t *testing.T) {
	tests := []struct {
		name  string
		order Order
	}{
		{"missing key", Order{Value: json.RawMessage(`1`)}},
		{"blank key", Order{Key: "  ", Value: json.RawMessage(`1`)}},
		{"missing value", Order{Key: "1"}},
		{"null value", Order{Key: "1", Value: json.RawMessage(`null`)}},
		{"invalid value", Order{Key: "1", Value: json.RawMessage(`{`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _, auditLog, metrics := newTestDispatcher()

			err := d.SaveOrder(context.Background(), tt.order)
			if !errors.Is(err, ErrInvalidParameter) {
				t.Fatalf("Expected ErrInvalidParameter, got %v", err)
			}
			if rec := auditLog.last(t); rec.Code != CodeBadRequest || !rec.Failed {
				t.Errorf("Unexpected audit record %+v", rec)
			}
			if len(metrics.outcomes) != 0 {
				t.Error("Invalid requests must not reach the sidecar")
			}
		})
	}
}

func TestSaveOrderEmbeddedError(t *testing.T) {
	d, client, auditLog, _ := newTestDispatcher(memory.WithStores("other"))

	err := d.SaveOrder(context.Background(), Order{Key: "1", Value: json.RawMessage(`{}`)})
	if !sidecar.IsEmbedded(err) {
		t.Fatalf("Expected embedded error, got %v", err)
	}
	if rec := auditLog.last(t); rec.Code != CodeSidecarError {
		t.Errorf("Expected SIDECAR_ERROR audit code, got %s", rec.Code)
	}

	client.Fail(sidecar.OpSaveState, errors.New("connection reset"))
	err = d.SaveOrder(context.Background(), Order{Key: "1", Value: json.RawMessage(`{}`)})
	if !sidecar.IsTransport(err) {
		t.Fatalf("Expected transport error, got %v", err)
	}
	if rec := auditLog.last(t); rec.Code != CodeSidecarTransport {
		t.Errorf("Expected SIDECAR_TRANSPORT audit code, got %s", rec.Code)
	}
}

func TestInvokeBindingFixesOperation(t *testing.T) {
	d, client, auditLog, _ := newTestDispatcher()

	if err := d.InvokeBinding(context.Background(), BindingRequest{BindingName: "b", Message: json.RawMessage(`"m"`)}); err != nil {
		t.Fatalf("InvokeBinding() failed: %v", err)
	}

	calls := client.Invocations()
	if len(calls) != 1 {
		t.Fatalf("Expected 1 invocation, got %d", len(calls))
	}
	if calls[0].Name != "b" {
		t.Errorf("Expected binding b, got %s", calls[0].Name)
	}
	if calls[0].Operation != "create" {
		t.Errorf("Expected operation create, got %s", calls[0].Operation)
	}
	if string(calls[0].Data) != `"m"` {
		t.Errorf("Expected data \"m\", got %s", calls[0].Data)
	}
	if rec := auditLog.last(t); rec.Action != sidecar.OpInvokeBinding || rec.Target != "b" {
		t.Errorf("Unexpected audit record %+v", rec)
	}
}

func TestInvokeBindingValidation(t *testing.T) {
	d, client, _, _ := newTestDispatcher()

	for _, req := range []BindingRequest{
		{Message: json.RawMessage(`1`)},
		{BindingName: "b"},
	} {
		if err := d.InvokeBinding(context.Background(), req); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("Expected ErrInvalidParameter for %+v, got %v", req, err)
		}
	}
	if len(client.Invocations()) != 0 {
		t.Error("Invalid requests must not reach the sidecar")
	}
}

func TestInvokeBindingEmbeddedError(t *testing.T) {
	d, _, _, _ := newTestDispatcher(memory.WithBindings("known"))

	err := d.InvokeBinding(context.Background(), BindingRequest{BindingName: "unknown", Message: json.RawMessage(`{}`)})
	if !sidecar.IsEmbedded(err) {
		t.Errorf("Expected embedded error, got %v", err)
	}
}

func TestQueryState(t *testing.T) {
	d, _, auditLog, _ := newTestDispatcher()
	ctx := context.Background()

	// Query store is distinct from the order store.
	for _, o := range []Order{
		{Key: "1", Value: json.RawMessage(`{"status":"open"}`)},
		{Key: "2", Value: json.RawMessage(`{"status":"closed"}`)},
	} {
		if err := d.SaveOrder(ctx, o); err != nil {
			t.Fatal(err)
		}
	}

	resp, err := d.QueryState(ctx, QueryRequest{Query: json.RawMessage(`{"filter":{"EQ":{"status":"open"}}}`)})
	if err != nil {
		t.Fatalf("QueryState() failed: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("Expected the query store to be empty, got %d results", len(resp.Results))
	}
	if rec := auditLog.last(t); rec.Target != "statestore-im" {
		t.Errorf("Expected query target statestore-im, got %s", rec.Target)
	}
}

func TestQueryStateItemErrorIsEmbedded(t *testing.T) {
	client := &queryStub{Client: memory.New(), resp: &sidecar.QueryResponse{
		Results: []sidecar.QueryItem{{Key: "1", Data: []byte(`{}`)}, {Key: "2", Error: "corrupt row"}},
	}}
	d := New(client, testComponents)

	_, err := d.QueryState(context.Background(), QueryRequest{Query: json.RawMessage(`{}`)})
	if !sidecar.IsEmbedded(err) {
		t.Fatalf("Expected embedded error, got %v", err)
	}
	if !strings.Contains(err.Error(), "corrupt row") {
		t.Errorf("Expected row error in message, got %q", err.Error())
	}
}

func TestQueryStateValidation(t *testing.T) {
	d, _, _, _ := newTestDispatcher()

	for _, q := range []string{``, `null`, `[1]`, `"filter"`, `{`} {
		if _, err := d.QueryState(context.Background(), QueryRequest{Query: json.RawMessage(q)}); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("Expected ErrInvalidParameter for %q, got %v", q, err)
		}
	}
}

func TestPublish(t *testing.T) {
	d, client, _, metrics := newTestDispatcher()

	if err := d.Publish(context.Background(), PublishRequest{Topic: "orders", Message: json.RawMessage(`{"id":7}`)}); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}

	published := client.Published()
	if len(published) != 1 {
		t.Fatalf("Expected 1 publication, got %d", len(published))
	}
	if published[0].PubSub != "pubsub" || published[0].Topic != "orders" {
		t.Errorf("Unexpected publication %+v", published[0])
	}
	if errs := metrics.outcomes[sidecar.OpPublish]; len(errs) != 1 || errs[0] != nil {
		t.Errorf("Expected one successful observation, got %v", errs)
	}
}

func TestPublishEmbeddedError(t *testing.T) {
	d, client, _, _ := newTestDispatcher()
	client.Fail(sidecar.OpPublish, sidecar.Embedded(sidecar.OpPublish, "ERR_PUBSUB_PUBLISH_MESSAGE", "x"))

	err := d.Publish(context.Background(), PublishRequest{Topic: "orders", Message: json.RawMessage(`{}`)})
	if !sidecar.IsEmbedded(err) {
		t.Fatalf("Expected embedded error, got %v", err)
	}
	if !strings.Contains(err.Error(), "x") {
		t.Errorf("Expected message x, got %q", err.Error())
	}
}

func TestCancelledContextIsTransport(t *testing.T) {
	d, _, _, _ := newTestDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Publish(ctx, PublishRequest{Topic: "orders", Message: json.RawMessage(`{}`)})
	if !sidecar.IsTransport(err) {
		t.Errorf("Expected transport error, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	d, client, _, metrics := newTestDispatcher()

	if err := d.Health(context.Background()); err != nil {
		t.Fatalf("Health() failed: %v", err)
	}
	if metrics.reachable == nil || !*metrics.reachable {
		t.Error("Expected sidecar reachable")
	}

	client.Fail(sidecar.OpHealth, errors.New("connection refused"))
	if err := d.Health(context.Background()); !sidecar.IsTransport(err) {
		t.Errorf("Expected transport error, got %v", err)
	}
	if *metrics.reachable {
		t.Error("Expected sidecar unreachable")
	}
}

func TestCallRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	client := memory.New()
	client.Fail(sidecar.OpPublish, errors.New("refused"))
	d := New(client, testComponents, WithTracer(tp.Tracer("test")))

	_ = d.SaveOrder(context.Background(), Order{Key: "1", Value: json.RawMessage(`1`)})
	_ = d.Publish(context.Background(), PublishRequest{Topic: "t", Message: json.RawMessage(`1`)})

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("Expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != sidecar.OpSaveState {
		t.Errorf("Expected span %s, got %s", sidecar.OpSaveState, spans[0].Name())
	}
	if len(spans[1].Events()) == 0 {
		t.Error("Expected the failed call to record an error event")
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, CodeOK},
		{ErrInvalidParameter, CodeBadRequest},
		{sidecar.Transport(sidecar.OpPublish, nil), CodeSidecarTransport},
		{sidecar.Embedded(sidecar.OpPublish, "", "x"), CodeSidecarError},
		{errors.New("other"), CodeInternal},
	}
	for _, tt := range tests {
		if got := Code(tt.err); got != tt.want {
			t.Errorf("Code(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

// queryStub returns a canned query response.
type queryStub struct {
	*memory.Client
	resp *sidecar.QueryResponse
}

func (q *queryStub) QueryState(ctx context.Context, store string, query []byte) (*sidecar.QueryResponse, error) {
	return q.resp, nil
}
