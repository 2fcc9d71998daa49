// Package httpclient implements sidecar.Client over the sidecar's HTTP API.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.opentelemetry.io/otel"

	"github.com/order-gateway/ogw/internal/sidecar"
)

const (
	apiVersion      = "v1.0"
	alphaAPIVersion = "v1.0-alpha1"

	// APITokenHeader carries the sidecar API token when one is configured.
	APITokenHeader = "dapr-api-token"
)

// Config configures the HTTP sidecar client.
type Config struct {
	// BaseURL is the sidecar HTTP endpoint, e.g. http://localhost:3500.
	BaseURL string

	// APIToken is sent on every call when set.
	APIToken string

	// Timeout bounds each call when the context carries no earlier deadline.
	Timeout time.Duration

	// Dial overrides connection setup. Tests use it with in-memory listeners.
	Dial fasthttp.DialFunc
}

// Client talks to the sidecar HTTP API with a pooled fasthttp client.
type Client struct {
	baseURL  string
	apiToken string
	timeout  time.Duration
	http     *fasthttp.Client
}

var _ sidecar.Client = (*Client)(nil)

// New creates an HTTP sidecar client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiToken: cfg.APIToken,
		timeout:  timeout,
		http: &fasthttp.Client{
			Name:                "ogw",
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: 30 * time.Second,
			Dial:                cfg.Dial,
		},
	}
}

// GetState reads one key. A 204 answer means the key is absent.
func (c *Client) GetState(ctx context.Context, store, key string) (*sidecar.StateItem, error) {
	path := fmt.Sprintf("/%s/state/%s/%s", apiVersion, url.PathEscape(store), url.PathEscape(key))

	res, err := c.do(ctx, sidecar.OpGetState, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if res.status == http.StatusNoContent || len(res.body) == 0 {
		return nil, nil
	}

	return &sidecar.StateItem{
		Key:   key,
		Value: res.body,
		ETag:  res.etag,
	}, nil
}

type saveItem struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// SaveState stores all items in one request.
func (c *Client) SaveState(ctx context.Context, store string, items ...sidecar.StateItem) error {
	payload := make([]saveItem, 0, len(items))
	for _, item := range items {
		payload = append(payload, saveItem{Key: item.Key, Value: jsonValue(item.Value)})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return sidecar.Transport(sidecar.OpSaveState, fmt.Errorf("failed to encode state items: %w", err))
	}

	path := fmt.Sprintf("/%s/state/%s", apiVersion, url.PathEscape(store))
	_, err = c.do(ctx, sidecar.OpSaveState, http.MethodPost, path, body)
	return err
}

type queryResponse struct {
	Results []struct {
		Key   string          `json:"key"`
		Data  json.RawMessage `json:"data"`
		ETag  string          `json:"etag"`
		Error string          `json:"error"`
	} `json:"results"`
	Token string `json:"token"`
}

// QueryState posts the query document to the alpha query endpoint.
func (c *Client) QueryState(ctx context.Context, store string, query []byte) (*sidecar.QueryResponse, error) {
	path := fmt.Sprintf("/%s/state/%s/query", alphaAPIVersion, url.PathEscape(store))

	res, err := c.do(ctx, sidecar.OpQueryState, http.MethodPost, path, query)
	if err != nil {
		return nil, err
	}

	out := &sidecar.QueryResponse{Results: []sidecar.QueryItem{}}
	if len(res.body) == 0 {
		return out, nil
	}

	var decoded queryResponse
	if err := json.Unmarshal(res.body, &decoded); err != nil {
		return nil, sidecar.Embedded(sidecar.OpQueryState, "ERR_MALFORMED_RESPONSE",
			fmt.Sprintf("failed to decode query response: %v", err))
	}
	out.Token = decoded.Token
	for _, r := range decoded.Results {
		out.Results = append(out.Results, sidecar.QueryItem{
			Key:   r.Key,
			Data:  []byte(r.Data),
			ETag:  r.ETag,
			Error: r.Error,
		})
	}
	return out, nil
}

type bindingPayload struct {
	Data      json.RawMessage   `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Operation string            `json:"operation"`
}

// InvokeBinding posts an output binding request and returns its output.
func (c *Client) InvokeBinding(ctx context.Context, req *sidecar.BindingRequest) ([]byte, error) {
	if req == nil {
		return nil, sidecar.Embedded(sidecar.OpInvokeBinding, "ERR_MALFORMED_REQUEST", "binding request is nil")
	}
	body, err := json.Marshal(bindingPayload{
		Data:      jsonValue(req.Data),
		Metadata:  req.Metadata,
		Operation: req.Operation,
	})
	if err != nil {
		return nil, sidecar.Transport(sidecar.OpInvokeBinding, fmt.Errorf("failed to encode binding request: %w", err))
	}

	path := fmt.Sprintf("/%s/bindings/%s", apiVersion, url.PathEscape(req.Name))
	res, err := c.do(ctx, sidecar.OpInvokeBinding, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	return res.body, nil
}

// PublishEvent posts data as an application/json event.
func (c *Client) PublishEvent(ctx context.Context, pubsub, topic string, data []byte) error {
	path := fmt.Sprintf("/%s/publish/%s/%s", apiVersion, url.PathEscape(pubsub), url.PathEscape(topic))
	_, err := c.do(ctx, sidecar.OpPublish, http.MethodPost, path, jsonValue(data))
	return err
}

// Health calls the sidecar health endpoint.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, sidecar.OpHealth, http.MethodGet, "/"+apiVersion+"/healthz", nil)
	return err
}

// Close drops idle pooled connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

type result struct {
	status int
	body   []byte
	etag   string
}

// do runs one request. Failures to obtain an answer are transport errors;
// non-2xx answers are decoded into embedded errors.
func (c *Client) do(ctx context.Context, op, method, path string, body []byte) (*result, error) {
	if err := sidecar.CheckContext(ctx, op); err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}
	if c.apiToken != "" {
		req.Header.Set(APITokenHeader, c.apiToken)
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{header: &req.Header})

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return nil, sidecar.Transport(op, err)
	}

	res := &result{
		status: resp.StatusCode(),
		body:   append([]byte(nil), resp.Body()...),
		etag:   string(resp.Header.Peek("ETag")),
	}
	if res.status < 200 || res.status > 299 {
		return nil, embeddedFromResponse(op, res.status, res.body)
	}
	return res, nil
}

type errorBody struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

func embeddedFromResponse(op string, status int, body []byte) error {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && (eb.ErrorCode != "" || eb.Message != "") {
		return sidecar.Embedded(op, eb.ErrorCode, eb.Message)
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return sidecar.Embedded(op, fmt.Sprintf("HTTP_%d", status), msg)
}

// jsonValue passes valid JSON through and encodes anything else as a JSON string.
func jsonValue(v []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(v)
	if len(trimmed) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	encoded, _ := json.Marshal(string(v))
	return encoded
}

// headerCarrier adapts fasthttp request headers for trace context injection.
type headerCarrier struct {
	header *fasthttp.RequestHeader
}

func (c headerCarrier) Get(key string) string {
	return string(c.header.Peek(key))
}

func (c headerCarrier) Set(key, value string) {
	c.header.Set(key, value)
}

func (c headerCarrier) Keys() []string {
	// Only injection is used.
	return nil
}
