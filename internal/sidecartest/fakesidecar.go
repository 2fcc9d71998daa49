package sidecartest

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/order-gateway/ogw/internal/sidecar"
)

// FakeSidecar serves the sidecar HTTP API from a backing sidecar.Client,
// typically memory.Client, over an in-memory listener.
type FakeSidecar struct {
	backend sidecar.Client
	token   string

	ln  *fasthttputil.InmemoryListener
	srv *fasthttp.Server

	mu       sync.Mutex
	requests []RecordedRequest
}

// RecordedRequest is a request seen by the fake sidecar.
type RecordedRequest struct {
	Method  string
	Path    string
	Body    []byte
	Headers map[string]string
}

// NewFakeSidecar starts a fake sidecar and registers its shutdown with t.
// When token is non-empty every request must carry it in dapr-api-token.
func NewFakeSidecar(t testing.TB, backend sidecar.Client, token string) *FakeSidecar {
	t.Helper()

	f := &FakeSidecar{
		backend: backend,
		token:   token,
		ln:      fasthttputil.NewInmemoryListener(),
	}
	f.srv = &fasthttp.Server{Handler: f.handle}
	go func() { _ = f.srv.Serve(f.ln) }()

	t.Cleanup(func() {
		_ = f.ln.Close()
		_ = f.srv.Shutdown()
	})
	return f
}

// Dial connects to the fake sidecar. Pass it as httpclient.Config.Dial.
func (f *FakeSidecar) Dial(string) (net.Conn, error) {
	return f.ln.Dial()
}

// BaseURL is the URL clients should use together with Dial.
func (f *FakeSidecar) BaseURL() string {
	return "http://sidecar.test"
}

// Requests returns a copy of every request received so far.
func (f *FakeSidecar) Requests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RecordedRequest(nil), f.requests...)
}

func (f *FakeSidecar) record(ctx *fasthttp.RequestCtx) {
	headers := map[string]string{}
	for _, name := range []string{"Content-Type", "dapr-api-token", "traceparent"} {
		if v := ctx.Request.Header.Peek(name); len(v) > 0 {
			headers[name] = string(v)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, RecordedRequest{
		Method:  string(ctx.Method()),
		Path:    string(ctx.Path()),
		Body:    append([]byte(nil), ctx.PostBody()...),
		Headers: headers,
	})
}

func (f *FakeSidecar) handle(ctx *fasthttp.RequestCtx) {
	f.record(ctx)

	if f.token != "" && string(ctx.Request.Header.Peek("dapr-api-token")) != f.token {
		writeSidecarError(ctx, fasthttp.StatusUnauthorized, "ERR_API_TOKEN_INVALID", "invalid api token")
		return
	}

	segments := splitPath(string(ctx.Path()))
	background := context.Background()

	switch {
	case len(segments) == 2 && segments[0] == "v1.0" && segments[1] == "healthz" && ctx.IsGet():
		if err := f.backend.Health(background); err != nil {
			writeBackendError(ctx, err)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNoContent)

	case len(segments) == 4 && segments[0] == "v1.0" && segments[1] == "state" && ctx.IsGet():
		item, err := f.backend.GetState(background, segments[2], segments[3])
		if err != nil {
			writeBackendError(ctx, err)
			return
		}
		if item == nil {
			ctx.SetStatusCode(fasthttp.StatusNoContent)
			return
		}
		if item.ETag != "" {
			ctx.Response.Header.Set("ETag", item.ETag)
		}
		ctx.SetContentType("application/json")
		ctx.SetBody(item.Value)

	case len(segments) == 3 && segments[0] == "v1.0" && segments[1] == "state" && ctx.IsPost():
		var items []struct {
			Key   string          `json:"key"`
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(ctx.PostBody(), &items); err != nil {
			writeSidecarError(ctx, fasthttp.StatusBadRequest, "ERR_MALFORMED_REQUEST", err.Error())
			return
		}
		stateItems := make([]sidecar.StateItem, 0, len(items))
		for _, it := range items {
			stateItems = append(stateItems, sidecar.StateItem{Key: it.Key, Value: it.Value})
		}
		if err := f.backend.SaveState(background, segments[2], stateItems...); err != nil {
			writeBackendError(ctx, err)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNoContent)

	case len(segments) == 4 && segments[0] == "v1.0-alpha1" && segments[1] == "state" && segments[3] == "query" && ctx.IsPost():
		resp, err := f.backend.QueryState(background, segments[2], ctx.PostBody())
		if err != nil {
			writeBackendError(ctx, err)
			return
		}
		type row struct {
			Key   string          `json:"key"`
			Data  json.RawMessage `json:"data,omitempty"`
			ETag  string          `json:"etag,omitempty"`
			Error string          `json:"error,omitempty"`
		}
		out := struct {
			Results []row  `json:"results"`
			Token   string `json:"token,omitempty"`
		}{Results: []row{}, Token: resp.Token}
		for _, r := range resp.Results {
			out.Results = append(out.Results, row{Key: r.Key, Data: r.Data, ETag: r.ETag, Error: r.Error})
		}
		writeJSON(ctx, fasthttp.StatusOK, out)

	case len(segments) == 3 && segments[0] == "v1.0" && segments[1] == "bindings" && ctx.IsPost():
		var payload struct {
			Data      json.RawMessage   `json:"data"`
			Metadata  map[string]string `json:"metadata"`
			Operation string            `json:"operation"`
		}
		if err := json.Unmarshal(ctx.PostBody(), &payload); err != nil {
			writeSidecarError(ctx, fasthttp.StatusBadRequest, "ERR_MALFORMED_REQUEST", err.Error())
			return
		}
		out, err := f.backend.InvokeBinding(background, &sidecar.BindingRequest{
			Name:      segments[2],
			Operation: payload.Operation,
			Data:      payload.Data,
			Metadata:  payload.Metadata,
		})
		if err != nil {
			writeBackendError(ctx, err)
			return
		}
		if len(out) == 0 {
			ctx.SetStatusCode(fasthttp.StatusNoContent)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBody(out)

	case len(segments) == 4 && segments[0] == "v1.0" && segments[1] == "publish" && ctx.IsPost():
		if err := f.backend.PublishEvent(background, segments[2], segments[3], ctx.PostBody()); err != nil {
			writeBackendError(ctx, err)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNoContent)

	default:
		writeSidecarError(ctx, fasthttp.StatusNotFound, "ERR_DIRECT_INVOKE", "no route for "+string(ctx.Path()))
	}
}

func splitPath(path string) []string {
	raw := strings.Split(strings.Trim(path, "/"), "/")
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if unescaped, err := url.PathUnescape(s); err == nil {
			s = unescaped
		}
		out = append(out, s)
	}
	return out
}

func writeBackendError(ctx *fasthttp.RequestCtx, err error) {
	var sErr *sidecar.Error
	if errors.As(err, &sErr) && sErr.Code != "" {
		writeSidecarError(ctx, fasthttp.StatusInternalServerError, sErr.Code, sErr.Message)
		return
	}
	writeSidecarError(ctx, fasthttp.StatusInternalServerError, "ERR_INTERNAL", err.Error())
}

func writeSidecarError(ctx *fasthttp.RequestCtx, status int, code, message string) {
	writeJSON(ctx, status, map[string]string{"errorCode": code, "message": message})
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}
