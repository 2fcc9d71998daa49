package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/order-gateway/ogw/internal/auth"
	"github.com/order-gateway/ogw/internal/dispatch"
)

// RegisterRoutes registers the gateway and operational endpoints.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// Operational endpoints (no auth required)
	mux.HandleFunc("/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	mux.HandleFunc("/order/{orderId}", s.protect(s.handleGetOrder, auth.ScopeRead))
	mux.HandleFunc("/order", s.protect(s.handleSaveOrder, auth.ScopeWrite))
	mux.HandleFunc("/binding", s.protect(s.handleBinding, auth.ScopeWrite))
	mux.HandleFunc("/query", s.protect(s.handleQuery, auth.ScopeWrite))
	mux.HandleFunc("/publish", s.protect(s.handlePublish, auth.ScopeWrite))

	mux.HandleFunc("/", s.handleNotFound)
}

// protect wraps h with auth when a middleware is configured.
func (s *Server) protect(h http.HandlerFunc, scope string) http.HandlerFunc {
	if s.authMiddleware == nil {
		return h
	}
	return s.authMiddleware.Protect(h, scope)
}

// handleGetOrder handles GET /order/{orderId}
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	value, err := s.dispatcher.GetOrder(r.Context(), r.PathValue("orderId"))
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	if len(value) == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}

	WriteRawJSON(w, value)
}

// handleSaveOrder handles POST /order
func (s *Server) handleSaveOrder(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var order dispatch.Order
	if !decodeBody(w, r, &order) {
		return
	}

	if err := s.dispatcher.SaveOrder(r.Context(), order); err != nil {
		writeAPIError(w, r, err)
		return
	}

	WriteText(w, "State saved with key: %s", order.Key)
}

// handleBinding handles POST /binding
func (s *Server) handleBinding(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req dispatch.BindingRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.dispatcher.InvokeBinding(r.Context(), req); err != nil {
		writeAPIError(w, r, err)
		return
	}

	WriteText(w, "Binding request sent to %s", req.BindingName)
}

// handleQuery handles POST /query
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req dispatch.QueryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if _, err := s.dispatcher.QueryState(r.Context(), req); err != nil {
		writeAPIError(w, r, err)
		return
	}

	WriteText(w, "Queried state store: %s", compactJSON(req.Query))
}

// handlePublish handles POST /publish
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req dispatch.PublishRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.dispatcher.Publish(r.Context(), req); err != nil {
		writeAPIError(w, r, err)
		return
	}

	WriteText(w, "Message published to %s", req.Topic)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	uptime := time.Since(s.startTime).Round(time.Second).String()
	if err := s.dispatcher.Health(r.Context()); err != nil {
		WriteError(w, r, http.StatusServiceUnavailable, CodeServiceDegraded,
			"Sidecar is not reachable", map[string]interface{}{
				"sidecar": "unreachable",
				"error":   err.Error(),
				"uptime":  uptime,
			})
		return
	}

	WriteSuccess(w, r, map[string]interface{}{
		"status":  "ok",
		"sidecar": "reachable",
		"uptime":  uptime,
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, http.StatusNotFound, dispatch.CodeNotFound, "No route for "+r.URL.Path, nil)
}

// requireMethod writes 405 unless r uses method.
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	WriteError(w, r, http.StatusMethodNotAllowed, CodeMethodNotAllowed,
		"Only "+method+" method is allowed", nil)
	return false
}

// decodeBody parses exactly one JSON object from the request body. Unknown
// fields are ignored; syntax errors, trailing data and oversized bodies are not.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, r, http.StatusRequestEntityTooLarge, CodePayloadTooLarge,
				"Request body exceeds the configured limit", map[string]interface{}{"limit": tooLarge.Limit})
			return false
		}
		WriteError(w, r, http.StatusBadRequest, dispatch.CodeBadRequest, "Malformed JSON body", map[string]interface{}{
			"error": err.Error(),
		})
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		WriteError(w, r, http.StatusBadRequest, dispatch.CodeBadRequest, "Trailing data after JSON object", nil)
		return false
	}

	return true
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
