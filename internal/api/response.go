package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/order-gateway/ogw/internal/audit"
)

// Response represents the unified envelope format.
type Response struct {
	Result        string      `json:"result"`
	Data          interface{} `json:"data,omitempty"`
	Code          string      `json:"code,omitempty"`
	Message       string      `json:"message,omitempty"`
	Details       interface{} `json:"details,omitempty"`
	CorrelationID string      `json:"correlationId"`
}

// SuccessResponse creates a success response.
func SuccessResponse(correlationID string, data interface{}) *Response {
	return &Response{
		Result:        "ok",
		Data:          data,
		CorrelationID: correlationID,
	}
}

// ErrorResponse creates an error response.
func ErrorResponse(correlationID, code, message string, details interface{}) *Response {
	return &Response{
		Result:        "error",
		Code:          code,
		Message:       message,
		Details:       details,
		CorrelationID: correlationID,
	}
}

// WriteSuccess writes a JSON success envelope.
func WriteSuccess(w http.ResponseWriter, r *http.Request, data interface{}) {
	writeResponse(w, http.StatusOK, SuccessResponse(correlationID(r), data))
}

// WriteError writes a JSON error envelope.
func WriteError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string, details interface{}) {
	writeResponse(w, statusCode, ErrorResponse(correlationID(r), code, message, details))
}

// WriteText writes a plain text confirmation.
func WriteText(w http.ResponseWriter, format string, args ...interface{}) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, format, args...)
}

// WriteRawJSON writes an already encoded JSON document.
func WriteRawJSON(w http.ResponseWriter, raw json.RawMessage) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func writeResponse(w http.ResponseWriter, statusCode int, response *Response) {
	body, err := json.Marshal(response)
	if err != nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = fmt.Fprintf(w, "Internal server error: %v", err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_, _ = w.Write(append(body, '\n'))
}

// correlationID reuses the request ID so envelopes match log lines.
func correlationID(r *http.Request) string {
	if r != nil {
		if id := audit.RequestIDFromContext(r.Context()); id != "" {
			return id
		}
	}
	return uuid.NewString()
}
