package api

import (
	"errors"
	"net/http"

	"github.com/order-gateway/ogw/internal/dispatch"
	"github.com/order-gateway/ogw/internal/sidecar"
)

// API error codes not produced by the dispatcher.
const (
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	CodeServiceDegraded  = "SERVICE_DEGRADED"
)

// APIError represents an API-layer error with HTTP status code.
type APIError struct {
	Code       string
	Message    string
	Details    interface{}
	StatusCode int
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// ToAPIError converts a dispatcher error to status, code, message and details.
// Both sidecar failure kinds answer 500 with the sidecar's own message.
func ToAPIError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var sErr *sidecar.Error
	if errors.As(err, &sErr) {
		details := map[string]interface{}{
			"op":   sErr.Op,
			"kind": sErr.Kind.String(),
		}
		if sErr.Code != "" {
			details["sidecarCode"] = sErr.Code
		}
		return &APIError{
			Code:       dispatch.Code(err),
			Message:    sErr.Message,
			Details:    details,
			StatusCode: http.StatusInternalServerError,
		}
	}

	if dispatch.Code(err) == dispatch.CodeBadRequest {
		return &APIError{Code: dispatch.CodeBadRequest, Message: err.Error(), StatusCode: http.StatusBadRequest}
	}

	return &APIError{
		Code:       dispatch.CodeInternal,
		Message:    err.Error(),
		StatusCode: http.StatusInternalServerError,
	}
}

// writeAPIError writes err through the error envelope.
func writeAPIError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := ToAPIError(err)
	WriteError(w, r, apiErr.StatusCode, apiErr.Code, apiErr.Message, apiErr.Details)
}
