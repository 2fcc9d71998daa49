package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// BindingOperation is the only operation the gateway invokes on bindings.
const BindingOperation = "create"

// Order is one key/value pair for the state store.
type Order struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// PublishRequest is a message for one topic of the configured pub/sub component.
type PublishRequest struct {
	Topic   string          `json:"topic"`
	Message json.RawMessage `json:"message"`
}

// BindingRequest is a payload for a named output binding.
type BindingRequest struct {
	BindingName string          `json:"bindingName"`
	Message     json.RawMessage `json:"message"`
}

// QueryRequest carries a query document in the sidecar query language.
type QueryRequest struct {
	Query json.RawMessage `json:"query"`
}

// Validate checks that key and value are present.
func (o Order) Validate() error {
	if err := requireName("key", o.Key); err != nil {
		return err
	}
	return requireJSON("value", o.Value)
}

// Validate checks that topic and message are present.
func (r PublishRequest) Validate() error {
	if err := requireName("topic", r.Topic); err != nil {
		return err
	}
	return requireJSON("message", r.Message)
}

// Validate checks that bindingName and message are present.
func (r BindingRequest) Validate() error {
	if err := requireName("bindingName", r.BindingName); err != nil {
		return err
	}
	return requireJSON("message", r.Message)
}

// Validate checks that query is a JSON object.
func (r QueryRequest) Validate() error {
	if err := requireJSON("query", r.Query); err != nil {
		return err
	}
	if trimmed := bytes.TrimSpace(r.Query); trimmed[0] != '{' {
		return fmt.Errorf("%w: query must be a JSON object", ErrInvalidParameter)
	}
	return nil
}

func requireName(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidParameter, field)
	}
	return nil
}

// requireJSON rejects absent, null and malformed values.
func requireJSON(field string, raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fmt.Errorf("%w: %s is required", ErrInvalidParameter, field)
	}
	if !json.Valid(trimmed) {
		return fmt.Errorf("%w: %s is not valid JSON", ErrInvalidParameter, field)
	}
	return nil
}
