package sidecar

import (
	"context"
	"fmt"
)

// Operation names used in errors, metrics, and audit records.
const (
	OpGetState      = "state.get"
	OpSaveState     = "state.save"
	OpQueryState    = "state.query"
	OpInvokeBinding = "binding.send"
	OpPublish       = "pubsub.publish"
	OpHealth        = "health"
)

// StateItem is a single key/value pair held by a state store.
type StateItem struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
	ETag  string `json:"etag,omitempty"`
}

// BindingRequest asks the sidecar to run an operation on an output binding.
type BindingRequest struct {
	Name      string            `json:"name"`
	Operation string            `json:"operation"`
	Data      []byte            `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// QueryItem is one row of a state query result. Error is set by the sidecar
// when the row could not be read.
type QueryItem struct {
	Key   string `json:"key"`
	Data  []byte `json:"data"`
	ETag  string `json:"etag,omitempty"`
	Error string `json:"error,omitempty"`
}

// QueryResponse is the result of a state query.
type QueryResponse struct {
	Results []QueryItem `json:"results"`
	Token   string      `json:"token,omitempty"`
}

// Client is the stable contract between the gateway and the sidecar.
type Client interface {
	// GetState returns the item stored under key, or nil when the key is absent.
	GetState(ctx context.Context, store, key string) (*StateItem, error)

	// SaveState stores all items in one request.
	SaveState(ctx context.Context, store string, items ...StateItem) error

	// QueryState runs a query document against a queryable state store.
	QueryState(ctx context.Context, store string, query []byte) (*QueryResponse, error)

	// InvokeBinding runs an operation on an output binding and returns its output.
	InvokeBinding(ctx context.Context, req *BindingRequest) ([]byte, error)

	// PublishEvent publishes a JSON payload on a pub/sub component topic.
	PublishEvent(ctx context.Context, pubsub, topic string, data []byte) error

	// Health reports whether the sidecar is reachable and ready.
	Health(ctx context.Context) error

	// Close releases transport resources.
	Close() error
}

// ItemError returns the first per-row error carried by a query result as an
// embedded error, or nil when every row was read.
func (r *QueryResponse) ItemError() error {
	if r == nil {
		return nil
	}
	for _, item := range r.Results {
		if item.Error != "" {
			return Embedded(OpQueryState, "ERR_QUERY_ITEM", fmt.Sprintf("key %q: %s", item.Key, item.Error))
		}
	}
	return nil
}
