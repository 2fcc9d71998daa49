// Package memory provides an in-process sidecar client for tests and local runs.
//
// The client keeps state per store, records publications and binding
// invocations, and evaluates a subset of the sidecar query language. Faults
// can be injected per operation to exercise both failure kinds.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/order-gateway/ogw/internal/sidecar"
)

// Publication is a message accepted by PublishEvent.
type Publication struct {
	PubSub string
	Topic  string
	Data   []byte
}

// Client implements sidecar.Client in memory.
type Client struct {
	mu sync.RWMutex

	state        map[string]map[string]sidecar.StateItem
	etags        map[string]int
	published    []Publication
	invocations  []sidecar.BindingRequest
	bindingReply []byte

	// Known component names. A nil set accepts any name.
	stores   map[string]bool
	pubsubs  map[string]bool
	bindings map[string]bool

	faults map[string]error
	closed bool
}

// Option configures a Client.
type Option func(*Client)

// WithStores restricts state operations to the named stores.
func WithStores(names ...string) Option {
	return func(c *Client) { c.stores = toSet(names) }
}

// WithPubSubs restricts publishing to the named pub/sub components.
func WithPubSubs(names ...string) Option {
	return func(c *Client) { c.pubsubs = toSet(names) }
}

// WithBindings restricts invocations to the named bindings.
func WithBindings(names ...string) Option {
	return func(c *Client) { c.bindings = toSet(names) }
}

// WithBindingReply sets the output returned by every binding invocation.
func WithBindingReply(data []byte) Option {
	return func(c *Client) { c.bindingReply = data }
}

// New creates an empty in-memory client.
func New(opts ...Option) *Client {
	c := &Client{
		state:  make(map[string]map[string]sidecar.StateItem),
		etags:  make(map[string]int),
		faults: make(map[string]error),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ sidecar.Client = (*Client)(nil)

// GetState returns the stored item or nil when the key is absent.
func (c *Client) GetState(ctx context.Context, store, key string) (*sidecar.StateItem, error) {
	if err := c.precheck(ctx, sidecar.OpGetState); err != nil {
		return nil, err
	}
	if err := c.checkStore(sidecar.OpGetState, store); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.state[store][key]
	if !ok {
		return nil, nil
	}
	item.Value = append([]byte(nil), item.Value...)
	return &item, nil
}

// SaveState stores all items atomically.
func (c *Client) SaveState(ctx context.Context, store string, items ...sidecar.StateItem) error {
	if err := c.precheck(ctx, sidecar.OpSaveState); err != nil {
		return err
	}
	if err := c.checkStore(sidecar.OpSaveState, store); err != nil {
		return err
	}
	for _, item := range items {
		if item.Key == "" {
			return sidecar.Embedded(sidecar.OpSaveState, "ERR_MALFORMED_REQUEST", "state key must not be empty")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	bucket, ok := c.state[store]
	if !ok {
		bucket = make(map[string]sidecar.StateItem)
		c.state[store] = bucket
	}
	for _, item := range items {
		etagKey := store + "||" + item.Key
		c.etags[etagKey]++
		bucket[item.Key] = sidecar.StateItem{
			Key:   item.Key,
			Value: append([]byte(nil), item.Value...),
			ETag:  strconv.Itoa(c.etags[etagKey]),
		}
	}
	return nil
}

// QueryState evaluates query against every item of store.
func (c *Client) QueryState(ctx context.Context, store string, query []byte) (*sidecar.QueryResponse, error) {
	if err := c.precheck(ctx, sidecar.OpQueryState); err != nil {
		return nil, err
	}
	if err := c.checkStore(sidecar.OpQueryState, store); err != nil {
		return nil, err
	}

	q, err := parseQuery(query)
	if err != nil {
		return nil, sidecar.Embedded(sidecar.OpQueryState, "ERR_MALFORMED_REQUEST", err.Error())
	}

	c.mu.RLock()
	keys := make([]string, 0, len(c.state[store]))
	for k := range c.state[store] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	items := make([]sidecar.StateItem, 0, len(keys))
	for _, k := range keys {
		items = append(items, c.state[store][k])
	}
	c.mu.RUnlock()

	return q.run(items)
}

// InvokeBinding records the invocation and returns the configured reply.
func (c *Client) InvokeBinding(ctx context.Context, req *sidecar.BindingRequest) ([]byte, error) {
	if err := c.precheck(ctx, sidecar.OpInvokeBinding); err != nil {
		return nil, err
	}
	if req == nil || req.Name == "" {
		return nil, sidecar.Embedded(sidecar.OpInvokeBinding, "ERR_MALFORMED_REQUEST", "binding name must not be empty")
	}
	if c.bindings != nil && !c.bindings[req.Name] {
		return nil, sidecar.Embedded(sidecar.OpInvokeBinding, "ERR_INVOKE_OUTPUT_BINDING",
			"error when invoke output binding "+req.Name+": couldn't find output binding "+req.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	recorded := *req
	recorded.Data = append([]byte(nil), req.Data...)
	c.invocations = append(c.invocations, recorded)
	return append([]byte(nil), c.bindingReply...), nil
}

// PublishEvent records the publication.
func (c *Client) PublishEvent(ctx context.Context, pubsub, topic string, data []byte) error {
	if err := c.precheck(ctx, sidecar.OpPublish); err != nil {
		return err
	}
	if c.pubsubs != nil && !c.pubsubs[pubsub] {
		return sidecar.Embedded(sidecar.OpPublish, "ERR_PUBSUB_NOT_FOUND", "pubsub "+pubsub+" not found")
	}
	if topic == "" {
		return sidecar.Embedded(sidecar.OpPublish, "ERR_TOPIC_EMPTY", "topic is empty in pubsub "+pubsub)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.published = append(c.published, Publication{
		PubSub: pubsub,
		Topic:  topic,
		Data:   append([]byte(nil), data...),
	})
	return nil
}

// Health fails only when a health fault is injected or the client is closed.
func (c *Client) Health(ctx context.Context) error {
	return c.precheck(ctx, sidecar.OpHealth)
}

// Close marks the client closed. Later calls fail with a transport error.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Helper methods for testing

// Fail makes every later call of op return err until ClearFaults.
// Errors that are not *sidecar.Error are returned as transport failures.
func (c *Client) Fail(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults[op] = err
}

// ClearFaults removes all injected faults.
func (c *Client) ClearFaults() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = make(map[string]error)
}

// Published returns a copy of every accepted publication in order.
func (c *Client) Published() []Publication {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Publication(nil), c.published...)
}

// Invocations returns a copy of every recorded binding invocation in order.
func (c *Client) Invocations() []sidecar.BindingRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]sidecar.BindingRequest(nil), c.invocations...)
}

func (c *Client) precheck(ctx context.Context, op string) error {
	if err := sidecar.CheckContext(ctx, op); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return sidecar.Transport(op, errClosed)
	}
	if err, ok := c.faults[op]; ok {
		return sidecar.Normalize(op, err)
	}
	return nil
}

func (c *Client) checkStore(op, store string) error {
	if store == "" {
		return sidecar.Embedded(op, "ERR_STATE_STORE_NOT_CONFIGURED", "state store name is empty")
	}
	if c.stores != nil && !c.stores[store] {
		return sidecar.Embedded(op, "ERR_STATE_STORE_NOT_FOUND", "state store "+store+" is not found")
	}
	return nil
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
