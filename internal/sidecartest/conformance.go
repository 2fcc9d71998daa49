// Package sidecartest provides a conformance suite for sidecar.Client
// implementations and a fake sidecar HTTP server for transport tests.
package sidecartest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/order-gateway/ogw/internal/sidecar"
)

// Components names the sidecar components the suite exercises. The client
// under test must accept them.
type Components struct {
	StateStore string
	QueryStore string
	PubSub     string
	Binding    string
}

// DefaultComponents matches the gateway's default configuration.
var DefaultComponents = Components{
	StateStore: "statestore",
	QueryStore: "statestore-im",
	PubSub:     "pubsub",
	Binding:    "order-binding",
}

// RunConformance runs the shared client contract against fresh clients from newClient.
func RunConformance(t *testing.T, newClient func(t *testing.T) sidecar.Client, comps Components) {
	t.Run("SaveThenGetRoundTrip", func(t *testing.T) {
		c := newClient(t)
		ctx := testContext(t)

		values := []string{`{"orderId":1,"items":["a","b"]}`, `"plain string"`, `42`, `[1,2,3]`, `null`}
		for i, v := range values {
			key := "order-" + string(rune('a'+i))
			if err := c.SaveState(ctx, comps.StateStore, sidecar.StateItem{Key: key, Value: []byte(v)}); err != nil {
				t.Fatalf("SaveState(%s) failed: %v", key, err)
			}
			item, err := c.GetState(ctx, comps.StateStore, key)
			if err != nil {
				t.Fatalf("GetState(%s) failed: %v", key, err)
			}
			if item == nil {
				if v == "null" {
					continue
				}
				t.Fatalf("GetState(%s) returned no item", key)
			}
			if !jsonEqual(t, item.Value, []byte(v)) {
				t.Errorf("Expected value %s, got %s", v, item.Value)
			}
		}
	})

	t.Run("GetMissingKeyReturnsNil", func(t *testing.T) {
		c := newClient(t)
		item, err := c.GetState(testContext(t), comps.StateStore, "does-not-exist")
		if err != nil {
			t.Fatalf("Expected no error for missing key, got %v", err)
		}
		if item != nil {
			t.Errorf("Expected nil item, got %+v", item)
		}
	})

	t.Run("BulkSave", func(t *testing.T) {
		c := newClient(t)
		ctx := testContext(t)
		err := c.SaveState(ctx, comps.StateStore,
			sidecar.StateItem{Key: "k1", Value: []byte(`1`)},
			sidecar.StateItem{Key: "k2", Value: []byte(`2`)},
		)
		if err != nil {
			t.Fatalf("SaveState failed: %v", err)
		}
		for _, k := range []string{"k1", "k2"} {
			item, err := c.GetState(ctx, comps.StateStore, k)
			if err != nil || item == nil {
				t.Errorf("Expected %s to be stored, got item=%v err=%v", k, item, err)
			}
		}
	})

	t.Run("QueryFiltersQueryStore", func(t *testing.T) {
		c := newClient(t)
		ctx := testContext(t)
		err := c.SaveState(ctx, comps.QueryStore,
			sidecar.StateItem{Key: "1", Value: []byte(`{"state":"CA"}`)},
			sidecar.StateItem{Key: "2", Value: []byte(`{"state":"WA"}`)},
		)
		if err != nil {
			t.Fatalf("SaveState failed: %v", err)
		}

		resp, err := c.QueryState(ctx, comps.QueryStore, []byte(`{"filter":{"EQ":{"state":"WA"}}}`))
		if err != nil {
			t.Fatalf("QueryState failed: %v", err)
		}
		if len(resp.Results) != 1 || resp.Results[0].Key != "2" {
			t.Errorf("Expected only key 2, got %+v", resp.Results)
		}
		if err := resp.ItemError(); err != nil {
			t.Errorf("Expected no row errors, got %v", err)
		}
	})

	t.Run("MalformedQueryIsEmbedded", func(t *testing.T) {
		c := newClient(t)
		_, err := c.QueryState(testContext(t), comps.QueryStore, []byte(`"SELECT var1 from myTable"`))
		if !sidecar.IsEmbedded(err) {
			t.Errorf("Expected embedded error, got %v", err)
		}
	})

	t.Run("PublishEvent", func(t *testing.T) {
		c := newClient(t)
		if err := c.PublishEvent(testContext(t), comps.PubSub, "topic4", []byte(`"Hello from pubsub"`)); err != nil {
			t.Errorf("PublishEvent failed: %v", err)
		}
	})

	t.Run("InvokeBinding", func(t *testing.T) {
		c := newClient(t)
		_, err := c.InvokeBinding(testContext(t), &sidecar.BindingRequest{
			Name:      comps.Binding,
			Operation: "create",
			Data:      []byte(`"Hello from binding"`),
		})
		if err != nil {
			t.Errorf("InvokeBinding failed: %v", err)
		}
	})

	t.Run("Health", func(t *testing.T) {
		c := newClient(t)
		if err := c.Health(testContext(t)); err != nil {
			t.Errorf("Health failed: %v", err)
		}
	})

	t.Run("CancelledContextIsTransport", func(t *testing.T) {
		c := newClient(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := c.GetState(ctx, comps.StateStore, "k")
		if !sidecar.IsTransport(err) {
			t.Errorf("Expected transport error, got %v", err)
		}
	})
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func jsonEqual(t *testing.T, a, b []byte) bool {
	t.Helper()
	var av, bv interface{}
	if err := json.Unmarshal(a, &av); err != nil {
		t.Fatalf("invalid JSON %q: %v", a, err)
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		t.Fatalf("invalid JSON %q: %v", b, err)
	}
	ab, _ := json.Marshal(av)
	bb, _ := json.Marshal(bv)
	return string(ab) == string(bb)
}
