package memory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/order-gateway/ogw/internal/sidecar"
)

var errClosed = errors.New("client is closed")

type queryDoc struct {
	Filter map[string]json.RawMessage `json:"filter"`
	Sort   []json.RawMessage          `json:"sort"`
	Page   struct {
		Limit int    `json:"limit"`
		Token string `json:"token"`
	} `json:"page"`
}

// predicate reports whether a decoded JSON value matches a filter.
type predicate func(doc interface{}) bool

type query struct {
	match  predicate
	limit  int
	offset int
}

// parseQuery compiles the supported subset of the query language:
// EQ, NEQ, IN, AND, OR filters and page limit/token. Sorting is rejected.
func parseQuery(raw []byte) (*query, error) {
	q := &query{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return q, nil
	}

	var doc queryDoc
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse query: %w", err)
	}
	if len(doc.Sort) > 0 {
		return nil, errors.New("query sort is not supported by this store")
	}
	if doc.Page.Limit < 0 {
		return nil, fmt.Errorf("page limit must be non-negative, got %d", doc.Page.Limit)
	}
	q.limit = doc.Page.Limit

	if doc.Page.Token != "" {
		offset, err := strconv.Atoi(doc.Page.Token)
		if err != nil || offset < 0 {
			return nil, fmt.Errorf("invalid page token %q", doc.Page.Token)
		}
		q.offset = offset
	}

	if len(doc.Filter) > 0 {
		match, err := compileFilter(doc.Filter)
		if err != nil {
			return nil, err
		}
		q.match = match
	}
	return q, nil
}

func compileFilter(node map[string]json.RawMessage) (predicate, error) {
	if len(node) != 1 {
		return nil, fmt.Errorf("filter must have exactly one operator, got %d", len(node))
	}

	for op, body := range node {
		switch op {
		case "EQ", "NEQ":
			field, want, err := fieldValue(body)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			var expected interface{}
			if err := json.Unmarshal(want, &expected); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			negate := op == "NEQ"
			return func(doc interface{}) bool {
				got, ok := lookup(doc, field)
				return (ok && reflect.DeepEqual(got, expected)) != negate
			}, nil

		case "IN":
			field, want, err := fieldValue(body)
			if err != nil {
				return nil, fmt.Errorf("IN: %w", err)
			}
			var candidates []interface{}
			if err := json.Unmarshal(want, &candidates); err != nil {
				return nil, fmt.Errorf("IN: values must be an array: %w", err)
			}
			return func(doc interface{}) bool {
				got, ok := lookup(doc, field)
				if !ok {
					return false
				}
				for _, c := range candidates {
					if reflect.DeepEqual(got, c) {
						return true
					}
				}
				return false
			}, nil

		case "AND", "OR":
			var children []map[string]json.RawMessage
			if err := json.Unmarshal(body, &children); err != nil {
				return nil, fmt.Errorf("%s: operands must be an array of filters: %w", op, err)
			}
			if len(children) == 0 {
				return nil, fmt.Errorf("%s: needs at least one operand", op)
			}
			preds := make([]predicate, 0, len(children))
			for _, child := range children {
				p, err := compileFilter(child)
				if err != nil {
					return nil, err
				}
				preds = append(preds, p)
			}
			all := op == "AND"
			return func(doc interface{}) bool {
				for _, p := range preds {
					if p(doc) != all {
						return !all
					}
				}
				return all
			}, nil

		default:
			return nil, fmt.Errorf("unsupported filter operator %q", op)
		}
	}
	return nil, errors.New("empty filter")
}

// fieldValue splits {"field": value} into its single field and raw value.
func fieldValue(body json.RawMessage) (string, json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return "", nil, err
	}
	if len(m) != 1 {
		return "", nil, fmt.Errorf("expected exactly one field, got %d", len(m))
	}
	for k, v := range m {
		return k, v, nil
	}
	return "", nil, errors.New("missing field")
}

// lookup walks a dotted path through nested JSON objects.
func lookup(doc interface{}, path string) (interface{}, bool) {
	cur := doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func (q *query) run(items []sidecar.StateItem) (*sidecar.QueryResponse, error) {
	matched := make([]sidecar.QueryItem, 0, len(items))
	for _, item := range items {
		row := sidecar.QueryItem{
			Key:  item.Key,
			Data: append([]byte(nil), item.Value...),
			ETag: item.ETag,
		}
		if q.match != nil {
			var doc interface{}
			if err := json.Unmarshal(item.Value, &doc); err != nil {
				row.Data = nil
				row.Error = "failed to parse JSON value: " + err.Error()
				matched = append(matched, row)
				continue
			}
			if !q.match(doc) {
				continue
			}
		}
		matched = append(matched, row)
	}

	resp := &sidecar.QueryResponse{}
	if q.offset >= len(matched) {
		resp.Results = []sidecar.QueryItem{}
		return resp, nil
	}
	matched = matched[q.offset:]
	if q.limit > 0 && len(matched) > q.limit {
		matched = matched[:q.limit]
		resp.Token = strconv.Itoa(q.offset + q.limit)
	}
	resp.Results = matched
	return resp, nil
}
