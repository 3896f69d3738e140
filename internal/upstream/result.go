package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind discriminates the two response shapes the upstream produces
type Kind int

const (
	// KindSingle - the upstream returned one JSON object
	KindSingle Kind = iota
	// KindCollection - the upstream returned a JSON array of objects
	KindCollection
)

// Result is the decoded upstream payload. The single-object vs array branch
// is decided exactly once here, at the wire boundary; downstream code switches
// on Kind instead of inspecting raw JSON shapes.
type Result struct {
	Kind   Kind             `json:"kind"`
	Object map[string]any   `json:"object,omitempty"`
	Items  []map[string]any `json:"items,omitempty"`
}

// Single wraps one object as a Result
func Single(obj map[string]any) *Result {
	return &Result{Kind: KindSingle, Object: obj}
}

// Collection wraps a set of items as a Result
func Collection(items []map[string]any) *Result {
	if items == nil {
		items = []map[string]any{}
	}
	return &Result{Kind: KindCollection, Items: items}
}

// IsCollection returns true for array-shaped results
func (r *Result) IsCollection() bool {
	return r.Kind == KindCollection
}

// Len returns the number of items (1 for a single object)
func (r *Result) Len() int {
	if r.Kind == KindSingle {
		return 1
	}
	return len(r.Items)
}

// DecodeResult parses an upstream response body into a tagged Result
func DecodeResult(body []byte) (*Result, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty response body")
	}

	switch trimmed[0] {
	case '[':
		var items []map[string]any
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("failed to decode response array: %w", err)
		}
		return Collection(items), nil
	case '{':
		var obj map[string]any
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, fmt.Errorf("failed to decode response object: %w", err)
		}
		return Single(obj), nil
	default:
		return nil, fmt.Errorf("unexpected response shape (leading byte %q)", trimmed[0])
	}
}
