package batcher

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"pricegate/internal/config"
)

// BatchMeta carries diagnostics about a combined call. It is logged
// alongside the flush and must never be forwarded to the upstream as a
// query parameter.
type BatchMeta struct {
	CorrelationID string
	Count         int
}

// Combine merges the parameter sets of every request in a flush into one
// upstream query. Deterministic: for each key, the distinct values across
// all requests are collected in first-seen order; a key with one distinct
// value passes through unchanged, a key with several is represented as a
// repeated parameter when the endpoint config names it a list param and as
// a comma-joined scalar otherwise.
func Combine(requests []*pendingRequest, settings config.BatchEndpointConfig) (url.Values, BatchMeta) {
	meta := BatchMeta{
		CorrelationID: uuid.NewString(),
		Count:         len(requests),
	}

	// distinct values per key, first-seen order
	valuesByKey := make(map[string][]string)
	seen := make(map[string]map[string]bool)
	for _, req := range requests {
		for _, key := range sortedKeys(req.params) {
			for _, v := range valueStrings(req.params[key]) {
				if seen[key] == nil {
					seen[key] = make(map[string]bool)
				}
				if seen[key][v] {
					continue
				}
				seen[key][v] = true
				valuesByKey[key] = append(valuesByKey[key], v)
			}
		}
	}

	query := url.Values{}
	for key, values := range valuesByKey {
		switch {
		case len(values) == 1:
			query.Set(key, values[0])
		case settings.IsListParam(key):
			for _, v := range values {
				query.Add(key, v)
			}
		default:
			query.Set(key, strings.Join(values, ","))
		}
	}

	return query, meta
}

// EncodedSize returns the encoded query size of one request's own parameter
// set, used to account for bytes saved by batching.
func EncodedSize(params map[string]any, settings config.BatchEndpointConfig) int {
	query := url.Values{}
	for key, v := range params {
		values := valueStrings(v)
		switch {
		case len(values) == 1:
			query.Set(key, values[0])
		case settings.IsListParam(key):
			for _, s := range values {
				query.Add(key, s)
			}
		default:
			query.Set(key, strings.Join(values, ","))
		}
	}
	return len(query.Encode())
}

// sortedKeys returns map keys in a stable order
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// valueStrings flattens a parameter value into its string form(s)
func valueStrings(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, valueString(item))
		}
		return out
	default:
		return []string{valueString(v)}
	}
}

// valueString renders a single scalar parameter value
func valueString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case fmt.Stringer:
		return val.String()
	case nil:
		return ""
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}
