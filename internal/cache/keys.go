package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// RequestKey generates a cache key for a submission's full parameter set.
// Parameters are canonicalized (sorted keys, lowercased strings) so that
// equivalent submissions hash identically regardless of map iteration order.
func RequestKey(endpoint string, params map[string]any) string {
	normalized := normalizeValue(params)
	data, err := json.Marshal(normalized)
	if err != nil {
		data = []byte("{}")
	}
	hash := sha256.Sum256(data)
	return endpoint + ":params:" + hex.EncodeToString(hash[:8])
}

// IdentityKey generates a cache key for one result element's identity,
// so later submissions carrying the same identity can be served from cache
// even though they were never themselves batched.
func IdentityKey(endpoint, identity string) string {
	return endpoint + ":id:" + strings.ToLower(identity)
}

// normalizeValue recursively normalizes a JSON value for consistent hashing
func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return normalizeMap(val)
	case []any:
		return normalizeArray(val)
	case string:
		return strings.ToLower(val)
	default:
		return val
	}
}

// normalizeMap normalizes a map by sorting keys
func normalizeMap(m map[string]any) map[string]any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make(map[string]any, len(m))
	for _, k := range keys {
		result[k] = normalizeValue(m[k])
	}
	return result
}

// normalizeArray normalizes an array
func normalizeArray(arr []any) []any {
	result := make([]any, len(arr))
	for i, v := range arr {
		result[i] = normalizeValue(v)
	}
	return result
}
