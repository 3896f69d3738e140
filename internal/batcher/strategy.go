package batcher

import (
	"strings"
)

// MatchStrategy decides which result elements belong to which request. The
// layer treats it as a black box: callers supply the business rule for
// matching a requester's submitted identity to a response record.
type MatchStrategy interface {
	// RequestIdentity extracts the identity a request submitted, if any
	RequestIdentity(params map[string]any) (string, bool)

	// ElementIdentity extracts the identity of one response element, if any
	ElementIdentity(elem map[string]any) (string, bool)

	// Matches reports whether a response element belongs to a request
	Matches(params map[string]any, elem map[string]any) bool
}

// FieldStrategy matches on a named identity field: the first present key in
// ParamKeys on the request side against the first resolvable dotted path in
// ElementPaths on the element side. Comparison is case-insensitive.
//
// A request that submitted no identity key constrained nothing, so it
// matches the whole collection. An element with no derivable identity
// matches no identity-carrying request; there is deliberately no
// fall-back-to-everything for such elements.
type FieldStrategy struct {
	ParamKeys    []string
	ElementPaths []string
}

// NewFieldStrategy creates a FieldStrategy
func NewFieldStrategy(paramKeys, elementPaths []string) *FieldStrategy {
	return &FieldStrategy{
		ParamKeys:    paramKeys,
		ElementPaths: elementPaths,
	}
}

// DefaultStrategy matches on the TDSP DUNS number, the partition key the
// upstream pricing API tags its records with.
func DefaultStrategy() *FieldStrategy {
	return NewFieldStrategy(
		[]string{"tdsp_duns"},
		[]string{"tdsp.duns", "tdsp_duns", "utility.duns"},
	)
}

// RequestIdentity returns the first present identity param's value
func (s *FieldStrategy) RequestIdentity(params map[string]any) (string, bool) {
	for _, key := range s.ParamKeys {
		if v, ok := params[key]; ok {
			if str := valueString(v); str != "" {
				return str, true
			}
		}
	}
	return "", false
}

// ElementIdentity returns the value at the first resolvable element path
func (s *FieldStrategy) ElementIdentity(elem map[string]any) (string, bool) {
	for _, path := range s.ElementPaths {
		if v, ok := lookupPath(elem, path); ok {
			if str := valueString(v); str != "" {
				return str, true
			}
		}
	}
	return "", false
}

// Matches compares request and element identities
func (s *FieldStrategy) Matches(params map[string]any, elem map[string]any) bool {
	reqID, ok := s.RequestIdentity(params)
	if !ok {
		return true
	}
	elemID, ok := s.ElementIdentity(elem)
	if !ok {
		return false
	}
	return strings.EqualFold(reqID, elemID)
}

// lookupPath resolves a dotted path like "tdsp.duns" inside a decoded element
func lookupPath(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
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
