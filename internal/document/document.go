// Package document provides helpers for mutating BSON documents addressed
// by dotted paths, plus numeric coercion for values that arrive from the
// store in boxed or driver-specific forms.
package document

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Delete removes the value at a dotted path inside doc. Intermediate keys
// that are absent or not sub-documents end the walk without error.
func Delete(doc bson.M, path string) {
	parts := strings.Split(path, ".")
	cur := doc
	for i, part := range parts {
		if i == len(parts)-1 {
			delete(cur, part)
			return
		}
		next, ok := cur[part]
		if !ok {
			return
		}
		switch v := next.(type) {
		case bson.M:
			cur = v
		case map[string]any:
			cur = v
		case bson.D:
			// Nested bson.D is converted in place so the delete sticks.
			m := dToM(v)
			cur[part] = m
			cur = m
		default:
			return
		}
	}
}

// AssignLiteralKey sets doc[path] = value with any dots in path preserved
// as part of the key itself rather than interpreted as nesting.
func AssignLiteralKey(doc bson.M, path string, value any) {
	doc[path] = value
}

// Lookup walks a dotted path and returns the value found there.
func Lookup(doc bson.M, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = doc
	for _, part := range parts {
		switch v := cur.(type) {
		case bson.M:
			next, ok := v[part]
			if !ok {
				return nil, false
			}
			cur = next
		case map[string]any:
			next, ok := v[part]
			if !ok {
				return nil, false
			}
			cur = next
		case bson.D:
			found := false
			for _, e := range v {
				if e.Key == part {
					cur = e.Value
					found = true
					break
				}
			}
			if !found {
				return nil, false
			}
		default:
			return nil, false
		}
	}
	return cur, true
}

func dToM(d bson.D) bson.M {
	m := make(bson.M, len(d))
	for _, e := range d {
		m[e.Key] = e.Value
	}
	return m
}

// ToInt64 coerces a stored identifier to int64. Boxed 64-bit integers come
// back as {high, low} pairs and are reassembled as high*2^32 + (low mod 2^32).
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case primitive.Decimal128:
		if i, _, err := n.BigInt(); err == nil && i.IsInt64() {
			return i.Int64(), true
		}
		return 0, false
	case bson.M:
		return boxedInt64(n["high"], n["low"])
	case map[string]any:
		return boxedInt64(n["high"], n["low"])
	case bson.D:
		var high, low any
		for _, e := range n {
			switch e.Key {
			case "high":
				high = e.Value
			case "low":
				low = e.Value
			}
		}
		return boxedInt64(high, low)
	default:
		return 0, false
	}
}

func boxedInt64(high, low any) (int64, bool) {
	h, hok := toRaw(high)
	l, lok := toRaw(low)
	if !hok || !lok {
		return 0, false
	}
	return h*(1<<32) + int64(uint32(l)), true
}

func toRaw(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
