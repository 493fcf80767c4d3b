package querykey

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Key addresses a query cache entry. Segments must be JSON-serializable:
// strings, numbers, booleans, nil, and nested maps, slices or structs of those.
//
// Keys are treated as immutable once they have been used to address an entry.
type Key []any

// New returns a key made of the given segments.
func New(segments ...any) Key {
	return Key(segments)
}

// Append returns a copy of k with the given segments appended.
func (k Key) Append(segments ...any) Key {
	out := make(Key, 0, len(k)+len(segments))
	out = append(out, k...)
	return append(out, segments...)
}

// String returns the canonical hash of the key, or a Go-syntax fallback when
// the key cannot be serialized.
func (k Key) String() string {
	h, err := Hash(k)
	if err != nil {
		return fmt.Sprintf("%#v", []any(k))
	}
	return h
}

// Hash returns the canonical serialization of the key.
//
// Nested object fields are sorted before serialization, so {a:1,b:2} and
// {b:2,a:1} hash identically. Numbers are normalized through JSON, so 1 and
// 1.0 are the same segment. Two keys with the same serialization are the same
// key; no further collision handling is done.
func Hash(k Key) (string, error) {
	if len(k) == 0 {
		return "", ErrEmptyKey
	}
	normalized, err := normalize(k)
	if err != nil {
		return "", err
	}
	canonical, err := canonicalize(normalized)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return string(canonical), nil
}

// MustHash is like Hash but panics on an invalid key.
func MustHash(k Key) string {
	h, err := Hash(k)
	if err != nil {
		panic(err)
	}
	return h
}

// Validate reports whether k can address a cache entry.
func Validate(k Key) error {
	_, err := Hash(k)
	return err
}

// Equal reports whether a and b are structurally equal.
// Invalid keys are never equal to anything.
func Equal(a, b Key) bool {
	ha, err := Hash(a)
	if err != nil {
		return false
	}
	hb, err := Hash(b)
	if err != nil {
		return false
	}
	return ha == hb
}

// Matches reports whether candidate is selected by filter.
//
// With exact set, the keys must be structurally equal. Otherwise filter must
// be a segment prefix of candidate, with each filter segment structurally
// equal to the candidate segment at the same position. An empty filter
// selects every key when exact is false.
func Matches(candidate, filter Key, exact bool) bool {
	if exact {
		return Equal(candidate, filter)
	}
	if len(filter) > len(candidate) {
		return false
	}
	for i := range filter {
		if !segmentEqual(candidate[i], filter[i]) {
			return false
		}
	}
	return true
}

func segmentEqual(a, b any) bool {
	na, err := normalize(a)
	if err != nil {
		return false
	}
	nb, err := normalize(b)
	if err != nil {
		return false
	}
	ca, err := canonicalize(na)
	if err != nil {
		return false
	}
	cb, err := canonicalize(nb)
	if err != nil {
		return false
	}
	return string(ca) == string(cb)
}

// normalize round-trips v through JSON so structs, typed maps and typed
// slices collapse to map[string]any, []any, json.Number, string, bool and
// nil. Numbers keep their encoded text, so integers above 2^53 stay distinct.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return out, nil
}

// canonicalize produces a deterministic JSON representation of a normalized
// value. Maps are sorted by key.
func canonicalize(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	default:
		return json.Marshal(v)
	}
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		result = append(result, keyBytes...)
		result = append(result, ':')

		valBytes, err := canonicalize(m[k])
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	return append(result, '}'), nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	result := []byte("[")
	for i, v := range s {
		if i > 0 {
			result = append(result, ',')
		}
		valBytes, err := canonicalize(v)
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	return append(result, ']'), nil
}
