package querykey

import "testing"

// BenchmarkHash_Flat measures hashing a key of scalar segments.
func BenchmarkHash_Flat(b *testing.B) {
	k := Key{"posts", "detail", int64(9007199254740993)}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Hash(k)
	}
}

// BenchmarkHash_NestedFilters measures hashing a list key with a filter map.
func BenchmarkHash_NestedFilters(b *testing.B) {
	k := NewFactory("posts").List(map[string]any{
		"status": "draft",
		"page":   3,
		"tags":   []string{"go", "cache"},
		"sort":   map[string]any{"field": "created", "desc": true},
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Hash(k)
	}
}

// BenchmarkMatches_Prefix measures partial-key matching as used by filters.
func BenchmarkMatches_Prefix(b *testing.B) {
	f := NewFactory("posts")
	candidate := f.List(map[string]any{"status": "draft", "page": 3})
	filter := f.Lists()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Matches(candidate, filter, false)
	}
}
