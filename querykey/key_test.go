package querykey

import (
	"errors"
	"math"
	"testing"
)

func TestHash_DeterministicForMaps(t *testing.T) {
	k1 := Key{"posts", map[string]any{"b": 2, "a": 1, "c": 3}}
	k2 := Key{"posts", map[string]any{"a": 1, "c": 3, "b": 2}}

	h1, err := Hash(k1)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	h2, err := Hash(k2)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if h1 != h2 {
		t.Errorf("hashes should be equal for same content:\n  h1=%s\n  h2=%s", h1, h2)
	}
	if want := `["posts",{"a":1,"b":2,"c":3}]`; h1 != want {
		t.Errorf("Hash() = %s, want %s", h1, want)
	}
}

func TestHash_NestedMaps(t *testing.T) {
	k1 := Key{map[string]any{
		"outer": map[string]any{"z": 26, "a": 1, "m": 13},
		"other": "value",
	}}
	k2 := Key{map[string]any{
		"other": "value",
		"outer": map[string]any{"a": 1, "m": 13, "z": 26},
	}}

	if MustHash(k1) != MustHash(k2) {
		t.Errorf("nested maps with same content should hash equally")
	}
}

func TestHash_SegmentOrderMatters(t *testing.T) {
	if MustHash(Key{"posts", 1}) == MustHash(Key{1, "posts"}) {
		t.Errorf("segment order should change the hash")
	}
	if MustHash(Key{"posts", []any{1, 2}}) == MustHash(Key{"posts", []any{2, 1}}) {
		t.Errorf("array order should change the hash")
	}
}

func TestHash_NumbersNormalized(t *testing.T) {
	if MustHash(Key{"posts", 1}) != MustHash(Key{"posts", 1.0}) {
		t.Errorf("1 and 1.0 should hash identically")
	}
	if MustHash(Key{"posts", int64(7)}) != MustHash(Key{"posts", uint8(7)}) {
		t.Errorf("integer widths should hash identically")
	}
}

func TestHash_LargeIntegersDistinct(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		same bool
	}{
		{"adjacent above 2^53", int64(9007199254740992), int64(9007199254740993), false},
		{"snowflake ids", uint64(1541815603606036480), uint64(1541815603606036481), false},
		{"max int64 widths", int64(9223372036854775807), uint64(9223372036854775807), true},
		{"small int and float", 42, 42.0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ka := NewFactory("posts").Detail(tc.a)
			kb := NewFactory("posts").Detail(tc.b)
			if got := MustHash(ka) == MustHash(kb); got != tc.same {
				t.Errorf("hash equal = %v, want %v (%s vs %s)", got, tc.same, MustHash(ka), MustHash(kb))
			}
			if got := Equal(ka, kb); got != tc.same {
				t.Errorf("Equal() = %v, want %v", got, tc.same)
			}
		})
	}
	if got, want := MustHash(Key{"posts", "detail", int64(9007199254740993)}), `["posts","detail",9007199254740993]`; got != want {
		t.Errorf("Hash() = %s, want %s", got, want)
	}
}

func TestHash_StructsAndMapsEquivalent(t *testing.T) {
	type filter struct {
		Status string `json:"status"`
		Page   int    `json:"page"`
	}

	k1 := Key{"posts", filter{Status: "draft", Page: 2}}
	k2 := Key{"posts", map[string]any{"page": 2, "status": "draft"}}

	if MustHash(k1) != MustHash(k2) {
		t.Errorf("struct and map with the same fields should hash identically:\n  %s\n  %s", MustHash(k1), MustHash(k2))
	}
}

func TestHash_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want error
	}{
		{name: "nil", key: nil, want: ErrEmptyKey},
		{name: "empty", key: Key{}, want: ErrEmptyKey},
		{name: "func segment", key: Key{"posts", func() {}}, want: ErrInvalidKey},
		{name: "chan segment", key: Key{make(chan int)}, want: ErrInvalidKey},
		{name: "NaN segment", key: Key{math.NaN()}, want: ErrInvalidKey},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Hash(tc.key)
			if !errors.Is(err, tc.want) {
				t.Errorf("Hash() error = %v, want %v", err, tc.want)
			}
			if err := Validate(tc.key); !errors.Is(err, tc.want) {
				t.Errorf("Validate() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestMustHash_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("MustHash should panic on an empty key")
		}
	}()
	MustHash(nil)
}

func TestEqual(t *testing.T) {
	if !Equal(Key{"users", map[string]any{"id": 1}}, Key{"users", map[string]any{"id": 1.0}}) {
		t.Errorf("structurally equal keys should be Equal")
	}
	if Equal(Key{"users"}, Key{"users", 1}) {
		t.Errorf("prefix should not be Equal")
	}
	if Equal(nil, nil) {
		t.Errorf("invalid keys should never be Equal")
	}
}

func TestMatches(t *testing.T) {
	posts := Key{"posts"}
	post1 := Key{"posts", 1}
	postsDraft := Key{"posts", map[string]any{"status": "draft", "page": 1}}
	users := Key{"users"}

	tests := []struct {
		name      string
		candidate Key
		filter    Key
		exact     bool
		want      bool
	}{
		{"prefix self", posts, posts, false, true},
		{"prefix child", post1, posts, false, true},
		{"prefix other table", users, posts, false, false},
		{"prefix longer filter", posts, post1, false, false},
		{"empty filter matches all", users, nil, false, true},
		{"exact self", posts, posts, true, true},
		{"exact child", post1, posts, true, false},
		{"exact empty filter", posts, nil, true, false},
		{"structural segment", postsDraft, Key{"posts", map[string]any{"page": 1, "status": "draft"}}, false, true},
		{"partial object segment", postsDraft, Key{"posts", map[string]any{"status": "draft"}}, false, false},
		{"numeric normalization", post1, Key{"posts", 1.0}, false, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Matches(tc.candidate, tc.filter, tc.exact); got != tc.want {
				t.Errorf("Matches(%v, %v, %v) = %v, want %v", tc.candidate, tc.filter, tc.exact, got, tc.want)
			}
		})
	}
}

func TestKey_AppendCopies(t *testing.T) {
	base := make(Key, 1, 4)
	base[0] = "posts"

	a := base.Append("a")
	b := base.Append("b")

	if a[1] != "a" || b[1] != "b" {
		t.Errorf("Append should not share backing arrays: a=%v b=%v", a, b)
	}
}

func TestKey_String(t *testing.T) {
	if got := New("posts", 1).String(); got != `["posts",1]` {
		t.Errorf("String() = %s", got)
	}
	if got := (Key{}).String(); got != "[]interface {}{}" {
		t.Errorf("String() fallback = %s", got)
	}
}
