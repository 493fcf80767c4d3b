package querykey

import "testing"

func TestFactory_Hierarchy(t *testing.T) {
	posts := NewFactory("posts")

	if posts.Table() != "posts" {
		t.Errorf("Table() = %q", posts.Table())
	}

	list := posts.List(map[string]any{"status": "published"})
	detail := posts.Detail(42)

	for _, k := range []Key{posts.Lists(), list, posts.Details(), detail} {
		if !Matches(k, posts.All(), false) {
			t.Errorf("All() should prefix-match %v", k)
		}
	}
	if !Matches(list, posts.Lists(), false) {
		t.Errorf("Lists() should prefix-match %v", list)
	}
	if Matches(detail, posts.Lists(), false) {
		t.Errorf("Lists() should not match a detail key")
	}
	if !Matches(detail, posts.Details(), false) {
		t.Errorf("Details() should prefix-match %v", detail)
	}
	if Matches(NewFactory("users").All(), posts.All(), false) {
		t.Errorf("different tables should not match")
	}
}

func TestFactory_NilFilters(t *testing.T) {
	posts := NewFactory("posts")
	if !Equal(posts.List(nil), posts.Lists()) {
		t.Errorf("List(nil) should equal Lists()")
	}
}
