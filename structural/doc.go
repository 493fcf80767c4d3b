// Package structural implements structural sharing for cached values.
//
// Merge returns a value deep-equal to the new value while reusing every
// subtree of the old value that did not change. Consumers that compare
// results by identity (to skip recomputation or re-rendering) see the same
// map or slice for unchanged data even after a refetch produced a fresh
// decode of it.
//
// Merge understands the generic JSON shapes map[string]any and []any, plus
// InfiniteData for paginated results where every page is merged on its own.
// Any other type is compared with reflect.DeepEqual as a whole.
package structural
