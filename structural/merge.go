package structural

import "reflect"

// InfiniteData is the cached shape of a paginated query: one entry in Pages
// per fetched page and the parameter that fetched it in PageParams.
type InfiniteData struct {
	Pages      []any
	PageParams []any
}

// Merge returns next with every subtree that is deep-equal to the matching
// subtree of prev replaced by prev's subtree.
//
// When prev and next are deep-equal the result is prev itself. Slices of
// different lengths are not merged element-wise; next is returned unchanged.
func Merge(prev, next any) any {
	if Identical(prev, next) {
		return prev
	}

	switch n := next.(type) {
	case map[string]any:
		p, ok := prev.(map[string]any)
		if !ok || p == nil || n == nil {
			return next
		}
		return mergeMap(p, n)

	case []any:
		p, ok := prev.([]any)
		if !ok || p == nil || n == nil || len(p) != len(n) {
			return next
		}
		return mergeSlice(p, n)

	case InfiniteData:
		p, ok := prev.(InfiniteData)
		if !ok {
			return next
		}
		return mergeInfinite(p, n)

	default:
		if reflect.DeepEqual(prev, next) {
			return prev
		}
		return next
	}
}

func mergeMap(prev, next map[string]any) any {
	out := make(map[string]any, len(next))
	reused := 0
	for k, nv := range next {
		pv, ok := prev[k]
		if !ok {
			out[k] = nv
			continue
		}
		merged := Merge(pv, nv)
		out[k] = merged
		if Identical(merged, pv) {
			reused++
		}
	}
	if reused == len(next) && len(prev) == len(next) {
		return prev
	}
	return out
}

func mergeSlice(prev, next []any) any {
	out := make([]any, len(next))
	reused := 0
	for i := range next {
		merged := Merge(prev[i], next[i])
		out[i] = merged
		if Identical(merged, prev[i]) {
			reused++
		}
	}
	if reused == len(next) {
		return prev
	}
	return out
}

// mergeInfinite merges page by page. Pages beyond prev's length are new and
// kept as they are.
func mergeInfinite(prev, next InfiniteData) any {
	pages, pagesSame := mergePages(prev.Pages, next.Pages)
	params, paramsSame := mergePages(prev.PageParams, next.PageParams)
	if pagesSame && paramsSame {
		return prev
	}
	return InfiniteData{Pages: pages, PageParams: params}
}

func mergePages(prev, next []any) ([]any, bool) {
	if next == nil {
		return nil, prev == nil
	}
	out := make([]any, len(next))
	reused := 0
	for i := range next {
		if i >= len(prev) {
			out[i] = next[i]
			continue
		}
		out[i] = Merge(prev[i], next[i])
		if Identical(out[i], prev[i]) {
			reused++
		}
	}
	if prev != nil && reused == len(next) && len(prev) == len(next) {
		return prev, true
	}
	return out, false
}

// Identical reports whether a and b are the same value: the same map, slice,
// pointer, channel or function, or equal comparable values. Non-comparable
// values of other kinds (structs holding slices, arrays of maps) fall back to
// reflect.DeepEqual.
func Identical(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}

	switch va.Kind() {
	case reflect.Map, reflect.Pointer, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	}

	if va.Type().Comparable() {
		return comparableEqual(a, b)
	}
	return reflect.DeepEqual(a, b)
}

// comparableEqual compares with == and treats a runtime panic (an interface
// field holding an uncomparable value) as a DeepEqual fallback.
func comparableEqual(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = reflect.DeepEqual(a, b)
		}
	}()
	return a == b
}

// DeepEqual reports whether a and b are deeply equal.
func DeepEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
