// Package observe provides observability primitives for the query cache.
//
// It is a pure instrumentation library: no caching, no transport, no I/O
// beyond exporter setup. The query client accepts a Logger for its own
// diagnostics and a Middleware that traces, meters and logs every query
// function attempt and mutation execution.
package observe
