// Package health reports the health of a query client.
//
// A Checker produces a Result with one of three statuses: healthy, degraded
// or unhealthy. ClientChecker derives the status of a query.Client from the
// share of its queries that ended in an error and from connectivity.
// Aggregator runs several checkers concurrently and folds their results
// into one overall status, which Handler serves as JSON.
//
//	agg := health.NewAggregator(health.AggregatorConfig{})
//	agg.Register(health.NewClientChecker(client, health.ClientCheckerConfig{}))
//	http.Handle("/health", health.Handler(agg))
package health
