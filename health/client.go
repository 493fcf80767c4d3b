package health

import (
	"context"
	"fmt"

	"github.com/jonwraymond/querycache/query"
)

// ClientCheckerConfig configures a ClientChecker.
type ClientCheckerConfig struct {
	// Name of the check. Default: "querycache".
	Name string

	// WarningThreshold is the errored-query ratio above which the client
	// is degraded. Default: 0.25.
	WarningThreshold float64

	// CriticalThreshold is the errored-query ratio above which the client
	// is unhealthy. Default: 0.5.
	CriticalThreshold float64

	// MinQueries is the number of cached queries required before ratios
	// are evaluated.
	MinQueries int
}

// ClientChecker reports the health of a query.Client.
//
// The client is degraded while its OnlineManager reports offline or when
// the share of cached queries in error status exceeds WarningThreshold, and
// unhealthy when that share exceeds CriticalThreshold.
type ClientChecker struct {
	client *query.Client
	cfg    ClientCheckerConfig
}

// NewClientChecker returns a checker for client.
func NewClientChecker(client *query.Client, cfg ClientCheckerConfig) *ClientChecker {
	if cfg.Name == "" {
		cfg.Name = "querycache"
	}
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = 0.25
	}
	if cfg.CriticalThreshold <= 0 {
		cfg.CriticalThreshold = 0.5
	}
	return &ClientChecker{client: client, cfg: cfg}
}

func (c *ClientChecker) Name() string { return c.cfg.Name }

func (c *ClientChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("check cancelled", err)
	}

	queries := c.client.QueryCache().All()
	errored := 0
	for _, q := range queries {
		if q.State().Status == query.StatusError {
			errored++
		}
	}
	online := c.client.OnlineManager().IsOnline()

	details := map[string]any{
		"queries":  len(queries),
		"errored":  errored,
		"fetching": c.client.IsFetching(query.QueryFilters{}),
		"mutating": c.client.IsMutating(query.MutationFilters{}),
		"online":   online,
	}

	var ratio float64
	if len(queries) > 0 && len(queries) >= c.cfg.MinQueries {
		ratio = float64(errored) / float64(len(queries))
		details["error_ratio"] = ratio
	}

	var r Result
	switch {
	case ratio > c.cfg.CriticalThreshold:
		r = Unhealthy(fmt.Sprintf("%d of %d queries failed", errored, len(queries)), nil)
	case ratio > c.cfg.WarningThreshold:
		r = Degraded(fmt.Sprintf("%d of %d queries failed", errored, len(queries)))
	case !online:
		r = Degraded("client offline")
		r.Error = ErrOffline
	default:
		r = Healthy("ok")
	}
	return r.WithDetails(details)
}

var _ Checker = (*ClientChecker)(nil)
