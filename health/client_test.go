package health

import (
	"context"
	"errors"
	"testing"

	"github.com/jonwraymond/querycache/query"
	"github.com/jonwraymond/querycache/querykey"
)

// seed caches ok successful and failed failing queries.
func seed(t *testing.T, client *query.Client, ok, failed int) {
	t.Helper()
	ctx := context.Background()
	for i := range ok {
		_, err := client.FetchQuery(ctx, query.QueryOptions{
			QueryKey: querykey.New("ok", i),
			QueryFn:  func(context.Context, querykey.Key) (any, error) { return i, nil },
		})
		if err != nil {
			t.Fatalf("FetchQuery(ok %d) error = %v", i, err)
		}
	}
	for i := range failed {
		_, err := client.FetchQuery(ctx, query.QueryOptions{
			QueryKey: querykey.New("bad", i),
			QueryFn: func(context.Context, querykey.Key) (any, error) {
				return nil, errors.New("upstream down")
			},
		})
		if err == nil {
			t.Fatalf("FetchQuery(bad %d) succeeded, want error", i)
		}
	}
}

func TestClientChecker_Defaults(t *testing.T) {
	c := NewClientChecker(query.NewClient(query.ClientConfig{}), ClientCheckerConfig{})
	if c.Name() != "querycache" {
		t.Errorf("Name() = %q, want %q", c.Name(), "querycache")
	}
	if c.cfg.WarningThreshold != 0.25 || c.cfg.CriticalThreshold != 0.5 {
		t.Errorf("thresholds = %v/%v, want 0.25/0.5", c.cfg.WarningThreshold, c.cfg.CriticalThreshold)
	}
}

func TestClientChecker_Status(t *testing.T) {
	tests := []struct {
		name    string
		ok      int
		failed  int
		offline bool
		min     int
		want    Status
	}{
		{name: "empty cache", want: StatusHealthy},
		{name: "all succeeded", ok: 4, want: StatusHealthy},
		{name: "below warning", ok: 4, failed: 1, want: StatusHealthy},
		{name: "above warning", ok: 2, failed: 1, want: StatusDegraded},
		{name: "above critical", ok: 1, failed: 2, want: StatusUnhealthy},
		{name: "too few queries", ok: 1, failed: 2, min: 10, want: StatusHealthy},
		{name: "offline", ok: 2, offline: true, want: StatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := query.NewClient(query.ClientConfig{})
			seed(t, client, tt.ok, tt.failed)
			if tt.offline {
				client.OnlineManager().SetOnline(false)
			}

			c := NewClientChecker(client, ClientCheckerConfig{MinQueries: tt.min})
			r := c.Check(context.Background())
			if r.Status != tt.want {
				t.Fatalf("Check().Status = %v (%s), want %v", r.Status, r.Message, tt.want)
			}
			if r.Details["queries"] != tt.ok+tt.failed {
				t.Errorf("queries = %v, want %d", r.Details["queries"], tt.ok+tt.failed)
			}
			if r.Details["errored"] != tt.failed {
				t.Errorf("errored = %v, want %d", r.Details["errored"], tt.failed)
			}
			if r.Details["online"] != !tt.offline {
				t.Errorf("online = %v, want %v", r.Details["online"], !tt.offline)
			}
			if tt.offline && !errors.Is(r.Error, ErrOffline) {
				t.Errorf("Error = %v, want ErrOffline", r.Error)
			}
		})
	}
}

func TestClientChecker_CancelledContext(t *testing.T) {
	c := NewClientChecker(query.NewClient(query.ClientConfig{}), ClientCheckerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if r := c.Check(ctx); r.Status != StatusUnhealthy {
		t.Errorf("Check().Status = %v, want unhealthy", r.Status)
	}
}
