package health

import (
	"context"
	"errors"
	"testing"
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusHealthy, "healthy"},
		{StatusDegraded, "degraded"},
		{StatusUnhealthy, "unhealthy"},
		{Status(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestResultConstructors(t *testing.T) {
	cause := errors.New("boom")

	if r := Healthy("ok"); r.Status != StatusHealthy || r.Message != "ok" || r.Timestamp.IsZero() {
		t.Errorf("Healthy() = %+v", r)
	}
	if r := Degraded("slow"); r.Status != StatusDegraded || r.Error != nil {
		t.Errorf("Degraded() = %+v", r)
	}
	r := Unhealthy("down", cause).WithDetails(map[string]any{"k": 1})
	if r.Status != StatusUnhealthy || !errors.Is(r.Error, cause) {
		t.Errorf("Unhealthy() = %+v", r)
	}
	if r.Details["k"] != 1 {
		t.Errorf("Details = %v, want k=1", r.Details)
	}
}

func TestCheckerFunc(t *testing.T) {
	c := NewCheckerFunc("db", func(context.Context) Result { return Degraded("lagging") })
	if c.Name() != "db" {
		t.Errorf("Name() = %q, want %q", c.Name(), "db")
	}
	if got := c.Check(context.Background()); got.Status != StatusDegraded {
		t.Errorf("Check().Status = %v, want degraded", got.Status)
	}
}
