package health

import (
	"encoding/json"
	"net/http"
	"time"
)

// Report is the JSON body served by Handler.
type Report struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Checks    map[string]CheckReport `json:"checks,omitempty"`
}

// CheckReport is one checker's entry in a Report.
type CheckReport struct {
	Status   string         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// NewReport builds a Report from CheckAll results.
func NewReport(results map[string]Result) Report {
	report := Report{
		Status:    Overall(results).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    make(map[string]CheckReport, len(results)),
	}
	for name, r := range results {
		cr := CheckReport{
			Status:   r.Status.String(),
			Message:  r.Message,
			Duration: r.Duration.String(),
			Details:  r.Details,
		}
		if r.Error != nil {
			cr.Error = r.Error.Error()
		}
		report.Checks[name] = cr
	}
	return report
}

// Handler serves the aggregated Report as JSON. The query parameter
// "check" restricts the report to one checker. Unhealthy reports are
// served with 503.
func Handler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var results map[string]Result
		if name := r.URL.Query().Get("check"); name != "" {
			res, err := agg.Check(r.Context(), name)
			if err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			results = map[string]Result{name: res}
		} else {
			results = agg.CheckAll(r.Context())
		}

		code := http.StatusOK
		if Overall(results) == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(NewReport(results))
	}
}
