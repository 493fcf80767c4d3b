package observe

import "errors"

var (
	ErrMissingServiceName     = errors.New("observe: service name is required")
	ErrInvalidSamplePct       = errors.New("observe: sample percentage must be between 0.0 and 1.0")
	ErrInvalidTracingExporter = errors.New("observe: invalid tracing exporter")
	ErrInvalidMetricsExporter = errors.New("observe: invalid metrics exporter")
	ErrInvalidLogLevel        = errors.New("observe: invalid log level")

	// ErrNilObserver is returned by MiddlewareFromObserver for a nil Observer.
	ErrNilObserver = errors.New("observe: observer is nil")

	// ErrPanicked wraps the value recovered from a panicking wrapped func.
	ErrPanicked = errors.New("observe: function panicked")
)

// Sampling bounds for TracingConfig.SamplePct.
const (
	MinSamplePct = 0.0
	MaxSamplePct = 1.0
)

// ValidLogLevels lists the accepted LoggingConfig.Level values. Empty means
// info.
var ValidLogLevels = []string{"debug", "info", "warn", "error", ""}

// RedactedFields lists log field keys whose values are replaced with
// "[REDACTED]". Mutation variables and fetched rows may carry user data.
var RedactedFields = []string{
	"variables",
	"data",
	"password",
	"secret",
	"token",
	"api_key",
	"apiKey",
	"credential",
}
