package observe_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonwraymond/querycache/observe"
)

func ExampleConfig_Validate() {
	cfg := observe.Config{
		Tracing: observe.TracingConfig{Enabled: true, Exporter: "stdout", SamplePct: 1},
	}

	err := cfg.Validate()
	fmt.Println(errors.Is(err, observe.ErrMissingServiceName))
	// Output:
	// true
}

func ExampleOperationMeta_SpanName() {
	meta := observe.OperationMeta{Kind: observe.KindQuery, Scope: "todos"}
	fmt.Println(meta.SpanName())
	// Output:
	// query.exec.todos
}

func ExampleNewMiddleware() {
	mw := observe.NewMiddleware(nil, nil, nil)

	fetch := mw.Wrap(func(ctx context.Context, meta observe.OperationMeta) (any, error) {
		return []string{"a", "b"}, nil
	})

	data, err := fetch(context.Background(), observe.OperationMeta{Kind: observe.KindQuery, Scope: "todos"})
	fmt.Println(data, err)
	// Output:
	// [a b] <nil>
}
