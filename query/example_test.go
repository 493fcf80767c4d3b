package query_test

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jonwraymond/querycache/query"
	"github.com/jonwraymond/querycache/querykey"
)

func ExampleClient_FetchQuery() {
	client := query.NewClient(query.ClientConfig{})
	calls := 0
	opts := query.QueryOptions{
		QueryKey: querykey.New("todos"),
		QueryFn: func(ctx context.Context, key querykey.Key) (any, error) {
			calls++
			return []any{"buy milk"}, nil
		},
		StaleTime: time.Minute,
	}

	first, _ := client.FetchQuery(context.Background(), opts)
	second, _ := client.FetchQuery(context.Background(), opts)
	fmt.Println(first, second, calls)
	// Output:
	// [buy milk] [buy milk] 1
}

func ExampleClient_SetQueryData() {
	client := query.NewClient(query.ClientConfig{})
	key := querykey.New("counter")

	_, _ = client.SetQueryData(key, query.Value(1))
	_, _ = client.SetQueryData(key, func(old any) any { return old.(int) + 1 })

	data, ok := client.GetQueryData(key)
	fmt.Println(data, ok)
	// Output:
	// 2 true
}

func ExampleClient_InvalidateQueries() {
	client := query.NewClient(query.ClientConfig{})
	_, _ = client.SetQueryData(querykey.New("todos", "list"), query.Value("cached"))

	calls := 0
	obs, err := query.NewQueryObserver(client, query.QueryObserverOptions{
		QueryOptions: query.QueryOptions{
			QueryKey: querykey.New("todos", "list"),
			QueryFn: func(ctx context.Context, key querykey.Key) (any, error) {
				calls++
				return "refetched", nil
			},
			StaleTime: time.Hour,
		},
	})
	if err != nil {
		fmt.Println(err)
		return
	}
	defer obs.Subscribe(func(query.QueryObserverResult) {})()

	// The prefix selects every todos query; the active one is refetched.
	err = client.InvalidateQueries(context.Background(),
		query.QueryFilters{QueryKey: querykey.New("todos")}, query.InvalidateOptions{})
	data, _ := client.GetQueryData(querykey.New("todos", "list"))
	fmt.Println(data, calls, err)
	// Output:
	// refetched 1 <nil>
}

func ExampleMutationObserver_MutateAsync() {
	client := query.NewClient(query.ClientConfig{})
	key := querykey.New("todos")
	_, _ = client.SetQueryData(key, query.Value([]any{"a"}))

	mo, err := query.NewMutationObserver(client, query.MutationOptions{
		MutationFn: func(ctx context.Context, vars any) (any, error) {
			return vars, nil
		},
		OptimisticUpdates: []query.OptimisticUpdate{{
			QueryKey: key,
			Update: func(old, vars any) any {
				return append(slices.Clone(old.([]any)), vars)
			},
		}},
	})
	if err != nil {
		fmt.Println(err)
		return
	}

	saved, err := mo.MutateAsync(context.Background(), "b")
	data, _ := client.GetQueryData(key)
	fmt.Println(saved, err, data)
	// Output:
	// b <nil> [a b]
}
