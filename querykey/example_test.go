package querykey_test

import (
	"fmt"

	"github.com/jonwraymond/querycache/querykey"
)

func ExampleHash() {
	a, _ := querykey.Hash(querykey.New("todos", map[string]any{"page": 1, "done": false}))
	b, _ := querykey.Hash(querykey.New("todos", map[string]any{"done": false, "page": 1.0}))
	fmt.Println(a)
	fmt.Println(a == b)
	// Output:
	// ["todos",{"done":false,"page":1}]
	// true
}

func ExampleMatches() {
	filter := querykey.New("todos")
	fmt.Println(querykey.Matches(querykey.New("todos", "list"), filter, false))
	fmt.Println(querykey.Matches(querykey.New("todos", "list"), filter, true))
	fmt.Println(querykey.Matches(querykey.New("users"), filter, false))
	// Output:
	// true
	// false
	// false
}

func ExampleFactory() {
	todos := querykey.NewFactory("todos")
	fmt.Println(todos.All())
	fmt.Println(todos.Lists())
	// Output:
	// ["todos"]
	// ["todos","list"]
}
