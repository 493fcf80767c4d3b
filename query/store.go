package query

// Store is the external-store contract UI bindings adapt to: subscribe to
// change notifications and read the current snapshot.
type Store[T any] interface {
	Subscribe(listener func(T)) (unsubscribe func())
	GetSnapshot() T
}
