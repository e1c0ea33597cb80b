package pagination

// KeyGenerator produces batch keys in load order.
type KeyGenerator[K comparable] interface {
	// First returns the key of the first batch.
	First() K
	// Next returns the key following prev.
	Next(prev K) K
}

type funcKeys[K comparable] struct {
	first K
	next  func(K) K
}

func (g funcKeys[K]) First() K       { return g.first }
func (g funcKeys[K]) Next(prev K) K { return g.next(prev) }

// Keys builds a KeyGenerator from a first key and a successor function.
func Keys[K comparable](first K, next func(prev K) K) KeyGenerator[K] {
	return funcKeys[K]{first: first, next: next}
}

// PageNumbers returns consecutive integer page keys starting at first.
func PageNumbers(first int) KeyGenerator[int] {
	return Keys(first, func(prev int) int { return prev + 1 })
}
