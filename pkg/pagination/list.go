package pagination

// ListState is the flattened view of a BatchingState consumed by list screens
// and HTTP handlers.
type ListState[T any] struct {
	Items       []T
	Status      PaginationStatus
	CanLoadMore bool
	// Loading is true while any batch is being fetched.
	Loading bool
	// Errors holds the errors of failed batches in batch order.
	Errors []error
}

// Flatten concatenates the items of every loaded batch in batch order.
func Flatten[K comparable, D any, T any](state BatchingState[K, D], itemsOf func(D) []T) ListState[T] {
	list := ListState[T]{
		Items:       []T{},
		Status:      state.Status,
		CanLoadMore: state.CanLoadMore,
	}

	for _, b := range state.Batches {
		switch b.Status {
		case BatchLoaded:
			list.Items = append(list.Items, itemsOf(b.Data)...)
		case BatchLoading:
			list.Loading = true
		case BatchFailed:
			list.Errors = append(list.Errors, b.Err)
		}
	}

	return list
}

// FlattenUnique is Flatten that keeps only the first occurrence of every id.
// Offset-paged sources repeat items when the underlying data shifts between
// two fetches.
func FlattenUnique[K comparable, D any, T any, ID comparable](state BatchingState[K, D], itemsOf func(D) []T, idOf func(T) ID) ListState[T] {
	list := Flatten(state, itemsOf)

	seen := make(map[ID]struct{}, len(list.Items))
	unique := list.Items[:0]
	for _, item := range list.Items {
		id := idOf(item)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, item)
	}
	list.Items = unique

	return list
}
