package batch

// Builder accumulates loose items until they are turned into a [Batch].
//
// Builders are not safe for concurrent use.
type Builder[T any] struct {
	items []T
}

// NewBuilder returns a builder with room for size items.
func NewBuilder[T any](size int) *Builder[T] {
	return &Builder[T]{
		items: make([]T, 0, max(size, 0)),
	}
}

// Push appends items to the builder.
func (b *Builder[T]) Push(items ...T) {
	b.items = append(b.items, items...)
}

// Size returns the number of accumulated items.
func (b *Builder[T]) Size() int {
	return len(b.items)
}

// Build returns a batch holding a copy of the accumulated items. The builder keeps its items
// until [Builder.Reset] is called.
func (b *Builder[T]) Build() Batch {
	return Make(b.items)
}

// Reset drops all accumulated items and keeps the allocated storage.
func (b *Builder[T]) Reset() {
	clear(b.items)
	b.items = b.items[:0]
}
