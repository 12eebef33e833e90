// Package batch contains [Batch], the immutable unit of items moved between producers and
// consumers, together with the type registry and the wire encodings of a batch.
package batch

import (
	"fmt"
	"reflect"
	"slices"
)

// Batch is an immutable, homogeneous chunk of items.
//
// The zero value is an empty batch. A non-empty batch holds at least one item of exactly one
// type. Copies of a Batch share the same storage, which is never modified after [Make]
// returns, so a Batch can be passed between goroutines and read concurrently without locking.
type Batch struct {
	data *data
}

type data struct {
	typ   reflect.Type
	items any // []T
	size  int
}

// Make returns a batch holding a copy of items. An empty items slice yields the empty batch.
func Make[T any](items []T) Batch {
	if len(items) == 0 {
		return Batch{}
	}
	return Batch{
		data: &data{
			typ:   reflect.TypeFor[T](),
			items: slices.Clone(items),
			size:  len(items),
		},
	}
}

// Items returns a view of the items stored in b without copying. The returned slice must not
// be modified.
//
// Items panics if b holds items of a type other than T. It returns nil for the empty batch.
func Items[T any](b Batch) []T {
	items, ok := TryItems[T](b)
	if !ok {
		panic(fmt.Sprintf("batch holds %s, not %s", b.data.typ, reflect.TypeFor[T]()))
	}
	return items
}

// TryItems is like [Items] but reports a type mismatch instead of panicking.
func TryItems[T any](b Batch) ([]T, bool) {
	if b.data == nil {
		return nil, true
	}
	items, ok := b.data.items.([]T)
	return items, ok
}

// Size returns the number of items in b.
func (b Batch) Size() int {
	if b.data == nil {
		return 0
	}
	return b.data.size
}

// Empty reports whether b holds no items.
func (b Batch) Empty() bool {
	return b.data == nil
}

// Type returns the item type of b, or nil for the empty batch.
func (b Batch) Type() reflect.Type {
	if b.data == nil {
		return nil
	}
	return b.data.typ
}

// TypeName returns the registered name of the item type of b. It returns an empty string for
// the empty batch and for unregistered types.
func (b Batch) TypeName() string {
	if b.data == nil {
		return ""
	}
	if e, ok := lookupType(b.data.typ); ok {
		return e.name
	}
	return ""
}

// Equal reports whether b and other hold equal items of the same type.
func (b Batch) Equal(other Batch) bool {
	if b.data == other.data {
		return true
	}
	if b.Empty() || other.Empty() {
		return b.Empty() == other.Empty()
	}
	return b.data.typ == other.data.typ && reflect.DeepEqual(b.data.items, other.data.items)
}

func (b Batch) String() string {
	if b.data == nil {
		return "batch[]"
	}
	return fmt.Sprintf("batch[%s]%v", b.data.typ, b.data.items)
}
