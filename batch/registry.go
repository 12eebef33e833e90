package batch

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// entry describes how batches of one registered item type are decoded and encoded.
type entry struct {
	name string
	typ  reflect.Type

	decodeJSON func(raw []json.RawMessage) (Batch, error)
	appendMsgp func(dst []byte, items any) ([]byte, error)
	readMsgp   func(src []byte) (Batch, []byte, error)
	encodeGob  func(enc *gob.Encoder, items any) error
	decodeGob  func(dec *gob.Decoder) (Batch, error)
}

var registry = struct {
	mu     sync.RWMutex
	byName map[string]*entry
	byType map[reflect.Type]*entry
}{
	byName: make(map[string]*entry),
	byType: make(map[reflect.Type]*entry),
}

func init() {
	Register[bool]("bool")
	Register[int]("int")
	Register[int8]("int8")
	Register[int16]("int16")
	Register[int32]("int32")
	Register[int64]("int64")
	Register[uint]("uint")
	Register[uint8]("uint8")
	Register[uint16]("uint16")
	Register[uint32]("uint32")
	Register[uint64]("uint64")
	Register[float32]("float32")
	Register[float64]("float64")
	Register[string]("string")
	Register[[]byte]("bytes")
}

// Register makes batches of T encodable and decodable under name.
//
// Registering the same type under the same name again is a no-op. Register panics if name is
// blank, or if either the name or the type is already registered with a different
// counterpart.
func Register[T any](name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		panic("name can't be blank")
	}

	typ := reflect.TypeFor[T]()

	registry.mu.Lock()
	defer registry.mu.Unlock()

	if e, ok := registry.byName[name]; ok {
		if e.typ != typ {
			panic(fmt.Sprintf("name %q is already registered for %s", name, e.typ))
		}
		return
	}
	if e, ok := registry.byType[typ]; ok {
		panic(fmt.Sprintf("type %s is already registered as %q", typ, e.name))
	}

	e := &entry{
		name:       name,
		typ:        typ,
		decodeJSON: decodeJSON[T],
		readMsgp:   readMsgpItems[T],
		decodeGob:  decodeGob[T],
		appendMsgp: func(dst []byte, items any) ([]byte, error) {
			return appendMsgpItems(dst, items.([]T))
		},
		encodeGob: func(enc *gob.Encoder, items any) error {
			return enc.Encode(items.([]T))
		},
	}
	registry.byName[name] = e
	registry.byType[typ] = e
}

// Registered reports whether a type is registered under name.
func Registered(name string) bool {
	_, ok := lookupName(name)
	return ok
}

// NameOf returns the name T is registered under.
func NameOf[T any]() (string, bool) {
	e, ok := lookupType(reflect.TypeFor[T]())
	if !ok {
		return "", false
	}
	return e.name, true
}

func lookupName(name string) (*entry, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	e, ok := registry.byName[name]
	return e, ok
}

func lookupType(typ reflect.Type) (*entry, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	e, ok := registry.byType[typ]
	return e, ok
}

func decodeJSON[T any](raw []json.RawMessage) (Batch, error) {
	items := make([]T, len(raw))
	for i, r := range raw {
		if err := json.Unmarshal(r, &items[i]); err != nil {
			return Batch{}, fmt.Errorf("%w: item %d: %w", ErrConversion, i, err)
		}
	}
	return fromOwned(items), nil
}

func decodeGob[T any](dec *gob.Decoder) (Batch, error) {
	var items []T
	if err := dec.Decode(&items); err != nil {
		return Batch{}, fmt.Errorf("%w: %w", ErrConversion, err)
	}
	return fromOwned(items), nil
}

// fromOwned wraps items that nobody else references into a batch without copying.
func fromOwned[T any](items []T) Batch {
	if len(items) == 0 {
		return Batch{}
	}
	return Batch{
		data: &data{
			typ:   reflect.TypeFor[T](),
			items: items,
			size:  len(items),
		},
	}
}
