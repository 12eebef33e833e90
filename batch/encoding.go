package batch

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"

	"github.com/tinylib/msgp/msgp"
)

var (
	_ json.Marshaler   = Batch{}
	_ json.Unmarshaler = (*Batch)(nil)
	_ msgp.Marshaler   = Batch{}
	_ msgp.Unmarshaler = (*Batch)(nil)
	_ gob.GobEncoder   = Batch{}
	_ gob.GobDecoder   = (*Batch)(nil)
)

const (
	fieldType  = "type"
	fieldItems = "items"
)

type jsonBatch struct {
	Type  string            `json:"type,omitempty"`
	Items []json.RawMessage `json:"items,omitempty"`
}

// MarshalJSON encodes b as {"type": <name>, "items": [...]}. The empty batch is encoded as {}.
func (b Batch) MarshalJSON() ([]byte, error) {
	if b.Empty() {
		return []byte("{}"), nil
	}

	e, err := b.entry()
	if err != nil {
		return nil, err
	}

	items, err := json.Marshal(b.data.items)
	if err != nil {
		return nil, err
	}

	return json.Marshal(struct {
		Type  string          `json:"type"`
		Items json.RawMessage `json:"items"`
	}{
		Type:  e.name,
		Items: items,
	})
}

// UnmarshalJSON decodes a batch encoded by [Batch.MarshalJSON].
//
// A missing or empty "items" field yields the empty batch. Non-empty items without a "type"
// fail with [ErrConversion], and a type unknown to the registry fails with [ErrUnsafeType].
func (b *Batch) UnmarshalJSON(data []byte) error {
	var raw jsonBatch
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %w", ErrConversion, err)
	}

	e, err := resolve(raw.Type, len(raw.Items))
	if err != nil || e == nil {
		*b = Batch{}
		return err
	}

	decoded, err := e.decodeJSON(raw.Items)
	if err != nil {
		return err
	}
	*b = decoded
	return nil
}

// MarshalMsg appends the MessagePack encoding of b to dst. The layout mirrors the JSON
// encoding: a map with the keys "type" and "items".
func (b Batch) MarshalMsg(dst []byte) ([]byte, error) {
	if b.Empty() {
		return msgp.AppendMapHeader(dst, 0), nil
	}

	e, err := b.entry()
	if err != nil {
		return nil, err
	}

	dst = msgp.AppendMapHeader(dst, 2)
	dst = msgp.AppendString(dst, fieldType)
	dst = msgp.AppendString(dst, e.name)
	dst = msgp.AppendString(dst, fieldItems)
	return e.appendMsgp(dst, b.data.items)
}

// UnmarshalMsg decodes a batch from the front of src and returns the remaining bytes. It
// follows the same rules as [Batch.UnmarshalJSON].
func (b *Batch) UnmarshalMsg(src []byte) ([]byte, error) {
	fields, src, err := msgp.ReadMapHeaderBytes(src)
	if err != nil {
		return src, fmt.Errorf("%w: %w", ErrConversion, err)
	}

	var (
		name  string
		items []byte
	)
	for range fields {
		var key string
		key, src, err = msgp.ReadStringBytes(src)
		if err != nil {
			return src, fmt.Errorf("%w: read key: %w", ErrConversion, err)
		}
		switch key {
		case fieldType:
			name, src, err = msgp.ReadStringBytes(src)
		case fieldItems:
			start := src
			src, err = msgp.Skip(src)
			items = start[:len(start)-len(src)]
		default:
			src, err = msgp.Skip(src)
		}
		if err != nil {
			return src, fmt.Errorf("%w: read %q: %w", ErrConversion, key, err)
		}
	}

	var size uint32
	if items != nil && !msgp.IsNil(items) {
		size, _, err = msgp.ReadArrayHeaderBytes(items)
		if err != nil {
			return src, fmt.Errorf("%w: read items: %w", ErrConversion, err)
		}
	}

	e, err := resolve(name, int(size))
	if err != nil || e == nil {
		*b = Batch{}
		return src, err
	}

	decoded, _, err := e.readMsgp(items)
	if err != nil {
		return src, err
	}
	*b = decoded
	return src, nil
}

// GobEncode encodes b as its type name followed by its items. The empty batch is encoded as
// an empty type name.
func (b Batch) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	if b.Empty() {
		if err := enc.Encode(""); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	e, err := b.entry()
	if err != nil {
		return nil, err
	}
	if err := enc.Encode(e.name); err != nil {
		return nil, err
	}
	if err := e.encodeGob(enc, b.data.items); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode decodes a batch encoded by [Batch.GobEncode].
func (b *Batch) GobDecode(data []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(data))

	var name string
	if err := dec.Decode(&name); err != nil {
		return fmt.Errorf("%w: %w", ErrConversion, err)
	}
	if name == "" {
		*b = Batch{}
		return nil
	}

	e, ok := lookupName(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsafeType, name)
	}

	decoded, err := e.decodeGob(dec)
	if err != nil {
		return err
	}
	*b = decoded
	return nil
}

func (b Batch) entry() (*entry, error) {
	e, ok := lookupType(b.data.typ)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsafeType, b.data.typ)
	}
	return e, nil
}

// resolve maps a decoded type name to its registry entry. It returns a nil entry and no error
// when the encoding describes the empty batch.
func resolve(name string, size int) (*entry, error) {
	if size == 0 {
		return nil, nil
	}
	if name == "" {
		return nil, fmt.Errorf("%w: items without a type", ErrConversion)
	}
	e, ok := lookupName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsafeType, name)
	}
	return e, nil
}
