// Package msgp encodes batches as MessagePack maps with the keys "type" and "items".
//
// Items of built-in types are encoded natively. Other registered item types must implement
// msgp.Marshaler and msgp.Unmarshaler, usually generated by the msgp tool.
package msgp

import (
	"fmt"
	"slices"

	"github.com/tinylib/msgp/msgp"

	"github.com/teenjuna/flowbuf/batch"
	"github.com/teenjuna/flowbuf/codec"
)

type Codec struct {
	buf []byte
}

var (
	_ codec.Codec      = (*Codec)(nil)
	_ msgp.Marshaler   = batch.Batch{}
	_ msgp.Unmarshaler = (*batch.Batch)(nil)
)

func New() *Codec {
	return &Codec{
		buf: make([]byte, 0),
	}
}

func (c *Codec) Encode(b batch.Batch) ([]byte, error) {
	buf, err := b.MarshalMsg(c.buf[:0])
	if err != nil {
		return nil, err
	}
	c.buf = buf

	return slices.Clone(buf), nil
}

func (c *Codec) Decode(data []byte) (batch.Batch, error) {
	var b batch.Batch
	rest, err := b.UnmarshalMsg(data)
	if err != nil {
		return batch.Batch{}, err
	}
	if len(rest) != 0 {
		return batch.Batch{}, fmt.Errorf("%w: %d trailing bytes", batch.ErrConversion, len(rest))
	}
	return b, nil
}

func (c *Codec) Derive() codec.Codec {
	return New()
}
