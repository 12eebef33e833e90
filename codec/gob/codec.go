// Package gob encodes batches with encoding/gob.
package gob

import (
	"bytes"
	"encoding/gob"
	"slices"

	"github.com/teenjuna/flowbuf/batch"
	"github.com/teenjuna/flowbuf/codec"
)

type Codec struct {
	buf *bytes.Buffer
}

var _ codec.Codec = (*Codec)(nil)

func New() *Codec {
	return &Codec{
		buf: new(bytes.Buffer),
	}
}

func (c *Codec) Encode(b batch.Batch) ([]byte, error) {
	c.buf.Reset()
	enc := gob.NewEncoder(c.buf)

	if err := enc.Encode(b); err != nil {
		return nil, err
	}

	return slices.Clone(c.buf.Bytes()), nil
}

func (c *Codec) Decode(data []byte) (batch.Batch, error) {
	var b batch.Batch
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&b); err != nil {
		return batch.Batch{}, err
	}
	return b, nil
}

func (c *Codec) Derive() codec.Codec {
	return New()
}
