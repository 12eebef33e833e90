// Package json encodes batches as JSON documents of the form {"type": ..., "items": [...]}.
package json

import (
	"bytes"
	"encoding/json"
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
	enc := json.NewEncoder(c.buf)

	if err := enc.Encode(b); err != nil {
		return nil, err
	}

	return slices.Clone(c.buf.Bytes()), nil
}

func (c *Codec) Decode(data []byte) (batch.Batch, error) {
	var b batch.Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return batch.Batch{}, err
	}
	return b, nil
}

func (c *Codec) Derive() codec.Codec {
	return New()
}
