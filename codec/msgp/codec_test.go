package msgp_test

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"testing"

	"github.com/tinylib/msgp/msgp"

	"github.com/teenjuna/flowbuf/batch"
	codec "github.com/teenjuna/flowbuf/codec/msgp"
	"github.com/teenjuna/flowbuf/internal/testing/require"
)

type Item struct {
	ID string
	N1 int
	N2 float64
}

func init() {
	batch.Register[Item]("msgp_test.Item")
}

func (z *Item) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendArrayHeader(b, 3)
	b = msgp.AppendString(b, z.ID)
	b = msgp.AppendInt(b, z.N1)
	b = msgp.AppendFloat64(b, z.N2)
	return b, nil
}

func (z *Item) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var n uint32
	n, bts, err = msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return bts, err
	}
	if n != 3 {
		return bts, fmt.Errorf("expected 3 fields, got %d", n)
	}
	if z.ID, bts, err = msgp.ReadStringBytes(bts); err != nil {
		return bts, err
	}
	if z.N1, bts, err = msgp.ReadIntBytes(bts); err != nil {
		return bts, err
	}
	if z.N2, bts, err = msgp.ReadFloat64Bytes(bts); err != nil {
		return bts, err
	}
	return bts, nil
}

func TestCodec(t *testing.T) {
	c := codec.New()

	for range 2 {
		var items []Item
		for i := range 1000 {
			items = append(items, Item{
				ID: strconv.Itoa(i),
				N1: rand.IntN(1000),
				N2: rand.Float64() * 1000,
			})
		}

		data, err := c.Encode(batch.Make(items))
		require.Nil(t, err)
		require.NotEqual(t, len(data), 0)

		decoded, err := c.Decode(data)
		require.Nil(t, err)
		require.Equal(t, batch.Items[Item](decoded), items)

		derived := c.Derive()
		require.NotEqual(t, derived, c)
	}
}

func TestCodecBuiltin(t *testing.T) {
	c := codec.New()

	for _, b := range []batch.Batch{
		{},
		batch.Make([]string{"a", "b"}),
		batch.Make([]int32{-1, 0, 1}),
		batch.Make([]bool{true, false}),
	} {
		data, err := c.Encode(b)
		require.Nil(t, err)

		decoded, err := c.Decode(data)
		require.Nil(t, err)
		require.True(t, decoded.Equal(b))
	}
}

func TestCodecTrailingBytes(t *testing.T) {
	c := codec.New()

	data, err := c.Encode(batch.Make([]string{"a"}))
	require.Nil(t, err)

	_, err = c.Decode(append(data, 0xc0))
	require.ErrorIs(t, err, batch.ErrConversion)
}
