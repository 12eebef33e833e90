package batch_test

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"testing"

	"github.com/tinylib/msgp/msgp"
	"pgregory.net/rapid"

	"github.com/teenjuna/flowbuf/batch"
	"github.com/teenjuna/flowbuf/internal/testing/require"
)

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func init() {
	batch.Register[point]("batch_test.point")
}

type encoding struct {
	name   string
	encode func(batch.Batch) ([]byte, error)
	decode func([]byte) (batch.Batch, error)
}

var encodings = []encoding{
	{
		name:   "json",
		encode: func(b batch.Batch) ([]byte, error) { return json.Marshal(b) },
		decode: func(data []byte) (b batch.Batch, err error) {
			err = json.Unmarshal(data, &b)
			return b, err
		},
	},
	{
		name:   "msgp",
		encode: func(b batch.Batch) ([]byte, error) { return b.MarshalMsg(nil) },
		decode: func(data []byte) (b batch.Batch, err error) {
			rest, err := b.UnmarshalMsg(data)
			if err == nil && len(rest) != 0 {
				panic("unread msgp bytes")
			}
			return b, err
		},
	},
	{
		name: "gob",
		encode: func(b batch.Batch) ([]byte, error) {
			var buf bytes.Buffer
			err := gob.NewEncoder(&buf).Encode(b)
			return buf.Bytes(), err
		},
		decode: func(data []byte) (b batch.Batch, err error) {
			err = gob.NewDecoder(bytes.NewReader(data)).Decode(&b)
			return b, err
		},
	},
}

func TestRoundTrip(t *testing.T) {
	batches := map[string]batch.Batch{
		"empty":   {},
		"int32":   batch.Make([]int32{1, -2, 3}),
		"string":  batch.Make([]string{"a", "", "c"}),
		"float64": batch.Make([]float64{0.5, 1e10}),
		"bytes":   batch.Make([][]byte{[]byte("hello")}),
	}

	for _, enc := range encodings {
		for name, b := range batches {
			t.Run(enc.name+"/"+name, func(t *testing.T) {
				data, err := enc.encode(b)
				require.Nil(t, err)

				decoded, err := enc.decode(data)
				require.Nil(t, err)
				require.True(t, decoded.Equal(b))
				require.Equal(t, decoded.TypeName(), b.TypeName())
			})
		}
	}
}

func TestRoundTripRegisteredStruct(t *testing.T) {
	b := batch.Make([]point{{X: 1, Y: 2}, {X: 3, Y: 4}})

	for _, enc := range []encoding{encodings[0], encodings[2]} {
		t.Run(enc.name, func(t *testing.T) {
			data, err := enc.encode(b)
			require.Nil(t, err)

			decoded, err := enc.decode(data)
			require.Nil(t, err)
			require.Equal(t, batch.Items[point](decoded), []point{{X: 1, Y: 2}, {X: 3, Y: 4}})
		})
	}
}

func TestMsgpRequiresUnmarshaler(t *testing.T) {
	b := batch.Make([]point{{X: 1}})

	// point has no generated msgp methods.
	data, err := b.MarshalMsg(nil)
	if err == nil {
		var decoded batch.Batch
		_, err = decoded.UnmarshalMsg(data)
		require.ErrorIs(t, err, batch.ErrConversion)
	}
	require.NotNil(t, err)
}

func TestUnregisteredType(t *testing.T) {
	type secret struct{ Value string }
	b := batch.Make([]secret{{Value: "x"}})

	for _, enc := range encodings {
		t.Run(enc.name, func(t *testing.T) {
			_, err := enc.encode(b)
			require.ErrorIs(t, err, batch.ErrUnsafeType)
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  batch.Batch
		err   error
	}{
		{name: "empty object", input: `{}`, want: batch.Batch{}},
		{name: "empty items", input: `{"type":"int","items":[]}`, want: batch.Batch{}},
		{name: "type only", input: `{"type":"int"}`, want: batch.Batch{}},
		{name: "ints", input: `{"type":"int","items":[1,2]}`, want: batch.Make([]int{1, 2})},
		{name: "missing type", input: `{"items":[1,2]}`, err: batch.ErrConversion},
		{name: "unknown type", input: `{"type":"nope","items":[1]}`, err: batch.ErrUnsafeType},
		{name: "bad item", input: `{"type":"int","items":["x"]}`, err: batch.ErrConversion},
		{name: "not an object", input: `[1]`, err: batch.ErrConversion},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var b batch.Batch
			err := json.Unmarshal([]byte(test.input), &b)
			if test.err != nil {
				require.ErrorIs(t, err, test.err)
				return
			}
			require.Nil(t, err)
			require.True(t, b.Equal(test.want))
		})
	}
}

func TestDecodeMsgp(t *testing.T) {
	t.Run("missing type", func(t *testing.T) {
		data := msgp.AppendMapHeader(nil, 1)
		data = msgp.AppendString(data, "items")
		data = msgp.AppendArrayHeader(data, 1)
		data = msgp.AppendInt(data, 1)

		var b batch.Batch
		_, err := b.UnmarshalMsg(data)
		require.ErrorIs(t, err, batch.ErrConversion)
	})

	t.Run("unknown type", func(t *testing.T) {
		data := msgp.AppendMapHeader(nil, 2)
		data = msgp.AppendString(data, "type")
		data = msgp.AppendString(data, "nope")
		data = msgp.AppendString(data, "items")
		data = msgp.AppendArrayHeader(data, 1)
		data = msgp.AppendInt(data, 1)

		var b batch.Batch
		_, err := b.UnmarshalMsg(data)
		require.ErrorIs(t, err, batch.ErrUnsafeType)
	})

	t.Run("absent items", func(t *testing.T) {
		data := msgp.AppendMapHeader(nil, 1)
		data = msgp.AppendString(data, "type")
		data = msgp.AppendString(data, "int")

		b := batch.Make([]int{1})
		rest, err := b.UnmarshalMsg(data)
		require.Nil(t, err)
		require.Equal(t, len(rest), 0)
		require.True(t, b.Empty())
	})

	t.Run("trailing bytes", func(t *testing.T) {
		data, err := batch.Make([]string{"a"}).MarshalMsg(nil)
		require.Nil(t, err)
		data = msgp.AppendBool(data, true)

		var b batch.Batch
		rest, err := b.UnmarshalMsg(data)
		require.Nil(t, err)
		require.Equal(t, batch.Items[string](b), []string{"a"})

		v, _, err := msgp.ReadBoolBytes(rest)
		require.Nil(t, err)
		require.True(t, v)
	})
}

func TestDecodeGobUnknownType(t *testing.T) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	require.Nil(t, enc.Encode("nope"))
	require.Nil(t, enc.Encode([]int{1}))

	var b batch.Batch
	err := b.GobDecode(buf.Bytes())
	require.ErrorIs(t, err, batch.ErrUnsafeType)
}

func TestRegister(t *testing.T) {
	type first struct{}
	type second struct{}

	require.False(t, batch.Registered("batch_test.first"))
	batch.Register[first]("batch_test.first")
	require.True(t, batch.Registered("batch_test.first"))

	// Same pair again is fine.
	batch.Register[first]("batch_test.first")

	require.PanicWithError(t, "name can't be blank", func() {
		batch.Register[second]("  ")
	})
	require.Panics(t, func() {
		batch.Register[second]("batch_test.first")
	})
	require.Panics(t, func() {
		batch.Register[first]("batch_test.other")
	})
	require.False(t, batch.Registered("batch_test.other"))
}

func TestRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		items := rapid.SliceOf(rapid.String()).Draw(t, "items")
		enc := rapid.SampledFrom(encodings).Draw(t, "encoding")

		b := batch.Make(items)
		data, err := enc.encode(b)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}

		decoded, err := enc.decode(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !decoded.Equal(b) {
			t.Fatalf("%s != %s", decoded, b)
		}
	})
}
