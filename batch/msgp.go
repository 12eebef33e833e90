package batch

import (
	"fmt"

	"github.com/tinylib/msgp/msgp"
)

func appendMsgpItems[T any](dst []byte, items []T) ([]byte, error) {
	dst = msgp.AppendArrayHeader(dst, uint32(len(items)))
	for i := range items {
		var err error
		if m, ok := any(&items[i]).(msgp.Marshaler); ok {
			dst, err = m.MarshalMsg(dst)
		} else {
			dst, err = msgp.AppendIntf(dst, items[i])
		}
		if err != nil {
			return nil, fmt.Errorf("append item %d: %w", i, err)
		}
	}
	return dst, nil
}

func readMsgpItems[T any](src []byte) (Batch, []byte, error) {
	size, src, err := msgp.ReadArrayHeaderBytes(src)
	if err != nil {
		return Batch{}, src, fmt.Errorf("%w: %w", ErrConversion, err)
	}

	items := make([]T, size)
	for i := range items {
		src, err = readMsgpItem(&items[i], src)
		if err != nil {
			return Batch{}, src, fmt.Errorf("%w: item %d: %w", ErrConversion, i, err)
		}
	}

	return fromOwned(items), src, nil
}

func readMsgpItem[T any](dst *T, src []byte) (rest []byte, err error) {
	switch p := any(dst).(type) {
	case msgp.Unmarshaler:
		return p.UnmarshalMsg(src)
	case *bool:
		*p, rest, err = msgp.ReadBoolBytes(src)
	case *int:
		*p, rest, err = msgp.ReadIntBytes(src)
	case *int8:
		*p, rest, err = msgp.ReadInt8Bytes(src)
	case *int16:
		*p, rest, err = msgp.ReadInt16Bytes(src)
	case *int32:
		*p, rest, err = msgp.ReadInt32Bytes(src)
	case *int64:
		*p, rest, err = msgp.ReadInt64Bytes(src)
	case *uint:
		*p, rest, err = msgp.ReadUintBytes(src)
	case *uint8:
		*p, rest, err = msgp.ReadUint8Bytes(src)
	case *uint16:
		*p, rest, err = msgp.ReadUint16Bytes(src)
	case *uint32:
		*p, rest, err = msgp.ReadUint32Bytes(src)
	case *uint64:
		*p, rest, err = msgp.ReadUint64Bytes(src)
	case *float32:
		*p, rest, err = msgp.ReadFloat32Bytes(src)
	case *float64:
		*p, rest, err = msgp.ReadFloat64Bytes(src)
	case *string:
		*p, rest, err = msgp.ReadStringBytes(src)
	case *[]byte:
		*p, rest, err = msgp.ReadBytesBytes(src, nil)
	default:
		return src, fmt.Errorf("%T doesn't implement msgp.Unmarshaler", *dst)
	}
	return rest, err
}
