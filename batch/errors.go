package batch

import "errors"

var (
	// ErrUnsafeType is returned when a batch refers to an item type that is not registered.
	ErrUnsafeType = errors.New("unsafe type")
	// ErrConversion is returned when an encoded batch can't be converted back into a batch.
	ErrConversion = errors.New("conversion failed")
)
