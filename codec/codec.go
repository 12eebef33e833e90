// Package codec contains the [Codec] interface used by the journal to store batches and
// several implementations inside subpackages.
//
// Every implementation relies on the batch type registry, so only batches of registered item
// types can be encoded. See [batch.Register].
package codec

import "github.com/teenjuna/flowbuf/batch"

// Codec encodes and decodes batches for storage.
//
// Implementations are not thread-safe and each instance is used by a single goroutine.
type Codec interface {
	// Encode serializes a batch into a byte slice. The returned slice is owned by the caller.
	Encode(b batch.Batch) ([]byte, error)
	// Decode deserializes a byte slice produced by Encode.
	Decode(data []byte) (batch.Batch, error)
	// Derive returns a new Codec instance with the same settings.
	//
	// The returned codec maintains its own internal state independent of the original.
	Derive() Codec
}
