package flowbuf

import "errors"

var (
	// ErrInvalidUpstream is delivered to the consumer when the producer side of a buffer was
	// discarded without ever being opened.
	ErrInvalidUpstream = errors.New("invalid upstream")
	// ErrCannotOpenResource is returned when a resource was already opened or is invalid.
	ErrCannotOpenResource = errors.New("cannot open resource")
	// ErrCanceled is returned to producers after the consumer canceled the flow.
	ErrCanceled = errors.New("canceled by consumer")
	// ErrWriterClosed is returned by [Writer.Write] after the writer was closed.
	ErrWriterClosed = errors.New("writer is closed")
)
