package flowbuf

import (
	"fmt"
	"runtime"
	"sync"
)

// NewResources creates a buffer with the given capacity and min pull size and splits it into a
// consumer and a producer resource. See [NewBoundedBuffer] for the meaning of the arguments.
func NewResources[T any](
	capacity, minPullSize int,
	configFuncs ...ConfigFunc,
) (ConsumerResource[T], ProducerResource[T]) {
	buf := NewBoundedBuffer[T](capacity, minPullSize, configFuncs...)
	return ConsumerResource[T]{h: newHandle(buf, false)}, ProducerResource[T]{h: newHandle(buf, true)}
}

// ProducerResource grants write access to a buffer to the first caller of TryOpen.
//
// Copies of a resource share its state. If a resource is closed, or becomes unreachable,
// without having been opened, the buffer is aborted with [ErrInvalidUpstream]. The zero value
// is a resource that can't be opened.
type ProducerResource[T any] struct {
	h *handle[T]
}

// TryOpen returns the buffer on the first call across all copies of the resource and nil
// afterwards.
func (r ProducerResource[T]) TryOpen() *BoundedBuffer[T] {
	if r.h == nil {
		return nil
	}
	return r.h.ctrl.tryOpen()
}

// Close discards the resource. If it was never opened, the buffer is aborted with
// [ErrInvalidUpstream]. Close always returns nil.
func (r ProducerResource[T]) Close() error {
	if r.h != nil {
		r.h.ctrl.discard()
	}
	return nil
}

// Valid reports whether the resource was created by [NewResources].
func (r ProducerResource[T]) Valid() bool {
	return r.h != nil
}

// ConsumerResource grants read access to a buffer to the first caller of TryOpen.
//
// Copies of a resource share its state. If a resource is closed, or becomes unreachable,
// without having been opened, the buffer is canceled. The zero value is a resource that can't
// be opened.
type ConsumerResource[T any] struct {
	h *handle[T]
}

// TryOpen returns the buffer on the first call across all copies of the resource and nil
// afterwards.
func (r ConsumerResource[T]) TryOpen() *BoundedBuffer[T] {
	if r.h == nil {
		return nil
	}
	return r.h.ctrl.tryOpen()
}

// Close discards the resource. If it was never opened, the buffer is canceled. Close always
// returns nil.
func (r ConsumerResource[T]) Close() error {
	if r.h != nil {
		r.h.ctrl.discard()
	}
	return nil
}

// Valid reports whether the resource was created by [NewResources].
func (r ConsumerResource[T]) Valid() bool {
	return r.h != nil
}

// handle is shared by all copies of a resource. Once it becomes unreachable, the cleanup
// discards ctrl.
type handle[T any] struct {
	ctrl *ctrl[T]
}

func newHandle[T any](buf *BoundedBuffer[T], producer bool) *handle[T] {
	h := &handle[T]{
		ctrl: &ctrl[T]{buf: buf, producer: producer},
	}
	runtime.AddCleanup(h, func(c *ctrl[T]) { c.discard() }, h.ctrl)
	return h
}

type ctrl[T any] struct {
	mu       sync.Mutex
	buf      *BoundedBuffer[T]
	producer bool
}

func (c *ctrl[T]) tryOpen() *BoundedBuffer[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := c.buf
	c.buf = nil
	return buf
}

func (c *ctrl[T]) discard() {
	buf := c.tryOpen()
	if buf == nil {
		return
	}

	if c.producer {
		buf.logger.Warn("Producer resource discarded without opening it")
		buf.Abort(fmt.Errorf("%w: producer resource discarded without opening it", ErrInvalidUpstream))
	} else {
		buf.logger.Warn("Consumer resource discarded without opening it")
		buf.Cancel()
	}
}
