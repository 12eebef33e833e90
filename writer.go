package flowbuf

import (
	"context"
	"iter"
	"sync"
)

var _ Producer = (*Writer[int])(nil)

// Writer is the producer of a buffer that blocks until the consumer grants demand.
//
// Write, Close and CloseWithError must be called from one goroutine at a time.
type Writer[T any] struct {
	buf    *BoundedBuffer[T]
	signal chan struct{}

	mu       sync.Mutex
	credit   int
	canceled bool
	closed   bool
}

// NewWriter opens res and attaches a writer as the producer of its buffer. It returns
// [ErrCannotOpenResource] if res was already opened.
func NewWriter[T any](res ProducerResource[T]) (*Writer[T], error) {
	buf := res.TryOpen()
	if buf == nil {
		return nil, ErrCannotOpenResource
	}

	w := &Writer[T]{
		buf:    buf,
		signal: make(chan struct{}, 1),
	}
	buf.SetProducer(w)

	return w, nil
}

func (w *Writer[T]) OnConsumerReady() {}

func (w *Writer[T]) OnConsumerDemand(n int) {
	w.mu.Lock()
	w.credit += n
	w.mu.Unlock()
	w.notify()
}

func (w *Writer[T]) OnConsumerCancel() {
	w.mu.Lock()
	w.canceled = true
	w.mu.Unlock()
	w.notify()
}

// Write pushes items into the buffer, waiting for demand whenever the consumer has none left.
// It never pushes more items than the consumer asked for.
//
// Write returns [ErrCanceled] once the consumer canceled, [ErrWriterClosed] after Close, or
// the context's error. Items pushed before the error remain in the buffer.
func (w *Writer[T]) Write(ctx context.Context, items ...T) error {
	for len(items) > 0 {
		w.mu.Lock()
		switch {
		case w.closed:
			w.mu.Unlock()
			return ErrWriterClosed
		case w.canceled:
			w.mu.Unlock()
			return ErrCanceled
		}

		n := min(w.credit, len(items))
		if n == 0 {
			w.mu.Unlock()
			select {
			case <-w.signal:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		w.credit -= n
		w.mu.Unlock()

		w.buf.Push(items[:n])
		items = items[n:]
	}
	return nil
}

// Credit returns the number of items that can be written without waiting.
func (w *Writer[T]) Credit() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.credit
}

// Close closes the buffer. The consumer receives the items written so far and then completes.
// Calling it again has no effect.
func (w *Writer[T]) Close() error {
	return w.CloseWithError(nil)
}

// CloseWithError aborts the buffer with err. The consumer receives err after, or instead of,
// the remaining items depending on its [ConsumePolicy]. CloseWithError(nil) is equivalent to
// Close.
func (w *Writer[T]) CloseWithError(err error) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	if err == nil {
		w.buf.Close()
	} else {
		w.buf.Abort(err)
	}
	w.notify()
	return nil
}

func (w *Writer[T]) notify() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// Publish writes every item of seq into the buffer of res and closes it afterwards. If the
// context is canceled first, the buffer is aborted with the context's error, which is also
// returned. If the consumer cancels, Publish stops and returns [ErrCanceled].
func Publish[T any](ctx context.Context, res ProducerResource[T], seq iter.Seq[T]) error {
	w, err := NewWriter(res)
	if err != nil {
		return err
	}

	for item := range seq {
		if err := w.Write(ctx, item); err != nil {
			_ = w.CloseWithError(err)
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		_ = w.CloseWithError(err)
		return err
	}
	return w.Close()
}
