package flowbuf

import (
	"io"
	"sync"

	"github.com/eapache/queue"
	"golang.org/x/sys/cpu"

	"github.com/teenjuna/flowbuf/batch"
)

// Subscription connects an [Observer] to its source.
type Subscription interface {
	// Request asks the source for n more items.
	Request(n int)
	// Cancel stops the flow. The observer receives no further notifications.
	Cancel()
}

// Observer receives items pushed by a source.
//
// OnComplete and OnError are terminal: after either was called, no other method is called.
type Observer[T any] interface {
	OnAttach(sub Subscription)
	OnNext(items []T)
	OnBatch(b batch.Batch)
	OnComplete()
	OnError(err error)
}

var _ Observer[int] = (*ObserverBuffer[int])(nil)

// ObserverBuffer is an [Observer] that queues incoming batches and lets a single consumer
// goroutine pull items one at a time with [ObserverBuffer.Poll] or [ObserverBuffer.WaitWith].
//
// Every batch taken from the queue is re-requested from the subscription, so the source never
// has more than [DefaultCapacity] items in flight.
type ObserverBuffer[T any] struct {
	mu     sync.Mutex
	queue  *queue.Queue // of batch.Batch
	sub    Subscription
	done   bool
	err    error
	wakeup func()

	_ cpu.CacheLinePad

	// Accessed only by the consumer.
	cached []T
	pos    int
}

// NewObserverBuffer returns an observer buffer. If wakeup is not nil, it's called whenever
// the queue becomes non-empty or the buffer reaches a terminal state.
func NewObserverBuffer[T any](wakeup func()) *ObserverBuffer[T] {
	o := &ObserverBuffer[T]{}
	o.init(wakeup)
	return o
}

func (o *ObserverBuffer[T]) init(wakeup func()) {
	o.queue = queue.New()
	o.wakeup = wakeup
}

// OnAttach stores the subscription and requests [DefaultCapacity] items. A second
// subscription, or one that arrives after the buffer terminated, is canceled.
func (o *ObserverBuffer[T]) OnAttach(sub Subscription) {
	o.mu.Lock()
	if o.sub != nil || o.done {
		o.mu.Unlock()
		sub.Cancel()
		return
	}
	o.sub = sub
	o.mu.Unlock()

	sub.Request(DefaultCapacity)
}

// OnNext wraps a copy of items into a batch and queues it.
func (o *ObserverBuffer[T]) OnNext(items []T) {
	o.OnBatch(batch.Make(items))
}

// OnBatch queues b. Empty batches and batches arriving after termination are ignored. OnBatch
// panics if b doesn't hold items of type T.
func (o *ObserverBuffer[T]) OnBatch(b batch.Batch) {
	if b.Empty() {
		return
	}
	if _, ok := batch.TryItems[T](b); !ok {
		panic("observer buffer received " + b.String())
	}

	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		return
	}
	o.queue.Add(b)
	wakeup := o.queue.Length() == 1
	o.mu.Unlock()

	if wakeup {
		o.wake()
	}
}

// OnComplete marks the buffer as completed. Calling it again, or after OnError, has no
// effect.
func (o *ObserverBuffer[T]) OnComplete() {
	o.finish(nil)
}

// OnError marks the buffer as failed with err. Calling it again, or after OnComplete, has no
// effect. OnError(nil) is equivalent to OnComplete.
func (o *ObserverBuffer[T]) OnError(err error) {
	o.finish(err)
}

// Poll returns the next item without blocking.
//
// If no item is available, ok is false and err is [io.EOF] once the source completed, the
// source's error once it failed, or nil while the source is still running.
func (o *ObserverBuffer[T]) Poll() (item T, ok bool, err error) {
	if item, ok := o.next(); ok {
		return item, true, nil
	}

	o.mu.Lock()
	return o.pop()
}

// WaitWith returns the next item, calling wait while no item is available and the source
// hasn't terminated yet. Once the source terminated and all items were returned, it returns
// [io.EOF] or the source's error.
//
// wait is called with the buffer's lock held and must release it while waiting, like
// [sync.Cond.Wait] does.
func (o *ObserverBuffer[T]) WaitWith(wait func()) (T, error) {
	if item, ok := o.next(); ok {
		return item, nil
	}

	o.mu.Lock()
	for o.queue.Length() == 0 && !o.done {
		wait()
	}
	item, _, err := o.pop()
	return item, err
}

// Dispose cancels the subscription and drops queued batches. Subsequent calls of Poll and
// WaitWith return [io.EOF] once the cached items are exhausted.
func (o *ObserverBuffer[T]) Dispose() {
	o.mu.Lock()
	sub := o.sub
	o.sub = nil
	o.done = true
	for o.queue.Length() > 0 {
		o.queue.Remove()
	}
	o.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
}

// pop serves the next item from the queue. It's called with o.mu held and releases it.
func (o *ObserverBuffer[T]) pop() (item T, ok bool, err error) {
	if o.queue.Length() == 0 {
		done, err := o.done, o.err
		o.mu.Unlock()
		switch {
		case !done:
			return item, false, nil
		case err != nil:
			return item, false, err
		default:
			return item, false, io.EOF
		}
	}

	b := o.queue.Remove().(batch.Batch)
	sub := o.sub
	o.mu.Unlock()

	o.cached = batch.Items[T](b)
	o.pos = 0
	if sub != nil {
		sub.Request(b.Size())
	}

	item, ok = o.next()
	return item, ok, nil
}

func (o *ObserverBuffer[T]) next() (item T, ok bool) {
	if o.pos >= len(o.cached) {
		o.cached, o.pos = nil, 0
		return item, false
	}
	item = o.cached[o.pos]
	o.pos++
	return item, true
}

func (o *ObserverBuffer[T]) finish(err error) {
	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		return
	}
	o.done = true
	o.err = err
	o.sub = nil
	o.mu.Unlock()

	o.wake()
}

func (o *ObserverBuffer[T]) wake() {
	if o.wakeup != nil {
		o.wakeup()
	}
}
