package flowbuf

import (
	"io"
	"iter"
	"sync"
)

// BlockingObserver is an [ObserverBuffer] whose items are consumed by blocking the calling
// goroutine until data or termination arrives.
type BlockingObserver[T any] struct {
	ObserverBuffer[T]

	cond *sync.Cond
	err  error
}

// NewBlockingObserver returns a blocking observer. Subscribe it to a source with
// [Subscribe], then consume it with Run, Each or All from a single goroutine.
func NewBlockingObserver[T any]() *BlockingObserver[T] {
	o := &BlockingObserver[T]{}
	o.cond = sync.NewCond(&o.mu)
	o.init(o.cond.Signal)
	return o
}

// Run calls onNext for every item until the source terminates, then calls onComplete or
// onError. If onNext returns false, the subscription is canceled and Run returns without
// calling either. Both onError and onComplete may be nil.
func (o *BlockingObserver[T]) Run(onNext func(item T) bool, onError func(err error), onComplete func()) {
	for {
		item, err := o.WaitWith(o.cond.Wait)
		switch {
		case err == nil:
			if !onNext(item) {
				o.Dispose()
				return
			}
		case err == io.EOF: // Errors wrapping io.EOF are failures.
			if onComplete != nil {
				onComplete()
			}
			return
		default:
			if onError != nil {
				onError(err)
			}
			return
		}
	}
}

// Each calls fn for every item and returns the source's error, or nil once it completed.
func (o *BlockingObserver[T]) Each(fn func(item T)) error {
	var err error
	o.Run(
		func(item T) bool {
			fn(item)
			return true
		},
		func(e error) { err = e },
		nil,
	)
	return err
}

// All returns an iterator over the items. Breaking out of the loop cancels the subscription.
// After the loop, Err reports whether the source failed.
func (o *BlockingObserver[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		o.Run(yield, func(err error) { o.err = err }, nil)
	}
}

// Err returns the error that ended the last iteration of All, if any.
func (o *BlockingObserver[T]) Err() error {
	return o.err
}
