package flowbuf

import (
	"math"
	"sync/atomic"

	"go.uber.org/zap"
)

// Subscribe opens res and forwards the items of its buffer to obs.
//
// A goroutine pulls items from the buffer whenever the producer wakes it up and obs has
// requested items through the [Subscription] passed to its OnAttach method. The observer
// receives OnComplete or OnError exactly once, unless the subscription is canceled first.
//
// Subscribe returns [ErrCannotOpenResource] if res was already opened.
func Subscribe[T any](res ConsumerResource[T], obs Observer[T]) (Subscription, error) {
	buf := res.TryOpen()
	if buf == nil {
		return nil, ErrCannotOpenResource
	}

	p := &pump[T]{
		buf:    buf,
		obs:    obs,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	// The pump must be the buffer's consumer before it can call Consume.
	buf.SetConsumer(p)
	obs.OnAttach(p)
	go p.run()

	return p, nil
}

// pump is the consumer of a buffer and the subscription of an observer at the same time.
type pump[T any] struct {
	buf      *BoundedBuffer[T]
	obs      Observer[T]
	demand   atomic.Int64
	canceled atomic.Bool
	signal   chan struct{}
	done     chan struct{}
}

func (p *pump[T]) OnProducerReady() {}

func (p *pump[T]) OnProducerWakeup() {
	p.notify()
}

func (p *pump[T]) Request(n int) {
	if n < 1 {
		return
	}
	p.demand.Add(int64(n))
	p.notify()
}

func (p *pump[T]) Cancel() {
	if p.canceled.Swap(true) {
		return
	}
	p.buf.Cancel()
	p.notify()
}

func (p *pump[T]) notify() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *pump[T]) run() {
	defer close(p.done)

	for range p.signal {
		if p.canceled.Load() {
			return
		}
		if p.drain() {
			return
		}
	}
}

// drain forwards items while there is demand and reports whether the flow is over.
func (p *pump[T]) drain() bool {
	for !p.canceled.Load() {
		demand := p.demand.Load()
		if demand < 1 {
			// Termination doesn't need demand. A closed buffer receives no more items, so
			// consuming a single item here delivers nothing but the terminal signal.
			if !p.buf.terminal() {
				return false
			}
			demand = 1
		}

		var (
			delivered int
			failed    bool
		)
		finished := p.buf.Consume(
			DelayErrors,
			int(min(demand, math.MaxInt)),
			func(items []T) {
				delivered += len(items)
				if !p.canceled.Load() {
					p.obs.OnNext(items)
				}
			},
			func(err error) {
				failed = true
				if !p.canceled.Load() {
					p.buf.logger.Debug("Forwarding upstream error", zap.Error(err))
					p.obs.OnError(err)
				}
			},
		)
		p.demand.Add(-int64(delivered))

		if finished {
			if !failed && !p.canceled.Load() {
				p.obs.OnComplete()
			}
			return true
		}
		if delivered == 0 {
			return false
		}
	}
	return true
}
