package flowbuf

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// localBufSize is the number of items Consume moves out of the buffer per lock acquisition.
const localBufSize = 16

// BoundedBuffer transmits items from one producer to one consumer.
//
// The buffer holds at most Capacity items in flight as long as the producer respects the
// demand it receives through [Producer.OnConsumerDemand]. Items are stored in a slice of twice
// the capacity; whenever the read position passes the midpoint, the remaining items are shifted
// back to the front.
//
// Hooks of the attached producer and consumer are never called while the buffer's lock is held.
// Protocol violations, such as pushing without an attached producer, cause a panic.
type BoundedBuffer[T any] struct {
	mu sync.Mutex

	// Allocated to capacity*2, but holds at most capacity items while the producer respects
	// demand.
	buf         []T
	capacity    int
	minPullSize int
	rd          int
	wr          int

	// Demand that has not yet been signaled back to the producer.
	demand int

	closed   bool
	canceled bool
	drained  bool
	err      error

	producer    Producer
	consumer    Consumer
	hasProducer bool
	hasConsumer bool

	logger  *zap.Logger
	metrics *metrics
}

// NewBoundedBuffer returns a buffer that holds up to capacity items and signals demand to the
// producer in chunks of at least minPullSize items.
//
// Most callers should use [NewResources] instead, which hands out each side of the buffer
// exactly once.
func NewBoundedBuffer[T any](capacity, minPullSize int, configFuncs ...ConfigFunc) *BoundedBuffer[T] {
	if capacity < 1 {
		panic("capacity can't be < 1")
	}
	if minPullSize < 1 {
		panic("min pull size can't be < 1")
	}
	if minPullSize > capacity {
		panic("min pull size can't be > capacity")
	}

	cfg := newConfig(configFuncs...)

	return &BoundedBuffer[T]{
		buf:         make([]T, capacity*2),
		capacity:    capacity,
		minPullSize: minPullSize,
		logger:      cfg.bufferLogger(),
		metrics:     cfg.prometheus.metrics(),
	}
}

// Push appends items to the buffer and returns the remaining free capacity. If the buffer was
// empty before, the consumer is woken up.
//
// Push must be called only by the attached producer, before Close, and with no more items than
// the granted demand. Items pushed after the consumer canceled are discarded.
func (b *BoundedBuffer[T]) Push(items []T) int {
	b.mu.Lock()

	switch {
	case !b.hasProducer:
		b.mu.Unlock()
		panic("push without a producer")
	case b.closed:
		b.mu.Unlock()
		panic("push to a closed buffer")
	case b.wr+len(items) > len(b.buf):
		b.mu.Unlock()
		panic(fmt.Sprintf("push of %d items exceeds the storage of the buffer", len(items)))
	}

	if b.canceled || len(items) == 0 {
		free := b.free()
		b.mu.Unlock()
		return free
	}

	copy(b.buf[b.wr:], items)
	b.wr += len(items)
	b.metrics.pushed(len(items))

	var wakeup Consumer
	if b.size() == len(items) && b.consumer != nil {
		wakeup = b.consumer
		b.metrics.wakeups.Inc()
	}
	free := b.free()

	b.mu.Unlock()

	if wakeup != nil {
		wakeup.OnProducerWakeup()
	}
	return free
}

// Consume delivers up to demand items to onNext and returns true once the buffer is drained
// and closed. The slice passed to onNext is only valid during the call.
//
// The policy decides when a stored error reaches onError; see [ConsumePolicy]. Consume panics
// if demand is < 1, if no consumer was ever attached, or if onError doesn't match the policy.
// After Consume returned true, the consumer is detached and further calls return true without
// invoking any callback.
func (b *BoundedBuffer[T]) Consume(
	policy ConsumePolicy,
	demand int,
	onNext func(items []T),
	onError func(err error),
) bool {
	policy.check(onError)
	if demand < 1 {
		panic("demand can't be < 1")
	}

	b.mu.Lock()

	if !b.hasConsumer {
		b.mu.Unlock()
		panic("consume without a consumer")
	}
	if b.drained {
		b.mu.Unlock()
		return true
	}

	if policy == PrioritizeErrors && b.err != nil {
		err := b.err
		b.drop()
		b.consumer = nil
		b.drained = true
		b.mu.Unlock()
		onError(err)
		return true
	}

	var local [localBufSize]T
	for n := b.nextChunk(demand); n > 0; n = b.nextChunk(demand) {
		copy(local[:n], b.buf[b.rd:b.rd+n])
		clear(b.buf[b.rd : b.rd+n])
		b.rd += n
		b.shiftElements()
		b.metrics.consumed(n)
		producer, signaled := b.signalDemand(n)

		b.mu.Unlock()
		if producer != nil {
			producer.OnConsumerDemand(signaled)
		}
		onNext(local[:n])
		demand -= n
		b.mu.Lock()
	}
	clear(local[:])

	if !b.empty() || !b.closed {
		b.mu.Unlock()
		return false
	}

	err := b.err
	b.consumer = nil
	b.drained = true
	b.mu.Unlock()

	if policy == DelayErrors && err != nil {
		onError(err)
	}
	return true
}

// HasData reports whether the buffer holds any items.
func (b *BoundedBuffer[T]) HasData() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.empty()
}

// Size returns the number of buffered items.
func (b *BoundedBuffer[T]) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size()
}

// Capacity returns the maximum number of items in flight.
func (b *BoundedBuffer[T]) Capacity() int {
	return b.capacity
}

// Close closes the buffer by request of the producer. The consumer receives the remaining
// items, after which [BoundedBuffer.Consume] returns true.
//
// Close panics if no producer was ever attached. Calling it again has no effect.
func (b *BoundedBuffer[T]) Close() {
	b.mu.Lock()

	if !b.hasProducer {
		b.mu.Unlock()
		panic("close without a producer")
	}
	if b.closed {
		b.mu.Unlock()
		return
	}

	wakeup := b.terminate(nil)
	b.metrics.terminated(terminationClose)
	b.logger.Debug("Buffer closed", zap.Int("buffered", b.size()))

	b.mu.Unlock()

	if wakeup != nil {
		wakeup.OnProducerWakeup()
	}
}

// Abort closes the buffer and stores err for the consumer. Only the first of Close and Abort
// takes effect. Abort(nil) closes the buffer like Close.
//
// Unlike Close, Abort may be called without an attached producer.
func (b *BoundedBuffer[T]) Abort(err error) {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()
		return
	}

	wakeup := b.terminate(err)
	if err != nil {
		b.metrics.terminated(terminationAbort)
		b.logger.Debug("Buffer aborted", zap.Error(err), zap.Int("buffered", b.size()))
	} else {
		b.metrics.terminated(terminationClose)
		b.logger.Debug("Buffer closed", zap.Int("buffered", b.size()))
	}

	b.mu.Unlock()

	if wakeup != nil {
		wakeup.OnProducerWakeup()
	}
}

// Cancel closes the buffer by request of the consumer. The producer is notified, buffered items
// are dropped and the consumer receives no further notifications. Calling it again has no
// effect.
func (b *BoundedBuffer[T]) Cancel() {
	b.mu.Lock()

	if b.canceled {
		b.mu.Unlock()
		return
	}

	b.canceled = true
	b.consumer = nil
	b.drop()
	producer := b.producer
	b.metrics.terminated(terminationCancel)
	b.logger.Debug("Buffer canceled")

	b.mu.Unlock()

	if producer != nil {
		producer.OnConsumerCancel()
	}
}

// SetProducer attaches the producer. Once both sides are attached, the buffer notifies them,
// wakes the consumer if items are already queued and grants the initial demand. A producer
// attaching after the consumer canceled is notified about the cancellation right away.
//
// SetProducer panics if producer is nil or if a producer was already attached.
func (b *BoundedBuffer[T]) SetProducer(producer Producer) {
	if producer == nil {
		panic("producer can't be nil")
	}

	b.mu.Lock()

	if b.hasProducer {
		b.mu.Unlock()
		panic("buffer already has a producer")
	}
	b.hasProducer = true

	var notify func()
	switch {
	case b.canceled:
		notify = producer.OnConsumerCancel
	case b.closed:
	default:
		b.producer = producer
		if b.consumer != nil {
			notify = b.ready()
		}
	}

	b.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// SetConsumer attaches the consumer. Once both sides are attached, the buffer notifies them,
// wakes the consumer if items are already queued and grants the initial demand. A consumer
// attaching to a closed buffer is woken up right away.
//
// SetConsumer panics if consumer is nil or if a consumer was already attached.
func (b *BoundedBuffer[T]) SetConsumer(consumer Consumer) {
	if consumer == nil {
		panic("consumer can't be nil")
	}

	b.mu.Lock()

	if b.hasConsumer {
		b.mu.Unlock()
		panic("buffer already has a consumer")
	}
	b.hasConsumer = true

	var notify func()
	switch {
	case b.canceled:
	case b.producer != nil:
		b.consumer = consumer
		notify = b.ready()
	case b.closed:
		if !b.empty() {
			b.consumer = consumer
		}
		b.metrics.wakeups.Inc()
		notify = consumer.OnProducerWakeup
	default:
		b.consumer = consumer
	}

	b.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// terminal reports whether the buffer is closed and holds no items.
func (b *BoundedBuffer[T]) terminal() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drained || (b.closed && b.empty())
}

// ready returns the handshake to run after unlocking.
func (b *BoundedBuffer[T]) ready() func() {
	var (
		producer = b.producer
		consumer = b.consumer
		wakeup   = !b.empty()
	)
	if wakeup {
		b.metrics.wakeups.Inc()
	}
	demander, demand := b.signalDemand(b.capacity - b.size())
	b.logger.Debug("Buffer ready", zap.Int("capacity", b.capacity), zap.Int("buffered", b.size()))

	return func() {
		producer.OnConsumerReady()
		consumer.OnProducerReady()
		if wakeup {
			consumer.OnProducerWakeup()
		}
		if demander != nil {
			demander.OnConsumerDemand(demand)
		}
	}
}

// terminate marks the buffer as closed and returns the consumer to wake up, if any.
func (b *BoundedBuffer[T]) terminate(err error) Consumer {
	b.closed = true
	b.err = err
	b.producer = nil

	if !b.empty() || b.consumer == nil {
		return nil
	}
	consumer := b.consumer
	b.consumer = nil
	b.metrics.wakeups.Inc()
	return consumer
}

// signalDemand accumulates n freed slots and returns the producer to notify once the
// accumulated demand reaches the min pull size.
func (b *BoundedBuffer[T]) signalDemand(n int) (Producer, int) {
	b.demand += n
	if b.demand < b.minPullSize || b.producer == nil {
		return nil, 0
	}
	demand := b.demand
	b.demand = 0
	b.metrics.demandSignals.Inc()
	return b.producer, demand
}

// shiftElements moves the buffered items to the front of the storage once the read position
// crosses the midpoint.
func (b *BoundedBuffer[T]) shiftElements() {
	if b.rd < b.capacity {
		return
	}
	if b.empty() {
		b.rd, b.wr = 0, 0
		return
	}
	// The first half is empty, so the ranges don't overlap.
	n := copy(b.buf, b.buf[b.rd:b.wr])
	clear(b.buf[b.rd:b.wr])
	b.rd, b.wr = 0, n
	b.metrics.compactions.Inc()
}

// drop discards the buffered items.
func (b *BoundedBuffer[T]) drop() {
	b.metrics.dropped(b.size())
	clear(b.buf[b.rd:b.wr])
	b.rd, b.wr = 0, 0
}

func (b *BoundedBuffer[T]) nextChunk(demand int) int {
	return min(localBufSize, demand, b.size())
}

func (b *BoundedBuffer[T]) free() int {
	return max(b.capacity-b.size(), 0)
}

func (b *BoundedBuffer[T]) size() int {
	return b.wr - b.rd
}

func (b *BoundedBuffer[T]) empty() bool {
	return b.wr == b.rd
}
