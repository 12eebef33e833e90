// Package journal stores the items flowing out of a buffer in SQLite and replays them into
// another buffer later, possibly after a restart.
package journal

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teenjuna/flowbuf"
	"github.com/teenjuna/flowbuf/batch"
	"github.com/teenjuna/flowbuf/codec"
	"github.com/teenjuna/flowbuf/codec/json"
	"github.com/teenjuna/flowbuf/internal/sqlite"
	"github.com/teenjuna/flowbuf/retry"
)

var (
	ErrClosed = errors.New("journal is closed")
)

// UpstreamError is returned by [Journal.Record] and [Journal.Relay] when the producer of the
// recorded buffer aborted it.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return "upstream: " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Journal is a SQLite-backed FIFO of batches of T.
//
// Items are recorded from a consumer resource and replayed into a producer resource, in the
// order they were recorded. Delivery is at least once: items of a batch that was only partially
// replayed are replayed again.
type Journal[T any] struct {
	cfg     *Config
	typ     string
	storage *sqlite.Storage
	logger  *zap.Logger

	closing *atomic.Bool
	batches *atomic.Int64
	items   *atomic.Int64
	flushed chan struct{}
}

// Stats describes the batches currently held by a journal.
type Stats struct {
	Batches int
	Items   int
}

// New opens a journal for items of type T, which must be registered with [batch.Register].
func New[T any](configFuncs ...ConfigFunc) (*Journal[T], error) {
	typ, ok := batch.NameOf[T]()
	if !ok {
		return nil, fmt.Errorf("%w: %s", batch.ErrUnsafeType, reflect.TypeFor[T]())
	}

	cfg := &Config{}
	cfg.File(":memory:")
	cfg.Codec(json.New())
	cfg.FlushSize(flowbuf.DefaultCapacity)
	cfg.FlushTimeout(100 * time.Millisecond)
	cfg.RetryPolicy(retry.NewImmediate(3))
	cfg.Demand(flowbuf.DefaultCapacity)
	cfg.Batches(1)
	cfg.Logger(zap.NewNop())
	for _, cf := range configFuncs {
		if cf != nil {
			cf(cfg)
		}
	}

	storage, err := sqlite.New(func(c *sqlite.Config) {
		c.File(cfg.file)
		c.Durable(cfg.durable)
		c.Workers(2)
		c.Batches(cfg.batches)
		c.Cooldown(cfg.retryPolicy.Cooldown())
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	stats, err := storage.Stats()
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("get stats from sqlite: %w", err)
	}

	journal := Journal[T]{
		cfg:     cfg,
		typ:     typ,
		storage: storage,
		logger:  cfg.logger.With(zap.String("type", typ)),

		closing: new(atomic.Bool),
		batches: new(atomic.Int64),
		items:   new(atomic.Int64),
		flushed: make(chan struct{}, 1),
	}
	journal.batches.Store(int64(stats.Segments))
	journal.items.Store(int64(stats.Items))

	if stats.Segments != 0 {
		journal.logger.Info("Opened journal with stored batches",
			zap.Int("batches", stats.Segments),
			zap.Int("items", stats.Items),
		)
	}

	return &journal, nil
}

// Record opens res and stores every item of its buffer until the producer closes it.
//
// Items are stored in batches of [Config.FlushSize] items, or fewer once [Config.FlushTimeout]
// elapsed. If the producer aborts the buffer, the items received before are stored and an
// [UpstreamError] is returned. If the context is canceled, the received items are stored, the
// buffer is canceled and the context's error is returned.
func (j *Journal[T]) Record(ctx context.Context, res flowbuf.ConsumerResource[T]) error {
	if j.closing.Load() {
		return ErrClosed
	}

	buf := res.TryOpen()
	if buf == nil {
		return flowbuf.ErrCannotOpenResource
	}

	w := &waker{signal: make(chan struct{}, 1)}
	buf.SetConsumer(w)

	var (
		builder     = batch.NewBuilder[T](j.cfg.flushSize)
		codec       = j.cfg.codec.Derive()
		tick        = ticker(j.cfg.flushTimeout)
		upstreamErr error
	)

	push := func(items []T) {
		builder.Push(items...)
	}
	fail := func(err error) {
		upstreamErr = err
	}

	for {
		var finished bool
		for !finished && builder.Size() < j.cfg.flushSize {
			before := builder.Size()
			demand := min(j.cfg.demand, j.cfg.flushSize-builder.Size())
			finished = buf.Consume(flowbuf.DelayErrors, demand, push, fail)
			if builder.Size() == before {
				break
			}
		}

		full := builder.Size() >= j.cfg.flushSize
		if full || finished {
			if err := j.flush(ctx, codec, builder); err != nil {
				buf.Cancel()
				return err
			}
		}

		if finished {
			if upstreamErr != nil {
				j.logger.Debug("Recorded buffer aborted", zap.Error(upstreamErr))
				return &UpstreamError{Err: upstreamErr}
			}
			return nil
		}
		if full {
			// The buffer may still hold items, and it only wakes up an idle consumer.
			continue
		}

		select {
		case <-ctx.Done():
			err := j.flush(context.WithoutCancel(ctx), codec, builder)
			buf.Cancel()
			return errors.Join(ctx.Err(), err)
		case <-w.signal:
		case <-tick:
			if err := j.flush(ctx, codec, builder); err != nil {
				buf.Cancel()
				return err
			}
		}
	}
}

// Replay opens res and writes all stored batches into its buffer, oldest first. Each batch is
// deleted once it was written. The buffer is closed when the journal is empty.
//
// If the consumer cancels, Replay returns [flowbuf.ErrCanceled] and keeps the batch that was
// being written.
func (j *Journal[T]) Replay(ctx context.Context, res flowbuf.ProducerResource[T]) error {
	if j.closing.Load() {
		return ErrClosed
	}

	w, err := flowbuf.NewWriter(res)
	if err != nil {
		return err
	}

	if err := j.replay(ctx, w, nil); err != nil {
		_ = w.CloseWithError(err)
		return err
	}
	return w.Close()
}

// Relay records in and replays into out at the same time, so that every item passes through the
// journal. When the producer of in closes its buffer, out is closed once the journal is empty.
// If the producer aborts, out is aborted with the same error after the recorded items, and an
// [UpstreamError] is returned.
func (j *Journal[T]) Relay(
	ctx context.Context,
	in flowbuf.ConsumerResource[T],
	out flowbuf.ProducerResource[T],
) error {
	if j.closing.Load() {
		return ErrClosed
	}

	w, err := flowbuf.NewWriter(out)
	if err != nil {
		return err
	}

	var (
		group, groupCtx = errgroup.WithContext(ctx)
		recording       = make(chan struct{})
		upstreamErr     *UpstreamError
	)

	group.Go(func() error {
		defer close(recording)
		err := j.Record(groupCtx, in)
		if errors.As(err, &upstreamErr) {
			return nil
		}
		return err
	})

	group.Go(func() error {
		return j.replay(groupCtx, w, recording)
	})

	if err := group.Wait(); err != nil {
		_ = w.CloseWithError(err)
		return err
	}

	if upstreamErr != nil {
		_ = w.CloseWithError(upstreamErr.Err)
		return upstreamErr
	}
	return w.Close()
}

// Stats returns the number of batches and items stored in the journal.
func (j *Journal[T]) Stats() Stats {
	return Stats{
		Batches: int(j.batches.Load()),
		Items:   int(j.items.Load()),
	}
}

// Close closes the underlying storage. Running operations fail afterwards.
func (j *Journal[T]) Close() error {
	if j.closing.Swap(true) {
		return ErrClosed
	}

	if err := j.storage.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

func (j *Journal[T]) flush(ctx context.Context, codec codec.Codec, builder *batch.Builder[T]) error {
	if builder.Size() == 0 {
		return nil
	}

	b := builder.Build()
	data, err := codec.Encode(b)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	var id sqlite.SegmentID
	err = retry.Do(ctx, j.cfg.retryPolicy, func() error {
		var err error
		id, err = j.storage.Append(j.typ, data, b.Size())
		return err
	})
	if err != nil {
		return fmt.Errorf("append batch to storage: %w", err)
	}

	j.batches.Add(1)
	j.items.Add(int64(b.Size()))
	notify(j.flushed, struct{}{})
	builder.Reset()

	j.logger.Debug("Flushed batch", zap.String("id", id), zap.Int("items", b.Size()))
	return nil
}

// replay writes stored batches into w. While recording is open, it waits for new batches when
// the storage is empty; otherwise it returns once the storage is empty.
func (j *Journal[T]) replay(ctx context.Context, w *flowbuf.Writer[T], recording <-chan struct{}) error {
	codec := j.cfg.codec.Derive()
	var tick <-chan time.Time

	for {
		batches, err := j.storage.Lease()
		if err != nil {
			return fmt.Errorf("lease batches: %w", err)
		}

		if len(batches) == 0 {
			stats, err := j.storage.Stats()
			if err != nil {
				return fmt.Errorf("get stats: %w", err)
			}
			if recording == nil && stats.Segments == 0 {
				return nil
			}
			if stats.Segments != 0 {
				// Released batches are cooling down.
				tick = timer(time.Until(stats.NextAvailable))
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-recording:
				recording = nil
			case <-j.flushed:
			case <-tick:
			}
			continue
		}

		for i, stored := range batches {
			if err := j.write(ctx, w, codec, stored); err != nil {
				if releaseErr := j.release(batches[i:]); releaseErr != nil {
					err = errors.Join(err, releaseErr)
				}
				return err
			}
		}
	}
}

func (j *Journal[T]) write(ctx context.Context, w *flowbuf.Writer[T], codec codec.Codec, stored sqlite.Segment) error {
	if stored.Type != j.typ {
		return fmt.Errorf("%w: stored batch %s holds %q, not %q", batch.ErrConversion, stored.ID, stored.Type, j.typ)
	}

	b, err := codec.Decode(stored.Payload)
	if err != nil {
		return fmt.Errorf("decode batch %s: %w", stored.ID, err)
	}
	items, ok := batch.TryItems[T](b)
	if !ok {
		return fmt.Errorf("%w: stored batch %s decoded to %s", batch.ErrConversion, stored.ID, b.Type())
	}

	if err := w.Write(ctx, items...); err != nil {
		return err
	}

	if err := j.storage.Remove(stored.ID); err != nil {
		return fmt.Errorf("remove batch %s: %w", stored.ID, err)
	}
	j.batches.Add(-1)
	j.items.Add(-int64(stored.Items))

	j.logger.Debug("Replayed batch", zap.String("id", stored.ID), zap.Int("items", stored.Items))
	return nil
}

func (j *Journal[T]) release(batches []sqlite.Segment) error {
	ids := make([]sqlite.SegmentID, len(batches))
	for i, b := range batches {
		ids[i] = b.ID
	}
	if err := j.storage.Release(ids...); err != nil {
		return fmt.Errorf("release batches: %w", err)
	}
	return nil
}

// waker wakes up Record whenever the recorded buffer has something to say.
type waker struct {
	signal chan struct{}
}

func (w *waker) OnProducerReady() {}

func (w *waker) OnProducerWakeup() {
	notify(w.signal, struct{}{})
}

func notify[T any](ch chan T, v T) {
	if ch != nil {
		select {
		case ch <- v:
		default:
		}
	}
}

func ticker(d time.Duration) <-chan time.Time {
	if d <= 0 {
		return make(<-chan time.Time)
	}
	return time.Tick(d)
}

func timer(d time.Duration) <-chan time.Time {
	if d <= 0 {
		d = time.Millisecond
	}
	return time.After(d)
}
