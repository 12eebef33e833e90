package sqlite_test

import (
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/teenjuna/flowbuf/internal/sqlite"
	"github.com/teenjuna/flowbuf/internal/testing/require"
)

type segment struct {
	typ     string
	payload []byte
	items   int
}

var segments = []segment{
	{typ: "int", payload: []byte{1}, items: 1},
	{typ: "string", payload: []byte{2}, items: 2},
	{typ: "int", payload: []byte{3}, items: 2},
}

func TestAppend(t *testing.T) {
	run(t, func(t *testing.T, file string) {
		storage, err := sqlite.New(withFile(file))
		require.Nil(t, err)

		id, err := storage.Append("int", []byte{1}, 1)
		require.Nil(t, err)
		require.NotEqual(t, id, "")

		require.Nil(t, storage.Close())
		require.ErrorIs(t, storage.Close(), sqlite.ErrClosed)

		id, err = storage.Append("int", []byte{2}, 2)
		require.ErrorIs(t, err, sqlite.ErrClosed)
		require.Equal(t, id, "")

		_, err = storage.Lease()
		require.ErrorIs(t, err, sqlite.ErrClosed)
		require.ErrorIs(t, storage.Release("id"), sqlite.ErrClosed)
		require.ErrorIs(t, storage.Remove("id"), sqlite.ErrClosed)
		_, err = storage.Stats()
		require.ErrorIs(t, err, sqlite.ErrClosed)
	})
}

func TestLease(t *testing.T) {
	tests := []struct {
		name   string
		limit  int
		leases []int
	}{
		{name: "One by one", limit: 1, leases: []int{1, 1, 1, 0}},
		{name: "Two at a time", limit: 2, leases: []int{2, 1, 0}},
		{name: "All at once", limit: 10, leases: []int{3, 0}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			run(t, func(t *testing.T, file string) {
				storage := open(t, withFile(file), withBatches(test.limit))
				appendAll(t, storage, segments...)

				var (
					next    int
					lastSeq int64
				)
				for _, want := range test.leases {
					leased, err := storage.Lease()
					require.Nil(t, err)
					require.Equal(t, len(leased), want)

					for _, seg := range leased {
						require.Equal(t, seg.Type, segments[next].typ)
						require.Equal(t, seg.Payload, segments[next].payload)
						require.Equal(t, seg.Items, segments[next].items)
						require.Equal(t, seg.Leases, 1)
						require.True(t, seg.Seq > lastSeq)
						lastSeq = seg.Seq
						next++
					}
				}
				require.Equal(t, next, len(segments))
			})
		})
	}
}

func TestLeaseOrder(t *testing.T) {
	run(t, func(t *testing.T, file string) {
		storage := open(t, withFile(file), withBatches(100))

		for i := range 100 {
			_, err := storage.Append("int", []byte{byte(i)}, 1)
			require.Nil(t, err)
		}

		leased, err := storage.Lease()
		require.Nil(t, err)
		require.Equal(t, len(leased), 100)
		for i, seg := range leased {
			require.Equal(t, seg.Payload, []byte{byte(i)})
		}
	})
}

func TestLeaseExclusive(t *testing.T) {
	const (
		workers    = 50
		iterations = 50
	)
	run(t, func(t *testing.T, file string) {
		storage := open(t, withFile(file), func(c *sqlite.Config) { c.Workers(workers) })
		_, err := storage.Append("int", []byte{1, 2}, 1)
		require.Nil(t, err)

		var (
			held = new(atomic.Bool)
			wg   = new(sync.WaitGroup)
		)
		for range workers {
			wg.Go(func() {
				for range iterations {
					leased, err := storage.Lease()
					if err != nil {
						t.Errorf("lease: %v", err)
						return
					}
					if len(leased) == 0 {
						continue
					}

					if held.Swap(true) {
						t.Error("segment leased twice")
					}
					held.Store(false)
					if err := storage.Release(leased[0].ID); err != nil {
						t.Errorf("release: %v", err)
					}
				}
			})
		}
		wg.Wait()
	})
}

func TestRelease(t *testing.T) {
	run(t, func(t *testing.T, file string) {
		storage := open(t, withFile(file), withBatches(2))
		appendAll(t, storage, segments[:2]...)

		first, err := storage.Lease()
		require.Nil(t, err)
		require.Equal(t, len(first), 2)

		none, err := storage.Lease()
		require.Nil(t, err)
		require.Equal(t, len(none), 0)

		require.Nil(t, storage.Release(ids(first)...))

		again, err := storage.Lease()
		require.Nil(t, err)
		require.Equal(t, len(again), 2)
		for i := range again {
			require.Equal(t, again[i].ID, first[i].ID)
			require.Equal(t, again[i].Seq, first[i].Seq)
			require.Equal(t, again[i].Payload, first[i].Payload)
			require.Equal(t, again[i].AppendedAt, first[i].AppendedAt)
			require.Equal(t, again[i].Leases, 2)
		}
	})
}

func TestReleaseCooldown(t *testing.T) {
	const cooldown = time.Minute

	run(t, func(t *testing.T, file string) {
		storage := open(t, withFile(file), withBatches(2), func(c *sqlite.Config) {
			c.Cooldown(cooldown)
		})
		appendAll(t, storage, segments[:2]...)

		synctest.Test(t, func(t *testing.T) {
			leased, err := storage.Lease()
			require.Nil(t, err)
			require.Equal(t, len(leased), 2)

			require.Nil(t, storage.Release(ids(leased)...))

			stats, err := storage.Stats()
			require.Nil(t, err)
			require.Equal(t, stats.NextAvailable.UnixNano(), time.Now().Add(cooldown).UnixNano())

			leased, err = storage.Lease()
			require.Nil(t, err)
			require.Equal(t, len(leased), 0)

			time.Sleep(cooldown)

			leased, err = storage.Lease()
			require.Nil(t, err)
			require.Equal(t, len(leased), 2)
		})
	})
}

func TestRemove(t *testing.T) {
	run(t, func(t *testing.T, file string) {
		storage := open(t, withFile(file), withBatches(2))
		appendAll(t, storage, segments[:2]...)

		leased, err := storage.Lease()
		require.Nil(t, err)
		require.Equal(t, len(leased), 2)

		require.Nil(t, storage.Remove(leased[0].ID))
		require.Nil(t, storage.Release(leased[1].ID))

		again, err := storage.Lease()
		require.Nil(t, err)
		require.Equal(t, len(again), 1)
		require.Equal(t, again[0].ID, leased[1].ID)
		require.Equal(t, again[0].Leases, 2)

		// Unknown IDs are ignored.
		require.Nil(t, storage.Remove("unknown"))
		require.Nil(t, storage.Release())
	})
}

func TestStats(t *testing.T) {
	run(t, func(t *testing.T, file string) {
		storage := open(t, withFile(file))

		stats, err := storage.Stats()
		require.Nil(t, err)
		require.Equal(t, *stats, sqlite.Stats{NextAvailable: time.Unix(0, 0)})

		appendAll(t, storage, segments[:2]...)

		stats, err = storage.Stats()
		require.Nil(t, err)
		require.Equal(t, stats.Segments, 2)
		require.Equal(t, stats.Items, 3)
		require.Equal(t, stats.Leased, 0)

		_, err = storage.Lease()
		require.Nil(t, err)

		stats, err = storage.Stats()
		require.Nil(t, err)
		require.Equal(t, stats.Leased, 1)
	})
}

func TestReopen(t *testing.T) {
	file := path.Join(t.TempDir(), "journal.db")

	storage, err := sqlite.New(withFile(file), func(c *sqlite.Config) { c.Durable(true) })
	require.Nil(t, err)
	appendAll(t, storage, segments...)
	_, err = storage.Lease()
	require.Nil(t, err)
	require.Nil(t, storage.Close())

	// Leases don't survive a restart.
	storage = open(t, withFile(file), withBatches(10))
	leased, err := storage.Lease()
	require.Nil(t, err)
	require.Equal(t, len(leased), len(segments))
	require.Equal(t, leased[0].Payload, segments[0].payload)
	require.Equal(t, leased[0].Leases, 2)
}

func TestSeparateMemoryStorages(t *testing.T) {
	first := open(t)
	second := open(t)

	appendAll(t, first, segments...)

	stats, err := second.Stats()
	require.Nil(t, err)
	require.Equal(t, stats.Segments, 0)
}

func run(t *testing.T, fn func(t *testing.T, file string)) {
	t.Helper()

	t.Run("In file", func(t *testing.T) {
		fn(t, path.Join(t.TempDir(), "journal.db"))
	})
	t.Run("In memory", func(t *testing.T) {
		fn(t, ":memory:")
	})
}

func open(t *testing.T, configFuncs ...sqlite.ConfigFunc) *sqlite.Storage {
	t.Helper()

	storage, err := sqlite.New(configFuncs...)
	require.Nil(t, err)
	t.Cleanup(func() {
		if err := storage.Close(); err != nil {
			t.Errorf("close storage: %v", err)
		}
	})
	return storage
}

func withFile(file string) sqlite.ConfigFunc {
	return func(c *sqlite.Config) {
		c.File(file)
	}
}

func withBatches(n int) sqlite.ConfigFunc {
	return func(c *sqlite.Config) {
		c.Batches(n)
	}
}

func appendAll(t *testing.T, storage *sqlite.Storage, segments ...segment) {
	t.Helper()

	for _, s := range segments {
		_, err := storage.Append(s.typ, s.payload, s.items)
		require.Nil(t, err)
	}
}

func ids(segments []sqlite.Segment) []sqlite.SegmentID {
	ids := make([]sqlite.SegmentID, len(segments))
	for i, s := range segments {
		ids[i] = s.ID
	}
	return ids
}
