// Package sqlite implements the segment log behind the journal: an ordered table of encoded
// batches that are appended once, leased for delivery and removed after it.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrClosed is returned by Storage methods when the storage has been closed.
var ErrClosed = errors.New("storage is closed")

const memory = ":memory:"

// SegmentID identifies a segment.
type SegmentID = string

// Segment is one encoded batch stored in the log.
type Segment struct {
	// Seq orders segments by the time they were appended.
	Seq int64
	ID  SegmentID
	// Type is the registered type name of the items in Payload.
	Type    string
	Payload []byte
	// Items is the number of items encoded in Payload.
	Items      int
	AppendedAt time.Time
	// Leases counts how many times the segment was leased, including the current lease.
	Leases int
}

// Stats describes the content of the log.
type Stats struct {
	Segments int
	Items    int
	Leased   int
	// NextAvailable is the earliest time a released segment can be leased again. It's the Unix
	// epoch if no segment is waiting.
	NextAvailable time.Time
}

// Storage is the segment log. It's safe for concurrent use, a segment is leased by at most one
// caller at a time.
type Storage struct {
	cfg    *Config
	db     *sql.DB
	closed atomic.Bool
}

// New opens the log described by the config functions. By default it lives in memory, leases
// one segment at a time and releases segments without a cooldown.
func New(configFuncs ...ConfigFunc) (*Storage, error) {
	cfg := &Config{}
	cfg.File(memory)
	cfg.Workers(1)
	cfg.Batches(1)
	for _, cf := range configFuncs {
		if cf != nil {
			cf(cfg)
		}
	}

	db, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	conns := cfg.workers
	if cfg.file == memory {
		// Every connection to a shared in-memory database serializes anyway.
		conns = 1
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	db.SetConnMaxIdleTime(0)
	db.SetConnMaxLifetime(0)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Storage{cfg: cfg, db: db}, nil
}

// Append adds a segment to the end of the log and returns its ID.
func (s *Storage) Append(typ string, payload []byte, items int) (SegmentID, error) {
	if s.closed.Load() {
		return "", ErrClosed
	}

	id := uuid.NewString()
	_, err := s.db.Exec(
		`insert into segment (id, type, payload, items, appended_at) values (?, ?, ?, ?, ?)`,
		id, typ, payload, items, timestamp(time.Now()),
	)
	if err != nil {
		return "", translate(err)
	}
	return id, nil
}

// Lease takes the oldest segments that are neither leased nor cooling down, up to
// [Config.Batches] of them, in log order. An empty result means nothing is available.
func (s *Storage) Lease() ([]Segment, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	// The DSN asks for immediate transactions, so concurrent leases queue on the write lock
	// before they read.
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", translate(err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := timestamp(time.Now())
	rows, err := tx.Query(
		`
		select seq, id, type, payload, items, appended_at, leases
		from segment
		where leased = 0 and available_at <= ?
		order by seq
		limit ?
		`,
		now, s.cfg.batches,
	)
	if err != nil {
		return nil, fmt.Errorf("select: %w", translate(err))
	}

	segments := make([]Segment, 0, s.cfg.batches)
	for rows.Next() {
		var (
			seg        Segment
			appendedAt int64
		)
		if err := rows.Scan(
			&seg.Seq, &seg.ID, &seg.Type, &seg.Payload, &seg.Items, &appendedAt, &seg.Leases,
		); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan: %w", err)
		}
		seg.AppendedAt = fromTimestamp(appendedAt)
		seg.Leases++
		segments = append(segments, seg)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	if len(segments) == 0 {
		return segments, nil
	}

	ids := make([]SegmentID, len(segments))
	for i, seg := range segments {
		ids[i] = seg.ID
	}
	if _, err := tx.Exec(
		`update segment set leased = 1, leases = leases + 1 where id in (select value from json_each(?))`,
		idList(ids),
	); err != nil {
		return nil, fmt.Errorf("update: %w", translate(err))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", translate(err))
	}
	return segments, nil
}

// Release ends the lease of the segments without removing them. They can't be leased again
// until [Config.Cooldown] passes.
func (s *Storage) Release(ids ...SegmentID) error {
	if s.closed.Load() {
		return ErrClosed
	}

	var availableAt int64
	if s.cfg.cooldown > 0 {
		availableAt = timestamp(time.Now().Add(s.cfg.cooldown))
	}

	_, err := s.db.Exec(
		`update segment set leased = 0, available_at = ? where id in (select value from json_each(?))`,
		availableAt, idList(ids),
	)
	return translate(err)
}

// Remove deletes delivered segments from the log.
func (s *Storage) Remove(ids ...SegmentID) error {
	if s.closed.Load() {
		return ErrClosed
	}

	_, err := s.db.Exec(
		`delete from segment where id in (select value from json_each(?))`,
		idList(ids),
	)
	return translate(err)
}

// Stats summarizes the log.
func (s *Storage) Stats() (*Stats, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var (
		stats         Stats
		nextAvailable int64
	)
	err := s.db.QueryRow(
		`
		select
			count(*),
			coalesce(sum(items), 0),
			coalesce(sum(leased), 0),
			coalesce(min(case when leased = 0 and available_at > ? then available_at end), 0)
		from segment
		`,
		timestamp(time.Now()),
	).Scan(&stats.Segments, &stats.Items, &stats.Leased, &nextAvailable)
	if err != nil {
		return nil, translate(err)
	}

	stats.NextAvailable = fromTimestamp(nextAvailable)
	return &stats, nil
}

// Close closes the database. Later calls return [ErrClosed].
func (s *Storage) Close() error {
	if s.closed.Swap(true) {
		return ErrClosed
	}
	return s.db.Close()
}

func dsn(cfg *Config) string {
	params := url.Values{}
	params.Set("_txlock", "immediate")
	params.Set("_busy_timeout", "5000")

	if cfg.file == memory {
		// A unique name keeps separate storages of one process apart.
		params.Set("mode", "memory")
		params.Set("cache", "shared")
		return "file:" + uuid.NewString() + "?" + params.Encode()
	}

	params.Set("_journal_mode", "WAL")
	params.Set("_cache_size", "-20000")
	if cfg.durable {
		params.Set("_synchronous", "FULL")
	} else {
		params.Set("_synchronous", "NORMAL")
	}
	return cfg.file + "?" + params.Encode()
}

var migrations = []string{
	`
	create table if not exists segment (
		seq          integer primary key autoincrement,
		id           text not null unique,
		type         text not null,
		payload      blob not null,
		items        int not null,
		appended_at  int not null,
		leased       int not null default 0,
		leases       int not null default 0,
		available_at int not null default 0
	) strict
	`,
	`
	create index if not exists segment_available
	on segment (seq, available_at)
	where leased = 0
	`,
	// Leases don't survive a restart.
	`update segment set leased = 0`,
}

func migrate(db *sql.DB) error {
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func translate(err error) error {
	if err != nil && err.Error() == "sql: database is closed" {
		return ErrClosed
	}
	return err
}

func idList(ids []SegmentID) string {
	data, _ := json.Marshal(ids)
	return string(data)
}

func timestamp(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromTimestamp(ts int64) time.Time {
	return time.Unix(0, ts)
}
