// Package store provides the transactional key-value layer every other
// subsystem of a pijul-sub000 pristine is built on: ordered tables with
// copy-on-write snapshots, multiple named roots, and multi-reader/
// single-writer semantics.
//
// It is backed by BadgerDB (github.com/dgraph-io/badger/v4), whose own
// MVCC model already provides the copy-on-write pages and the single-writer/
// multi-reader contract the spec calls for; this package's job is to
// project Badger's flat key space into the typed, ordered, multi-value
// "named table" abstraction the graph/channel/change layers expect
// (Table.Get/Put/Del/Iter/CursorSet, §4.1), and to make puts/dels report
// whether they changed anything, matching the store contract in spec.md:
// "put returns false when (k,v) was already present; del returns true iff
// something was removed".
package store

import (
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dustin/go-humanize"
	"github.com/go-logr/logr"
)

// Store is one pristine's transactional data file plus lock file (spec.md §6
// "Pristine on-disk layout"). A single data file holds every named root
// (table); Badger's own prefix iteration gives each table ordered keys.
type Store struct {
	mu     sync.RWMutex
	db     *badger.DB
	log    logr.Logger
	closed bool
}

// Options configures Open.
type Options struct {
	// Dir is the pristine's data directory. Required unless InMemory.
	Dir string
	// InMemory runs the store with no on-disk files (tests, scratch pristines).
	InMemory bool
	// SyncWrites forces fsync on every commit (durability over throughput).
	SyncWrites bool
	// Log is the injectable log facility (spec.md §6 Environment: "a log
	// facility is used throughout but is a pure side-effect; implementations
	// may no-op"). The zero value is logr.Discard(), a legal no-op logger.
	Log logr.Logger
}

// Version is the pristine's on-disk format version (spec.md §6: "a
// monotonically-increasing Version root"). A mismatch is a hard,
// non-migrating error in this implementation (no prior version exists yet
// to migrate from).
const Version = 1

var versionKey = []byte("\xffpristine:version")

// Open opens (creating if absent) the pristine store at opts.Dir.
func Open(opts Options) (*Store, error) {
	bopts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		bopts = bopts.WithInMemory(true)
	}
	bopts = bopts.WithSyncWrites(opts.SyncWrites).WithLogger(nil)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	s := &Store{db: db, log: opts.Log}
	if s.log.GetSink() == nil {
		s.log = logr.Discard()
	}

	if err := s.checkVersion(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.log.V(1).Info("pristine opened", "dir", opts.Dir, "in_memory", opts.InMemory)
	return s, nil
}

func (s *Store) checkVersion() error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(versionKey)
		if err == badger.ErrKeyNotFound {
			return txn.Set(versionKey, encodeUint64(Version))
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if got := decodeUint64(val); got != Version {
			return fmt.Errorf("store: pristine version mismatch: on-disk=%d, implementation=%d", got, Version)
		}
		return nil
	})
}

// Close releases the underlying data file and lock file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Stats reports coarse on-disk size, human-readable, for operators/logs.
type Stats struct {
	LSMSize   int64
	VLogSize  int64
	HumanSize string
}

func (s *Store) Stats() Stats {
	lsm, vlog := s.db.Size()
	return Stats{LSMSize: lsm, VLogSize: vlog, HumanSize: humanize.Bytes(uint64(lsm + vlog))}
}

// View opens a read-only transaction: a consistent snapshot as of the call.
// Many readers may hold a View concurrently with one another and with a
// single in-flight Update (spec.md §5: "one writer at a time... arbitrarily
// many concurrent readers").
func (s *Store) View(fn func(*Txn) error) error {
	return s.db.View(func(bt *badger.Txn) error {
		return fn(&Txn{bt: bt, writable: false})
	})
}

// Update opens a read-write transaction. fn's return value determines
// commit (nil) or rollback (non-nil, or panic): "writes are not visible
// outside the transaction until commit, which... releases the write lock.
// On failure, the transaction is dropped and the pristine is untouched."
func (s *Store) Update(fn func(*Txn) error) error {
	return s.db.Update(func(bt *badger.Txn) error {
		return fn(&Txn{bt: bt, writable: true})
	})
}

// Txn is a single store transaction, read-only or read-write. Every table
// accessor (graph.Graph, channel.Channel, ...) borrows a *Txn; no handle
// derived from it may be used after the transaction's Commit/Discard.
type Txn struct {
	bt       *badger.Txn
	writable bool
}

// Writable reports whether this transaction may mutate the store.
func (t *Txn) Writable() bool { return t.writable }

// RawEntry is one raw key observed by a cursor scan.
type RawEntry struct {
	Key []byte
}

// SeekForward returns, in ascending key order starting at >= from and
// bounded to keys sharing rootPrefix, up to limit raw keys. It is the
// ascending counterpart of SeekBackward, which internal/graph.FindBlock
// uses for its lookup.
func (t *Txn) SeekForward(rootPrefix, from []byte, limit int) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = rootPrefix
	it := t.bt.NewIterator(opts)
	defer it.Close()
	var out [][]byte
	for it.Seek(from); it.ValidForPrefix(rootPrefix) && len(out) < limit; it.Next() {
		out = append(out, it.Item().KeyCopy(nil))
	}
	return out, nil
}

// SeekBackward returns, in descending key order ending at <= from and
// bounded to keys sharing rootPrefix, up to limit raw keys.
func (t *Txn) SeekBackward(rootPrefix, from []byte, limit int) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = rootPrefix
	opts.Reverse = true
	it := t.bt.NewIterator(opts)
	defer it.Close()
	// Reverse iterators in Badger seek to the largest key <= from.
	var out [][]byte
	for it.Seek(from); it.ValidForPrefix(rootPrefix) && len(out) < limit; it.Next() {
		out = append(out, it.Item().KeyCopy(nil))
	}
	return out, nil
}

// KV is one raw key/value pair observed by a raw cursor scan.
type KV struct {
	Key   []byte
	Value []byte
}

// SeekForwardKV is SeekForward but also returns each entry's value, for
// callers enumerating a Table (rather than a MultiTable) by key prefix —
// e.g. internal/record walking every `tree` entry under one parent inode.
func (t *Txn) SeekForwardKV(rootPrefix, from []byte, limit int) ([]KV, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = rootPrefix
	it := t.bt.NewIterator(opts)
	defer it.Close()
	var out []KV
	for it.Seek(from); it.ValidForPrefix(rootPrefix) && len(out) < limit; it.Next() {
		item := it.Item()
		k := item.KeyCopy(nil)
		v, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		out = append(out, KV{Key: k, Value: v})
	}
	return out, nil
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * (7 - i)))
	}
	return b
}

func decodeUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
