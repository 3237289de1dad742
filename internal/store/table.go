package store

import (
	"bytes"
	"fmt"
	"iter"

	"github.com/dgraph-io/badger/v4"
)

// KeyCodec and ValueCodec let a Table be generic over arbitrary Go types
// while keeping byte layout explicit and order-preserving: Encode must
// produce keys whose lexicographic byte order matches the type's intended
// iteration order (graph.Vertex.Less, ChangeId ascending, etc).
type KeyCodec[K any] struct {
	Encode func(K) []byte
	Decode func([]byte) (K, error)
}

type ValueCodec[V any] struct {
	Encode func(V) []byte
	Decode func([]byte) (V, error)
}

// Table is a single-valued named root: Key → Value, one value per key.
// It corresponds to the `internal`, `external`, `inodes`, `revinodes`,
// `tree`, `revtree`, `changes`, `revchanges`, `states` and `tags` tables of
// spec.md §3.
type Table[K, V any] struct {
	root byte
	key  KeyCodec[K]
	val  ValueCodec[V]
}

// NewTable constructs a single-valued table under root byte prefix r.
// Two tables sharing a prefix would alias each other's keys, so callers
// must assign each table a distinct byte (see internal/graph/tables.go and
// internal/channel/tables.go for the assignment).
func NewTable[K, V any](r byte, key KeyCodec[K], val ValueCodec[V]) Table[K, V] {
	return Table[K, V]{root: r, key: key, val: val}
}

func (t Table[K, V]) storageKey(k K) []byte {
	enc := t.key.Encode(k)
	out := make([]byte, 1+len(enc))
	out[0] = t.root
	copy(out[1:], enc)
	return out
}

// RootPrefix returns this table's single-byte root prefix.
func (t Table[K, V]) RootPrefix() []byte { return []byte{t.root} }

// EncodeKeyPrefix returns root||partialKey, for callers that want to scan
// every entry whose encoded key starts with partialKey (e.g. every `tree`
// entry under one parent inode, where the full key also has a variable-
// length name suffix).
func (t Table[K, V]) EncodeKeyPrefix(partialKey []byte) []byte {
	out := make([]byte, 1+len(partialKey))
	out[0] = t.root
	copy(out[1:], partialKey)
	return out
}

// DecodeEntry splits a raw KV scanned under this table's prefix back into
// (key, value), decoding the whole key from the bytes after the root byte.
func (t Table[K, V]) DecodeEntry(raw KV) (K, V, error) {
	var zeroK K
	var zeroV V
	if len(raw.Key) < 1 {
		return zeroK, zeroV, fmt.Errorf("store: short key")
	}
	k, err := t.key.Decode(raw.Key[1:])
	if err != nil {
		return zeroK, zeroV, err
	}
	v, err := t.val.Decode(raw.Value)
	if err != nil {
		return zeroK, zeroV, err
	}
	return k, v, nil
}

// Get fetches the value stored at k, if any.
func (t Table[K, V]) Get(txn *Txn, k K) (V, bool, error) {
	var zero V
	item, err := txn.bt.Get(t.storageKey(k))
	if err == badger.ErrKeyNotFound {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return zero, false, err
	}
	v, err := t.val.Decode(raw)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Put stores v at k, returning false iff (k,v) was already present with the
// exact same encoded value (spec.md §4.1: "put returns false when (k,v) was
// already present").
func (t Table[K, V]) Put(txn *Txn, k K, v V) (bool, error) {
	if !txn.writable {
		return false, fmt.Errorf("store: put on read-only transaction")
	}
	sk := t.storageKey(k)
	newVal := t.val.Encode(v)
	if item, err := txn.bt.Get(sk); err == nil {
		old, err := item.ValueCopy(nil)
		if err != nil {
			return false, err
		}
		if bytes.Equal(old, newVal) {
			return false, nil
		}
	} else if err != badger.ErrKeyNotFound {
		return false, err
	}
	if err := txn.bt.Set(sk, newVal); err != nil {
		return false, err
	}
	return true, nil
}

// Del removes the value at k, returning true iff something was removed.
func (t Table[K, V]) Del(txn *Txn, k K) (bool, error) {
	if !txn.writable {
		return false, fmt.Errorf("store: del on read-only transaction")
	}
	sk := t.storageKey(k)
	if _, err := txn.bt.Get(sk); err == badger.ErrKeyNotFound {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if err := txn.bt.Delete(sk); err != nil {
		return false, err
	}
	return true, nil
}

// MultiTable is a multi-valued named root: Key → {Value}, ordered by Value.
// It backs `graph`, `dep`, `revdep`, `touched_files` and `rev_touched_files`
// (spec.md §3). Each (key,value) pair is stored as its own Badger entry
// keyed by root||encode(key)||encode(value), so Badger's own ordered prefix
// iteration gives "iteration ordered by vertex then edge flags" for free —
// this is exactly what makes EdgeFlags bit values load-bearing (spec.md §9).
type MultiTable[K, V any] struct {
	root byte
	key  KeyCodec[K]
	val  ValueCodec[V]
}

func NewMultiTable[K, V any](r byte, key KeyCodec[K], val ValueCodec[V]) MultiTable[K, V] {
	return MultiTable[K, V]{root: r, key: key, val: val}
}

func (t MultiTable[K, V]) prefix(k K) []byte {
	enc := t.key.Encode(k)
	out := make([]byte, 1+len(enc))
	out[0] = t.root
	copy(out[1:], enc)
	return out
}

func (t MultiTable[K, V]) storageKey(k K, v V) []byte {
	p := t.prefix(k)
	enc := t.val.Encode(v)
	out := make([]byte, len(p)+len(enc))
	copy(out, p)
	copy(out[len(p):], enc)
	return out
}

// Put inserts (k,v), returning false iff it was already present.
func (t MultiTable[K, V]) Put(txn *Txn, k K, v V) (bool, error) {
	if !txn.writable {
		return false, fmt.Errorf("store: put on read-only transaction")
	}
	sk := t.storageKey(k, v)
	if _, err := txn.bt.Get(sk); err == nil {
		return false, nil
	} else if err != badger.ErrKeyNotFound {
		return false, err
	}
	if err := txn.bt.Set(sk, []byte{}); err != nil {
		return false, err
	}
	return true, nil
}

// Del removes (k,v), returning true iff it was present.
func (t MultiTable[K, V]) Del(txn *Txn, k K, v V) (bool, error) {
	if !txn.writable {
		return false, fmt.Errorf("store: del on read-only transaction")
	}
	sk := t.storageKey(k, v)
	if _, err := txn.bt.Get(sk); err == badger.ErrKeyNotFound {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if err := txn.bt.Delete(sk); err != nil {
		return false, err
	}
	return true, nil
}

// Iter walks every value stored under k, in ascending encoded-value order.
func (t MultiTable[K, V]) Iter(txn *Txn, k K) iter.Seq2[V, error] {
	return func(yield func(V, error) bool) {
		p := t.prefix(k)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = p
		it := txn.bt.NewIterator(opts)
		defer it.Close()
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			full := it.Item().KeyCopy(nil)
			v, err := t.val.Decode(full[len(p):])
			if !yield(v, err) {
				return
			}
			if err != nil {
				return
			}
		}
	}
}

// RevIter walks every value stored under k in descending encoded-value order.
func (t MultiTable[K, V]) RevIter(txn *Txn, k K) iter.Seq2[V, error] {
	return func(yield func(V, error) bool) {
		p := t.prefix(k)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = p
		opts.Reverse = true
		// Badger's reverse iteration needs a seek key past the prefix range.
		seek := append(append([]byte{}, p...), 0xff, 0xff, 0xff, 0xff)
		it := txn.bt.NewIterator(opts)
		defer it.Close()
		for it.Seek(seek); it.ValidForPrefix(p); it.Next() {
			full := it.Item().KeyCopy(nil)
			v, err := t.val.Decode(full[len(p):])
			if !yield(v, err) {
				return
			}
			if err != nil {
				return
			}
		}
	}
}

// First returns the smallest value stored under k (by encoded order), if any.
func (t MultiTable[K, V]) First(txn *Txn, k K) (V, bool, error) {
	var zero V
	for v, err := range t.Iter(txn, k) {
		return v, true, err
	}
	return zero, false, nil
}

// IsEmpty reports whether k has no values at all.
func (t MultiTable[K, V]) IsEmpty(txn *Txn, k K) (bool, error) {
	_, ok, err := t.First(txn, k)
	return !ok, err
}

// RootPrefix returns the single-byte root prefix this table's keys live
// under, for use with Txn.SeekBackward/SeekForward by packages (internal/graph) that need a
// lower-bound cursor scan across an entire multi-valued table rather than
// a single key's values (find_block/find_block_end).
func (t MultiTable[K, V]) RootPrefix() []byte { return []byte{t.root} }

// EncodeKeyPrefix exposes root||encode(k) for callers doing their own raw
// cursor seeks.
func (t MultiTable[K, V]) EncodeKeyPrefix(k K) []byte { return t.prefix(k) }

// DecodeKeyFromStorage splits a raw storage key (root||encKey||encVal) back
// into k given the exact byte width keyLen of the encoded key, which fixed-
// width key codecs (graph.Vertex, ChangeId) know statically.
func (t MultiTable[K, V]) DecodeKeyFromStorage(raw []byte, keyLen int) (K, V, error) {
	var zeroK K
	var zeroV V
	if len(raw) < 1+keyLen {
		return zeroK, zeroV, fmt.Errorf("store: short key")
	}
	k, err := t.key.Decode(raw[1 : 1+keyLen])
	if err != nil {
		return zeroK, zeroV, err
	}
	v, err := t.val.Decode(raw[1+keyLen:])
	if err != nil {
		return zeroK, zeroV, err
	}
	return k, v, nil
}
