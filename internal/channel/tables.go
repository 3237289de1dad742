// Package channel implements a named view over the pristine graph: each
// channel carries its own changes/revchanges/states/tags/dep/revdep/
// touched_files tables (spec.md §3) even though channels may share
// vertices. Multiple channels live in the same internal/store.Store, so
// every table key is scoped by channel name.
package channel

import (
	"encoding/binary"
	"fmt"

	"github.com/fossdd/pijul-sub000/internal/graph"
	"github.com/fossdd/pijul-sub000/internal/store"
)

// Root byte prefixes (0x10-0x1f reserved for this package; see
// internal/graph/tables.go for the overall allocation scheme).
const (
	rootChanges      byte = 0x10 // ChangeId -> ApplyTimestamp
	rootRevchanges   byte = 0x11 // ApplyTimestamp -> (ChangeId, Merkle)
	rootStates       byte = 0x12 // Merkle -> ApplyTimestamp
	rootTags         byte = 0x13 // ApplyTimestamp -> Hash
	rootDep          byte = 0x14 // ChangeId -> ChangeId (multi)
	rootRevdep       byte = 0x15 // ChangeId -> ChangeId (multi)
	rootTouchedFiles byte = 0x16 // (Inode) -> ChangeId (multi)
	rootRevTouched   byte = 0x17 // ChangeId -> Inode (multi)
	rootHead         byte = 0x18 // () -> headState (counter + running Merkle)
)

// ApplyTimestamp is a channel's own strictly-increasing apply counter,
// defining its total order (spec.md: "revchanges defines a total order").
type ApplyTimestamp uint64

// scoped scopes an inner key by channel name: 2-byte big-endian name
// length, the name, then the inner key's bytes. Ordering within one
// channel matches the inner codec's order; channels never interleave
// because the length-prefixed name always sorts before any inner byte.
func scoped[K any](name string, inner store.KeyCodec[K]) store.KeyCodec[scopedKey[K]] {
	prefix := make([]byte, 2+len(name))
	binary.BigEndian.PutUint16(prefix, uint16(len(name)))
	copy(prefix[2:], name)
	return store.KeyCodec[scopedKey[K]]{
		Encode: func(k scopedKey[K]) []byte {
			enc := inner.Encode(k.Key)
			out := make([]byte, len(prefix)+len(enc))
			copy(out, prefix)
			copy(out[len(prefix):], enc)
			return out
		},
		Decode: func(b []byte) (scopedKey[K], error) {
			if len(b) < len(prefix) {
				return scopedKey[K]{}, fmt.Errorf("channel: short scoped key")
			}
			k, err := inner.Decode(b[len(prefix):])
			return scopedKey[K]{Key: k}, err
		},
	}
}

type scopedKey[K any] struct{ Key K }

func wrap[K any](k K) scopedKey[K] { return scopedKey[K]{Key: k} }

var timestampCodec = store.KeyCodec[ApplyTimestamp]{
	Encode: func(t ApplyTimestamp) []byte {
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(t))
		return b
	},
	Decode: func(b []byte) (ApplyTimestamp, error) {
		if len(b) != 8 {
			return 0, fmt.Errorf("channel: bad timestamp width %d", len(b))
		}
		return ApplyTimestamp(binary.BigEndian.Uint64(b)), nil
	},
}

var timestampValueCodec = store.ValueCodec[ApplyTimestamp]{Encode: timestampCodec.Encode, Decode: timestampCodec.Decode}

// revEntry is the (ChangeId, Merkle) value of the `revchanges` table: the
// totally-ordered log entry with its running state.
type revEntry struct {
	Id     graph.ChangeId
	Merkle graph.Merkle
}

var revEntryCodec = store.ValueCodec[revEntry]{
	Encode: func(e revEntry) []byte {
		b := make([]byte, 8+graph.HashSize)
		binary.BigEndian.PutUint64(b[:8], uint64(e.Id))
		copy(b[8:], e.Merkle[:])
		return b
	},
	Decode: func(b []byte) (revEntry, error) {
		if len(b) != 8+graph.HashSize {
			return revEntry{}, fmt.Errorf("channel: bad revEntry width %d", len(b))
		}
		var m graph.Merkle
		copy(m[:], b[8:])
		return revEntry{Id: graph.ChangeId(binary.BigEndian.Uint64(b[:8])), Merkle: m}, nil
	},
}

// headState is the channel's head record: its next ApplyTimestamp and
// current running Merkle, kept as a single key so Open can recover channel
// state in O(1) instead of scanning revchanges (grounded on the teacher's
// WAL.Sequence atomic counter pattern, pkg/storage/wal.go).
type headState struct {
	Counter ApplyTimestamp
	Merkle  graph.Merkle
}

var headStateCodec = store.ValueCodec[headState]{
	Encode: func(h headState) []byte {
		b := make([]byte, 8+graph.HashSize)
		binary.BigEndian.PutUint64(b[:8], uint64(h.Counter))
		copy(b[8:], h.Merkle[:])
		return b
	},
	Decode: func(b []byte) (headState, error) {
		if len(b) != 8+graph.HashSize {
			return headState{}, fmt.Errorf("channel: bad head width %d", len(b))
		}
		var m graph.Merkle
		copy(m[:], b[8:])
		return headState{Counter: ApplyTimestamp(binary.BigEndian.Uint64(b[:8])), Merkle: m}, nil
	},
}

type unitKey struct{}

var unitKeyCodec = store.KeyCodec[unitKey]{
	Encode: func(unitKey) []byte { return nil },
	Decode: func([]byte) (unitKey, error) { return unitKey{}, nil },
}

// Tables bundles one channel's named roots, all scoped by channel name.
type Tables struct {
	name         string
	Changes      store.Table[scopedKey[graph.ChangeId], ApplyTimestamp]
	Revchanges   store.Table[scopedKey[ApplyTimestamp], revEntry]
	States       store.Table[scopedKey[graph.Merkle], ApplyTimestamp]
	Tags         store.Table[scopedKey[ApplyTimestamp], graph.Hash]
	Dep          store.MultiTable[scopedKey[graph.ChangeId], graph.ChangeId]
	Revdep       store.MultiTable[scopedKey[graph.ChangeId], graph.ChangeId]
	TouchedFiles store.MultiTable[scopedKey[graph.Inode], graph.ChangeId]
	RevTouched   store.MultiTable[scopedKey[graph.ChangeId], graph.Inode]
	Head         store.Table[scopedKey[unitKey], headState]
}

var merkleKeyCodec = store.KeyCodec[graph.Merkle]{
	Encode: func(m graph.Merkle) []byte { return append([]byte{}, m[:]...) },
	Decode: func(b []byte) (graph.Merkle, error) {
		if len(b) != graph.HashSize {
			return graph.Merkle{}, fmt.Errorf("channel: bad merkle width %d", len(b))
		}
		var m graph.Merkle
		copy(m[:], b)
		return m, nil
	},
}

func newTables(name string) Tables {
	return Tables{
		name:         name,
		Changes:      store.NewTable[scopedKey[graph.ChangeId], ApplyTimestamp](rootChanges, scoped(name, graph.ChangeIdCodec), timestampValueCodec),
		Revchanges:   store.NewTable[scopedKey[ApplyTimestamp], revEntry](rootRevchanges, scoped(name, timestampCodec), revEntryCodec),
		States:       store.NewTable[scopedKey[graph.Merkle], ApplyTimestamp](rootStates, scoped(name, merkleKeyCodec), timestampValueCodec),
		Tags:         store.NewTable[scopedKey[ApplyTimestamp], graph.Hash](rootTags, scoped(name, timestampCodec), graph.HashCodec),
		Dep:          store.NewMultiTable[scopedKey[graph.ChangeId], graph.ChangeId](rootDep, scoped(name, graph.ChangeIdCodec), graph.ChangeIdValueCodec),
		Revdep:       store.NewMultiTable[scopedKey[graph.ChangeId], graph.ChangeId](rootRevdep, scoped(name, graph.ChangeIdCodec), graph.ChangeIdValueCodec),
		TouchedFiles: store.NewMultiTable[scopedKey[graph.Inode], graph.ChangeId](rootTouchedFiles, scoped(name, graph.InodeCodec), graph.ChangeIdValueCodec),
		RevTouched:   store.NewMultiTable[scopedKey[graph.ChangeId], graph.Inode](rootRevTouched, scoped(name, graph.ChangeIdCodec), graph.InodeValueCodec),
		Head:         store.NewTable[scopedKey[unitKey], headState](rootHead, scoped(name, unitKeyCodec), headStateCodec),
	}
}
