package graph

import (
	"encoding/binary"
	"fmt"

	"github.com/fossdd/pijul-sub000/internal/store"
)

// Fixed encoded widths. Keeping these fixed-width (rather than
// variable-length varints) is what lets internal/store's raw cursor scans
// split a storage key back into (table key, stored value) without a length
// prefix, and is what makes key order == numeric order for the cursor-seek
// lookups find_block/find_block_end rely on.
const (
	changeIdWidth = 8
	posWidth      = 8
	vertexWidth   = changeIdWidth + posWidth + posWidth // 24
	hashWidth     = HashSize
	inodeWidth    = 8
)

func putU64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }
func getU64(b []byte) uint64    { return binary.BigEndian.Uint64(b) }

// ChangeIdCodec encodes ChangeId as 8 big-endian bytes, so that ascending
// byte order matches ascending ChangeId order.
var ChangeIdCodec = store.KeyCodec[ChangeId]{
	Encode: func(id ChangeId) []byte {
		b := make([]byte, changeIdWidth)
		putU64(b, uint64(id))
		return b
	},
	Decode: func(b []byte) (ChangeId, error) {
		if len(b) != changeIdWidth {
			return 0, fmt.Errorf("graph: bad ChangeId width %d", len(b))
		}
		return ChangeId(getU64(b)), nil
	},
}

// ChangeIdValueCodec is ChangeIdCodec reused as a ValueCodec (same layout).
var ChangeIdValueCodec = store.ValueCodec[ChangeId]{
	Encode: ChangeIdCodec.Encode,
	Decode: ChangeIdCodec.Decode,
}

// HashCodec encodes Hash as its 32 raw bytes.
var HashCodec = store.ValueCodec[Hash]{
	Encode: func(h Hash) []byte { return append([]byte{}, h[:]...) },
	Decode: func(b []byte) (Hash, error) {
		if len(b) != hashWidth {
			return Hash{}, fmt.Errorf("graph: bad Hash width %d", len(b))
		}
		var h Hash
		copy(h[:], b)
		return h, nil
	},
}

// HashKeyCodec is HashCodec adapted to KeyCodec (same byte layout).
var HashKeyCodec = store.KeyCodec[Hash]{
	Encode: HashCodec.Encode,
	Decode: HashCodec.Decode,
}

// VertexCodec encodes Vertex as change||start||end, 24 bytes, so ascending
// byte order matches Vertex.Less (change, then start, then end).
var VertexCodec = store.KeyCodec[Vertex]{
	Encode: func(v Vertex) []byte {
		b := make([]byte, vertexWidth)
		putU64(b[0:8], uint64(v.Change))
		putU64(b[8:16], uint64(v.Start))
		putU64(b[16:24], uint64(v.End))
		return b
	},
	Decode: func(b []byte) (Vertex, error) {
		if len(b) != vertexWidth {
			return Vertex{}, fmt.Errorf("graph: bad Vertex width %d", len(b))
		}
		return Vertex{
			Change: ChangeId(getU64(b[0:8])),
			Start:  ChangePosition(getU64(b[8:16])),
			End:    ChangePosition(getU64(b[16:24])),
		}, nil
	},
}

// serializedEdgeWidth: flag:8||destPos:56 packed into 8 bytes, then
// destChange(8) + introducedBy(8).
const serializedEdgeWidth = posWidth + changeIdWidth + changeIdWidth

// SerializedEdgeCodec packs a SerializedEdge so that ascending byte order
// sorts first by Flag, matching spec.md's requirement that iter_adjacent's
// [min_flag,max_flag] range scan work directly off on-disk key order.
var SerializedEdgeCodec = store.ValueCodec[SerializedEdge]{
	Encode: func(e SerializedEdge) []byte {
		b := make([]byte, serializedEdgeWidth)
		putU64(b[0:8], uint64(e.Flag)<<56|uint64(e.DestPos&MaxChangePosition))
		putU64(b[8:16], uint64(e.DestChange))
		putU64(b[16:24], uint64(e.IntroducedBy))
		return b
	},
	Decode: func(b []byte) (SerializedEdge, error) {
		if len(b) != serializedEdgeWidth {
			return SerializedEdge{}, fmt.Errorf("graph: bad SerializedEdge width %d", len(b))
		}
		w := getU64(b[0:8])
		return SerializedEdge{
			Flag:         EdgeFlags(w >> 56),
			DestChange:   ChangeId(getU64(b[8:16])),
			DestPos:      ChangePosition(w) & MaxChangePosition,
			IntroducedBy: ChangeId(getU64(b[16:24])),
		}, nil
	},
}

// InodeCodec encodes Inode as 8 big-endian bytes.
var InodeCodec = store.KeyCodec[Inode]{
	Encode: func(i Inode) []byte {
		b := make([]byte, inodeWidth)
		putU64(b, uint64(i))
		return b
	},
	Decode: func(b []byte) (Inode, error) {
		if len(b) != inodeWidth {
			return 0, fmt.Errorf("graph: bad Inode width %d", len(b))
		}
		return Inode(getU64(b)), nil
	},
}

var InodeValueCodec = store.ValueCodec[Inode]{Encode: InodeCodec.Encode, Decode: InodeCodec.Decode}

// PositionCodec encodes a resolved Position (change+pos) as 16 bytes. It is
// only ever used for *allocated* positions (the `inodes`/`revinodes` tables
// only ever reference committed vertices).
var PositionCodec = store.ValueCodec[Position]{
	Encode: func(p Position) []byte {
		b := make([]byte, changeIdWidth+posWidth)
		putU64(b[0:8], uint64(p.Change.Id))
		putU64(b[8:16], uint64(p.Pos))
		return b
	},
	Decode: func(b []byte) (Position, error) {
		if len(b) != changeIdWidth+posWidth {
			return Position{}, fmt.Errorf("graph: bad Position width %d", len(b))
		}
		return AllocatedPosition(ChangeId(getU64(b[0:8])), ChangePosition(getU64(b[8:16]))), nil
	},
}

// TreeKey is the (parent inode, name) compound key of the `tree` table.
type TreeKey struct {
	Parent Inode
	Name   string
}

var TreeKeyCodec = store.KeyCodec[TreeKey]{
	Encode: func(k TreeKey) []byte {
		b := make([]byte, inodeWidth+len(k.Name))
		putU64(b[0:8], uint64(k.Parent))
		copy(b[8:], k.Name)
		return b
	},
	Decode: func(b []byte) (TreeKey, error) {
		if len(b) < inodeWidth {
			return TreeKey{}, fmt.Errorf("graph: bad TreeKey width %d", len(b))
		}
		return TreeKey{Parent: Inode(getU64(b[0:8])), Name: string(b[8:])}, nil
	},
}
