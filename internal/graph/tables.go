package graph

import "github.com/fossdd/pijul-sub000/internal/store"

// Root byte prefixes. Every table sharing a Store must use a distinct byte;
// internal/graph claims 0x01-0x0f, internal/channel claims 0x10-0x1f (see
// internal/channel/tables.go), internal/change claims 0x20-0x2f. 0xff is
// reserved by internal/store for the pristine Version marker.
const (
	rootGraph     byte = 0x01 // Vertex -> SerializedEdge (multi)
	rootInternal  byte = 0x02 // Hash -> ChangeId
	rootExternal  byte = 0x03 // ChangeId -> Hash
	rootInodes    byte = 0x04 // Inode -> Position
	rootRevinodes byte = 0x05 // Position -> Inode (keyed by encoded Position)
	rootTree      byte = 0x06 // (Inode,name) -> Inode
	rootRevtree   byte = 0x07 // Inode -> (Inode,name)
)

var positionKeyCodec = store.KeyCodec[Position]{
	Encode: PositionCodec.Encode,
	Decode: PositionCodec.Decode,
}

// Tables bundles the graph-layer named roots (spec.md §3's first six table
// rows) as typed accessors over a single internal/store.Store.
type Tables struct {
	Graph     store.MultiTable[Vertex, SerializedEdge]
	Internal  store.Table[Hash, ChangeId]
	External  store.Table[ChangeId, Hash]
	Inodes    store.Table[Inode, Position]
	Revinodes store.Table[Position, Inode]
	Tree      store.Table[TreeKey, Inode]
	Revtree   store.Table[Inode, TreeKey]
}

// NewTables constructs the graph-layer table accessors. It holds no store
// state itself: every method takes an explicit *store.Txn, matching the
// spec's "every page read borrows from the transaction" resource model.
func NewTables() Tables {
	return Tables{
		Graph:     store.NewMultiTable[Vertex, SerializedEdge](rootGraph, VertexCodec, SerializedEdgeCodec),
		Internal:  store.NewTable[Hash, ChangeId](rootInternal, HashKeyCodec, ChangeIdValueCodec),
		External:  store.NewTable[ChangeId, Hash](rootExternal, ChangeIdCodec, HashCodec),
		Inodes:    store.NewTable[Inode, Position](rootInodes, InodeCodec, PositionCodec),
		Revinodes: store.NewTable[Position, Inode](rootRevinodes, positionKeyCodec, InodeValueCodec),
		Tree:      store.NewTable[TreeKey, Inode](rootTree, TreeKeyCodec, InodeValueCodec),
		Revtree:   store.NewTable[Inode, TreeKey](rootRevtree, InodeCodec, store.ValueCodec[TreeKey]{Encode: TreeKeyCodec.Encode, Decode: TreeKeyCodec.Decode}),
	}
}

// PutInode installs inodes(i)=v and revinodes(v)=i together, centralizing
// the two-sided update so a single-sided write (breaking invariant 8:
// "inodes(i) = v iff revinodes(v) = i") is syntactically impossible from
// outside this function, per spec.md §9's design note.
func (t Tables) PutInode(txn *store.Txn, i Inode, v Position) error {
	if _, err := t.Inodes.Put(txn, i, v); err != nil {
		return err
	}
	_, err := t.Revinodes.Put(txn, v, i)
	return err
}

// DelInode removes both sides of the inodes/revinodes mapping for i.
func (t Tables) DelInode(txn *store.Txn, i Inode) error {
	v, ok, err := t.Inodes.Get(txn, i)
	if err != nil || !ok {
		return err
	}
	if _, err := t.Inodes.Del(txn, i); err != nil {
		return err
	}
	_, err = t.Revinodes.Del(txn, v)
	return err
}

// PutTreeEntry installs tree(parent,name)=child and revtree(child)=(parent,name)
// together (same centralization rationale as PutInode).
func (t Tables) PutTreeEntry(txn *store.Txn, parent Inode, name string, child Inode) error {
	key := TreeKey{Parent: parent, Name: name}
	if _, err := t.Tree.Put(txn, key, child); err != nil {
		return err
	}
	_, err := t.Revtree.Put(txn, child, key)
	return err
}

// DelTreeEntry removes both sides of a tree/revtree mapping for child.
func (t Tables) DelTreeEntry(txn *store.Txn, child Inode) error {
	key, ok, err := t.Revtree.Get(txn, child)
	if err != nil || !ok {
		return err
	}
	if _, err := t.Tree.Del(txn, key); err != nil {
		return err
	}
	_, err = t.Revtree.Del(txn, child)
	return err
}

// TreeChildrenPrefix returns the raw key prefix matching every `tree`
// entry whose parent is `parent`, for callers (internal/record) that need
// to enumerate a directory's known children rather than look up one name.
func (t Tables) TreeChildrenPrefix(parent Inode) []byte {
	return t.Tree.EncodeKeyPrefix(InodeCodec.Encode(parent))
}

// PutInternal installs internal(hash)=id and external(id)=hash together,
// preserving invariant 6 (internal/external are mutually inverse).
func (t Tables) PutInternal(txn *store.Txn, h Hash, id ChangeId) error {
	if _, err := t.Internal.Put(txn, h, id); err != nil {
		return err
	}
	_, err := t.External.Put(txn, id, h)
	return err
}
