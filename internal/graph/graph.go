package graph

import (
	"errors"
	"fmt"

	"github.com/fossdd/pijul-sub000/internal/store"
)

// BlockError is returned by FindBlock/FindBlockEnd when no vertex covers
// (or ends at) the requested position. It carries the position so callers
// (apply) can surface spec.md §7's Block{block} error kind.
type BlockError struct{ Block Position }

func (e *BlockError) Error() string { return fmt.Sprintf("graph: no block at %s", e.Block) }

// ErrInvalidChange is returned for structural violations caught while
// mutating the graph (vertex already exists, FOLDER/non-FOLDER mixing).
var ErrInvalidChange = errors.New("graph: invalid change")

// scanLimit bounds how many candidate keys FindBlock/FindBlockEnd examine
// around the seek point before giving up. Blocks are small in practice
// (typically a handful of vertices per changed region), so this is a
// constant rather than something callers tune.
const scanLimit = 64

// Graph is the adjacency layer over a Tables set: find_block/find_block_end
// (cursor seek + bidirectional scan, spec.md §4.2), split_block, and
// iter_adjacent (ordered edge-flag range scan).
type Graph struct {
	T Tables
}

func New() *Graph { return &Graph{T: NewTables()} }

// changePrefix returns the graph-table root prefix restricted to one
// change's vertices, i.e. root || encode(changeId)[:8].
func (g *Graph) changePrefix(id ChangeId) []byte {
	p := g.T.Graph.RootPrefix()
	return append(p, ChangeIdCodec.Encode(id)...)
}

func decodeGraphKey(raw []byte) (Vertex, SerializedEdge, error) {
	// raw = root(1) || vertex(24) || serializedEdge(24)
	if len(raw) != 1+vertexWidth+serializedEdgeWidth {
		return Vertex{}, SerializedEdge{}, fmt.Errorf("graph: malformed key (len=%d)", len(raw))
	}
	v, err := VertexCodec.Decode(raw[1 : 1+vertexWidth])
	if err != nil {
		return Vertex{}, SerializedEdge{}, err
	}
	e, err := SerializedEdgeCodec.Decode(raw[1+vertexWidth:])
	if err != nil {
		return Vertex{}, SerializedEdge{}, err
	}
	return v, e, nil
}

// FindBlock returns the vertex whose [Start,End) covers p, or the
// zero-length inode vertex exactly at p. p.Change must already be resolved
// to a ChangeId (see internal/graph.Position.Resolve).
func (g *Graph) FindBlock(txn *store.Txn, p Position) (Vertex, error) {
	if p.Change.Kind != PositionAllocated {
		return Vertex{}, fmt.Errorf("graph: FindBlock requires an allocated position, got %v", p.Change.Kind)
	}
	if p.Change.Id.IsRoot() && p.Pos == 0 {
		return Root, nil
	}
	prefix := g.changePrefix(p.Change.Id)
	seekKey := append(append([]byte{}, prefix...), VertexCodec.Encode(Vertex{
		Change: p.Change.Id, Start: p.Pos, End: MaxChangePosition,
	})[8:]...)

	raws, err := txn.SeekBackward(prefix, seekKey, scanLimit)
	if err != nil {
		return Vertex{}, err
	}
	for _, raw := range raws {
		v, _, err := decodeGraphKey(raw)
		if err != nil {
			return Vertex{}, err
		}
		if v.Change != p.Change.Id {
			continue
		}
		if v.IsInode() && v.Start == p.Pos {
			return v, nil
		}
		if v.Contains(p.Pos) {
			return v, nil
		}
	}
	return Vertex{}, &BlockError{Block: p}
}

// FindBlockEnd returns the vertex that ends exactly at p.
func (g *Graph) FindBlockEnd(txn *store.Txn, p Position) (Vertex, error) {
	if p.Change.Kind != PositionAllocated {
		return Vertex{}, fmt.Errorf("graph: FindBlockEnd requires an allocated position")
	}
	prefix := g.changePrefix(p.Change.Id)
	seekKey := append(append([]byte{}, prefix...), VertexCodec.Encode(Vertex{
		Change: p.Change.Id, Start: p.Pos, End: MaxChangePosition,
	})[8:]...)

	raws, err := txn.SeekBackward(prefix, seekKey, scanLimit)
	if err != nil {
		return Vertex{}, err
	}
	for _, raw := range raws {
		v, _, err := decodeGraphKey(raw)
		if err != nil {
			return Vertex{}, err
		}
		if v.Change != p.Change.Id {
			continue
		}
		if v.End == p.Pos {
			return v, nil
		}
	}
	return Vertex{}, &BlockError{Block: p}
}

// PutEdge inserts the forward edge from->dest with the given flag and
// author, plus its PARENT counterpart, atomically (invariant 1). dest is
// resolved to its covering vertex via FindBlock so the PARENT edge can be
// keyed by the correct `graph` table entry.
func (g *Graph) PutEdge(txn *store.Txn, from Vertex, flag EdgeFlags, dest Position, introducedBy ChangeId) error {
	destVertex, err := g.FindBlock(txn, dest)
	if err != nil {
		return err
	}
	fwd := SerializedEdge{Flag: flag &^ EdgeParent, DestChange: dest.Change.Id, DestPos: dest.Pos, IntroducedBy: introducedBy}
	if _, err := g.T.Graph.Put(txn, from, fwd); err != nil {
		return err
	}
	rev := fwd.Reverse(destVertex, from.Start)
	_, err = g.T.Graph.Put(txn, destVertex, rev)
	return err
}

// DelEdge removes the forward edge from->dest (matching flag exactly) and
// its PARENT counterpart.
func (g *Graph) DelEdge(txn *store.Txn, from Vertex, flag EdgeFlags, dest Position, introducedBy ChangeId) error {
	destVertex, err := g.FindBlock(txn, dest)
	if err != nil {
		return err
	}
	fwd := SerializedEdge{Flag: flag &^ EdgeParent, DestChange: dest.Change.Id, DestPos: dest.Pos, IntroducedBy: introducedBy}
	if _, err := g.T.Graph.Del(txn, from, fwd); err != nil {
		return err
	}
	rev := fwd.Reverse(destVertex, from.Start)
	_, err = g.T.Graph.Del(txn, destVertex, rev)
	return err
}

// IterAdjacent walks v's outgoing edges whose flags lie in [min,max],
// *ordered*: because SerializedEdgeCodec sorts by Flag first, a range scan
// over the `graph` table's value-ordered keys for v yields exactly the
// wanted slice (spec.md §4.2, §9 "flag ordering is load-bearing").
func (g *Graph) IterAdjacent(txn *store.Txn, v Vertex, min, max EdgeFlags) ([]Edge, error) {
	var out []Edge
	for e, err := range g.T.Graph.Iter(txn, v) {
		if err != nil {
			return nil, err
		}
		if e.Flag < min {
			continue
		}
		if e.Flag > max {
			break
		}
		out = append(out, Edge{From: v, SerializedEdge: e})
	}
	return out, nil
}

// SplitBlock splits vertex v=[a,b) at p (a<p<b) into v1=[a,p) and v2=[p,b),
// preserving invariant 7 (split preserves edges): every outgoing PARENT
// edge of v (edges pointing back up the graph) is moved to v1, and every
// outgoing non-PARENT ("child"/BLOCK-successor) edge is moved to v2. v2
// additionally gets a BLOCK edge from v1 so the two halves remain adjacent
// (invariant 2).
func (g *Graph) SplitBlock(txn *store.Txn, v Vertex, p ChangePosition) (v1, v2 Vertex, err error) {
	if !(v.Start < p && p < v.End) {
		return Vertex{}, Vertex{}, fmt.Errorf("graph: split point %d not strictly inside %s", p, v)
	}
	v1 = Vertex{Change: v.Change, Start: v.Start, End: p}
	v2 = Vertex{Change: v.Change, Start: p, End: v.End}

	edges, err := g.IterAdjacent(txn, v, 0, EdgeDeleted|EdgeParent|EdgeFolder|EdgePseudo|EdgeBlock)
	if err != nil {
		return Vertex{}, Vertex{}, err
	}
	for _, e := range edges {
		target := v1
		if !e.Flag.Has(EdgeParent) {
			target = v2
		}
		if _, err := g.T.Graph.Del(txn, v, e.SerializedEdge); err != nil {
			return Vertex{}, Vertex{}, err
		}
		if _, err := g.T.Graph.Put(txn, target, e.SerializedEdge); err != nil {
			return Vertex{}, Vertex{}, err
		}
	}

	// Re-home incoming edges: anything that used to point into v now needs
	// to point at v1 or v2 depending on which half contains the addressed
	// offset. We find these by looking at v1/v2's own PARENT edges (just
	// relocated above) and walking their reverse partners.
	for _, half := range []Vertex{v1, v2} {
		parentEdges, err := g.IterAdjacent(txn, half, EdgeParent, EdgeParent|EdgeDeleted|EdgeFolder|EdgePseudo|EdgeBlock)
		if err != nil {
			return Vertex{}, Vertex{}, err
		}
		for _, pe := range parentEdges {
			src, err := g.FindBlock(txn, pe.DestPosition())
			if err != nil {
				continue
			}
			fwd, ok, err := findForward(txn, g, src, v)
			if err != nil {
				return Vertex{}, Vertex{}, err
			}
			if !ok {
				continue
			}
			if _, err := g.T.Graph.Del(txn, src, fwd); err != nil {
				return Vertex{}, Vertex{}, err
			}
			fwd.DestChange, fwd.DestPos = half.Change, half.Start
			if _, err := g.T.Graph.Put(txn, src, fwd); err != nil {
				return Vertex{}, Vertex{}, err
			}
		}
	}

	if _, err := g.T.Graph.Put(txn, v1, SerializedEdge{Flag: EdgeBlock, DestChange: v2.Change, DestPos: v2.Start, IntroducedBy: RootId}); err != nil {
		return Vertex{}, Vertex{}, err
	}
	if _, err := g.T.Graph.Put(txn, v2, SerializedEdge{Flag: EdgeBlock | EdgeParent, DestChange: v1.Change, DestPos: v1.Start, IntroducedBy: RootId}); err != nil {
		return Vertex{}, Vertex{}, err
	}
	return v1, v2, nil
}

// findForward looks for an edge src->old among src's outgoing edges,
// returning it unmodified so the caller can delete-then-reinsert with a
// repointed destination.
func findForward(txn *store.Txn, g *Graph, src, old Vertex) (SerializedEdge, bool, error) {
	edges, err := g.IterAdjacent(txn, src, 0, EdgeDeleted|EdgeParent|EdgeFolder|EdgePseudo|EdgeBlock)
	if err != nil {
		return SerializedEdge{}, false, err
	}
	for _, e := range edges {
		if e.DestChange == old.Change && old.Contains(e.DestPos) {
			return e.SerializedEdge, true, nil
		}
	}
	return SerializedEdge{}, false, nil
}

// IsAlive reports whether v has at least one non-DELETED, non-PSEUDO
// incoming PARENT edge (or, for inode vertices, any incoming PARENT with
// BLOCK) — invariant 3's local criterion, ignoring reachability from ROOT
// (full "alive" also requires reachability; see internal/repair for the
// reachability half of the invariant).
func (g *Graph) IsAlive(txn *store.Txn, v Vertex) (bool, error) {
	edges, err := g.IterAdjacent(txn, v, EdgeParent, EdgeParent|EdgeFolder)
	if err != nil {
		return false, err
	}
	for _, e := range edges {
		if e.Flag.Has(EdgeDeleted) {
			continue
		}
		if v.IsInode() {
			if e.Flag.Has(EdgeBlock) {
				return true, nil
			}
			continue
		}
		if !e.Flag.Has(EdgePseudo) {
			return true, nil
		}
	}
	return false, nil
}
