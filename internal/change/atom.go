// Package change implements the self-contained, content-addressed change
// format: its two primitive atoms (NewVertex, EdgeMap), the higher-level
// Hunks that compile to sequences of atoms, dependency computation
// (including zombie dependencies), and the on-disk/text serializations.
package change

import "github.com/fossdd/pijul-sub000/internal/graph"

// Atom is one of the two primitive graph-rewriting operations a change is
// made of. Every atom has a formal inverse (spec.md §4.3 "Inversion").
type Atom interface {
	isAtom()
	// Positions returns every Position this atom references, in the order
	// dependency computation should visit them.
	Positions() []graph.Position
}

// NewVertex creates vertex (this_change, Start, End) with edges from every
// UpContext position and to every DownContext position. Positions
// referencing PositionThisChange point into this same change.
type NewVertex struct {
	UpContext   []graph.Position
	DownContext []graph.Position
	Start       graph.ChangePosition
	End         graph.ChangePosition
	Flag        graph.EdgeFlags
	Inode       graph.Inode
}

func (NewVertex) isAtom() {}

func (a NewVertex) Positions() []graph.Position {
	out := make([]graph.Position, 0, len(a.UpContext)+len(a.DownContext))
	out = append(out, a.UpContext...)
	out = append(out, a.DownContext...)
	return out
}

// NewEdge is one edge transition inside an EdgeMap: an edge with flags
// Previous transitions to flags Flag.
type NewEdge struct {
	Previous     graph.EdgeFlags
	Flag         graph.EdgeFlags
	From         graph.Position
	To           graph.Position
	IntroducedBy graph.ChangeId // PositionThisChange-equivalent: 0 until resolved
}

// EdgeMap applies a batch of edge-flag transitions, e.g. marking a range of
// content DELETED, or re-pointing a folder edge for a rename.
type EdgeMap struct {
	Edges []NewEdge
	Inode graph.Inode
}

func (EdgeMap) isAtom() {}

func (a EdgeMap) Positions() []graph.Position {
	out := make([]graph.Position, 0, len(a.Edges)*2)
	for _, e := range a.Edges {
		out = append(out, e.From, e.To)
	}
	return out
}

// Invert returns the formal inverse of a NewVertex atom: an EdgeMap that
// deletes the vertex's up-edges (spec.md §4.3).
func (a NewVertex) Invert(assigned graph.ChangeId) EdgeMap {
	edges := make([]NewEdge, 0, len(a.UpContext))
	for _, up := range a.UpContext {
		edges = append(edges, NewEdge{
			Previous:     graph.EdgeBlock,
			Flag:         graph.EdgeBlock | graph.EdgeDeleted,
			From:         up,
			To:           graph.ThisChangePosition(a.Start).Resolve(assigned),
			IntroducedBy: assigned,
		})
	}
	return EdgeMap{Edges: edges, Inode: a.Inode}
}

// Invert returns the formal inverse of an EdgeMap: swap Previous/Flag on
// every edge and reattribute IntroducedBy to the inverting change
// (spec.md §4.3).
func (a EdgeMap) Invert(invertedBy graph.ChangeId) EdgeMap {
	edges := make([]NewEdge, len(a.Edges))
	for i, e := range a.Edges {
		edges[i] = NewEdge{
			Previous:     e.Flag,
			Flag:         e.Previous,
			From:         e.From,
			To:           e.To,
			IntroducedBy: invertedBy,
		}
	}
	return EdgeMap{Edges: edges, Inode: a.Inode}
}

// ResolveThisChange rebinds every PositionThisChange reference inside an
// atom to the ChangeId assigned at registration (spec.md §9).
func ResolveThisChange(a Atom, assigned graph.ChangeId) Atom {
	switch v := a.(type) {
	case NewVertex:
		v.UpContext = resolveAll(v.UpContext, assigned)
		v.DownContext = resolveAll(v.DownContext, assigned)
		return v
	case EdgeMap:
		edges := make([]NewEdge, len(v.Edges))
		for i, e := range v.Edges {
			e.From = e.From.Resolve(assigned)
			e.To = e.To.Resolve(assigned)
			edges[i] = e
		}
		v.Edges = edges
		return v
	default:
		return a
	}
}

func resolveAll(ps []graph.Position, assigned graph.ChangeId) []graph.Position {
	out := make([]graph.Position, len(ps))
	for i, p := range ps {
		out[i] = p.Resolve(assigned)
	}
	return out
}
