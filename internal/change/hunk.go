package change

import "github.com/fossdd/pijul-sub000/internal/graph"

// Hunk is one user-facing edit recorded in a change's Hashed.Changes list.
// Every Hunk compiles to one or more Atoms (spec.md §4.3 "Hunk vocabulary");
// the Hunk/Atom split exists so record and the text format can present
// edits at the granularity a human reviews them at, while apply only ever
// has to reason about the two primitive atoms.
type Hunk interface {
	isHunk()
	// Atoms compiles the hunk into the primitive atoms apply consumes, in
	// the order they must be applied.
	Atoms() []Atom
}

// FileAdd introduces a new tree entry: a FOLDER edge from Parent to a fresh
// inode vertex named Name, plus (for a regular file) the first content
// vertex holding Contents.
type FileAdd struct {
	Parent      graph.Position
	Name        string
	Permissions uint16
	Inode       graph.ChangePosition // this_change-relative inode vertex position
	Contents    []byte
	ContentPos  graph.ChangePosition // 0 length if this is a directory
}

func (FileAdd) isHunk() {}

func (h FileAdd) Atoms() []Atom {
	atoms := []Atom{
		NewVertex{
			UpContext: []graph.Position{h.Parent},
			Start:     h.Inode, End: h.Inode,
			Flag: graph.EdgeFolder,
		},
	}
	if len(h.Contents) > 0 {
		atoms = append(atoms, NewVertex{
			UpContext: []graph.Position{graph.ThisChangePosition(h.Inode)},
			Start:     h.ContentPos, End: h.ContentPos + graph.ChangePosition(len(h.Contents)),
			Flag: graph.EdgeBlock,
		})
	}
	return atoms
}

// FileDel removes a tree entry by marking its FOLDER edge and (if present)
// trailing content DELETED.
type FileDel struct {
	Name     graph.Position // the inode vertex being removed
	Contents []graph.Position
}

func (FileDel) isHunk() {}

func (h FileDel) Atoms() []Atom {
	edges := make([]NewEdge, 0, 1+len(h.Contents))
	edges = append(edges, NewEdge{Previous: graph.EdgeFolder, Flag: graph.EdgeFolder | graph.EdgeDeleted, From: h.Name, To: h.Name})
	for _, c := range h.Contents {
		edges = append(edges, NewEdge{Previous: graph.EdgeBlock, Flag: graph.EdgeBlock | graph.EdgeDeleted, From: c, To: c})
	}
	return []Atom{EdgeMap{Edges: edges}}
}

// FileUndel is the formal inverse of FileDel: clear the DELETED bit.
type FileUndel struct {
	Name     graph.Position
	Contents []graph.Position
}

func (FileUndel) isHunk() {}

func (h FileUndel) Atoms() []Atom {
	edges := make([]NewEdge, 0, 1+len(h.Contents))
	edges = append(edges, NewEdge{Previous: graph.EdgeFolder | graph.EdgeDeleted, Flag: graph.EdgeFolder, From: h.Name, To: h.Name})
	for _, c := range h.Contents {
		edges = append(edges, NewEdge{Previous: graph.EdgeBlock | graph.EdgeDeleted, Flag: graph.EdgeBlock, From: c, To: c})
	}
	return []Atom{EdgeMap{Edges: edges}}
}

// FileMove renames/reparents a tree entry: mark the existing child->parent
// FOLDER edge deleted and add a fresh one pointing at NewParent, reusing
// Inode's vertex rather than allocating a new one (the file's identity
// survives the move, matching invariant 4).
type FileMove struct {
	Inode     graph.Position
	OldParent graph.Position
	NewParent graph.Position
	NewName   string
}

func (FileMove) isHunk() {}

func (h FileMove) Atoms() []Atom {
	return []Atom{
		EdgeMap{Edges: []NewEdge{
			{Previous: graph.EdgeFolder, Flag: graph.EdgeFolder | graph.EdgeDeleted, From: h.Inode, To: h.OldParent},
		}},
		EdgeMap{Edges: []NewEdge{
			{Previous: 0, Flag: graph.EdgeFolder, From: h.Inode, To: h.NewParent},
		}},
	}
}

// Edit replaces a content range [Start,End) of an existing vertex with
// NewContents, expressed as a delete-then-insert (spec.md's "Edit" hunk is
// the common case of Replacement with OldContents re-derivable from the
// pristine, so this struct mirrors Replacement's shape directly).
type Edit struct {
	UpContext    []graph.Position
	DownContext  []graph.Position
	OldPositions []graph.Position // vertices/ranges being replaced, marked DELETED
	NewContents  []byte
	NewStart     graph.ChangePosition
}

func (Edit) isHunk() {}

func (h Edit) Atoms() []Atom {
	var atoms []Atom
	if len(h.OldPositions) > 0 {
		edges := make([]NewEdge, len(h.OldPositions))
		for i, p := range h.OldPositions {
			edges[i] = NewEdge{Previous: graph.EdgeBlock, Flag: graph.EdgeBlock | graph.EdgeDeleted, From: p, To: p}
		}
		atoms = append(atoms, EdgeMap{Edges: edges})
	}
	if len(h.NewContents) > 0 {
		atoms = append(atoms, NewVertex{
			UpContext:   h.UpContext,
			DownContext: h.DownContext,
			Start:       h.NewStart,
			End:         h.NewStart + graph.ChangePosition(len(h.NewContents)),
			Flag:        graph.EdgeBlock,
		})
	}
	return atoms
}

// Replacement is Edit generalized to multiple disjoint old ranges sharing
// one replacement (spec.md's "Replacement" hunk, used when the aligner
// reports a single change spanning a non-contiguous old region).
type Replacement struct {
	Edit
	ExtraOld []graph.Position
}

func (Replacement) isHunk() {}

func (h Replacement) Atoms() []Atom {
	atoms := h.Edit.Atoms()
	if len(h.ExtraOld) > 0 {
		edges := make([]NewEdge, len(h.ExtraOld))
		for i, p := range h.ExtraOld {
			edges[i] = NewEdge{Previous: graph.EdgeBlock, Flag: graph.EdgeBlock | graph.EdgeDeleted, From: p, To: p}
		}
		atoms = append(atoms, EdgeMap{Edges: edges})
	}
	return atoms
}

// SolveNameConflict picks a winner among several FOLDER edges sharing one
// (parent,name) slot by marking the losers DELETED (spec.md §5 conflict
// repair: name conflicts are resolved by a change, not by apply itself).
type SolveNameConflict struct {
	Losers []graph.Position
}

func (SolveNameConflict) isHunk() {}

func (h SolveNameConflict) Atoms() []Atom {
	edges := make([]NewEdge, len(h.Losers))
	for i, p := range h.Losers {
		edges[i] = NewEdge{Previous: graph.EdgeFolder | graph.EdgePseudo, Flag: graph.EdgeFolder | graph.EdgePseudo | graph.EdgeDeleted, From: p, To: p}
	}
	return []Atom{EdgeMap{Edges: edges}}
}

// UnsolveNameConflict is SolveNameConflict's formal inverse.
type UnsolveNameConflict struct {
	Losers []graph.Position
}

func (UnsolveNameConflict) isHunk() {}

func (h UnsolveNameConflict) Atoms() []Atom {
	edges := make([]NewEdge, len(h.Losers))
	for i, p := range h.Losers {
		edges[i] = NewEdge{Previous: graph.EdgeFolder | graph.EdgePseudo | graph.EdgeDeleted, Flag: graph.EdgeFolder | graph.EdgePseudo, From: p, To: p}
	}
	return []Atom{EdgeMap{Edges: edges}}
}

// SolveOrderConflict picks a total order among zombie lines sharing one
// insertion point by deleting all but one PSEUDO ordering edge.
type SolveOrderConflict struct {
	Edges []NewEdge
}

func (SolveOrderConflict) isHunk() {}

func (h SolveOrderConflict) Atoms() []Atom { return []Atom{EdgeMap{Edges: h.Edges}} }

// UnsolveOrderConflict is SolveOrderConflict's formal inverse.
type UnsolveOrderConflict struct {
	Edges []NewEdge
}

func (UnsolveOrderConflict) isHunk() {}

func (h UnsolveOrderConflict) Atoms() []Atom {
	inv := make([]NewEdge, len(h.Edges))
	for i, e := range h.Edges {
		inv[i] = NewEdge{Previous: e.Flag, Flag: e.Previous, From: e.From, To: e.To}
	}
	return []Atom{EdgeMap{Edges: inv}}
}

// ResurrectZombies revives vertices left dangling by a missing-context
// repair (spec.md §5 "Resurrecting zombie lines"): clear DELETED on the
// given edges so the content becomes visible again pending its own
// deletion decision.
type ResurrectZombies struct {
	Edges []NewEdge
}

func (ResurrectZombies) isHunk() {}

func (h ResurrectZombies) Atoms() []Atom { return []Atom{EdgeMap{Edges: h.Edges}} }

// AddRoot attaches an otherwise-unreachable vertex directly to the
// synthetic ROOT, used by repair when no live ancestor can be found.
type AddRoot struct {
	Target graph.Position
}

func (AddRoot) isHunk() {}

func (h AddRoot) Atoms() []Atom {
	return []Atom{EdgeMap{Edges: []NewEdge{
		{Previous: 0, Flag: graph.EdgePseudo, From: graph.AllocatedPosition(graph.RootId, 0), To: h.Target},
	}}}
}

// DelRoot is AddRoot's formal inverse.
type DelRoot struct {
	Target graph.Position
}

func (DelRoot) isHunk() {}

func (h DelRoot) Atoms() []Atom {
	return []Atom{EdgeMap{Edges: []NewEdge{
		{Previous: graph.EdgePseudo, Flag: 0, From: graph.AllocatedPosition(graph.RootId, 0), To: h.Target},
	}}}
}
