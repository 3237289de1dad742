package apply

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fossdd/pijul-sub000/internal/change"
	"github.com/fossdd/pijul-sub000/internal/channel"
	"github.com/fossdd/pijul-sub000/internal/graph"
	"github.com/fossdd/pijul-sub000/internal/repair"
	"github.com/fossdd/pijul-sub000/internal/store"
)

var tracer = otel.Tracer("github.com/fossdd/pijul-sub000/internal/apply")

// Applier bundles the graph and log facility every apply call needs. It
// holds no store.Txn: callers supply one per call, matching the "every
// operation runs inside an explicit transaction" resource model (spec.md §5).
type Applier struct {
	Graph *graph.Graph
	Log   logr.Logger
}

func New(g *graph.Graph, log logr.Logger) *Applier {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Applier{Graph: g, Log: log}
}

// registerChange allocates a ChangeId for hash if it is not already
// registered, by linear-probing from the hash's low 64 bits until an empty
// External slot is found (spec.md §9 design note: "ChangeId is assigned,
// not derived, and is only unique within one pristine" — first-fit of hash
// bits keeps allocation deterministic across appliers that see the same
// set of changes in the same order, without needing a separate monotonic
// counter table).
func registerChange(txn *store.Txn, g *graph.Graph, h graph.Hash) (graph.ChangeId, error) {
	if existing, ok, err := g.T.Internal.Get(txn, h); err != nil {
		return 0, err
	} else if ok {
		return existing, nil
	}
	candidate := graph.ChangeId(binary.BigEndian.Uint64(h[:8]))
	if candidate.IsRoot() {
		candidate = 1
	}
	for {
		if _, ok, err := g.T.External.Get(txn, candidate); err != nil {
			return 0, err
		} else if !ok {
			break
		}
		candidate++
		if candidate.IsRoot() {
			candidate = 1
		}
	}
	if err := g.T.PutInternal(txn, h, candidate); err != nil {
		return 0, err
	}
	return candidate, nil
}

// Apply applies c to ch within txn: checks c's declared dependencies are
// already registered, allocates (or recovers) c's ChangeId, resolves every
// this_change Position to that id, mutates the graph in two passes
// (additions first, then deletions — spec.md §7 "two-phase apply" ensures a
// change's own new vertices exist before anything references them for
// deletion), records the change on ch, and returns its assigned id and new
// running Merkle.
func (a *Applier) Apply(ctx context.Context, txn *store.Txn, ch *channel.Channel, c *change.Change) (graph.ChangeId, graph.Merkle, error) {
	ctx, span := tracer.Start(ctx, "apply.Apply")
	defer span.End()

	h, err := c.Hash()
	if err != nil {
		return 0, graph.Merkle{}, err
	}
	span.SetAttributes(attribute.String("change.hash", h.String()))

	for _, dep := range c.Hashed.Dependencies {
		if _, ok, err := a.Graph.T.Internal.Get(txn, dep); err != nil {
			return 0, graph.Merkle{}, err
		} else if !ok {
			return 0, graph.Merkle{}, &Error{Kind: KindDependencyMissing, Hash: dep}
		}
	}

	if present, err := ch.IsPresent(txn, mustExistingID(txn, a.Graph, h)); err == nil && present {
		return 0, graph.Merkle{}, &Error{Kind: KindAlreadyOnChannel, Hash: h}
	}

	id, err := registerChange(txn, a.Graph, h)
	if err != nil {
		return 0, graph.Merkle{}, err
	}

	if present, err := ch.IsPresent(txn, id); err != nil {
		return 0, graph.Merkle{}, err
	} else if present {
		return 0, graph.Merkle{}, &Error{Kind: KindAlreadyOnChannel, Hash: h}
	}

	atoms := make([]change.Atom, 0, len(c.Hashed.Changes))
	for _, hunk := range c.Hashed.Changes {
		for _, at := range hunk.Atoms() {
			atoms = append(atoms, change.ResolveThisChange(at, id))
		}
	}

	var additions, deletions []change.Atom
	for _, at := range atoms {
		if isDeletion(at) {
			deletions = append(deletions, at)
		} else {
			additions = append(additions, at)
		}
	}

	offset := graph.ChangePosition(0)
	for _, at := range additions {
		if err := a.applyAtom(txn, id, at, &offset); err != nil {
			return 0, graph.Merkle{}, err
		}
	}
	for _, at := range deletions {
		if err := a.applyAtom(txn, id, at, &offset); err != nil {
			return 0, graph.Merkle{}, err
		}
	}

	// Registration (spec.md §4.4 step 2): dep/revdep and touched_files rows
	// for this change, plus the tree/revtree bookkeeping FileAdd/FileMove
	// hunks imply but the atom-level graph mutation above never touches
	// (atoms carry Positions, not names or working-copy Inodes).
	for _, hunk := range c.Hashed.Changes {
		if err := a.registerTreeEntry(txn, id, hunk); err != nil {
			return 0, graph.Merkle{}, err
		}
	}
	if err := a.registerTouches(txn, ch, id, c.Hashed.Changes); err != nil {
		return 0, graph.Merkle{}, err
	}
	for _, dep := range c.Hashed.Dependencies {
		depId, ok, err := a.Graph.T.Internal.Get(txn, dep)
		if err != nil {
			return 0, graph.Merkle{}, err
		}
		if !ok {
			continue
		}
		if err := ch.AddDep(txn, id, depId); err != nil {
			return 0, graph.Merkle{}, err
		}
	}

	if err := a.repairContext(txn, atoms, deletions); err != nil {
		return 0, graph.Merkle{}, err
	}

	t, merkle, err := ch.PutChanges(txn, id, h)
	if err != nil {
		return 0, graph.Merkle{}, err
	}
	a.Log.V(1).Info("applied change", "hash", h, "id", id, "timestamp", t)
	return id, merkle, nil
}

// repairContext runs the post-mutation context-repair passes spec.md §4.4
// steps 6-9 require: pseudo-root any vertex this change's atoms reference
// that lost its last alive context (MissingUpContext), re-check the
// ancestors of everything this change deleted (ParentsOfDeleted), retract
// pseudo edges made redundant by this change's own additions
// (DeletePseudoEdges), and break any folder-graph cycle a concurrently
// applied pair of moves created (RepairCyclicPaths).
func (a *Applier) repairContext(txn *store.Txn, atoms, deletions []change.Atom) error {
	ws := repair.NewWorkspace()
	defer ws.Release()

	var touched []graph.Vertex
	for _, at := range atoms {
		for _, p := range at.Positions() {
			v, err := a.Graph.FindBlock(txn, p)
			if err != nil {
				continue
			}
			touched = append(touched, v)
		}
	}

	for _, v := range touched {
		if err := repair.MissingUpContext(txn, a.Graph, ws, v); err != nil {
			return err
		}
	}

	for _, at := range deletions {
		em, ok := at.(change.EdgeMap)
		if !ok {
			continue
		}
		for _, e := range em.Edges {
			v, err := a.Graph.FindBlock(txn, e.To)
			if err != nil {
				continue
			}
			if err := repair.ParentsOfDeleted(txn, a.Graph, ws, v); err != nil {
				return err
			}
		}
	}

	for _, v := range touched {
		if err := repair.DeletePseudoEdges(txn, a.Graph, ws, v); err != nil {
			return err
		}
	}

	return repair.RepairCyclicPaths(txn, a.Graph, ws, touched)
}

// registerTreeEntry keeps the `tree`/`revtree` tables (spec.md §3) in sync
// with the hunks that name a working-copy path: FileAdd installs a fresh
// child entry under its resolved parent inode, FileMove relocates an
// existing one. Every other hunk kind leaves tree/revtree untouched.
func (a *Applier) registerTreeEntry(txn *store.Txn, id graph.ChangeId, hunk change.Hunk) error {
	switch h := hunk.(type) {
	case change.FileAdd:
		parent, err := a.parentInode(txn, h.Parent.Resolve(id))
		if err != nil {
			return err
		}
		v, err := a.Graph.FindBlock(txn, graph.AllocatedPosition(id, h.Inode))
		if err != nil {
			return err
		}
		child, err := a.allocateInode(txn, v)
		if err != nil {
			return err
		}
		return a.Graph.T.PutTreeEntry(txn, parent, h.Name, child)
	case change.FileMove:
		v, err := a.Graph.FindBlock(txn, h.Inode.Resolve(id))
		if err != nil {
			return err
		}
		child, ok, err := a.Graph.T.Revinodes.Get(txn, v.StartPos())
		if err != nil {
			return err
		}
		if !ok {
			// The moved inode was never registered locally (e.g. this
			// pristine never saw the FileAdd that created it): nothing to
			// relocate in tree/revtree.
			return nil
		}
		newParent, err := a.parentInode(txn, h.NewParent.Resolve(id))
		if err != nil {
			return err
		}
		if err := a.Graph.T.DelTreeEntry(txn, child); err != nil {
			return err
		}
		return a.Graph.T.PutTreeEntry(txn, newParent, h.NewName, child)
	default:
		return nil
	}
}

// parentInode resolves a FOLDER edge's destination Position to the
// graph.Inode tree/revtree keys on: RootId's own vertex is the sentinel
// InodeNil entry every top-level tree key is parented under, anything else
// must already have a registered inode (its own FileAdd having run first).
func (a *Applier) parentInode(txn *store.Txn, parent graph.Position) (graph.Inode, error) {
	v, err := a.Graph.FindBlock(txn, parent)
	if err != nil {
		return graph.InodeNil, err
	}
	if v.IsRoot() {
		return graph.InodeNil, nil
	}
	i, ok, err := a.Graph.T.Revinodes.Get(txn, v.StartPos())
	if err != nil {
		return graph.InodeNil, err
	}
	if !ok {
		return graph.InodeNil, fmt.Errorf("apply: parent %s has no registered inode", parent)
	}
	return i, nil
}

// allocateInode assigns (or recovers) the stable graph.Inode naming vertex
// v's inode-vertex position, linear-probing from a position-derived seed
// the same way registerChange allocates ChangeIds, so repeated calls for
// the same vertex are idempotent.
func (a *Applier) allocateInode(txn *store.Txn, v graph.Vertex) (graph.Inode, error) {
	if i, ok, err := a.Graph.T.Revinodes.Get(txn, v.StartPos()); err != nil {
		return graph.InodeNil, err
	} else if ok {
		return i, nil
	}
	candidate := graph.Inode(uint64(v.Change)<<8 ^ uint64(v.Start))
	if candidate == graph.InodeNil {
		candidate = 1
	}
	for {
		if _, ok, err := a.Graph.T.Inodes.Get(txn, candidate); err != nil {
			return graph.InodeNil, err
		} else if !ok {
			break
		}
		candidate++
		if candidate == graph.InodeNil {
			candidate = 1
		}
	}
	if err := a.Graph.T.PutInode(txn, candidate, v.StartPos()); err != nil {
		return graph.InodeNil, err
	}
	return candidate, nil
}

// registerTouches records touched_files/rev_touched_files rows (spec.md
// §4.4 step 2) for every hunk that names a specific inode, so
// Channel.ChangesTouching and record's delete-obsolete-children cross-check
// have data to read.
func (a *Applier) registerTouches(txn *store.Txn, ch *channel.Channel, id graph.ChangeId, hunks []change.Hunk) error {
	touch := func(p graph.Position) error {
		v, err := a.Graph.FindBlock(txn, p)
		if err != nil {
			return err
		}
		i, ok, err := a.Graph.T.Revinodes.Get(txn, v.StartPos())
		if err != nil || !ok {
			return err
		}
		return ch.TouchFile(txn, i, id)
	}
	for _, hunk := range hunks {
		switch h := hunk.(type) {
		case change.FileAdd:
			if err := touch(graph.AllocatedPosition(id, h.Inode)); err != nil {
				return err
			}
		case change.FileDel:
			if err := touch(h.Name.Resolve(id)); err != nil {
				return err
			}
		case change.FileUndel:
			if err := touch(h.Name.Resolve(id)); err != nil {
				return err
			}
		case change.FileMove:
			if err := touch(h.Inode.Resolve(id)); err != nil {
				return err
			}
		}
	}
	return nil
}

// isDeletion reports whether an atom only ever sets flags (never clears
// DELETED), so the two-phase ordering can route it to the deletion pass.
// A NewVertex is always an addition; an EdgeMap is a deletion iff every one
// of its transitions sets (rather than clears) EdgeDeleted.
func isDeletion(a change.Atom) bool {
	em, ok := a.(change.EdgeMap)
	if !ok {
		return false
	}
	for _, e := range em.Edges {
		if !e.Flag.Has(graph.EdgeDeleted) {
			return false
		}
	}
	return len(em.Edges) > 0
}

func (a *Applier) applyAtom(txn *store.Txn, id graph.ChangeId, at change.Atom, offset *graph.ChangePosition) error {
	switch v := at.(type) {
	case change.NewVertex:
		return a.applyNewVertex(txn, id, v)
	case change.EdgeMap:
		return a.applyEdgeMap(txn, id, v)
	default:
		return fmt.Errorf("apply: unknown atom type %T", at)
	}
}

func (a *Applier) applyNewVertex(txn *store.Txn, id graph.ChangeId, v change.NewVertex) error {
	vertex := graph.Vertex{Change: id, Start: v.Start, End: v.End}
	for _, up := range v.UpContext {
		if _, err := a.blockAt(txn, up); err != nil {
			return err
		}
		if err := a.Graph.PutEdge(txn, vertex, v.Flag, up, id); err != nil {
			return err
		}
	}
	for _, down := range v.DownContext {
		destVertex, err := a.blockAt(txn, down)
		if err != nil {
			return err
		}
		if err := a.Graph.PutEdge(txn, destVertex, v.Flag, graph.AllocatedPosition(id, v.Start), id); err != nil {
			return err
		}
	}
	if v.Inode != graph.InodeNil {
		return a.Graph.T.PutInode(txn, v.Inode, vertex.StartPos())
	}
	return nil
}

// blockAt resolves p to its covering vertex, splitting that vertex first
// (invariant 7) if p addresses an offset strictly inside it rather than at
// its start: put_newvertex/put_newedge must be able to attach an edge in
// the middle of an existing vertex without corrupting its adjacency.
func (a *Applier) blockAt(txn *store.Txn, p graph.Position) (graph.Vertex, error) {
	v, err := a.Graph.FindBlock(txn, p)
	if err != nil {
		return graph.Vertex{}, err
	}
	if v.IsRoot() || v.IsInode() || v.Start == p.Pos {
		return v, nil
	}
	_, v2, err := a.Graph.SplitBlock(txn, v, p.Pos)
	if err != nil {
		return graph.Vertex{}, err
	}
	return v2, nil
}

func (a *Applier) applyEdgeMap(txn *store.Txn, id graph.ChangeId, em change.EdgeMap) error {
	for _, e := range em.Edges {
		if _, err := a.blockAt(txn, e.To); err != nil {
			return &Error{Kind: KindBlock, Detail: err}
		}
		from, err := a.Graph.FindBlock(txn, e.From)
		if err != nil {
			return &Error{Kind: KindBlock, Detail: err}
		}
		if e.Previous != 0 || e.Flag != 0 {
			// Hunk construction (hunk.go's Atoms methods) never knows which
			// change originally introduced the edge a NewEdge is replacing,
			// so e.IntroducedBy is always the zero value. graph.DelEdge's
			// underlying MultiTable.Del requires an exact match on the
			// stored SerializedEdge including IntroducedBy, so deleting by
			// the literal zero value would silently match nothing and leave
			// the old edge in place. Resolve the real introducer first.
			introducer := e.IntroducedBy
			if existing, ok, ferr := a.findEdge(txn, from, e.Previous, e.To); ferr == nil && ok {
				introducer = existing.IntroducedBy
			}
			if err := a.Graph.DelEdge(txn, from, e.Previous, e.To, introducer); err != nil {
				// Absence of the previous edge is tolerated: EdgeMap entries
				// produced by repair may target an edge that was already
				// rewritten by a concurrently-applied change.
				_ = err
			}
		}
		introducedBy := e.IntroducedBy
		if introducedBy == graph.RootId {
			introducedBy = id
		}
		if err := a.Graph.PutEdge(txn, from, e.Flag, e.To, introducedBy); err != nil {
			return err
		}
	}
	return nil
}

// findEdge looks up the single outgoing edge from "from" with exactly flag
// and a destination resolving to the same vertex as to, regardless of which
// change introduced it. Used to recover the real IntroducedBy of an edge an
// EdgeMap atom wants to delete or flip, since the atom itself only carries
// the flag/position, not the introducing change.
func (a *Applier) findEdge(txn *store.Txn, from graph.Vertex, flag graph.EdgeFlags, to graph.Position) (graph.Edge, bool, error) {
	edges, err := a.Graph.IterAdjacent(txn, from, flag, flag)
	if err != nil {
		return graph.Edge{}, false, err
	}
	destV, err := a.Graph.FindBlock(txn, to)
	if err != nil {
		return graph.Edge{}, false, err
	}
	for _, e := range edges {
		ev, err := a.Graph.FindBlock(txn, e.DestPosition())
		if err != nil {
			continue
		}
		if ev == destV {
			return e, true, nil
		}
	}
	return graph.Edge{}, false, nil
}

// mustExistingID resolves hash to its ChangeId if already registered, or
// returns RootId (which can never legitimately be `present` on a channel)
// so the pre-registration IsPresent probe above is a harmless no-op for
// changes seen for the first time.
func mustExistingID(txn *store.Txn, g *graph.Graph, h graph.Hash) graph.ChangeId {
	if id, ok, err := g.T.Internal.Get(txn, h); err == nil && ok {
		return id
	}
	return graph.RootId
}
