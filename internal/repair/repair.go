package repair

import (
	"github.com/fossdd/pijul-sub000/internal/graph"
	"github.com/fossdd/pijul-sub000/internal/store"
)

// MissingUpContext attaches v directly to ROOT with a PSEUDO edge if v has
// no alive PARENT edge at all (spec.md §5 "Missing context": a change
// elsewhere deleted every vertex v's own up-context pointed to). The pseudo
// edge is deleted again as soon as a real edge restores reachability
// (DeletePseudoEdges).
func MissingUpContext(txn *store.Txn, g *graph.Graph, ws *Workspace, v graph.Vertex) error {
	alive, err := g.IsAlive(txn, v)
	if err != nil {
		return err
	}
	if alive {
		return nil
	}
	if ws.Rooted[v] {
		return nil
	}
	if err := g.PutEdge(txn, graph.Root, graph.EdgePseudo, v.StartPos(), graph.RootId); err != nil {
		return err
	}
	ws.Rooted[v] = true
	ws.touch(v)
	return nil
}

// MissingDownContext ensures v has at least one outgoing BLOCK successor
// once its real successor is deleted, by pointing a PSEUDO edge at the
// nearest alive descendant found via dest's own BLOCK chain, falling back
// to nothing (a genuine end-of-file) if dest has no alive successor
// either. fallbackScan bounds how many hops down the original BLOCK chain
// are tried.
func MissingDownContext(txn *store.Txn, g *graph.Graph, ws *Workspace, v graph.Vertex, fallbackScan int) error {
	edges, err := g.IterAdjacent(txn, v, graph.EdgeBlock, graph.EdgeBlock|graph.EdgeDeleted)
	if err != nil {
		return err
	}
	hasAliveSuccessor := false
	for _, e := range edges {
		if e.Flag.Has(graph.EdgeDeleted) {
			continue
		}
		hasAliveSuccessor = true
		break
	}
	if hasAliveSuccessor {
		return nil
	}
	cur := v
	for i := 0; i < fallbackScan; i++ {
		next, ok, err := nextBlock(txn, g, cur)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		alive, err := g.IsAlive(txn, next)
		if err != nil {
			return err
		}
		if alive {
			if err := g.PutEdge(txn, v, graph.EdgePseudo|graph.EdgeBlock, next.StartPos(), graph.RootId); err != nil {
				return err
			}
			ws.touch(v)
			return nil
		}
		cur = next
	}
	return nil
}

func nextBlock(txn *store.Txn, g *graph.Graph, v graph.Vertex) (graph.Vertex, bool, error) {
	edges, err := g.IterAdjacent(txn, v, graph.EdgeBlock, graph.EdgeBlock|graph.EdgeDeleted)
	if err != nil {
		return graph.Vertex{}, false, err
	}
	for _, e := range edges {
		if e.Flag.Has(graph.EdgeDeleted) {
			continue
		}
		dest, err := g.FindBlock(txn, e.DestPosition())
		if err != nil {
			continue
		}
		return dest, true, nil
	}
	return graph.Vertex{}, false, nil
}

// ParentsOfDeleted walks every PARENT edge of a just-deleted vertex v and
// re-checks whether its source is still alive through some other path; if
// not, it recurses MissingUpContext onto that source (spec.md §5 "deleting
// a vertex can orphan its neighbours transitively").
func ParentsOfDeleted(txn *store.Txn, g *graph.Graph, ws *Workspace, v graph.Vertex) error {
	edges, err := g.IterAdjacent(txn, v, graph.EdgeParent, graph.EdgeParent|graph.EdgeFolder|graph.EdgeDeleted)
	if err != nil {
		return err
	}
	for _, e := range edges {
		src, err := g.FindBlock(txn, e.DestPosition())
		if err != nil {
			continue
		}
		ws.DeletedBy[src] = v
		if err := MissingUpContext(txn, g, ws, src); err != nil {
			return err
		}
	}
	return nil
}

// ContextDeleted reports whether every position in ctx is itself DELETED,
// which is the trigger condition for resurrecting a zombie line (spec.md
// §5 "Resurrecting zombie lines": a change deletes content whose context
// has since been deleted too, so reviving it requires explicitly
// reviving the context first).
func ContextDeleted(txn *store.Txn, g *graph.Graph, ctx []graph.Position) (bool, error) {
	for _, p := range ctx {
		v, err := g.FindBlock(txn, p)
		if err != nil {
			return false, err
		}
		alive, err := g.IsAlive(txn, v)
		if err != nil {
			return false, err
		}
		if alive {
			return false, nil
		}
	}
	return true, nil
}

// ContextNondeleted reports whether every position in ctx is currently
// alive — the complementary check used before applying an EdgeMap that
// assumes its context hasn't itself been removed out from under it.
func ContextNondeleted(txn *store.Txn, g *graph.Graph, ctx []graph.Position) (bool, error) {
	for _, p := range ctx {
		v, err := g.FindBlock(txn, p)
		if err != nil {
			return false, err
		}
		alive, err := g.IsAlive(txn, v)
		if err != nil {
			return false, err
		}
		if !alive {
			return false, nil
		}
	}
	return true, nil
}

// DeletePseudoEdges removes every PSEUDO edge pointing at v once a real,
// non-deleted edge has restored its reachability — pseudo edges are
// scaffolding apply and repair insert and retract freely, never part of a
// change's own committed history (spec.md §5: "pseudo edges are deleted
// as soon as they become redundant").
func DeletePseudoEdges(txn *store.Txn, g *graph.Graph, ws *Workspace, v graph.Vertex) error {
	edges, err := g.IterAdjacent(txn, v, graph.EdgeParent|graph.EdgePseudo, graph.EdgeParent|graph.EdgePseudo|graph.EdgeFolder)
	if err != nil {
		return err
	}
	realAlive := false
	all, err := g.IterAdjacent(txn, v, graph.EdgeParent, graph.EdgeParent|graph.EdgeFolder)
	if err != nil {
		return err
	}
	for _, e := range all {
		if e.Flag.Has(graph.EdgePseudo) || e.Flag.Has(graph.EdgeDeleted) {
			continue
		}
		realAlive = true
		break
	}
	if !realAlive {
		return nil
	}
	for _, e := range edges {
		if !e.Flag.Has(graph.EdgePseudo) {
			continue
		}
		dest, err := g.FindBlock(txn, e.DestPosition())
		if err != nil {
			continue
		}
		if err := g.DelEdge(txn, dest, e.Flag&^graph.EdgeParent, graph.AllocatedPosition(v.Change, v.Start), e.IntroducedBy); err != nil {
			continue
		}
		delete(ws.Rooted, v)
		ws.touch(v)
	}
	return nil
}
