package repair

import (
	"github.com/fossdd/pijul-sub000/internal/graph"
	"github.com/fossdd/pijul-sub000/internal/store"
)

// maxCyclicHops bounds the rootedness walk RepairCyclicPaths performs per
// vertex: folder depth is small in practice, so a walk this long finding no
// ROOT is itself evidence of a cycle rather than a legitimately deep tree.
const maxCyclicHops = 1024

// RepairCyclicPaths breaks folder-graph cycles a pair of concurrently
// applied moves can create (spec.md §5 "Cyclic paths": Alice moves a into
// b, Bob moves b into a, and applying both leaves every vertex on the cycle
// with a live FOLDER edge but no path back to ROOT). For every vertex in
// touched it follows the vertex's own forward, non-deleted FOLDER edge
// toward ROOT; if the walk revisits a vertex already seen (a cycle) or
// exceeds maxCyclicHops without reaching ROOT, the vertex is pseudo-rooted
// directly with a ROOT->v PSEUDO edge, giving every member of the cycle an
// alternate, real path to ROOT without having to pick which move "wins".
//
// Every vertex on a cycle is, by construction, reachable through a live
// PARENT edge from its cycle neighbour, so graph.IsAlive (a local check:
// "does some live edge point at v") already reports it alive; MissingUpContext
// would therefore no-op rather than add the pseudo-root edge this case
// needs. RepairCyclicPaths bypasses that local check and roots
// unconditionally, using Workspace.Rooted only to avoid inserting the same
// pseudo edge twice.
func RepairCyclicPaths(txn *store.Txn, g *graph.Graph, ws *Workspace, touched []graph.Vertex) error {
	for _, v := range touched {
		cyclic, err := onCyclicPath(txn, g, v)
		if err != nil {
			return err
		}
		if !cyclic || ws.Rooted[v] {
			continue
		}
		if err := g.PutEdge(txn, graph.Root, graph.EdgePseudo, v.StartPos(), graph.RootId); err != nil {
			return err
		}
		ws.Rooted[v] = true
		ws.touch(v)
	}
	return nil
}

// onCyclicPath reports whether following start's forward FOLDER edge chain
// revisits a vertex before reaching ROOT. A dead end (no outgoing FOLDER
// edge before ROOT) is not a cycle — that is plain unrootedness, which
// MissingUpContext already handles on its own.
func onCyclicPath(txn *store.Txn, g *graph.Graph, start graph.Vertex) (bool, error) {
	if start.IsRoot() {
		return false, nil
	}
	seen := map[graph.Vertex]bool{start: true}
	cur := start
	for i := 0; i < maxCyclicHops; i++ {
		edges, err := g.IterAdjacent(txn, cur, graph.EdgeFolder, graph.EdgeFolder)
		if err != nil {
			return false, err
		}
		if len(edges) == 0 {
			return false, nil
		}
		next, err := g.FindBlock(txn, edges[0].DestPosition())
		if err != nil {
			return false, nil
		}
		if next.IsRoot() {
			return false, nil
		}
		if seen[next] {
			return true, nil
		}
		seen[next] = true
		cur = next
	}
	return true, nil
}
