// Package repair implements the context-repair passes apply runs after
// mutating the graph: reattaching content whose up/down context went
// missing, cleaning up parent edges of deleted vertices, and the
// folder-conflict and cyclic-path resolution spec.md §5 describes. Each
// pass is expressed over a pooled Workspace of transient vertex sets
// (spec.md §9: "implementers... should pass this explicitly or use a
// pool" — this package uses internal/wspool).
package repair

import (
	"github.com/fossdd/pijul-sub000/internal/graph"
	"github.com/fossdd/pijul-sub000/internal/wspool"
)

// Workspace holds the transient sets one repair pass over one applied
// change needs: which vertices are newly rooted, which folder vertices are
// alive, and which vertices were touched by the change's own deletions.
// A Workspace is meant to be obtained from NewWorkspace and returned via
// Release once the repair pass completes, so its maps recycle through
// wspool instead of being reallocated per change.
type Workspace struct {
	// Rooted holds vertices repair has newly attached directly to ROOT
	// because no alive ancestor could be found (MissingUpContext) or because
	// it sits on a folder cycle (RepairCyclicPaths).
	Rooted map[graph.Vertex]bool
	// AliveFolder is a pooled set for folder vertices confirmed alive this
	// pass; no pass in this package writes to it.
	AliveFolder map[graph.Vertex]bool
	// DeletedBy maps a vertex to the vertex whose deletion triggered the
	// repair examining it (ParentsOfDeleted).
	DeletedBy map[graph.Vertex]graph.Vertex
	// Touched accumulates every vertex any pass in this Workspace's
	// lifetime modified, so callers can log/trace a summary once.
	Touched map[graph.Vertex]bool
}

// NewWorkspace borrows pooled sets for a new repair pass.
func NewWorkspace() *Workspace {
	return &Workspace{
		Rooted:      wspool.GetVertexSet(),
		AliveFolder: wspool.GetVertexSet(),
		DeletedBy:   map[graph.Vertex]graph.Vertex{}, // no pool: keyed map values, rare and small
		Touched:     wspool.GetVertexSet(),
	}
}

// Release returns w's pooled sets to wspool. w must not be used afterward.
func (w *Workspace) Release() {
	wspool.PutVertexSet(w.Rooted)
	wspool.PutVertexSet(w.AliveFolder)
	wspool.PutVertexSet(w.Touched)
	w.Rooted, w.AliveFolder, w.Touched, w.DeletedBy = nil, nil, nil, nil
}

func (w *Workspace) touch(v graph.Vertex) { w.Touched[v] = true }
