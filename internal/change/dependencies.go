package change

import "github.com/fossdd/pijul-sub000/internal/graph"

// HashResolver answers "what Hash registered ChangeId c", letting dependency
// computation turn a PositionAllocated reference inside an already-applied
// atom back into the Hash a new change must declare as a dependency.
type HashResolver interface {
	HashOf(id graph.ChangeId) (graph.Hash, bool)
}

// ComputeDependencies walks every atom's referenced Positions and returns
// the minimal set of change Hashes c must declare as Hashed.Dependencies
// (spec.md §4.4): every PositionAllocated reference other than ROOT, minus
// any hash already implied by another dependency's own transitive closure.
// transitiveDeps is the transitive-closure function (normally channel.Deps chained
// through internal/external): a dependency already reachable through
// another declared dependency need not be listed again.
func ComputeDependencies(atoms []Atom, resolve HashResolver, transitiveDeps func(graph.Hash) (map[graph.Hash]bool, error)) ([]graph.Hash, error) {
	direct := map[graph.Hash]bool{}
	for _, a := range atoms {
		for _, p := range a.Positions() {
			if p.Change.Kind != graph.PositionAllocated || p.Change.Id.IsRoot() {
				continue
			}
			h, ok := resolve.HashOf(p.Change.Id)
			if !ok {
				continue
			}
			direct[h] = true
		}
	}
	return minimizeDependencies(direct, transitiveDeps)
}

// minimizeDependencies drops any hash in direct that is already reachable
// through another hash's transitive dependency closure, producing the
// smallest set that still implies every directly-referenced change
// (spec.md §4.4 "minimal dependency set").
func minimizeDependencies(direct map[graph.Hash]bool, transitiveDeps func(graph.Hash) (map[graph.Hash]bool, error)) ([]graph.Hash, error) {
	implied := map[graph.Hash]bool{}
	for h := range direct {
		deps, err := transitiveDeps(h)
		if err != nil {
			return nil, err
		}
		for d := range deps {
			if d == h {
				continue
			}
			implied[d] = true
		}
	}
	out := make([]graph.Hash, 0, len(direct))
	for h := range direct {
		if implied[h] {
			continue
		}
		out = append(out, h)
	}
	return sortedHashes(out), nil
}

// ZombieDependency names a dependency that exists only because apply needed
// to resurrect a zombie line (spec.md §5 "Zombie dependencies"): change c
// depends on zombieSource purely to keep the repair's resurrected context
// alive, not because c's own hunks reference zombieSource's content
// directly.
type ZombieDependency struct {
	Zombie graph.Position
	Source graph.Hash
}

// ComputeZombieDependencies returns the Source hashes of zombies,
// deduplicated and sorted, for the caller to add to a change's direct
// dependency set, so that applying this change elsewhere deterministically re-triggers the
// same resurrection (rather than leaving the zombie's fate to whichever
// change happens to apply first on the remote side).
func ComputeZombieDependencies(zombies []ZombieDependency) []graph.Hash {
	seen := map[graph.Hash]bool{}
	for _, z := range zombies {
		seen[z.Source] = true
	}
	out := make([]graph.Hash, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	return sortedHashes(out)
}
