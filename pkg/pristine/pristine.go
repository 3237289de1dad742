// Package pristine provides the main API for embedded pijul-sub000 usage.
//
// This package ties internal/store, internal/graph, internal/channel,
// internal/change, internal/apply and internal/record together into a
// single handle: open a pristine directory, record a working copy's
// changes, apply a change file to a channel, and read a channel's log.
//
// Example Usage:
//
//	p, err := pristine.Open(pristine.Options{Dir: "./pristine"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer p.Close()
//
//	ch, err := p.Channel("main")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	id, merkle, err := p.Apply(ctx, ch, changeFile)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("applied as change %d, running state %s\n", id, merkle)
//
// Architecture:
//   - Store: the transactional key-value layer (internal/store)
//   - Graph: the persistent labeled multigraph (internal/graph)
//   - Channel: a named view with its own apply log (internal/channel)
//   - Changes: the on-disk, content-addressed change store (internal/change)
//   - Apply/Record: the two directions of change flow (internal/apply, internal/record)
package pristine

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-logr/logr"

	"github.com/fossdd/pijul-sub000/internal/aligner"
	"github.com/fossdd/pijul-sub000/internal/apply"
	"github.com/fossdd/pijul-sub000/internal/change"
	"github.com/fossdd/pijul-sub000/internal/channel"
	"github.com/fossdd/pijul-sub000/internal/graph"
	"github.com/fossdd/pijul-sub000/internal/record"
	"github.com/fossdd/pijul-sub000/internal/store"
)

// Options configures Open.
type Options struct {
	// Dir is the pristine's data directory: Badger's data files live in Dir
	// itself and the change store's .change files under Dir/changes.
	Dir string
	// InMemory opens the store with no on-disk files, for tests.
	InMemory bool
	// SyncWrites forces fsync on every commit.
	SyncWrites bool
	// Log is the injectable log facility (spec.md §6 Environment). The zero
	// value no-ops.
	Log logr.Logger
}

// Pristine is one opened pijul-sub000 repository: a store, the graph built
// on top of it, a content-addressed change cache, and the applier used to
// bring changes into a channel.
type Pristine struct {
	store   *store.Store
	graph   *graph.Graph
	changes *change.Store
	applier *apply.Applier
	log     logr.Logger
}

// Open opens (creating if absent) the pristine at opts.Dir.
func Open(opts Options) (*Pristine, error) {
	log := opts.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	st, err := store.Open(store.Options{
		Dir:        opts.Dir,
		InMemory:   opts.InMemory,
		SyncWrites: opts.SyncWrites,
		Log:        log,
	})
	if err != nil {
		return nil, fmt.Errorf("pristine: open store: %w", err)
	}

	g := graph.New()

	var changes *change.Store
	if !opts.InMemory {
		changesDir := opts.Dir + "/changes"
		changes, err = change.NewStore(changesDir)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("pristine: open change store: %w", err)
		}
	}

	return &Pristine{
		store:   st,
		graph:   g,
		changes: changes,
		applier: apply.New(g, log),
		log:     log,
	}, nil
}

// Close releases the underlying store and change cache.
func (p *Pristine) Close() error {
	if p.changes != nil {
		p.changes.Close()
	}
	return p.store.Close()
}

// Stats reports the on-disk store's coarse size.
func (p *Pristine) Stats() store.Stats {
	return p.store.Stats()
}

// Channel opens (or creates on first use) a named channel, within its own
// read-write transaction so its head record exists even if nothing is
// applied to it yet.
func (p *Pristine) Channel(name string) (*channel.Channel, error) {
	var ch *channel.Channel
	err := p.store.Update(func(txn *store.Txn) error {
		var err error
		ch, err = channel.Open(txn, p.graph, name)
		return err
	})
	return ch, err
}

// Apply registers the given change c and applies it to ch within a single
// read-write transaction, matching spec.md §5's "one writer at a time"
// rule. The change store is not read or written.
func (p *Pristine) Apply(ctx context.Context, ch *channel.Channel, c *change.Change) (graph.ChangeId, graph.Merkle, error) {
	var id graph.ChangeId
	var merkle graph.Merkle
	err := p.store.Update(func(txn *store.Txn) error {
		var err error
		id, merkle, err = p.applier.Apply(ctx, txn, ch, c)
		return err
	})
	return id, merkle, err
}

// ApplyHash applies the change named by hash, recursively applying any
// dependency not yet present on ch first (internal/apply.ApplyRec).
// Requires a non-in-memory Pristine (a change store with somewhere to read
// .change files from).
func (p *Pristine) ApplyHash(ctx context.Context, ch *channel.Channel, hash graph.Hash) error {
	if p.changes == nil {
		return fmt.Errorf("pristine: no change store configured (opened InMemory)")
	}
	return p.store.Update(func(txn *store.Txn) error {
		return apply.ApplyRec(ctx, txn, ch, p.applier, p.changes, hash, nil)
	})
}

// PutChange writes c to the change store, returning its hash.
func (p *Pristine) PutChange(c *change.Change) (graph.Hash, error) {
	if p.changes == nil {
		return graph.Hash{}, fmt.Errorf("pristine: no change store configured (opened InMemory)")
	}
	return p.changes.Put(c)
}

// Record runs a record pass of wc against ch's current tree, rooted at
// graph.InodeNil, within one read-only transaction (internal/record.Recorder
// only reads the store; turning the result into an applied Change is a
// separate step via PutChange+Apply). al may be nil to use the default
// line-based Myers aligner; workers <= 0 picks internal/record's default.
func (p *Pristine) Record(ctx context.Context, ch *channel.Channel, wc record.WorkingCopy, al aligner.Aligner, workers int) (*record.Recorded, error) {
	rec := record.NewRecorder(p.graph, wc, al, p.changes, workers, p.log)
	var out *record.Recorded
	err := p.store.View(func(txn *store.Txn) error {
		var err error
		out, err = rec.Record(ctx, txn, ch, graph.InodeNil)
		return err
	})
	return out, err
}

// IntoChange turns a Recorded bundle into a complete, hashable Change,
// computing its Hashed.Dependencies from the positions its hunks reference
// (spec.md §4.4's minimal dependency set) rather than requiring the caller
// to work them out by hand. zombies may be nil; pass the
// change.ZombieDependency entries repair produced while resurrecting zombie
// lines during this recording pass, if any were tracked.
func (p *Pristine) IntoChange(ch *channel.Channel, rec *record.Recorded, message string, authors []string, zombies []change.ZombieDependency) (*change.Change, error) {
	var deps []graph.Hash
	err := p.store.View(func(txn *store.Txn) error {
		var err error
		deps, err = p.computeDeps(txn, ch, rec.Hunks, zombies)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec.IntoChange(message, authors, deps), nil
}

// computeDeps derives the Hash set a change built from hunks must declare
// as dependencies: every other change's content a hunk's atoms reference,
// minimized against each candidate's own transitive closure, plus one Hash
// per zombie-resurrection source.
func (p *Pristine) computeDeps(txn *store.Txn, ch *channel.Channel, hunks []change.Hunk, zombies []change.ZombieDependency) ([]graph.Hash, error) {
	var atoms []change.Atom
	for _, h := range hunks {
		atoms = append(atoms, h.Atoms()...)
	}
	resolver := pristineHashResolver{txn: txn, g: p.graph}
	transitive := func(h graph.Hash) (map[graph.Hash]bool, error) {
		return p.transitiveDeps(txn, ch, h)
	}
	deps, err := change.ComputeDependencies(atoms, resolver, transitive)
	if err != nil {
		return nil, err
	}
	deps = append(deps, change.ComputeZombieDependencies(zombies)...)
	return dedupeHashes(deps), nil
}

// transitiveDeps resolves h to its registered ChangeId and walks
// ch.Deps/AddDep's persisted dependency edges breadth-first, returning
// every Hash reachable from h (including ones several hops away), so
// minimizeDependencies can drop a direct reference already implied by
// another declared dependency.
func (p *Pristine) transitiveDeps(txn *store.Txn, ch *channel.Channel, h graph.Hash) (map[graph.Hash]bool, error) {
	out := map[graph.Hash]bool{}
	id, ok, err := p.graph.T.Internal.Get(txn, h)
	if err != nil || !ok {
		return out, err
	}
	visited := map[graph.ChangeId]bool{id: true}
	queue := []graph.ChangeId{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		deps, err := ch.Deps(txn, cur)
		if err != nil {
			return nil, err
		}
		for _, d := range deps {
			dh, ok, err := p.graph.T.External.Get(txn, d)
			if err != nil {
				return nil, err
			}
			if ok {
				out[dh] = true
			}
			if !visited[d] {
				visited[d] = true
				queue = append(queue, d)
			}
		}
	}
	return out, nil
}

// pristineHashResolver adapts the graph's external-hash table to
// change.HashResolver.
type pristineHashResolver struct {
	txn *store.Txn
	g   *graph.Graph
}

func (r pristineHashResolver) HashOf(id graph.ChangeId) (graph.Hash, bool) {
	h, ok, err := r.g.T.External.Get(r.txn, id)
	if err != nil {
		return graph.Hash{}, false
	}
	return h, ok
}

func dedupeHashes(hs []graph.Hash) []graph.Hash {
	seen := map[graph.Hash]bool{}
	out := make([]graph.Hash, 0, len(hs))
	for _, h := range hs {
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Log returns ch's applied-change history in order, resolving each entry's
// ChangeId to its Hash.
func (p *Pristine) Log(ch *channel.Channel) ([]channel.LogEntry, error) {
	var entries []channel.LogEntry
	err := p.store.View(func(txn *store.Txn) error {
		var err error
		entries, err = ch.Log(txn, p.graph)
		return err
	})
	return entries, err
}

// Graph exposes the underlying graph for callers (cmd/pijul-core, tests)
// that need lower-level access than this package's API provides.
func (p *Pristine) Graph() *graph.Graph { return p.graph }

// Store exposes the underlying transactional store.
func (p *Pristine) Store() *store.Store { return p.store }
