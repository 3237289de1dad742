package channel

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fossdd/pijul-sub000/internal/graph"
	"github.com/fossdd/pijul-sub000/internal/store"
)

// ErrAlreadyOnChannel is returned by PutChanges when the change is already
// present (spec.md §4.1 invariant 5: "put_changes is idempotent and returns
// the new Merkle only on first insertion"; §7's "Already applied" kind).
var ErrAlreadyOnChannel = errors.New("channel: change already on channel")

// Channel is a named, in-memory-cached view over the
// pristine graph: a read-write-lock-guarded handle (spec.md §5 "Shared
// references") wrapping this channel's scoped tables plus its last-known
// running Merkle and apply counter, so repeated opens within a single
// transaction see consistent state without re-scanning `revchanges`.
type Channel struct {
	mu      sync.RWMutex
	Name    string
	tables  Tables
	graph   *graph.Graph
	// cached running state; refreshed from store on Open, updated on
	// PutChanges. Not authoritative across processes — the store tables
	// are authoritative, this is a per-handle cache (§5: "committing the
	// transaction flushes the channel back to the store").
	counter      ApplyTimestamp
	merkle       graph.Merkle
	lastModified time.Time
}

// Open constructs (or re-opens) a named channel handle within txn, loading
// its current apply counter and running Merkle from the channel's head
// record in O(1).
func Open(txn *store.Txn, g *graph.Graph, name string) (*Channel, error) {
	c := &Channel{Name: name, tables: newTables(name), graph: g}
	head, ok, err := c.tables.Head.Get(txn, wrap(unitKey{}))
	if err != nil {
		return nil, err
	}
	if ok {
		c.counter = head.Counter
		c.merkle = head.Merkle
	}
	return c, nil
}

func (c *Channel) saveHead(txn *store.Txn) error {
	_, err := c.tables.Head.Put(txn, wrap(unitKey{}), headState{Counter: c.counter, Merkle: c.merkle})
	return err
}

// Counter returns the channel's next apply timestamp.
func (c *Channel) Counter() ApplyTimestamp {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counter
}

// Merkle returns the channel's current running state digest.
func (c *Channel) Merkle() graph.Merkle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.merkle
}

// LastModified returns the timestamp last set by SetLastModified on this
// handle. internal/record does not read it: a record pass diffs every file
// it knows, whatever its modification time.
func (c *Channel) LastModified() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastModified
}

// SetLastModified updates the channel's last-modified watermark, normally
// called once a record pass completes successfully.
func (c *Channel) SetLastModified(txn *store.Txn, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastModified = t
}

// IsPresent reports whether id is already a member of this channel.
func (c *Channel) IsPresent(txn *store.Txn, id graph.ChangeId) (bool, error) {
	_, ok, err := c.tables.Changes.Get(txn, wrap(id))
	return ok, err
}

// PutChanges registers id/hash as newly applied to the channel, assigning
// it the next ApplyTimestamp and folding hash into the running Merkle. It
// is idempotent: if id is already present, it returns ErrAlreadyOnChannel
// and the channel is left untouched (invariant 5, §8 "Idempotence").
func (c *Channel) PutChanges(txn *store.Txn, id graph.ChangeId, hash graph.Hash) (ApplyTimestamp, graph.Merkle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, present, err := c.tables.Changes.Get(txn, wrap(id)); err != nil {
		return 0, graph.Merkle{}, err
	} else if present {
		return 0, graph.Merkle{}, ErrAlreadyOnChannel
	}

	t := c.counter
	newMerkle := c.merkle.Fold(hash)

	if _, err := c.tables.Changes.Put(txn, wrap(id), t); err != nil {
		return 0, graph.Merkle{}, err
	}
	if _, err := c.tables.Revchanges.Put(txn, wrap(t), revEntry{Id: id, Merkle: newMerkle}); err != nil {
		return 0, graph.Merkle{}, err
	}
	if _, err := c.tables.States.Put(txn, wrap(newMerkle), t); err != nil {
		return 0, graph.Merkle{}, err
	}

	c.counter++
	c.merkle = newMerkle
	if err := c.saveHead(txn); err != nil {
		return 0, graph.Merkle{}, err
	}
	return t, newMerkle, nil
}

// Tag names the current state (ApplyTimestamp) with a content hash,
// e.g. for a channel snapshot export.
func (c *Channel) Tag(txn *store.Txn, h graph.Hash) error {
	c.mu.RLock()
	t := c.counter
	c.mu.RUnlock()
	if t == 0 {
		return fmt.Errorf("channel: cannot tag an empty channel")
	}
	_, err := c.tables.Tags.Put(txn, wrap(t-1), h)
	return err
}

// WasEverCurrent reports whether m was ever the channel's running Merkle
// (the `states` table's purpose per spec.md §3).
func (c *Channel) WasEverCurrent(txn *store.Txn, m graph.Merkle) (bool, error) {
	_, ok, err := c.tables.States.Get(txn, wrap(m))
	return ok, err
}

// AddDep records a forward+reverse dependency edge (dep/revdep).
func (c *Channel) AddDep(txn *store.Txn, change, dependsOn graph.ChangeId) error {
	if _, err := c.tables.Dep.Put(txn, wrap(change), dependsOn); err != nil {
		return err
	}
	_, err := c.tables.Revdep.Put(txn, wrap(dependsOn), change)
	return err
}

// Deps returns the changes that `change` directly depends on.
func (c *Channel) Deps(txn *store.Txn, change graph.ChangeId) ([]graph.ChangeId, error) {
	var out []graph.ChangeId
	for d, err := range c.tables.Dep.Iter(txn, wrap(change)) {
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// RevDeps returns the changes that directly depend on `change`.
func (c *Channel) RevDeps(txn *store.Txn, change graph.ChangeId) ([]graph.ChangeId, error) {
	var out []graph.ChangeId
	for d, err := range c.tables.Revdep.Iter(txn, wrap(change)) {
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// TouchFile records that `change` touched inode `i`, both directions
// (touched_files/rev_touched_files), used by record's Delete-obsolete-
// children pass and by output/log tooling to answer "what changes named
// this path".
func (c *Channel) TouchFile(txn *store.Txn, i graph.Inode, change graph.ChangeId) error {
	if _, err := c.tables.TouchedFiles.Put(txn, wrap(i), change); err != nil {
		return err
	}
	_, err := c.tables.RevTouched.Put(txn, wrap(change), i)
	return err
}

// LogEntry is one applied-change record in a channel's total order, the
// shape a `log` command reads (spec.md §6's channel concept: "revchanges
// defines a total order" over applied changes).
type LogEntry struct {
	Timestamp ApplyTimestamp
	Id        graph.ChangeId
	Hash      graph.Hash
	Merkle    graph.Merkle
}

// Log returns every change applied to c, in ApplyTimestamp order, with each
// entry's ChangeId resolved to its Hash via g's external table.
func (c *Channel) Log(txn *store.Txn, g *graph.Graph) ([]LogEntry, error) {
	c.mu.RLock()
	counter := c.counter
	c.mu.RUnlock()

	entries := make([]LogEntry, 0, counter)
	for t := ApplyTimestamp(0); t < counter; t++ {
		rev, ok, err := c.tables.Revchanges.Get(txn, wrap(t))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		hash, ok, err := g.T.External.Get(txn, rev.Id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("channel: revchanges entry %d names unregistered change %d", t, rev.Id)
		}
		entries = append(entries, LogEntry{Timestamp: t, Id: rev.Id, Hash: hash, Merkle: rev.Merkle})
	}
	return entries, nil
}

// ChangesTouching returns every change known to have touched inode i.
func (c *Channel) ChangesTouching(txn *store.Txn, i graph.Inode) ([]graph.ChangeId, error) {
	var out []graph.ChangeId
	for ch, err := range c.tables.TouchedFiles.Iter(txn, wrap(i)) {
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}
