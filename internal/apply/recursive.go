package apply

import (
	"context"
	"fmt"

	"github.com/fossdd/pijul-sub000/internal/change"
	"github.com/fossdd/pijul-sub000/internal/channel"
	"github.com/fossdd/pijul-sub000/internal/graph"
	"github.com/fossdd/pijul-sub000/internal/store"
)

// ApplyRec applies h and every dependency it transitively needs that isn't
// already registered on ch, in dependency order (post-order DFS: a
// dependency is always applied before the change that names it). visited
// guards against repeatedly walking a dependency shared by many changes in
// one call (spec.md §7 "ApplyRec... must not re-visit an already-satisfied
// dependency").
func ApplyRec(ctx context.Context, txn *store.Txn, ch *channel.Channel, a *Applier, changes *change.Store, h graph.Hash, visited map[graph.Hash]bool) error {
	if visited == nil {
		visited = map[graph.Hash]bool{}
	}
	return applyRec(ctx, txn, ch, a, changes, h, visited)
}

func applyRec(ctx context.Context, txn *store.Txn, ch *channel.Channel, a *Applier, changes *change.Store, h graph.Hash, visited map[graph.Hash]bool) error {
	if visited[h] {
		return nil
	}
	visited[h] = true

	if id, ok, err := a.Graph.T.Internal.Get(txn, h); err != nil {
		return err
	} else if ok {
		if present, err := ch.IsPresent(txn, id); err != nil {
			return err
		} else if present {
			return nil
		}
	}

	c, err := changes.Get(h)
	if err != nil {
		return fmt.Errorf("apply: loading dependency %s: %w", h, err)
	}

	for _, dep := range c.Hashed.Dependencies {
		if err := applyRec(ctx, txn, ch, a, changes, dep, visited); err != nil {
			return err
		}
	}

	_, _, err = a.Apply(ctx, txn, ch, c)
	if err != nil {
		if ae, ok := err.(*Error); ok && ae.Kind == KindAlreadyOnChannel {
			return nil
		}
		return err
	}
	return nil
}
