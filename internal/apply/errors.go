// Package apply implements the transactional application of a Change to a
// pristine: dependency checking, ChangeId registration, two-phase graph
// mutation (additions before deletions), and post-apply context repair
// (spec.md §7).
package apply

import (
	"fmt"

	"github.com/fossdd/pijul-sub000/internal/graph"
)

// ErrorKind discriminates the apply failure kinds spec.md §7 names.
type ErrorKind int

const (
	// KindDependencyMissing: a declared dependency is not registered.
	KindDependencyMissing ErrorKind = iota
	// KindAlreadyOnChannel: the change is already present on the target channel.
	KindAlreadyOnChannel
	// KindBlock: an atom referenced a Position with no covering vertex.
	KindBlock
	// KindInvalidChange: a structural invariant would be violated.
	KindInvalidChange
)

func (k ErrorKind) String() string {
	switch k {
	case KindDependencyMissing:
		return "dependency missing"
	case KindAlreadyOnChannel:
		return "already applied"
	case KindBlock:
		return "block not found"
	case KindInvalidChange:
		return "invalid change"
	default:
		return "unknown"
	}
}

// Error is the typed error apply returns, always attributable to one of
// spec.md §7's four kinds.
type Error struct {
	Kind   ErrorKind
	Hash   graph.Hash
	Detail error
}

func (e *Error) Error() string {
	if e.Detail != nil {
		return fmt.Sprintf("apply: %s (%s): %v", e.Kind, e.Hash, e.Detail)
	}
	return fmt.Sprintf("apply: %s (%s)", e.Kind, e.Hash)
}

func (e *Error) Unwrap() error { return e.Detail }
