package change

import (
	"fmt"
	"sort"
	"time"

	"github.com/fossdd/pijul-sub000/internal/graph"
)

// FormatVersion is the on-disk change format version this package reads and
// writes (spec.md §2's "Version" header field).
const FormatVersion = 1

// Header is a change's free-text metadata. The spec explicitly scopes out
// any particular header encoding ("TOML/JSON headers" is a Non-goal of this
// core); this is the minimal struct the hashed part actually commits to.
type Header struct {
	Message   string
	Authors   []string
	Timestamp time.Time
}

// Hashed is everything a change's Hash digests: header, declared
// dependencies, extra knowledge, and the hunk list, plus the separately
// computed digest of Contents (spec.md §2 "Hashed struct"). Two changes
// with identical Hashed values are the same change.
type Hashed struct {
	Version      uint32
	Header       Header
	Dependencies []graph.Hash
	ExtraKnown   []graph.Hash
	Changes      []Hunk
	ContentsHash graph.Hash
}

// Unhashed is metadata carried alongside a change but not covered by its
// Hash: free-form, implementation-defined (spec.md §2 "Unhashed JSON").
type Unhashed map[string]any

// Change is a complete, self-contained patch: the hashed envelope, its
// unhashed sidecar, and the raw contents bytes its NewVertex atoms slice
// into.
type Change struct {
	Hashed   Hashed
	Unhashed Unhashed
	Contents []byte
}

// Hash computes the change's content address: digest(Hashed) composed with
// digest(Contents) via ContentsHash (spec.md §2 invariant: "Hash(c) is a
// pure function of Hashed and Contents; Unhashed never affects Hash").
func (c *Change) Hash() (graph.Hash, error) {
	c.Hashed.ContentsHash = graph.HashContent(c.Contents)
	enc, err := encodeHashed(&c.Hashed)
	if err != nil {
		return graph.Hash{}, err
	}
	return graph.HashContent(enc), nil
}

// Atoms flattens every hunk into the ordered atom sequence apply consumes.
func (c *Change) Atoms() []Atom {
	var out []Atom
	for _, h := range c.Hashed.Changes {
		out = append(out, h.Atoms()...)
	}
	return out
}

// Dependencies returns a copy of c's declared Hashed.Dependencies, as
// stored. The minimal dependency set of spec.md §4.4 is computed separately
// by ComputeDependencies (dependencies.go), which needs the pristine to
// resolve Position->Hash for already-applied atoms.
func (c *Change) Dependencies() []graph.Hash {
	return append([]graph.Hash{}, c.Hashed.Dependencies...)
}

// Invert produces the formal inverse of c: each hunk is mapped through
// invertHunk, the inverse's dependencies are c's own Hash followed by c's
// dependencies, and c's ExtraKnown is carried over unchanged (spec.md §4.3
// "Inverting a whole change").
func (c *Change) Invert(assigned graph.ChangeId, author string, at time.Time) (*Change, error) {
	h, err := c.Hash()
	if err != nil {
		return nil, err
	}
	inv := &Change{
		Hashed: Hashed{
			Version:      FormatVersion,
			Header:       Header{Message: "Revert of " + h.String(), Authors: []string{author}, Timestamp: at},
			Dependencies: append([]graph.Hash{h}, c.Hashed.Dependencies...),
			ExtraKnown:   c.Hashed.ExtraKnown,
		},
		Unhashed: Unhashed{},
		Contents: nil,
	}
	for i := len(c.Hashed.Changes) - 1; i >= 0; i-- {
		hunk := c.Hashed.Changes[i]
		invHunk, err := invertHunk(hunk, assigned)
		if err != nil {
			return nil, fmt.Errorf("change: inverting hunk %d: %w", i, err)
		}
		inv.Hashed.Changes = append(inv.Hashed.Changes, invHunk)
	}
	return inv, nil
}

func invertHunk(h Hunk, assigned graph.ChangeId) (Hunk, error) {
	switch v := h.(type) {
	case FileAdd:
		return FileDel{Name: graph.ThisChangePosition(v.Inode).Resolve(assigned)}, nil
	case FileDel:
		return FileUndel{Name: v.Name, Contents: v.Contents}, nil
	case FileUndel:
		return FileDel{Name: v.Name, Contents: v.Contents}, nil
	case SolveNameConflict:
		return UnsolveNameConflict{Losers: v.Losers}, nil
	case UnsolveNameConflict:
		return SolveNameConflict{Losers: v.Losers}, nil
	case SolveOrderConflict:
		return UnsolveOrderConflict{Edges: v.Edges}, nil
	case UnsolveOrderConflict:
		return SolveOrderConflict{Edges: v.Edges}, nil
	case AddRoot:
		return DelRoot{Target: v.Target}, nil
	case DelRoot:
		return AddRoot{Target: v.Target}, nil
	default:
		return nil, fmt.Errorf("change: hunk type %T has no direct inverse hunk (invert at the atom level instead)", h)
	}
}

// sortedHashes returns hs sorted for deterministic encoding (spec.md §8
// "Determinism": serialization of equal values must be byte-identical).
func sortedHashes(hs []graph.Hash) []graph.Hash {
	out := append([]graph.Hash{}, hs...)
	sort.Slice(out, func(i, j int) bool { return string(out[i][:]) < string(out[j][:]) })
	return out
}
