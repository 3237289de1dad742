// Package graph implements the persistent, labeled multigraph that
// backs a pijul-sub000 pristine: vertices are contiguous byte ranges of a
// change's contents, edges are typed and flagged, and a vertex is alive iff
// it is reachable from Vertex{} (the synthetic root) via non-deleted,
// non-parent edges.
//
// The package is deliberately storage-agnostic: it defines the identifiers,
// the edge-flag algebra and the in-memory adjacency operations (find_block,
// split_block, iter_adjacent) that internal/store's tables are built around.
package graph

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// HashSize is the digest width of the one implemented Hash algorithm.
const HashSize = 32

// Hash is a fixed-size content digest. It is a tagged union in the source
// design (room for future algorithms); this implementation carries exactly
// one algorithm (blake2b-256), so the tag is implicit.
type Hash [HashSize]byte

// HashNone is the sentinel "no hash" value. Hash::None ↔ ChangeId::ROOT is
// implicit everywhere a Hash is used to name a change (invariant 6).
var HashNone = Hash{}

// IsNone reports whether h is the all-zero sentinel.
func (h Hash) IsNone() bool { return h == HashNone }

// String renders the full hash as lowercase hex ("<none>" for HashNone).
func (h Hash) String() string {
	if h.IsNone() {
		return "<none>"
	}
	return hex.EncodeToString(h[:])
}

// HashContent computes the content hash of a byte slice using the one
// digest algorithm this implementation carries.
func HashContent(data []byte) Hash {
	sum := blake2b.Sum256(data)
	return Hash(sum)
}

// ParseHash parses a hex-encoded hash as produced by String/MarshalText.
func ParseHash(s string) (Hash, error) {
	if s == "<none>" || s == "" {
		return HashNone, nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("graph: invalid hash %q: %w", s, err)
	}
	if len(raw) != HashSize {
		return Hash{}, fmt.Errorf("graph: invalid hash length %d, want %d", len(raw), HashSize)
	}
	var h Hash
	copy(h[:], raw)
	return h, nil
}

// MarshalText implements encoding.TextMarshaler so Hash can be used as a map
// key or struct field in the text change format and in YAML/JSON configs.
func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Merkle is the rolling digest of a channel state: the running hash after
// applying the n-th change, in channel order.
type Merkle Hash

// MerkleZero is the Merkle of an empty channel.
var MerkleZero = Merkle{}

// Fold folds a newly-applied change's Hash into the running Merkle,
// producing the channel's new state digest. Folding is order-sensitive:
// Merkle(n) depends on Merkle(n-1) and change n's hash, which is what makes
// it useful as a "was this state ever current" fingerprint (table `states`).
func (m Merkle) Fold(h Hash) Merkle {
	buf := make([]byte, 0, HashSize*2)
	buf = append(buf, m[:]...)
	buf = append(buf, h[:]...)
	return Merkle(blake2b.Sum256(buf))
}

func (m Merkle) String() string { return Hash(m).String() }
