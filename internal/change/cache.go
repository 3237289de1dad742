package change

import (
	"io"
	"os"
	"path/filepath"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/fossdd/pijul-sub000/internal/graph"
)

// Store is the minimal change-file persistence surface: one file per change,
// named by its Hash, under a pristine's changes directory (spec.md §6
// "changes/ holds one file per known change, named by Hash").
type Store struct {
	dir   string
	cache *ristretto.Cache[graph.Hash, *Change]
}

// NewStore opens a change store rooted at dir, with an in-memory cache of
// recently-decompressed changes so repeated apply/log of the same change
// (common during a big ApplyRec traversal) skips re-inflating its zstd
// frames every time.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	cache, err := ristretto.NewCache(&ristretto.Config[graph.Hash, *Change]{
		NumCounters: 10_000,
		MaxCost:     64 << 20, // 64MiB of decompressed changes
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Store{dir: dir, cache: cache}, nil
}

func (s *Store) path(h graph.Hash) string {
	hex := h.String()
	return filepath.Join(s.dir, hex[:2], hex[2:]+".change")
}

// Put persists c under its own Hash, returning the hash.
func (s *Store) Put(c *Change) (graph.Hash, error) {
	h, err := c.Hash()
	if err != nil {
		return graph.Hash{}, err
	}
	p := s.path(h)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return graph.Hash{}, err
	}
	f, err := os.Create(p)
	if err != nil {
		return graph.Hash{}, err
	}
	defer f.Close()
	if _, err := c.WriteTo(f); err != nil {
		return graph.Hash{}, err
	}
	s.cache.Set(h, c, int64(len(c.Contents)+1024))
	return h, nil
}

// Get loads the change named h, from cache if present.
func (s *Store) Get(h graph.Hash) (*Change, error) {
	if c, ok := s.cache.Get(h); ok {
		return c, nil
	}
	f, err := os.Open(s.path(h))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	c := &Change{}
	if _, err := c.ReadFrom(f); err != nil {
		return nil, err
	}
	s.cache.Set(h, c, int64(len(c.Contents)+1024))
	return c, nil
}

// Has reports whether a change file named h exists, without inflating it.
func (s *Store) Has(h graph.Hash) bool {
	_, err := os.Stat(s.path(h))
	return err == nil
}

// Close releases the cache's background goroutines.
func (s *Store) Close() { s.cache.Close() }

var _ io.ReaderFrom = (*Change)(nil)
var _ io.WriterTo = (*Change)(nil)
