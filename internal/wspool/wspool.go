// Package wspool provides object pooling for the transient sets
// internal/apply and internal/repair allocate once per applied change:
// the "parents", "children", "deleted_by", "rooted" and "alive_folder"
// sets spec.md §9 calls out ("implementers... should pass this explicitly
// or use a pool"). Object pooling reuses allocated maps instead of
// creating new ones, reducing GC pressure on large ApplyRec traversals
// that allocate a fresh Workspace per change.
//
// Pooled objects:
// - Vertex sets (repair reachability/zombie bookkeeping)
// - ChangeId sets (dependency-closure visited sets)
// - byte buffers (change (de)serialization scratch space)
package wspool

import (
	"sync"

	"github.com/fossdd/pijul-sub000/internal/graph"
)

// Config configures pooling behavior.
type Config struct {
	// Enabled controls whether pooling is active.
	Enabled bool

	// MaxEntries limits how large a set may be and still be returned to
	// the pool (larger sets are dropped rather than retained, so one
	// unusually big change doesn't pin a huge map in memory forever).
	MaxEntries int
}

var globalConfig = Config{Enabled: true, MaxEntries: 4096}

// Configure sets global pool configuration. Should be called early during
// initialization; nothing in this module calls it outside tests, so the
// default (enabled, MaxEntries 4096) applies otherwise.
func Configure(c Config) {
	globalConfig = c
	initPools()
}

func initPools() {
	vertexSetPool = sync.Pool{New: func() any { return make(map[graph.Vertex]bool, 64) }}
	changeIDSetPool = sync.Pool{New: func() any { return make(map[graph.ChangeId]bool, 64) }}
	byteBufferPool = sync.Pool{New: func() any { return make([]byte, 0, 4096) }}
}

func init() { initPools() }

// IsEnabled reports whether pooling is active.
func IsEnabled() bool { return globalConfig.Enabled }

// =============================================================================
// Vertex Set Pool (repair: rooted/alive_folder/parents/children/deleted_by)
// =============================================================================

var vertexSetPool sync.Pool

// GetVertexSet returns an empty vertex set from the pool.
func GetVertexSet() map[graph.Vertex]bool {
	if !globalConfig.Enabled {
		return make(map[graph.Vertex]bool, 64)
	}
	return vertexSetPool.Get().(map[graph.Vertex]bool)
}

// PutVertexSet clears and returns a vertex set to the pool.
func PutVertexSet(s map[graph.Vertex]bool) {
	if !globalConfig.Enabled || s == nil || len(s) > globalConfig.MaxEntries {
		return
	}
	for k := range s {
		delete(s, k)
	}
	vertexSetPool.Put(s)
}

// =============================================================================
// ChangeId Set Pool (for dependency-closure walks; no package in this module calls it)
// =============================================================================

var changeIDSetPool sync.Pool

// GetChangeIDSet returns an empty ChangeId set from the pool.
func GetChangeIDSet() map[graph.ChangeId]bool {
	if !globalConfig.Enabled {
		return make(map[graph.ChangeId]bool, 64)
	}
	return changeIDSetPool.Get().(map[graph.ChangeId]bool)
}

// PutChangeIDSet clears and returns a ChangeId set to the pool.
func PutChangeIDSet(s map[graph.ChangeId]bool) {
	if !globalConfig.Enabled || s == nil || len(s) > globalConfig.MaxEntries {
		return
	}
	for k := range s {
		delete(s, k)
	}
	changeIDSetPool.Put(s)
}

// =============================================================================
// Byte Buffer Pool (change frame (de)compression scratch space)
// =============================================================================

var byteBufferPool sync.Pool

// GetByteBuffer returns a zero-length byte buffer from the pool.
func GetByteBuffer() []byte {
	if !globalConfig.Enabled {
		return make([]byte, 0, 4096)
	}
	return byteBufferPool.Get().([]byte)[:0]
}

// PutByteBuffer returns a byte buffer to the pool.
func PutByteBuffer(buf []byte) {
	if !globalConfig.Enabled || cap(buf) > 4<<20 {
		return
	}
	byteBufferPool.Put(buf[:0])
}
