package wspool

import (
	"testing"

	"github.com/fossdd/pijul-sub000/internal/graph"
)

func TestConfigure(t *testing.T) {
	orig := globalConfig
	defer Configure(orig)

	t.Run("enable pooling", func(t *testing.T) {
		Configure(Config{Enabled: true, MaxEntries: 500})
		if !IsEnabled() {
			t.Error("IsEnabled() = false, want true")
		}
		if globalConfig.MaxEntries != 500 {
			t.Errorf("MaxEntries = %d, want 500", globalConfig.MaxEntries)
		}
	})

	t.Run("disable pooling", func(t *testing.T) {
		Configure(Config{Enabled: false, MaxEntries: 1000})
		if IsEnabled() {
			t.Error("IsEnabled() = true, want false")
		}
	})
}

func TestVertexSetPool(t *testing.T) {
	Configure(Config{Enabled: true, MaxEntries: 1000})

	t.Run("get returns empty set", func(t *testing.T) {
		s := GetVertexSet()
		if len(s) != 0 {
			t.Errorf("len = %d, want 0", len(s))
		}
		PutVertexSet(s)
	})

	t.Run("put clears entries before reuse", func(t *testing.T) {
		s := GetVertexSet()
		s[graph.Vertex{Change: 1, Start: 0, End: 1}] = true
		PutVertexSet(s)

		s2 := GetVertexSet()
		if len(s2) != 0 {
			t.Errorf("reused set has %d stale entries, want 0", len(s2))
		}
	})

	t.Run("oversized set is dropped, not pooled", func(t *testing.T) {
		Configure(Config{Enabled: true, MaxEntries: 2})
		s := GetVertexSet()
		s[graph.Vertex{Change: 1}] = true
		s[graph.Vertex{Change: 2}] = true
		s[graph.Vertex{Change: 3}] = true
		PutVertexSet(s) // silently dropped; must not panic
	})
}

func TestChangeIDSetPool(t *testing.T) {
	Configure(Config{Enabled: true, MaxEntries: 1000})

	s := GetChangeIDSet()
	s[graph.ChangeId(7)] = true
	if !s[graph.ChangeId(7)] {
		t.Fatal("expected entry present")
	}
	PutChangeIDSet(s)

	s2 := GetChangeIDSet()
	if len(s2) != 0 {
		t.Errorf("reused set has %d stale entries, want 0", len(s2))
	}
}

func TestByteBufferPool(t *testing.T) {
	Configure(Config{Enabled: true, MaxEntries: 1000})

	buf := GetByteBuffer()
	if len(buf) != 0 {
		t.Errorf("len = %d, want 0", len(buf))
	}
	buf = append(buf, 1, 2, 3)
	PutByteBuffer(buf)

	buf2 := GetByteBuffer()
	if len(buf2) != 0 {
		t.Errorf("reused buffer has length %d, want 0", len(buf2))
	}
}

func TestDisabledPoolingAllocatesFresh(t *testing.T) {
	Configure(Config{Enabled: false, MaxEntries: 1000})
	defer Configure(Config{Enabled: true, MaxEntries: 4096})

	s1 := GetVertexSet()
	s1[graph.Vertex{Change: 1}] = true
	PutVertexSet(s1) // no-op while disabled

	s2 := GetVertexSet()
	if len(s2) != 0 {
		t.Errorf("fresh set should be empty, got %d entries", len(s2))
	}
}
