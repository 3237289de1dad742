package testutil

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fossdd/pijul-sub000/internal/apply"
	"github.com/fossdd/pijul-sub000/internal/change"
	"github.com/fossdd/pijul-sub000/internal/channel"
	"github.com/fossdd/pijul-sub000/internal/graph"
	"github.com/fossdd/pijul-sub000/internal/store"
)

// rootPosition is the Position every FileAdd hunk in these tests attaches
// its new inode to: the synthetic ROOT vertex at offset 0.
func rootPosition() graph.Position {
	return graph.AllocatedPosition(graph.RootId, 0)
}

// fileAddChangeWithDeps is fileAddChange generalized with a declared
// Hashed.Dependencies list, for the recursive-apply scenario.
func fileAddChangeWithDeps(name string, contents []byte, deps []graph.Hash) *change.Change {
	c := fileAddChange(name, contents)
	c.Hashed.Dependencies = deps
	return c
}

func TestRoundTrip(t *testing.T) {
	t.Run("single file-add hunk survives encode/decode", func(t *testing.T) {
		c := fileAddChange("greeting.txt", []byte("hello\nworld\n"))
		assert.NoError(t, RoundTrip(c))
	})

	t.Run("empty change survives encode/decode", func(t *testing.T) {
		c := &change.Change{Hashed: change.Hashed{Version: change.FormatVersion}, Unhashed: change.Unhashed{}}
		assert.NoError(t, RoundTrip(c))
	})
}

func TestIdempotence(t *testing.T) {
	st, _, a, err := NewInMemoryPristine()
	require.NoError(t, err)
	defer st.Close()

	c := fileAddChange("idempotent.txt", []byte("only once\n"))
	require.NoError(t, Idempotence(context.Background(), a, st, "main", c))
}

func TestCommutativity(t *testing.T) {
	t.Run("independent file adds commute with no probes", func(t *testing.T) {
		build1 := func() (*change.Change, error) { return fileAddChange("a.txt", []byte("a\n")), nil }
		build2 := func() (*change.Change, error) { return fileAddChange("b.txt", []byte("b\n")), nil }

		require.NoError(t, Commutativity(context.Background(), build1, build2, nil))
	})

	t.Run("probe at root agrees across both orders", func(t *testing.T) {
		build1 := func() (*change.Change, error) { return fileAddChange("c.txt", []byte("c\n")), nil }
		build2 := func() (*change.Change, error) { return fileAddChange("d.txt", []byte("d\n")), nil }

		probes := []graph.Position{rootPosition()}
		require.NoError(t, Commutativity(context.Background(), build1, build2, probes))
	})
}

func TestHarnessRunCountsEveryTrial(t *testing.T) {
	h := &Harness{
		Trials: 5,
		Scenarios: []Scenario{
			{
				Name: "round-trip/file-add",
				Run: func(rng *rand.Rand) error {
					c := fileAddChange("scenario.txt", []byte{byte(rng.Intn(256))})
					return RoundTrip(c)
				},
			},
			{
				Name: "idempotence/file-add",
				Run: func(rng *rand.Rand) error {
					st, _, a, err := NewInMemoryPristine()
					if err != nil {
						return err
					}
					defer st.Close()
					c := fileAddChange("scenario.txt", []byte{byte(rng.Intn(256))})
					return Idempotence(context.Background(), a, st, "main", c)
				},
			},
		},
	}

	report := h.Run(12345)
	assert.Equal(t, 10, report.Total)
	assert.Equal(t, 10, report.Passed)
	assert.Empty(t, report.Errors)
}

// TestRandomizedScenarios runs the generator-backed Scenarios (random split
// points, random independent change pairs, random folder-move cycles)
// through the Harness, reproducing spec.md §8's invariant 3 and seed
// scenario 6 across many random seeds rather than one fixed example each.
func TestRandomizedScenarios(t *testing.T) {
	h := &Harness{
		Trials: 8,
		Scenarios: []Scenario{
			RandomSplitScenario(),
			RandomFolderMoveCycle(),
			{
				Name: "commutativity/random-independent-pair",
				Run: func(rng *rand.Rand) error {
					build1, build2 := RandomIndependentPair(rng)
					return Commutativity(context.Background(), build1, build2, []graph.Position{rootPosition()})
				},
			},
		},
	}
	report := h.Run(999)
	assert.Equal(t, 24, report.Total)
	assert.Equal(t, 24, report.Passed)
	assert.Empty(t, report.Errors)
}

// TestSeedScenarioRecursiveApply is spec.md §8 seed scenario 5: a change c
// depending on {d1,d2,d3} where d2 itself depends on d4 must, via
// ApplyRec, bring in d4 and d2 before c even though c never names d4
// directly, and must leave d1 (already locally present) untouched.
func TestSeedScenarioRecursiveApply(t *testing.T) {
	st, g, a, err := NewInMemoryPristine()
	require.NoError(t, err)
	defer st.Close()

	cs, err := change.NewStore(t.TempDir())
	require.NoError(t, err)
	defer cs.Close()

	d4 := fileAddChange("d4.txt", []byte("d4\n"))
	h4, err := cs.Put(d4)
	require.NoError(t, err)

	d2 := fileAddChangeWithDeps("d2.txt", []byte("d2\n"), []graph.Hash{h4})
	h2, err := cs.Put(d2)
	require.NoError(t, err)

	d3 := fileAddChange("d3.txt", []byte("d3\n"))
	h3, err := cs.Put(d3)
	require.NoError(t, err)

	d1 := fileAddChange("d1.txt", []byte("d1\n"))
	h1, err := cs.Put(d1)
	require.NoError(t, err)

	c := fileAddChangeWithDeps("c.txt", []byte("c\n"), []graph.Hash{h1, h2, h3})
	hc, err := cs.Put(c)
	require.NoError(t, err)

	var ch *channel.Channel
	err = st.Update(func(txn *store.Txn) error {
		var err error
		ch, err = channel.Open(txn, g, "main")
		if err != nil {
			return err
		}
		// d1 is already present locally, as if recorded and applied in an
		// earlier session, before c (whose dependency list still names it)
		// is pulled in.
		if _, _, err := a.Apply(context.Background(), txn, ch, d1); err != nil {
			return err
		}
		return apply.ApplyRec(context.Background(), txn, ch, a, cs, hc, nil)
	})
	require.NoError(t, err)

	err = st.View(func(txn *store.Txn) error {
		for _, h := range []graph.Hash{h1, h2, h3, h4, hc} {
			id, ok, err := g.T.Internal.Get(txn, h)
			require.NoError(t, err)
			require.Truef(t, ok, "change %s never registered", h)
			present, err := ch.IsPresent(txn, id)
			require.NoError(t, err)
			assert.Truef(t, present, "change %s not applied to channel", h)
		}
		return nil
	})
	require.NoError(t, err)
}

// TestSeedScenarioCyclicFolderMove is spec.md §8 seed scenario 6, pinned to
// fixed names rather than RandomFolderMoveCycle's random ones, so a
// regression here always reproduces with the same trace.
func TestSeedScenarioCyclicFolderMove(t *testing.T) {
	require.NoError(t, RandomFolderMoveCycle().Run(rand.New(rand.NewSource(1))))
}
