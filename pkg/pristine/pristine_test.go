package pristine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fossdd/pijul-sub000/internal/change"
	"github.com/fossdd/pijul-sub000/internal/graph"
)

func rootPosition() graph.Position {
	return graph.AllocatedPosition(graph.RootId, 0)
}

func fileAddChange(name string, contents []byte) *change.Change {
	return &change.Change{
		Hashed: change.Hashed{
			Version: change.FormatVersion,
			Header:  change.Header{Message: "add " + name},
			Changes: []change.Hunk{
				change.FileAdd{
					Parent:     rootPosition(),
					Name:       name,
					Contents:   contents,
					ContentPos: 0,
				},
			},
		},
		Unhashed: change.Unhashed{},
		Contents: contents,
	}
}

func openTestPristine(t *testing.T) *Pristine {
	t.Helper()
	p, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestOpenCloseInMemory(t *testing.T) {
	p := openTestPristine(t)
	assert.NotNil(t, p.Graph())
	assert.NotNil(t, p.Store())
}

func TestChannelIsIdempotentPerName(t *testing.T) {
	p := openTestPristine(t)

	ch1, err := p.Channel("main")
	require.NoError(t, err)
	ch2, err := p.Channel("main")
	require.NoError(t, err)

	assert.Equal(t, ch1.Name, ch2.Name)
}

func TestApplyThenLog(t *testing.T) {
	p := openTestPristine(t)

	ch, err := p.Channel("main")
	require.NoError(t, err)

	c := fileAddChange("hello.txt", []byte("hi\n"))
	id, merkle, err := p.Apply(context.Background(), ch, c)
	require.NoError(t, err)
	assert.NotEqual(t, graph.Merkle{}, merkle)

	entries, err := p.Log(ch)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].Id)
	assert.Equal(t, merkle, entries[0].Merkle)
}

func TestApplyHashAndPutChangeRequireOnDiskStore(t *testing.T) {
	p := openTestPristine(t)
	ch, err := p.Channel("main")
	require.NoError(t, err)

	_, err = p.PutChange(fileAddChange("x.txt", []byte("x")))
	assert.Error(t, err)

	err = p.ApplyHash(context.Background(), ch, graph.Hash{})
	assert.Error(t, err)
}

func TestStatsReportsSomething(t *testing.T) {
	p := openTestPristine(t)
	stats := p.Stats()
	assert.NotEmpty(t, stats.HumanSize)
}
