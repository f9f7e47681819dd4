package orphan

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tux3fs/tux3/block"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, tr.Close()) })
	return tr
}

func TestLifecycleAcrossRollup(t *testing.T) {
	tr := newTestTracker(t)
	const inum = block.Inum(100)

	tr.Add(inum)
	require.Equal(t, 1, tr.AddLen())

	require.NoError(t, tr.RollupAdd())
	require.Equal(t, 0, tr.AddLen())

	surviving, err := tr.Surviving()
	require.NoError(t, err)
	require.Equal(t, []block.Inum{inum}, surviving)

	tr.Del(inum)
	require.Equal(t, 1, tr.DelLen())

	require.NoError(t, tr.RollupDel())
	require.Equal(t, 0, tr.DelLen())

	surviving, err = tr.Surviving()
	require.NoError(t, err)
	require.Empty(t, surviving)
}

func TestDelBeforeMigrationUnlinksFromAdd(t *testing.T) {
	tr := newTestTracker(t)
	const inum = block.Inum(101)

	tr.Add(inum)
	tr.Del(inum)

	require.Equal(t, 0, tr.AddLen())
	require.Equal(t, 0, tr.DelLen())

	require.NoError(t, tr.RollupAdd())
	surviving, err := tr.Surviving()
	require.NoError(t, err)
	require.Empty(t, surviving)
}

func TestReplayReconstructsTentativeAndDeferred(t *testing.T) {
	tr := newTestTracker(t)
	require.NoError(t, tr.otable.Put(otableKey(5), nil, nil))

	rs := NewReplayState()
	rs.ObserveAdd(10)
	rs.ObserveAdd(11)
	rs.ObserveDel(11) // cancels the tentative add
	rs.ObserveDel(5)  // no matching tentative: deferred against otable

	require.ElementsMatch(t, []block.Inum{10}, rs.Tentative())
	require.Equal(t, []block.Inum{5}, rs.Deferred())

	rs.Apply(tr)

	surviving, err := tr.Surviving()
	require.NoError(t, err)
	require.ElementsMatch(t, []block.Inum{10}, surviving)
}
