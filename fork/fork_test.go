package fork

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tux3fs/tux3/block"
	"github.com/tux3fs/tux3/cache"
	"github.com/tux3fs/tux3/device"
	"github.com/tux3fs/tux3/errs"
	"github.com/tux3fs/tux3/tuxconf"
)

func newTestMap(t *testing.T) (*cache.Cache, *cache.Map) {
	t.Helper()
	cfg := tuxconf.Default()
	cfg.PoolMode = tuxconf.PoolModeDebug
	c := cache.New(cfg)
	dev := device.NewMemDevice(cfg.BlockBits)
	m := cache.NewMap(block.InumFirstUser, dev, nil, c, cfg.MaxDelta)
	return c, m
}

// noPin never reports a buffer as pinned by writeback.
type noPin struct{}

func (noPin) Pinned(*cache.Buffer, uint32) bool { return false }

// alwaysPin reports every buffer as pinned.
type alwaysPin struct{}

func (alwaysPin) Pinned(*cache.Buffer, uint32) bool { return true }

func TestDirtyForCanDirtyFromClean(t *testing.T) {
	c, m := newTestMap(t)
	buf, err := c.Read(m, 10)
	require.NoError(t, err)
	require.Equal(t, cache.KindClean, buf.State().Kind)

	list := NewList()
	out, err := DirtyFor(c, noPin{}, buf, list, 1)
	require.NoError(t, err)
	require.Same(t, buf, out)
	require.Equal(t, cache.KindDirty, out.State().Kind)
	require.Equal(t, 0, list.Len())
}

func TestDirtyForAlreadyDirtySameDelta(t *testing.T) {
	c, m := newTestMap(t)
	buf, err := c.Get(m, 11)
	require.NoError(t, err)

	list := NewList()
	out, err := DirtyFor(c, noPin{}, buf, list, 2)
	require.NoError(t, err)
	require.Same(t, buf, out)

	out2, err := DirtyFor(c, noPin{}, out, list, 2)
	require.NoError(t, err)
	require.Same(t, out, out2)
	require.Equal(t, 0, list.Len())
}

func TestDirtyForAdvancesWhenNotPinned(t *testing.T) {
	c, m := newTestMap(t)
	buf, err := c.Get(m, 12)
	require.NoError(t, err)

	list := NewList()
	buf, err = DirtyFor(c, noPin{}, buf, list, 1)
	require.NoError(t, err)

	out, err := DirtyFor(c, noPin{}, buf, list, 2)
	require.NoError(t, err)
	require.Same(t, buf, out)
	require.Equal(t, uint32(2), out.State().Delta)
	require.Equal(t, 0, list.Len())
}

func TestDirtyForForksWhenPinned(t *testing.T) {
	c, m := newTestMap(t)
	buf, err := c.Get(m, 13)
	require.NoError(t, err)

	list := NewList()
	buf, err = DirtyFor(c, noPin{}, buf, list, 1)
	require.NoError(t, err)
	copy(buf.Data(), []byte("generation-one"))

	clone, err := DirtyFor(c, alwaysPin{}, buf, list, 2)
	require.NoError(t, err)
	require.NotSame(t, buf, clone)
	require.Equal(t, cache.KindDirty, clone.State().Kind)
	require.Equal(t, uint32(2), clone.State().Delta)
	require.Equal(t, byte('g'), clone.Data()[0])
	require.Equal(t, 1, list.Len())

	m.Lock()
	got := m.LookupLocked(13)
	m.Unlock()
	require.Same(t, clone, got)
}

func TestDirtyForAlreadyForkedRetries(t *testing.T) {
	c, m := newTestMap(t)
	buf, err := c.Get(m, 14)
	require.NoError(t, err)

	buf.Lock()
	buf.MarkForkedLocked()
	buf.Unlock()

	list := NewList()
	_, err = DirtyFor(c, noPin{}, buf, list, 3)
	require.ErrorIs(t, err, errs.ErrTryAgain)
}

func TestReclaimDropsDrainedEntries(t *testing.T) {
	c, m := newTestMap(t)
	buf, err := c.Get(m, 15)
	require.NoError(t, err)

	list := NewList()
	buf, err = DirtyFor(c, noPin{}, buf, list, 1)
	require.NoError(t, err)

	// A second concurrent reader pins the same generation before the
	// fork; DirtyFor only transfers its own caller's pin to the clone.
	reader, err := c.Get(m, 15)
	require.NoError(t, err)
	require.Same(t, buf, reader)

	clone, err := DirtyFor(c, alwaysPin{}, buf, list, 2)
	require.NoError(t, err)
	require.Equal(t, 1, list.Len())

	// The reader's pin on the forked-out original survived the transfer,
	// so reclaim must leave it tracked.
	require.Equal(t, 0, list.Reclaim())
	require.Equal(t, 1, list.Len())

	// Once that reader's pin drains, reclaim drops the bookkeeping entry.
	buf.Lock()
	buf.DecCountLocked()
	buf.Unlock()
	require.Equal(t, 1, list.Reclaim())
	require.Equal(t, 0, list.Len())

	c.Put(clone)
}
