package delta

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tux3fs/tux3/block"
	"github.com/tux3fs/tux3/cache"
	"github.com/tux3fs/tux3/device"
	"github.com/tux3fs/tux3/dirty"
	"github.com/tux3fs/tux3/fork"
	"github.com/tux3fs/tux3/super"
	"github.com/tux3fs/tux3/tuxconf"
)

func TestCommitAdvancesDeltaAndFlushes(t *testing.T) {
	cfg := tuxconf.Default()
	cfg.PoolMode = tuxconf.PoolModeDebug
	c := cache.New(cfg)
	dev := device.NewMemDevice(cfg.BlockBits)
	m := cache.NewMap(block.InumFirstUser, dev, nil, c, cfg.MaxDelta)

	reg, err := dirty.New(cfg.MaxDelta, 2)
	require.NoError(t, err)
	t.Cleanup(reg.Close)
	reg.Register(&dirty.Inode{Inum: block.InumFirstUser, Map: m})

	co := New(c, reg, fork.NewList(), dev, cfg.MaxDelta)
	require.Equal(t, uint32(0), co.Current())

	buf, err := c.Get(m, 1)
	require.NoError(t, err)
	buf, err = co.DirtyFor(buf)
	require.NoError(t, err)
	reg.MarkDirty(block.InumFirstUser, buf, 0)

	require.NoError(t, co.Commit(context.Background(), super.Super{BlockBits: cfg.BlockBits}))
	require.Equal(t, uint32(1), co.Current())
	require.Equal(t, cache.KindClean, buf.State().Kind)

	got, err := super.Read(dev)
	require.NoError(t, err)
	require.Equal(t, cfg.BlockBits, got.BlockBits)
}
