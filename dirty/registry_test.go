package dirty

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tux3fs/tux3/block"
	"github.com/tux3fs/tux3/cache"
	"github.com/tux3fs/tux3/device"
	"github.com/tux3fs/tux3/tuxconf"
)

func newTestRegistry(t *testing.T) (*Registry, *cache.Cache, *cache.Map) {
	t.Helper()
	cfg := tuxconf.Default()
	cfg.PoolMode = tuxconf.PoolModeDebug
	c := cache.New(cfg)
	dev := device.NewMemDevice(cfg.BlockBits)
	m := cache.NewMap(block.InumFirstUser, dev, nil, c, cfg.MaxDelta)
	reg, err := New(cfg.MaxDelta, 2)
	require.NoError(t, err)
	t.Cleanup(reg.Close)
	return reg, c, m
}

func TestFlushClearsDirtyListAndClearsState(t *testing.T) {
	reg, c, m := newTestRegistry(t)
	in := &Inode{Inum: block.InumFirstUser, Map: m}
	reg.Register(in)

	buf, err := c.Get(m, 5)
	require.NoError(t, err)
	buf.Lock()
	buf.SetStateLocked(cache.Dirty(1))
	buf.Unlock()
	reg.MarkDirty(in.Inum, buf, 1)

	require.Equal(t, []*cache.Buffer{buf}, m.DirtyList(1))

	require.NoError(t, reg.Flush(context.Background(), 1))

	require.Empty(t, m.DirtyList(1))
	require.Equal(t, cache.KindClean, buf.State().Kind)
}

func TestFlushOrdersBitmapAndVolmapLast(t *testing.T) {
	reg, c, m := newTestRegistry(t)
	dev := m.Dev
	bitmapMap := cache.NewMap(block.InumBitmap, dev, nil, c, 4)
	volmapMap := cache.NewMap(block.InumVolumeMap, dev, nil, c, 4)

	var order []block.Inum
	userIn := &Inode{Inum: block.InumFirstUser, Map: m, AttrDirty: func(inum block.Inum) error {
		order = append(order, inum)
		return nil
	}}
	bitmapIn := &Inode{Inum: block.InumBitmap, Map: bitmapMap, AttrDirty: func(inum block.Inum) error {
		order = append(order, inum)
		return nil
	}}
	volmapIn := &Inode{Inum: block.InumVolumeMap, Map: volmapMap, AttrDirty: func(inum block.Inum) error {
		order = append(order, inum)
		return nil
	}}
	reg.Register(userIn)
	reg.Register(bitmapIn)
	reg.Register(volmapIn)

	buf, err := c.Get(m, 7)
	require.NoError(t, err)
	buf.Lock()
	buf.SetStateLocked(cache.Dirty(0))
	buf.Unlock()
	reg.MarkDirty(userIn.Inum, buf, 0)

	bmBuf, err := c.Get(bitmapMap, 0)
	require.NoError(t, err)
	bmBuf.Lock()
	bmBuf.SetStateLocked(cache.Dirty(0))
	bmBuf.Unlock()
	reg.MarkDirty(bitmapIn.Inum, bmBuf, 0)
	_ = volmapIn

	require.NoError(t, reg.Flush(context.Background(), 0))

	require.Len(t, order, 2)
	require.Equal(t, block.InumFirstUser, order[0])
	require.Equal(t, block.InumBitmap, order[1])
}
