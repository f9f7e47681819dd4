package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tux3fs/tux3/block"
	"github.com/tux3fs/tux3/device"
	"github.com/tux3fs/tux3/errs"
	"github.com/tux3fs/tux3/tuxconf"
)

func newTestCacheAndMap(t *testing.T, maxBuffers, maxEvict int) (*Cache, *Map) {
	t.Helper()
	cfg := tuxconf.Default()
	cfg.MaxBuffers = maxBuffers
	cfg.MaxEvict = maxEvict
	c := New(cfg)
	dev := device.NewMemDevice(cfg.BlockBits)
	m := NewMap(block.InumFirstUser, dev, nil, c, cfg.MaxDelta)
	return c, m
}

func TestGetThenPutReturnsToPriorOccupancy(t *testing.T) {
	c, m := newTestCacheAndMap(t, 100, 10)
	before := c.Occupancy()

	buf, err := c.Get(m, 1)
	require.NoError(t, err)
	require.Equal(t, before+1, c.Occupancy())

	c.Put(buf)
	require.Equal(t, before, c.Occupancy())
}

func TestGetSameIndexTwiceReturnsSameBuffer(t *testing.T) {
	c, m := newTestCacheAndMap(t, 100, 10)
	b1, err := c.Get(m, 42)
	require.NoError(t, err)
	b2, err := c.Get(m, 42)
	require.NoError(t, err)
	require.Same(t, b1, b2)
	require.Equal(t, int32(3), b1.Count()) // hash pin + one pin per Get

	c.Put(b1)
	c.Put(b2)
}

func TestReadFillsEmptyBufferThenMarksClean(t *testing.T) {
	c, m := newTestCacheAndMap(t, 100, 10)
	payload := []byte("hello world!")
	buf := make([]byte, 1<<m.Dev.Bits())
	copy(buf, payload)
	_, err := m.Dev.WriteAt(buf, device.Offset(m.Dev, 3))
	require.NoError(t, err)

	b, err := c.Read(m, 3)
	require.NoError(t, err)
	require.Equal(t, KindClean, b.State().Kind)
	require.Equal(t, payload, b.Data()[:len(payload)])
	c.Put(b)
}

func TestEvictionPolicyKeepsMostRecentlyUsed(t *testing.T) {
	c, m := newTestCacheAndMap(t, 100, 10)

	// Touch 200 distinct indices read-only (spec.md §8 scenario 5).
	for i := block.Block(0); i < 200; i++ {
		b, err := c.Get(m, i)
		require.NoError(t, err)
		c.Put(b)
	}

	require.Equal(t, 100, c.Occupancy())

	// The first half should have been evicted; the most recent 100
	// indices must still be resolvable without allocating new shells
	// beyond the pool bound.
	for i := block.Block(100); i < 200; i++ {
		b, ok := c.Peek(m, i)
		require.True(t, ok, "index %d should still be cached", i)
		c.Put(b)
	}
	for i := block.Block(0); i < 100; i++ {
		_, ok := c.Peek(m, i)
		require.False(t, ok, "index %d should have been evicted", i)
	}
}

func TestEvictionNeverReclaimsDirtyBuffers(t *testing.T) {
	c, m := newTestCacheAndMap(t, 4, 4)

	dirty, err := c.Get(m, 1)
	require.NoError(t, err)
	dirty.Lock()
	dirty.SetStateLocked(Dirty(0))
	dirty.Unlock()
	c.Put(dirty)

	// Fill and overflow the pool with clean/empty buffers; the dirty
	// buffer must survive every eviction pass.
	for i := block.Block(2); i < 20; i++ {
		b, err := c.Get(m, i)
		require.NoError(t, err)
		c.Put(b)
	}

	_, ok := c.Peek(m, 1)
	require.True(t, ok, "dirty buffer must not be evicted")
}

func TestOutOfMemoryWhenPoolFullAndAllDirty(t *testing.T) {
	c, m := newTestCacheAndMap(t, 2, 2)

	b0, err := c.Get(m, 0)
	require.NoError(t, err)
	b0.Lock()
	b0.SetStateLocked(Dirty(0))
	b0.Unlock()

	b1, err := c.Get(m, 1)
	require.NoError(t, err)
	b1.Lock()
	b1.SetStateLocked(Dirty(0))
	b1.Unlock()

	_, err = c.Get(m, 2)
	require.ErrorIs(t, err, errs.ErrOutOfMemory)
}
