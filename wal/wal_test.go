package wal

import (
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/stretchr/testify/require"

	"github.com/tux3fs/tux3/block"
	"github.com/tux3fs/tux3/device"
)

const testBlockSize = 256

func TestLogBlockEncodeDecodeRoundTrip(t *testing.T) {
	lb := LogBlock{Data: NewBalloc(100, 4).Encode(nil), BackPtr: 7}
	lb.Bytes = uint16(len(lb.Data))

	raw, err := Encode(lb, testBlockSize)
	require.NoError(t, err)

	got, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, lb.Bytes, got.Bytes)
	require.Equal(t, lb.BackPtr, got.BackPtr)
	require.Equal(t, lb.Data, got.Data)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	raw := make([]byte, testBlockSize)
	_, err := Decode(raw)
	require.Error(t, err)
}

type noopSink struct{}

func (noopSink) Redirect(old, new block.Block) {}
func (noopSink) Root(block.Block)              {}
func (noopSink) Split(block.Block)             {}
func (noopSink) Add(block.Block)               {}
func (noopSink) Update(block.Block)            {}
func (noopSink) Merge(block.Block)             {}
func (noopSink) Del(block.Block)               {}
func (noopSink) Adjust(block.Block)            {}
func (noopSink) Free(block.Block)              {}

func TestReplaySkipsBlocksBeforeRollup(t *testing.T) {
	dev := device.NewMemDevice(8) // 1 << 8 = 256 byte blocks
	w := NewWriter(dev, testBlockSize, 10)

	// Blocks 0-2 (chain positions, physical addrs 10-12): noise that
	// must never reach the bitmap.
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Append(NewBalloc(block.Block(9000+i), 1)))
		require.NoError(t, w.Flush())
	}
	// Block 3 (physical addr 13): a ROLLUP marker followed by one real
	// allocation, matching the spec's mid-chain-rollup scenario.
	require.NoError(t, w.Append(NewRollup(3))) // resume right after the 3-byte ROLLUP record itself
	require.NoError(t, w.Append(NewBalloc(block.Block(200), 2)))
	require.NoError(t, w.Flush())
	// Block 4 (physical addr 14): one more allocation after the rollup.
	require.NoError(t, w.Append(NewBalloc(block.Block(300), 1)))
	require.NoError(t, w.Flush())

	head, ok := w.Head()
	require.True(t, ok)

	bm := bitset.New(10000)
	res, err := Replay(dev, testBlockSize, head, 5, noopSink{}, bm, 1)
	require.NoError(t, err)

	require.False(t, bm.Test(9000))
	require.False(t, bm.Test(9001))
	require.False(t, bm.Test(9002))
	require.True(t, bm.Test(200))
	require.True(t, bm.Test(201))
	require.True(t, bm.Test(300))

	// Every processed log block (from the rollup block onward) becomes
	// allocated and deferred to derollup.
	require.Contains(t, res.Derollup, block.Block(13))
	require.Contains(t, res.Derollup, block.Block(14))
	require.NotContains(t, res.Derollup, block.Block(10))
}

func TestReplayUsesMostRecentRollupMarker(t *testing.T) {
	dev := device.NewMemDevice(8) // 1 << 8 = 256 byte blocks
	w := NewWriter(dev, testBlockSize, 20)

	// Block 0 (physical addr 20): a stale ROLLUP whose allocation must
	// not be replayed, since derollup reclaim of its log-block space can
	// lag behind a later rollup in the same retained chain.
	require.NoError(t, w.Append(NewRollup(3)))
	require.NoError(t, w.Append(NewBalloc(block.Block(9000), 1)))
	require.NoError(t, w.Flush())
	// Block 1 (physical addr 21): the most recent ROLLUP, which must be
	// the one replay actually resumes from.
	require.NoError(t, w.Append(NewRollup(3)))
	require.NoError(t, w.Append(NewBalloc(block.Block(200), 1)))
	require.NoError(t, w.Flush())

	head, ok := w.Head()
	require.True(t, ok)

	bm := bitset.New(10000)
	res, err := Replay(dev, testBlockSize, head, 2, noopSink{}, bm, 1)
	require.NoError(t, err)

	require.False(t, bm.Test(9000), "stale rollup's allocation must not replay")
	require.True(t, bm.Test(200))
	require.Contains(t, res.Derollup, block.Block(21))
	require.NotContains(t, res.Derollup, block.Block(20))
}

func TestReplayGatesOrphansByVersion(t *testing.T) {
	dev := device.NewMemDevice(8)
	w := NewWriter(dev, testBlockSize, 0)

	require.NoError(t, w.Append(NewRollup(0)))
	require.NoError(t, w.Append(NewOrphanAdd(500, 1)))
	require.NoError(t, w.Append(NewOrphanAdd(501, 2))) // wrong version, ignored
	require.NoError(t, w.Flush())

	head, ok := w.Head()
	require.True(t, ok)

	bm := bitset.New(10000)
	res, err := Replay(dev, testBlockSize, head, 1, noopSink{}, bm, 1)
	require.NoError(t, err)
	require.Equal(t, []block.Inum{500}, res.Orphans.Tentative())
}
