package wal

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/sync/errgroup"

	"github.com/tux3fs/tux3/block"
	"github.com/tux3fs/tux3/device"
	"github.com/tux3fs/tux3/errs"
	"github.com/tux3fs/tux3/orphan"
)

// BnodeSink receives stage 1's physical bnode reconstruction dispatch
// (spec.md §4.6, "Stage 1"). The core treats bnodes as opaque records
// addressed by block number (GLOSSARY, "Bnode / leaf"), so this is a
// narrow callback interface rather than an in-package B-tree.
type BnodeSink interface {
	Redirect(old, new block.Block)
	Root(newblock block.Block)
	Split(newblock block.Block)
	Add(b block.Block)
	Update(b block.Block)
	Merge(src block.Block)
	Del(b block.Block)
	Adjust(b block.Block)
	Free(b block.Block) // also drops the cached bnode
}

// Result is the accumulated state stage 2 produces (spec.md §4.6,
// "Stage 2 (logical)").
type Result struct {
	// FreeBlocks is sb.freeblocks as set by the chain's last FREEBLOCKS
	// record, if any.
	FreeBlocks   uint64
	FreeBlocksOK bool

	// Derollup is the stash of blocks deferred to be freed at the next
	// rollup (spec.md §4.6 "BFREE_ON_ROLLUP", and "mark the log block
	// itself allocated and defer its eventual free to derollup").
	Derollup []block.Block

	Orphans *orphan.ReplayState
}

// chainBlocks reads count log blocks starting at head and following
// BackPtr backwards, returning them oldest-first along with their
// physical addresses (log blocks need not be contiguous, so the
// address must be tracked explicitly rather than derived from count).
func chainBlocks(dev device.Device, blockSize int, head block.Block, count int) ([]LogBlock, []block.Block, error) {
	blocks := make([]LogBlock, count)
	addrs := make([]block.Block, count)
	cur := head
	for i := count - 1; i >= 0; i-- {
		raw := make([]byte, blockSize)
		off := device.Offset(dev, cur)
		if _, err := dev.ReadAt(raw, off); err != nil {
			return nil, nil, fmt.Errorf("%w: read log block at %d: %v", errs.ErrIOError, cur, err)
		}
		lb, err := Decode(raw)
		if err != nil {
			return nil, nil, err
		}
		blocks[i] = lb
		addrs[i] = cur
		cur = lb.BackPtr
	}
	return blocks, addrs, nil
}

// findRollup locates the log block holding the most recent ROLLUP marker
// and its resume offset (spec.md §3, replay state tracks "the address and
// offset of the most recent ROLLUP record"). Blocks are in oldest-first
// order as returned by chainBlocks, so the most recent rollup is found by
// scanning from the newest (last) block backward and keeping the first
// hit - a chain can retain more than one ROLLUP marker since derollup
// reclaim of old log-block space is deferred, and resuming from a stale
// one would replay already-applied effects against a bitmap that has
// moved on.
func findRollup(blocks []LogBlock) (blockIdx int, offset uint16, err error) {
	for i := len(blocks) - 1; i >= 0; i-- {
		recs, err := blocks[i].Records()
		if err != nil {
			return 0, 0, err
		}
		for j := len(recs) - 1; j >= 0; j-- {
			if recs[j].Op == OpRollup {
				return i, recs[j].RollupOffset(), nil
			}
		}
	}
	return 0, 0, fmt.Errorf("%w: no ROLLUP marker in log chain", errs.ErrInvalidLog)
}

// recordsFromOffset decodes lb's records starting at byte offset.
func recordsFromOffset(lb LogBlock, offset uint16) ([]Record, error) {
	if int(offset) > len(lb.Data) {
		return nil, fmt.Errorf("%w: rollup offset past end of block", errs.ErrInvalidLog)
	}
	sub := LogBlock{Bytes: lb.Bytes - offset, Data: lb.Data[offset:]}
	return sub.Records()
}

// Replay runs spec.md §4.6's two-pass recovery over the count log
// blocks of the chain ending at head on dev (followed through each
// block's BackPtr), dispatching BNODE_* records to sink and
// reconciling bitmap against the result of stage 1. mountedVersion
// gates which ORPHAN_ADD/ORPHAN_DEL records apply (spec.md §4.6,
// "only if the record's version equals the mounted version").
func Replay(dev device.Device, blockSize int, head block.Block, count int, sink BnodeSink, bitmap *bitset.BitSet, mountedVersion uint32) (Result, error) {
	blocks, addrs, err := chainBlocks(dev, blockSize, head, count)
	if err != nil {
		return Result{}, err
	}
	rollupBlock, rollupOffset, err := findRollup(blocks)
	if err != nil {
		return Result{}, err
	}
	active := blocks[rollupBlock:]
	activeAddrs := addrs[rollupBlock:]

	// Decode every active block's records concurrently (pure CPU/IO work
	// with no shared mutable state); stage 1 and stage 2 both then apply
	// them to shared state strictly in chain order.
	perBlock := make([][]Record, len(active))
	g := new(errgroup.Group)
	for i, lb := range active {
		i, lb := i, lb
		g.Go(func() error {
			var (
				recs []Record
				err  error
			)
			if i == 0 {
				recs, err = recordsFromOffset(lb, rollupOffset)
			} else {
				recs, err = lb.Records()
			}
			if err != nil {
				return err
			}
			perBlock[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	// Stage 1 (physical): dispatch BNODE_* in chain order.
	for _, recs := range perBlock {
		for _, r := range recs {
			if isBnode(r.Op) {
				applyBnode(sink, r)
			}
		}
	}

	// Stage 2 (logical): reconcile the bitmap and collect derived state.
	res := Result{Orphans: orphan.NewReplayState()}
	for blockIdx, recs := range perBlock {
		for _, r := range recs {
			applyLogical(r, bitmap, &res, mountedVersion)
		}
		// Every log block itself becomes allocated and is deferred to
		// derollup once fully processed (spec.md §4.6, "Always, after
		// processing a log block...").
		bitmap.Set(uint(activeAddrs[blockIdx]))
		res.Derollup = append(res.Derollup, activeAddrs[blockIdx])
	}

	return res, nil
}

func applyBnode(sink BnodeSink, r Record) {
	if sink == nil {
		return
	}
	switch r.Op {
	case OpBnodeRedirect:
		sink.Redirect(r.OldBlock(), r.NewBlock())
	case OpBnodeRoot:
		sink.Root(r.SingleBlock())
	case OpBnodeSplit:
		sink.Split(r.SingleBlock())
	case OpBnodeAdd:
		sink.Add(r.SingleBlock())
	case OpBnodeUpdate:
		sink.Update(r.SingleBlock())
	case OpBnodeMerge:
		sink.Merge(r.SingleBlock())
	case OpBnodeDel:
		sink.Del(r.SingleBlock())
	case OpBnodeAdjust:
		sink.Adjust(r.SingleBlock())
	case OpBnodeFree:
		sink.Free(r.SingleBlock())
	}
}

func markAlloc(bm *bitset.BitSet, base block.Block, count uint32) {
	for i := uint32(0); i < count; i++ {
		bm.Set(uint(base) + uint(i))
	}
}

func markFree(bm *bitset.BitSet, base block.Block, count uint32) {
	for i := uint32(0); i < count; i++ {
		bm.Clear(uint(base) + uint(i))
	}
}

// applyLogical implements one record's stage-2 effect (spec.md §4.6,
// "Stage 2 (logical)").
func applyLogical(r Record, bitmap *bitset.BitSet, res *Result, mountedVersion uint32) {
	switch r.Op {
	case OpBalloc:
		markAlloc(bitmap, r.Block(), r.Count())
	case OpBfree, OpBfreeRelog:
		markFree(bitmap, r.Block(), r.Count())
	case OpBfreeOnRollup:
		for i := uint32(0); i < r.Count(); i++ {
			res.Derollup = append(res.Derollup, r.Block()+block.Block(i))
		}
	case OpLeafRedirect:
		bitmap.Set(uint(r.NewBlock()))
		bitmap.Clear(uint(r.OldBlock()))
	case OpBnodeRedirect:
		bitmap.Set(uint(r.NewBlock()))
		res.Derollup = append(res.Derollup, r.OldBlock())
	case OpLeafFree:
		bitmap.Clear(uint(r.SingleBlock()))
	case OpBnodeFree:
		bitmap.Clear(uint(r.SingleBlock()))
	case OpBnodeRoot, OpBnodeSplit:
		bitmap.Set(uint(r.SingleBlock()))
	case OpBnodeMerge:
		bitmap.Clear(uint(r.SingleBlock()))
	case OpOrphanAdd:
		if r.Version() == mountedVersion {
			res.Orphans.ObserveAdd(r.Inum())
		}
	case OpOrphanDel:
		if r.Version() == mountedVersion {
			res.Orphans.ObserveDel(r.Inum())
		}
	case OpFreeblocks:
		res.FreeBlocks = r.Value()
		res.FreeBlocksOK = true
	}
}
