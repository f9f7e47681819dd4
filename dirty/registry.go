// Package dirty implements the dirty registry (spec.md §4.4): per-inode
// per-delta dirty buffer lists, the superblock-wide dirty-inode lists
// that back flush, and flush ordering (bitmap/volume-map inodes last).
//
// Grounded on core/vote/vote_pool.go's list-plus-lock-plus-metrics shape
// (a mutex-guarded slice of pending items with its own gometrics
// counters) and on core/state/trie_prefetcher.go's worker-pool fan-out
// for the actual flush work.
package dirty

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/tux3fs/tux3/block"
	"github.com/tux3fs/tux3/cache"
	"github.com/tux3fs/tux3/device"
	"github.com/tux3fs/tux3/errs"
	"github.com/tux3fs/tux3/metrics"
)

// dirtyBits tracks, per inode, which of its D delta slots currently hold
// dirty pages or a dirty attribute block (spec.md §4.4, "I_DIRTY_*
// bits"). A zero value after a flush attempt means the inode comes off
// the dirty-inodes list; a nonzero remainder means someone re-dirtied
// it mid-flush and it stays queued.
type dirtyBits uint32

func (d dirtyBits) has(slot uint32) bool { return d&(1<<slot) != 0 }
func (d *dirtyBits) set(slot uint32)     { *d |= 1 << slot }
func (d *dirtyBits) clear(slot uint32)   { *d &^= 1 << slot }

// Inode is the dirty registry's view of one inode: its map (for the
// actual dirty buffer lists and I/O callback) plus attribute
// persistence and the per-delta bits.
type Inode struct {
	Inum block.Inum
	Map  *cache.Map

	mu   sync.Mutex
	bits dirtyBits

	// AttrDirty, when non-nil, is called once per flush with the inode
	// number to persist its attributes. The registry captures no
	// snapshot of attribute fields at dirty time; the callback sees
	// whatever the attributes are when the flush runs.
	AttrDirty func(inum block.Inum) error
}

func (in *Inode) markDirty(slot uint32) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.bits.set(slot)
}

// Registry is the superblock-wide dirty bookkeeping (spec.md §4.4): a
// set of dirty inodes per delta slot, plus the two reserved inodes
// (bitmap and volume-map) flushed last.
type Registry struct {
	mu       sync.Mutex
	byDelta  []mapset.Set[block.Inum]
	inodes   map[block.Inum]*Inode
	bitmap   block.Inum
	volmap   block.Inum
	pool     *ants.Pool
	flushCnt metricsCounter
}

type metricsCounter interface {
	Inc(int64)
}

// New builds a registry for nDelta delta slots, fanning flush work out
// across a bounded goroutine pool of the given size (0 or less uses a
// pool of 8).
func New(nDelta uint32, poolSize int) (*Registry, error) {
	if poolSize <= 0 {
		poolSize = 8
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, fmt.Errorf("tux3: dirty registry pool: %w", err)
	}
	byDelta := make([]mapset.Set[block.Inum], nDelta)
	for i := range byDelta {
		byDelta[i] = mapset.NewThreadUnsafeSet[block.Inum]()
	}
	reg := &Registry{
		byDelta: byDelta,
		inodes:  make(map[block.Inum]*Inode),
		bitmap:  block.InumBitmap,
		volmap:  block.InumVolumeMap,
		pool:    pool,
	}
	r := metrics.NewRegistry()
	reg.flushCnt = metrics.NewRegisteredCounter("dirty/flush", r)
	return reg, nil
}

// Close releases the registry's goroutine pool.
func (r *Registry) Close() { r.pool.Release() }

// Register adds an inode to the registry so it can be marked dirty and
// found during flush.
func (r *Registry) Register(in *Inode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inodes[in.Inum] = in
}

// MarkDirty records that buf (belonging to the map of inum) is dirty
// for delta slot, threading buf onto the map's per-delta dirty list and
// the sb-wide dirty-inodes set for that slot (spec.md §4.4, "Marking a
// buffer dirty moves it to the current-delta list and marks the inode
// dirty on that delta").
func (r *Registry) MarkDirty(inum block.Inum, buf *cache.Buffer, slot uint32) {
	r.mu.Lock()
	in, ok := r.inodes[inum]
	if !ok {
		r.mu.Unlock()
		return
	}
	in.Map.AttachDirty(buf, int(slot))
	r.byDelta[slot].Add(inum)
	r.mu.Unlock()

	in.markDirty(slot)
}

// Flush implements spec.md §4.4's flush algorithm for one delta slot:
// splice the dirty-inode set, flush every non-reserved inode's dirty
// pages and attributes concurrently, then flush bitmap and volume-map
// last since their own dirty buffers may be produced as a side effect
// of step 2.
func (r *Registry) Flush(ctx context.Context, slot uint32) error {
	r.mu.Lock()
	pending := r.byDelta[slot]
	r.byDelta[slot] = mapset.NewThreadUnsafeSet[block.Inum]()
	inodes := make([]*Inode, 0, pending.Cardinality())
	var bitmapIn, volmapIn *Inode
	for inum := range pending.Iter() {
		in, ok := r.inodes[inum]
		if !ok {
			continue
		}
		switch inum {
		case r.bitmap:
			bitmapIn = in
		case r.volmap:
			volmapIn = in
		default:
			inodes = append(inodes, in)
		}
	}
	r.mu.Unlock()

	if err := r.flushInodes(ctx, inodes, slot); err != nil {
		return err
	}

	// Bitmap/volume-map last: their own dirty buffers may only now
	// exist, having been produced while flushing the inodes above.
	var reserved []*Inode
	if bitmapIn != nil {
		reserved = append(reserved, bitmapIn)
	}
	if volmapIn != nil {
		reserved = append(reserved, volmapIn)
	}
	if err := r.flushInodes(ctx, reserved, slot); err != nil {
		return err
	}

	r.flushCnt.Inc(1)
	return nil
}

// flushInodes fans flushOne out across the registry's worker pool and
// waits for every submission to finish, returning the first error seen.
func (r *Registry) flushInodes(ctx context.Context, inodes []*Inode, slot uint32) error {
	if len(inodes) == 0 {
		return nil
	}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		firstEr error
	)
	for _, in := range inodes {
		in := in
		wg.Add(1)
		err := r.pool.Submit(func() {
			defer wg.Done()
			if err := r.flushOne(in, slot); err != nil {
				mu.Lock()
				if firstEr == nil {
					firstEr = err
				}
				mu.Unlock()
			}
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			if firstEr == nil {
				firstEr = fmt.Errorf("tux3: submit flush for inode %d: %w", in.Inum, err)
			}
			mu.Unlock()
		}
	}
	wg.Wait()
	return firstEr
}

// flushOne implements step 2 of spec.md §4.4's flush: write the inode's
// dirty pages via its map's I/O callback, persist attributes, and clear
// the I_DIRTY bit for slot unless something re-dirtied it concurrently.
func (r *Registry) flushOne(in *Inode, slot uint32) error {
	bufs := in.Map.DirtyList(int(slot))
	if err := writeback(in.Map, bufs); err != nil {
		return err
	}
	for _, b := range bufs {
		in.Map.DetachDirty(b, int(slot))
		b.Lock()
		if b.StateLocked().Delta == slot {
			b.SetStateLocked(cache.Clean())
		}
		b.Unlock()
	}
	if in.AttrDirty != nil {
		if err := in.AttrDirty(in.Inum); err != nil {
			return err
		}
	}

	in.mu.Lock()
	in.bits.clear(slot)
	still := in.bits != 0
	in.mu.Unlock()

	if still {
		r.mu.Lock()
		r.byDelta[slot].Add(in.Inum)
		r.mu.Unlock()
	}
	return nil
}

// writeback groups bufs into contiguous runs by index and issues one
// I/O callback invocation per run, the same batching the map's I/O
// callback contract expects (spec.md §6, "a vector of buffers with
// contiguous logical indices").
func writeback(m *cache.Map, bufs []*cache.Buffer) error {
	if len(bufs) == 0 {
		return nil
	}
	flush := func(base block.Block, run []*cache.Buffer) error {
		if err := m.IO(device.ModeWrite, base, run); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrIOError, err)
		}
		return nil
	}

	start := 0
	base := bufs[0].Index()
	for i := 1; i < len(bufs); i++ {
		if bufs[i].Index() == base+block.Block(i-start) {
			continue
		}
		if err := flush(base, bufs[start:i]); err != nil {
			return err
		}
		start = i
		base = bufs[i].Index()
	}
	return flush(base, bufs[start:])
}
