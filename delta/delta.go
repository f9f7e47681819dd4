// Package delta orchestrates delta-boundary commits: it ties the block
// cache (C1/C2), block fork (C3), the dirty registry (C4), and the
// superblock together into the single operation frontends and the
// backend actually drive - advance to a new delta, flush the old one,
// persist the superblock.
//
// Grounded on core/forkchoice.go's top-level orchestration style: a
// small struct wrapping the lower-level pieces, exposing one or two
// entry points that sequence calls into them under a single lock,
// rather than each subsystem coordinating directly with its peers.
package delta

import (
	"context"
	"fmt"
	"sync"

	"github.com/tux3fs/tux3/cache"
	"github.com/tux3fs/tux3/device"
	"github.com/tux3fs/tux3/dirty"
	"github.com/tux3fs/tux3/fork"
	"github.com/tux3fs/tux3/super"
	"github.com/tux3fs/tux3/tuxconf"
)

// Coordinator is the single owner of "which delta slot is current" and
// "which delta slot is currently being flushed" (spec.md §5,
// "Scheduling model": frontend mutators and a backend committer run in
// parallel; this type is the seam between them).
type Coordinator struct {
	Cache    *cache.Cache
	Dirty    *dirty.Registry
	ForkList *fork.List
	Dev      device.Device

	mu        sync.Mutex
	current   uint32
	nDelta    uint32
	inFlight  map[uint32]bool // delta slots currently being flushed
}

// New builds a Coordinator starting at delta 0.
func New(c *cache.Cache, reg *dirty.Registry, list *fork.List, dev device.Device, nDelta uint32) *Coordinator {
	return &Coordinator{
		Cache:    c,
		Dirty:    reg,
		ForkList: list,
		Dev:      dev,
		nDelta:   nDelta,
		inFlight: make(map[uint32]bool),
	}
}

// Current returns the delta slot frontends should dirty buffers into.
func (co *Coordinator) Current() uint32 {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.current
}

// pinner adapts the Coordinator to fork.WritebackPin: a buffer's
// generation is pinned exactly while its delta slot is mid-flush.
type pinner struct{ co *Coordinator }

func (p pinner) Pinned(_ *cache.Buffer, slot uint32) bool {
	p.co.mu.Lock()
	defer p.co.mu.Unlock()
	return p.co.inFlight[slot]
}

// WritebackPin returns the fork.WritebackPin this coordinator backs, to
// be threaded into fork.DirtyFor calls by frontends.
func (co *Coordinator) WritebackPin() fork.WritebackPin { return pinner{co} }

// DirtyFor is the frontend entry point (spec.md §4.3): dirty buf for
// the current delta, forking if an in-flight flush still needs its
// prior generation.
func (co *Coordinator) DirtyFor(buf *cache.Buffer) (*cache.Buffer, error) {
	return fork.DirtyFor(co.Cache, co.WritebackPin(), buf, co.ForkList, co.Current())
}

// Commit implements one delta-boundary cycle (spec.md §4.4's flush
// algorithm, driven at the granularity the backend actually calls it
// at): mark the current slot in-flight, advance frontends to the next
// slot, flush the old slot's dirty registry, persist sb, then clear
// in-flight and reclaim drained forked buffers.
func (co *Coordinator) Commit(ctx context.Context, sb super.Super) error {
	co.mu.Lock()
	flushing := co.current
	co.inFlight[flushing] = true
	co.current = (co.current + 1) % co.nDelta
	co.mu.Unlock()

	err := co.Dirty.Flush(ctx, flushing)

	co.mu.Lock()
	delete(co.inFlight, flushing)
	co.mu.Unlock()

	if err != nil {
		return fmt.Errorf("tux3: flush delta %d: %w", flushing, err)
	}

	if err := super.Write(co.Dev, sb); err != nil {
		return err
	}
	if err := co.Dev.Sync(); err != nil {
		return fmt.Errorf("tux3: sync after commit: %w", err)
	}

	co.ForkList.Reclaim()
	return nil
}

// PoolMode reports which buffer-pool strategy the cache was configured
// with, surfaced here since the delta package is the natural place a
// caller queries overall runtime posture from.
func (co *Coordinator) PoolMode(cfg tuxconf.Config) tuxconf.PoolMode { return cfg.PoolMode }
