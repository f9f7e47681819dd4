package cache

import (
	"sync"

	"github.com/tux3fs/tux3/block"
)

// Buffer is a cached block (spec.md §3, "Buffer"). The three list
// memberships the spec calls out - hash bucket, LRU, and state/dirty
// list - are intrusive links on the struct itself rather than entries
// in side maps, the way other_examples/342cc833 pager.go's PageFrame
// threads prev/next directly: a buffer moves between the dirty list of
// one delta and another far more often than it is looked up by a
// container, so paying for that with pointer fields beats paying for it
// with map churn.
type Buffer struct {
	Map   *Map
	index block.Block
	data  []byte

	mu    sync.Mutex // page lock: serializes state transitions and fork classification
	state State
	count int32

	hashed   bool
	hashNext *Buffer

	lruPrev, lruNext *Buffer
	onLRU            bool

	dirtyPrev, dirtyNext *Buffer
	dirtySlot            int // valid iff state.Kind == KindDirty

	// forked marks that this buffer has been superseded by a clone
	// (spec.md §4.3) and is awaiting reclamation on the sb-wide forked
	// list; forkNext threads that list.
	forked   bool
	forkNext *Buffer
}

// Index is the buffer's logical block number within its map.
func (b *Buffer) Index() block.Block { return b.index }

// Data is the buffer's aligned byte payload, sized 1<<map.dev.Bits().
// Callers holding a reference (between Get/Read and Put) may read it
// freely; mutation is only safe once CanModify(delta) holds.
func (b *Buffer) Data() []byte { return b.data }

// State returns a snapshot of the buffer's current state.
func (b *Buffer) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Count returns the buffer's current reference count.
func (b *Buffer) Count() int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// CanModify implements buffer_can_modify(b, delta) from spec.md §4.2.
func (b *Buffer) CanModify(delta uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.CanModify(delta)
}

// Lock/Unlock expose the buffer's page lock (spec.md §5, "a per-buffer
// page lock taken around block-fork classification") to package fork,
// which must classify-then-mutate atomically across two structures
// (the buffer itself and its map's hash bucket).
func (b *Buffer) Lock()   { b.mu.Lock() }
func (b *Buffer) Unlock() { b.mu.Unlock() }

// StateLocked/SetStateLocked/CountLocked give package fork direct,
// already-locked access to the fields the classification in
// dirty_for (spec.md §4.3) needs to inspect and mutate in one critical
// section.
func (b *Buffer) StateLocked() State     { return b.state }
func (b *Buffer) SetStateLocked(s State) { b.state = s }
func (b *Buffer) CountLocked() int32     { return b.count }
func (b *Buffer) IsForkedLocked() bool   { return b.forked }
func (b *Buffer) MarkForkedLocked()      { b.forked = true }
func (b *Buffer) IsHashedLocked() bool   { return b.hashed }

// ForkNextLocked/SetForkNextLocked thread the sb-wide forked-buffers
// list (spec.md §4.3) through the buffer. Caller holds b.mu.
func (b *Buffer) ForkNextLocked() *Buffer     { return b.forkNext }
func (b *Buffer) SetForkNextLocked(n *Buffer) { b.forkNext = n }

// IncCountLocked/DecCountLocked let package fork transfer a caller's pin
// from a forked-out original to its clone without going through Put,
// which would refuse a transition through zero while the buffer is
// still DIRTY_k awaiting writeback. Caller holds b.mu.
func (b *Buffer) IncCountLocked() { b.count++ }
func (b *Buffer) DecCountLocked() { b.count-- }

// markCleanLocked transitions DIRTY_k -> CLEAN on writeback completion
// (spec.md §4.2). Caller holds b.mu.
func (b *Buffer) markCleanLocked() {
	b.state = Clean()
}

// markEmptyLocked transitions CLEAN -> EMPTY (invalidate). Caller holds b.mu.
func (b *Buffer) markEmptyLocked() {
	b.state = Empty()
}

// resetLocked clears a freed buffer's identity so it can be reused from
// the pool's free list. Caller holds b.mu.
func (b *Buffer) resetLocked() {
	for i := range b.data {
		b.data[i] = 0
	}
	b.Map = nil
	b.index = 0
	b.dirtySlot = 0
	b.forked = false
	b.forkNext = nil
}
