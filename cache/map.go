package cache

import (
	"sync"

	"github.com/tux3fs/tux3/block"
	"github.com/tux3fs/tux3/device"
)

// IOFunc is the map I/O callback (spec.md §6, "Map I/O callback"). It
// receives a vector of buffers with contiguous logical indices plus the
// base physical block the run starts at, and is expected to issue a
// single I/O for the whole run.
type IOFunc func(mode device.Mode, base block.Block, bufs []*Buffer) error

// ErrorIOFunc is bound to maps that must never perform real I/O (the
// log map, per spec.md §4.7): any call panics, the same assertion
// discipline the spec's own "error callback" describes.
func ErrorIOFunc(mode device.Mode, base block.Block, bufs []*Buffer) error {
	panic("tux3: I/O attempted on a map bound to the error callback")
}

// DeviceIOFunc builds the default callback dispatching reads/writes to
// dev as one device I/O covering the whole run, the buffers laid out
// back to back starting at base (spec.md §6).
func DeviceIOFunc(dev device.Device) IOFunc {
	return func(mode device.Mode, base block.Block, bufs []*Buffer) error {
		bs := device.BlockSize(dev)
		run := make([]byte, len(bufs)*bs)
		off := device.Offset(dev, base)
		if mode == device.ModeRead {
			if _, err := dev.ReadAt(run, off); err != nil {
				return err
			}
			for i, buf := range bufs {
				copy(buf.data, run[i*bs:(i+1)*bs])
			}
			return nil
		}
		for i, buf := range bufs {
			copy(run[i*bs:(i+1)*bs], buf.data)
		}
		_, err := dev.WriteAt(run, off)
		return err
	}
}

// Map binds an inode-or-volume identity to a cache, a block-I/O
// callback, and its own hash buckets (spec.md §3, "Map"; §4.7).
//
// Every cached buffer belongs to exactly one map (spec.md §3 invariant).
type Map struct {
	Inum   block.Inum
	Dev    device.Device
	IO     IOFunc
	Cache  *Cache
	nDelta uint32

	mu      sync.Mutex // map.private_lock: guards buckets and dirty list heads
	buckets []*Buffer  // BUFFER_BUCKETS singly-linked hash chains

	// dirtyHead[k] is the head of the per-delta dirty buffer list that
	// spec.md §3 attaches to the map ("a dirty list head per delta
	// slot"). Threaded through Buffer.dirtyPrev/dirtyNext; owned at this
	// layer but driven by package dirty (C4).
	dirtyHead []*Buffer
}

// NewMap creates a map with its own BUFFER_BUCKETS hash table and one
// dirty-list head per delta slot.
func NewMap(inum block.Inum, dev device.Device, io IOFunc, c *Cache, nDelta uint32) *Map {
	if io == nil {
		io = DeviceIOFunc(dev)
	}
	return &Map{
		Inum:      inum,
		Dev:       dev,
		IO:        io,
		Cache:     c,
		nDelta:    nDelta,
		buckets:   make([]*Buffer, c.buckets()),
		dirtyHead: make([]*Buffer, nDelta),
	}
}

func (m *Map) bucketIndex(idx block.Block) uint32 {
	return bufferHash(idx, uint32(len(m.buckets)))
}

// lookupLocked returns the cached buffer for idx, or nil. Caller holds m.mu.
func (m *Map) lookupLocked(idx block.Block) *Buffer {
	h := m.bucketIndex(idx)
	for b := m.buckets[h]; b != nil; b = b.hashNext {
		if b.index == idx {
			return b
		}
	}
	return nil
}

// insertLocked inserts buf into its hash bucket. Caller holds m.mu.
// Per spec.md §3, a buffer on a hash bucket contributes exactly +1 to
// its own count.
func (m *Map) insertLocked(buf *Buffer) {
	h := m.bucketIndex(buf.index)
	buf.hashNext = m.buckets[h]
	buf.hashed = true
	m.buckets[h] = buf
	buf.count++
}

// removeLocked unlinks buf from its hash bucket. Caller holds m.mu.
func (m *Map) removeLocked(buf *Buffer) {
	if !buf.hashed {
		return
	}
	h := m.bucketIndex(buf.index)
	cur := m.buckets[h]
	if cur == buf {
		m.buckets[h] = buf.hashNext
	} else {
		for cur != nil {
			if cur.hashNext == buf {
				cur.hashNext = buf.hashNext
				break
			}
			cur = cur.hashNext
		}
	}
	buf.hashNext = nil
	buf.hashed = false
	buf.count--
}

// replaceLocked atomically swaps original out of the hash bucket and
// clone in, so concurrent lookups observe the new generation
// (spec.md §4.3 "insert clone into the hash bucket in place of
// original"). Caller holds m.mu.
func (m *Map) replaceLocked(original, clone *Buffer) {
	h := m.bucketIndex(original.index)
	cur := m.buckets[h]
	if cur == original {
		m.buckets[h] = clone
	} else {
		for cur != nil {
			if cur.hashNext == original {
				cur.hashNext = clone
				break
			}
			cur = cur.hashNext
		}
	}
	clone.Map = original.Map
	clone.index = original.index
	clone.hashNext = original.hashNext
	clone.hashed = true
	clone.count++

	original.hashNext = nil
	original.hashed = false
	original.count--
}

// AttachDirty threads buf onto the map's per-delta dirty list for slot
// and stamps its dirty slot (spec.md §3, "dirty list head per delta
// slot"). The caller (package dirty) is responsible for the sb-wide
// per-inode/per-delta bookkeeping; this only maintains the map-local
// intrusive list.
func (m *Map) AttachDirty(buf *Buffer, slot int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// A buffer sits on at most one dirty list: unlink it from the list it
	// is already on (possibly this same slot's) before threading it here.
	if old := buf.dirtySlot; buf.dirtyPrev != nil || m.dirtyHead[old] == buf {
		if buf.dirtyPrev != nil {
			buf.dirtyPrev.dirtyNext = buf.dirtyNext
		} else {
			m.dirtyHead[old] = buf.dirtyNext
		}
		if buf.dirtyNext != nil {
			buf.dirtyNext.dirtyPrev = buf.dirtyPrev
		}
	}

	buf.dirtySlot = slot
	buf.dirtyNext = m.dirtyHead[slot]
	buf.dirtyPrev = nil
	if m.dirtyHead[slot] != nil {
		m.dirtyHead[slot].dirtyPrev = buf
	}
	m.dirtyHead[slot] = buf
}

// DetachDirty unthreads buf from its current per-delta dirty list.
func (m *Map) DetachDirty(buf *Buffer, slot int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if buf.dirtyPrev != nil {
		buf.dirtyPrev.dirtyNext = buf.dirtyNext
	} else if m.dirtyHead[slot] == buf {
		m.dirtyHead[slot] = buf.dirtyNext
	}
	if buf.dirtyNext != nil {
		buf.dirtyNext.dirtyPrev = buf.dirtyPrev
	}
	buf.dirtyPrev, buf.dirtyNext = nil, nil
}

// DirtyList snapshots the buffers currently dirty for slot, in list
// order. Used by the dirty registry's flush path.
func (m *Map) DirtyList(slot int) []*Buffer {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Buffer
	for b := m.dirtyHead[slot]; b != nil; b = b.dirtyNext {
		out = append(out, b)
	}
	return out
}

// Lock/Unlock expose the map's private lock to package fork, which must
// hold the same lock ordering (Map then Buffer) when swapping a clone
// into the hash bucket.
func (m *Map) Lock()   { m.mu.Lock() }
func (m *Map) Unlock() { m.mu.Unlock() }

// LookupLocked exposes lookupLocked to package fork under an
// already-held Map lock.
func (m *Map) LookupLocked(idx block.Block) *Buffer { return m.lookupLocked(idx) }

// InsertLocked exposes insertLocked to package fork.
func (m *Map) InsertLocked(buf *Buffer) { m.insertLocked(buf) }

// RemoveLocked exposes removeLocked to package fork.
func (m *Map) RemoveLocked(buf *Buffer) { m.removeLocked(buf) }

// ReplaceHashLocked exposes replaceLocked to package fork.
func (m *Map) ReplaceHashLocked(original, clone *Buffer) { m.replaceLocked(original, clone) }

