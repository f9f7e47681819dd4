// Package cache implements the core's buffer cache (spec.md §4.1): a
// content-addressable cache of fixed-size blocks keyed by (map, index),
// with its own hash lookup, LRU list, and a bounded pool with eviction.
package cache

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tux3fs/tux3/block"
	"github.com/tux3fs/tux3/device"
	"github.com/tux3fs/tux3/errs"
	"github.com/tux3fs/tux3/metrics"
	"github.com/tux3fs/tux3/tuxconf"
)

// Cache is one buffer-pool instance (design note §9, "Global mutable
// state": the pool, its LRU and state lists are encapsulated here
// instead of living in package-level globals, so a test can build many
// independent caches). A Cache is shared by every Map that draws from
// the same pool.
type Cache struct {
	id  uuid.UUID
	cfg tuxconf.Config

	mu    sync.Mutex // single mutator region: pool allocation + eviction
	count int        // buffer structs handed out by obtainShellLocked and not yet freed; idle shells on the free list are not counted
	free  []*Buffer  // idle shells, production pool mode only

	lruHead, lruTail *Buffer

	hitMeter, missMeter, evictMeter, oomMeter metricsMeter
}

// metricsMeter is the subset of gometrics.Meter the cache uses; kept as
// an unexported alias so cache.go doesn't need to import rcrowley
// directly.
type metricsMeter interface {
	Mark(int64)
}

// New builds a Cache bound to cfg's pool sizing. In PoolModeProduction,
// MaxBuffers idle buffer shells are preallocated up front (spec.md §9,
// "one-shot pool preallocation"); PoolModeDebug allocates a fresh shell
// on every miss and never recycles a freed one. The MaxBuffers bound,
// eviction and the occupancy count behave the same in both modes.
func New(cfg tuxconf.Config) *Cache {
	c := &Cache{
		id:  uuid.New(),
		cfg: cfg,
	}
	reg := metrics.NewRegistry()
	prefix := fmt.Sprintf("cache/%s/", c.id.String()[:8])
	c.hitMeter = metrics.NewRegisteredMeter(prefix+"hit", reg)
	c.missMeter = metrics.NewRegisteredMeter(prefix+"miss", reg)
	c.evictMeter = metrics.NewRegisteredMeter(prefix+"evict", reg)
	c.oomMeter = metrics.NewRegisteredMeter(prefix+"oom", reg)

	if cfg.PoolMode == tuxconf.PoolModeProduction {
		c.free = make([]*Buffer, 0, cfg.MaxBuffers)
		for i := 0; i < cfg.MaxBuffers; i++ {
			c.free = append(c.free, &Buffer{})
		}
	}
	return c
}

// ID identifies this cache context, used to correlate log lines and
// metrics across multiple independent caches in one process.
func (c *Cache) ID() uuid.UUID { return c.id }

func (c *Cache) buckets() uint32 { return c.cfg.BufferBuckets }

// Get returns the buffer for (m, idx) with count incremented, allocating
// and hashing an EMPTY buffer if absent (spec.md §4.1).
//
// obtainShellLocked may need to evict, and eviction reclaims buffers by
// locking their own map (tryReclaimLocked) - which, for the overwhelmingly
// common case of a single file's working set filling the pool, is this
// same m. So m.mu must not be held across the call: look up and release
// first, allocate/evict with only c.mu held, then re-acquire m.mu and
// recheck for a racing insert before installing.
func (c *Cache) Get(m *Map, idx block.Block) (*Buffer, error) {
	if b, ok := c.fastLookup(m, idx); ok {
		c.hitMeter.Mark(1)
		return b, nil
	}
	c.missMeter.Mark(1)

	c.mu.Lock()
	defer c.mu.Unlock()

	m.mu.Lock()
	if b := m.lookupLocked(idx); b != nil {
		b.mu.Lock()
		b.count++
		b.mu.Unlock()
		m.mu.Unlock()
		c.touchLocked(b)
		return b, nil
	}
	m.mu.Unlock()

	buf, err := c.obtainShellLocked(m.Dev.Bits())
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing := m.lookupLocked(idx); existing != nil {
		// Lost the race: another Get installed idx while m.mu was
		// released for eviction. Give the spare shell back and use the
		// buffer that won.
		m.mu.Unlock()
		c.releaseUnusedShellLocked(buf)
		existing.mu.Lock()
		existing.count++
		existing.mu.Unlock()
		c.touchLocked(existing)
		return existing, nil
	}
	buf.Map = m
	buf.index = idx
	buf.state = Empty()
	m.insertLocked(buf) // hash membership's own +1
	buf.mu.Lock()
	buf.count++ // the caller's own pin, on top of the hash's
	buf.mu.Unlock()
	m.mu.Unlock()

	c.lruPushBackLocked(buf)
	return buf, nil
}

// releaseUnusedShellLocked returns a shell obtained by obtainShellLocked
// back to the pool without ever having been installed into a map, used
// when Get loses the race described above. Caller holds c.mu; buf is not
// yet reachable from any other goroutine, so no b.mu is needed.
func (c *Cache) releaseUnusedShellLocked(buf *Buffer) {
	c.count--
	if c.cfg.PoolMode == tuxconf.PoolModeProduction {
		buf.resetLocked()
		c.free = append(c.free, buf)
	}
}

// fastLookup is the common case: the buffer is already cached. It takes
// only the map lock and the buffer's own lock, not the pool lock.
func (c *Cache) fastLookup(m *Map, idx block.Block) (*Buffer, bool) {
	m.mu.Lock()
	b := m.lookupLocked(idx)
	if b == nil {
		m.mu.Unlock()
		return nil, false
	}
	b.mu.Lock()
	b.count++
	b.mu.Unlock()
	m.mu.Unlock()
	c.touch(b)
	return b, true
}

// Peek returns the buffer for (m, idx) if already cached, without
// allocating (spec.md §4.1).
func (c *Cache) Peek(m *Map, idx block.Block) (*Buffer, bool) {
	return c.fastLookup(m, idx)
}

// Read is Get followed by, if the buffer was EMPTY, driving the map's
// I/O callback in read mode (spec.md §4.1).
func (c *Cache) Read(m *Map, idx block.Block) (*Buffer, error) {
	b, err := c.Get(m, idx)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	needIO := b.state.Kind == KindEmpty
	b.mu.Unlock()
	if !needIO {
		return b, nil
	}
	if err := m.IO(device.ModeRead, idx, []*Buffer{b}); err != nil {
		c.Put(b)
		return nil, fmt.Errorf("%w: %v", errs.ErrIOError, err)
	}
	b.mu.Lock()
	if b.state.Kind == KindEmpty {
		b.state = Clean()
	}
	b.mu.Unlock()
	return b, nil
}

// Put decrements count; once it reaches zero the buffer must be
// non-dirty, non-hashed, and off the LRU, and is returned to the pool
// (spec.md §4.1 invariant #1).
func (c *Cache) Put(b *Buffer) {
	b.mu.Lock()
	b.count--
	cnt := b.count
	state := b.state
	hashed := b.hashed
	b.mu.Unlock()

	if cnt < 0 {
		panic("tux3: buffer refcount underflow")
	}
	if cnt > 0 {
		return
	}
	if state.Kind == KindDirty {
		panic("tux3: dirty buffer refcount reached zero")
	}
	if hashed {
		panic("tux3: hashed buffer refcount reached zero")
	}

	c.mu.Lock()
	b.mu.Lock()
	onLRU := b.onLRU
	if onLRU {
		c.lruRemoveLocked(b)
	}
	c.count--
	b.state = Freed()
	if c.cfg.PoolMode == tuxconf.PoolModeProduction {
		b.resetLocked()
		c.free = append(c.free, b)
	}
	b.mu.Unlock()
	c.mu.Unlock()
}

func (c *Cache) touch(b *Buffer) {
	c.mu.Lock()
	c.touchLocked(b)
	c.mu.Unlock()
}

func (c *Cache) touchLocked(b *Buffer) {
	if !b.onLRU {
		return
	}
	c.lruRemoveLocked(b)
	c.lruPushBackLocked(b)
}

func (c *Cache) lruPushBackLocked(b *Buffer) {
	b.lruPrev = c.lruTail
	b.lruNext = nil
	if c.lruTail != nil {
		c.lruTail.lruNext = b
	} else {
		c.lruHead = b
	}
	c.lruTail = b
	b.onLRU = true
}

func (c *Cache) lruRemoveLocked(b *Buffer) {
	if !b.onLRU {
		return
	}
	if b.lruPrev != nil {
		b.lruPrev.lruNext = b.lruNext
	} else {
		c.lruHead = b.lruNext
	}
	if b.lruNext != nil {
		b.lruNext.lruPrev = b.lruPrev
	} else {
		c.lruTail = b.lruPrev
	}
	b.lruPrev, b.lruNext = nil, nil
	b.onLRU = false
}

// obtainShellLocked returns a Buffer ready to be installed in a map's
// hash bucket, evicting if the pool is at capacity (spec.md §4.1
// "Eviction"). Caller holds c.mu.
func (c *Cache) obtainShellLocked(bits uint16) (*Buffer, error) {
	if c.count >= c.cfg.MaxBuffers {
		if c.evictLocked() == 0 {
			c.oomMeter.Mark(1)
			return nil, errs.ErrOutOfMemory
		}
	}
	c.count++
	size := 1 << bits
	if c.cfg.PoolMode == tuxconf.PoolModeProduction && len(c.free) > 0 {
		b := c.free[len(c.free)-1]
		c.free = c.free[:len(c.free)-1]
		if cap(b.data) < size {
			b.data = make([]byte, size)
		} else {
			b.data = b.data[:size]
		}
		return b, nil
	}
	return &Buffer{data: make([]byte, size)}, nil
}

// evictLocked scans the LRU head-to-tail, reclaiming reclaimable buffers
// (clean or empty, count==1) up to MaxEvict, and returns how many it
// freed (spec.md §4.1 "Eviction"). Caller holds c.mu.
func (c *Cache) evictLocked() int {
	evicted := 0
	for b := c.lruHead; b != nil && evicted < c.cfg.MaxEvict; {
		next := b.lruNext
		if c.tryReclaimLocked(b) {
			evicted++
		}
		b = next
	}
	if evicted > 0 {
		c.evictMeter.Mark(int64(evicted))
	}
	return evicted
}

// tryReclaimLocked reclaims b if it is currently reclaimable. Caller
// holds c.mu.
func (c *Cache) tryReclaimLocked(b *Buffer) bool {
	m := b.Map
	m.mu.Lock()
	defer m.mu.Unlock()
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.Kind != KindEmpty && b.state.Kind != KindClean {
		return false
	}
	if b.count != 1 {
		return false
	}
	m.removeLocked(b)
	c.lruRemoveLocked(b)
	b.state = Freed()
	c.count--
	if c.cfg.PoolMode == tuxconf.PoolModeProduction {
		b.resetLocked()
		c.free = append(c.free, b)
	}
	return true
}

// AllocBuffer obtains a fresh, unhashed buffer shell sized for a device
// with the given block-size exponent, evicting from the pool if
// necessary. Used by package fork to build a clone during block-fork
// (spec.md §4.3): the clone participates in the pool and LRU like any
// other buffer, but is only installed into a map's hash bucket once the
// fork swap itself is performed.
func (c *Cache) AllocBuffer(bits uint16) (*Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	buf, err := c.obtainShellLocked(bits)
	if err != nil {
		return nil, err
	}
	c.lruPushBackLocked(buf)
	return buf, nil
}

// DetachFromLRU removes b from the pool's LRU list without touching its
// hash/state. Used by package fork when a forked original is no longer
// cache-addressable via lookup but still needs to drain its references.
func (c *Cache) DetachFromLRU(b *Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lruRemoveLocked(b)
}

// Occupancy returns the number of buffer structs currently tracked by
// the pool (hashed or on the LRU), for testing invariant #4 (pool
// occupancy returns to its prior value after balanced get/put pairs).
func (c *Cache) Occupancy() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}
