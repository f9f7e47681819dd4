// Package fork implements block-fork (spec.md §4.3): copy-on-write
// cloning of a cached block when its prior generation is still needed
// by an in-flight writeback.
//
// Grounded on triedb/pathdb/disklayer.go's commit()/revert(): commit()
// marks the current disk layer stale before building a new one on top
// while the old generation's writeback (the state-history + batch write)
// is still in flight; revert() distinguishes "still buffered, mutate in
// place" from "already flushed, go around the buffer" the same way
// dirty_for distinguishes CAN_DIRTY from NEED_FORK here.
package fork

import (
	"github.com/tux3fs/tux3/cache"
	"github.com/tux3fs/tux3/errs"
)

// class is dirty_for's internal classification (spec.md §4.3 step 2).
type class int

const (
	classAlreadyDirty class = iota
	classCanDirty
	classNeedFork
	classForked
)

// WritebackPin reports whether a buffer's current generation is pinned
// by an in-flight delta flush. The delta package pins a whole delta
// slot for the duration of that slot's flush and unpins it when the
// flush returns; fork only needs to ask the question.
type WritebackPin interface {
	// Pinned reports whether buf's current dirty generation is still
	// being written back for delta slot.
	Pinned(buf *cache.Buffer, slot uint32) bool
}

// DirtyFor implements spec.md §4.3's dirty_for(buffer, new_delta). It
// returns the buffer the caller should mutate: either buf unchanged, or
// a freshly allocated clone once the original has been forked out from
// under it.
//
// If buf has already been forked out by another frontend (found either
// at classification or on the re-check after allocating a clone),
// DirtyFor returns errs.ErrTryAgain (the real, non-asserted case the
// spec's design note §9 calls for) and the caller must re-resolve the
// buffer by (map, index) and retry.
func DirtyFor(c *cache.Cache, wb WritebackPin, buf *cache.Buffer, list *List, newDelta uint32) (*cache.Buffer, error) {
	buf.Lock()

	// Fast path (spec.md §4.2 "re-dirty, same k"): already dirty for
	// this delta, nothing to do.
	if buf.StateLocked().CanModify(newDelta) {
		buf.Unlock()
		return buf, nil
	}

	cl := classify(buf, wb, newDelta)
	switch cl {
	case classForked:
		buf.Unlock()
		return nil, errs.ErrTryAgain

	case classCanDirty:
		buf.SetStateLocked(cache.Dirty(newDelta))
		buf.Unlock()
		return buf, nil

	case classAlreadyDirty:
		buf.Unlock()
		return buf, nil

	case classNeedFork:
		return doFork(c, buf, list, newDelta)
	}
	buf.Unlock()
	return nil, errs.ErrInvalidArgument
}

// classify inspects buf under its page lock and decides which of the
// four §4.3 cases applies. Caller holds buf's lock and keeps holding it
// on return (release happens in the caller's per-case handling).
func classify(buf *cache.Buffer, wb WritebackPin, newDelta uint32) class {
	if buf.IsForkedLocked() {
		return classForked
	}
	st := buf.StateLocked()
	switch st.Kind {
	case cache.KindClean, cache.KindEmpty:
		return classCanDirty
	case cache.KindDirty:
		if st.Delta == newDelta {
			return classAlreadyDirty
		}
		if wb != nil && wb.Pinned(buf, st.Delta) {
			return classNeedFork
		}
		// Not pinned by writeback: nothing else can be holding the
		// older generation hostage, so it's safe to advance it in
		// place to the new delta.
		return classCanDirty
	default:
		return classNeedFork
	}
}

// doFork performs the actual clone (spec.md §4.3 step 4). buf's lock is
// held on entry and released before returning.
func doFork(c *cache.Cache, buf *cache.Buffer, list *List, newDelta uint32) (*cache.Buffer, error) {
	m := buf.Map
	src := buf.Data()
	buf.Unlock()

	clone, err := c.AllocBuffer(m.Dev.Bits())
	if err != nil {
		return nil, err
	}

	m.Lock()
	buf.Lock()
	clone.Lock()

	// Re-check under the map+buffer locks: someone else may have
	// completed a fork of this exact generation while we were
	// allocating. If so, this attempt backs off with ErrTryAgain rather
	// than installing a second clone.
	if buf.IsForkedLocked() {
		// The unused clone holds no pin yet; give it one so Put can take
		// it back to zero and return it to the pool.
		clone.IncCountLocked()
		clone.Unlock()
		buf.Unlock()
		m.Unlock()
		c.Put(clone)
		return nil, errs.ErrTryAgain
	}

	copy(clone.Data(), src)
	clone.SetStateLocked(cache.Dirty(newDelta))

	m.ReplaceHashLocked(buf, clone)
	buf.MarkForkedLocked()

	// Transfer the calling writer's own pin from the original to the
	// clone, on top of the hash pin ReplaceHashLocked already moved:
	// the caller is about to use the returned buffer in place of buf.
	clone.IncCountLocked()
	buf.DecCountLocked()

	clone.Unlock()
	buf.Unlock()
	m.Unlock()

	c.DetachFromLRU(buf)
	list.push(buf)

	return clone, nil
}
