// Package orphan implements the orphan tracker (spec.md §4.5): inodes
// whose link count dropped to zero while still referenced, tracked
// in-memory until a rollup migrates them to the on-disk otable, and
// deleted from there by a later rollup's drain of orphan_del.
//
// Grounded on core/vote/vote_pool.go's mutex-plus-slice-plus-metrics
// list shape, and on core/rawdb (goleveldb-backed storage) for the
// otable persistence — chosen over a hand-rolled on-disk B-tree since
// the spec treats bnodes as opaque records the core never interprets
// directly.
package orphan

import (
	"encoding/binary"
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/tux3fs/tux3/block"
	"github.com/tux3fs/tux3/metrics"
)

// Tracker holds the three regions spec.md §4.5 describes: the tentative
// orphan_add list, the on-disk otable, and the orphan_del drain list.
type Tracker struct {
	otable *leveldb.DB

	addMu sync.Mutex
	add   []block.Inum // orphan_add: tentative, in delta-arrival order

	delMu sync.Mutex
	del   []block.Inum // orphan_del: pending removal from otable

	oomMeter metricsMeter
}

type metricsMeter interface {
	Mark(int64)
}

// Open builds a Tracker backed by an otable at path (a goleveldb
// database directory).
func Open(path string) (*Tracker, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("tux3: open otable: %w", err)
	}
	r := metrics.NewRegistry()
	return &Tracker{
		otable:   db,
		oomMeter: metrics.NewRegisteredMeter("orphan/oom", r),
	}, nil
}

// Close releases the otable's underlying database handle.
func (t *Tracker) Close() error { return t.otable.Close() }

func otableKey(inum block.Inum) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(inum))
	return buf[:]
}

// Add implements the frontend side of becoming an orphan: the inode is
// appended to orphan_add (spec.md §4.5). Logging the ORPHAN_ADD record
// is the caller's responsibility (package wal).
func (t *Tracker) Add(inum block.Inum) {
	t.addMu.Lock()
	defer t.addMu.Unlock()
	t.add = append(t.add, inum)
}

// Del implements spec.md §4.5's frontend del policy: if inum still sits
// on orphan_add (never migrated to the otable), it is unlinked in
// place; otherwise a new orphan_del record is appended. Either way the
// caller must still emit an ORPHAN_DEL log entry.
func (t *Tracker) Del(inum block.Inum) {
	t.addMu.Lock()
	for i, v := range t.add {
		if v == inum {
			t.add = append(t.add[:i], t.add[i+1:]...)
			t.addMu.Unlock()
			return
		}
	}
	t.addMu.Unlock()

	t.delMu.Lock()
	defer t.delMu.Unlock()
	t.del = append(t.del, inum)
}

// RollupAdd drains orphan_add into the otable (spec.md §4.5, "Rollup
// add"): each surviving inum gets a zero-byte record, and the list is
// emptied as it's drained.
func (t *Tracker) RollupAdd() error {
	t.addMu.Lock()
	pending := t.add
	t.add = nil
	t.addMu.Unlock()

	for _, inum := range pending {
		if err := t.otable.Put(otableKey(inum), nil, nil); err != nil {
			return fmt.Errorf("tux3: otable insert %d: %w", inum, err)
		}
	}
	return nil
}

// RollupDel drains orphan_del, removing each inum's otable range
// (spec.md §4.5, "Rollup del": chop `[inum, inum+1)` then free the
// record - for a single-key otable entry this is simply a delete).
func (t *Tracker) RollupDel() error {
	t.delMu.Lock()
	pending := t.del
	t.del = nil
	t.delMu.Unlock()

	for _, inum := range pending {
		if err := t.otable.Delete(otableKey(inum), nil); err != nil {
			// The spec preserves warn-and-continue on OOM/failure here
			// (design note §9): the inode simply is not removed from
			// the otable this rollup, and the condition is surfaced as
			// a metric rather than aborting the rollup.
			t.oomMeter.Mark(1)
			continue
		}
	}
	return nil
}

// AddLen and DelLen report the current tentative-list sizes, used by
// tests and by the replay reconstruction below.
func (t *Tracker) AddLen() int {
	t.addMu.Lock()
	defer t.addMu.Unlock()
	return len(t.add)
}

func (t *Tracker) DelLen() int {
	t.delMu.Lock()
	defer t.delMu.Unlock()
	return len(t.del)
}

// Surviving walks the otable and returns every inum not present in
// pendingDel, together with the tentative list itself (spec.md §4.5,
// "Replay": "together with the tentative list these are the surviving
// orphans handed to caller for destruction or link-restoration").
func (t *Tracker) Surviving() ([]block.Inum, error) {
	pendingDel := mapset.NewThreadUnsafeSet[block.Inum]()
	t.delMu.Lock()
	for _, inum := range t.del {
		pendingDel.Add(inum)
	}
	t.delMu.Unlock()

	iter := t.otable.NewIterator(nil, nil)
	defer iter.Release()

	var out []block.Inum
	for iter.Next() {
		inum := block.Inum(binary.BigEndian.Uint64(iter.Key()))
		if pendingDel.Contains(inum) {
			continue
		}
		out = append(out, inum)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("tux3: otable scan: %w", err)
	}

	t.addMu.Lock()
	out = append(out, t.add...)
	t.addMu.Unlock()

	return out, nil
}
