package orphan

import "github.com/tux3fs/tux3/block"

// ReplayState reconstructs the tentative orphan_add list and deferred
// orphan_del records while package wal's stage-2 replay walks the log
// chain (spec.md §4.5, "Replay"). It is not safe for concurrent use;
// the replay engine drives it from a single goroutine.
type ReplayState struct {
	tentative map[block.Inum]bool
	deferred  []block.Inum
}

// NewReplayState starts a fresh reconstruction.
func NewReplayState() *ReplayState {
	return &ReplayState{tentative: make(map[block.Inum]bool)}
}

// ObserveAdd records an ORPHAN_ADD log entry.
func (rs *ReplayState) ObserveAdd(inum block.Inum) {
	rs.tentative[inum] = true
}

// ObserveDel records an ORPHAN_DEL log entry: if inum is still
// tentative, the add is cancelled outright; otherwise the del is
// deferred to be applied against the on-disk otable once replay
// finishes.
func (rs *ReplayState) ObserveDel(inum block.Inum) {
	if rs.tentative[inum] {
		delete(rs.tentative, inum)
		return
	}
	rs.deferred = append(rs.deferred, inum)
}

// Tentative returns the surviving tentative orphan_add entries, in no
// particular order.
func (rs *ReplayState) Tentative() []block.Inum {
	out := make([]block.Inum, 0, len(rs.tentative))
	for inum := range rs.tentative {
		out = append(out, inum)
	}
	return out
}

// Deferred returns the ORPHAN_DEL records that did not match a
// tentative add, to be merged into the Tracker's orphan_del list.
func (rs *ReplayState) Deferred() []block.Inum {
	return rs.deferred
}

// Apply merges the reconstructed state into t: the tentative adds
// become t's orphan_add list, and the deferred dels become t's
// orphan_del list, ready for Surviving() to compute the final orphan
// set (spec.md §4.5, "After replay, traverse otable and load every
// inum not in orphan_del... together with the tentative list").
func (rs *ReplayState) Apply(t *Tracker) {
	t.addMu.Lock()
	t.add = append(t.add, rs.Tentative()...)
	t.addMu.Unlock()

	t.delMu.Lock()
	t.del = append(t.del, rs.deferred...)
	t.delMu.Unlock()
}
