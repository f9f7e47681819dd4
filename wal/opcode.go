// Package wal implements the log and two-pass replay engine (spec.md
// §4.6): a fixed-width record taxonomy, a chain of log blocks linked
// tail-to-head on disk, and a replayer that reconstructs physical
// bnode/bitmap state before reconciling free space and orphans.
//
// Grounded on core/rawdb/prunedfreezer.go's append-only, chained-file
// shape (each segment carries a back-pointer to the one before it, and
// a damaged tail is detected rather than silently accepted) and on
// golang.org/x/sync/errgroup for decoding the active log blocks'
// records concurrently before both stages apply them in chain order.
package wal

// Opcode identifies a log record kind (spec.md §4.6). Values are stable
// on-disk constants, not iota-derived, since they are a wire format.
type Opcode uint8

const (
	OpBalloc         Opcode = 1
	OpBfree          Opcode = 2
	OpBfreeOnRollup  Opcode = 3
	OpBfreeRelog     Opcode = 4
	OpFreeblocks     Opcode = 5
	OpLeafRedirect   Opcode = 10
	OpLeafFree       Opcode = 11
	OpBnodeRedirect  Opcode = 20
	OpBnodeRoot      Opcode = 21
	OpBnodeSplit     Opcode = 22
	OpBnodeAdd       Opcode = 23
	OpBnodeUpdate    Opcode = 24
	OpBnodeMerge     Opcode = 25
	OpBnodeDel       Opcode = 26
	OpBnodeAdjust    Opcode = 27
	OpBnodeFree      Opcode = 28
	OpOrphanAdd      Opcode = 40
	OpOrphanDel      Opcode = 41
	OpRollup         Opcode = 50
	OpDelta          Opcode = 51
)

// payloadSize is the fixed byte length of each opcode's payload, not
// counting the one-byte opcode tag itself (spec.md §4.6, "Each kind has
// a fixed record size known to the replayer").
var payloadSize = map[Opcode]int{
	OpBalloc:        8 + 4,  // block, count
	OpBfree:         8 + 4,  // block, count
	OpBfreeOnRollup: 8 + 4,  // block, count
	OpBfreeRelog:    8 + 4,  // block, count
	OpFreeblocks:    8,      // value
	OpLeafRedirect:  8 + 8,  // oldblock, newblock
	OpLeafFree:      8,      // block
	OpBnodeRedirect: 8 + 8,  // oldblock, newblock
	OpBnodeRoot:     8,      // newblock
	OpBnodeSplit:    8,      // newblock
	OpBnodeAdd:      8,      // block
	OpBnodeUpdate:   8,      // block
	OpBnodeMerge:    8,      // src
	OpBnodeDel:      8,      // block
	OpBnodeAdjust:   8,      // block
	OpBnodeFree:     8,      // block
	OpOrphanAdd:     8 + 4,  // inum, version
	OpOrphanDel:     8 + 4,  // inum, version
	OpRollup:        2,      // offset within the block the rollup marks
	OpDelta:         4,      // delta number
}

// isBnode reports whether op is one of the BNODE_* kinds stage 1
// dispatches to bnode reconstruction (spec.md §4.6, "Stage 1").
func isBnode(op Opcode) bool {
	switch op {
	case OpBnodeRedirect, OpBnodeRoot, OpBnodeSplit, OpBnodeAdd,
		OpBnodeUpdate, OpBnodeMerge, OpBnodeDel, OpBnodeAdjust, OpBnodeFree:
		return true
	}
	return false
}
