package wal

import (
	"encoding/binary"
	"fmt"

	"github.com/tux3fs/tux3/block"
	"github.com/tux3fs/tux3/errs"
)

// Record is one decoded log entry: an opcode plus its raw fixed-width
// payload. Field accessors below interpret the payload per opcode;
// package wal never needs a variant type since the size table already
// makes every record self-describing to the replayer.
type Record struct {
	Op      Opcode
	Payload []byte
}

// Size returns the record's total on-disk size, tag byte included.
func (r Record) Size() int { return 1 + len(r.Payload) }

// Encode appends r's wire form to dst and returns the result.
func (r Record) Encode(dst []byte) []byte {
	dst = append(dst, byte(r.Op))
	dst = append(dst, r.Payload...)
	return dst
}

// decodeRecord reads one record from the front of data, returning it
// and the number of bytes consumed. An opcode absent from the payload
// size table is an INVALID_LOG condition (spec.md §4.6, "unknown
// opcode" among the malformed-block triggers).
func decodeRecord(data []byte) (Record, int, error) {
	if len(data) < 1 {
		return Record{}, 0, fmt.Errorf("%w: truncated record tag", errs.ErrInvalidLog)
	}
	op := Opcode(data[0])
	size, ok := payloadSize[op]
	if !ok {
		return Record{}, 0, fmt.Errorf("%w: unknown opcode %d", errs.ErrInvalidLog, op)
	}
	if len(data) < 1+size {
		return Record{}, 0, fmt.Errorf("%w: truncated payload for opcode %d", errs.ErrInvalidLog, op)
	}
	return Record{Op: op, Payload: data[1 : 1+size]}, 1 + size, nil
}

func be64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }
func be32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

func putBe64(dst []byte, v uint64) { binary.BigEndian.PutUint64(dst, v) }
func putBe32(dst []byte, v uint32) { binary.BigEndian.PutUint32(dst, v) }

// NewBalloc builds a BALLOC record: block, count.
func NewBalloc(b block.Block, count uint32) Record {
	p := make([]byte, 12)
	putBe64(p[0:8], uint64(b))
	putBe32(p[8:12], count)
	return Record{Op: OpBalloc, Payload: p}
}

// Block decodes the leading block field shared by BALLOC/BFREE-family
// records.
func (r Record) Block() block.Block { return block.Block(be64(r.Payload[0:8])) }

// Count decodes the trailing count field shared by BALLOC/BFREE-family
// records.
func (r Record) Count() uint32 { return be32(r.Payload[8:12]) }

// NewBfree builds a BFREE record.
func NewBfree(b block.Block, count uint32) Record {
	rec := NewBalloc(b, count)
	rec.Op = OpBfree
	return rec
}

// NewBfreeOnRollup builds a BFREE_ON_ROLLUP record.
func NewBfreeOnRollup(b block.Block, count uint32) Record {
	rec := NewBalloc(b, count)
	rec.Op = OpBfreeOnRollup
	return rec
}

// NewBfreeRelog builds a BFREE_RELOG record.
func NewBfreeRelog(b block.Block, count uint32) Record {
	rec := NewBalloc(b, count)
	rec.Op = OpBfreeRelog
	return rec
}

// NewFreeblocks builds a FREEBLOCKS record.
func NewFreeblocks(value uint64) Record {
	p := make([]byte, 8)
	putBe64(p, value)
	return Record{Op: OpFreeblocks, Payload: p}
}

// Value decodes FREEBLOCKS's scalar payload.
func (r Record) Value() uint64 { return be64(r.Payload[0:8]) }

func newRedirect(op Opcode, oldblock, newblock block.Block) Record {
	p := make([]byte, 16)
	putBe64(p[0:8], uint64(oldblock))
	putBe64(p[8:16], uint64(newblock))
	return Record{Op: op, Payload: p}
}

// OldBlock/NewBlock decode LEAF_REDIRECT/BNODE_REDIRECT's payload.
func (r Record) OldBlock() block.Block { return block.Block(be64(r.Payload[0:8])) }
func (r Record) NewBlock() block.Block { return block.Block(be64(r.Payload[8:16])) }

// NewLeafRedirect builds a LEAF_REDIRECT record.
func NewLeafRedirect(oldblock, newblock block.Block) Record {
	return newRedirect(OpLeafRedirect, oldblock, newblock)
}

// NewBnodeRedirect builds a BNODE_REDIRECT record.
func NewBnodeRedirect(oldblock, newblock block.Block) Record {
	return newRedirect(OpBnodeRedirect, oldblock, newblock)
}

func newSingleBlock(op Opcode, b block.Block) Record {
	p := make([]byte, 8)
	putBe64(p, uint64(b))
	return Record{Op: op, Payload: p}
}

// NewLeafFree/NewBnodeRoot/NewBnodeSplit/NewBnodeAdd/NewBnodeUpdate/
// NewBnodeMerge/NewBnodeDel/NewBnodeAdjust/NewBnodeFree each carry a
// single block field (spec.md §4.6 table); NewBnodeMerge's field is
// named src in the spec but shares the same encoding.
func NewLeafFree(b block.Block) Record    { return newSingleBlock(OpLeafFree, b) }
func NewBnodeRoot(b block.Block) Record   { return newSingleBlock(OpBnodeRoot, b) }
func NewBnodeSplit(b block.Block) Record  { return newSingleBlock(OpBnodeSplit, b) }
func NewBnodeAdd(b block.Block) Record    { return newSingleBlock(OpBnodeAdd, b) }
func NewBnodeUpdate(b block.Block) Record { return newSingleBlock(OpBnodeUpdate, b) }
func NewBnodeMerge(src block.Block) Record { return newSingleBlock(OpBnodeMerge, src) }
func NewBnodeDel(b block.Block) Record    { return newSingleBlock(OpBnodeDel, b) }
func NewBnodeAdjust(b block.Block) Record { return newSingleBlock(OpBnodeAdjust, b) }
func NewBnodeFree(b block.Block) Record   { return newSingleBlock(OpBnodeFree, b) }

// SingleBlock decodes the single-block payload shared by the
// constructors above.
func (r Record) SingleBlock() block.Block { return block.Block(be64(r.Payload[0:8])) }

// NewOrphanAdd/NewOrphanDel build ORPHAN_ADD/ORPHAN_DEL records: inum
// plus the mounted version they were logged under (spec.md §4.6,
// "forward to orphan replay only if the record's version equals the
// mounted version").
func NewOrphanAdd(inum block.Inum, version uint32) Record {
	return newOrphan(OpOrphanAdd, inum, version)
}
func NewOrphanDel(inum block.Inum, version uint32) Record {
	return newOrphan(OpOrphanDel, inum, version)
}
func newOrphan(op Opcode, inum block.Inum, version uint32) Record {
	p := make([]byte, 12)
	putBe64(p[0:8], uint64(inum))
	putBe32(p[8:12], version)
	return Record{Op: op, Payload: p}
}

// Inum/Version decode ORPHAN_ADD/ORPHAN_DEL's payload.
func (r Record) Inum() block.Inum  { return block.Inum(be64(r.Payload[0:8])) }
func (r Record) Version() uint32   { return be32(r.Payload[8:12]) }

// NewRollup builds a ROLLUP marker carrying the in-block offset replay
// should resume at (spec.md §4.6, "A ROLLUP record in some log block
// designates the checkpoint after which replay begins").
func NewRollup(offset uint16) Record {
	p := make([]byte, 2)
	binary.BigEndian.PutUint16(p, offset)
	return Record{Op: OpRollup, Payload: p}
}

// RollupOffset decodes a ROLLUP record's payload.
func (r Record) RollupOffset() uint16 { return binary.BigEndian.Uint16(r.Payload[0:2]) }

// NewDelta builds a DELTA marker.
func NewDelta(delta uint32) Record {
	p := make([]byte, 4)
	putBe32(p, delta)
	return Record{Op: OpDelta, Payload: p}
}

// DeltaNumber decodes a DELTA record's payload.
func (r Record) DeltaNumber() uint32 { return be32(r.Payload[0:4]) }
