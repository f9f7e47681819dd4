package wal

import (
	"encoding/binary"
	"fmt"

	"github.com/tux3fs/tux3/block"
	"github.com/tux3fs/tux3/errs"
)

// LogMagic identifies a log block (spec.md §6, "Magics").
const LogMagic uint16 = 0x10ad

// headerSize is the fixed prefix before a log block's record bytes:
// magic(2) + bytes(2) + pad(4) + back_ptr(8) (spec.md §6, "Log block
// layout").
const headerSize = 2 + 2 + 4 + 8

// LogBlock is one on-disk log block: a header plus a concatenation of
// fixed-width records (spec.md §4.6, §6).
type LogBlock struct {
	Bytes   uint16 // length of Data actually in use
	BackPtr block.Block
	Data    []byte // raw record bytes, length Bytes
}

// Encode writes lb into a buffer of the device's block size. Unused
// trailing space beyond Bytes is left zeroed.
func Encode(lb LogBlock, blockSize int) ([]byte, error) {
	if headerSize+int(lb.Bytes) > blockSize {
		return nil, fmt.Errorf("tux3: log block payload exceeds device block size")
	}
	out := make([]byte, blockSize)
	binary.BigEndian.PutUint16(out[0:2], LogMagic)
	binary.BigEndian.PutUint16(out[2:4], lb.Bytes)
	binary.BigEndian.PutUint64(out[8:16], uint64(lb.BackPtr))
	copy(out[headerSize:headerSize+int(lb.Bytes)], lb.Data)
	return out, nil
}

// Decode parses a raw device block into a LogBlock, validating the
// magic and declared length (spec.md §4.6, "Failure semantics": "bad
// magic, over-long byte count" abort replay with INVALID_LOG).
func Decode(raw []byte) (LogBlock, error) {
	if len(raw) < headerSize {
		return LogBlock{}, fmt.Errorf("%w: block shorter than log header", errs.ErrInvalidLog)
	}
	magic := binary.BigEndian.Uint16(raw[0:2])
	if magic != LogMagic {
		return LogBlock{}, fmt.Errorf("%w: bad log magic %#x", errs.ErrInvalidLog, magic)
	}
	n := binary.BigEndian.Uint16(raw[2:4])
	if headerSize+int(n) > len(raw) {
		return LogBlock{}, fmt.Errorf("%w: log block declares %d bytes, block holds %d", errs.ErrInvalidLog, n, len(raw)-headerSize)
	}
	back := block.Block(binary.BigEndian.Uint64(raw[8:16]))
	data := make([]byte, n)
	copy(data, raw[headerSize:headerSize+int(n)])
	return LogBlock{Bytes: n, BackPtr: back, Data: data}, nil
}

// Records decodes every record in lb in order, validating that the
// declared byte count divides exactly into whole records (an
// unconsumed remainder is itself an INVALID_LOG condition).
func (lb LogBlock) Records() ([]Record, error) {
	var out []Record
	data := lb.Data
	for len(data) > 0 {
		rec, n, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
		data = data[n:]
	}
	return out, nil
}
