package wal

import (
	"fmt"

	"github.com/tux3fs/tux3/block"
	"github.com/tux3fs/tux3/device"
)

// Writer appends log blocks to a device-backed log map, chaining each
// new block's back_ptr to the previous head (spec.md §4.6, "Log blocks
// are linked tail-to-head in the superblock"). It buffers records for
// the current block and flushes a full block to Dev on demand.
//
// Grounded on core/rawdb/prunedfreezer.go's append-only segment writer:
// same "accumulate, then flush a fixed-size unit with a back-reference
// to the prior unit" shape, adapted from file segments to in-place log
// blocks on a raw device.
type Writer struct {
	Dev       device.Device
	BlockSize int

	next  block.Block // next physical block to write to
	head  block.Block // most recently written block, for BackPtr chaining
	valid bool        // whether head is meaningful yet

	buf []byte
}

// NewWriter creates a log writer that will place its first block at
// start and advance linearly from there.
func NewWriter(dev device.Device, blockSize int, start block.Block) *Writer {
	return &Writer{Dev: dev, BlockSize: blockSize, next: start}
}

// Append adds rec to the buffered block, flushing first if it would not
// fit.
func (w *Writer) Append(rec Record) error {
	if headerSize+len(w.buf)+rec.Size() > w.BlockSize {
		if err := w.Flush(); err != nil {
			return err
		}
	}
	w.buf = rec.Encode(w.buf)
	return nil
}

// Flush writes the currently buffered records as one log block and
// resets the buffer, even if it is empty (an empty flush still
// advances the chain, matching a ROLLUP/DELTA marker written alone).
func (w *Writer) Flush() error {
	lb := LogBlock{Bytes: uint16(len(w.buf)), Data: w.buf}
	if w.valid {
		lb.BackPtr = w.head
	}
	raw, err := Encode(lb, w.BlockSize)
	if err != nil {
		return err
	}
	off := device.Offset(w.Dev, w.next)
	if _, err := w.Dev.WriteAt(raw, off); err != nil {
		return fmt.Errorf("tux3: write log block at %d: %w", w.next, err)
	}
	w.head = w.next
	w.valid = true
	w.next++
	w.buf = w.buf[:0]
	return nil
}

// Head returns the most recently flushed block, the value the
// superblock should persist as its log-chain head.
func (w *Writer) Head() (block.Block, bool) { return w.head, w.valid }
