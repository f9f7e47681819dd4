// Package device provides the Device interface consumed by the core
// (spec.md §6): a synchronous byte-offset read/write primitive. The core
// multiplies block indices by 1<<dev.Bits to get byte offsets and issues
// a single I/O per contiguous run (spec.md §6, "Map I/O callback").
package device

import "github.com/tux3fs/tux3/block"

// Mode selects the direction of a Map I/O callback invocation.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

// Device is the block-level I/O primitive the core treats as an opaque
// collaborator (spec.md §6).
type Device interface {
	// ReadAt reads len(p) bytes starting at byte offset off.
	ReadAt(p []byte, off int64) (int, error)

	// WriteAt writes p starting at byte offset off.
	WriteAt(p []byte, off int64) (int, error)

	// Sync flushes any buffering to stable storage.
	Sync() error

	// Close releases the underlying resource.
	Close() error

	// Bits is log2 of the device's block size.
	Bits() uint16
}

// BlockSize returns 1 << d.Bits(), the fixed size of one cached block.
func BlockSize(d Device) int {
	return 1 << d.Bits()
}

// Offset converts a block address to a byte offset on d.
func Offset(d Device, b block.Block) int64 {
	return int64(b) << d.Bits()
}
