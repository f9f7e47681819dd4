// Package super implements the on-disk superblock (spec.md §6): a
// fixed, big-endian layout persisted at a well-known device offset.
package super

import (
	"encoding/binary"
	"fmt"

	"github.com/tux3fs/tux3/block"
	"github.com/tux3fs/tux3/device"
	"github.com/tux3fs/tux3/errs"
)

// Magic is the on-disk superblock signature (spec.md §6).
var Magic = [8]byte{'t', 'u', 'x', '3', 0x20, 0x12, 0x07, 0x02}

// Size is the fixed encoded length of a superblock record.
const Size = 8 + 8 + 4 + 2 + 8 + 8 + 8 + 8 + 8 + 4 + 8 + 4 + 8 + 8

// Super is the decoded superblock (spec.md §6, "On-disk superblock").
type Super struct {
	Birthdate       uint64
	Flags           uint32
	BlockBits       uint16
	VolumeBlocks    uint64
	InodeTableRoot  block.Block
	OrphanTableRoot block.Block
	FreeBlocks      uint64
	NextAllocHint   block.Block
	AtomDictSize    uint32
	FreeAtomHead    block.Block
	AtomGeneration  uint32
	LogChainHead    block.Block
	LogBlockCount   uint64
}

// Encode serializes sb into a Size-byte big-endian record.
func Encode(sb Super) []byte {
	out := make([]byte, Size)
	off := 0
	putBytes := func(b []byte) { copy(out[off:], b); off += len(b) }
	put64 := func(v uint64) { binary.BigEndian.PutUint64(out[off:], v); off += 8 }
	put32 := func(v uint32) { binary.BigEndian.PutUint32(out[off:], v); off += 4 }
	put16 := func(v uint16) { binary.BigEndian.PutUint16(out[off:], v); off += 2 }

	putBytes(Magic[:])
	put64(sb.Birthdate)
	put32(sb.Flags)
	put16(sb.BlockBits)
	put64(sb.VolumeBlocks)
	put64(uint64(sb.InodeTableRoot))
	put64(uint64(sb.OrphanTableRoot))
	put64(sb.FreeBlocks)
	put64(uint64(sb.NextAllocHint))
	put32(sb.AtomDictSize)
	put64(uint64(sb.FreeAtomHead))
	put32(sb.AtomGeneration)
	put64(uint64(sb.LogChainHead))
	put64(sb.LogBlockCount)
	return out
}

// Decode parses a Size-byte record into a Super, validating the magic.
func Decode(raw []byte) (Super, error) {
	if len(raw) < Size {
		return Super{}, fmt.Errorf("%w: superblock record too short", errs.ErrInvalidArgument)
	}
	if string(raw[0:8]) != string(Magic[:]) {
		return Super{}, fmt.Errorf("%w: bad superblock magic", errs.ErrInvalidArgument)
	}
	off := 8
	get64 := func() uint64 { v := binary.BigEndian.Uint64(raw[off:]); off += 8; return v }
	get32 := func() uint32 { v := binary.BigEndian.Uint32(raw[off:]); off += 4; return v }
	get16 := func() uint16 { v := binary.BigEndian.Uint16(raw[off:]); off += 2; return v }

	var sb Super
	sb.Birthdate = get64()
	sb.Flags = get32()
	sb.BlockBits = get16()
	sb.VolumeBlocks = get64()
	sb.InodeTableRoot = block.Block(get64())
	sb.OrphanTableRoot = block.Block(get64())
	sb.FreeBlocks = get64()
	sb.NextAllocHint = block.Block(get64())
	sb.AtomDictSize = get32()
	sb.FreeAtomHead = block.Block(get64())
	sb.AtomGeneration = get32()
	sb.LogChainHead = block.Block(get64())
	sb.LogBlockCount = get64()
	return sb, nil
}

// superblockOffset is the fixed byte offset the core reserves for the
// superblock record, ahead of the reserved inode region (spec.md §6).
const superblockOffset = 0

// Read loads the superblock from dev.
func Read(dev device.Device) (Super, error) {
	raw := make([]byte, Size)
	if _, err := dev.ReadAt(raw, superblockOffset); err != nil {
		return Super{}, fmt.Errorf("%w: %v", errs.ErrIOError, err)
	}
	return Decode(raw)
}

// Write persists sb to dev at its fixed offset.
func Write(dev device.Device, sb Super) error {
	raw := Encode(sb)
	if _, err := dev.WriteAt(raw, superblockOffset); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrIOError, err)
	}
	return nil
}
