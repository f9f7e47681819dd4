package cache

import "github.com/tux3fs/tux3/block"

// bufferHash implements spec.md §4.1 verbatim:
//
//	buffer_hash(block) = ((high32(block) xor low32(block)) * 978317583) mod BUFFER_BUCKETS
//
// buckets must be a power of two; the mod is implemented as a mask.
func bufferHash(b block.Block, buckets uint32) uint32 {
	v := uint64(b)
	high := uint32(v >> 32)
	low := uint32(v)
	h := (high ^ low) * 978317583
	return h & (buckets - 1)
}
