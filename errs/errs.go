// Package errs defines the error taxonomy shared across the tux3 core
// (spec §7). Errors are plain sentinels so callers compose with stdlib
// errors.Is/errors.As instead of type switches.
package errs

import "errors"

var (
	// ErrOutOfMemory is returned by blockget when the pool is exhausted
	// and no eviction candidate exists.
	ErrOutOfMemory = errors.New("tux3: out of memory")

	// ErrIOError is returned by block-fork clone, replay read, or flush
	// when the underlying device fails.
	ErrIOError = errors.New("tux3: io error")

	// ErrInvalidLog is returned by replay on a malformed log block (bad
	// magic, over-long byte count, unknown opcode). Mount fails.
	ErrInvalidLog = errors.New("tux3: invalid log")

	// ErrFileTooBig is returned when an operation would grow a file past
	// the addressable block range.
	ErrFileTooBig = errors.New("tux3: file too big")

	// ErrNotFound is returned when a lookup (buffer, orphan, log block)
	// has no matching entry.
	ErrNotFound = errors.New("tux3: not found")

	// ErrTryAgain is internal to block-fork: the caller lost a race to
	// classify the buffer and must re-resolve it by (map, index) and
	// retry. It must never be silently swallowed.
	ErrTryAgain = errors.New("tux3: try again")

	// ErrInvalidArgument flags a programming error in caller-supplied
	// parameters (out-of-range delta slot, zero-length map, etc).
	ErrInvalidArgument = errors.New("tux3: invalid argument")
)
