// Package kverrors collects the sentinel errors surfaced across the store's
// layers so callers can errors.Is against a stable set regardless of which
// package produced the failure.
package kverrors

import "errors"

var (
	// NotFound names the missing-key case. No layer returns it: Get and
	// Delete report absence via a zero value / bool.
	NotFound = errors.New("kv: not found")

	// InvalidKey names a key that violates the fixed-width u64 contract.
	// Keys are typed uint64 throughout, so no layer returns it.
	InvalidKey = errors.New("kv: invalid key")

	// ValueTooLarge is returned when a value's total length cannot be
	// represented in the u32 length field.
	ValueTooLarge = errors.New("kv: value too large")

	// CorruptPage is returned when a page's type tag or decoded invariants
	// don't match what the caller expected.
	CorruptPage = errors.New("kv: corrupt page")

	// CorruptFreeList is returned when the free-page chain cycles back on
	// itself or points at a reserved page number.
	CorruptFreeList = errors.New("kv: corrupt free list")

	// CorruptWal is returned when the WAL header magic is malformed beyond
	// what replay can repair. A torn tail is NOT this error.
	CorruptWal = errors.New("kv: corrupt wal")

	// TruncatedChain is returned when an overflow chain ends before the
	// expected number of bytes has been read.
	TruncatedChain = errors.New("kv: truncated overflow chain")

	// PoolExhausted is returned when the buffer pool is full and every
	// frame is pinned, so no victim can be evicted.
	PoolExhausted = errors.New("kv: buffer pool exhausted")

	// IoError wraps unexpected underlying I/O failures.
	IoError = errors.New("kv: io error")

	// LockMisuse is returned for unpinning an unpinned page, or dropping a
	// pinned one.
	LockMisuse = errors.New("kv: lock misuse")
)
