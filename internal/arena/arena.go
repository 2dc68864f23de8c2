// Package arena implements scoped, bump-allocated byte regions, optionally
// backed by a memory-mapped file, as the storage substrate for the hierarchy's
// node table, text buffer, and embedding vectors.
package arena

import (
	"fmt"
)

// Arena is a contiguous byte region with bump allocation. Offsets returned by
// Alloc remain valid across the arena's lifetime even though the underlying
// slice returned by Bytes may be replaced by Grow; callers must re-derive
// slices from Bytes() rather than caching them across a Grow call.
type Arena interface {
	// Alloc reserves size bytes aligned to align (a power of two) and returns
	// the offset of the reservation, growing the arena when the request does
	// not fit. Returns the error from growing the backing store if that
	// fails, ErrOverflow if the size arithmetic would overflow, or
	// ErrInvalidAlign if align is not a positive power of two.
	Alloc(size int64, align int64) (int64, error)

	// Bytes returns the current backing slice. Valid until the next Grow.
	Bytes() []byte

	// Used returns the number of bytes allocated so far (the bump pointer).
	Used() int64

	// SetUsed restores the bump pointer, e.g. after reopening a file-backed
	// arena whose logical fill the caller tracks durably elsewhere.
	SetUsed(used int64)

	// Cap returns the total capacity of the arena.
	Cap() int64

	// Grow increases the arena's capacity to at least newCap. Implementations
	// may invalidate slices previously returned by Bytes.
	Grow(newCap int64) error

	// Reset rewinds the bump pointer to zero without releasing capacity.
	Reset()

	// ResetSecure rewinds the bump pointer and zeroes the region.
	ResetSecure()

	// Sync flushes any pending writes to durable storage. A no-op for heap
	// arenas; msync(MS_SYNC) for mmap arenas.
	Sync() error

	// Close releases the arena's resources.
	Close() error
}

// ErrFull reports an arena that cannot satisfy a request. HeapArena and
// MmapArena grow on demand inside Alloc and do not return it.
var ErrFull = fmt.Errorf("arena: full")

// ErrInvalidAlign is returned when align is not a positive power of two.
var ErrInvalidAlign = fmt.Errorf("arena: alignment must be a positive power of two")

// ErrOverflow is returned when size/align arithmetic would overflow.
var ErrOverflow = fmt.Errorf("arena: allocation size overflows")

func isPowerOfTwo(align int64) bool {
	return align > 0 && align&(align-1) == 0
}

// alignUp rounds off up to the next multiple of align (align a power of two).
// Returns an error if the computation would overflow.
func alignUp(off, align int64) (int64, error) {
	if !isPowerOfTwo(align) {
		return 0, ErrInvalidAlign
	}
	mask := align - 1
	if off > (1<<63-1)-mask {
		return 0, ErrOverflow
	}
	return (off + mask) &^ mask, nil
}
