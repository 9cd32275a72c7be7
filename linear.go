package arenago

import (
	"unsafe"

	"github.com/hupe1980/arenago/internal/align"
	"github.com/hupe1980/arenago/internal/conv"
)

// LinearAllocator carves allocations linearly out of a caller-provided
// buffer. There is no per-allocation overhead, and the allocator writes
// into the buffer only when Reallocate copies an allocation to a fresh
// region. Memory is returned only in bulk,
// by Reset or Release.
//
// The zero value is an uninitialized allocator; call Initialize or use
// NewLinear. The allocator is not safe for concurrent use.
type LinearAllocator struct {
	realloc reallocateFunc

	// buf pins the caller's buffer for the garbage collector; buffer is
	// the base address and doubles as the initialized flag.
	buf                  []byte
	buffer               uintptr
	bufferSize           uintptr
	allocatedSize        uintptr
	lastAllocationOffset uintptr
}

var _ Allocator = (*LinearAllocator)(nil)

// NewLinear creates a LinearAllocator over buffer.
func NewLinear(buffer []byte) (*LinearAllocator, error) {
	a := &LinearAllocator{}
	if err := a.Initialize(buffer); err != nil {
		return nil, err
	}
	return a, nil
}

// Initialize installs the buffer. It rejects nil and empty buffers and
// leaves the allocator uninitialized on failure. Initializing twice
// returns ErrAlreadyInitialized.
func (a *LinearAllocator) Initialize(buffer []byte) error {
	if a.IsInitialized() {
		return ErrAlreadyInitialized
	}

	if len(buffer) == 0 {
		return ErrInvalidBuffer
	}

	bufferSize, err := conv.IntToUintptr(len(buffer))
	if err != nil {
		return ErrInvalidSize
	}

	a.realloc = linearReallocate
	a.buf = buffer
	a.buffer = uintptr(unsafe.Pointer(&buffer[0]))
	a.bufferSize = bufferSize
	a.allocatedSize = 0
	// The sentinel can never equal a real allocation offset.
	a.lastAllocationOffset = bufferSize

	return nil
}

// Reset forgets every allocation. Pointers handed out before the reset
// are no longer owned, even though the bytes are still the caller's.
func (a *LinearAllocator) Reset() {
	if !a.IsInitialized() {
		return
	}

	a.allocatedSize = 0
	a.lastAllocationOffset = a.bufferSize
}

// Release forgets the buffer and returns the allocator to the
// uninitialized state. The buffer is caller-owned and is not freed.
func (a *LinearAllocator) Release() {
	if !a.IsInitialized() {
		return
	}

	a.buf = nil
	a.buffer = 0
}

// IsInitialized reports whether the allocator holds a buffer.
func (a *LinearAllocator) IsInitialized() bool {
	return a.buffer != 0
}

// AllocatedSize returns the number of buffer bytes consumed, including
// alignment padding.
func (a *LinearAllocator) AllocatedSize() uintptr {
	return a.allocatedSize
}

// Allocate implements Allocator. alignment must be a nonzero power of
// two. It returns nil if the allocator is uninitialized, the arguments
// are invalid, or the buffer is exhausted.
func (a *LinearAllocator) Allocate(size, alignment uintptr) unsafe.Pointer {
	if !a.IsInitialized() {
		return nil
	}

	if size == 0 || !align.IsPowerOfTwo(alignment) {
		return nil
	}

	return a.allocateImpl(size, alignment)
}

// Deallocate implements Allocator. It is a no-op.
func (a *LinearAllocator) Deallocate(ptr unsafe.Pointer, size uintptr) {
}

// Reallocate implements Allocator.
func (a *LinearAllocator) Reallocate(oldPtr unsafe.Pointer, oldSize, newSize, alignment uintptr) unsafe.Pointer {
	if a.realloc == nil {
		return nil
	}
	return a.realloc(a, oldPtr, oldSize, newSize, alignment)
}

// IsOwnerOf implements Allocator. Ownership tracks the logical extent:
// a pointer past the current cursor is not owned even if it was handed
// out before a Reset.
func (a *LinearAllocator) IsOwnerOf(ptr unsafe.Pointer) bool {
	if !a.IsInitialized() {
		return false
	}

	return isPointerInBuffer(ptr, a.buffer, a.allocatedSize)
}

func (a *LinearAllocator) allocateImpl(size, alignment uintptr) unsafe.Pointer {
	ptr, newAllocatedSize, lastAllocationOffset := allocateFromBuffer(
		a.buffer, a.bufferSize, a.allocatedSize, size, alignment)
	if ptr == nil {
		return nil
	}

	a.allocatedSize = newAllocatedSize
	a.lastAllocationOffset = lastAllocationOffset

	return ptr
}

func linearReallocate(alloc Allocator, oldPtr unsafe.Pointer, oldSize, newSize, alignment uintptr) unsafe.Pointer {
	a := alloc.(*LinearAllocator)

	if !a.IsInitialized() {
		return nil
	}

	if newSize == 0 || !align.IsPowerOfTwo(alignment) {
		return nil
	}

	lastAllocation := a.buffer + a.lastAllocationOffset

	if lastAllocation == uintptr(oldPtr) {
		// Resizing the most recent allocation in place. When shrinking,
		// the unsigned delta wraps around and newAllocatedSize lands
		// below allocatedSize; the single comparison below covers both
		// directions.
		deltaSize := newSize - oldSize

		newAllocatedSize := a.allocatedSize + deltaSize
		if newAllocatedSize > a.bufferSize {
			// Out of memory
			return nil
		}

		a.allocatedSize = newAllocatedSize

		return oldPtr
	}

	// Not the most recent allocation: allocate fresh and copy. The old
	// region is not reclaimed.
	ptr := a.allocateImpl(newSize, alignment)
	if ptr != nil {
		numBytesToCopy := min(oldSize, newSize)
		memcopy(ptr, oldPtr, numBytesToCopy)
	}

	return ptr
}
