package arenago

import (
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/hupe1980/arenago/internal/align"
	"github.com/hupe1980/arenago/vmem"
)

// VMemLinearAllocator is a linear allocator over a reserved virtual
// memory range. The full capacity is reserved up front with no access;
// pages are committed lazily as the cursor advances. Reset decommits
// everything, Release returns the reservation to the OS.
//
// The zero value is an uninitialized allocator; call Initialize or use
// NewVMemLinear. The allocator is not safe for concurrent use.
type VMemLinearAllocator struct {
	realloc reallocateFunc
	vm      vmem.Memory
	log     *slog.Logger

	buffer               uintptr
	bufferSize           uintptr
	allocatedSize        uintptr
	committedSize        uintptr
	lastAllocationOffset uintptr
	pageSize             uintptr
}

var _ Allocator = (*VMemLinearAllocator)(nil)

// NewVMemLinear creates a VMemLinearAllocator reserving bufferSize
// bytes of address space.
func NewVMemLinear(bufferSize uintptr, opts ...Option) (*VMemLinearAllocator, error) {
	o := applyOptions(opts)

	a := &VMemLinearAllocator{vm: o.vm, log: o.logger}
	if err := a.Initialize(bufferSize); err != nil {
		return nil, err
	}
	return a, nil
}

// Initialize reserves bufferSize bytes of address space. The size must
// be at least one page. On failure the allocator stays uninitialized.
func (a *VMemLinearAllocator) Initialize(bufferSize uintptr) error {
	if a.IsInitialized() {
		return ErrAlreadyInitialized
	}

	a.ensureDefaults()

	pageSize := a.vm.PageSize()
	if bufferSize < pageSize {
		return fmt.Errorf("%w: %d is smaller than one page (%d)", ErrInvalidSize, bufferSize, pageSize)
	}

	ptr, err := a.vm.Reserve(bufferSize)
	if err != nil {
		return fmt.Errorf("arenago: reserve failed: %w", err)
	}

	a.log.Debug("reserved address space", "bytes", bufferSize, "page_size", pageSize)

	a.realloc = vmemLinearReallocate
	a.buffer = uintptr(ptr)
	a.bufferSize = bufferSize
	a.allocatedSize = 0
	a.committedSize = 0
	a.lastAllocationOffset = bufferSize
	a.pageSize = pageSize

	return nil
}

// Reset decommits every committed page and rewinds the cursor. On a
// decommit failure the state is left untouched.
func (a *VMemLinearAllocator) Reset() error {
	if !a.IsInitialized() {
		return ErrNotInitialized
	}

	if a.committedSize != 0 {
		if err := a.vm.Decommit(unsafe.Pointer(a.buffer), a.committedSize); err != nil { //nolint:gosec // buffer is a live reservation base
			return fmt.Errorf("arenago: decommit failed: %w", err)
		}

		a.log.Debug("decommitted pages", "bytes", a.committedSize)
	}

	a.allocatedSize = 0
	a.committedSize = 0
	a.lastAllocationOffset = a.bufferSize

	return nil
}

// Release returns the whole reservation to the OS and resets the
// allocator to the uninitialized state.
func (a *VMemLinearAllocator) Release() error {
	if !a.IsInitialized() {
		return ErrNotInitialized
	}

	// No need to decommit first, releasing the reservation covers it.
	if err := a.vm.Release(unsafe.Pointer(a.buffer), a.bufferSize); err != nil { //nolint:gosec // buffer is a live reservation base
		return fmt.Errorf("arenago: release failed: %w", err)
	}

	a.log.Debug("released address space", "bytes", a.bufferSize)

	a.buffer = 0

	return nil
}

// IsInitialized reports whether the allocator holds a reservation.
func (a *VMemLinearAllocator) IsInitialized() bool {
	return a.buffer != 0
}

// AllocatedSize returns the number of buffer bytes consumed, including
// alignment padding.
func (a *VMemLinearAllocator) AllocatedSize() uintptr {
	return a.allocatedSize
}

// CommittedSize returns the number of committed bytes. It is always a
// whole multiple of the page size and never decreases between Resets.
func (a *VMemLinearAllocator) CommittedSize() uintptr {
	return a.committedSize
}

// Allocate implements Allocator. alignment must be a nonzero power of
// two. It returns nil if the allocator is uninitialized, the arguments
// are invalid, the reservation is exhausted, or the commit fails.
func (a *VMemLinearAllocator) Allocate(size, alignment uintptr) unsafe.Pointer {
	if !a.IsInitialized() {
		return nil
	}

	if size == 0 || !align.IsPowerOfTwo(alignment) {
		return nil
	}

	return a.allocateImpl(size, alignment)
}

// Deallocate implements Allocator. It is a no-op.
func (a *VMemLinearAllocator) Deallocate(ptr unsafe.Pointer, size uintptr) {
}

// Reallocate implements Allocator.
func (a *VMemLinearAllocator) Reallocate(oldPtr unsafe.Pointer, oldSize, newSize, alignment uintptr) unsafe.Pointer {
	if a.realloc == nil {
		return nil
	}
	return a.realloc(a, oldPtr, oldSize, newSize, alignment)
}

// IsOwnerOf implements Allocator.
func (a *VMemLinearAllocator) IsOwnerOf(ptr unsafe.Pointer) bool {
	if !a.IsInitialized() {
		return false
	}

	return isPointerInBuffer(ptr, a.buffer, a.allocatedSize)
}

func (a *VMemLinearAllocator) ensureDefaults() {
	if a.vm == nil {
		a.vm = vmem.Default()
	}
	if a.log == nil {
		a.log = discardLogger()
	}
}

func (a *VMemLinearAllocator) allocateImpl(size, alignment uintptr) unsafe.Pointer {
	ptr, newAllocatedSize, lastAllocationOffset := allocateFromBuffer(
		a.buffer, a.bufferSize, a.allocatedSize, size, alignment)
	if ptr == nil {
		return nil
	}

	// Cursor state is written back only after a successful commit so a
	// refused commit leaves the allocator untouched.
	if !a.commitTo(newAllocatedSize) {
		return nil
	}

	a.allocatedSize = newAllocatedSize
	a.lastAllocationOffset = lastAllocationOffset

	return ptr
}

// commitTo grows the committed prefix to cover newAllocatedSize,
// rounding up to whole pages. It reports false if the kernel refuses.
func (a *VMemLinearAllocator) commitTo(newAllocatedSize uintptr) bool {
	committedSize := a.committedSize
	if newAllocatedSize <= committedSize {
		return true
	}

	commitPtr := unsafe.Pointer(a.buffer + committedSize) //nolint:gosec // within the live reservation
	commitSize := align.To(newAllocatedSize-committedSize, a.pageSize)

	if err := a.vm.Commit(commitPtr, commitSize, vmem.AccessReadWrite); err != nil {
		return false
	}

	a.log.Debug("committed pages", "bytes", commitSize, "committed_total", committedSize+commitSize)

	a.committedSize = committedSize + commitSize

	return true
}

func vmemLinearReallocate(alloc Allocator, oldPtr unsafe.Pointer, oldSize, newSize, alignment uintptr) unsafe.Pointer {
	a := alloc.(*VMemLinearAllocator)

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

		if !a.commitTo(newAllocatedSize) {
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
