package arenago

import (
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/hupe1980/arenago/internal/align"
	"github.com/hupe1980/arenago/vmem"
)

// VMemStackFrameAllocator is a stack-frame allocator over a single
// reserved virtual memory range. Unlike StackFrameAllocator there are
// no segments: frames are offsets into the one buffer, pages are
// committed lazily as the cursor advances, and DecommitSlack hands
// committed-but-unused pages back to the OS on request.
//
// The zero value is an uninitialized allocator; call Initialize or use
// NewVMemStackFrame. The allocator is not safe for concurrent use.
type VMemStackFrameAllocator struct {
	realloc reallocateFunc
	vm      vmem.Memory
	log     *slog.Logger

	buffer    uintptr
	liveFrame *frameDescription

	bufferSize           uintptr
	allocatedSize        uintptr
	committedSize        uintptr
	lastAllocationOffset uintptr
	pageSize             uintptr
}

var _ Allocator = (*VMemStackFrameAllocator)(nil)

// NewVMemStackFrame creates a VMemStackFrameAllocator reserving
// bufferSize bytes of address space.
func NewVMemStackFrame(bufferSize uintptr, opts ...Option) (*VMemStackFrameAllocator, error) {
	o := applyOptions(opts)

	a := &VMemStackFrameAllocator{vm: o.vm, log: o.logger}
	if err := a.Initialize(bufferSize); err != nil {
		return nil, err
	}
	return a, nil
}

// Initialize reserves bufferSize bytes of address space. The size must
// be at least one page and page-aligned. On failure the allocator
// stays uninitialized.
func (a *VMemStackFrameAllocator) Initialize(bufferSize uintptr) error {
	if a.IsInitialized() {
		return ErrAlreadyInitialized
	}

	a.ensureDefaults()

	pageSize := a.vm.PageSize()
	if bufferSize < pageSize || !align.IsAligned(bufferSize, pageSize) {
		return fmt.Errorf("%w: %d is not a positive multiple of the page size (%d)", ErrInvalidSize, bufferSize, pageSize)
	}

	ptr, err := a.vm.Reserve(bufferSize)
	if err != nil {
		return fmt.Errorf("arenago: reserve failed: %w", err)
	}

	a.log.Debug("reserved address space", "bytes", bufferSize, "page_size", pageSize)

	a.realloc = vmemStackFrameReallocate
	a.buffer = uintptr(ptr)
	a.liveFrame = nil
	a.bufferSize = bufferSize
	a.allocatedSize = 0
	a.committedSize = 0
	a.lastAllocationOffset = bufferSize
	a.pageSize = pageSize

	return nil
}

// Release returns the whole reservation to the OS and resets the
// allocator to the uninitialized state. If a frame is still live the
// allocator refuses and leaks rather than corrupt it.
func (a *VMemStackFrameAllocator) Release() error {
	if !a.IsInitialized() {
		return ErrNotInitialized
	}

	if a.HasLiveFrame() {
		return ErrLiveFrame
	}

	// No need to decommit first, releasing the reservation covers it.
	if err := a.vm.Release(unsafe.Pointer(a.buffer), a.bufferSize); err != nil { //nolint:gosec // buffer is a live reservation base
		return fmt.Errorf("arenago: release failed: %w", err)
	}

	a.log.Debug("released address space", "bytes", a.bufferSize)

	a.buffer = 0
	a.liveFrame = nil
	a.bufferSize = 0
	a.allocatedSize = 0
	a.committedSize = 0
	a.lastAllocationOffset = 0

	return nil
}

// DecommitSlack returns committed-but-unused tail pages to the OS,
// keeping at least minSlack bytes of slack committed for upcoming
// allocations. minSlack must be page-aligned. It reports false on an
// uninitialized allocator, a misaligned argument, or a refused
// decommit; state is unchanged on failure.
func (a *VMemStackFrameAllocator) DecommitSlack(minSlack uintptr) bool {
	if !a.IsInitialized() {
		return false
	}

	if !align.IsAligned(minSlack, a.pageSize) {
		return false
	}

	slack := a.committedSize - a.allocatedSize

	// Round down to whole pages
	decommitSize := (slack - minSlack) &^ (a.pageSize - 1)

	if slack > minSlack && decommitSize != 0 {
		// Drop the committed tail; the used prefix keeps its pages.
		decommitPtr := unsafe.Pointer(a.buffer + a.committedSize - decommitSize) //nolint:gosec // within the live reservation

		if err := a.vm.Decommit(decommitPtr, decommitSize); err != nil {
			return false
		}

		a.log.Debug("decommitted slack", "bytes", decommitSize)

		a.committedSize -= decommitSize
	}

	return true
}

// IsInitialized reports whether the allocator holds a reservation.
func (a *VMemStackFrameAllocator) IsInitialized() bool {
	return a.buffer != 0
}

// HasLiveFrame reports whether at least one frame is outstanding.
func (a *VMemStackFrameAllocator) HasLiveFrame() bool {
	return a.liveFrame != nil
}

// AllocatedSize returns the number of buffer bytes consumed, including
// frame records and alignment padding.
func (a *VMemStackFrameAllocator) AllocatedSize() uintptr {
	return a.allocatedSize
}

// CommittedSize returns the number of committed bytes. It is always a
// whole multiple of the page size.
func (a *VMemStackFrameAllocator) CommittedSize() uintptr {
	return a.committedSize
}

// FrameOverhead returns the bytes a PushFrame consumes in the buffer.
func (a *VMemStackFrameAllocator) FrameOverhead() uintptr {
	return unsafe.Sizeof(frameDescription{})
}

// PushFrame creates a new frame. The frame record is allocated through
// the ordinary allocation path, so the push may commit pages.
func (a *VMemStackFrameAllocator) PushFrame() (Frame, error) {
	if !a.IsInitialized() {
		return Frame{}, ErrNotInitialized
	}

	ptr := a.allocateImpl(unsafe.Sizeof(frameDescription{}), unsafe.Alignof(frameDescription{}))
	if ptr == nil {
		return Frame{}, ErrOutOfMemory
	}

	frameDesc := (*frameDescription)(ptr)
	frameDesc.prevFrame = a.liveFrame

	a.liveFrame = frameDesc

	return Frame{allocator: a, pop: vmemStackFramePop, data: ptr}, nil
}

// PopFrame pops the given frame. It reports false on a LIFO violation
// or an already-popped handle.
func (a *VMemStackFrameAllocator) PopFrame(frame *Frame) bool {
	return frame.Pop()
}

// Allocate implements Allocator. A live frame is required: every
// allocation belongs to the innermost frame.
func (a *VMemStackFrameAllocator) Allocate(size, alignment uintptr) unsafe.Pointer {
	if !a.IsInitialized() {
		return nil
	}

	if size == 0 || !align.IsPowerOfTwo(alignment) {
		return nil
	}

	if !a.HasLiveFrame() {
		return nil
	}

	return a.allocateImpl(size, alignment)
}

// Deallocate implements Allocator. It is a no-op.
func (a *VMemStackFrameAllocator) Deallocate(ptr unsafe.Pointer, size uintptr) {
}

// Reallocate implements Allocator.
func (a *VMemStackFrameAllocator) Reallocate(oldPtr unsafe.Pointer, oldSize, newSize, alignment uintptr) unsafe.Pointer {
	if a.realloc == nil {
		return nil
	}
	return a.realloc(a, oldPtr, oldSize, newSize, alignment)
}

// IsOwnerOf implements Allocator.
func (a *VMemStackFrameAllocator) IsOwnerOf(ptr unsafe.Pointer) bool {
	if !a.IsInitialized() {
		return false
	}

	return isPointerInBuffer(ptr, a.buffer, a.allocatedSize)
}

func (a *VMemStackFrameAllocator) ensureDefaults() {
	if a.vm == nil {
		a.vm = vmem.Default()
	}
	if a.log == nil {
		a.log = discardLogger()
	}
}

func (a *VMemStackFrameAllocator) allocateImpl(size, alignment uintptr) unsafe.Pointer {
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
func (a *VMemStackFrameAllocator) commitTo(newAllocatedSize uintptr) bool {
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

func vmemStackFrameReallocate(alloc Allocator, oldPtr unsafe.Pointer, oldSize, newSize, alignment uintptr) unsafe.Pointer {
	a := alloc.(*VMemStackFrameAllocator)

	if !a.IsInitialized() {
		return nil
	}

	if newSize == 0 || !align.IsPowerOfTwo(alignment) {
		return nil
	}

	if !a.HasLiveFrame() {
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

// vmemStackFramePop rewinds the cursor to the frame record's offset.
// Committed pages stay committed; DecommitSlack reclaims them when the
// caller asks.
func vmemStackFramePop(alloc Allocator, frameData unsafe.Pointer) bool {
	a := alloc.(*VMemStackFrameAllocator)

	if !a.IsInitialized() {
		return false
	}

	frameDesc := (*frameDescription)(frameData)

	// Only the innermost frame can pop
	if frameDesc != a.liveFrame {
		return false
	}

	a.liveFrame = frameDesc.prevFrame

	a.allocatedSize = uintptr(frameData) - a.buffer

	return true
}
