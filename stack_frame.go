package arenago

import (
	"log/slog"
	"unsafe"

	"github.com/hupe1980/arenago/internal/align"
	"github.com/hupe1980/arenago/internal/conv"
	"github.com/hupe1980/arenago/vmem"
)

const (
	segmentMinAlignment      = 8
	segmentFlagsMask         = segmentMinAlignment - 1
	segmentExternallyManaged = 0x1
)

// segmentDescription is the header placed at the first bytes of every
// segment; user buffer space follows immediately. The list link and
// the externally-managed flag share one word: the flag lives in the
// low bits, which are always zero in a pointer aligned to at least 8.
type segmentDescription struct {
	packed        uintptr
	segmentSize   uintptr
	allocatedSize uintptr
}

// The pop protocol detects "the frame record is the first allocation
// of its segment" by the cursor being exactly zero, which only holds
// if no alignment padding can sit between the segment header and a
// frame record allocated right after it.
var _ [unsafe.Alignof(frameDescription{})]byte = [unsafe.Alignof(segmentDescription{})]byte{}

func (s *segmentDescription) buffer() uintptr {
	return uintptr(unsafe.Pointer(s)) + unsafe.Sizeof(segmentDescription{})
}

func (s *segmentDescription) bufferSize() uintptr {
	return s.segmentSize - unsafe.Sizeof(segmentDescription{})
}

func (s *segmentDescription) link() *segmentDescription {
	return (*segmentDescription)(unsafe.Pointer(s.packed &^ segmentFlagsMask)) //nolint:gosec // the link is a valid segment header address or zero
}

func (s *segmentDescription) setLink(next *segmentDescription) {
	s.packed = uintptr(unsafe.Pointer(next)) | (s.packed & segmentFlagsMask)
}

func (s *segmentDescription) externallyManaged() bool {
	return s.packed&segmentExternallyManaged != 0
}

func (s *segmentDescription) setExternallyManaged(value bool) {
	if value {
		s.packed |= segmentExternallyManaged
	} else {
		s.packed &^= segmentExternallyManaged
	}
}

// StackFrameAllocator is a multi-segment stack-frame allocator. Memory
// is organized in segments obtained from the virtual memory layer (or
// registered by the caller); frames are pushed and popped LIFO, and a
// pop returns every segment that only held the popped frame to an
// internal free list for reuse.
//
// The zero value is an uninitialized allocator; call Initialize or use
// NewStackFrame. The allocator is not safe for concurrent use.
type StackFrameAllocator struct {
	realloc reallocateFunc
	vm      vmem.Memory
	log     *slog.Logger

	// liveSegment heads the live list (most recently current first);
	// freeSegmentList holds previously-used segments available for
	// reuse. Every segment is on exactly one of the two lists.
	liveSegment     *segmentDescription
	liveFrame       *frameDescription
	freeSegmentList *segmentDescription

	defaultSegmentSize   uintptr
	lastAllocationOffset uintptr
}

var _ Allocator = (*StackFrameAllocator)(nil)

// NewStackFrame creates a StackFrameAllocator with the given default
// segment size.
func NewStackFrame(segmentSize uintptr, opts ...Option) (*StackFrameAllocator, error) {
	o := applyOptions(opts)

	a := &StackFrameAllocator{vm: o.vm, log: o.logger}
	if err := a.Initialize(segmentSize); err != nil {
		return nil, err
	}
	return a, nil
}

// Initialize sets the default segment size, used as the minimum when
// obtaining new segments. No memory is acquired until the first push.
func (a *StackFrameAllocator) Initialize(segmentSize uintptr) error {
	if a.IsInitialized() {
		return ErrAlreadyInitialized
	}

	if segmentSize == 0 {
		return ErrInvalidSize
	}

	a.ensureDefaults()

	a.realloc = stackFrameReallocate
	a.liveSegment = nil
	a.liveFrame = nil
	a.freeSegmentList = nil
	a.defaultSegmentSize = segmentSize
	a.lastAllocationOffset = segmentSize

	return nil
}

// Release frees every internally-allocated segment and returns the
// allocator to the uninitialized state. Externally registered segments
// stay with their callers. If a frame is still live the allocator
// refuses and leaks rather than corrupt it.
func (a *StackFrameAllocator) Release() error {
	if !a.IsInitialized() {
		return ErrNotInitialized
	}

	if a.HasLiveFrame() {
		return ErrLiveFrame
	}

	segment := a.freeSegmentList
	for segment != nil {
		nextSegment := segment.link()

		if !segment.externallyManaged() {
			a.releaseSegment(segment)
		}

		segment = nextSegment
	}

	a.liveSegment = nil
	a.freeSegmentList = nil
	a.defaultSegmentSize = 0

	return nil
}

// IsInitialized reports whether Initialize has run.
func (a *StackFrameAllocator) IsInitialized() bool {
	return a.defaultSegmentSize != 0
}

// HasLiveFrame reports whether at least one frame is outstanding.
func (a *StackFrameAllocator) HasLiveFrame() bool {
	return a.liveFrame != nil
}

// AllocatedSize sums the consumed bytes of every live segment. This
// walks the live list; keep it off hot paths.
func (a *StackFrameAllocator) AllocatedSize() uintptr {
	var allocatedSize uintptr

	segment := a.liveSegment
	for segment != nil {
		allocatedSize += segment.allocatedSize
		segment = segment.link()
	}

	return allocatedSize
}

// FrameOverhead returns the bytes a PushFrame consumes in the buffer.
func (a *StackFrameAllocator) FrameOverhead() uintptr {
	return unsafe.Sizeof(frameDescription{})
}

// SegmentOverhead returns the header bytes at the start of every
// segment.
func (a *StackFrameAllocator) SegmentOverhead() uintptr {
	return unsafe.Sizeof(segmentDescription{})
}

// RegisterSegment installs a caller-provided buffer as a reusable
// segment on the free list. The buffer must be aligned to at least 8
// bytes and larger than SegmentOverhead; the caller keeps ownership
// and must not free it before Release.
func (a *StackFrameAllocator) RegisterSegment(buffer []byte) error {
	if !a.IsInitialized() {
		return ErrNotInitialized
	}

	bufferSize, err := conv.IntToUintptr(len(buffer))
	if err != nil || bufferSize <= unsafe.Sizeof(segmentDescription{}) {
		return ErrInvalidBuffer
	}

	base := unsafe.Pointer(&buffer[0])
	if !align.IsAligned(uintptr(base), segmentMinAlignment) {
		return ErrInvalidBuffer
	}

	// Construct the header in place at the buffer start.
	segment := (*segmentDescription)(base)
	*segment = segmentDescription{segmentSize: bufferSize}
	segment.setLink(a.freeSegmentList)
	segment.setExternallyManaged(true)

	a.freeSegmentList = segment

	return nil
}

// PushFrame creates a new frame. The frame record is allocated through
// the ordinary allocation path, so the push may acquire a new segment.
func (a *StackFrameAllocator) PushFrame() (Frame, error) {
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

	return Frame{allocator: a, pop: stackFramePop, data: ptr}, nil
}

// PopFrame pops the given frame. It reports false on a LIFO violation
// or an already-popped handle.
func (a *StackFrameAllocator) PopFrame(frame *Frame) bool {
	return frame.Pop()
}

// Allocate implements Allocator. A live frame is required: every
// allocation belongs to the innermost frame.
func (a *StackFrameAllocator) Allocate(size, alignment uintptr) unsafe.Pointer {
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
func (a *StackFrameAllocator) Deallocate(ptr unsafe.Pointer, size uintptr) {
}

// Reallocate implements Allocator.
func (a *StackFrameAllocator) Reallocate(oldPtr unsafe.Pointer, oldSize, newSize, alignment uintptr) unsafe.Pointer {
	if a.realloc == nil {
		return nil
	}
	return a.realloc(a, oldPtr, oldSize, newSize, alignment)
}

// IsOwnerOf implements Allocator. This walks the live list; keep it
// off hot paths.
func (a *StackFrameAllocator) IsOwnerOf(ptr unsafe.Pointer) bool {
	if !a.IsInitialized() {
		return false
	}

	segment := a.liveSegment
	for segment != nil {
		if isPointerInBuffer(ptr, segment.buffer(), segment.allocatedSize) {
			return true
		}

		segment = segment.link()
	}

	return false
}

func (a *StackFrameAllocator) ensureDefaults() {
	if a.vm == nil {
		a.vm = vmem.Default()
	}
	if a.log == nil {
		a.log = discardLogger()
	}
}

// allocateSegment obtains a fresh segment from the virtual memory
// layer, sized so the pending request succeeds even after the header
// and worst-case alignment padding.
func (a *StackFrameAllocator) allocateSegment(size, alignment uintptr) *segmentDescription {
	desiredSize := align.To(size+alignment+unsafe.Sizeof(segmentDescription{}), alignment)
	segmentSize := max(desiredSize, a.defaultSegmentSize)

	ptr, err := a.vm.Alloc(segmentSize, vmem.AccessReadWrite)
	if err != nil {
		return nil
	}

	a.log.Debug("acquired segment", "bytes", segmentSize)

	segment := (*segmentDescription)(ptr)
	*segment = segmentDescription{segmentSize: segmentSize}

	return segment
}

func (a *StackFrameAllocator) releaseSegment(segment *segmentDescription) {
	size := segment.segmentSize

	if err := a.vm.Free(unsafe.Pointer(segment), size); err != nil {
		a.log.Debug("segment free failed", "bytes", size, "error", err)
		return
	}

	a.log.Debug("released segment", "bytes", size)
}

// findFreeSegment returns a segment able to satisfy the request: the
// current live segment if it can, else the first fitting free-list
// segment (moved to the live list), else a freshly allocated one.
func (a *StackFrameAllocator) findFreeSegment(size, alignment uintptr) *segmentDescription {
	if a.liveSegment != nil && segmentCanSatisfy(a.liveSegment, size, alignment) {
		return a.liveSegment
	}

	var prev *segmentDescription

	segment := a.freeSegmentList
	for segment != nil {
		nextSegment := segment.link()

		if segmentCanSatisfy(segment, size, alignment) {
			// Unlink from the free list, push onto the live list.
			if prev != nil {
				prev.setLink(nextSegment)
			} else {
				a.freeSegmentList = nextSegment
			}

			segment.setLink(a.liveSegment)
			a.liveSegment = segment

			return segment
		}

		// Try the next one
		prev = segment
		segment = nextSegment
	}

	liveSegment := a.allocateSegment(size, alignment)
	if liveSegment != nil {
		liveSegment.setLink(a.liveSegment)
		a.liveSegment = liveSegment
	}

	return liveSegment
}

func segmentCanSatisfy(segment *segmentDescription, size, alignment uintptr) bool {
	return canSatisfyAllocation(segment.buffer(), segment.bufferSize(), segment.allocatedSize, size, alignment)
}

func (a *StackFrameAllocator) allocateImpl(size, alignment uintptr) unsafe.Pointer {
	liveSegment := a.findFreeSegment(size, alignment)
	if liveSegment == nil {
		// Failed to obtain a segment, out of memory
		return nil
	}

	ptr, newAllocatedSize, lastAllocationOffset := allocateFromBuffer(
		liveSegment.buffer(), liveSegment.bufferSize(), liveSegment.allocatedSize, size, alignment)
	if ptr == nil {
		return nil
	}

	liveSegment.allocatedSize = newAllocatedSize
	a.lastAllocationOffset = lastAllocationOffset

	return ptr
}

func stackFrameReallocate(alloc Allocator, oldPtr unsafe.Pointer, oldSize, newSize, alignment uintptr) unsafe.Pointer {
	a := alloc.(*StackFrameAllocator)

	if !a.IsInitialized() {
		return nil
	}

	if newSize == 0 || !align.IsPowerOfTwo(alignment) {
		return nil
	}

	if !a.HasLiveFrame() {
		return nil
	}

	liveSegment := a.liveSegment
	lastAllocation := liveSegment.buffer() + a.lastAllocationOffset

	if lastAllocation == uintptr(oldPtr) {
		// Resizing the most recent allocation in place, scoped to the
		// current segment: an in-place grow never rolls over into the
		// next segment. When shrinking, the unsigned delta wraps around
		// and newAllocatedSize lands below allocatedSize; the single
		// comparison below covers both directions.
		deltaSize := newSize - oldSize

		newAllocatedSize := liveSegment.allocatedSize + deltaSize
		if newAllocatedSize <= liveSegment.bufferSize() {
			liveSegment.allocatedSize = newAllocatedSize

			return oldPtr
		}

		// Not enough space in the current live segment, fall through to
		// allocate-and-copy.
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

// stackFramePop pops the frame identified by frameData. Walking the
// live list from its head, every segment that sits entirely above the
// frame record goes back to the free list; the segment holding the
// record keeps the bytes below it. A record at cursor zero means the
// segment was acquired for this frame and drains entirely - the
// alignment assertion on frameDescription guarantees no padding ever
// precedes such a record.
func stackFramePop(alloc Allocator, frameData unsafe.Pointer) bool {
	a := alloc.(*StackFrameAllocator)

	if !a.IsInitialized() {
		return false
	}

	frameDesc := (*frameDescription)(frameData)

	// Only the innermost frame can pop
	if frameDesc != a.liveFrame {
		return false
	}

	a.liveFrame = frameDesc.prevFrame

	liveSegment := a.liveSegment
	freeSegmentList := a.freeSegmentList

	for liveSegment != nil {
		nextSegment := liveSegment.link()

		buffer := liveSegment.buffer()
		if isPointerInBuffer(frameData, buffer, liveSegment.allocatedSize) {
			allocatedSize := uintptr(frameData) - buffer
			if allocatedSize == 0 {
				// The whole segment is popped, add it to the free list
				liveSegment.setLink(freeSegmentList)
				liveSegment.allocatedSize = 0
				freeSegmentList = liveSegment

				liveSegment = nextSegment
			} else {
				liveSegment.allocatedSize = allocatedSize
			}

			break
		}

		// The frame is further down the live list, this whole segment
		// goes back to the free list
		liveSegment.setLink(freeSegmentList)
		liveSegment.allocatedSize = 0
		freeSegmentList = liveSegment

		liveSegment = nextSegment
	}

	a.liveSegment = liveSegment
	a.freeSegmentList = freeSegmentList

	return true
}
