package arenago

import (
	"unsafe"

	"github.com/hupe1980/arenago/internal/align"
)

// allocateFromBuffer carves one allocation out of the half-open range
// [buffer, buffer+bufferSize) at the allocatedSize cursor. It returns
// the allocation start, the advanced cursor, and the offset of the
// allocation relative to buffer (recorded for in-place reallocation).
// On failure it returns nil and the inputs are untouched; the caller
// writes state back only on success.
//
// alignment must be a nonzero power of two; the caller validates.
func allocateFromBuffer(buffer, bufferSize, allocatedSize, size, alignment uintptr) (ptr unsafe.Pointer, newAllocatedSize, lastAllocationOffset uintptr) {
	head := buffer + allocatedSize
	start := align.To(head, alignment)

	if start < head {
		// Alignment made us overflow
		return nil, 0, 0
	}

	end := start + size

	if end <= start {
		// Requested size made us overflow
		return nil, 0, 0
	}

	consumed := end - head
	newAllocatedSize = allocatedSize + consumed

	if newAllocatedSize > bufferSize {
		// Out of memory
		return nil, 0, 0
	}

	return unsafe.Pointer(start), newAllocatedSize, start - buffer //nolint:gosec // unsafe is required for the bump primitive
}

// canSatisfyAllocation reports whether allocateFromBuffer would succeed
// with the same arguments, without touching any state.
func canSatisfyAllocation(buffer, bufferSize, allocatedSize, size, alignment uintptr) bool {
	head := buffer + allocatedSize
	start := align.To(head, alignment)

	if start < head {
		return false
	}

	end := start + size

	if end <= start {
		return false
	}

	return allocatedSize+(end-head) <= bufferSize
}

// isPointerInBuffer reports whether ptr lies within the first
// allocatedSize bytes of buffer.
func isPointerInBuffer(ptr unsafe.Pointer, buffer, allocatedSize uintptr) bool {
	p := uintptr(ptr)
	return p >= buffer && p < buffer+allocatedSize
}

// memcopy copies n bytes from src to dst. The ranges must not overlap.
func memcopy(dst, src unsafe.Pointer, n uintptr) {
	if n == 0 || dst == nil || src == nil {
		return
	}
	copy(unsafe.Slice((*byte)(dst), n), unsafe.Slice((*byte)(src), n))
}
