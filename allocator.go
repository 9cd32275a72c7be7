package arenago

import "unsafe"

// Allocator is the uniform contract shared by every variant.
//
// Allocate returns nil on failure. Deallocate is accepted for
// interoperability but is always a no-op: memory is returned in bulk by
// resetting a linear allocator, popping a frame, or releasing the
// allocator. IsOwnerOf tracks the logical extent, not the physical one:
// pointers handed out before a reset or pop are no longer owned even
// though the bytes may still be mapped.
type Allocator interface {
	Allocate(size, alignment uintptr) unsafe.Pointer
	Deallocate(ptr unsafe.Pointer, size uintptr)
	Reallocate(oldPtr unsafe.Pointer, oldSize, newSize, alignment uintptr) unsafe.Pointer
	IsOwnerOf(ptr unsafe.Pointer) bool
}

// reallocateFunc is the reallocation entry point stored on every
// allocator instance at construction. Reallocate is the hot path; each
// concrete Reallocate method calls the stored function value directly
// instead of dispatching through the interface method table.
type reallocateFunc func(a Allocator, oldPtr unsafe.Pointer, oldSize, newSize, alignment uintptr) unsafe.Pointer
