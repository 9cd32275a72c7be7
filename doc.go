// Package arenago provides region-based memory allocators that carve
// allocations linearly out of pre-reserved byte buffers and release
// them in bulk.
//
// The allocators serve performance-sensitive callers that can amortize
// deallocation by discarding many objects at once: frame-scoped
// temporaries in simulation loops, per-request scratch pools in
// servers, per-phase working sets in batch pipelines. Freeing an
// individual object is always a no-op; memory comes back by resetting
// a linear allocator, popping a frame, or releasing the allocator.
//
// # Variants
//
// Five variants share one bump-pointer skeleton and differ along two
// axes: where the memory comes from, and how it is released.
//
//	LinearAllocator          caller buffer   whole-allocator Reset
//	VMemLinearAllocator      reserved VM     Reset decommits pages
//	StackFrameAllocator      owned segments  LIFO frames across segments
//	VMemStackFrameAllocator  reserved VM     LIFO frames in one range
//	Frame                    scoped owner of one outstanding frame
//
// # Quick Start
//
// Linear allocation out of a caller buffer:
//
//	buffer := make([]byte, 64*1024)
//	alloc, _ := arenago.NewLinear(buffer)
//
//	p := alloc.Allocate(128, 16) // 128 bytes, 16-byte aligned
//	...
//	alloc.Reset() // everything gone at once
//
// Frame-scoped scratch memory:
//
//	alloc, _ := arenago.NewStackFrame(1 << 20)
//	defer alloc.Release()
//
//	frame, err := alloc.PushFrame()
//	if err != nil { ... }
//	defer frame.Pop()
//
//	p := alloc.Allocate(512, 8) // freed in bulk by frame.Pop
//
// # Virtual Memory
//
// The VM-backed variants reserve their full capacity as inaccessible
// address space and commit pages lazily as allocations advance, so a
// large ceiling costs address space, not memory. They talk to the OS
// through the vmem package; supply your own vmem.Memory with
// WithMemory to intercept or replace the syscalls.
//
// # Reallocation
//
// Reallocate resizes the most recent allocation in place when it can
// and falls back to allocate-and-copy otherwise. It is the hot path:
// dispatch goes through a function value stored on the allocator, not
// the interface method table.
//
// # Thread Safety
//
// Allocators are single-owner: no operation may run concurrently with
// another on the same instance. Distinct instances are independent and
// may be used from different goroutines freely.
package arenago
