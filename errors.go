package arenago

import "errors"

var (
	// ErrAlreadyInitialized is returned when Initialize is called on an
	// allocator that is already initialized.
	ErrAlreadyInitialized = errors.New("arenago: allocator already initialized")
	// ErrNotInitialized is returned when an operation requires an
	// initialized allocator.
	ErrNotInitialized = errors.New("arenago: allocator not initialized")
	// ErrInvalidBuffer is returned when a caller-provided buffer is nil,
	// empty, too small, or misaligned.
	ErrInvalidBuffer = errors.New("arenago: invalid buffer")
	// ErrInvalidSize is returned when a size argument is out of range
	// for the allocator.
	ErrInvalidSize = errors.New("arenago: invalid size")
	// ErrOutOfMemory is returned when a frame record cannot be
	// allocated.
	ErrOutOfMemory = errors.New("arenago: out of memory")
	// ErrLiveFrame is returned when Release is called while a frame is
	// still outstanding. The allocator refuses and leaks rather than
	// corrupt live allocations.
	ErrLiveFrame = errors.New("arenago: allocator has a live frame")
)
