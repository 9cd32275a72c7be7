//go:build unix

package vmem

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PageSize implements Memory.
func (System) PageSize() uintptr {
	return uintptr(os.Getpagesize())
}

// Reserve implements Memory. The range is mapped PROT_NONE so it
// occupies address space without consuming backing memory.
func (System) Reserve(size uintptr) (unsafe.Pointer, error) {
	if size == 0 {
		return nil, ErrInvalidSize
	}

	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("%w: reserve %d bytes: %v", ErrOutOfMemory, size, err)
	}

	return unsafe.Pointer(&data[0]), nil
}

// Release implements Memory.
func (System) Release(ptr unsafe.Pointer, size uintptr) error {
	return unix.Munmap(unsafe.Slice((*byte)(ptr), size))
}

// Commit implements Memory. Demand-paged kernels have no first-class
// commit, so commit is a protection change: pages are backed lazily on
// first touch.
func (System) Commit(ptr unsafe.Pointer, size uintptr, access Access) error {
	if size == 0 {
		return ErrInvalidSize
	}

	if err := unix.Mprotect(unsafe.Slice((*byte)(ptr), size), prot(access)); err != nil {
		return fmt.Errorf("%w: commit %d bytes: %v", ErrOutOfMemory, size, err)
	}

	return nil
}

// Decommit implements Memory. The pages are handed back with an
// advisory discard hint and then protected PROT_NONE so stray access
// faults instead of silently re-paging the range back in.
func (System) Decommit(ptr unsafe.Pointer, size uintptr) error {
	if size == 0 {
		return ErrInvalidSize
	}

	data := unsafe.Slice((*byte)(ptr), size)

	if err := unix.Madvise(data, unix.MADV_FREE); err != nil {
		// MADV_FREE needs a recent kernel; MADV_DONTNEED is the
		// portable discard. EINVAL from either is non-fatal, the hint
		// is advisory.
		if err = unix.Madvise(data, unix.MADV_DONTNEED); err != nil && err != unix.EINVAL {
			return fmt.Errorf("vmem: decommit %d bytes: %w", size, err)
		}
	}

	return unix.Mprotect(data, unix.PROT_NONE)
}

// Alloc implements Memory.
func (System) Alloc(size uintptr, access Access) (unsafe.Pointer, error) {
	if size == 0 {
		return nil, ErrInvalidSize
	}

	data, err := unix.Mmap(-1, 0, int(size), prot(access), unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("%w: alloc %d bytes: %v", ErrOutOfMemory, size, err)
	}

	return unsafe.Pointer(&data[0]), nil
}

// Free implements Memory.
func (System) Free(ptr unsafe.Pointer, size uintptr) error {
	return unix.Munmap(unsafe.Slice((*byte)(ptr), size))
}

func prot(access Access) int {
	p := unix.PROT_NONE
	if access&AccessRead != 0 {
		p |= unix.PROT_READ
	}
	if access&AccessWrite != 0 {
		p |= unix.PROT_WRITE
	}
	if access&AccessExec != 0 {
		p |= unix.PROT_EXEC
	}
	return p
}
