//go:build windows

package vmem

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

// PageSize implements Memory.
func (System) PageSize() uintptr {
	return uintptr(os.Getpagesize())
}

// Reserve implements Memory. Windows has first-class reservations:
// MEM_RESERVE claims address space with no backing pages.
func (System) Reserve(size uintptr) (unsafe.Pointer, error) {
	if size == 0 {
		return nil, ErrInvalidSize
	}

	addr, err := windows.VirtualAlloc(0, size, windows.MEM_RESERVE, windows.PAGE_NOACCESS)
	if err != nil {
		return nil, fmt.Errorf("%w: reserve %d bytes: %v", ErrOutOfMemory, size, err)
	}

	return unsafe.Pointer(addr), nil //nolint:gosec // addr is a valid allocation base
}

// Release implements Memory. MEM_RELEASE frees the entire reservation;
// the size must be zero per the VirtualFree contract.
func (System) Release(ptr unsafe.Pointer, size uintptr) error {
	_ = size
	return windows.VirtualFree(uintptr(ptr), 0, windows.MEM_RELEASE)
}

// Commit implements Memory.
func (System) Commit(ptr unsafe.Pointer, size uintptr, access Access) error {
	if size == 0 {
		return ErrInvalidSize
	}

	if _, err := windows.VirtualAlloc(uintptr(ptr), size, windows.MEM_COMMIT, pageProtect(access)); err != nil {
		return fmt.Errorf("%w: commit %d bytes: %v", ErrOutOfMemory, size, err)
	}

	return nil
}

// Decommit implements Memory.
func (System) Decommit(ptr unsafe.Pointer, size uintptr) error {
	if size == 0 {
		return ErrInvalidSize
	}

	return windows.VirtualFree(uintptr(ptr), size, windows.MEM_DECOMMIT)
}

// Alloc implements Memory.
func (System) Alloc(size uintptr, access Access) (unsafe.Pointer, error) {
	if size == 0 {
		return nil, ErrInvalidSize
	}

	addr, err := windows.VirtualAlloc(0, size, windows.MEM_RESERVE|windows.MEM_COMMIT, pageProtect(access))
	if err != nil {
		return nil, fmt.Errorf("%w: alloc %d bytes: %v", ErrOutOfMemory, size, err)
	}

	return unsafe.Pointer(addr), nil //nolint:gosec // addr is a valid allocation base
}

// Free implements Memory.
func (System) Free(ptr unsafe.Pointer, size uintptr) error {
	_ = size
	return windows.VirtualFree(uintptr(ptr), 0, windows.MEM_RELEASE)
}

func pageProtect(access Access) uint32 {
	// Windows page protection is an enumeration, not a bit set.
	switch {
	case access&AccessExec != 0 && access&AccessWrite != 0:
		return windows.PAGE_EXECUTE_READWRITE
	case access&AccessExec != 0 && access&AccessRead != 0:
		return windows.PAGE_EXECUTE_READ
	case access&AccessExec != 0:
		return windows.PAGE_EXECUTE
	case access&AccessWrite != 0:
		return windows.PAGE_READWRITE
	case access&AccessRead != 0:
		return windows.PAGE_READONLY
	default:
		return windows.PAGE_NOACCESS
	}
}
