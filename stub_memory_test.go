package arenago

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/hupe1980/arenago/vmem"
)

var errStubRefused = errors.New("stub: refused")

func vmemPageSize(t *testing.T) uintptr {
	t.Helper()
	return vmem.Default().PageSize()
}

// stubMemory wraps the host implementation and lets tests refuse
// individual operations or count them.
type stubMemory struct {
	vmem.Memory

	failReserve bool
	failCommit  bool
	failAlloc   bool

	commits   int
	decommits int
	allocs    int
	frees     int
}

func newStubMemory() *stubMemory {
	return &stubMemory{Memory: vmem.Default()}
}

func (m *stubMemory) Reserve(size uintptr) (unsafe.Pointer, error) {
	if m.failReserve {
		return nil, errStubRefused
	}
	return m.Memory.Reserve(size)
}

func (m *stubMemory) Commit(ptr unsafe.Pointer, size uintptr, access vmem.Access) error {
	if m.failCommit {
		return errStubRefused
	}
	m.commits++
	return m.Memory.Commit(ptr, size, access)
}

func (m *stubMemory) Decommit(ptr unsafe.Pointer, size uintptr) error {
	m.decommits++
	return m.Memory.Decommit(ptr, size)
}

func (m *stubMemory) Alloc(size uintptr, access vmem.Access) (unsafe.Pointer, error) {
	if m.failAlloc {
		return nil, errStubRefused
	}
	m.allocs++
	return m.Memory.Alloc(size, access)
}

func (m *stubMemory) Free(ptr unsafe.Pointer, size uintptr) error {
	m.frees++
	return m.Memory.Free(ptr, size)
}
