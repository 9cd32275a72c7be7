package arenago

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/arenago/vmem"
)

func TestVMemLinearAllocator_Initialize(t *testing.T) {
	pageSize := vmem.Default().PageSize()

	t.Run("valid size", func(t *testing.T) {
		a, err := NewVMemLinear(16 * pageSize)
		require.NoError(t, err)
		defer func() { require.NoError(t, a.Release()) }()

		assert.True(t, a.IsInitialized())
		assert.Equal(t, uintptr(0), a.AllocatedSize())
		assert.Equal(t, uintptr(0), a.CommittedSize())
	})

	t.Run("smaller than one page", func(t *testing.T) {
		_, err := NewVMemLinear(pageSize - 1)
		assert.ErrorIs(t, err, ErrInvalidSize)
	})

	t.Run("double initialization", func(t *testing.T) {
		a, err := NewVMemLinear(pageSize)
		require.NoError(t, err)
		defer func() { require.NoError(t, a.Release()) }()

		assert.ErrorIs(t, a.Initialize(pageSize), ErrAlreadyInitialized)
	})

	t.Run("reserve failure leaves the allocator uninitialized", func(t *testing.T) {
		vm := newStubMemory()
		vm.failReserve = true

		_, err := NewVMemLinear(pageSize, WithMemory(vm))
		require.Error(t, err)

		a := &VMemLinearAllocator{vm: vm}
		require.Error(t, a.Initialize(pageSize))
		assert.False(t, a.IsInitialized())
	})

	t.Run("zero value is uninitialized", func(t *testing.T) {
		var a VMemLinearAllocator
		assert.False(t, a.IsInitialized())
		assert.Nil(t, a.Allocate(1, 1))
		assert.Nil(t, a.Reallocate(nil, 0, 1, 1))
	})
}

func TestVMemLinearAllocator_CommitGrowth(t *testing.T) {
	pageSize := vmem.Default().PageSize()
	bufferSize := 16 * pageSize

	a, err := NewVMemLinear(bufferSize)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Release()) }()

	p := a.Allocate(2, 1)
	require.NotNil(t, p)
	assert.Equal(t, uintptr(2), a.AllocatedSize())
	assert.Equal(t, pageSize, a.CommittedSize())

	// Committed memory must be writable.
	data := unsafe.Slice((*byte)(p), 2)
	data[0], data[1] = 0xcd, 0xcd

	q := a.Allocate(bufferSize-2, 1)
	require.NotNil(t, q)
	assert.Equal(t, bufferSize, a.AllocatedSize())
	assert.Equal(t, bufferSize, a.CommittedSize())

	assert.Nil(t, a.Allocate(1, 1))
}

func TestVMemLinearAllocator_CommitMonotonic(t *testing.T) {
	pageSize := vmem.Default().PageSize()

	a, err := NewVMemLinear(64 * pageSize)
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Release()) }()

	prev := a.CommittedSize()
	for i := 0; i < 32; i++ {
		require.NotNil(t, a.Allocate(pageSize/2, 1))

		committed := a.CommittedSize()
		assert.GreaterOrEqual(t, committed, prev)
		assert.Zero(t, committed%pageSize)
		prev = committed
	}
}

func TestVMemLinearAllocator_Reset(t *testing.T) {
	pageSize := vmem.Default().PageSize()

	vm := newStubMemory()
	a, err := NewVMemLinear(16*pageSize, WithMemory(vm))
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Release()) }()

	p := a.Allocate(2, 1)
	require.NotNil(t, p)

	require.NoError(t, a.Reset())
	assert.Equal(t, uintptr(0), a.AllocatedSize())
	assert.Equal(t, uintptr(0), a.CommittedSize())
	assert.Equal(t, 1, vm.decommits)

	// Ownership is revoked by the reset.
	assert.False(t, a.IsOwnerOf(p))

	// The next allocation commits again from scratch.
	q := a.Allocate(2, 1)
	require.NotNil(t, q)
	assert.Equal(t, pageSize, a.CommittedSize())

	// Resetting decommits the new page; a further reset of the now
	// empty allocator does not touch the VM layer.
	require.NoError(t, a.Reset())
	assert.Equal(t, 2, vm.decommits)
	require.NoError(t, a.Reset())
	assert.Equal(t, 2, vm.decommits)
}

func TestVMemLinearAllocator_CommitFailure(t *testing.T) {
	pageSize := vmem.Default().PageSize()

	vm := newStubMemory()
	a, err := NewVMemLinear(16*pageSize, WithMemory(vm))
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Release()) }()

	require.NotNil(t, a.Allocate(8, 1))

	// A refused commit fails the allocation and leaves every cursor
	// untouched.
	vm.failCommit = true
	assert.Nil(t, a.Allocate(2*pageSize, 1))
	assert.Equal(t, uintptr(8), a.AllocatedSize())
	assert.Equal(t, pageSize, a.CommittedSize())

	// Allocations within the committed page still succeed.
	assert.NotNil(t, a.Allocate(8, 1))

	vm.failCommit = false
	assert.NotNil(t, a.Allocate(2*pageSize, 1))
}

func TestVMemLinearAllocator_Reallocate(t *testing.T) {
	pageSize := vmem.Default().PageSize()

	t.Run("grow in place commits", func(t *testing.T) {
		a, err := NewVMemLinear(16 * pageSize)
		require.NoError(t, err)
		defer func() { require.NoError(t, a.Release()) }()

		p := a.Allocate(8, 1)
		require.NotNil(t, p)

		q := a.Reallocate(p, 8, 4*pageSize, 1)
		assert.Equal(t, p, q)
		assert.Equal(t, 4*pageSize, a.AllocatedSize())
		assert.Equal(t, 4*pageSize, a.CommittedSize())
	})

	t.Run("shrink in place", func(t *testing.T) {
		a, err := NewVMemLinear(16 * pageSize)
		require.NoError(t, err)
		defer func() { require.NoError(t, a.Release()) }()

		p := a.Allocate(64, 1)
		require.NotNil(t, p)

		q := a.Reallocate(p, 64, 32, 1)
		assert.Equal(t, p, q)
		assert.Equal(t, uintptr(32), a.AllocatedSize())
	})

	t.Run("relocation copies", func(t *testing.T) {
		a, err := NewVMemLinear(16 * pageSize)
		require.NoError(t, err)
		defer func() { require.NoError(t, a.Release()) }()

		p := a.Allocate(4, 1)
		require.NotNil(t, p)
		copy(unsafe.Slice((*byte)(p), 4), []byte{9, 8, 7, 6})

		require.NotNil(t, a.Allocate(4, 1))

		q := a.Reallocate(p, 4, 8, 1)
		require.NotNil(t, q)
		require.NotEqual(t, p, q)
		assert.Equal(t, []byte{9, 8, 7, 6}, unsafe.Slice((*byte)(q), 4))
	})
}

func TestVMemLinearAllocator_Release(t *testing.T) {
	pageSize := vmem.Default().PageSize()

	a, err := NewVMemLinear(pageSize)
	require.NoError(t, err)

	require.NotNil(t, a.Allocate(8, 1))

	require.NoError(t, a.Release())
	assert.False(t, a.IsInitialized())
	assert.ErrorIs(t, a.Release(), ErrNotInitialized)
	assert.ErrorIs(t, a.Reset(), ErrNotInitialized)

	// The allocator is reusable after a release.
	require.NoError(t, a.Initialize(pageSize))
	assert.NotNil(t, a.Allocate(8, 1))
	require.NoError(t, a.Release())
}

func BenchmarkVMemLinearAllocator_Allocate(b *testing.B) {
	a, err := NewVMemLinear(1 << 26)
	if err != nil {
		b.Fatal(err)
	}
	defer a.Release() //nolint:errcheck

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if a.Allocate(64, 8) == nil {
			if rerr := a.Reset(); rerr != nil {
				b.Fatal(rerr)
			}
		}
	}
}
