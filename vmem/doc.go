// Package vmem provides the virtual memory layer the allocators are
// built on: reserving address space, committing and decommitting pages,
// and one-step anonymous allocation.
//
// # Overview
//
// The allocators never talk to the operating system directly. They hold
// a Memory implementation and obtain the page size from it, so hosts
// with unusual virtual memory setups (custom page sizes, sandboxed
// syscalls, instrumented test harnesses) can supply their own.
//
//	vm := vmem.Default()
//	ptr, err := vm.Reserve(1 << 20)       // address space, no access
//	err = vm.Commit(ptr, vm.PageSize(), vmem.AccessReadWrite)
//	err = vm.Decommit(ptr, vm.PageSize()) // pages may be reclaimed
//	err = vm.Release(ptr, 1<<20)
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2) with PROT_NONE reservations.
//     Commit and decommit are expressed with mprotect(2) plus an
//     advisory madvise(2) discard hint, since commit is not a
//     first-class kernel concept on demand-paged systems. Decommitted
//     ranges are protected PROT_NONE so stray access faults instead of
//     silently re-paging the range back in.
//   - Windows: VirtualAlloc/VirtualFree with MEM_RESERVE, MEM_COMMIT,
//     MEM_DECOMMIT and MEM_RELEASE, which are first-class there.
//
// # Thread Safety
//
// The System implementation is stateless and safe for concurrent use.
// Callers coordinate access to the address ranges themselves.
package vmem
