// Package gstack implements the guarded kernel/user stack: a
// contiguous run of mapped stack pages preceded by one deliberately
// unmapped guard page, so a stack overflow faults instead of silently
// corrupting whatever lives below it.
//
// Grounded on the teacher's vm/as.go notion of a "perms == 0" guard
// mapping (isguard in Pagefault) -- biscuit leaves such a page out of
// the page table entirely rather than marking it not-writable, and a
// fault against it is treated as distinct from an ordinary user fault.
// gstack reuses exactly that: the guard page is simply never mapped.
package gstack

import (
	"aspace"
	"defs"
	"frame"
	"vaddr"
)

// Stack is one guarded stack: npages of usable, mapped memory plus one
// unmapped guard page immediately below it (stacks grow down).
type Stack struct {
	Base      uint64 // first byte of the lowest usable page
	Top       uint64 // one past the last usable byte; initial RSP
	GuardPage uint64 // the unmapped page directly below Base
	npages    uint64
}

// New reserves npages+1 pages of virtual address space from vaset,
// leaves the lowest page unmapped as a guard, maps the rest from frames
// with the given leaf flags, and returns the resulting Stack.
//
// as is the address space the stack lives in: the kernel's own for a
// kernel task, a user task's own for a user task -- both kinds of task
// get a guarded stack.
func New(as *aspace.AddressSpace, vaset *vaddr.Set, frames *frame.Map, npages uint64, flags aspace.PTE) (*Stack, defs.Err_t) {
	if npages == 0 {
		return nil, defs.EINVAL
	}
	start, ok := vaset.Reserve(npages + 1)
	if !ok {
		return nil, defs.ENOHEAP
	}

	guard := start
	base := start + frame.PageSize

	mapped := uint64(0)
	for i := uint64(0); i < npages; i++ {
		pa, ok := frames.AllocateFrame(frame.KernelStack)
		if !ok {
			unwind(as, base, mapped, frames)
			vaset.Release(start, (npages+1)*frame.PageSize)
			return nil, defs.ENOMEM
		}
		va := base + i*frame.PageSize
		if err := as.Map(va, pa, flags); err != 0 {
			frames.FreeFrame(pa, frame.KernelStack)
			unwind(as, base, mapped, frames)
			vaset.Release(start, (npages+1)*frame.PageSize)
			return nil, err
		}
		mapped++
	}

	return &Stack{
		Base:      base,
		Top:       base + npages*frame.PageSize,
		GuardPage: guard,
		npages:    npages,
	}, 0
}

func unwind(as *aspace.AddressSpace, base uint64, mapped uint64, frames *frame.Map) {
	for i := uint64(0); i < mapped; i++ {
		va := base + i*frame.PageSize
		if pa, _, ok := as.Unmap(va); ok {
			frames.FreeFrame(pa, frame.KernelStack)
		}
	}
}

// IsGuardFault reports whether addr falls within s's guard page -- the
// check a page-fault handler makes to distinguish "this task overflowed
// its stack" (kill the task) from an ordinary bad user access.
func (s *Stack) IsGuardFault(addr uint64) bool {
	return addr >= s.GuardPage && addr < s.GuardPage+frame.PageSize
}

// Free releases every mapped page back to frames and the reservation
// (guard page included) back to vaset.
func (s *Stack) Free(as *aspace.AddressSpace, vaset *vaddr.Set, frames *frame.Map) {
	for i := uint64(0); i < s.npages; i++ {
		va := s.Base + i*frame.PageSize
		if pa, _, ok := as.Unmap(va); ok {
			frames.FreeFrame(pa, frame.KernelStack)
		}
	}
	vaset.Release(s.GuardPage, (s.npages+1)*frame.PageSize)
}
