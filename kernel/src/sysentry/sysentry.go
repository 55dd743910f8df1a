// Package sysentry implements the non-assembly half of the SYSCALL
// entry path: copying the user register snapshot into the current
// task's saved frame, the syscall-number/argument dispatch table, and
// the unknown-syscall sentinel.
//
// The assembly trampoline (not present in this module -- see
// kernel/archx86's package doc) does what Go cannot: swapping the
// segment base, switching onto the per-CPU syscall stack, and the
// final sysretq. Grounded on original_source's
// kernel/src/raw_syscall_handler.rs, whose naked-asm prologue captures
// exactly the registers this package's Enter expects to already be
// assembled into a *task.Frame by the time Go runs.
package sysentry

import (
	"defs"
	"pcpu"
	"task"
)

// TableSize bounds the syscall dispatch table; syscalls are numbered
// 0-24, but the table is sized generously the way the original's
// 256-entry SYS_CALL_TABLE was, so a new syscall number never requires
// resizing.
const TableSize = 256

// Handler is one syscall's implementation: six user-supplied arguments
// in, one 64-bit result out. Registered by kernel/syscalls.
type Handler func(args [6]uint64) uint64

// Table is the fixed-size syscall-number -> Handler table: dispatch
// looks up a function pointer in a fixed-size array indexed by
// syscall number.
type Table struct {
	fns [TableSize]Handler
}

// NewTable returns an empty dispatch table.
func NewTable() *Table { return &Table{} }

// Register installs h as the handler for syscall number num, panicking
// on an out-of-range number or a double registration -- both indicate
// a bootstrap-time programming error, not a runtime condition.
func (t *Table) Register(num uint64, h Handler) {
	if num >= TableSize {
		panic("sysentry: syscall number out of range")
	}
	if t.fns[num] != nil {
		panic("sysentry: syscall number already registered")
	}
	t.fns[num] = h
}

// Dispatch looks up and calls the handler for num, or returns
// defs.SysUnknown if none is registered -- unknown syscall numbers
// return an all-ones error code. The caller is responsible for
// special-casing defs.SysExit before calling Dispatch, since exit
// diverges and never reaches the normal return path.
func (t *Table) Dispatch(num uint64, args [6]uint64) uint64 {
	if num >= TableSize || t.fns[num] == nil {
		return defs.SysUnknown
	}
	return t.fns[num](args)
}

// Enter handles the register-snapshot half of syscall entry. snapshot holds the 15 GPRs
// plus IP/flags/RSP the assembly prologue has already assembled from
// the architectural syscall-return registers (RCX holds the return IP,
// R11 the return flags, RAX the syscall number -- see
// raw_syscall_handler.rs's naked_asm for exactly which registers the
// CPU's SYSCALL instruction leaves where). Enter records the user RSP
// in the per-CPU scratch slot, copies the snapshot into cur's saved
// frame with the user selectors fixed up, marks the CPU in-syscall, and
// extracts the syscall number and six arguments in dispatch calling
// convention (RDI, RSI, RDX, R10, R8, R9 -- R10 rather than RCX, since
// RCX is clobbered by the SYSCALL instruction itself).
func Enter(pc *pcpu.Record, cur *task.Task, snapshot *task.Frame) (num uint64, args [6]uint64) {
	pc.SetSyscallScratch(snapshot.RSP)

	*cur.Frame = *snapshot
	cur.Frame.CS = task.UserCS
	cur.Frame.SS = task.UserSS
	pc.SetInSyscall(true)

	num = cur.Frame.RAX
	args = [6]uint64{
		cur.Frame.RDI,
		cur.Frame.RSI,
		cur.Frame.RDX,
		cur.Frame.R10,
		cur.Frame.R8,
		cur.Frame.R9,
	}
	return num, args
}

// Return records ret in the saved frame's return-value register and
// clears the in-syscall flag, the Go-side half of syscall return. The
// assembly trampoline restores the user RSP from the scratch slot,
// swaps the segment base back, and executes sysretq; none of that is
// modeled here.
func Return(pc *pcpu.Record, cur *task.Task, ret uint64) *task.Frame {
	cur.Frame.RAX = ret
	pc.SetInSyscall(false)
	return cur.Frame
}
