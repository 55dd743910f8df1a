package sysentry

import (
	"testing"

	"aspace"
	"defs"
	"frame"
	"gstack"
	"pcpu"
	"task"
	"vaddr"
)

func newTestTask(t *testing.T) *task.Task {
	t.Helper()
	frames := frame.NewSimulated(0, 64)
	ks := aspace.NewKernel(frames)
	vaset := vaddr.NewSet(vaddr.KernelWindow)
	st, err := gstack.New(ks, vaset, frames, 2, aspace.Present|aspace.Write)
	if err != 0 {
		t.Fatalf("gstack.New: %v", err)
	}
	return task.NewKernel(1, 0x1, 0x2, 0, st)
}

func TestEnterExtractsSyscallNumberAndArgs(t *testing.T) {
	pc := pcpu.New(0, 0)
	cur := newTestTask(t)

	snapshot := &task.Frame{
		RAX: defs.SysYield,
		RDI: 10, RSI: 20, RDX: 30, R10: 40, R8: 50, R9: 60,
		RIP: 0x4000, RSP: 0x7fff0000, RFLAGS: 0x202,
	}
	num, args := Enter(pc, cur, snapshot)

	if num != defs.SysYield {
		t.Fatalf("expected syscall number %d, got %d", defs.SysYield, num)
	}
	want := [6]uint64{10, 20, 30, 40, 50, 60}
	if args != want {
		t.Fatalf("expected args %v, got %v", want, args)
	}
}

func TestEnterMarksInSyscallAndFixesUpSelectors(t *testing.T) {
	pc := pcpu.New(0, 0)
	cur := newTestTask(t)
	snapshot := &task.Frame{RAX: defs.SysYield, CS: 0xbad, SS: 0xbad, RSP: 0x1234}

	if pc.InSyscall() {
		t.Fatal("should not start in-syscall")
	}
	Enter(pc, cur, snapshot)
	if !pc.InSyscall() {
		t.Fatal("Enter should set the in-syscall flag")
	}
	if cur.Frame.CS != task.UserCS || cur.Frame.SS != task.UserSS {
		t.Fatalf("Enter should fix up the saved frame's selectors to the user values, got CS=%#x SS=%#x", cur.Frame.CS, cur.Frame.SS)
	}
}

func TestEnterRecordsUserRSPInScratch(t *testing.T) {
	pc := pcpu.New(0, 0)
	cur := newTestTask(t)
	snapshot := &task.Frame{RAX: defs.SysYield, RSP: 0xdeadbeef}

	Enter(pc, cur, snapshot)
	if pc.SyscallScratch() != 0xdeadbeef {
		t.Fatalf("expected the user RSP saved to the scratch slot, got %#x", pc.SyscallScratch())
	}
}

func TestReturnSetsResultAndClearsInSyscall(t *testing.T) {
	pc := pcpu.New(0, 0)
	cur := newTestTask(t)
	snapshot := &task.Frame{RAX: defs.SysYield}
	Enter(pc, cur, snapshot)

	f := Return(pc, cur, 0x42)
	if f.RAX != 0x42 {
		t.Fatalf("expected the return value in RAX, got %#x", f.RAX)
	}
	if pc.InSyscall() {
		t.Fatal("Return should clear the in-syscall flag")
	}
}

func TestTableDispatchesRegisteredHandler(t *testing.T) {
	tb := NewTable()
	tb.Register(defs.SysYield, func(args [6]uint64) uint64 { return 7 })
	if got := tb.Dispatch(defs.SysYield, [6]uint64{}); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
}

func TestTableDispatchUnknownReturnsSentinel(t *testing.T) {
	tb := NewTable()
	if got := tb.Dispatch(99, [6]uint64{}); got != defs.SysUnknown {
		t.Fatalf("expected the all-ones sentinel, got %#x", got)
	}
}

func TestTableRegisterOutOfRangePanics(t *testing.T) {
	tb := NewTable()
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for an out-of-range syscall number")
		}
	}()
	tb.Register(TableSize, func(args [6]uint64) uint64 { return 0 })
}

func TestTableRegisterTwicePanics(t *testing.T) {
	tb := NewTable()
	tb.Register(defs.SysYield, func(args [6]uint64) uint64 { return 0 })
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic on double registration")
		}
	}()
	tb.Register(defs.SysYield, func(args [6]uint64) uint64 { return 0 })
}
