package task

import (
	"testing"

	"aspace"
	"defs"
	"frame"
	"gstack"
	"vaddr"
)

func newKernelStack(t *testing.T) (*aspace.AddressSpace, *frame.Map, *gstack.Stack) {
	t.Helper()
	frames := frame.NewSimulated(0, 64)
	as := aspace.NewKernel(frames)
	vaset := vaddr.NewSet(vaddr.KernelWindow)
	st, err := gstack.New(as, vaset, frames, 4, aspace.Present|aspace.Write)
	if err != 0 {
		t.Fatalf("gstack.New failed: %v", err)
	}
	return as, frames, st
}

func TestNewKernelTaskFrame(t *testing.T) {
	_, _, st := newKernelStack(t)
	tr := uintptr(0x1000)
	entry := uintptr(0x2000)
	tk := NewKernel(1, tr, entry, 0x3000, st)

	if tk.State() != defs.Initializing {
		t.Fatalf("new task should start Initializing, got %v", tk.State())
	}
	if tk.Frame.RIP != uint64(tr) {
		t.Fatalf("RIP should be the trampoline address")
	}
	if tk.Frame.RDI != uint64(entry) {
		t.Fatalf("entry function should be passed in RDI")
	}
	if tk.Frame.RSP != st.Top {
		t.Fatalf("RSP should be the top of the guarded stack")
	}
	if tk.Frame.RFLAGS&rflagsIF == 0 {
		t.Fatal("IF should be set in a fresh kernel task's flags")
	}
	if tk.Frame.CS != KernelCS || tk.Frame.SS != KernelSS {
		t.Fatal("kernel task should use kernel selectors")
	}
}

func TestStateTransitions(t *testing.T) {
	_, _, st := newKernelStack(t)
	tk := NewKernel(1, 0x1000, 0x2000, 0, st)
	tk.SetState(defs.Ready)
	tk.SetState(defs.Running)
	if tk.State() != defs.Running {
		t.Fatalf("expected Running, got %v", tk.State())
	}
}

func TestExitWithoutWaiterRecordsCode(t *testing.T) {
	_, _, st := newKernelStack(t)
	tk := NewKernel(1, 0x1000, 0x2000, 0, st)
	if w := tk.Exit(42); w != nil {
		t.Fatal("Exit should report no waiter when none was registered")
	}
	if tk.State() != defs.Zombie {
		t.Fatalf("expected Zombie, got %v", tk.State())
	}
	if tk.ExitCode() != 42 {
		t.Fatalf("expected exit code 42, got %d", tk.ExitCode())
	}
}

func TestExitWithWaiterReturnsIt(t *testing.T) {
	_, _, st1 := newKernelStack(t)
	_, _, st2 := newKernelStack(t)
	child := NewKernel(1, 0x1000, 0x2000, 0, st1)
	parent := NewKernel(2, 0x1000, 0x2000, 0, st2)

	if !child.RegisterWaiter(parent) {
		t.Fatal("first RegisterWaiter should succeed")
	}
	if child.RegisterWaiter(parent) {
		t.Fatal("second RegisterWaiter should fail: only one waiter slot")
	}

	w := child.Exit(7)
	if w != parent {
		t.Fatal("Exit should return the registered waiter")
	}
	if got := child.CollectExitCode(); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
}

func TestOwnedEndpointsAndServices(t *testing.T) {
	_, _, st := newKernelStack(t)
	tk := NewKernel(1, 0x1000, 0x2000, 0, st)
	tk.AddEndpoint(defs.Eid_t(1))
	tk.AddEndpoint(defs.Eid_t(2))
	tk.AddService("display")

	if eps := tk.Endpoints(); len(eps) != 2 {
		t.Fatalf("expected 2 owned endpoints, got %d", len(eps))
	}
	if svcs := tk.Services(); len(svcs) != 1 || svcs[0] != "display" {
		t.Fatalf("expected [display], got %v", svcs)
	}
}

func TestAccountingAccumulates(t *testing.T) {
	var a Accounting
	a.AddUser(100)
	a.AddSys(50)
	a.AddUser(25)
	u, s := a.Snapshot()
	if u != 125 || s != 50 {
		t.Fatalf("expected (125, 50), got (%d, %d)", u, s)
	}
}
