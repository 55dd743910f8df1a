// Package task implements the task object and its saved register
// frame: construction of kernel and user tasks, the lifecycle state
// machine, per-task accounting, and the bookkeeping an exiting task
// needs to tear down (owned IPC endpoints, owned service names, the
// single exit-code waiter slot).
//
// Grounded on the teacher's tinfo/tinfo.go Tnote_t (per-thread note,
// lifecycle flags, a single waiter channel) and accnt/accnt.go
// Accnt_t (user/system nanosecond counters, snapshot-under-lock
// Fetch). tinfo's Alive/Killed/Isdoomed booleans are collapsed here
// into a single defs.TaskState, since this kernel has no POSIX signal
// delivery for Killed to distinguish.
package task

import (
	"sync"
	"sync/atomic"

	"aspace"
	"defs"
	"gstack"
)

// Frame is the saved register state for one task, in the order the
// interrupt and SYSCALL entry paths push/restore it: 15 general-purpose
// registers, then the architectural return state.
type Frame struct {
	R15, R14, R13, R12, R11, R10, R9, R8 uint64
	RBP, RDI, RSI, RDX, RCX, RBX, RAX    uint64

	RIP    uint64
	CS     uint64
	RFLAGS uint64
	RSP    uint64
	SS     uint64

	CR3 uint64
}

// Selector values recognised as valid by the scheduler's corruption
// check: the incoming saved code selector must be either the kernel or
// the user value.
const (
	KernelCS uint64 = 0x08
	KernelSS uint64 = 0x10
	UserCS   uint64 = 0x1b // RPL 3
	UserSS   uint64 = 0x23 // RPL 3
)

const rflagsIF uint64 = 1 << 9

// Accounting mirrors the teacher's Accnt_t: nanosecond counters for
// user and system time, safe to add to from any CPU and to snapshot
// under lock.
type Accounting struct {
	mu     sync.Mutex
	UserNs int64
	SysNs  int64
}

func (a *Accounting) AddUser(deltaNs int64) { atomic.AddInt64(&a.UserNs, deltaNs) }
func (a *Accounting) AddSys(deltaNs int64)  { atomic.AddInt64(&a.SysNs, deltaNs) }

// Snapshot returns a consistent copy of both counters.
func (a *Accounting) Snapshot() (userNs, sysNs int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return atomic.LoadInt64(&a.UserNs), atomic.LoadInt64(&a.SysNs)
}

// Task is one schedulable unit: a saved frame, an address space, a
// guarded stack, and the bookkeeping needed to clean up on exit.
type Task struct {
	ID     defs.Tid_t
	Kind   defs.TaskKind
	Parent defs.Tid_t

	mu    sync.Mutex
	state atomic.Int32

	Frame *Frame
	Addr  *aspace.AddressSpace // shared kernel address space for a KernelTask
	Stack *gstack.Stack
	CPU   defs.CpuNum

	Accnt Accounting

	ownedEndpoints []defs.Eid_t
	ownedServices  []string

	exitCode int
	waiter   *Task // the task blocked in Waitpid on this one, if any
	waitCh   chan int
}

// New constructs a task in state Initializing with the given frame,
// stack, and (possibly nil, for a kernel task) address space. id is
// assigned by the caller (kernel/sched owns the id sequence).
func New(id defs.Tid_t, kind defs.TaskKind, parent defs.Tid_t, frame *Frame, addr *aspace.AddressSpace, stack *gstack.Stack) *Task {
	t := &Task{
		ID:     id,
		Kind:   kind,
		Parent: parent,
		Frame:  frame,
		Addr:   addr,
		Stack:  stack,
		waitCh: make(chan int, 1),
	}
	t.state.Store(int32(defs.Initializing))
	return t
}

// NewKernel builds a kernel task whose frame's instruction pointer is
// trampoline, a small assembly stub that reads the entry function
// pointer out of argReg (conventionally RDI) and calls it. entry is
// stashed in RDI.
func NewKernel(id defs.Tid_t, trampoline uintptr, entry uintptr, kernelCR3 uint64, stack *gstack.Stack) *Task {
	f := &Frame{
		RIP:    uint64(trampoline),
		RDI:    uint64(entry),
		CS:     KernelCS,
		SS:     KernelSS,
		RFLAGS: rflagsIF,
		RSP:    stack.Top,
		CR3:    kernelCR3,
	}
	return New(id, defs.KernelTask, defs.NoTask, f, nil, stack)
}

// NewUser builds a user task whose frame targets ring 3, with arg
// delivered in RDI, the first-argument register.
func NewUser(id defs.Tid_t, parent defs.Tid_t, entryIP, userRSP uint64, addr *aspace.AddressSpace, stack *gstack.Stack, arg uint64) *Task {
	f := &Frame{
		RIP:    entryIP,
		RDI:    arg,
		CS:     UserCS,
		SS:     UserSS,
		RFLAGS: rflagsIF,
		RSP:    userRSP,
		CR3:    addr.CR3(),
	}
	return New(id, defs.UserTask, parent, f, addr, stack)
}

// State/SetState expose the lifecycle atomic. Legal transitions are
// Initializing->Ready (spawn), Ready->Running (dispatch), and
// Running->{Ready,Sleeping,Zombie}. Callers (kernel/sched) are
// responsible for only making legal transitions; State itself does not
// enforce the state machine, matching the teacher's tinfo.Tnote_t,
// which likewise trusts its callers.
func (t *Task) State() defs.TaskState     { return defs.TaskState(t.state.Load()) }
func (t *Task) SetState(s defs.TaskState) { t.state.Store(int32(s)) }

// AddEndpoint/RemoveEndpoint/Endpoints track the IPC endpoint ids this
// task owns, so Exit can close all of them on task cleanup.
func (t *Task) AddEndpoint(id defs.Eid_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ownedEndpoints = append(t.ownedEndpoints, id)
}

func (t *Task) Endpoints() []defs.Eid_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]defs.Eid_t, len(t.ownedEndpoints))
	copy(out, t.ownedEndpoints)
	return out
}

// AddService/Services track service names this task has registered, so
// Exit can unregister them.
func (t *Task) AddService(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ownedServices = append(t.ownedServices, name)
}

func (t *Task) Services() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.ownedServices))
	copy(out, t.ownedServices)
	return out
}

// RegisterWaiter installs w as the single task allowed to collect this
// task's exit code: zombie tasks stay in the global table until either
// a waiter collects the exit code or nobody ever registered one. Only
// one waiter is ever supported, matching the single-slot-waiter
// discipline used throughout this kernel.
func (t *Task) RegisterWaiter(w *Task) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.waiter != nil {
		return false
	}
	t.waiter = w
	return true
}

// Exit records the exit code, transitions to Zombie, and reports
// whether a waiter was already registered (the caller uses this to
// decide whether to wake that waiter or remove the task from the table
// immediately because nobody is waiting).
func (t *Task) Exit(code int) (waiter *Task) {
	t.mu.Lock()
	t.exitCode = code
	waiter = t.waiter
	t.mu.Unlock()
	t.SetState(defs.Zombie)
	t.waitCh <- code
	return waiter
}

// ExitCode returns the code Exit recorded; only meaningful once State()
// reports Zombie.
func (t *Task) ExitCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode
}

// CollectExitCode blocks (in the test/simulation sense: a buffered
// channel receive, not a real cooperative-scheduler sleep) until Exit
// has been called, and returns the code.
func (t *Task) CollectExitCode() int {
	code := <-t.waitCh
	t.waitCh <- code // leave it available for a second read (e.g. diagnostics)
	return code
}
