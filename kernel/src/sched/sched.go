// Package sched implements the local per-CPU scheduler and the global
// scheduler: the per-CPU ready queue and the timer-interrupt-driven
// dispatch decision, plus the cross-CPU task table and round-robin
// spawn placement.
//
// Grounded on the teacher's proc package's run-queue handling (a task
// table keyed by pid, one run queue walked by the timer interrupt) and
// tinfo's "note" lifecycle flags, adapted to an explicit
// per-CPU-ready-queue-plus-current-slot model and a fully-specified
// ScheduleFromInterrupt algorithm. The teacher leans on a patched Go
// runtime to actually context-switch; here ScheduleFromInterrupt is a
// pure decision function over *task.Task and *task.Frame that the
// interrupt-entry assembly (kernel/interrupt) is expected to act on --
// the same split kernel/archx86 draws between decision and mechanism.
package sched

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"defs"
	"pcpu"
	"task"
)

// APIC is the subset of local-APIC control the scheduler needs:
// acknowledging the interrupt that invoked it, and poking another CPU
// to re-enter the scheduler. Grounded on original_source's
// apic::send_fixed_ipi/eoi; accepted as an interface here so tests can
// supply a fake and kernel/timer's LocalAPIC can supply the real x2APIC
// implementation without sched depending on either.
type APIC interface {
	EOI()
	SendIPI(targetAPICID uint32, vector uint8)
}

// RescheduleVector is the IPI vector whose handler does nothing but
// ensure the target CPU re-enters the scheduler.
const RescheduleVector uint8 = 0xfd

// CPU is one local scheduler: a FIFO ready queue plus a slot for the
// currently running task.
type CPU struct {
	mu      sync.Mutex
	ready   []*task.Task
	current *task.Task
	idle    *task.Task
	pc      *pcpu.Record
	apic    APIC
}

// NewCPU constructs a local scheduler bound to per-CPU record pc, using
// apic for EOI/IPI, with idle as the per-CPU idle task that halts in a
// loop whenever the ready queue is empty.
func NewCPU(pc *pcpu.Record, apic APIC, idle *task.Task) *CPU {
	idle.SetState(defs.Running)
	return &CPU{pc: pc, apic: apic, idle: idle, current: idle}
}

// Enqueue appends t to the ready queue and marks it Ready. Used both by
// Global.Spawn and by a wakeup path (kernel/ipc, kernel/timer) placing a
// previously Sleeping task back onto a CPU.
func (c *CPU) Enqueue(t *task.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t.SetState(defs.Ready)
	c.ready = append(c.ready, t)
	c.pc.IncReadyCount()
}

// Current returns the task presently recorded as running on this CPU.
func (c *CPU) Current() *task.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// ScheduleFromInterrupt pops the ready queue, requeues or drops the
// outgoing task depending on its state, marks the incoming task
// Running, and returns its frame for the interrupt trampoline to
// restore. savedSelector is the code selector found in the register
// snapshot the interrupt entry just pushed, checked here against
// corruption.
func (c *CPU) ScheduleFromInterrupt(savedSelector uint64) *task.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()

	if savedSelector != task.KernelCS && savedSelector != task.UserCS {
		panic("sched: corrupted saved code selector")
	}

	var next *task.Task
	if len(c.ready) > 0 {
		next = c.ready[0]
		c.ready = c.ready[1:]
		c.pc.DecReadyCount()
	}

	outgoing := c.current
	if next == nil {
		// Empty ready queue: the CPU returns to the pre-interrupt task,
		// which is how the idle task keeps the scheduler live.
		next = outgoing
	} else if outgoing != nil && outgoing != c.idle {
		switch outgoing.State() {
		case defs.Ready, defs.Running:
			outgoing.SetState(defs.Ready)
			c.ready = append(c.ready, outgoing)
			c.pc.IncReadyCount()
		case defs.Sleeping, defs.Zombie:
			// Pinned elsewhere: a waiter slot or the task table.
		}
	}

	next.SetState(defs.Running)
	c.current = next
	next.CPU = c.pc.ID

	c.pc.SetKstackTop(next.Frame.RSP)
	c.pc.SetCurrentFrame(framePointer(next.Frame))

	c.apic.EOI()
	return next.Frame
}

// Yield is the cooperative counterpart to ScheduleFromInterrupt: a task
// voluntarily gives up the CPU (e.g. blocking in IPC) without a timer
// interrupt having fired. The caller is responsible for having already
// set outgoing's state to Sleeping or Zombie before calling Yield; a
// still-Ready/Running task is requeued like any preempted task.
func (c *CPU) Yield(outgoing *task.Task) *task.Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	if outgoing == c.current && outgoing != c.idle {
		switch outgoing.State() {
		case defs.Ready, defs.Running:
			outgoing.SetState(defs.Ready)
			c.ready = append(c.ready, outgoing)
			c.pc.IncReadyCount()
		}
	}

	var next *task.Task
	if len(c.ready) > 0 {
		next = c.ready[0]
		c.ready = c.ready[1:]
		c.pc.DecReadyCount()
	} else {
		next = c.idle
	}
	next.SetState(defs.Running)
	c.current = next
	return next
}

// ReadyLen reports the current ready-queue depth, for tests and for
// Global.Spawn's "is this CPU Ready" round-robin decision.
func (c *CPU) ReadyLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ready)
}

// Global is the cross-CPU task table and spawn placement policy.
type Global struct {
	mu     sync.Mutex
	tasks  map[defs.Tid_t]*task.Task
	cpus   []*CPU
	nextID atomic.Uint64
	rrNext atomic.Uint64
}

// NewGlobal constructs the global scheduler over the given set of
// per-CPU local schedulers, in CPU-number order.
func NewGlobal(cpus []*CPU) *Global {
	return &Global{tasks: make(map[defs.Tid_t]*task.Task), cpus: cpus}
}

// NextID allocates a fresh, never-reused task id.
func (g *Global) NextID() defs.Tid_t {
	return defs.Tid_t(g.nextID.Add(1))
}

// Spawn records t in the table, round-robins an index across the CPUs
// currently in state Ready, pushes t onto that CPU's ready queue, and
// sends a reschedule IPI unless it placed the task on the caller's own
// CPU. If no CPU is Ready (early boot), falls back to placing it on
// currentCPU.
func (g *Global) Spawn(t *task.Task, currentCPU defs.CpuNum) {
	g.mu.Lock()
	g.tasks[t.ID] = t
	target := g.pickReadyCPULocked(currentCPU)
	g.mu.Unlock()

	target.Enqueue(t)
	if target.pc.ID != currentCPU {
		target.apic.SendIPI(target.pc.LocalAPICID, RescheduleVector)
	}
}

func (g *Global) pickReadyCPULocked(currentCPU defs.CpuNum) *CPU {
	n := len(g.cpus)
	for i := 0; i < n; i++ {
		idx := int((g.rrNext.Add(1) - 1)) % n
		c := g.cpus[idx]
		if c.pc.State() == defs.CpuReady {
			return c
		}
	}
	for _, c := range g.cpus {
		if c.pc.ID == currentCPU {
			return c
		}
	}
	return g.cpus[0]
}

// Lookup returns the task with the given id, if it is still in the
// table. A zombie stays in the table until Wait or Waitpid collects
// its exit code, or until kernel/syscalls' Exit removes one that
// nobody was waiting on when it exited.
func (g *Global) Lookup(id defs.Tid_t) (*task.Task, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[id]
	return t, ok
}

// Remove drops id from the table.
func (g *Global) Remove(id defs.Tid_t) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.tasks, id)
}

// Wait implements the waitpid half of the Zombie contract: if child is
// already a Zombie, collect its code and remove it from the
// table immediately; otherwise register parent as its waiter and block
// until Exit wakes it.
func (g *Global) Wait(parent *task.Task, childID defs.Tid_t) (code int, err defs.Err_t) {
	g.mu.Lock()
	child, ok := g.tasks[childID]
	g.mu.Unlock()
	if !ok {
		return 0, defs.ENOTFOUND
	}

	if child.State() == defs.Zombie {
		code = child.ExitCode()
		g.Remove(childID)
		return code, 0
	}
	if !child.RegisterWaiter(parent) {
		return 0, defs.EEXIST
	}
	code = child.CollectExitCode()
	g.Remove(childID)
	return code, 0
}

// Exit implements the non-assembly half of the exit path: transition t
// to Zombie with the given code and, if a waiter was
// already registered, return it so the caller can wake it on its CPU.
// Exit itself leaves t in the global table; removal is the caller's
// decision. kernel/syscalls' Exit removes t when no waiter was
// registered, and an explicit collect (Wait, or Waitpid's own zombie
// fast path) removes a zombie it collects.
func (g *Global) Exit(t *task.Task, code int) (waiter *task.Task) {
	return t.Exit(code)
}

// Wake implements the "wake a sleeping task" step every waiter
// discipline in this kernel ends with (IPC send/recv, waitpid,
// keyboard/mouse ISR): enqueue t on the CPU it last ran on and send a
// reschedule IPI unless that happens to be the caller's own CPU.
// Grounded on original_source's wake_task helper in
// syscall_handlers/mod.rs.
func (g *Global) Wake(t *task.Task, currentCPU defs.CpuNum) {
	target := g.cpuFor(t.CPU)
	target.Enqueue(t)
	if target.pc.ID != currentCPU {
		target.apic.SendIPI(target.pc.LocalAPICID, RescheduleVector)
	}
}

func (g *Global) cpuFor(n defs.CpuNum) *CPU {
	for _, c := range g.cpus {
		if c.pc.ID == n {
			return c
		}
	}
	return g.cpus[0]
}

// framePointer adapts a *task.Frame to the untyped pointer pcpu.Record
// stores its current-frame slot as (see pcpu.SetCurrentFrame's doc
// comment for why the type is erased at that boundary).
func framePointer(f *task.Frame) unsafe.Pointer { return unsafe.Pointer(f) }
