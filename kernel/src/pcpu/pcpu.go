// Package pcpu implements the per-CPU record: a segment-base-addressable
// structure holding the running CPU's current task, run queue depth,
// lifecycle state, and the scratch slots the SYSCALL and interrupt
// entry paths need before they can safely touch anything else.
//
// Grounded on the teacher's tinfo/tinfo.go Tnote_t and its
// Current/SetCurrent pair, which locate per-thread state through a
// patched Go runtime's g-pointer slot (runtime.Gptr/Setgptr). This
// kernel has no patched runtime to lean on, so the same "one pointer,
// reached through a register, never passed as an argument" idiom is
// rebuilt on top of kernel/archx86's GS-base primitives instead.
package pcpu

import (
	"sync/atomic"
	"unsafe"

	"archx86"
	"defs"
)

// Record is one CPU's per-CPU state. Only that CPU's own code ever
// dereferences fields directly; every other CPU goes through the
// atomic fields below -- per-CPU data is shared only by that CPU's own
// context, cross-CPU reads go through atomics.
type Record struct {
	ID          defs.CpuNum
	LocalAPICID uint32

	// Once-initialised at bootstrap, never mutated again.
	TSS *TSS
	GDT *GDT
	IDT *IDT

	// Atomics reachable from other CPUs and from this CPU's own
	// interrupt/syscall entry prologues before state is fully saved.
	syscallScratch uint64         // SYSCALL entry: saved user RSP
	kstackTop      atomic.Uint64  // mirrors TSS.RSP0
	currentFrame   unsafe.Pointer // *task.Frame of the running task, untyped here to avoid an import cycle
	inSyscall      atomic.Bool
	readyCount     atomic.Int64
	state          atomic.Int32
}

// TSS/GDT/IDT are opaque handles owned by kernel/archx86; pcpu only
// stores pointers to them, it does not know their layout.
type TSS struct {
	RSP0 uint64
	IST  [7]uint64
}

type GDT struct {
	Base  uintptr
	Limit uint16
}

type IDT struct {
	Base  uintptr
	Limit uint16
}

// New allocates a fresh, zeroed record for CPU id. The caller installs
// TSS/GDT/IDT and calls SetCurrent once bootstrap for this CPU reaches
// the point where interrupts may arrive.
func New(id defs.CpuNum, localAPICID uint32) *Record {
	r := &Record{ID: id, LocalAPICID: localAPICID}
	r.state.Store(int32(defs.CpuInitializing))
	return r
}

// Current returns the calling CPU's record, read through the GS-base
// register kernel/archx86 maintains. Panics if called before SetCurrent
// for this CPU -- exactly as tinfo.Current panics on a nil g-pointer,
// because both indicate the same bug: kernel code running before
// per-CPU state exists.
func Current() *Record {
	p := archx86.GSBase()
	if p == 0 {
		panic("pcpu: Current called with no per-CPU record installed")
	}
	return (*Record)(unsafe.Pointer(p))
}

// SetCurrent installs r as this CPU's record by loading its address
// into the GS-base MSR. Called exactly once per CPU, during that CPU's
// bootstrap.
func SetCurrent(r *Record) {
	if r == nil {
		panic("pcpu: SetCurrent(nil)")
	}
	if archx86.GSBase() != 0 {
		panic("pcpu: SetCurrent called twice on the same CPU")
	}
	archx86.SetGSBase(uintptr(unsafe.Pointer(r)))
}

// State/SetState expose the lifecycle atomic.
func (r *Record) State() defs.CpuState      { return defs.CpuState(r.state.Load()) }
func (r *Record) SetState(s defs.CpuState)  { r.state.Store(int32(s)) }

// InSyscall/SetInSyscall gate the SYSCALL entry prologue: until it is
// true, the entry path may only touch the scratch slot and must not
// take any lock. Kernel code otherwise runs with interrupts enabled;
// this flag marks the one window where that is not yet safe.
func (r *Record) InSyscall() bool        { return r.inSyscall.Load() }
func (r *Record) SetInSyscall(v bool)    { r.inSyscall.Store(v) }

// KstackTop/SetKstackTop mirror TSS.RSP0; kept as a plain atomic
// alongside the TSS field itself because the timer interrupt handler
// reads it without taking any lock.
func (r *Record) KstackTop() uint64       { return r.kstackTop.Load() }
func (r *Record) SetKstackTop(v uint64) {
	r.kstackTop.Store(v)
	if r.TSS != nil {
		r.TSS.RSP0 = v
	}
}

// ReadyCount is the depth of this CPU's local ready queue, published so
// other CPUs can make load-balancing and wakeup-target decisions
// without taking this CPU's run-queue lock.
func (r *Record) ReadyCount() int64        { return r.readyCount.Load() }
func (r *Record) SetReadyCount(n int64)    { r.readyCount.Store(n) }
func (r *Record) IncReadyCount()           { r.readyCount.Add(1) }
func (r *Record) DecReadyCount()           { r.readyCount.Add(-1) }

// SyscallScratch holds the user RSP saved by the SYSCALL entry stub
// before it switches onto the kernel stack -- the one slot the entry
// path may write before any other per-CPU state is touched.
func (r *Record) SyscallScratch() uint64     { return atomic.LoadUint64(&r.syscallScratch) }
func (r *Record) SetSyscallScratch(v uint64) { atomic.StoreUint64(&r.syscallScratch, v) }

// CurrentFrame/SetCurrentFrame store the running task's saved register
// frame as an untyped pointer; kernel/task and kernel/sched cast it to
// *task.Frame. Kept untyped here because task depends on pcpu (a task
// needs its assigned CPU's record) and pcpu cannot depend back on task
// without a cycle.
func (r *Record) CurrentFrame() unsafe.Pointer {
	return atomic.LoadPointer(&r.currentFrame)
}

func (r *Record) SetCurrentFrame(p unsafe.Pointer) {
	atomic.StorePointer(&r.currentFrame, p)
}
