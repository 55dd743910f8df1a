// Package boot implements the bootstrap sequence: bring up the
// physical frame manager and kernel address space over the RAM the
// platform reports, build each CPU's per-CPU record and local
// scheduler, calibrate the timer, wire every syscall handler into a
// dispatch table, seed display ownership, and spawn the idle and
// first user tasks.
//
// Grounded on original_source's kernel/src/main.rs: kernel_main (which
// sets up the framebuffer, logger, and physical memory once) handing
// off to init_bsp (GDT/IDT/APIC/timer/syscall-table/run-queue setup,
// then the idle and init-module tasks), and ap_entry/init_ap repeating
// the per-CPU half of that for every additional processor. Start below
// folds both into one call: kernel/sched's global scheduler takes its
// full CPU roster at construction with no way to add one later, so
// every CPU info.CPUs describes -- the bootstrap processor and every
// AP -- is brought up before that roster is built, rather than one at
// a time as real APs would announce themselves.
//
// The GDT/IDT/TSS themselves -- real x86 descriptor tables loaded with
// LGDT/LIDT/LTR -- are built by platform-specific glue outside this
// module, the same boundary kernel/archx86's package doc already
// draws ("every function here has no body; implemented in a
// corresponding .s file"): Info carries them in already constructed,
// the way main.rs itself receives a bootloader-prepared environment
// rather than building firmware tables by hand.
package boot

import (
	"archx86"
	"aspace"
	"defs"
	"display"
	"elfload"
	"frame"
	"gstack"
	"klimits"
	"pcpu"
	"sched"
	"sysentry"
	"syscalls"
	"task"
	"timer"
	"vaddr"
)

// CPUInfo describes one CPU's already-constructed descriptor tables and
// identity, known to the platform before boot.Start runs. Index 0 in
// Info.CPUs is the bootstrap processor.
type CPUInfo struct {
	LocalAPICID uint32
	GDT         *pcpu.GDT
	IDT         *pcpu.IDT
	TSS         *pcpu.TSS
}

// Info bundles everything the platform hands the kernel at bootstrap --
// the Go-side equivalent of the Limine request responses main.rs reads
// out of statics (FRAME_BUFFER_REQUEST, MEMORY_MAP_REQUEST, MP_REQUEST,
// RSDP_REQUEST), collected into one struct instead of four globals.
type Info struct {
	RAMBase  uint64 // physical base of the RAM region frame.Map manages
	RAMPages uint64

	Framebuffer display.Framebuffer

	CPUs []CPUInfo // CPUs[0] is the bootstrap processor

	TSCHz uint64 // measured TSC frequency; Calibrate is skipped if 0

	// KernelTrampoline is the assembly stub every kernel task's saved
	// frame targets: it reads the entry function pointer out of RDI
	// and calls it (task.NewKernel's doc comment). IdleEntry is that
	// function pointer for the idle task -- the same halt-loop
	// function original_source's idle_task spawns on every CPU.
	KernelTrampoline uintptr
	IdleEntry        uintptr

	InitModuleELF []byte            // the first user task's image, loaded from a boot module
	Modules       map[string][]byte // named boot modules served by GetModule (includes InitModuleELF's own name, if any)
}

// Kernel bundles every piece of bootstrap output a platform's dispatch
// loop needs to drive the running system: the syscall table, the
// wired-up syscalls.Kernel, the global scheduler, and each CPU's local
// scheduler and per-CPU record indexed by CPU number.
type Kernel struct {
	Table    *sysentry.Table
	Syscalls *syscalls.Kernel
	Global   *sched.Global
	CPUs     map[defs.CpuNum]*sched.CPU
	PCPUs    map[defs.CpuNum]*pcpu.Record

	// Kept around for callers that need to extend the same kernel
	// address space or kernel-stack reservation set Start already built
	// -- for example mapping a device's MMIO range in after boot.
	Frames       *frame.Map
	KernelAS     *aspace.AddressSpace
	KernelStacks *vaddr.Set
}

const idleStackPages = uint64(klimits.GuardedStackDefault) / frame.PageSize

// Start implements init_bsp plus, for every CPU beyond the first, the
// setup half of ap_entry/init_ap: constructs every subsystem in
// dependency order, installs every syscall handler, spawns one idle
// task per CPU, loads and spawns the first user task from
// info.InitModuleELF on the bootstrap processor, and seeds that task
// as the display's initial owner -- mirroring main.rs's direct
// "DISPLAY_OWNER.store(user_task.id, ...)" right after spawning it.
// Only the bootstrap processor (info.CPUs[0]) has its GDT/IDT loaded
// and its per-CPU record installed as the calling goroutine's current
// CPU; a platform bringing up real APs loads each AP's own table from
// the code that actually starts running on it, which is outside what
// a single Start call can do for more than one CPU at a time. Any
// failure here is a bootstrap-time programming or configuration
// error, not a runtime condition, so Start panics rather than
// returning an error, the same way main.rs unwraps every one of these
// calls.
func Start(info Info) *Kernel {
	if len(info.CPUs) == 0 {
		panic("boot: no CPUs described in Info")
	}

	frames := frame.NewSimulated(info.RAMBase, info.RAMPages)
	kernelAS := aspace.NewKernel(frames)
	kernelStacks := vaddr.NewSet(vaddr.KernelWindow)
	displayOwner := display.New(info.Framebuffer)

	if info.TSCHz != 0 {
		timer.Calibrate(info.TSCHz)
	}

	cpuList := make([]*sched.CPU, len(info.CPUs))
	cpus := make(map[defs.CpuNum]*sched.CPU, len(info.CPUs))
	pcpus := make(map[defs.CpuNum]*pcpu.Record, len(info.CPUs))
	for i := range info.CPUs {
		cpu, pc := bringUpCPU(kernelAS, kernelStacks, frames, info, i)
		cpuList[i] = cpu
		cpus[defs.CpuNum(i)] = cpu
		pcpus[defs.CpuNum(i)] = pc
		pc.SetState(defs.CpuReady)
	}

	bspPC := pcpus[0]
	pcpu.SetCurrent(bspPC)
	archx86.LoadGDT(bspPC.GDT.Base, bspPC.GDT.Limit)
	archx86.LoadIDT(bspPC.IDT.Base, bspPC.IDT.Limit)

	global := sched.NewGlobal(cpuList)

	sk := syscalls.New(frames, kernelAS, kernelStacks, global, cpus)
	for name, data := range info.Modules {
		sk.Modules[name] = data
	}
	sk.Display = displayOwner

	table := sysentry.NewTable()
	sk.Install(table)

	if len(info.InitModuleELF) > 0 {
		initAS, err := aspace.New(frames, kernelAS)
		if err != 0 {
			panic("boot: no frames for the init task's address space")
		}
		img, err := elfload.Load(initAS, initAS.Vaddr, frames, info.InitModuleELF)
		if err != 0 {
			panic("boot: failed to load the init module's ELF image")
		}
		initStack, err := gstack.New(kernelAS, kernelStacks, frames, idleStackPages, aspace.Present|aspace.Write)
		if err != 0 {
			panic("boot: no frames for the init task's kernel stack")
		}
		initTask := task.NewUser(global.NextID(), defs.NoTask, img.Entry, img.UserRSP, initAS, initStack, 0)
		global.Spawn(initTask, 0)
		displayOwner.Seed(initTask.ID)
	}

	return &Kernel{
		Table: table, Syscalls: sk, Global: global, CPUs: cpus, PCPUs: pcpus,
		Frames: frames, KernelAS: kernelAS, KernelStacks: kernelStacks,
	}
}

// bringUpCPU builds one CPU's per-CPU record, idle task, and local
// scheduler -- the half of init_bsp/init_ap common to every processor.
func bringUpCPU(kernelAS *aspace.AddressSpace, kernelStacks *vaddr.Set, frames *frame.Map, info Info, idx int) (*sched.CPU, *pcpu.Record) {
	ci := info.CPUs[idx]
	pc := pcpu.New(defs.CpuNum(idx), ci.LocalAPICID)
	pc.GDT = ci.GDT
	pc.IDT = ci.IDT
	pc.TSS = ci.TSS

	idleStack, err := gstack.New(kernelAS, kernelStacks, frames, idleStackPages, aspace.Present|aspace.Write)
	if err != 0 {
		panic("boot: no frames for an idle task's kernel stack")
	}
	idleID := defs.Tid_t(0xffff_ffff - uint64(idx))
	idle := task.NewKernel(idleID, info.KernelTrampoline, info.IdleEntry, kernelAS.CR3(), idleStack)

	apic := &timer.LocalAPIC{ID: ci.LocalAPICID}
	cpu := sched.NewCPU(pc, apic, idle)
	return cpu, pc
}

// HandleSyscall is the Go-side glue a SYSCALL-entry assembly trampoline
// calls once per trap: Enter's register-snapshot handoff, special-
// casing SysExit -- which never returns to the normal dispatch path,
// since exiting tears the task down instead of resuming it -- and
// otherwise Dispatch followed by Return.
func HandleSyscall(k *Kernel, cpuNum defs.CpuNum, snapshot *task.Frame) *task.Frame {
	pc := k.PCPUs[cpuNum]
	cpu := k.CPUs[cpuNum]
	cur := cpu.Current()

	num, args := sysentry.Enter(pc, cur, snapshot)
	if num == defs.SysExit {
		// Exit calls cpu.Yield internally, so cur is no longer the
		// CPU's current task once it returns -- cpu.Current() must be
		// re-read to find who runs next, the way any other scheduling
		// decision's resuming frame is found.
		k.Syscalls.Exit(cpu, cur, int(int64(args[0])))
		return cpu.Current().Frame
	}

	ret := k.Table.Dispatch(num, args)
	return sysentry.Return(pc, cur, ret)
}
