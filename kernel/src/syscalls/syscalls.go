// Package syscalls wires every other kernel package into the 23
// syscall handlers and installs them into a sysentry.Table. It is the
// one package that imports the whole kernel: every other package only
// imports the pieces of the kernel it itself depends on.
//
// Grounded throughout on original_source's
// kernel/core/src/syscall_handlers/*.rs, handler for handler; each
// method's doc comment below names the specific .rs function it
// mirrors. Where the original blocks by looping on sleep+hlt inside
// the handler itself, this kernel's handlers instead follow a
// two-path contract once and return: write the fallback "not ready"
// code into the caller's saved frame, register a single-slot waiter,
// mark the task Sleeping, and yield -- a real sleep+hlt loop has no
// other goroutine to wake it on this simulated hardware, so the retry
// is left to the user-space caller's own syscall-retry loop, exactly
// as the ABI's fallback-then-retry contract implies.
package syscalls

import (
	"archx86"
	"aspace"
	"defs"
	"display"
	"elfload"
	"frame"
	"gstack"
	"interrupt"
	"ipc"
	"klimits"
	"kstat"
	"pcpu"
	"registry"
	"sched"
	"shbuf"
	"sysentry"
	"task"
	"vaddr"
)

// Kernel bundles every subsystem a syscall handler might need to touch.
// One Kernel exists per boot; kernel/boot constructs it and calls
// Install once all subsystems are up.
type Kernel struct {
	Frames       *frame.Map
	KernelAS     *aspace.AddressSpace
	KernelStacks *vaddr.Set // kernel-window (higher-half) reservation set backing every spawned task's guarded kernel stack
	Global       *sched.Global
	CPUs         map[defs.CpuNum]*sched.CPU

	Channels *ipc.Registry
	Services *registry.Registry
	Bufs     *shbuf.Registry
	Display  *display.Owner
	Keyboard *interrupt.Keyboard
	Mouse    *interrupt.Mouse
	Modules  map[string][]byte
	Stats    *kstat.Recorder

	// resolveCurrent resolves the running CPU and its current task.
	// New wires this to pcpuCurrent (the real GS-base-addressed path);
	// tests construct a Kernel literal directly and set this to a canned
	// stub instead, the same seam sched_test.go's fakeAPIC gives the
	// scheduler tests for the local APIC.
	resolveCurrent func() (*sched.CPU, *task.Task)
}

// New constructs a Kernel over already-initialized subsystems. cpus
// maps each CPU's number to its local scheduler, mirroring how
// get_local() resolves the running CPU's run queue in original_source.
// kernelStacks is the same kernel-window vaddr.Set kernel/boot already
// built to place each CPU's own idle-task stack, reused here so spawned
// tasks' guarded stacks share one reservation authority with them
// instead of racing a second, independent Set over the same window.
func New(frames *frame.Map, kernelAS *aspace.AddressSpace, kernelStacks *vaddr.Set, global *sched.Global, cpus map[defs.CpuNum]*sched.CPU) *Kernel {
	k := &Kernel{
		Frames:       frames,
		KernelAS:     kernelAS,
		KernelStacks: kernelStacks,
		Global:       global,
		CPUs:         cpus,
		Channels:     ipc.NewRegistry(),
		Services:     registry.New(int(klimits.Default.MaxServices)),
		Bufs:         shbuf.New(frames, int(klimits.Default.MaxSharedBufs)),
		Keyboard:     interrupt.NewKeyboard(),
		Mouse:        interrupt.NewMouse(),
		Modules:      make(map[string][]byte),
		Stats:        kstat.New(),
	}
	k.resolveCurrent = k.pcpuCurrent
	return k
}

// Install registers every syscall but Exit: exit diverges and never
// reaches the normal dispatch return path, so kernel/boot's entry loop
// special-cases SysExit before ever calling Table.Dispatch.
func (k *Kernel) Install(t *sysentry.Table) {
	t.Register(defs.SysGetBoundingBox, k.wrap(k.GetBoundingBox))
	t.Register(defs.SysSpawn, k.wrap(k.Spawn))
	t.Register(defs.SysReadKey, k.wrap(k.ReadKey))
	t.Register(defs.SysYield, k.wrap(k.Yield))
	t.Register(defs.SysMmap, k.wrap(k.Mmap))
	t.Register(defs.SysMunmap, k.wrap(k.Munmap))
	t.Register(defs.SysChannelCreate, k.wrap(k.ChannelCreate))
	t.Register(defs.SysChannelSend, k.wrap(k.ChannelSend))
	t.Register(defs.SysChannelRecv, k.wrap(k.ChannelRecv))
	t.Register(defs.SysChannelClose, k.wrap(k.ChannelClose))
	t.Register(defs.SysTransferDisplay, k.wrap(k.TransferDisplay))
	t.Register(defs.SysGetModule, k.wrap(k.GetModule))
	t.Register(defs.SysGetDisplayInfo, k.wrap(k.GetDisplayInfo))
	t.Register(defs.SysDebugLog, k.wrap(k.DebugLog))
	t.Register(defs.SysWaitpid, k.wrap(k.Waitpid))
	t.Register(defs.SysRegisterService, k.wrap(k.RegisterService))
	t.Register(defs.SysLookupService, k.wrap(k.LookupService))
	t.Register(defs.SysReadMouse, k.wrap(k.ReadMouse))
	t.Register(defs.SysShutdown, k.wrap(k.Shutdown))
	t.Register(defs.SysCreateSharedBuf, k.wrap(k.CreateSharedBuf))
	t.Register(defs.SysMapSharedBuf, k.wrap(k.MapSharedBuf))
	t.Register(defs.SysDestroySharedBuf, k.wrap(k.DestroySharedBuf))
}

// wrap counts every dispatched syscall into kstat before running h, the
// one piece of bookkeeping every handler shares.
func (k *Kernel) wrap(h sysentry.Handler) sysentry.Handler {
	return func(args [6]uint64) uint64 {
		k.Stats.Syscalls.Inc()
		return h(args)
	}
}

// current resolves the running CPU's local scheduler and its current
// task by way of resolveCurrent, the Go-side equivalent of
// original_source's get_local() plus "rq.current_task.clone()" found at
// the top of nearly every handler.
func (k *Kernel) current() (*sched.CPU, *task.Task) {
	return k.resolveCurrent()
}

// pcpuCurrent is resolveCurrent's real, GS-base-addressed implementation.
func (k *Kernel) pcpuCurrent() (*sched.CPU, *task.Task) {
	rec := pcpu.Current()
	cpu := k.CPUs[rec.ID]
	return cpu, cpu.Current()
}

// block implements the kernel's blocking-syscall contract: write
// fallback into cur's saved frame, then -- unless register reports a
// waiter slot was already taken, which should never happen given one
// in-flight blocking syscall per task -- mark cur Sleeping and yield
// the CPU. register installs whatever single-slot waiter discipline
// backs the resource being waited on (an ipc endpoint, the exit-waiter
// slot, the keyboard) and must do so before returning.
func (k *Kernel) block(cpu *sched.CPU, cur *task.Task, fallback uint64, register func() bool) uint64 {
	cur.Frame.RAX = fallback
	if register() {
		k.Stats.BlockedWaits.Inc()
		cur.SetState(defs.Sleeping)
		cpu.Yield(cur)
	}
	return fallback
}

// wakeHandle resolves a waiter handle stashed as interface{} (ipc's and
// interrupt's waiter slots are opaque to avoid an import cycle back to
// kernel/task) back into a *task.Task and wakes it via Global.Wake.
func (k *Kernel) wakeHandle(handle interface{}, currentCPU defs.CpuNum) {
	if handle == nil {
		return
	}
	if t, ok := handle.(*task.Task); ok {
		k.Global.Wake(t, currentCPU)
	}
}

// ---- syscall 0: GetBoundingBox ----

// GetBoundingBox mirrors sys_get_bounding_box: owner-gated, then
// pointer-validated, in that exact order -- a non-owner is rejected
// before the output pointer is even looked at.
func (k *Kernel) GetBoundingBox(args [6]uint64) uint64 {
	_, cur := k.current()
	rectOutPtr := args[0]

	rect, status := k.Display.GetBoundingBox(cur.ID)
	if status != defs.GfxOk {
		return uint64(status)
	}
	if cur.Addr == nil || !cur.Addr.Validate(rectOutPtr, 16) {
		return uint64(defs.GfxInvalidInput)
	}

	var buf [16]byte
	putU32(buf[0:4], rect.X)
	putU32(buf[4:8], rect.Y)
	putU32(buf[8:12], rect.Width)
	putU32(buf[12:16], rect.Height)
	if err := cur.Addr.CopyOut(rectOutPtr, buf[:]); err != 0 {
		return uint64(defs.GfxInvalidInput)
	}
	return uint64(defs.GfxOk)
}

// ---- syscall 3: Exit ----

// Exit mirrors sys_exit: close every IPC endpoint cur owns, unregister
// every service name it registered, record the exit code and the
// Zombie state, then either wake a registered waitpid waiter or remove
// cur from the global table immediately if none is registered. Exit
// never returns to user space -- kernel/boot calls this directly
// instead of installing it in the dispatch table, and then re-enters
// the scheduler, matching sys_exit's "-> !" signature and trailing
// `loop { hlt() }`.
func (k *Kernel) Exit(cpu *sched.CPU, cur *task.Task, exitCode int) {
	for _, ep := range cur.Endpoints() {
		k.Channels.Close(ep)
	}
	for _, svc := range cur.Services() {
		name, _ := registry.NewName(svc)
		k.Services.Unregister(name, cur.ID)
	}

	k.Stats.TaskExits.Inc()
	waiter := k.Global.Exit(cur, exitCode)
	if waiter != nil {
		k.Global.Wake(waiter, cur.CPU)
	} else {
		k.Global.Remove(cur.ID)
	}
	cpu.Yield(cur)
}

// ---- syscall 4: Spawn ----

// Spawn mirrors sys_spawn: only a User-kind task may spawn, the ELF
// image must be a sane size and fully validated in the caller's
// address space, and a failed load (bad header, no memory) returns 0
// rather than propagating a detailed error, matching the original's
// "Err(_) => 0".
func (k *Kernel) Spawn(args [6]uint64) uint64 {
	_, cur := k.current()
	elfPtr, elfLen, childArg := args[0], args[1], args[2]

	if elfLen == 0 || elfLen > 64*1024*1024 {
		return 0
	}
	if cur.Kind != defs.UserTask || cur.Addr == nil || !cur.Addr.Validate(elfPtr, elfLen) {
		return 0
	}

	elfBytes := make([]byte, elfLen)
	if err := cur.Addr.CopyIn(elfPtr, elfBytes); err != 0 {
		return 0
	}

	childAS, err := aspace.New(k.Frames, k.KernelAS)
	if err != 0 {
		return 0
	}
	img, err := elfload.Load(childAS, childAS.Vaddr, k.Frames, elfBytes)
	if err != 0 {
		return 0
	}

	id := k.Global.NextID()
	stackPages := uint64(klimits.GuardedStackDefault) / frame.PageSize
	stack, gerr := gstack.New(k.KernelAS, k.KernelStacks, k.Frames, stackPages, aspace.Present|aspace.Write)
	if gerr != 0 {
		return 0
	}
	child := task.NewUser(id, cur.ID, img.Entry, img.UserRSP, childAS, stack, childArg)
	k.Global.Spawn(child, cur.CPU)
	k.Stats.TaskSpawns.Inc()
	return uint64(id)
}

// ---- syscall 5: ReadKey ----

// ReadKey mirrors sys_read_key: a non-blocking TryRead, else register
// as the keyboard's single waiter, fallback 1, and block -- woken by
// HandleScancode the next time a key event is queued.
func (k *Kernel) ReadKey(args [6]uint64) uint64 {
	cpu, cur := k.current()
	outPtr := args[0]

	if cur.Addr == nil || !cur.Addr.Validate(outPtr, 2) {
		return 1
	}
	if ev, ok := k.Keyboard.TryRead(); ok {
		if writeKeyEvent(cur.Addr, outPtr, ev) != 0 {
			return 1
		}
		return 0
	}
	return k.block(cpu, cur, 1, func() bool { return k.Keyboard.RegisterWaiter(cur) })
}

// ---- syscall 6: Yield ----

// Yield mirrors sys_yield: always succeeds, simply gives up the
// remainder of cur's timeslice.
func (k *Kernel) Yield(args [6]uint64) uint64 {
	cpu, cur := k.current()
	cpu.Yield(cur)
	return 0
}

// ---- syscall 7/8: Mmap/Munmap ----

// Mmap mirrors sys_mmap: User-kind only, size rounded up to whole
// pages, a fresh reservation in the caller's own vaddr set, each page
// backed by a freshly allocated zeroed frame.data mapped
// Write/NoExecute according to flags. Any failure partway through
// unwinds every page mapped so far and the reservation itself, per
// rollback_mmap.
func (k *Kernel) Mmap(args [6]uint64) uint64 {
	_, cur := k.current()
	size, flags := args[0], args[1]

	if size == 0 || cur.Kind != defs.UserTask || cur.Addr == nil {
		return 0
	}
	npages := (size + frame.PageSize - 1) / frame.PageSize

	start, ok := cur.Addr.Vaddr.Reserve(npages)
	if !ok {
		return 0
	}

	pteFlags := aspace.Present | aspace.User
	if flags&defs.MemWrite != 0 {
		pteFlags |= aspace.Write
	}
	if flags&defs.MemExec == 0 {
		pteFlags |= aspace.NoExecute
	}

	var mapped uint64
	for i := uint64(0); i < npages; i++ {
		pa, ok := k.Frames.AllocateFrame(frame.UserData)
		if !ok {
			rollbackMmap(cur.Addr, k.Frames, start, mapped)
			cur.Addr.Vaddr.Release(start, npages*frame.PageSize)
			return 0
		}
		va := start + mapped*frame.PageSize
		if err := cur.Addr.Map(va, pa, pteFlags); err != 0 {
			k.Frames.FreeFrame(pa, frame.UserData)
			rollbackMmap(cur.Addr, k.Frames, start, mapped)
			cur.Addr.Vaddr.Release(start, npages*frame.PageSize)
			return 0
		}
		mapped++
	}
	return start
}

func rollbackMmap(as *aspace.AddressSpace, frames *frame.Map, start, mapped uint64) {
	for i := uint64(0); i < mapped; i++ {
		if pa, _, ok := as.Unmap(start + i*frame.PageSize); ok {
			frames.FreeFrame(pa, frame.UserData)
		}
	}
}

// Munmap mirrors sys_munmap: addr must be page-aligned and size
// nonzero, the range must lie wholly inside existing reservations (a
// range only partly reserved is refused, not truncated; a sub-range of
// one reservation is released on its own), and every mapped page in
// range is unmapped and freed. Returns ^uint64(0) on any rejection,
// matching the original's `!0u64`.
func (k *Kernel) Munmap(args [6]uint64) uint64 {
	_, cur := k.current()
	addr, size := args[0], args[1]

	if size == 0 || addr%frame.PageSize != 0 || cur.Kind != defs.UserTask || cur.Addr == nil {
		return ^uint64(0)
	}
	npages := (size + frame.PageSize - 1) / frame.PageSize
	total := npages * frame.PageSize

	if !cur.Addr.Vaddr.Release(addr, total) {
		return ^uint64(0)
	}
	for i := uint64(0); i < npages; i++ {
		if pa, _, ok := cur.Addr.Unmap(addr + i*frame.PageSize); ok {
			k.Frames.FreeFrame(pa, frame.UserData)
		}
	}
	return 0
}

// ---- syscall 9-12: IPC ----

// ChannelCreate mirrors sys_channel_create: allocate a channel of the
// requested (clamped) capacity, write out both endpoint ids, and track
// them as owned by the caller for exit-time cleanup.
func (k *Kernel) ChannelCreate(args [6]uint64) uint64 {
	_, cur := k.current()
	sendOutPtr, recvOutPtr, capacity := args[0], args[1], args[2]

	if cur.Addr == nil || !cur.Addr.Validate(sendOutPtr, 8) || !cur.Addr.Validate(recvOutPtr, 8) {
		return uint64(defs.IpcInvalidArgs)
	}

	sendID, recvID := k.Channels.Create(capacity)
	if err := cur.Addr.WriteUint64(sendOutPtr, uint64(sendID)); err != 0 {
		return uint64(defs.IpcInvalidArgs)
	}
	if err := cur.Addr.WriteUint64(recvOutPtr, uint64(recvID)); err != 0 {
		return uint64(defs.IpcInvalidArgs)
	}

	cur.AddEndpoint(sendID)
	cur.AddEndpoint(recvID)
	return uint64(defs.IpcOk)
}

// ChannelSend mirrors sys_channel_send: validate the message pointer
// and size, then try_send; on ChannelFull, block via the two-path
// contract (registered as the channel's single send-waiter) instead of
// the original's sleep+hlt retry loop.
func (k *Kernel) ChannelSend(args [6]uint64) uint64 {
	cpu, cur := k.current()
	epID, msgPtr, msgLen := defs.Eid_t(args[0]), args[1], args[2]

	if msgLen > klimits.MaxMessageSize {
		return uint64(defs.IpcMessageTooLarge)
	}
	var msg []byte
	if msgLen > 0 {
		if cur.Addr == nil || !cur.Addr.Validate(msgPtr, msgLen) {
			return uint64(defs.IpcInvalidArgs)
		}
		msg = make([]byte, msgLen)
		if err := cur.Addr.CopyIn(msgPtr, msg); err != 0 {
			return uint64(defs.IpcInvalidArgs)
		}
	}

	status, woken := k.Channels.TrySend(epID, msg)
	if status == defs.IpcChannelFull {
		return k.block(cpu, cur, uint64(defs.IpcChannelFull), func() bool {
			return k.Channels.RegisterSendWaiter(epID, cur)
		})
	}
	if status == defs.IpcOk {
		k.Stats.ChannelSends.Inc()
		k.wakeHandle(woken, cur.CPU)
	}
	return uint64(status)
}

// ChannelRecv mirrors sys_channel_recv: validate both the destination
// buffer and the bytes-read-out pointer, then try_recv; on WouldBlock
// (itself reported over the ChannelFull code, per ipc_error_to_code)
// block as the channel's single recv-waiter.
func (k *Kernel) ChannelRecv(args [6]uint64) uint64 {
	cpu, cur := k.current()
	epID, bufPtr, bufCap, bytesOutPtr := defs.Eid_t(args[0]), args[1], args[2], args[3]

	if cur.Addr == nil || !cur.Addr.Validate(bufPtr, bufCap) || !cur.Addr.Validate(bytesOutPtr, 8) {
		return uint64(defs.IpcInvalidArgs)
	}

	msg, wouldBlock, status, woken := k.Channels.TryRecv(epID)
	if wouldBlock {
		return k.block(cpu, cur, uint64(defs.IpcChannelFull), func() bool {
			return k.Channels.RegisterRecvWaiter(epID, cur)
		})
	}
	if status != defs.IpcOk {
		return uint64(status)
	}

	n := uint64(len(msg))
	if n > bufCap {
		n = bufCap
	}
	if err := cur.Addr.CopyOut(bufPtr, msg[:n]); err != 0 {
		return uint64(defs.IpcInvalidArgs)
	}
	if err := cur.Addr.WriteUint64(bytesOutPtr, n); err != 0 {
		return uint64(defs.IpcInvalidArgs)
	}
	k.Stats.ChannelRecvs.Inc()
	k.wakeHandle(woken, cur.CPU)
	return uint64(defs.IpcOk)
}

// ChannelClose mirrors sys_channel_close.
func (k *Kernel) ChannelClose(args [6]uint64) uint64 {
	k.Channels.Close(defs.Eid_t(args[0]))
	return uint64(defs.IpcOk)
}

// ---- syscall 13: TransferDisplay ----

// TransferDisplay mirrors sys_transfer_display, delegating the
// ownership check and framebuffer remap to display.Owner.Transfer;
// globalTaskLookup adapts Global's *task.Task-returning Lookup to the
// *aspace.AddressSpace-returning shape display.TaskLookup wants.
func (k *Kernel) TransferDisplay(args [6]uint64) uint64 {
	_, cur := k.current()
	status := k.Display.Transfer(cur.ID, defs.Tid_t(args[0]), globalTaskLookup{k.Global}, k.Frames)
	return uint64(status)
}

type globalTaskLookup struct{ g *sched.Global }

func (l globalTaskLookup) Lookup(id defs.Tid_t) (*aspace.AddressSpace, bool) {
	t, ok := l.g.Lookup(id)
	if !ok {
		return nil, false
	}
	return t.Addr, true
}

// ---- syscall 14: GetModule ----

// GetModule mirrors sys_get_module: a size query (buf_ptr == 0 && buf_cap
// == 0 returns the module's size) or a copy (returns bytes written, 0
// on any failure). k.Modules stands in for original_source's Limine
// MODULE_REQUEST boot-module table -- kernel/boot populates it from
// whatever the bootloader handed the kernel.
func (k *Kernel) GetModule(args [6]uint64) uint64 {
	_, cur := k.current()
	namePtr, nameLen, bufPtr, bufCap := args[0], args[1], args[2], args[3]

	if nameLen == 0 || nameLen > 256 {
		return 0
	}
	if cur.Addr == nil || !cur.Addr.Validate(namePtr, nameLen) {
		return 0
	}
	nameBytes := make([]byte, nameLen)
	if err := cur.Addr.CopyIn(namePtr, nameBytes); err != 0 {
		return 0
	}
	data, ok := k.Modules[string(nameBytes)]
	if !ok {
		return 0
	}
	size := uint64(len(data))

	if bufPtr == 0 && bufCap == 0 {
		return size
	}
	if bufCap < size || !cur.Addr.Validate(bufPtr, bufCap) {
		return 0
	}
	if err := cur.Addr.CopyOut(bufPtr, data); err != 0 {
		return 0
	}
	return size
}

// ---- syscall 15: GetDisplayInfo ----

// GetDisplayInfo mirrors sys_get_display_info: pointer-validated but,
// unlike GetBoundingBox, not owner-gated.
func (k *Kernel) GetDisplayInfo(args [6]uint64) uint64 {
	_, cur := k.current()
	infoOutPtr := args[0]

	info, status := k.Display.GetDisplayInfo()
	if cur.Addr == nil || !cur.Addr.Validate(infoOutPtr, displayInfoWireSize) {
		return uint64(defs.GfxInvalidInput)
	}
	if err := cur.Addr.CopyOut(infoOutPtr, marshalDisplayInfo(info)); err != 0 {
		return uint64(defs.GfxInvalidInput)
	}
	return uint64(status)
}

// ---- syscall 16: DebugLog ----

// DebugLog mirrors sys_debug_log's tag dispatch: tag 0 is the ordinary
// free-form line (kept as a kstat counter increment plus the value,
// since this kernel has no serial console wired up to print through),
// tag 1 dumps a kstat profile snapshot, tag 2 only increments the
// DiskScanTags counter (there is no disk driver to scan with).
func (k *Kernel) DebugLog(args [6]uint64) uint64 {
	value, tag := args[0], args[1]
	switch tag {
	case defs.DebugLogProfile:
		k.Stats.DumpProfile()
	case defs.DebugLogDiskScan:
		k.Stats.LogDiskScan()
	default:
		_ = value
	}
	return 0
}

// ---- syscall 17: Waitpid ----

// Waitpid mirrors sys_waitpid: if the target is already a Zombie,
// collect its code, remove it from the table, and write the code out
// immediately. Otherwise register cur as its single exit-waiter and
// block -- the original loops on sleep+hlt re-checking the target's
// state each wakeup; here, Exit wakes the registered waiter
// directly once the target actually exits; a premature wakeup (a
// spurious preemption) simply has the caller's user-space wrapper
// retry the syscall, which re-enters this same check.
func (k *Kernel) Waitpid(args [6]uint64) uint64 {
	cpu, cur := k.current()
	targetID, codeOutPtr := defs.Tid_t(args[0]), args[1]

	if cur.Addr == nil || !cur.Addr.Validate(codeOutPtr, 8) {
		return 1
	}

	target, ok := k.Global.Lookup(targetID)
	if !ok {
		return 1
	}

	if target.State() == defs.Zombie {
		code := target.ExitCode()
		k.Global.Remove(targetID)
		if err := cur.Addr.WriteUint64(codeOutPtr, uint64(int64(code))); err != 0 {
			return 1
		}
		return 0
	}

	return k.block(cpu, cur, 1, func() bool { return target.RegisterWaiter(cur) })
}

// ---- syscall 18/19: RegisterService/LookupService ----

// RegisterService mirrors sys_register_service: validates the name
// pointer and length, verifies send_ep actually names a registered
// Send-direction endpoint (ipc.Registry.IsSendEndpoint, the one check
// original_source makes before trusting the argument), registers the
// name, and records it on cur so Exit can unregister it.
func (k *Kernel) RegisterService(args [6]uint64) uint64 {
	_, cur := k.current()
	namePtr, nameLen, sendEp := args[0], args[1], defs.Eid_t(args[2])

	if nameLen == 0 || nameLen > registry.NameSize {
		return uint64(defs.SvcInvalidArgs)
	}
	if cur.Addr == nil || !cur.Addr.Validate(namePtr, nameLen) {
		return uint64(defs.SvcInvalidArgs)
	}
	if !k.Channels.IsSendEndpoint(sendEp) {
		return uint64(defs.SvcInvalidArgs)
	}

	nameBytes := make([]byte, nameLen)
	if err := cur.Addr.CopyIn(namePtr, nameBytes); err != 0 {
		return uint64(defs.SvcInvalidArgs)
	}
	name, ierr := registry.NewName(string(nameBytes))
	if ierr != 0 {
		return uint64(defs.SvcInvalidArgs)
	}

	status := k.Services.Register(name, cur.ID, sendEp)
	if status == defs.SvcOk {
		cur.AddService(name.String())
	}
	return uint64(status)
}

// LookupService mirrors sys_lookup_service: writes the resolved send
// endpoint id out to ep_out_ptr on success.
func (k *Kernel) LookupService(args [6]uint64) uint64 {
	_, cur := k.current()
	namePtr, nameLen, epOutPtr := args[0], args[1], args[2]

	if nameLen == 0 || nameLen > registry.NameSize {
		return uint64(defs.SvcInvalidArgs)
	}
	if cur.Addr == nil || !cur.Addr.Validate(namePtr, nameLen) || !cur.Addr.Validate(epOutPtr, 8) {
		return uint64(defs.SvcInvalidArgs)
	}

	nameBytes := make([]byte, nameLen)
	if err := cur.Addr.CopyIn(namePtr, nameBytes); err != 0 {
		return uint64(defs.SvcInvalidArgs)
	}
	name, ierr := registry.NewName(string(nameBytes))
	if ierr != 0 {
		return uint64(defs.SvcInvalidArgs)
	}

	ep, status := k.Services.Lookup(name)
	if status != defs.SvcOk {
		return uint64(status)
	}
	if err := cur.Addr.WriteUint64(epOutPtr, uint64(ep)); err != 0 {
		return uint64(defs.SvcInvalidArgs)
	}
	return uint64(defs.SvcOk)
}

// ---- syscall 20: ReadMouse ----

// ReadMouse mirrors sys_read_mouse: always non-blocking, 0 and the
// sample written out if one is pending, 1 otherwise.
func (k *Kernel) ReadMouse(args [6]uint64) uint64 {
	_, cur := k.current()
	outPtr := args[0]

	if cur.Addr == nil || !cur.Addr.Validate(outPtr, 5) {
		return 1
	}
	ev, ok := k.Mouse.TryRead()
	if !ok {
		return 1
	}
	if writeMouseEvent(cur.Addr, outPtr, ev) != 0 {
		return 1
	}
	return 0
}

// ---- syscall 21: Shutdown ----

// Shutdown mirrors sys_shutdown: write exit_code to the architectural
// isa-debug-exit port (0xf4) and spin forever -- QEMU exits with
// (exit_code << 1) | 1 and never returns control to this loop.
func (k *Kernel) Shutdown(args [6]uint64) uint64 {
	archx86.Outb(0xf4, uint8(args[0]))
	for {
		archx86.Halt()
	}
}

// ---- syscall 22-24: shared buffers ----

// CreateSharedBuf mirrors sys_create_shared_buf: User-kind only, writes
// the mapped virtual address out to vaddr_out_ptr, returns
// defs.NoBufId on any failure.
func (k *Kernel) CreateSharedBuf(args [6]uint64) uint64 {
	_, cur := k.current()
	size, vaddrOutPtr := args[0], args[1]

	if size == 0 || cur.Kind != defs.UserTask || cur.Addr == nil || !cur.Addr.Validate(vaddrOutPtr, 8) {
		return uint64(defs.NoBufId)
	}
	npages := (size + frame.PageSize - 1) / frame.PageSize

	id, va, err := k.Bufs.Create(cur.Addr, cur.Addr.Vaddr, npages)
	if err != 0 {
		return uint64(defs.NoBufId)
	}
	if werr := cur.Addr.WriteUint64(vaddrOutPtr, va); werr != 0 {
		return uint64(defs.NoBufId)
	}
	return uint64(id)
}

// MapSharedBuf mirrors sys_map_shared_buf: User-kind only, returns the
// freshly mapped virtual address or 0 on failure.
func (k *Kernel) MapSharedBuf(args [6]uint64) uint64 {
	_, cur := k.current()
	id := defs.BufId_t(args[0])

	if cur.Kind != defs.UserTask || cur.Addr == nil {
		return 0
	}
	va, err := k.Bufs.Map(id, cur.Addr, cur.Addr.Vaddr)
	if err != 0 {
		return 0
	}
	return va
}

// DestroySharedBuf mirrors sys_destroy_shared_buf: always returns 0,
// a no-op if id is unknown. Unlike the other shared-buffer syscalls,
// the original does not gate this on task kind.
func (k *Kernel) DestroySharedBuf(args [6]uint64) uint64 {
	k.Bufs.Destroy(defs.BufId_t(args[0]))
	return 0
}

// ---- wire-format helpers ----

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func writeKeyEvent(as *aspace.AddressSpace, va uint64, ev defs.KeyEvent) defs.Err_t {
	return as.CopyOut(va, []byte{byte(ev.EventType), ev.Character})
}

func writeMouseEvent(as *aspace.AddressSpace, va uint64, ev defs.MouseEvent) defs.Err_t {
	var buf [5]byte
	buf[0] = byte(ev.DX)
	buf[1] = byte(uint16(ev.DX) >> 8)
	buf[2] = byte(ev.DY)
	buf[3] = byte(uint16(ev.DY) >> 8)
	buf[4] = ev.Buttons
	return as.CopyOut(va, buf[:])
}

// displayInfoWireSize is the byte length of defs.DisplayInfo's ABI
// encoding: two uint32s plus six single-byte mask fields.
const displayInfoWireSize = 4 + 4 + 6

func marshalDisplayInfo(info defs.DisplayInfo) []byte {
	var buf [displayInfoWireSize]byte
	putU32(buf[0:4], info.Width)
	putU32(buf[4:8], info.Height)
	buf[8] = info.RedMaskSize
	buf[9] = info.RedMaskShift
	buf[10] = info.GreenMaskSize
	buf[11] = info.GreenMaskShift
	buf[12] = info.BlueMaskSize
	buf[13] = info.BlueMaskShift
	return buf[:]
}

