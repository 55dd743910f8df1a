package syscalls

import (
	"testing"

	"aspace"
	"defs"
	"display"
	"frame"
	"gstack"
	"ipc"
	"kstat"
	"pcpu"
	"registry"
	"sched"
	"shbuf"
	"task"
	"vaddr"
)

type fakeAPIC struct{}

func (fakeAPIC) EOI()                          {}
func (fakeAPIC) SendIPI(target uint32, v uint8) {}

// testHarness wires a Kernel against a single fake CPU and a single
// user task with one mapped, validated page, standing in for the
// pcpu/GS-base-addressed resolution real hardware provides.
type testHarness struct {
	k      *Kernel
	cpu    *sched.CPU
	cur    *task.Task
	frames *frame.Map
	bufVA  uint64
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	frames := frame.NewSimulated(0, 4096)
	kernelAS := aspace.NewKernel(frames)
	kernelStacks := vaddr.NewSet(vaddr.KernelWindow)

	idleStack, err := gstack.New(kernelAS, kernelStacks, frames, 2, aspace.Present|aspace.Write)
	if err != 0 {
		t.Fatalf("gstack.New(idle): %v", err)
	}
	idle := task.NewKernel(9000, 0x1, 0x2, 0, idleStack)
	pc := pcpu.New(0, 0)
	pc.SetState(defs.CpuReady)
	cpu := sched.NewCPU(pc, fakeAPIC{}, idle)
	global := sched.NewGlobal([]*sched.CPU{cpu})

	userAS, err := aspace.New(frames, kernelAS)
	if err != 0 {
		t.Fatalf("aspace.New: %v", err)
	}
	bufVA, ok := userAS.Vaddr.Reserve(1)
	if !ok {
		t.Fatal("reserve failed")
	}
	pa, ok := frames.AllocateFrame(frame.UserData)
	if !ok {
		t.Fatal("allocate failed")
	}
	if err := userAS.Map(bufVA, pa, aspace.Present|aspace.Write|aspace.User); err != 0 {
		t.Fatalf("map: %v", err)
	}

	userStack, err := gstack.New(kernelAS, kernelStacks, frames, 2, aspace.Present|aspace.Write)
	if err != 0 {
		t.Fatalf("gstack.New(user): %v", err)
	}
	cur := task.NewUser(1, defs.NoTask, 0x1000, 0x2000, userAS, userStack, 0)
	cur.CPU = 0

	k := &Kernel{
		Frames:       frames,
		KernelAS:     kernelAS,
		KernelStacks: kernelStacks,
		Global:       global,
		CPUs:         map[defs.CpuNum]*sched.CPU{0: cpu},
		Channels:     ipc.NewRegistry(),
		Services:     registry.New(8),
		Bufs:         shbuf.New(frames, 8),
		Modules:      make(map[string][]byte),
		Stats:        kstat.New(),
	}
	k.resolveCurrent = func() (*sched.CPU, *task.Task) { return cpu, cur }

	return &testHarness{k: k, cpu: cpu, cur: cur, frames: frames, bufVA: bufVA}
}

func TestYieldAlwaysSucceeds(t *testing.T) {
	h := newHarness(t)
	if got := h.k.Yield([6]uint64{}); got != 0 {
		t.Fatalf("Yield returned %d, want 0", got)
	}
}

func TestChannelSendRecvRoundTrip(t *testing.T) {
	h := newHarness(t)

	sendOutVA := h.bufVA
	recvOutVA := h.bufVA + 8
	if status := h.k.ChannelCreate([6]uint64{sendOutVA, recvOutVA, 0}); status != uint64(defs.IpcOk) {
		t.Fatalf("ChannelCreate status %d", status)
	}
	sendID, _ := h.cur.Addr.ReadUint64(sendOutVA)
	recvID, _ := h.cur.Addr.ReadUint64(recvOutVA)

	msgVA := h.bufVA + 16
	payload := []byte("hi")
	if err := h.cur.Addr.CopyOut(msgVA, payload); err != 0 {
		t.Fatalf("CopyOut: %v", err)
	}
	if status := h.k.ChannelSend([6]uint64{sendID, msgVA, uint64(len(payload))}); status != uint64(defs.IpcOk) {
		t.Fatalf("ChannelSend status %d", status)
	}

	recvBufVA := h.bufVA + 32
	nOutVA := h.bufVA + 48
	if status := h.k.ChannelRecv([6]uint64{recvID, recvBufVA, 16, nOutVA}); status != uint64(defs.IpcOk) {
		t.Fatalf("ChannelRecv status %d", status)
	}
	n, _ := h.cur.Addr.ReadUint64(nOutVA)
	if n != uint64(len(payload)) {
		t.Fatalf("expected %d bytes read, got %d", len(payload), n)
	}
	got := make([]byte, n)
	if err := h.cur.Addr.CopyIn(recvBufVA, got); err != 0 {
		t.Fatalf("CopyIn: %v", err)
	}
	if string(got) != "hi" {
		t.Fatalf("round-tripped message = %q, want %q", got, "hi")
	}
}

func TestChannelRecvOnEmptyChannelBlocks(t *testing.T) {
	h := newHarness(t)
	sendOutVA, recvOutVA := h.bufVA, h.bufVA+8
	h.k.ChannelCreate([6]uint64{sendOutVA, recvOutVA, 0})
	recvID, _ := h.cur.Addr.ReadUint64(recvOutVA)

	bufVA, nOutVA := h.bufVA+16, h.bufVA+32
	got := h.k.ChannelRecv([6]uint64{recvID, bufVA, 16, nOutVA})
	if got != uint64(defs.IpcChannelFull) {
		t.Fatalf("expected ChannelFull fallback while blocked, got %d", got)
	}
	if h.cur.State() != defs.Sleeping {
		t.Fatalf("blocked caller should be Sleeping, got %v", h.cur.State())
	}
	if h.cur.Frame.RAX != uint64(defs.IpcChannelFull) {
		t.Fatal("fallback code must be written into the caller's saved frame before yielding")
	}
}

func TestChannelSendOnFullChannelBlocksThenWakesOnRecv(t *testing.T) {
	h := newHarness(t)
	sendOutVA, recvOutVA := h.bufVA, h.bufVA+8
	h.k.ChannelCreate([6]uint64{sendOutVA, recvOutVA, 1})
	sendID, _ := h.cur.Addr.ReadUint64(sendOutVA)
	recvID, _ := h.cur.Addr.ReadUint64(recvOutVA)

	msgVA := h.bufVA + 16
	h.cur.Addr.CopyOut(msgVA, []byte("x"))
	if status := h.k.ChannelSend([6]uint64{sendID, msgVA, 1}); status != uint64(defs.IpcOk) {
		t.Fatalf("first send should succeed, got %d", status)
	}

	blockedSender := h.cur
	if status := h.k.ChannelSend([6]uint64{sendID, msgVA, 1}); status != uint64(defs.IpcChannelFull) {
		t.Fatalf("second send into a full channel should report ChannelFull, got %d", status)
	}
	if blockedSender.State() != defs.Sleeping {
		t.Fatal("sender should be Sleeping after blocking on a full channel")
	}

	recvBufVA, nOutVA := h.bufVA+32, h.bufVA+48
	if status := h.k.ChannelRecv([6]uint64{recvID, recvBufVA, 1, nOutVA}); status != uint64(defs.IpcOk) {
		t.Fatalf("ChannelRecv status %d", status)
	}
	if h.cpu.ReadyLen() != 1 {
		t.Fatal("draining the channel should re-enqueue the blocked sender")
	}
}

func TestRegisterServiceRejectsNonSendEndpoint(t *testing.T) {
	h := newHarness(t)
	sendOutVA, recvOutVA := h.bufVA, h.bufVA+8
	h.k.ChannelCreate([6]uint64{sendOutVA, recvOutVA, 0})
	recvID, _ := h.cur.Addr.ReadUint64(recvOutVA)

	nameVA := h.bufVA + 16
	name := "svc.display"
	h.cur.Addr.CopyOut(nameVA, []byte(name))

	got := h.k.RegisterService([6]uint64{nameVA, uint64(len(name)), recvID})
	if got != uint64(defs.SvcInvalidArgs) {
		t.Fatalf("registering with a recv-direction endpoint should fail, got %d", got)
	}
}

func TestRegisterAndLookupServiceRoundTrip(t *testing.T) {
	h := newHarness(t)
	sendOutVA, recvOutVA := h.bufVA, h.bufVA+8
	h.k.ChannelCreate([6]uint64{sendOutVA, recvOutVA, 0})
	sendID, _ := h.cur.Addr.ReadUint64(sendOutVA)

	nameVA := h.bufVA + 16
	name := "svc.display"
	h.cur.Addr.CopyOut(nameVA, []byte(name))

	if got := h.k.RegisterService([6]uint64{nameVA, uint64(len(name)), sendID}); got != uint64(defs.SvcOk) {
		t.Fatalf("RegisterService status %d", got)
	}

	epOutVA := h.bufVA + 48
	if got := h.k.LookupService([6]uint64{nameVA, uint64(len(name)), epOutVA}); got != uint64(defs.SvcOk) {
		t.Fatalf("LookupService status %d", got)
	}
	ep, _ := h.cur.Addr.ReadUint64(epOutVA)
	if ep != sendID {
		t.Fatalf("resolved endpoint %d, want %d", ep, sendID)
	}
}

func TestWaitpidCollectsAlreadyExitedChild(t *testing.T) {
	h := newHarness(t)
	childStack, err := gstack.New(h.k.KernelAS, h.k.KernelStacks, h.frames, 2, aspace.Present|aspace.Write)
	if err != 0 {
		t.Fatalf("gstack.New: %v", err)
	}
	child := task.NewKernel(2, 0x1, 0x2, 0, childStack)
	h.k.Global.Spawn(child, 0)
	h.k.Global.Exit(child, 7)

	codeOutVA := h.bufVA
	got := h.k.Waitpid([6]uint64{2, codeOutVA})
	if got != 0 {
		t.Fatalf("Waitpid on an already-exited child returned %d, want 0", got)
	}
	code, _ := h.cur.Addr.ReadUint64(codeOutVA)
	if int64(code) != 7 {
		t.Fatalf("collected exit code %d, want 7", int64(code))
	}
	if _, ok := h.k.Global.Lookup(2); ok {
		t.Fatal("collected zombie should be removed from the global table")
	}
}

func TestWaitpidOnRunningChildBlocks(t *testing.T) {
	h := newHarness(t)
	childStack, err := gstack.New(h.k.KernelAS, h.k.KernelStacks, h.frames, 2, aspace.Present|aspace.Write)
	if err != 0 {
		t.Fatalf("gstack.New: %v", err)
	}
	child := task.NewKernel(3, 0x1, 0x2, 0, childStack)
	h.k.Global.Spawn(child, 0)

	codeOutVA := h.bufVA
	got := h.k.Waitpid([6]uint64{3, codeOutVA})
	if got != 1 {
		t.Fatalf("Waitpid fallback on a live child = %d, want 1", got)
	}
	if h.cur.State() != defs.Sleeping {
		t.Fatal("caller should be Sleeping, registered as the child's exit-waiter")
	}
}

func TestGetDisplayInfoHasNoOwnershipGate(t *testing.T) {
	h := newHarness(t)
	h.k.Display = display.New(display.Framebuffer{Width: 1024, Height: 768, Pitch: 4096})

	infoOutVA := h.bufVA
	got := h.k.GetDisplayInfo([6]uint64{infoOutVA})
	if got != uint64(defs.GfxOk) {
		t.Fatalf("GetDisplayInfo status %d, want GfxOk even without ownership", got)
	}
}

func TestGetBoundingBoxRejectsNonOwner(t *testing.T) {
	h := newHarness(t)
	h.k.Display = display.New(display.Framebuffer{Width: 1024, Height: 768, Pitch: 4096})

	got := h.k.GetBoundingBox([6]uint64{h.bufVA})
	if got != uint64(defs.GfxPermissionDenied) {
		t.Fatalf("GetBoundingBox for a non-owner = %d, want GfxPermissionDenied", got)
	}
}

func TestDebugLogCountsDiskScanTag(t *testing.T) {
	h := newHarness(t)
	h.k.DebugLog([6]uint64{0, defs.DebugLogProfile})
	h.k.DebugLog([6]uint64{0, defs.DebugLogDiskScan})
	if h.k.Stats.DiskScanTags.Load() != 1 {
		t.Fatalf("DiskScanTags = %d, want 1", h.k.Stats.DiskScanTags.Load())
	}
}

func TestMmapMunmapRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.cur.Kind = defs.UserTask

	va := h.k.Mmap([6]uint64{uint64(frame.PageSize), defs.MemWrite})
	if va == 0 {
		t.Fatal("Mmap returned 0")
	}
	if got := h.k.Munmap([6]uint64{va, uint64(frame.PageSize)}); got != 0 {
		t.Fatalf("Munmap status %d, want 0", got)
	}
	if got := h.k.Munmap([6]uint64{va, uint64(frame.PageSize)}); got != ^uint64(0) {
		t.Fatal("double Munmap of an already-released range should fail")
	}
}

func TestMmapRejectsKernelTask(t *testing.T) {
	h := newHarness(t)
	h.cur.Kind = defs.KernelTask
	if got := h.k.Mmap([6]uint64{uint64(frame.PageSize), 0}); got != 0 {
		t.Fatal("Mmap from a KernelTask should be rejected")
	}
}
