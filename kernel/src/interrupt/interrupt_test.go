package interrupt

import (
	"testing"
	"unsafe"

	"aspace"
	"defs"
	"frame"
	"gstack"
	"klimits"
	"pcpu"
	"sched"
	"task"
	"vaddr"
)

type fakeAPIC struct{}

func (fakeAPIC) EOI()                                {}
func (fakeAPIC) SendIPI(target uint32, vector uint8) {}

func newTestCPU(t *testing.T) (*sched.CPU, *pcpu.Record) {
	t.Helper()
	frames := frame.NewSimulated(0, 256)
	ks := aspace.NewKernel(frames)
	vaset := vaddr.NewSet(vaddr.KernelWindow)
	st, err := gstack.New(ks, vaset, frames, 2, aspace.Present|aspace.Write)
	if err != 0 {
		t.Fatalf("gstack.New: %v", err)
	}
	idle := task.NewKernel(1, 0x1, 0x2, 0, st)
	pc := pcpu.New(0, 0)
	return sched.NewCPU(pc, fakeAPIC{}, idle), pc
}

func TestRingFromSelector(t *testing.T) {
	if got := RingFromSelector(task.KernelCS); got != 0 {
		t.Fatalf("kernel selector should decode to ring 0, got %d", got)
	}
	if got := RingFromSelector(task.UserCS); got != 3 {
		t.Fatalf("user selector should decode to ring 3, got %d", got)
	}
}

func TestDeliverTimerCopiesSnapshotWhenNotInSyscall(t *testing.T) {
	cpu, pc := newTestCPU(t)
	current := &task.Frame{RIP: 111, CS: task.KernelCS}
	pc.SetCurrentFrame(unsafe.Pointer(current))
	pc.SetInSyscall(false)

	snapshot := &task.Frame{RIP: 222, CS: task.KernelCS}
	DeliverTimer(cpu, pc, snapshot)

	if current.RIP != 222 {
		t.Fatalf("expected the snapshot to be copied into the current frame, got RIP=%d", current.RIP)
	}
}

func TestDeliverTimerDiscardsSnapshotWhenInSyscall(t *testing.T) {
	cpu, pc := newTestCPU(t)
	current := &task.Frame{RIP: 111, CS: task.KernelCS}
	pc.SetCurrentFrame(unsafe.Pointer(current))
	pc.SetInSyscall(true)

	snapshot := &task.Frame{RIP: 222, CS: task.KernelCS}
	DeliverTimer(cpu, pc, snapshot)

	if current.RIP != 111 {
		t.Fatalf("in-syscall snapshot must be discarded, but current frame changed to RIP=%d", current.RIP)
	}
}

func TestDeliverTimerToleratesNoCurrentFrame(t *testing.T) {
	cpu, pc := newTestCPU(t)
	snapshot := &task.Frame{RIP: 222, CS: task.KernelCS}
	// pc.CurrentFrame() is nil until something sets it; this must not panic.
	DeliverTimer(cpu, pc, snapshot)
}

func TestKeyboardCharAndShift(t *testing.T) {
	k := NewKeyboard()
	k.HandleScancode(0x1E) // 'a' press
	ev, ok := k.TryRead()
	if !ok || ev.EventType != defs.KeyChar || ev.Character != 'a' {
		t.Fatalf("expected char 'a', got %+v ok=%v", ev, ok)
	}

	k.HandleScancode(0x2A)      // left shift down
	k.HandleScancode(0x1E)      // 'a' press while shifted
	k.HandleScancode(0x2A | 0x80) // left shift up
	ev, ok = k.TryRead()
	if !ok || ev.EventType != defs.KeyChar || ev.Character != 'A' {
		t.Fatalf("expected shifted char 'A', got %+v ok=%v", ev, ok)
	}
}

func TestKeyboardCapslockToggle(t *testing.T) {
	k := NewKeyboard()
	k.HandleScancode(0x3A) // capslock press
	k.HandleScancode(0x1E) // 'a' while capslock on
	ev, ok := k.TryRead()
	if !ok || ev.Character != 'A' {
		t.Fatalf("expected capslock to uppercase 'a', got %+v ok=%v", ev, ok)
	}
	k.HandleScancode(0x3A) // capslock off again
	k.HandleScancode(0x1E)
	ev, _ = k.TryRead()
	if ev.Character != 'a' {
		t.Fatalf("expected capslock toggle back to lowercase, got %q", ev.Character)
	}
}

func TestKeyboardSpecialKeys(t *testing.T) {
	k := NewKeyboard()
	k.HandleScancode(0x1C) // enter
	k.HandleScancode(0x0E) // backspace
	k.HandleScancode(0x01) // escape

	want := []defs.KeyEventType{defs.KeyEnter, defs.KeyBackspace, defs.KeyEscape}
	for _, w := range want {
		ev, ok := k.TryRead()
		if !ok || ev.EventType != w {
			t.Fatalf("expected %v, got %+v ok=%v", w, ev, ok)
		}
	}
}

func TestKeyboardArrowKeys(t *testing.T) {
	k := NewKeyboard()
	k.HandleScancode(0xE0) // extended prefix
	k.HandleScancode(0x48) // arrow up press
	ev, ok := k.TryRead()
	if !ok || ev.EventType != defs.KeyArrowUp {
		t.Fatalf("expected arrow up, got %+v ok=%v", ev, ok)
	}
}

func TestKeyboardReleaseEventsAreIgnored(t *testing.T) {
	k := NewKeyboard()
	k.HandleScancode(0x1E | 0x80) // 'a' release, no press
	if _, ok := k.TryRead(); ok {
		t.Fatal("a release scancode should not produce an event")
	}
}

func TestKeyboardBufferDropsWhenFull(t *testing.T) {
	k := NewKeyboard()
	for i := 0; i < klimits.KeyBufferSize+8; i++ {
		k.HandleScancode(0x1E)
	}
	n := 0
	for {
		if _, ok := k.TryRead(); !ok {
			break
		}
		n++
	}
	if n != klimits.KeyBufferSize {
		t.Fatalf("expected exactly the buffer capacity of events to survive, got %d", n)
	}
}

func TestKeyboardWaiterWoken(t *testing.T) {
	k := NewKeyboard()
	if !k.RegisterWaiter("parent-handle") {
		t.Fatal("registering the first waiter should succeed")
	}
	if k.RegisterWaiter("second-handle") {
		t.Fatal("a second waiter must be rejected (single-slot discipline)")
	}
	woken := k.HandleScancode(0x1E)
	if woken != "parent-handle" {
		t.Fatalf("expected the registered waiter to be woken, got %v", woken)
	}
	// The slot was cleared; a fresh waiter may register again.
	if !k.RegisterWaiter("another-handle") {
		t.Fatal("the slot should be free after being woken")
	}
}

func TestMouseDecodesPacket(t *testing.T) {
	m := NewMouse()
	// status byte: bit3 set, left button down, no overflow, no sign bits.
	m.HandleByte(0x09)
	m.HandleByte(10) // dx = +10
	m.HandleByte(5)  // raw dy = 5 -> inverted to -5

	ev, ok := m.TryRead()
	if !ok {
		t.Fatal("expected a decoded sample")
	}
	if ev.DX != 10 || ev.DY != -5 || ev.Buttons&defs.MouseLeft == 0 {
		t.Fatalf("unexpected decode: %+v", ev)
	}
	if _, ok := m.TryRead(); ok {
		t.Fatal("sample should be consumed after one TryRead")
	}
}

func TestMouseResyncsOnBadStatusByte(t *testing.T) {
	m := NewMouse()
	m.HandleByte(0x00) // no bit 3 set: not a real status byte, discarded
	m.HandleByte(0x08) // now a valid status byte
	m.HandleByte(1)
	m.HandleByte(1)
	if _, ok := m.TryRead(); !ok {
		t.Fatal("expected the resynchronised packet to decode")
	}
}

func TestMouseDiscardsOverflowPacket(t *testing.T) {
	m := NewMouse()
	m.HandleByte(0x08 | 0x40) // overflow bit set
	m.HandleByte(1)
	m.HandleByte(1)
	if _, ok := m.TryRead(); ok {
		t.Fatal("a packet with an overflow bit set should be discarded")
	}
}

func TestMouseCoalescesSamples(t *testing.T) {
	m := NewMouse()
	m.HandleByte(0x08)
	m.HandleByte(1)
	m.HandleByte(0)
	m.HandleByte(0x08)
	m.HandleByte(2)
	m.HandleByte(0)
	ev, ok := m.TryRead()
	if !ok || ev.DX != 2 {
		t.Fatalf("a second packet arriving before TryRead should overwrite the first, got %+v ok=%v", ev, ok)
	}
}
