// Package interrupt implements the non-assembly half of interrupt
// entry: the timer-ISR register-snapshot handoff into kernel/sched, and
// the keyboard/mouse/NMI handlers alongside it.
//
// The assembly trampoline (not present in this module -- see
// kernel/archx86's package doc) does the part Go cannot express: saving
// 15 GPRs onto the task's kernel stack before calling in here, and
// restoring them from the returned frame on the way out. Everything
// that can be decided in Go lives here instead.
package interrupt

import (
	"sync"

	"archx86"
	"defs"
	"klimits"
	"pcpu"
	"sched"
	"task"
)

// RingFromSelector returns the privilege ring encoded in the low two
// bits of a saved code selector (task.KernelCS -> 0, task.UserCS -> 3).
// Used to decide whether the segment base was already swapped by the
// time Go code runs; the swap itself is the assembly trampoline's job,
// this is purely informational for anything that wants to record where
// an interrupt landed.
func RingFromSelector(cs uint64) int { return int(cs & 0x3) }

// DeliverTimer handles a timer interrupt end to end. snapshot is the
// register state the assembly trampoline just pushed. If the current
// task's saved-frame pointer is set and the CPU is not mid-syscall, the
// snapshot becomes that task's saved frame (step 3); otherwise it is
// discarded, because the syscall-entry path already recorded the user
// state this snapshot would stomp on. It then asks cpu to pick the next
// task to run (step 5, which itself acknowledges the interrupt) and
// returns that task's frame for the trampoline to restore.
func DeliverTimer(cpu *sched.CPU, pc *pcpu.Record, snapshot *task.Frame) *task.Frame {
	if cur := pc.CurrentFrame(); cur != nil && !pc.InSyscall() {
		*(*task.Frame)(cur) = *snapshot
	}
	return cpu.ScheduleFromInterrupt(snapshot.CS)
}

// HandleReschedule is the handler bound to sched.RescheduleVector: an
// IPI whose only job is to make the target CPU re-enter the scheduler.
// DeliverTimer already does that; this exists so the IDT has a named
// entry distinct from the timer vector.
func HandleReschedule(cpu *sched.CPU, pc *pcpu.Record, snapshot *task.Frame) *task.Frame {
	return DeliverTimer(cpu, pc, snapshot)
}

// HandleNMI parks this CPU. Non-maskable interrupts signal conditions
// (machine-check escalation, double-bit ECC errors) with no defined
// recovery; delivery itself is hardware-mandated, but something must
// still occupy the vector.
func HandleNMI() {
	for {
		archx86.Halt()
	}
}

// --- Keyboard -------------------------------------------------------
//
// Grounded on original_source's kernel/src/drivers/keyboard.rs: a
// fixed-size ring buffer of defs.KeyEvent fed one PS/2 Set 1 scancode at
// a time, with shift/capslock/extended-prefix state threaded across
// calls. SPEC_FULL.md's supplemented-features section calls this out as
// the producer side of why ReadKey blocks: the buffer is an actual FIFO
// with a single waiter slot, unlike the mouse's coalescing cell below.

// normalTable and shiftedTable are PS/2 Set 1 scancode-to-ASCII lookup
// tables (unshifted / shifted), ported from keyboard.rs's NORMAL/SHIFTED
// statics. Index is the scancode with the release bit (0x80) masked off.
var normalTable = [...]byte{
	0, 27, '1', '2', '3', '4', '5', '6', '7', '8', '9', '0', '-', '=', '\x08',
	'\t', 'q', 'w', 'e', 'r', 't', 'y', 'u', 'i', 'o', 'p', '[', ']', '\n',
	0, 'a', 's', 'd', 'f', 'g', 'h', 'j', 'k', 'l', ';', '\'', '`',
	0, '\\', 'z', 'x', 'c', 'v', 'b', 'n', 'm', ',', '.', '/', 0, '*',
	0, ' ',
}

var shiftedTable = [...]byte{
	0, 27, '!', '@', '#', '$', '%', '^', '&', '*', '(', ')', '_', '+', '\x08',
	'\t', 'Q', 'W', 'E', 'R', 'T', 'Y', 'U', 'I', 'O', 'P', '{', '}', '\n',
	0, 'A', 'S', 'D', 'F', 'G', 'H', 'J', 'K', 'L', ':', '"', '~',
	0, '|', 'Z', 'X', 'C', 'V', 'B', 'N', 'M', '<', '>', '?', 0, '*',
	0, ' ',
}

func scancodeToASCII(code byte, uppercase bool) (byte, bool) {
	table := &normalTable
	if uppercase {
		table = &shiftedTable
	}
	if int(code) < len(table) {
		if c := table[code]; c != 0 {
			return c, true
		}
	}
	return 0, false
}

// Keyboard is the kernel-wide keyboard state: the event ring buffer plus
// the single receive-waiter slot ReadKey blocks on, woken by the
// keyboard ISR exactly as kernel/ipc's channel waiters are woken by a
// send.
type Keyboard struct {
	mu   sync.Mutex
	buf  [klimits.KeyBufferSize]defs.KeyEvent
	head int
	tail int
	count int

	shift    bool
	capslock bool
	extended bool

	waiter interface{}
}

// NewKeyboard constructs an empty keyboard with no waiter registered.
func NewKeyboard() *Keyboard { return &Keyboard{} }

// push appends e to the ring buffer, dropping it if the buffer is full
// (keyboard.rs's KeyBuffer::push: "drop oldest events if full" is the
// comment, but the code just declines the new one, which is what this
// mirrors). It returns and clears any registered waiter so the caller
// can wake it.
func (k *Keyboard) push(e defs.KeyEvent) interface{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.count < len(k.buf) {
		k.buf[k.tail] = e
		k.tail = (k.tail + 1) % len(k.buf)
		k.count++
	}
	w := k.waiter
	k.waiter = nil
	return w
}

// TryRead pops the oldest pending key event, the non-blocking half of
// ReadKey's contract; the blocking half lives at the syscall boundary
// (kernel/syscalls), which registers a waiter on a miss.
func (k *Keyboard) TryRead() (defs.KeyEvent, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.count == 0 {
		return defs.KeyEvent{}, false
	}
	e := k.buf[k.head]
	k.head = (k.head + 1) % len(k.buf)
	k.count--
	return e, true
}

// RegisterWaiter installs handle as the single receive-waiter, refusing
// if one is already registered: the same single-waiter-slot-per-
// resource discipline kernel/ipc and kernel/task enforce.
func (k *Keyboard) RegisterWaiter(handle interface{}) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.waiter != nil {
		return false
	}
	k.waiter = handle
	return true
}

// HandleScancode processes one raw PS/2 Set 1 scancode from the
// keyboard ISR (port 0x60), the Go-side continuation of
// on_keyboard_interrupt in keyboard.rs. It returns the waiter woken by a
// newly queued event, or nil if none was queued or none was waiting.
func (k *Keyboard) HandleScancode(scancode byte) interface{} {
	if scancode == 0xE0 {
		k.mu.Lock()
		k.extended = true
		k.mu.Unlock()
		return nil
	}

	released := scancode&0x80 != 0
	code := scancode & 0x7F
	pressed := !released

	k.mu.Lock()
	isExtended := k.extended
	k.extended = false
	k.mu.Unlock()

	if isExtended {
		if !pressed {
			return nil
		}
		var ev defs.KeyEvent
		switch code {
		case 0x48:
			ev = defs.KeyEvent{EventType: defs.KeyArrowUp}
		case 0x50:
			ev = defs.KeyEvent{EventType: defs.KeyArrowDown}
		case 0x4B:
			ev = defs.KeyEvent{EventType: defs.KeyArrowLeft}
		case 0x4D:
			ev = defs.KeyEvent{EventType: defs.KeyArrowRight}
		default:
			return nil
		}
		return k.push(ev)
	}

	if code == 0x2A || code == 0x36 {
		k.mu.Lock()
		k.shift = pressed
		k.mu.Unlock()
		return nil
	}

	if code == 0x3A {
		if pressed {
			k.mu.Lock()
			k.capslock = !k.capslock
			k.mu.Unlock()
		}
		return nil
	}

	if !pressed {
		return nil
	}

	var ev defs.KeyEvent
	switch code {
	case 0x01:
		ev = defs.KeyEvent{EventType: defs.KeyEscape}
	case 0x0E:
		ev = defs.KeyEvent{EventType: defs.KeyBackspace}
	case 0x0F:
		ev = defs.KeyEvent{EventType: defs.KeyTab}
	case 0x1C:
		ev = defs.KeyEvent{EventType: defs.KeyEnter}
	default:
		k.mu.Lock()
		uppercase := k.shift != k.capslock
		k.mu.Unlock()
		c, ok := scancodeToASCII(code, uppercase)
		if !ok {
			return nil
		}
		ev = defs.KeyEvent{EventType: defs.KeyChar, Character: c}
	}
	return k.push(ev)
}

// --- Mouse ------------------------------------------------------------
//
// Grounded on original_source's kernel/core/src/drivers/mouse.rs packet
// decode, but storing only the latest decoded sample rather than a
// FIFO: SPEC_FULL.md's supplemented-features section specifies the
// mouse as a latest-sample cell consumed non-blocking, which is why
// ReadMouse never blocks while ReadKey does. The cell is guarded by a
// mutex; it is not lock-free.

// Mouse is the kernel-wide PS/2 mouse state: a 3-byte packet
// accumulator plus the single most recent decoded sample.
type Mouse struct {
	mu     sync.Mutex
	idx    int
	packet [3]byte

	have   bool
	sample defs.MouseEvent
}

// NewMouse constructs a mouse with no pending sample.
func NewMouse() *Mouse { return &Mouse{} }

// TryRead returns the most recent sample and clears it, or ok=false if
// no sample has arrived since the last TryRead.
func (m *Mouse) TryRead() (defs.MouseEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.have {
		return defs.MouseEvent{}, false
	}
	e := m.sample
	m.have = false
	return e, true
}

// HandleByte processes one raw byte from the mouse ISR (port 0x60), the
// Go-side continuation of on_mouse_interrupt in mouse.rs: accumulate
// into a 3-byte packet, resynchronising on a byte at position 0 that
// doesn't look like a PS/2 status byte, and decode + coalesce a sample
// once a full packet has arrived.
func (m *Mouse) HandleByte(b byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.idx == 0 && b&0x08 == 0 {
		return
	}
	m.packet[m.idx] = b
	m.idx++
	if m.idx < 3 {
		return
	}
	m.idx = 0

	status, rawDX, rawDY := m.packet[0], m.packet[1], m.packet[2]
	if status&0xC0 != 0 {
		// Overflow bits set: discard the packet.
		return
	}

	dx := int16(rawDX)
	if status&0x10 != 0 {
		dx |= -256
	}
	dy := int16(rawDY)
	if status&0x20 != 0 {
		dy |= -256
	}
	dy = -dy // PS/2 Y is inverted; positive = down in screen coordinates.

	var buttons uint8
	if status&0x01 != 0 {
		buttons |= defs.MouseLeft
	}
	if status&0x02 != 0 {
		buttons |= defs.MouseRight
	}
	if status&0x04 != 0 {
		buttons |= defs.MouseMiddle
	}

	m.have = true
	m.sample = defs.MouseEvent{DX: dx, DY: dy, Buttons: buttons}
}
