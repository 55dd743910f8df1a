// Package panicdump implements the kernel's fatal-error path: a kernel
// panic has no recovery, only a visual dump to the framebuffer and an
// NMI broadcast telling every other CPU to stop. It renders the panic
// message, the faulting frame's registers, a
// disassembly of the instruction at the saved RIP, and a Go-side call
// stack into the framebuffer, then broadcast NMI and hang.
//
// Grounded on the teacher's caller/caller.go (Callerdump's
// runtime.Caller walk becomes this package's stack rendering -- this
// kernel runs as ordinary Go code, so "the call stack" is the host
// goroutine's stack, the same substitution kernel/boot's doc comment
// makes for "the CPU" being a goroutine) and on
// golang.org/x/arch/x86/x86asm, which the teacher's go.mod already
// requires, used here the way any disassembler consumes it: Decode the
// bytes at the fault, then GNUSyntax to get a readable line for the
// dump. The NMI broadcast itself mirrors original_source's
// interrupt.rs handle_panic_from_other_cpu: walk every other CPU and
// send_nmi it.
package panicdump

import (
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"archx86"
	"display"
	"task"
)

// APIC is the subset of local-APIC control Broadcast needs to reach
// every other CPU. kernel/timer's LocalAPIC and kernel/sched's APIC
// both offer EOI as well as SendIPI; panicdump only needs SendIPI, so
// it asks for exactly that rather than importing sched.
type APIC interface {
	SendIPI(targetAPICID uint32, vector uint8)
}

// NMIVector is the IPI vector a panicking CPU sends to every other CPU
// to bring the whole machine down together, rather than leaving other
// CPUs to keep scheduling tasks against memory a panic may have left
// inconsistent. Chosen to match the real, architectural NMI delivery
// vector (2) local APICs use for a fixed NMI message -- kernel/interrupt
// already reserves this vector for HandleNMI.
const NMIVector uint8 = 2

// Report is everything Dump needs to render one fatal error.
type Report struct {
	Message string
	Frame   *task.Frame // may be nil if the panic has no associated task frame
	Code    []byte      // instruction bytes at Frame.RIP, for disassembly

	// StackSkip is the number of Dump-internal frames to skip before
	// Go's own call stack starts, the same role caller.Callerdump's
	// start parameter plays.
	StackSkip int
}

// Render formats r as the crash screen's text: the message, the saved
// frame's registers (if any), a one-line disassembly of the
// instruction at the fault (if Code is non-empty), and the call stack.
// Kept separate from blitting so tests can check the text without a
// framebuffer.
func Render(r Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "KERNEL PANIC: %s\n", r.Message)

	if r.Frame != nil {
		fmt.Fprintf(&b, "RIP=%#016x RSP=%#016x CS=%#x\n", r.Frame.RIP, r.Frame.RSP, r.Frame.CS)
		fmt.Fprintf(&b, "RAX=%#016x RBX=%#016x RCX=%#016x RDX=%#016x\n",
			r.Frame.RAX, r.Frame.RBX, r.Frame.RCX, r.Frame.RDX)
	}

	if len(r.Code) > 0 {
		fmt.Fprintf(&b, "%s\n", disassemble(r))
	}

	b.WriteString(stackTrace(r.StackSkip + 1))
	return b.String()
}

// disassemble decodes the single instruction at the start of r.Code and
// formats it GNU-syntax, the same two-call sequence (Decode then
// GNUSyntax) any x86asm consumer uses. A malformed instruction stream
// (truncated fault capture, mid-instruction RIP) is reported as text
// rather than causing the crash dump itself to fail.
func disassemble(r Report) string {
	inst, err := x86asm.Decode(r.Code, 64)
	if err != nil {
		return fmt.Sprintf("<bad instruction: %v>", err)
	}
	pc := uint64(0)
	if r.Frame != nil {
		pc = r.Frame.RIP
	}
	return x86asm.GNUSyntax(inst, pc, nil)
}

// stackTrace walks the host Go call stack starting skip frames up,
// formatting it the same "file:line <- file:line" chain
// caller.Callerdump builds, since this kernel's CPUs are goroutines and
// a Go panic's useful stack is this process's, not a simulated one.
func stackTrace(skip int) string {
	var b strings.Builder
	for i := skip; ; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if b.Len() == 0 {
			fmt.Fprintf(&b, "%s:%d\n", file, line)
		} else {
			fmt.Fprintf(&b, "\t<-%s:%d\n", file, line)
		}
	}
	return b.String()
}

// Dump renders r and blits it into fb's backing memory as white-on-black
// text starting at the top-left corner, then returns the rendered text
// (for a serial/log sink to print alongside the visual dump, the same
// dual channel original_source's rust_panic uses: log::error! plus the
// framebuffer). mem must be at least fb.Pitch*fb.Height bytes, the
// linear framebuffer's own backing store.
func Dump(fb display.Framebuffer, mem []byte, r Report) string {
	text := Render(r)
	drawText(fb, mem, text)
	return text
}

// Broadcast sends NMIVector to every CPU in cpus other than selfAPICID,
// mirroring handle_panic_from_other_cpu's "send_nmi to every other
// kernel id". It does not wait for acknowledgement -- an NMI has no
// reply, and a panicking CPU has nothing left to wait correctly for.
func Broadcast(cpus map[uint32]APIC, selfAPICID uint32) {
	for id, apic := range cpus {
		if id == selfAPICID {
			continue
		}
		apic.SendIPI(id, NMIVector)
	}
}

// Halt parks the calling CPU forever, the tail every path through Dump
// and Broadcast reaches: a kernel panic is unrecoverable, so nothing
// past this point ever runs again on this CPU. Mirrors kernel/interrupt's
// HandleNMI, which every other CPU ends up in once Broadcast's NMI
// lands.
func Halt() {
	for {
		archx86.Halt()
	}
}
