// Command nimbus is the kernel's entry point: the Go-side continuation
// of whatever assembly stub a bootloader jumps to after handing off a
// framebuffer, a physical memory map, and the boot modules it loaded.
//
// Grounded on original_source's kernel_main/init_bsp in
// kernel/src/main.rs: enable the framebuffer, bring up every subsystem
// through kernel/boot.Start, enable interrupts, and hlt_loop forever --
// everything after that point is driven by interrupts and SYSCALL
// traps, which is why main itself does nothing but wait. The top-level
// recover here plays rust_panic's role: render the crash screen, send
// NMI to every other CPU, then hang -- a kernel panic has no recovery,
// only a visual dump and a broadcast telling every other CPU to stop
// before it schedules against memory the panic may have left
// inconsistent.
package main

import (
	"fmt"

	"archx86"
	"boot"
	"display"
	"panicdump"
	"pcpu"
)

// platformInfo builds the boot.Info this binary hands to boot.Start.
// Every field here would, on real hardware, come from the bootloader's
// own responses (Limine's framebuffer/memory-map/MP/RSDP requests, the
// way original_source's FRAME_BUFFER_REQUEST/MEMORY_MAP_REQUEST/
// MP_REQUEST/RSDP_REQUEST statics are read in kernel_main/init_bsp) and
// from a platform-specific GDT/IDT/TSS builder outside this module's
// scope, the same boundary kernel/archx86's package doc draws. This
// function is the one place nimbus stands in for that missing
// bootloader and platform glue with fixed, documented placeholders.
func platformInfo() boot.Info {
	cpu := boot.CPUInfo{
		LocalAPICID: 0,
		GDT:         &pcpu.GDT{},
		IDT:         &pcpu.IDT{},
		TSS:         &pcpu.TSS{},
	}

	return boot.Info{
		RAMBase:  0,
		RAMPages: 64 * 1024, // 256 MiB of simulated RAM

		Framebuffer: display.Framebuffer{
			Width: 1024, Height: 768, Pitch: 1024 * 4,
			RedMaskSize: 8, RedMaskShift: 16,
			GreenMaskSize: 8, GreenMaskShift: 8,
			BlueMaskSize: 8, BlueMaskShift: 0,
		},

		CPUs: []boot.CPUInfo{cpu},

		// KernelTrampoline/IdleEntry are opaque addresses a real
		// assembly stub would jump to; nothing in this Go-hosted
		// kernel ever dereferences them directly.
		KernelTrampoline: 0x1000,
		IdleEntry:        0x1008,
	}
}

func main() {
	defer crashOnPanic()

	info := platformInfo()
	fb = info.Framebuffer
	k := boot.Start(info)

	archx86.EnableInterrupts()

	// A real SYSCALL/interrupt-entry trampoline would now start
	// calling boot.HandleSyscall and kernel/interrupt's handlers on
	// every trap; main itself has nothing left to do but wait, the
	// same as init_bsp's trailing hlt_loop after enabling interrupts.
	_ = k
	for {
		archx86.Halt()
	}
}

// fb is the framebuffer crashOnPanic renders into. Stashed here rather
// than threaded through every call site because a panic can unwind from
// anywhere, the same reason original_source's rust_panic reads its
// framebuffer out of a static rather than a parameter.
var fb display.Framebuffer

// crashOnPanic is nimbus's panic handler: render the crash screen into
// fb, broadcast NMI to every other CPU, and hang. Recovering here and
// then parking in Halt's infinite loop keeps this the single place the
// whole kernel touches recover(), matching original_source's single
// DID_PANIC-gated rust_panic.
func crashOnPanic() {
	r := recover()
	if r == nil {
		return
	}

	msg := fmt.Sprint(r)
	mem := make([]byte, int(fb.Pitch)*int(fb.Height))
	panicdump.Dump(fb, mem, panicdump.Report{Message: msg, StackSkip: 1})

	// No real APIC registry exists in this simulated boot path; a
	// platform build would pass the same map kernel/sched's Global
	// already keeps per CPU.
	panicdump.Broadcast(nil, 0)
	panicdump.Halt()
}
