// Package timer implements the one-shot deadline timer and TSC access
// plus a thin local-APIC handle satisfying kernel/sched.APIC.
//
// Grounded on the teacher's stats/stats.go Rdtsc (a runtime.Rdtsc
// wrapper gated by a Stats flag) and SPEC_FULL.md's supplement from
// original_source/kernel/src/time/lapic_timer.rs: TSC-deadline mode
// (IA32_TSC_DEADLINE MSR) rather than the periodic one-shot-count-down
// mode the teacher's own x86 target never used, and x2APIC
// register-MSR access (IA32_X2APIC_EOI/ICR) for acknowledgement and
// IPIs rather than xAPIC MMIO.
package timer

import (
	"sync/atomic"

	"archx86"
)

// tscHz is the calibrated TSC frequency in Hz, set once by Calibrate
// during bootstrap. Reads before calibration return 0, which every
// conversion helper below treats as "not yet calibrated" and refuses
// to guess.
var tscHz atomic.Uint64

// Calibrate records the measured TSC frequency. The actual measurement
// (racing the TSC against a known-good clock such as the PIT) is
// platform bring-up code outside this package's scope; Calibrate only
// stores the result.
func Calibrate(hz uint64) { tscHz.Store(hz) }

// Now returns the current TSC value.
func Now() uint64 { return archx86.Rdtsc() }

// DeadlineFromNow converts a duration in nanoseconds into an absolute
// TSC deadline suitable for ArmDeadline, or ok=false if Calibrate has
// not run yet.
func DeadlineFromNow(ns uint64) (deadline uint64, ok bool) {
	hz := tscHz.Load()
	if hz == 0 {
		return 0, false
	}
	ticks := ns * hz / 1_000_000_000
	return archx86.Rdtsc() + ticks, true
}

// ArmDeadline programs the TSC-deadline timer to fire at the given
// absolute TSC value. A deadline at or before the current TSC fires
// essentially immediately, the same one-shot semantics the interrupt
// entry path expects.
func ArmDeadline(deadline uint64) {
	archx86.WriteMsr(archx86.MsrTscDeadline, deadline)
}

// Disarm cancels any pending deadline.
func Disarm() {
	archx86.WriteMsr(archx86.MsrTscDeadline, 0)
}

// LocalAPIC is the per-CPU local-APIC handle, identified by the
// LocalAPICID kernel/pcpu's per-CPU record stores (kernel/boot builds
// one per CPU), and satisfies kernel/sched.APIC so the
// scheduler can acknowledge interrupts and send reschedule IPIs without
// depending on this package.
type LocalAPIC struct {
	ID uint32 // this CPU's local APIC id
}

// EOI acknowledges the current interrupt to the local APIC.
func (a *LocalAPIC) EOI() {
	archx86.WriteMsr(archx86.MsrX2ApicEOI, 0)
}

// SendIPI sends a fixed-delivery IPI to targetAPICID on vector, the
// mechanism behind cross-CPU wakeups (the reschedule IPI) and
// kernel/sched.Global.Spawn's placement notification. Grounded on
// original_source's apic::send_fixed_ipi x2APIC branch: the ICR MSR
// write encodes the destination in bits 63:32 and the vector in 7:0.
func (a *LocalAPIC) SendIPI(targetAPICID uint32, vector uint8) {
	icr := (uint64(targetAPICID) << 32) | uint64(vector)
	archx86.WriteMsr(archx86.MsrX2ApicICR, icr)
}
