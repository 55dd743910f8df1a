// Package archx86 declares the hardware primitives the rest of the
// kernel is built on: GDT/IDT setup, MSR access, the per-CPU segment
// base register, CR3 loads, and interrupt/halt control. Every function
// here has no body -- each is implemented in a corresponding .s file
// that speaks directly to the hardware and is therefore not portable
// Go, the same split gopher-os draws between its cpu package's
// signatures and their assembly bodies.
//
// Nothing outside archx86 may issue a privileged instruction directly;
// every other package goes through one of these functions so that the
// hardware boundary stays in exactly one place.
package archx86

// Msr identifies a model-specific register.
type Msr uint32

const (
	MsrFsBase   Msr = 0xC0000100
	MsrGsBase   Msr = 0xC0000101
	MsrKernelGs Msr = 0xC0000102
	MsrEfer     Msr = 0xC0000080
	MsrStar     Msr = 0xC0000081
	MsrLstar    Msr = 0xC0000082
	MsrFmask    Msr = 0xC0000084

	MsrTscDeadline  Msr = 0x6E0
	MsrX2ApicLvtTmr Msr = 0x832
	MsrX2ApicEOI    Msr = 0x80B
	MsrX2ApicICR    Msr = 0x830
)

// EnableInterrupts executes STI.
func EnableInterrupts()

// DisableInterrupts executes CLI.
func DisableInterrupts()

// InterruptsEnabled reports the current value of RFLAGS.IF.
func InterruptsEnabled() bool

// Halt executes HLT. Returns when the next interrupt fires.
func Halt()

// ReadMsr reads a model-specific register.
func ReadMsr(m Msr) uint64

// WriteMsr writes a model-specific register.
func WriteMsr(m Msr, v uint64)

// SetGSBase loads MSR_GS_BASE with addr: the mechanism by which each
// CPU's per-CPU record (kernel/pcpu) becomes reachable via a fixed
// %gs-relative offset regardless of which task is running.
func SetGSBase(addr uintptr)

// GSBase reads MSR_GS_BASE back.
func GSBase() uintptr

// LoadCR3 switches the active page-table root (kernel/aspace.AddressSpace.CR3).
func LoadCR3(pa uintptr)

// ReadCR2 returns the faulting address recorded by the last page fault.
func ReadCR2() uintptr

// Rdtsc reads the timestamp counter (kernel/timer).
func Rdtsc() uint64

// LoadGDT installs the kernel's global descriptor table.
func LoadGDT(base uintptr, limit uint16)

// LoadIDT installs the kernel's interrupt descriptor table.
func LoadIDT(base uintptr, limit uint16)

// LoadTR loads the task register with the given GDT selector, pointing
// it at the current CPU's TSS (kernel/pcpu's IST stacks).
func LoadTR(selector uint16)

// WriteCR0/WriteCR4 are used once during bootstrap to turn on paging,
// write protection, and the feature bits SYSCALL/SYSRET require.
func WriteCR0(v uintptr)
func WriteCR4(v uintptr)
func ReadCR0() uintptr
func ReadCR4() uintptr

// Outb writes a single byte to an I/O port (OUT instruction). Used by
// kernel/syscalls' Shutdown handler to hit the architectural debug-exit
// port.
func Outb(port uint16, v uint8)

// Inb reads a single byte from an I/O port (IN instruction).
func Inb(port uint16) uint8
