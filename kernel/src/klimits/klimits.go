// Package klimits centralizes the system-wide tunables that bound kernel
// resource tables, the same way the teacher's limits package centralizes
// biscuit's (vnodes, futexes, arp entries, ...). None of these are
// enforced by the hardware; they exist so a runaway user task fails a
// syscall instead of exhausting kernel memory.
package klimits

import "sync/atomic"

// Tunable describes a system-wide resource limit enforced by Take/Give
// accounting, mirroring the teacher's Sysatomic_t.
type Tunable int64

func (t *Tunable) Take() bool {
	if atomic.AddInt64((*int64)(t), -1) >= 0 {
		return true
	}
	atomic.AddInt64((*int64)(t), 1)
	return false
}

func (t *Tunable) Give() {
	atomic.AddInt64((*int64)(t), 1)
}

// Limits holds the default tunables for this kernel build.
type Limits struct {
	MaxTasks       Tunable
	MaxChannels    Tunable
	MaxSharedBufs  Tunable
	MaxServices    Tunable
	MaxReadyPerCpu Tunable
}

// Default is the global limits table, populated at boot.
var Default = &Limits{
	MaxTasks:       1 << 14,
	MaxChannels:    1 << 12,
	MaxSharedBufs:  1 << 12,
	MaxServices:    256,
	MaxReadyPerCpu: 1 << 16,
}

// GuardedStackDefault is the default guarded-stack payload size (excludes
// the guard page itself), matching the kernel-task stacks the scheduler
// hands out at spawn.
const GuardedStackDefault = 32 * 1024

// UserStackSize is the fixed stack size the ELF loader maps for every
// user task.
const UserStackSize = 64 * 1024

// ChannelCapMin and ChannelCapMax bound IPC channel capacity.
const (
	ChannelCapMin     = 1
	ChannelCapMax     = 256
	ChannelCapDefault = 16
)

// MaxMessageSize is the largest single IPC message.
const MaxMessageSize = 4096

// KeyBufferSize bounds the keyboard ring buffer (kernel/interrupt),
// matching original_source's KEY_BUFFER_SIZE. The mouse has no
// equivalent: it is a single coalescing latest-sample cell, not a FIFO.
const KeyBufferSize = 64

// FramebufferUserVaddr is the fixed canonical lower-half address the
// framebuffer is mapped at in a task's address space after a
// successful TransferDisplay, matching original_source's
// kernel_api_types::graphics::FRAMEBUFFER_USER_VADDR.
const FramebufferUserVaddr = 0x7F00_0000_0000
