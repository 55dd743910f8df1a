// Package aspace implements the address-space manager: per-task page
// tables, map/unmap with attribute flags, and the teardown walker that
// returns every mapped frame to the physical frame manager when a task
// exits.
//
// Grounded on the teacher's vm/as.go Vm_t (Lock_pmap/Page_insert/
// Page_remove/Uvmfree) and vm/userbuf.go (Userdmap8_inner, User2k/K2user)
// for the user-pointer copy helpers used by kernel/syscalls. Unlike the
// teacher, which lets the Go runtime's own paging do the real MMU work
// and layers refcounted COW semantics on top, this kernel has no
// demand paging or COW, so the four-level walk below is the whole
// story: every PTE is written once by Map and removed once by Unmap or
// Teardown.
package aspace

import (
	"encoding/binary"
	"sync"
	"unsafe"

	"defs"
	"frame"
	"vaddr"
)

// PTE flag bits. Present/Write/User/WriteThrough/NoCache/Accessed/Dirty
// mirror the real x86-64 PTE layout; Shared is one of the three bits
// architecturally reserved for OS use (9-11) and marks a leaf whose
// backing frame must be freed with frame.SharedBuffer instead of
// frame.UserData during teardown.
type PTE uint64

const (
	Present      PTE = 1 << 0
	Write        PTE = 1 << 1
	User         PTE = 1 << 2
	WriteThrough PTE = 1 << 3
	NoCache      PTE = 1 << 4
	Accessed     PTE = 1 << 5
	Dirty        PTE = 1 << 6
	Shared       PTE = 1 << 9
	NoExecute    PTE = 1 << 63

	addrMask uint64 = 0x000f_ffff_ffff_f000
)

func (p PTE) addr() uint64   { return uint64(p) & addrMask }
func (p PTE) present() bool  { return p&Present != 0 }
func (p PTE) flagBits() PTE  { return p &^ PTE(addrMask) }

// KernelSlot is the PML4 index at which the higher half begins
// (0xffff800000000000 >> 39 & 0x1ff == 256); every address space shares
// this one slot with the kernel's own page tables.
const KernelSlot = 256

// table is one level's 512 entries, aliased directly onto the simulated
// physical frame backing it -- the same "page of memory reinterpreted as
// an array of PTEs" idiom as the teacher's mem.pg2pmap, except addressed
// through frame.Map.DirectMap instead of a hand-rolled direct map.
type table struct {
	entries *[512]uint64
}

func tableAt(frames *frame.Map, pa uint64) table {
	b := frames.DirectMap(pa)
	return table{entries: (*[512]uint64)(unsafe.Pointer(&b[0]))}
}

func (t table) get(i int) PTE     { return PTE(t.entries[i]) }
func (t table) set(i int, p PTE)  { t.entries[i] = uint64(p) }

// AddressSpace owns one task's page-table tree and tracks its user
// virtual-address reservations. The mutex is the same "pmap lock" the
// teacher's Vm_t embeds: all map/unmap/teardown operations and every
// user-pointer copy hold it for their duration.
type AddressSpace struct {
	mu     sync.Mutex
	frames *frame.Map
	l4pa   uint64
	Vaddr  *vaddr.Set // nil for the kernel's own address space
}

// NewKernel allocates a fresh L4 table with every entry zero: the root
// of the kernel's own page tables, built up by a sequence of Map calls
// into the higher half during bootstrap.
func NewKernel(frames *frame.Map) *AddressSpace {
	l4pa, ok := frames.AllocateFrame(frame.KernelPageTable)
	if !ok {
		panic("aspace: no frames for kernel L4")
	}
	return &AddressSpace{frames: frames, l4pa: l4pa}
}

// New constructs a user address space: a fresh L4 with KernelSlot cloned
// from kernel's L4 (so the kernel's higher half is visible from every
// task) and a fresh lower-half vaddr.Set.
func New(frames *frame.Map, kernel *AddressSpace) (*AddressSpace, defs.Err_t) {
	l4pa, ok := frames.AllocateFrame(frame.KernelPageTable)
	if !ok {
		return nil, defs.ENOMEM
	}
	as := &AddressSpace{frames: frames, l4pa: l4pa, Vaddr: vaddr.NewSet(vaddr.UserWindow)}

	kernel.mu.Lock()
	kslot := tableAt(kernel.frames, kernel.l4pa).get(KernelSlot)
	kernel.mu.Unlock()

	tableAt(frames, l4pa).set(KernelSlot, kslot)
	return as, 0
}

// CR3 returns the physical address to load into CR3 to run with this
// address space active.
func (as *AddressSpace) CR3() uint64 { return as.l4pa }

// walk returns the leaf PTE slot for va, allocating any missing
// intermediate L3/L2/L1 tables (tagged KernelPageTable) when alloc is
// true. It never allocates the leaf itself -- that is Map's job.
func (as *AddressSpace) walk(va uint64, alloc bool) (*uint64, defs.Err_t) {
	idx := func(level int) int { return int((va >> (12 + 9*level)) & 0x1ff) }

	pa := as.l4pa
	for level := 3; level >= 1; level-- {
		t := tableAt(as.frames, pa)
		i := idx(level)
		e := t.get(i)
		if !e.present() {
			if !alloc {
				return nil, defs.ENOMEM
			}
			childPa, ok := as.frames.AllocateFrame(frame.KernelPageTable)
			if !ok {
				return nil, defs.ENOMEM
			}
			t.set(i, PTE(childPa)|Present|Write|User)
			pa = childPa
		} else {
			pa = e.addr()
		}
	}
	leaf := tableAt(as.frames, pa)
	return &leaf.entries[idx(0)], 0
}

// Map installs pa at va with the given flags (Present is implied and
// added automatically), allocating any missing intermediate tables.
func (as *AddressSpace) Map(va, pa uint64, flags PTE) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	slot, err := as.walk(va, true)
	if err != 0 {
		return err
	}
	if PTE(*slot).present() {
		panic("aspace: Map over an already-present PTE")
	}
	*slot = uint64(PTE(pa) | flags | Present)
	return 0
}

// Unmap removes the leaf mapping at va and returns the frame that was
// mapped there (for the caller to recycle through frame.Map) along with
// the flags it carried. ok is false if va was not mapped.
func (as *AddressSpace) Unmap(va uint64) (pa uint64, flags PTE, ok bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	slot, err := as.walk(va, false)
	if err != 0 {
		return 0, 0, false
	}
	p := PTE(*slot)
	if !p.present() {
		return 0, 0, false
	}
	*slot = 0
	return p.addr(), p.flagBits(), true
}

// MapMMIO installs a device MMIO mapping in the kernel half with
// uncached, write-through attributes.
func (as *AddressSpace) MapMMIO(va, pa uint64) defs.Err_t {
	return as.Map(va, pa, Present|Write|WriteThrough|NoCache|NoExecute)
}

// Teardown walks the lower half only (indices 0..KernelSlot-1) and
// returns every present leaf frame and every intermediate table frame to
// the frame manager, then frees the L4 itself last -- the kernel's
// shared upper-half slot is never touched, since it is borrowed, not
// owned.
func (as *AddressSpace) Teardown() {
	as.mu.Lock()
	defer as.mu.Unlock()
	l4 := tableAt(as.frames, as.l4pa)
	for i := 0; i < KernelSlot; i++ {
		e := l4.get(i)
		if e.present() {
			as.freeSubtree(e.addr(), 2)
			l4.set(i, 0)
		}
	}
	if err := as.frames.FreeFrame(as.l4pa, frame.KernelPageTable); err != 0 {
		panic("aspace: freeing L4 failed: " + errString(err))
	}
}

// freeSubtree recursively frees a table at level and everything beneath
// it. level 0 means "this frame's entries are leaves, not tables".
func (as *AddressSpace) freeSubtree(pa uint64, level int) {
	t := tableAt(as.frames, pa)
	for i := 0; i < 512; i++ {
		e := t.get(i)
		if !e.present() {
			continue
		}
		if level == 0 {
			tag := frame.UserData
			if e&Shared != 0 {
				tag = frame.SharedBuffer
			}
			if err := as.frames.FreeFrame(e.addr(), tag); err != 0 {
				panic("aspace: teardown freed a leaf with the wrong tag: " + errString(err))
			}
		} else {
			as.freeSubtree(e.addr(), level-1)
		}
	}
	if err := as.frames.FreeFrame(pa, frame.KernelPageTable); err != 0 {
		panic("aspace: teardown freed an intermediate table with the wrong tag: " + errString(err))
	}
}

func errString(e defs.Err_t) string {
	return "err " + itoa(int(e))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ---- user-pointer access ----

// Validate reports whether [ptr, ptr+n) lies entirely inside the user
// half and inside a single reservation of this address space's vaddr
// set. It is the one gate every syscall that touches a user buffer
// must pass through before using CopyIn/CopyOut.
func (as *AddressSpace) Validate(ptr, n uint64) bool {
	if as.Vaddr == nil {
		return false
	}
	end := ptr + n
	if end < ptr {
		return false // overflow
	}
	if ptr < vaddr.UserWindow.Start || end > vaddr.UserWindow.End {
		return false
	}
	return as.Vaddr.Covers(ptr, n)
}

// CopyOut copies src into user memory at va, one page-fragment at a
// time, the way the teacher's K2user_inner loops across Userdmap8_inner
// calls.
func (as *AddressSpace) CopyOut(va uint64, src []byte) defs.Err_t {
	return as.pagewiseCopy(va, src, true)
}

// CopyIn copies from user memory at va into dst.
func (as *AddressSpace) CopyIn(va uint64, dst []byte) defs.Err_t {
	return as.pagewiseCopy(va, dst, false)
}

func (as *AddressSpace) pagewiseCopy(va uint64, buf []byte, toUser bool) defs.Err_t {
	as.mu.Lock()
	defer as.mu.Unlock()
	off := 0
	for off < len(buf) {
		cur := va + uint64(off)
		slot, err := as.walk(cur, false)
		if err != 0 {
			return defs.EFAULT
		}
		p := PTE(*slot)
		if !p.present() {
			return defs.EFAULT
		}
		page := as.frames.DirectMap(p.addr())
		pageOff := cur % frame.PageSize
		n := len(buf) - off
		if avail := frame.PageSize - int(pageOff); n > avail {
			n = avail
		}
		if toUser {
			copy(page[pageOff:pageOff+uint64(n)], buf[off:off+n])
		} else {
			copy(buf[off:off+n], page[pageOff:pageOff+uint64(n)])
		}
		off += n
	}
	return 0
}

// ReadUint64 and WriteUint64 cover the common case of a syscall argument
// that is itself a pointer to a single 8-byte value (e.g. ChannelCreate's
// *mut send/recv, Waitpid's *mut code).
func (as *AddressSpace) ReadUint64(va uint64) (uint64, defs.Err_t) {
	var b [8]byte
	if err := as.CopyIn(va, b[:]); err != 0 {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), 0
}

func (as *AddressSpace) WriteUint64(va uint64, v uint64) defs.Err_t {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return as.CopyOut(va, b[:])
}
