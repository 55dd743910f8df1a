// Package display implements display ownership and the framebuffer
// hand-off: exactly one task owns the display at a time, queries are
// restricted to the current owner, and ownership can
// be transferred by mapping the framebuffer's physical pages into the
// new owner's address space.
//
// Grounded on original_source's kernel/tests/src/display_owner.rs
// (the DISPLAY_OWNER atomic and is_display_owner() check) and
// kernel/src/syscall_handlers.rs's sys_get_bounding_box,
// sys_transfer_display, and sys_get_display_info, which this package's
// three methods mirror one-for-one, including their exact GfxStatus
// return codes. The actual pixel-pushing framebuffer driver (bounding
// box geometry, draw_iter) belongs to a graphics/display.rs this
// kernel has no analogue for yet; this package only owns who may touch
// the framebuffer, not how pixels land on it.
package display

import (
	"sync/atomic"

	"aspace"
	"defs"
	"frame"
	"klimits"
)

// Framebuffer describes the boot-time linear framebuffer handed to the
// kernel by the bootloader (kernel/boot). Its physical
// pages are never owned by frame.Map -- they are device memory, mapped
// the same way kernel/boot's other MMIO ranges are -- so Transfer maps
// them directly rather than allocating through a frame.Map.
type Framebuffer struct {
	PhysAddr uint64
	Width    uint32
	Height   uint32
	Pitch    uint32

	RedMaskSize, RedMaskShift     uint8
	GreenMaskSize, GreenMaskShift uint8
	BlueMaskSize, BlueMaskShift   uint8
}

// Size returns the framebuffer's byte length, Pitch*Height, unrounded;
// Transfer rounds it up to whole pages itself.
func (fb Framebuffer) Size() uint64 {
	return uint64(fb.Pitch) * uint64(fb.Height)
}

// TaskLookup resolves a task id to the address space to map a
// transferred framebuffer into. kernel/sched's Global satisfies this.
type TaskLookup interface {
	Lookup(id defs.Tid_t) (addr *aspace.AddressSpace, ok bool)
}

// Owner tracks which task currently owns the display: exactly one task
// may own it at a time. The zero Owner has no current owner, matching
// defs.NoTask.
type Owner struct {
	fb      Framebuffer
	current atomic.Uint64 // defs.Tid_t, defs.NoTask when unowned
}

// New constructs an Owner for the given framebuffer with no current
// owner.
func New(fb Framebuffer) *Owner {
	o := &Owner{fb: fb}
	o.current.Store(uint64(defs.NoTask))
	return o
}

// Seed assigns the display directly to id with no prior-owner check,
// for kernel/boot to call exactly once while bringing up the first
// user task. Mirrors original_source's main.rs storing the new task's
// id into DISPLAY_OWNER straight after spawning it, bypassing
// sys_transfer_display's is_display_owner gate entirely -- there is no
// previous owner to transfer from at boot.
func (o *Owner) Seed(id defs.Tid_t) {
	o.current.Store(uint64(id))
}

// IsOwner reports whether id currently owns the display.
func (o *Owner) IsOwner(id defs.Tid_t) bool {
	return o.current.Load() == uint64(id)
}

// Current returns the current owner, or defs.NoTask if none.
func (o *Owner) Current() defs.Tid_t {
	return defs.Tid_t(o.current.Load())
}

// GetBoundingBox implements syscall 0: the framebuffer's dimensions as
// a Rect, restricted to the current owner.
func (o *Owner) GetBoundingBox(caller defs.Tid_t) (defs.Rect, defs.GfxStatus) {
	if !o.IsOwner(caller) {
		return defs.Rect{}, defs.GfxPermissionDenied
	}
	return defs.Rect{X: 0, Y: 0, Width: o.fb.Width, Height: o.fb.Height}, defs.GfxOk
}

// GetDisplayInfo implements syscall 15: dimensions and pixel layout.
// Unlike GetBoundingBox and Transfer, this is not owner-gated in
// original_source's sys_get_display_info -- any task may query the
// framebuffer's format, only touching or owning it is restricted.
func (o *Owner) GetDisplayInfo() (defs.DisplayInfo, defs.GfxStatus) {
	return defs.DisplayInfo{
		Width:          o.fb.Width,
		Height:         o.fb.Height,
		RedMaskSize:    o.fb.RedMaskSize,
		RedMaskShift:   o.fb.RedMaskShift,
		GreenMaskSize:  o.fb.GreenMaskSize,
		GreenMaskShift: o.fb.GreenMaskShift,
		BlueMaskSize:   o.fb.BlueMaskSize,
		BlueMaskShift:  o.fb.BlueMaskShift,
	}, defs.GfxOk
}

// TransferStatus is TransferDisplay's own small result code: syscall 13
// takes a target task id and returns one of 0/1/2/3. This is a
// separate space from GfxStatus: sys_transfer_display in
// original_source returns ad hoc literals, not a GraphicsResult --
// unlike sys_get_bounding_box/sys_get_display_info, which do use
// GraphicsResult. Reusing GfxStatus here would silently renumber
// TransferDisplay's contract (GfxStatus's OutOfBounds/PermissionDenied
// values don't land on 1/2/3 in the order this syscall needs).
type TransferStatus uint64

const (
	TransferOk             TransferStatus = 0
	TransferNotOwner       TransferStatus = 1
	TransferTargetNotFound TransferStatus = 2
	TransferMapFailed      TransferStatus = 3
)

// Transfer implements syscall 13: hand the display to newOwner by
// mapping the framebuffer's physical pages into its address space at
// the fixed klimits.FramebufferUserVaddr, write-through so the new
// owner sees every write immediately, then updating the owner record.
// Mirrors sys_transfer_display's exact return values: TransferNotOwner
// if the caller isn't the current owner, TransferTargetNotFound if
// newOwner doesn't resolve to a task, TransferMapFailed if a page
// fails to map (out of page-table memory, or the framebuffer range is
// already reserved in the target), TransferOk on success.
//
// Like sys_transfer_display, Transfer never unmaps the framebuffer from
// the previous owner: the old owner keeps its mapping and can still
// write to a framebuffer it no longer owns.
func (o *Owner) Transfer(caller, newOwner defs.Tid_t, lookup TaskLookup, frames *frame.Map) TransferStatus {
	if !o.IsOwner(caller) {
		return TransferNotOwner
	}
	target, ok := lookup.Lookup(newOwner)
	if !ok {
		return TransferTargetNotFound
	}

	size := o.fb.Size()
	npages := (size + frame.PageSize - 1) / frame.PageSize
	mapSize := npages * frame.PageSize
	flags := aspace.Present | aspace.Write | aspace.User | aspace.WriteThrough | aspace.NoExecute

	// Mirrors sys_transfer_display's step of reserving the framebuffer
	// range in the target's own vaddr set before mapping it, so a later
	// mmap in the new owner can't collide with the framebuffer window.
	// The original merges into an already-touching reservation on a
	// second transfer to the same task; InsertFixed instead rejects an
	// exact re-reservation outright, which only matters for a task
	// transferred the display twice in a row -- an edge case not worth
	// a distinct status, so it is simply folded into TransferMapFailed.
	if target.Vaddr != nil && !target.Vaddr.InsertFixed(klimits.FramebufferUserVaddr, mapSize) {
		return TransferMapFailed
	}

	var mapped uint64
	for i := uint64(0); i < npages; i++ {
		va := klimits.FramebufferUserVaddr + i*frame.PageSize
		pa := o.fb.PhysAddr + i*frame.PageSize
		if err := target.Map(va, pa, flags); err != 0 {
			unmapFramebuffer(target, mapped)
			return TransferMapFailed
		}
		mapped++
	}

	o.current.Store(uint64(newOwner))
	return TransferOk
}

func unmapFramebuffer(as *aspace.AddressSpace, pages uint64) {
	for i := uint64(0); i < pages; i++ {
		as.Unmap(klimits.FramebufferUserVaddr + i*frame.PageSize)
	}
}
