package display

import (
	"testing"

	"aspace"
	"defs"
	"frame"
)

func testFramebuffer() Framebuffer {
	return Framebuffer{
		PhysAddr:      0x10_0000,
		Width:         1024,
		Height:        768,
		Pitch:         1024 * 4,
		RedMaskSize:   8,
		RedMaskShift:  16,
		GreenMaskSize: 8,
		GreenMaskShift: 8,
		BlueMaskSize:  8,
		BlueMaskShift: 0,
	}
}

type fakeLookup map[defs.Tid_t]*aspace.AddressSpace

func (f fakeLookup) Lookup(id defs.Tid_t) (*aspace.AddressSpace, bool) {
	as, ok := f[id]
	return as, ok
}

func newTestAddressSpace(t *testing.T, frames *frame.Map) *aspace.AddressSpace {
	t.Helper()
	kernel := aspace.NewKernel(frames)
	as, err := aspace.New(frames, kernel)
	if err != 0 {
		t.Fatalf("aspace.New: %v", err)
	}
	return as
}

func TestGetBoundingBoxRequiresOwnership(t *testing.T) {
	o := New(testFramebuffer())
	if _, status := o.GetBoundingBox(1); status != defs.GfxPermissionDenied {
		t.Fatalf("expected GfxPermissionDenied for a non-owner, got %v", status)
	}

	o.current.Store(uint64(1))
	rect, status := o.GetBoundingBox(1)
	if status != defs.GfxOk {
		t.Fatalf("expected GfxOk for the owner, got %v", status)
	}
	if rect.Width != 1024 || rect.Height != 768 {
		t.Fatalf("unexpected bounding box: %+v", rect)
	}
}

func TestGetDisplayInfoHasNoOwnershipGate(t *testing.T) {
	o := New(testFramebuffer())
	// No owner has been assigned (o.current is still defs.NoTask), yet
	// GetDisplayInfo must still succeed: unlike GetBoundingBox, it is
	// not restricted to the display owner.
	info, status := o.GetDisplayInfo()
	if status != defs.GfxOk {
		t.Fatalf("expected GfxOk with no owner set, got %v", status)
	}
	if info.Width != 1024 || info.RedMaskShift != 16 {
		t.Fatalf("unexpected display info: %+v", info)
	}
}

func TestTransferRejectsNonOwnerCaller(t *testing.T) {
	o := New(testFramebuffer())
	o.current.Store(uint64(1))
	if status := o.Transfer(2, 3, fakeLookup{}, nil); status != TransferNotOwner {
		t.Fatalf("expected TransferNotOwner, got %v", status)
	}
}

func TestTransferRejectsUnknownTarget(t *testing.T) {
	o := New(testFramebuffer())
	o.current.Store(uint64(1))
	if status := o.Transfer(1, 99, fakeLookup{}, nil); status != TransferTargetNotFound {
		t.Fatalf("expected TransferTargetNotFound for an unknown target, got %v", status)
	}
}

func TestTransferMapsFramebufferAndUpdatesOwner(t *testing.T) {
	frames := frame.NewSimulated(0, 4096)
	target := newTestAddressSpace(t, frames)
	lookup := fakeLookup{7: target}

	o := New(testFramebuffer())
	o.current.Store(uint64(1))

	if status := o.Transfer(1, 7, lookup, frames); status != TransferOk {
		t.Fatalf("expected TransferOk, got %v", status)
	}
	if !o.IsOwner(7) {
		t.Fatal("expected task 7 to become the new owner")
	}

	got := make([]byte, 4)
	want := []byte{1, 2, 3, 4}
	if err := target.CopyOut(0x7F00_0000_0000, want); err != 0 {
		t.Fatalf("CopyOut into the mapped framebuffer failed: %v", err)
	}
	if err := target.CopyIn(0x7F00_0000_0000, got); err != 0 {
		t.Fatalf("CopyIn from the mapped framebuffer failed: %v", err)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("framebuffer roundtrip mismatch: got %v want %v", got, want)
		}
	}
}

func TestTransferDoesNotChangeOwnerOnFailure(t *testing.T) {
	o := New(testFramebuffer())
	o.current.Store(uint64(1))
	o.Transfer(1, 99, fakeLookup{}, nil)
	if o.Current() != 1 {
		t.Fatalf("owner must not change on a failed transfer, got %v", o.Current())
	}
}
