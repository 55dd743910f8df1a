package shbuf

import (
	"testing"

	"aspace"
	"defs"
	"frame"
	"vaddr"
)

func setup(t *testing.T, npages uint64) (*Registry, *aspace.AddressSpace, *vaddr.Set, *frame.Map) {
	t.Helper()
	frames := frame.NewSimulated(0, npages)
	kernel := aspace.NewKernel(frames)
	as, err := aspace.New(frames, kernel)
	if err != 0 {
		t.Fatalf("aspace.New failed: %v", err)
	}
	return New(frames, 8), as, as.Vaddr, frames
}

func TestCreateZeroesAndMaps(t *testing.T) {
	r, as, vaset, frames := setup(t, 64)
	id, start, err := r.Create(as, vaset, 3)
	if err != 0 {
		t.Fatalf("Create failed: %v", err)
	}
	if id == defs.NoBufId {
		t.Fatal("expected a real buffer id")
	}
	zero := make([]byte, 2)
	if err := as.CopyIn(start, zero); err != 0 {
		t.Fatalf("CopyIn from the new buffer failed: %v", err)
	}
	if zero[0] != 0 || zero[1] != 0 {
		t.Fatalf("a new buffer should read as zero, got %v", zero)
	}
	if err := as.CopyOut(start, []byte("hi")); err != 0 {
		t.Fatalf("CopyOut into the new buffer failed: %v", err)
	}
	got := make([]byte, 2)
	as.CopyIn(start, got)
	if string(got) != "hi" {
		t.Fatalf("got %q", got)
	}
	_ = frames
}

func TestMapSharesFramesAcrossAddressSpaces(t *testing.T) {
	r, owner, ownerVaset, frames := setup(t, 64)
	kernel := aspace.NewKernel(frames)
	other, err := aspace.New(frames, kernel)
	if err != 0 {
		t.Fatalf("aspace.New failed: %v", err)
	}

	id, ownerStart, err := r.Create(owner, ownerVaset, 1)
	if err != 0 {
		t.Fatalf("Create failed: %v", err)
	}
	owner.CopyOut(ownerStart, []byte("shared"))

	otherStart, err := r.Map(id, other, other.Vaddr)
	if err != 0 {
		t.Fatalf("Map failed: %v", err)
	}
	got := make([]byte, 6)
	if err := other.CopyIn(otherStart, got); err != 0 {
		t.Fatalf("CopyIn from the second address space failed: %v", err)
	}
	if string(got) != "shared" {
		t.Fatalf("expected the same physical frame visible from both address spaces, got %q", got)
	}
}

func TestDestroyFreesFrames(t *testing.T) {
	r, as, vaset, frames := setup(t, 64)
	id, start, err := r.Create(as, vaset, 2)
	if err != 0 {
		t.Fatalf("Create failed: %v", err)
	}
	pa0, _, ok := as.Unmap(start)
	if !ok {
		t.Fatal("expected the first page to be mapped")
	}
	pa1, _, ok := as.Unmap(start + frame.PageSize)
	if !ok {
		t.Fatal("expected the second page to be mapped")
	}

	if err := r.Destroy(id); err != 0 {
		t.Fatalf("Destroy failed: %v", err)
	}
	if frames.IsAllocated(pa0) || frames.IsAllocated(pa1) {
		t.Fatal("Destroy should have freed both frames")
	}
}

func TestCreateRejectsZeroPages(t *testing.T) {
	r, as, vaset, _ := setup(t, 8)
	if _, _, err := r.Create(as, vaset, 0); err != defs.EINVAL {
		t.Fatalf("expected EINVAL, got %v", err)
	}
}
