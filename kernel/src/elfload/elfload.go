// Package elfload implements the ELF64 program loader: validate the
// header, map each PT_LOAD segment with frames copied from the file
// and zeroed for BSS, and lay down a fixed-size user stack.
//
// Grounded on the teacher's kernel/chentry.go, the one place biscuit
// touches debug/elf directly (there, to patch e_entry post-link; here,
// to actually load a binary), generalized from "read one header field"
// to "map every loadable segment".
package elfload

import (
	"bytes"
	"debug/elf"
	"io"

	"aspace"
	"defs"
	"frame"
	"klimits"
	"vaddr"
)

// Image describes a successfully loaded binary: where execution begins
// and where the initial user stack pointer sits.
type Image struct {
	Entry   uint64
	UserRSP uint64
}

// segment records one PT_LOAD's mapping, kept only long enough to unwind
// it if a later segment (or the stack) fails to map.
type segment struct {
	base   uint64
	frames []uint64
}

// Load parses elfBytes and maps it into as/vaset, backed by frames.
// Every PT_LOAD segment with Filesz > Memsz is rejected; any failure
// partway through unwinds every segment and the stack
// mapped so far, freeing their frames and releasing their virtual
// ranges, so a failed load leaves no partial address space behind.
func Load(as *aspace.AddressSpace, vaset *vaddr.Set, frames *frame.Map, elfBytes []byte) (Image, defs.Err_t) {
	ef, ferr := elf.NewFile(bytes.NewReader(elfBytes))
	if ferr != nil {
		return Image{}, defs.EINVAL
	}
	if err := checkHeader(&ef.FileHeader); err != 0 {
		return Image{}, err
	}
	if !canonicalUser(ef.Entry) {
		return Image{}, defs.EINVAL
	}

	var segs []segment
	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		sg, err := loadSegment(as, vaset, frames, prog)
		if err != 0 {
			unwind(as, vaset, frames, segs)
			return Image{}, err
		}
		segs = append(segs, sg)
	}

	stackTop := vaddr.UserWindow.End
	stackBase := stackTop - klimits.UserStackSize
	stackSeg, err := mapRange(as, vaset, frames, stackBase, klimits.UserStackSize, aspace.Present|aspace.Write|aspace.User|aspace.NoExecute)
	if err != 0 {
		unwind(as, vaset, frames, segs)
		return Image{}, err
	}
	segs = append(segs, stackSeg)
	_ = segs // kept mapped; ownership now belongs to the task's address space

	return Image{Entry: ef.Entry, UserRSP: stackTop}, 0
}

// checkHeader requires a 64-bit little-endian x86-64 executable, the
// same four checks chentry.go's chkELF makes before trusting a
// binary's header.
func checkHeader(eh *elf.FileHeader) defs.Err_t {
	if eh.Class != elf.ELFCLASS64 {
		return defs.EINVAL
	}
	if eh.Data != elf.ELFDATA2LSB {
		return defs.EINVAL
	}
	if eh.Type != elf.ET_EXEC {
		return defs.EINVAL
	}
	if eh.Machine != elf.EM_X86_64 {
		return defs.EINVAL
	}
	return 0
}

// canonicalUser rejects a zero entry point and anything outside the
// lower half this kernel hands to user tasks.
func canonicalUser(addr uint64) bool {
	return addr != 0 && addr < vaddr.LowHalfEnd
}

// loadSegment maps one PT_LOAD program header: page-align its virtual
// range down, allocate and map a frame per page, copy file bytes into
// the right offset of each (AllocateFrame already zeroes, which
// supplies both the tail-of-segment zero padding and all of BSS for
// free), and derive page flags from the segment's writable/executable
// bits.
func loadSegment(as *aspace.AddressSpace, vaset *vaddr.Set, frames *frame.Map, prog *elf.Prog) (segment, defs.Err_t) {
	if prog.Filesz > prog.Memsz {
		return segment{}, defs.EINVAL
	}

	base := prog.Vaddr &^ (frame.PageSize - 1)
	pageOff := prog.Vaddr - base
	npages := (pageOff + prog.Memsz + frame.PageSize - 1) / frame.PageSize

	flags := aspace.Present | aspace.User
	if prog.Flags&elf.PF_W != 0 {
		flags |= aspace.Write
	}
	if prog.Flags&elf.PF_X == 0 {
		flags |= aspace.NoExecute
	}

	data := make([]byte, prog.Filesz)
	n, rerr := prog.ReadAt(data, 0)
	if uint64(n) != prog.Filesz || (rerr != nil && rerr != io.EOF) {
		return segment{}, defs.EINVAL
	}

	sg, mapErr := mapRange(as, vaset, frames, base, npages*frame.PageSize, flags)
	if mapErr != 0 {
		return segment{}, mapErr
	}

	segStart, segEnd := pageOff, pageOff+prog.Filesz
	for i, pa := range sg.frames {
		pageStart := uint64(i) * frame.PageSize
		pageEnd := pageStart + frame.PageSize
		lo, hi := maxU64(pageStart, segStart), minU64(pageEnd, segEnd)
		if lo >= hi {
			continue
		}
		dst := frames.DirectMap(pa)
		copy(dst[lo-pageStart:hi-pageStart], data[lo-segStart:hi-segStart])
	}
	return sg, 0
}

// mapRange reserves [base, base+size) as a fixed range in vaset,
// allocates one UserData frame per page, and maps each with flags,
// unwinding itself (but not any earlier segment) on failure.
func mapRange(as *aspace.AddressSpace, vaset *vaddr.Set, frames *frame.Map, base, size uint64, flags aspace.PTE) (segment, defs.Err_t) {
	if !vaset.InsertFixed(base, size) {
		return segment{}, defs.EOVERLAP
	}
	npages := size / frame.PageSize
	sg := segment{base: base}
	for i := uint64(0); i < npages; i++ {
		pa, ok := frames.AllocateFrame(frame.UserData)
		if !ok {
			unwindOne(as, vaset, frames, sg)
			return segment{}, defs.ENOMEM
		}
		va := base + i*frame.PageSize
		if err := as.Map(va, pa, flags); err != 0 {
			frames.FreeFrame(pa, frame.UserData)
			unwindOne(as, vaset, frames, sg)
			return segment{}, err
		}
		sg.frames = append(sg.frames, pa)
	}
	return sg, 0
}

func unwindOne(as *aspace.AddressSpace, vaset *vaddr.Set, frames *frame.Map, sg segment) {
	for i := range sg.frames {
		va := sg.base + uint64(i)*frame.PageSize
		if pa, _, ok := as.Unmap(va); ok {
			frames.FreeFrame(pa, frame.UserData)
		}
	}
	vaset.Release(sg.base, uint64(len(sg.frames))*frame.PageSize)
}

func unwind(as *aspace.AddressSpace, vaset *vaddr.Set, frames *frame.Map, segs []segment) {
	for _, sg := range segs {
		unwindOne(as, vaset, frames, sg)
	}
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
