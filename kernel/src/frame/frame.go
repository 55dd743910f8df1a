// Package frame implements the physical frame manager: an interval map
// from physical address ranges to a usage tag, kept normalised so
// adjacent equal-tag runs coalesce. It is the only source of frames
// handed to page-table mappers (kernel/aspace) and the only place that
// understands physical memory layout.
//
// Grounded on the teacher's mem/mem.go Physmem_t, which tracks physical
// pages via a refcounted array plus per-CPU free lists reached through
// a direct map (Dmap). This kernel has no copy-on-write, so it needs
// something structurally simpler -- a tagged interval map rather than a
// refcounted free list -- and the free-list machinery is replaced by an
// interval tree. Only the "Dmap gives you bytes, not just an address"
// idiom survives, as DirectMap below; there is no per-CPU sharding, one
// mutex guards the whole map.
package frame

import (
	"sort"
	"sync"

	"defs"
)

// PageShift/PageSize describe the kernel's one and only page granularity.
const (
	PageShift = 12
	PageSize  = 1 << PageShift
)

// Tag classifies the use of a physical frame.
type Tag int

const (
	Usable Tag = iota
	BootloaderOwned
	KernelPageTable
	KernelHeap
	KernelStack
	UserData
	SharedBuffer
)

func (t Tag) String() string {
	switch t {
	case Usable:
		return "usable"
	case BootloaderOwned:
		return "bootloader-owned"
	case KernelPageTable:
		return "kernel-page-table"
	case KernelHeap:
		return "kernel-heap"
	case KernelStack:
		return "kernel-stack"
	case UserData:
		return "user-data"
	case SharedBuffer:
		return "shared-buffer"
	default:
		return "tag?"
	}
}

// run is one maximal interval of contiguous frames sharing a tag.
// [startFrame, startFrame+count) in units of frame numbers, not bytes.
type run struct {
	startFrame uint64
	count      uint64
	tag        Tag
}

// Map is the physical frame manager. All accesses are serialized by a
// single mutex; the teacher shards this lock per CPU for a multi-socket
// machine under real contention, but the properties this manager must
// hold only require correctness, and a single lock keeps the interval
// bookkeeping (which must re-sort and merge) simple to get right.
type Map struct {
	mu   sync.Mutex
	runs []run // sorted by startFrame, disjoint, adjacent-merged

	// ram backs every Usable/allocated frame with real storage so code
	// under test can read and write frame contents the way the real
	// kernel would through its direct map. There is no bootloader here
	// to hand the kernel a physical memory map, so the map is seeded
	// over a single simulated RAM region (see NewSimulated).
	ram      []byte
	ramBase  uint64 // physical address corresponding to ram[0]
}

// NewSimulated constructs a frame map over a freshly allocated region of
// simulated RAM, sized npages * PageSize, with every frame tagged Usable.
// base is the simulated physical base address (must be page-aligned).
func NewSimulated(base uint64, npages uint64) *Map {
	if base%PageSize != 0 {
		panic("unaligned base")
	}
	m := &Map{
		ram:     make([]byte, npages*PageSize),
		ramBase: base,
	}
	m.runs = []run{{startFrame: base >> PageShift, count: npages, tag: Usable}}
	return m
}

// Reserve marks [pa, pa+n*PageSize) with tag at construction time, e.g. to
// carve out the bootloader's own footprint before the kernel starts
// allocating. It panics if the range is not entirely Usable -- this is a
// boot-time-only operation, not a general retag.
func (m *Map) Reserve(pa uint64, n uint64, tag Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sf := pa >> PageShift
	for i := uint64(0); i < n; i++ {
		if m.tagOfLocked(sf+i) != Usable {
			panic("frame: Reserve over non-usable frame")
		}
	}
	m.retagLocked(sf, n, tag)
}

// AllocateFrame picks the lowest-address Usable frame, retags it, and
// returns its physical address. It returns ok=false on exhaustion.
func (m *Map) AllocateFrame(tag Tag) (pa uint64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.tag == Usable && r.count > 0 {
			m.retagLocked(r.startFrame, 1, tag)
			pa = r.startFrame << PageShift
			m.zeroLocked(pa)
			return pa, true
		}
	}
	return 0, false
}

// FreeFrame verifies pa currently carries expected and retags it Usable.
// Freeing a frame with the wrong tag is a contract violation, not a
// silent retag.
func (m *Map) FreeFrame(pa uint64, expected Tag) defs.Err_t {
	if pa%PageSize != 0 {
		return defs.EINVAL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sf := pa >> PageShift
	if m.tagOfLocked(sf) != expected {
		return defs.EWRONGTAG
	}
	m.retagLocked(sf, 1, Usable)
	return 0
}

// IsAllocated reports whether pa is currently tagged as anything other
// than Usable.
func (m *Map) IsAllocated(pa uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tagOfLocked(pa>>PageShift) != Usable
}

// TagOf returns the tag currently covering pa.
func (m *Map) TagOf(pa uint64) Tag {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tagOfLocked(pa >> PageShift)
}

// Interval is a half-open physical-address range [Start, End).
type Interval struct{ Start, End uint64 }

// GapsIn returns the Usable sub-ranges of iv, in address order.
func (m *Map) GapsIn(iv Interval) []Interval {
	m.mu.Lock()
	defer m.mu.Unlock()
	sf := iv.Start >> PageShift
	ef := (iv.End + PageSize - 1) >> PageShift
	var out []Interval
	for _, r := range m.runs {
		if r.tag != Usable {
			continue
		}
		s := util_max(r.startFrame, sf)
		e := util_min(r.startFrame+r.count, ef)
		if s < e {
			out = append(out, Interval{s << PageShift, e << PageShift})
		}
	}
	return out
}

func util_max(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func util_min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// DirectMap returns a byte slice aliasing the physical frame at pa, the
// way the teacher's Dmap does through the higher-half direct map. Panics
// if pa is outside the simulated RAM window -- a kernel bug, not a
// recoverable condition, exactly like the teacher's bounds panic.
func (m *Map) DirectMap(pa uint64) []byte {
	if pa < m.ramBase || pa >= m.ramBase+uint64(len(m.ram)) {
		panic("frame: DirectMap address outside simulated RAM")
	}
	off := pa - m.ramBase
	return m.ram[off : off+PageSize]
}

func (m *Map) zeroLocked(pa uint64) {
	off := pa - m.ramBase
	if off+PageSize > uint64(len(m.ram)) {
		return
	}
	clear(m.ram[off : off+PageSize])
}

func (m *Map) tagOfLocked(frameNum uint64) Tag {
	i := sort.Search(len(m.runs), func(i int) bool {
		return m.runs[i].startFrame+m.runs[i].count > frameNum
	})
	if i == len(m.runs) || m.runs[i].startFrame > frameNum {
		panic("frame: address not covered by any run")
	}
	return m.runs[i].tag
}

// retagLocked changes the tag of [startFrame, startFrame+count) and
// re-merges adjacent equal-tag runs. Requires that the range lies within
// a single existing run (true for every caller above: AllocateFrame and
// FreeFrame both act on exactly one frame found via tagOfLocked).
func (m *Map) retagLocked(startFrame, count uint64, tag Tag) {
	i := sort.Search(len(m.runs), func(i int) bool {
		return m.runs[i].startFrame+m.runs[i].count > startFrame
	})
	r := m.runs[i]
	if startFrame < r.startFrame || startFrame+count > r.startFrame+r.count {
		panic("frame: retag range crosses run boundary")
	}

	var replacement []run
	if startFrame > r.startFrame {
		replacement = append(replacement, run{r.startFrame, startFrame - r.startFrame, r.tag})
	}
	replacement = append(replacement, run{startFrame, count, tag})
	if end := r.startFrame + r.count; startFrame+count < end {
		replacement = append(replacement, run{startFrame + count, end - (startFrame + count), r.tag})
	}

	m.runs = append(m.runs[:i], append(replacement, m.runs[i+1:]...)...)
	m.coalesce()
}

func (m *Map) coalesce() {
	out := m.runs[:0]
	for _, r := range m.runs {
		if n := len(out); n > 0 && out[n-1].tag == r.tag && out[n-1].startFrame+out[n-1].count == r.startFrame {
			out[n-1].count += r.count
			continue
		}
		out = append(out, r)
	}
	m.runs = out
}
