// Package shbuf implements the shared-buffer registry: create an
// n-page buffer owned by one task, map the same physical frames into
// other address spaces, and destroy it once every mapping has been
// torn down by its callers.
//
// Grounded on the same bucket-striped table idiom as kernel/registry
// (itself grounded on the teacher's hashtable/hashtable.go), keyed here
// by defs.BufId_t instead of a service name, storing an ordered frame
// list instead of an owner id.
package shbuf

import (
	"sync"

	"aspace"
	"defs"
	"frame"
	"vaddr"
)

type entry struct {
	id     defs.BufId_t
	frames []uint64
	next   *entry
}

type bucket struct {
	mu    sync.RWMutex
	first *entry
}

// Registry is the id -> frame-list table.
type Registry struct {
	buckets []*bucket
	nextID  uint64
	idMu    sync.Mutex
	frames  *frame.Map
}

// New constructs an empty registry backed by frames, striped across
// nbuckets buckets.
func New(frames *frame.Map, nbuckets int) *Registry {
	r := &Registry{buckets: make([]*bucket, nbuckets), frames: frames}
	for i := range r.buckets {
		r.buckets[i] = &bucket{}
	}
	return r
}

func (r *Registry) bucketFor(id defs.BufId_t) *bucket {
	return r.buckets[uint64(id)%uint64(len(r.buckets))]
}

func (r *Registry) allocID() defs.BufId_t {
	r.idMu.Lock()
	defer r.idMu.Unlock()
	r.nextID++
	return defs.BufId_t(r.nextID)
}

// Create reserves npages contiguous user-virtual pages in owner,
// allocates npages fresh SharedBuffer
// frames, zero them (AllocateFrame already zeroes, per kernel/frame),
// map them user+write+no-execute, and register the frame list. Any
// failure mid-loop unwinds every mapping made so far and releases both
// the virtual range and the frames, so no partial state survives.
func (r *Registry) Create(owner *aspace.AddressSpace, ownerVaset *vaddr.Set, npages uint64) (defs.BufId_t, uint64, defs.Err_t) {
	if npages == 0 {
		return defs.NoBufId, 0, defs.EINVAL
	}
	start, ok := ownerVaset.Reserve(npages)
	if !ok {
		return defs.NoBufId, 0, defs.ENOHEAP
	}

	var mappedFrames []uint64
	for i := uint64(0); i < npages; i++ {
		pa, ok := r.frames.AllocateFrame(frame.SharedBuffer)
		if !ok {
			r.rollback(owner, start, mappedFrames)
			ownerVaset.Release(start, npages*frame.PageSize)
			return defs.NoBufId, 0, defs.ENOMEM
		}
		va := start + uint64(len(mappedFrames))*frame.PageSize
		if err := owner.Map(va, pa, aspace.Present|aspace.Write|aspace.User|aspace.NoExecute); err != 0 {
			r.frames.FreeFrame(pa, frame.SharedBuffer)
			r.rollback(owner, start, mappedFrames)
			ownerVaset.Release(start, npages*frame.PageSize)
			return defs.NoBufId, 0, err
		}
		mappedFrames = append(mappedFrames, pa)
	}

	id := r.allocID()
	b := r.bucketFor(id)
	b.mu.Lock()
	b.first = &entry{id: id, frames: mappedFrames, next: b.first}
	b.mu.Unlock()
	return id, start, 0
}

func (r *Registry) rollback(as *aspace.AddressSpace, start uint64, mapped []uint64) {
	for i := range mapped {
		va := start + uint64(i)*frame.PageSize
		if freed, _, ok := as.Unmap(va); ok {
			r.frames.FreeFrame(freed, frame.SharedBuffer)
		}
	}
}

func (r *Registry) frameList(id defs.BufId_t) ([]uint64, bool) {
	b := r.bucketFor(id)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for e := b.first; e != nil; e = e.next {
		if e.id == id {
			out := make([]uint64, len(e.frames))
			copy(out, e.frames)
			return out, true
		}
	}
	return nil, false
}

// Map clones the frame list under the registry lock, allocates a fresh
// user virtual range in target, and maps each frame. A failure mid-loop
// rolls back the mappings made so far but does not free the frames --
// the original owner still references them.
func (r *Registry) Map(id defs.BufId_t, target *aspace.AddressSpace, targetVaset *vaddr.Set) (uint64, defs.Err_t) {
	frames, ok := r.frameList(id)
	if !ok {
		return 0, defs.ENOTFOUND
	}
	start, ok := targetVaset.Reserve(uint64(len(frames)))
	if !ok {
		return 0, defs.ENOHEAP
	}
	for i, pa := range frames {
		va := start + uint64(i)*frame.PageSize
		if err := target.Map(va, pa, aspace.Present|aspace.Write|aspace.User|aspace.NoExecute); err != 0 {
			for j := 0; j < i; j++ {
				target.Unmap(start + uint64(j)*frame.PageSize)
			}
			targetVaset.Release(start, uint64(len(frames))*frame.PageSize)
			return 0, err
		}
	}
	return start, 0
}

// Destroy removes the registry entry and frees its frames as
// SharedBuffer. The caller must have unmapped every mapping
// beforehand; Destroy does not enumerate mappings.
func (r *Registry) Destroy(id defs.BufId_t) defs.Err_t {
	b := r.bucketFor(id)
	b.mu.Lock()
	var prev, found *entry
	for e := b.first; e != nil; e = e.next {
		if e.id == id {
			found = e
			break
		}
		prev = e
	}
	if found == nil {
		b.mu.Unlock()
		return defs.ENOTFOUND
	}
	if prev == nil {
		b.first = found.next
	} else {
		prev.next = found.next
	}
	b.mu.Unlock()

	for _, pa := range found.frames {
		if err := r.frames.FreeFrame(pa, frame.SharedBuffer); err != 0 {
			return err
		}
	}
	return 0
}
