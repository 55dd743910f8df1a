// Package registry implements the service registry: name -> owning
// task, used by user-space servers to advertise themselves and by
// clients to find them.
//
// Grounded on the teacher's hashtable/hashtable.go (bucket-striped
// table, fnv hash, elem chaining) and ustr/ustr.go (fixed, directly
// comparable byte-string values rather than allocating Go strings on
// every lookup). original_source's service_registry.rs fixes service
// names at exactly 64 bytes, zero-padded, so Name is sized to match
// rather than being an arbitrary-length Ustr.
//
// The teacher's hashtable additionally keeps its buckets lock-free to
// read (atomic.LoadPointer over an immutable elem chain); this registry
// instead takes a plain sync.RWMutex per bucket. Lookups here are rare
// relative to the teacher's filesystem dentry cache this pattern was
// built for, so the simpler, still-striped locking is sufficient and
// far easier to get right without a build to check it against.
package registry

import (
	"hash/fnv"
	"sync"

	"defs"
)

// NameSize is the fixed width of a service name, zero-padded.
const NameSize = 64

// Name is a fixed-size, directly comparable service name -- comparable
// with == the way the teacher's Ustr is compared byte-by-byte via Eq.
type Name [NameSize]byte

// NewName zero-pads s into a Name. Returns EINVAL if s does not fit.
func NewName(s string) (Name, defs.Err_t) {
	var n Name
	if len(s) > NameSize {
		return n, defs.EINVAL
	}
	copy(n[:], s)
	return n, 0
}

func (n Name) String() string {
	i := 0
	for i < len(n) && n[i] != 0 {
		i++
	}
	return string(n[:i])
}

func (n Name) hash() uint32 {
	h := fnv.New32a()
	h.Write(n[:])
	return h.Sum32()
}

type elem struct {
	name   Name
	owner  defs.Tid_t
	sendEp defs.Eid_t
	next   *elem
}

type bucket struct {
	mu    sync.RWMutex
	first *elem
}

// Registry is the bucket-striped name -> owner table.
type Registry struct {
	buckets []*bucket
}

// New constructs a registry with nbuckets stripes.
func New(nbuckets int) *Registry {
	r := &Registry{buckets: make([]*bucket, nbuckets)}
	for i := range r.buckets {
		r.buckets[i] = &bucket{}
	}
	return r
}

func (r *Registry) bucketFor(n Name) *bucket {
	return r.buckets[n.hash()%uint32(len(r.buckets))]
}

// Register records name as owned by owner, advertising sendEp as the
// endpoint clients should connect to (sys_register_service's send_ep
// argument). Fails with SvcAlreadyRegistered if the name is already
// taken.
func (r *Registry) Register(name Name, owner defs.Tid_t, sendEp defs.Eid_t) defs.SvcStatus {
	b := r.bucketFor(name)
	b.mu.Lock()
	defer b.mu.Unlock()
	for e := b.first; e != nil; e = e.next {
		if e.name == name {
			return defs.SvcAlreadyRegistered
		}
	}
	b.first = &elem{name: name, owner: owner, sendEp: sendEp, next: b.first}
	return defs.SvcOk
}

// Lookup returns the send endpoint registered for name (what
// sys_lookup_service writes out to the caller), not the owning task
// id -- callers connect to an endpoint, not a task.
func (r *Registry) Lookup(name Name) (defs.Eid_t, defs.SvcStatus) {
	b := r.bucketFor(name)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for e := b.first; e != nil; e = e.next {
		if e.name == name {
			return e.sendEp, defs.SvcOk
		}
	}
	return 0, defs.SvcNotFound
}

// Unregister removes name, but only if it is currently owned by owner
// -- the check that makes exit-time service cleanup safe against
// racing with a second registration of the same name by someone else.
func (r *Registry) Unregister(name Name, owner defs.Tid_t) defs.SvcStatus {
	b := r.bucketFor(name)
	b.mu.Lock()
	defer b.mu.Unlock()
	var prev *elem
	for e := b.first; e != nil; e = e.next {
		if e.name == name {
			if e.owner != owner {
				return defs.SvcNotFound
			}
			if prev == nil {
				b.first = e.next
			} else {
				prev.next = e.next
			}
			return defs.SvcOk
		}
		prev = e
	}
	return defs.SvcNotFound
}
