// Package ipc implements the synchronous bounded-capacity IPC channel
// layer: channel creation, non-blocking try_send/try_recv, close-on-exit
// endpoint cleanup, and the single-slot waiter registration the
// blocking contract at the syscall boundary is built on.
//
// Grounded on the teacher's circbuf/circbuf.go (Circbuf_t): monotonic
// head/tail counters modulo capacity, Full/Empty/Left/Used derived from
// their difference. circbuf holds bytes; a channel here holds whole
// messages, so the ring indexes a slice of messages instead of a slice
// of bytes, but the head/tail-difference accounting is the same idiom.
package ipc

import (
	"sync"

	"defs"
	"klimits"
)

// channel is the shared state of one bounded message queue. Exactly two
// endpoints ever reference it: one SendEnd, one RecvEnd.
type channel struct {
	mu   sync.Mutex
	cap  int
	msgs [][]byte
	head int // messages ever enqueued
	tail int // messages ever dequeued

	senderClosed   bool
	receiverClosed bool

	sendWaiter *waiter
	recvWaiter *waiter
}

// waiter is the single-slot waiter discipline this kernel uses
// throughout: at most one task may be registered as waiting to send,
// and at most one as waiting to receive, on a given channel at a time.
// handle is opaque
// to this package -- it is whatever kernel/syscalls uses to identify
// the blocked task (a *task.Task would create an import cycle were ipc
// to depend on task, so the caller supplies any comparable handle).
type waiter struct {
	handle interface{}
}

func (c *channel) full() bool  { return c.head-c.tail == c.cap }
func (c *channel) empty() bool { return c.head == c.tail }

// Registry is the process-wide table of live IPC channel endpoints, the
// kernel/registry service registry's sibling for endpoints rather than
// names.
type Registry struct {
	mu        sync.Mutex
	endpoints map[defs.Eid_t]*endpoint
	nextID    uint64
}

type direction int

const (
	sendEnd direction = iota
	recvEnd
)

type endpoint struct {
	ch  *channel
	dir direction
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{endpoints: make(map[defs.Eid_t]*endpoint)}
}

func (r *Registry) allocID() defs.Eid_t {
	r.nextID++
	return defs.Eid_t(r.nextID)
}

// Create allocates a channel of the given capacity (clamped to
// [klimits.ChannelCapMin, klimits.ChannelCapMax]; 0 maps to
// klimits.ChannelCapDefault) and returns its two endpoint ids.
func (r *Registry) Create(capacity uint64) (sendID, recvID defs.Eid_t) {
	if capacity == 0 {
		capacity = klimits.ChannelCapDefault
	}
	if capacity < klimits.ChannelCapMin {
		capacity = klimits.ChannelCapMin
	}
	if capacity > klimits.ChannelCapMax {
		capacity = klimits.ChannelCapMax
	}

	ch := &channel{cap: int(capacity)}

	r.mu.Lock()
	defer r.mu.Unlock()
	sendID = r.allocID()
	recvID = r.allocID()
	r.endpoints[sendID] = &endpoint{ch: ch, dir: sendEnd}
	r.endpoints[recvID] = &endpoint{ch: ch, dir: recvEnd}
	return sendID, recvID
}

func (r *Registry) lookup(id defs.Eid_t) (*endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.endpoints[id]
	return e, ok
}

// TrySend is the non-blocking send: validates direction, reports
// PeerClosed if the receiver has closed, ChannelFull if the queue is at
// capacity, otherwise enqueues a copy of msg and returns the registered
// receive-waiter (if any) so the caller can wake it.
func (r *Registry) TrySend(id defs.Eid_t, msg []byte) (status defs.IpcStatus, woken interface{}) {
	if len(msg) > klimits.MaxMessageSize {
		return defs.IpcMessageTooLarge, nil
	}
	e, ok := r.lookup(id)
	if !ok {
		return defs.IpcInvalidEndpoint, nil
	}
	if e.dir != sendEnd {
		return defs.IpcWrongDirection, nil
	}
	ch := e.ch
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.receiverClosed {
		return defs.IpcPeerClosed, nil
	}
	if ch.full() {
		return defs.IpcChannelFull, nil
	}
	cp := append([]byte(nil), msg...)
	ch.msgs = append(ch.msgs, cp)
	ch.head++

	if ch.recvWaiter != nil {
		woken = ch.recvWaiter.handle
		ch.recvWaiter = nil
	}
	return defs.IpcOk, woken
}

// TryRecv is the non-blocking receive: pops the oldest message if
// present (waking a registered send-waiter), or reports PeerClosed if
// the sender has closed and the queue is empty, or WouldBlock otherwise.
// WouldBlock is not itself an ABI status -- IpcStatus has no such value:
// it is the signal kernel/syscalls uses to decide whether to register a
// waiter and block, never a value returned to user space.
func (r *Registry) TryRecv(id defs.Eid_t) (msg []byte, wouldBlock bool, status defs.IpcStatus, woken interface{}) {
	e, ok := r.lookup(id)
	if !ok {
		return nil, false, defs.IpcInvalidEndpoint, nil
	}
	if e.dir != recvEnd {
		return nil, false, defs.IpcWrongDirection, nil
	}
	ch := e.ch
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !ch.empty() {
		m := ch.msgs[0]
		ch.msgs = ch.msgs[1:]
		ch.tail++
		if ch.sendWaiter != nil {
			woken = ch.sendWaiter.handle
			ch.sendWaiter = nil
		}
		return m, false, defs.IpcOk, woken
	}
	if ch.senderClosed {
		return nil, false, defs.IpcPeerClosed, nil
	}
	return nil, true, defs.IpcOk, nil
}

// RegisterSendWaiter/RegisterRecvWaiter install handle as the single
// task blocked trying to send/receive on id. They return false if a
// waiter is already registered, enforcing the single-slot invariant.
func (r *Registry) RegisterSendWaiter(id defs.Eid_t, handle interface{}) bool {
	e, ok := r.lookup(id)
	if !ok {
		return false
	}
	ch := e.ch
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.sendWaiter != nil {
		return false
	}
	ch.sendWaiter = &waiter{handle: handle}
	return true
}

func (r *Registry) RegisterRecvWaiter(id defs.Eid_t, handle interface{}) bool {
	e, ok := r.lookup(id)
	if !ok {
		return false
	}
	ch := e.ch
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.recvWaiter != nil {
		return false
	}
	ch.recvWaiter = &waiter{handle: handle}
	return true
}

// IsSendEndpoint reports whether id names a currently registered
// send-direction endpoint. sys_register_service's only validation of
// its send_ep argument is exactly this check (ENDPOINT_REGISTRY.get(...)
// matched against EndpointRole::Send) before handing the id to the
// service registry -- RegisterService in kernel/syscalls uses this to
// reject an endpoint that doesn't exist or is the wrong direction.
func (r *Registry) IsSendEndpoint(id defs.Eid_t) bool {
	e, ok := r.lookup(id)
	return ok && e.dir == sendEnd
}

// Close removes id from the registry and marks the corresponding
// closed flag on the shared channel, so the peer observes PeerClosed
// on its next operation.
func (r *Registry) Close(id defs.Eid_t) {
	r.mu.Lock()
	e, ok := r.endpoints[id]
	if ok {
		delete(r.endpoints, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	ch := e.ch
	ch.mu.Lock()
	defer ch.mu.Unlock()
	switch e.dir {
	case sendEnd:
		ch.senderClosed = true
	case recvEnd:
		ch.receiverClosed = true
	}
}
