package ipc

import (
	"testing"

	"defs"
)

func TestSendRecvRoundTrip(t *testing.T) {
	r := NewRegistry()
	send, recv := r.Create(4)

	if status, _ := r.TrySend(send, []byte("hello")); status != defs.IpcOk {
		t.Fatalf("send failed: %v", status)
	}
	msg, wouldBlock, status, _ := r.TryRecv(recv)
	if wouldBlock || status != defs.IpcOk {
		t.Fatalf("recv failed: wouldBlock=%v status=%v", wouldBlock, status)
	}
	if string(msg) != "hello" {
		t.Fatalf("got %q", msg)
	}
}

func TestRecvOnEmptyWouldBlock(t *testing.T) {
	r := NewRegistry()
	_, recv := r.Create(4)
	_, wouldBlock, status, _ := r.TryRecv(recv)
	if !wouldBlock {
		t.Fatal("expected WouldBlock on an empty queue")
	}
	if status != defs.IpcOk {
		t.Fatalf("unexpected status: %v", status)
	}
}

func TestSendFillsToCapacityThenChannelFull(t *testing.T) {
	r := NewRegistry()
	send, _ := r.Create(2)
	if status, _ := r.TrySend(send, []byte("a")); status != defs.IpcOk {
		t.Fatal("first send should succeed")
	}
	if status, _ := r.TrySend(send, []byte("b")); status != defs.IpcOk {
		t.Fatal("second send should succeed")
	}
	if status, _ := r.TrySend(send, []byte("c")); status != defs.IpcChannelFull {
		t.Fatalf("expected ChannelFull, got %v", status)
	}
}

func TestZeroCapacityMapsToDefault(t *testing.T) {
	r := NewRegistry()
	send, _ := r.Create(0) // 0 maps to the default of 16
	for i := 0; i < 16; i++ {
		if status, _ := r.TrySend(send, []byte{byte(i)}); status != defs.IpcOk {
			t.Fatalf("send %d should succeed under the default capacity", i)
		}
	}
	if status, _ := r.TrySend(send, []byte{0}); status != defs.IpcChannelFull {
		t.Fatalf("17th send should overflow the default capacity, got %v", status)
	}
}

func TestCloseReceiverReportsPeerClosedToSender(t *testing.T) {
	r := NewRegistry()
	send, recv := r.Create(4)
	r.Close(recv)
	if status, _ := r.TrySend(send, []byte("x")); status != defs.IpcPeerClosed {
		t.Fatalf("expected PeerClosed, got %v", status)
	}
}

func TestCloseSenderReportsPeerClosedToReceiverOnceDrained(t *testing.T) {
	r := NewRegistry()
	send, recv := r.Create(4)
	r.TrySend(send, []byte("last"))
	r.Close(send)

	msg, wouldBlock, status, _ := r.TryRecv(recv)
	if wouldBlock || status != defs.IpcOk || string(msg) != "last" {
		t.Fatalf("queued message should still be delivered after sender closes")
	}
	_, wouldBlock, status, _ = r.TryRecv(recv)
	if wouldBlock {
		t.Fatal("an empty queue with a closed sender should report PeerClosed, not WouldBlock")
	}
	if status != defs.IpcPeerClosed {
		t.Fatalf("expected PeerClosed, got %v", status)
	}
}

func TestWrongDirectionRejected(t *testing.T) {
	r := NewRegistry()
	send, recv := r.Create(4)
	if status, _ := r.TrySend(recv, []byte("x")); status != defs.IpcWrongDirection {
		t.Fatalf("sending on a recv endpoint should fail, got %v", status)
	}
	if _, _, status, _ := r.TryRecv(send); status != defs.IpcWrongDirection {
		t.Fatalf("receiving on a send endpoint should fail, got %v", status)
	}
}

func TestSingleSlotWaiterDiscipline(t *testing.T) {
	r := NewRegistry()
	_, recv := r.Create(1)
	if !r.RegisterRecvWaiter(recv, "task-a") {
		t.Fatal("first registration should succeed")
	}
	if r.RegisterRecvWaiter(recv, "task-b") {
		t.Fatal("a second recv waiter must be refused: single-slot discipline")
	}
}

func TestSendWakesRegisteredRecvWaiter(t *testing.T) {
	r := NewRegistry()
	send, recv := r.Create(1)
	if !r.RegisterRecvWaiter(recv, "waiting-task") {
		t.Fatal("register failed")
	}
	_, woken := r.TrySend(send, []byte("x"))
	if woken != "waiting-task" {
		t.Fatalf("expected TrySend to report the registered recv waiter, got %v", woken)
	}
}

func TestMessageTooLargeRejected(t *testing.T) {
	r := NewRegistry()
	send, _ := r.Create(4)
	big := make([]byte, 4097)
	if status, _ := r.TrySend(send, big); status != defs.IpcMessageTooLarge {
		t.Fatalf("expected IpcMessageTooLarge, got %v", status)
	}
}
