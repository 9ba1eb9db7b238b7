package udpconn

import (
	"context"
	"sync"
	"testing"
)

type recordingCallback struct {
	mu       sync.Mutex
	packets  [][]byte
	states   int
	onPacket func()
}

func (r *recordingCallback) PacketReceived(_ context.Context, payload []byte) error {
	r.mu.Lock()
	r.packets = append(r.packets, append([]byte(nil), payload...))
	r.mu.Unlock()
	if r.onPacket != nil {
		r.onPacket()
	}
	return nil
}

func (r *recordingCallback) StateChanged(_ *Conn) {
	r.mu.Lock()
	r.states++
	r.mu.Unlock()
}

type panickingCallback struct{ after *recordingCallback }

func (p panickingCallback) PacketReceived(context.Context, []byte) error { panic("boom") }
func (p panickingCallback) StateChanged(*Conn)                           { panic("boom") }

func TestRegistryDeliversToAllSubscribersInOrder(t *testing.T) {
	var reg CallbackRegistry
	a := &recordingCallback{}
	b := &recordingCallback{}
	reg.Register(a)
	reg.Register(b)

	if err := reg.PacketReceived(context.Background(), []byte("x")); err != nil {
		t.Fatalf("PacketReceived returned error: %v", err)
	}
	if len(a.packets) != 1 || len(b.packets) != 1 {
		t.Fatalf("expected both subscribers notified once, got a=%d b=%d", len(a.packets), len(b.packets))
	}
}

func TestRegistryHandleReleaseRemovesSubscriber(t *testing.T) {
	var reg CallbackRegistry
	a := &recordingCallback{}
	h := reg.Register(a)
	h.Release()

	_ = reg.PacketReceived(context.Background(), []byte("x"))
	if len(a.packets) != 0 {
		t.Fatalf("released subscriber should not be notified, got %d deliveries", len(a.packets))
	}
}

func TestRegistryHandleReleaseIsSafeToCallTwice(t *testing.T) {
	var reg CallbackRegistry
	h := reg.Register(&recordingCallback{})
	h.Release()
	h.Release() // must not panic
}

func TestRegistrySwallowsSubscriberPanic(t *testing.T) {
	var reg CallbackRegistry
	reg.Register(panickingCallback{})
	after := &recordingCallback{}
	reg.Register(after)

	_ = reg.PacketReceived(context.Background(), []byte("x"))
	if len(after.packets) != 1 {
		t.Fatal("a panicking subscriber must not prevent later subscribers from being notified")
	}

	reg.NotifyStateChanged(nil)
	if after.states != 1 {
		t.Fatal("a panicking subscriber must not prevent later StateChanged delivery")
	}
}

func TestRegistryPacketReceivedRespectsCancellation(t *testing.T) {
	var reg CallbackRegistry
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reg.Register(&recordingCallback{})

	err := reg.PacketReceived(ctx, []byte("x"))
	if err != ErrCancelled {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
}

func TestRegistryDropDuringOwnDeliveryLetsIterationContinue(t *testing.T) {
	var reg CallbackRegistry
	var h Handle
	self := &recordingCallback{}
	self.onPacket = func() { h.Release() }
	h = reg.Register(self)
	tail := &recordingCallback{}
	reg.Register(tail)

	_ = reg.PacketReceived(context.Background(), []byte("x"))
	if len(tail.packets) != 1 {
		t.Fatal("a subscriber dropping itself mid-delivery must not skip the rest of the list")
	}
}
