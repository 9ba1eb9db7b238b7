package udpconn

import (
	"context"
	"sync"
)

// Callback is the subscriber interface delivered data payloads and state
// transitions. Implementations must not assume PacketReceived and
// StateChanged are mutually exclusive in time — they may be invoked
// concurrently from different inbound dispatch goroutines (§5 of
// SPEC_FULL.md). Returned errors are swallowed by the registry: a
// misbehaving subscriber must never prevent its siblings from being
// notified.
type Callback interface {
	PacketReceived(ctx context.Context, payload []byte) error
	StateChanged(conn *Conn)
}

// registryNode is one link in the registry's intrusive singly-linked list.
type registryNode struct {
	cb   Callback
	next *registryNode
}

// CallbackRegistry is the intrusive singly-linked subscriber list described
// in spec.md §3/§4.3. Writes (register, clear, drop-by-handle) are
// serialised under a single mutex; the mutex is never held while a
// subscriber is being invoked, and delivery re-reads the node's next
// pointer after each subscriber call so a node dropped during its own
// delivery still lets iteration continue onto whatever followed it at
// drop time.
type CallbackRegistry struct {
	mu         sync.Mutex
	head, tail *registryNode
}

// Handle identifies a registered subscriber. Release unlinks it; it is safe
// to call Release more than once or never (registry Clear cleans up
// anything still linked at connection disposal).
type Handle struct {
	node *registryNode
	reg  *CallbackRegistry
}

// Register appends cb to the tail of the list and returns a Handle that can
// later drop it.
func (r *CallbackRegistry) Register(cb Callback) Handle {
	n := &registryNode{cb: cb}
	r.mu.Lock()
	if r.tail == nil {
		r.head = n
		r.tail = n
	} else {
		r.tail.next = n
		r.tail = n
	}
	r.mu.Unlock()
	return Handle{node: n, reg: r}
}

// Release unlinks the subscriber identified by h. It scans from the head
// under the registry lock — O(n) in list length, as specified.
func (h Handle) Release() {
	if h.reg == nil || h.node == nil {
		return
	}
	h.reg.drop(h.node)
}

func (r *CallbackRegistry) drop(target *registryNode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.head == target {
		r.head = target.next
		if r.tail == target {
			r.tail = nil
		}
		return
	}
	prev := r.head
	for prev != nil && prev.next != target {
		prev = prev.next
	}
	if prev == nil {
		return // already dropped, or never linked in this registry
	}
	prev.next = target.next
	if r.tail == target {
		r.tail = prev
	}
}

// Clear atomically drops every registered subscriber. Used on connection
// disposal.
func (r *CallbackRegistry) Clear() {
	r.mu.Lock()
	r.head = nil
	r.tail = nil
	r.mu.Unlock()
}

func (r *CallbackRegistry) snapshotHead() *registryNode {
	r.mu.Lock()
	h := r.head
	r.mu.Unlock()
	return h
}

func (r *CallbackRegistry) nodeNext(n *registryNode) *registryNode {
	r.mu.Lock()
	next := n.next
	r.mu.Unlock()
	return next
}

// PacketReceived delivers payload to every currently-registered subscriber,
// in list order. Each subscriber is invoked with the registry lock released.
// A subscriber panic is recovered and swallowed (per spec.md §4.3/§7) so
// siblings still fire. Cancellation of ctx is checked between subscribers
// and aborts the remainder of the delivery with ErrCancelled.
func (r *CallbackRegistry) PacketReceived(ctx context.Context, payload []byte) error {
	for cur := r.snapshotHead(); cur != nil; cur = r.nodeNext(cur) {
		select {
		case <-ctx.Done():
			return ErrCancelled
		default:
		}
		deliverPacket(cur.cb, ctx, payload)
	}
	return nil
}

func deliverPacket(cb Callback, ctx context.Context, payload []byte) {
	defer func() { _ = recover() }()
	_ = cb.PacketReceived(ctx, payload)
}

// NotifyStateChanged fires StateChanged on every currently-registered
// subscriber, synchronously and fire-and-forget: panics are recovered and
// swallowed, and there is no cancellation check (state-change notification
// is not itself cancellable per spec.md §4.3).
func (r *CallbackRegistry) NotifyStateChanged(conn *Conn) {
	for cur := r.snapshotHead(); cur != nil; cur = r.nodeNext(cur) {
		deliverStateChange(cur.cb, conn)
	}
}

func deliverStateChange(cb Callback, conn *Conn) {
	defer func() { _ = recover() }()
	cb.StateChanged(conn)
}
