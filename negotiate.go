package udpconn

import (
	"context"
	"sync"
)

// NegotiationResultFunc is the upcall a Negotiator invokes, exactly once,
// when its handshake concludes (successfully or not). negotiatedMTU is nil
// if the negotiator did not renegotiate the MTU.
type NegotiationResultFunc func(success bool, negotiatedMTU *uint16)

// Negotiator is the external collaborator that runs a handshake over
// type-0x01 datagrams. spec.md §6 specifies only this contract; the policy
// itself (how many round trips, what the handshake payload contains) is
// left to the implementation — see the negotiator/ package for a reference
// Noise-based implementation.
type Negotiator interface {
	// InputPacket delivers a received negotiation datagram. It reports
	// whether the datagram was meaningful proof of life.
	InputPacket(payload []byte) bool
	// NotifyRemoteProgressing is invoked when a non-negotiation datagram
	// arrives while the connection is Connecting, so the negotiator can
	// treat it as proof the peer is still alive. It reports whether that
	// counts as meaningful.
	NotifyRemoteProgressing() bool
	// Start kicks off the handshake asynchronously. cached is the
	// datagram (if any) that arrived before Negotiate was called; it may
	// be nil. Start must eventually invoke result exactly once, even if
	// ctx is cancelled or ctx's deadline expires.
	Start(ctx context.Context, cached []byte, result NegotiationResultFunc) error
	// NotifyDisposed tells the negotiator its connection has gone away.
	// Any in-flight Start must still invoke its result func.
	NotifyDisposed()
}

// negotiationCache holds at most one early datagram (of any packet type)
// received before the user attaches a Negotiator, per spec.md §4.4. All mutations
// are serialised under its own mutex (the "negotiation lock" of §5),
// independent of the connection's state lock and registry lock.
type negotiationCache struct {
	mu       sync.Mutex
	buf      *OwnedBuffer
	disabled bool
}

// offer stores datagram if caching is still enabled and the slot is empty.
// A failing pool rent silently drops the datagram, per the buffer-pool
// adapter's documented fallback (§4.2).
func (n *negotiationCache) offer(datagram []byte, pool BufferPool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.disabled || n.buf != nil {
		return
	}
	owned, err := pool.Rent(len(datagram), false)
	if err != nil {
		return
	}
	copy(owned.Bytes(), datagram)
	n.buf = &owned
}

// consumeOnAttach permanently disables caching and hands back a copy of the
// cached datagram (nil if none arrived), releasing the cache's own buffer.
func (n *negotiationCache) consumeOnAttach() []byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disabled = true
	return n.releaseLocked()
}

// discardOnSkip permanently disables caching and drops any cached buffer
// without returning it to a negotiator (used by SkipNegotiation, by
// negotiation completion, and by connection close).
func (n *negotiationCache) discardOnSkip() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disabled = true
	n.releaseLocked()
}

func (n *negotiationCache) releaseLocked() []byte {
	if n.buf == nil {
		return nil
	}
	out := append([]byte(nil), n.buf.Bytes()...)
	n.buf.Release()
	n.buf = nil
	return out
}
