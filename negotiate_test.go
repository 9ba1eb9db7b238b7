package udpconn

import "testing"

func TestNegotiationCacheOfferAndConsume(t *testing.T) {
	var cache negotiationCache
	pool := NewDefaultPool(DefaultMTU)

	cache.offer([]byte{PacketNegotiation, 1, 2, 3}, pool)
	got := cache.consumeOnAttach()
	if string(got) != string([]byte{PacketNegotiation, 1, 2, 3}) {
		t.Fatalf("consumeOnAttach = %v, want cached datagram", got)
	}
}

func TestNegotiationCacheOnlyKeepsFirstOffer(t *testing.T) {
	var cache negotiationCache
	pool := NewDefaultPool(DefaultMTU)

	cache.offer([]byte{PacketNegotiation, 1}, pool)
	cache.offer([]byte{PacketNegotiation, 2}, pool)

	got := cache.consumeOnAttach()
	if len(got) != 2 || got[1] != 1 {
		t.Fatalf("consumeOnAttach = %v, want the first-offered datagram", got)
	}
}

func TestNegotiationCacheConsumeOnAttachDisablesCaching(t *testing.T) {
	var cache negotiationCache
	pool := NewDefaultPool(DefaultMTU)

	cache.consumeOnAttach()
	cache.offer([]byte{PacketNegotiation, 9}, pool)

	if got := cache.consumeOnAttach(); got != nil {
		t.Fatalf("expected no caching after consumeOnAttach, got %v", got)
	}
}

func TestNegotiationCacheDiscardOnSkipDisablesCaching(t *testing.T) {
	var cache negotiationCache
	pool := NewDefaultPool(DefaultMTU)

	cache.offer([]byte{PacketNegotiation, 9}, pool)
	cache.discardOnSkip()

	if got := cache.consumeOnAttach(); got != nil {
		t.Fatalf("expected discardOnSkip to drop any cached datagram, got %v", got)
	}
}
