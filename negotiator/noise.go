// Package negotiator provides a reference udpconn.Negotiator built on the
// Noise Protocol Framework's NN pattern (no static keys, anonymous peers),
// adapted from the teacher's Noise wrapper in crypto.go: same cipher suite,
// same WriteMessage/ReadMessage completion detection, rehomed onto the
// udpconn.Negotiator contract instead of a length-prefixed stream codec.
package negotiator

import (
	"context"
	"errors"
	"sync"

	"github.com/flynn/noise"

	"github.com/oksana-dev/udpconn"
)

// defaultCipherSuite mirrors the teacher's package-level cached suite: it is
// immutable and safe to share across handshakes.
var defaultCipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherAESGCM, noise.HashSHA256)

// ErrHandshakeFailed is returned when a peer's handshake message cannot be
// processed.
var ErrHandshakeFailed = errors.New("negotiator: noise handshake failed")

// SendFunc transmits a single negotiation datagram's payload (the type byte
// is added by the caller, e.g. udpconn.Conn.SendNegotiationPacket).
type SendFunc func(payload []byte) bool

// Noise is a udpconn.Negotiator running a two-message Noise NN handshake.
// The client sends message 1 on Start; the server replies with message 2
// either immediately (if message 1 arrived as the cached pre-negotiation
// datagram) or upon InputPacket; the client completes on receiving message
// 2. Proof-of-life payloads are empty on both messages — this negotiator
// authenticates the channel, it does not itself carry application data.
type Noise struct {
	send        SendFunc
	isInitiator bool

	mu       sync.Mutex
	hs       *noise.HandshakeState
	result   udpconn.NegotiationResultFunc
	done     bool
	disposed bool
}

// NewClient builds the initiator side of the handshake.
func NewClient(send SendFunc) (*Noise, error) {
	return newNoise(send, true)
}

// NewServer builds the responder side of the handshake.
func NewServer(send SendFunc) (*Noise, error) {
	return newNoise(send, false)
}

func newNoise(send SendFunc, initiator bool) (*Noise, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: defaultCipherSuite,
		Pattern:     noise.HandshakeNN,
		Initiator:   initiator,
	})
	if err != nil {
		return nil, err
	}
	return &Noise{send: send, isInitiator: initiator, hs: hs}, nil
}

// Start implements udpconn.Negotiator. The initiator writes and sends
// message 1 unconditionally. The responder processes a cached message 1 if
// one arrived before Start was called (a cached datagram of any other type
// is not a handshake message and is ignored here); otherwise it waits for
// InputPacket. If ctx ends before the handshake concludes, the result is
// reported as a failure.
func (n *Noise) Start(ctx context.Context, cached []byte, result udpconn.NegotiationResultFunc) error {
	n.mu.Lock()
	n.result = result
	disposed := n.disposed
	n.mu.Unlock()
	if disposed {
		result(false, nil)
		return nil
	}
	context.AfterFunc(ctx, func() { n.finish(false) })

	if n.isInitiator {
		msg, _, _, err := n.hs.WriteMessage(nil, nil)
		if err != nil {
			n.finish(false)
			return nil
		}
		if !n.send(msg) {
			n.finish(false)
		}
		return nil
	}

	if len(cached) > 1 && cached[0] == udpconn.PacketNegotiation {
		n.processMessage(cached[1:])
	}
	return nil
}

// InputPacket implements udpconn.Negotiator. payload is the full received
// datagram including its leading type byte.
func (n *Noise) InputPacket(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	return n.processMessage(payload[1:])
}

func (n *Noise) processMessage(msg []byte) bool {
	n.mu.Lock()
	if n.done || n.disposed {
		n.mu.Unlock()
		return false
	}
	hs := n.hs
	n.mu.Unlock()

	out, cs1, cs2, err := hs.ReadMessage(nil, msg)
	_ = out
	if err != nil {
		n.finish(false)
		return false
	}

	complete := cs1 != nil && cs2 != nil
	if n.isInitiator {
		if complete {
			n.finish(true)
		}
		return true
	}

	// Responder: reply with message 2, which completes its own side.
	reply, rcs1, rcs2, werr := hs.WriteMessage(nil, nil)
	if werr != nil {
		n.finish(false)
		return false
	}
	sent := n.send(reply)
	if rcs1 != nil && rcs2 != nil && sent {
		n.finish(true)
		return true
	}
	if !sent {
		n.finish(false)
	}
	return sent
}

// NotifyRemoteProgressing implements udpconn.Negotiator. A non-negotiation
// datagram arriving mid-handshake is not itself handshake proof, so this
// negotiator reports it as not meaningful.
func (n *Noise) NotifyRemoteProgressing() bool { return false }

// NotifyDisposed implements udpconn.Negotiator.
func (n *Noise) NotifyDisposed() {
	n.mu.Lock()
	if n.done {
		n.mu.Unlock()
		return
	}
	n.disposed = true
	result := n.result
	n.done = true
	n.mu.Unlock()
	if result != nil {
		result(false, nil)
	}
}

func (n *Noise) finish(success bool) {
	n.mu.Lock()
	if n.done {
		n.mu.Unlock()
		return
	}
	n.done = true
	result := n.result
	n.mu.Unlock()
	if result != nil {
		result(success, nil)
	}
}
