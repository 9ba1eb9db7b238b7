package udpconn

import (
	"context"
	"net"
	"sync"
	"time"
)

// timeZero clears a previously-set write deadline.
var timeZero time.Time

// endpointTransport is a Facade over a net.UDPConn that has been Dial'd to
// exactly one remote address — the "endpoint transport" variant of
// spec.md §4.6, directly modeled on the teacher's Transport interface
// (WriteRaw/ReadRaw/Close/LocalAddr/RemoteAddr/MaxRawSize) adapted to the
// push-model Facade shape.
type endpointTransport struct {
	conn   *net.UDPConn
	remote *net.UDPAddr
	mtu    int

	writeMu sync.Mutex

	exceptionMu sync.Mutex
	exception   func(error) bool
}

// NewEndpointTransport wraps a UDP connection already connected to remote.
// mtu is stored but not checked: datagrams of any size are written as given.
func NewEndpointTransport(conn *net.UDPConn, remote *net.UDPAddr, mtu int) Facade {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	return &endpointTransport{conn: conn, remote: remote, mtu: mtu}
}

func (t *endpointTransport) QueuePacket(buf []byte) bool {
	_, err := t.conn.Write(buf)
	if err != nil {
		t.reportError(err)
		return false
	}
	return true
}

// QueueAndSend sets a write deadline from ctx, if any, and writes. The
// deadline and the write are serialised under writeMu: endpointTransport's
// socket is exclusive to this one Conn, but SendAsync/Close may still be
// called from multiple goroutines, and an unsynchronised
// SetWriteDeadline/Write/reset sequence would let one caller's deadline
// clobber another's mid-flight.
func (t *endpointTransport) QueueAndSend(ctx context.Context, buf []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
		defer t.conn.SetWriteDeadline(timeZero)
	}
	_, err := t.conn.Write(buf)
	if err != nil {
		t.reportError(err)
	}
	return err
}

func (t *endpointTransport) SetExceptionHandler(h func(error) bool) {
	t.exceptionMu.Lock()
	t.exception = h
	t.exceptionMu.Unlock()
}

func (t *endpointTransport) reportError(err error) {
	t.exceptionMu.Lock()
	h := t.exception
	t.exceptionMu.Unlock()
	if h != nil {
		h(err)
	}
}

func (t *endpointTransport) RemoteEndpoint() net.Addr { return t.remote }

func (t *endpointTransport) Dispose() error { return t.conn.Close() }

// sharedTransport is a Facade adapting a single shared net.UDPConn plus an
// explicit remote address — the "shared transport + remote address"
// variant of spec.md §4.6, used by a demultiplexing Listener (dial.go)
// where many Conns share one underlying socket.
type sharedTransport struct {
	conn   *net.UDPConn
	remote *net.UDPAddr

	exceptionMu sync.Mutex
	exception   func(error) bool
}

// NewSharedTransport wraps conn (owned by the caller, typically a
// Listener) for sending to remote only. Dispose on a shared transport
// never closes the underlying socket — ownership stays with the caller.
func NewSharedTransport(conn *net.UDPConn, remote *net.UDPAddr) Facade {
	return &sharedTransport{conn: conn, remote: remote}
}

func (t *sharedTransport) QueuePacket(buf []byte) bool {
	_, err := t.conn.WriteToUDP(buf, t.remote)
	if err != nil {
		t.reportError(err)
		return false
	}
	return true
}

// QueueAndSend honors ctx cancellation before writing but never touches the
// underlying socket's write deadline: the socket is shared by every Conn the
// owning Listener has demultiplexed, so a per-call SetWriteDeadline would
// race against, and could clobber, another Conn's concurrent write on the
// same fd. UDP writes do not block on a healthy local socket, so there is no
// blocking send for a deadline to bound here.
func (t *sharedTransport) QueueAndSend(ctx context.Context, buf []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	_, err := t.conn.WriteToUDP(buf, t.remote)
	if err != nil {
		t.reportError(err)
	}
	return err
}

func (t *sharedTransport) SetExceptionHandler(h func(error) bool) {
	t.exceptionMu.Lock()
	t.exception = h
	t.exceptionMu.Unlock()
}

func (t *sharedTransport) reportError(err error) {
	t.exceptionMu.Lock()
	h := t.exception
	t.exceptionMu.Unlock()
	if h != nil {
		h(err)
	}
}

func (t *sharedTransport) RemoteEndpoint() net.Addr { return t.remote }

// Dispose is a no-op: the shared socket outlives any one connection.
func (t *sharedTransport) Dispose() error { return nil }
