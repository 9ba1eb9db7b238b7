package udpconn

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DialUDP dials a UDP endpoint and wraps it in a Conn that owns the
// transport. The returned Conn starts in StateNone; the caller still must
// call Negotiate or SkipNegotiation to advance it, matching spec.md's
// explicit separation between transport setup and negotiation — directly
// modeled on the teacher's Dial, minus the Azure-specific handshake
// bootstrap (the core here treats negotiation as an external collaborator,
// per spec.md §1).
func DialUDP(addr string, opts ...Option) (*Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	uc, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	facade := NewEndpointTransport(uc, raddr, DefaultMTU)
	c := NewConn(facade, append(append([]Option{}, opts...), WithOwnsTransport())...)
	go pumpEndpoint(c, uc)
	return c, nil
}

func pumpEndpoint(c *Conn, uc *net.UDPConn) {
	buf := make([]byte, 65535)
	for {
		n, err := uc.Read(buf)
		if err != nil {
			c.SetTransportClosed()
			return
		}
		datagram := append([]byte(nil), buf[:n]...)
		_ = c.InputPacket(context.Background(), datagram)
	}
}

// NewConnFunc builds a Conn for a freshly-observed remote address. facade
// is already bound to that address; reg is the ApplicationRegistration the
// caller must pass through via WithApplicationRegistration so the Listener
// can evict the connection from its table on Failed/Dead/Dispose.
type NewConnFunc func(facade Facade, reg ApplicationRegistration) *Conn

// Listener demultiplexes inbound UDP datagrams received on one shared
// socket into per-remote-address Conns, directly modeled on the teacher's
// Listener (a conns table, an Accept loop, and a janitor goroutine that
// sweeps stale entries) adapted from Azure polling to a single shared
// net.UDPConn.
type Listener struct {
	conn    *net.UDPConn
	newConn NewConnFunc

	mu     sync.Mutex
	byAddr map[string]uuid.UUID
	byID   map[uuid.UUID]*Conn

	acceptCh chan *Conn
	closeCh  chan struct{}
	closeOne sync.Once

	idleTimeout time.Duration
}

// ListenUDP opens a shared UDP socket on laddr. newConn is invoked once per
// newly-observed remote address. idleTimeout bounds how long a connection
// may go without a qualifying inbound datagram before the janitor marks it
// Dead; zero selects DefaultIdleTimeout.
func ListenUDP(laddr string, newConn NewConnFunc, idleTimeout time.Duration) (*Listener, error) {
	addr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}

	l := &Listener{
		conn:        conn,
		newConn:     newConn,
		byAddr:      make(map[string]uuid.UUID),
		byID:        make(map[uuid.UUID]*Conn),
		acceptCh:    make(chan *Conn, 16),
		closeCh:     make(chan struct{}),
		idleTimeout: idleTimeout,
	}
	go l.readLoop()
	go l.janitor()
	return l, nil
}

func (l *Listener) readLoop() {
	buf := make([]byte, 65535)
	for {
		n, raddr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.closeCh:
				return
			default:
				continue
			}
		}
		datagram := append([]byte(nil), buf[:n]...)
		l.dispatch(raddr, datagram)
	}
}

func (l *Listener) dispatch(raddr *net.UDPAddr, datagram []byte) {
	key := raddr.String()

	l.mu.Lock()
	id, known := l.byAddr[key]
	var conn *Conn
	if known {
		conn = l.byID[id]
	}
	isNew := conn == nil
	if isNew {
		id = uuid.New()
	}
	l.mu.Unlock()

	if isNew {
		facade := NewSharedTransport(l.conn, raddr)
		reg := applicationRegistrationFunc(func() {
			l.mu.Lock()
			delete(l.byAddr, key)
			delete(l.byID, id)
			l.mu.Unlock()
		})
		conn = l.newConn(facade, reg)

		l.mu.Lock()
		l.byAddr[key] = id
		l.byID[id] = conn
		l.mu.Unlock()

		select {
		case l.acceptCh <- conn:
		default:
		}
	}

	_ = conn.InputPacket(context.Background(), datagram)
}

// Accept returns the next newly-observed connection.
func (l *Listener) Accept() (*Conn, error) {
	select {
	case c := <-l.acceptCh:
		return c, nil
	case <-l.closeCh:
		return nil, net.ErrClosed
	}
}

// Close stops the read and janitor loops, closes the shared socket, and
// disposes every Conn the Listener has handed out, so their keep-alive
// goroutines and other per-connection resources are released rather than
// leaked once the Listener itself goes away.
func (l *Listener) Close() error {
	l.closeOne.Do(func() { close(l.closeCh) })

	l.mu.Lock()
	conns := make([]*Conn, 0, len(l.byID))
	for _, c := range l.byID {
		conns = append(conns, c)
	}
	l.mu.Unlock()
	for _, c := range conns {
		_ = c.Dispose()
	}

	return l.conn.Close()
}

// janitor periodically sweeps every tracked connection through
// TryMarkDead, the same role as the teacher's Listener.janitor.
func (l *Listener) janitor() {
	ticker := time.NewTicker(DefaultAcceptPoll)
	defer ticker.Stop()
	for {
		select {
		case <-l.closeCh:
			return
		case <-ticker.C:
			threshold := time.Now().UnixMilli() - l.idleTimeout.Milliseconds()
			l.mu.Lock()
			conns := make([]*Conn, 0, len(l.byID))
			for _, c := range l.byID {
				conns = append(conns, c)
			}
			l.mu.Unlock()
			for _, c := range conns {
				c.TryMarkDead(threshold)
			}
		}
	}
}
