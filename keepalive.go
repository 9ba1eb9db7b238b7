package udpconn

import (
	"context"
	"time"
)

// KeepAliveHandler is the external collaborator that emits and consumes
// type-0x02 datagrams and drives liveness. spec.md §6 specifies only the
// packet-processing contract and the activity contract it feeds (dead
// detection); the timer loop that decides when to emit a ping is the
// handler's own business.
type KeepAliveHandler interface {
	// ProcessPacket handles a received keep-alive datagram and reports
	// whether it was meaningful proof of life.
	ProcessPacket(payload []byte) bool
	// NotifyDisposed tells the handler its connection has gone away; any
	// running timer loop must stop.
	NotifyDisposed()
}

// DefaultKeepAlive is a reference KeepAliveHandler: it pings on a fixed
// interval and calls the connection's dead-detection primitive on expiry,
// directly modeled on the teacher's Conn.keepAlive goroutine (a ticker loop
// that emits a ping frame only when the connection has been otherwise idle,
// and returns when the connection's context is done).
type DefaultKeepAlive struct {
	conn     *Conn
	interval time.Duration
	expire   time.Duration
	cancel   context.CancelFunc
}

// NewDefaultKeepAlive builds a handler bound to conn. interval is the ping
// period (a ping goes out on every tick, whether or not other traffic was
// seen); expire is the liveness window passed to TryMarkDead.
func NewDefaultKeepAlive(conn *Conn, interval, expire time.Duration) *DefaultKeepAlive {
	return &DefaultKeepAlive{conn: conn, interval: interval, expire: expire}
}

// ProcessPacket treats any received keep-alive datagram as meaningful.
func (k *DefaultKeepAlive) ProcessPacket(_ []byte) bool { return true }

// Start launches the ticker loop in its own goroutine and returns at once;
// the loop stops once ctx is done or NotifyDisposed is called.
func (k *DefaultKeepAlive) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	k.cancel = cancel

	go func() {
		ticker := time.NewTicker(k.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// Padded to 4 bytes: InputPacket drops shorter datagrams.
				k.conn.queueRaw([]byte{PacketKeepAlive, 0, 0, 0})
				threshold := time.Now().UnixMilli() - k.expire.Milliseconds()
				k.conn.TryMarkDead(threshold)
			}
		}
	}()
}

// NotifyDisposed stops the ticker loop.
func (k *DefaultKeepAlive) NotifyDisposed() {
	if k.cancel != nil {
		k.cancel()
	}
}

// autoKeepAliveInstaller is an internal Callback that installs and starts a
// DefaultKeepAlive the first time a connection reaches Connected, when the
// connection was built with WithAutoKeepAlive. It satisfies the Callback
// interface purely to observe state transitions; it never receives data
// payloads meaningfully.
type autoKeepAliveInstaller struct {
	interval time.Duration
	expire   time.Duration
}

func (a *autoKeepAliveInstaller) PacketReceived(context.Context, []byte) error { return nil }

func (a *autoKeepAliveInstaller) StateChanged(conn *Conn) {
	if conn.State() != StateConnected {
		return
	}
	ka := NewDefaultKeepAlive(conn, a.interval, a.expire)
	if err := conn.SetupKeepAlive(ka); err != nil {
		return
	}
	ka.Start(context.Background())
}
