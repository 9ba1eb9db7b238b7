package udpconn

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// State is the connection's lifecycle state, per spec.md §3.
type State int32

const (
	StateNone State = iota
	StateConnecting
	StateConnected
	StateFailed
	StateDead
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "None"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateFailed:
		return "Failed"
	case StateDead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// spinLock is a tight-loop mutual-exclusion primitive used for the state
// lock and the remote-statistics lock (spec.md §5: both are specified as
// spin locks, short and never held across a suspension point).
type spinLock struct {
	held atomic.Bool
}

func (s *spinLock) Lock() {
	for !s.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (s *spinLock) Unlock() {
	s.held.Store(false)
}

// Conn is the connection state machine: the central object of spec.md §4.5.
// It owns the current state, local/remote serials, last-active tick, the
// transport façade, the optional negotiator and keep-alive handles, and the
// callback registry. All state transitions run under stateLock and notify
// the registry exactly once per changing transition, after the lock is
// released.
type Conn struct {
	transport Facade
	pool      BufferPool
	registry  CallbackRegistry

	stateLock spinLock
	state     State

	mtu atomic.Uint32

	nextLocalSerial atomic.Uint32

	statsLock        spinLock
	nextRemoteSerial uint32
	packetsReceived  uint32

	lastActiveTick atomic.Int64

	ownsTransport   bool
	transportClosed atomic.Bool
	disposed        atomic.Bool
	resetReceived   atomic.Bool

	negMu      sync.Mutex
	negotiator Negotiator
	negCache   negotiationCache

	keepAliveMu sync.Mutex
	keepAlive   KeepAliveHandler

	appRegMu sync.Mutex
	appReg   ApplicationRegistration

	exceptionMu sync.Mutex
	exception   func(error) bool

	closeOnce    sync.Once
	closeStarted atomic.Bool

	metrics Metrics
}

// NewConn builds a connection state machine over transport. It starts in
// StateNone. Call Negotiate or SkipNegotiation to advance past StateNone.
func NewConn(transport Facade, opts ...Option) *Conn {
	cfg := applyConfig(opts)

	c := &Conn{
		transport:     newMetricsFacade(transport, cfg.metrics),
		pool:          cfg.pool,
		ownsTransport: cfg.ownsTransport,
		appReg:        cfg.appRegistration,
		exception:     cfg.exceptionHandler,
		metrics:       cfg.metrics,
	}
	c.mtu.Store(uint32(cfg.mtu))
	c.lastActiveTick.Store(time.Now().UnixMilli())
	c.negCache = negotiationCache{}
	if cfg.negotiationCachingDisabled {
		c.negCache.discardOnSkip()
	}

	if c.ownsTransport {
		transport.SetExceptionHandler(c.onTransportError)
	}
	if cfg.autoKeepAliveInterval > 0 {
		c.registry.Register(&autoKeepAliveInstaller{
			interval: cfg.autoKeepAliveInterval,
			expire:   cfg.autoKeepAliveExpire,
		})
	}
	return c
}

// State returns the connection's current state.
func (c *Conn) State() State {
	c.stateLock.Lock()
	s := c.state
	c.stateLock.Unlock()
	return s
}

// MTU returns the current maximum datagram size.
func (c *Conn) MTU() uint16 { return uint16(c.mtu.Load()) }

// MSS returns the current maximum application payload size.
func (c *Conn) MSS() uint16 { return MSS(c.MTU()) }

// GetMetrics returns the connection's metrics collector, matching the
// teacher's net.Conn-extension GetMetrics() method.
func (c *Conn) GetMetrics() Metrics { return c.metrics }

// checkAndChange acquires the state lock; if the current state is not
// expected it fails with ErrInvalidState, else sets newState and notifies
// the registry (after releasing the lock) if the state actually changed.
func (c *Conn) checkAndChange(expected, newState State) error {
	c.stateLock.Lock()
	if c.state != expected {
		c.stateLock.Unlock()
		return ErrInvalidState
	}
	changed := c.state != newState
	c.state = newState
	c.stateLock.Unlock()
	if changed {
		c.registry.NotifyStateChanged(c)
	}
	return nil
}

// changeTo acquires the state lock; a no-op if already in newState, else
// sets it and notifies the registry after releasing the lock.
func (c *Conn) changeTo(newState State) {
	c.stateLock.Lock()
	changed := c.state != newState
	c.state = newState
	c.stateLock.Unlock()
	if changed {
		c.registry.NotifyStateChanged(c)
	}
}

// Register adds a subscriber to the callback registry.
func (c *Conn) Register(cb Callback) Handle {
	return c.registry.Register(cb)
}

// SetExceptionHandler installs the user handler that receives
// asynchronously-surfaced transport errors.
func (c *Conn) SetExceptionHandler(h func(error) bool) {
	c.exceptionMu.Lock()
	c.exception = h
	c.exceptionMu.Unlock()
}

// onTransportError is installed as the façade's exception handler when the
// connection owns its transport (spec.md §4.6).
func (c *Conn) onTransportError(err error) bool {
	c.exceptionMu.Lock()
	h := c.exception
	c.exceptionMu.Unlock()
	if h == nil {
		return false
	}
	return h(&TransportError{Err: err})
}

// InputPacket dispatches one inbound datagram per spec.md §4.5. It may be
// called concurrently from multiple inbound tasks; it never holds a lock
// across the registry delivery call.
func (c *Conn) InputPacket(ctx context.Context, buf []byte) error {
	t, ok := PacketType(buf)
	if !ok {
		return nil
	}
	if t == PacketReset {
		c.handleReset()
		return nil
	}
	if c.disposed.Load() || c.transportClosed.Load() {
		return nil
	}
	if len(buf) < 4 {
		return nil
	}

	switch c.State() {
	case StateNone:
		c.negCache.offer(buf, c.pool)
		return nil

	case StateConnecting:
		neg := c.currentNegotiator()
		if neg == nil {
			return nil
		}
		var meaningful bool
		if t == PacketNegotiation {
			meaningful = neg.InputPacket(buf)
		} else {
			meaningful = neg.NotifyRemoteProgressing()
		}
		if meaningful {
			c.lastActiveTick.Store(time.Now().UnixMilli())
		}
		return nil

	case StateConnected:
		switch t {
		case PacketKeepAlive:
			ka := c.currentKeepAlive()
			if ka == nil {
				return nil
			}
			if ka.ProcessPacket(buf) {
				c.lastActiveTick.Store(time.Now().UnixMilli())
			}
			return nil
		case PacketData:
			hdr, payload, ok := ParseDataHeader(buf)
			if !ok {
				return nil
			}
			c.updateRemoteStats(hdr.Serial)
			c.metrics.IncrementPacketsReceived()
			c.metrics.IncrementBytesReceived(int64(len(buf)))
			return c.registry.PacketReceived(ctx, payload)
		default:
			return nil
		}

	default:
		return nil
	}
}

// updateRemoteStats applies the raw-unsigned comparison of spec.md §9 open
// question 1: literal serial >= nextRemoteSerial, with no wrap tolerance.
func (c *Conn) updateRemoteStats(serial uint32) {
	c.statsLock.Lock()
	if serial >= c.nextRemoteSerial {
		c.nextRemoteSerial = serial + 1
	}
	c.packetsReceived++
	c.statsLock.Unlock()
}

// GatherPacketStatistics returns the highest observed remote serial plus
// one, and the count of data packets accepted since the last call, then
// resets the counter to zero.
func (c *Conn) GatherPacketStatistics() (nextRemoteSerial uint32, packetsReceived uint32) {
	c.statsLock.Lock()
	nextRemoteSerial = c.nextRemoteSerial
	packetsReceived = c.packetsReceived
	c.packetsReceived = 0
	c.statsLock.Unlock()
	return
}

// Stats is a point-in-time snapshot combining GatherPacketStatistics with
// the domain metrics counters, for callers that want one aggregate read
// instead of querying GatherPacketStatistics and GetMetrics separately.
type Stats struct {
	NextRemoteSerial uint32
	PacketsReceived  uint32
	Metrics          Metrics
}

// Stats gathers and resets the packet-serial counters (see
// GatherPacketStatistics) and pairs them with the connection's Metrics
// collector, matching the teacher's GetMetrics() net.Conn-extension
// method generalized into one aggregate accessor.
func (c *Conn) Stats() Stats {
	nextRemoteSerial, packetsReceived := c.GatherPacketStatistics()
	return Stats{
		NextRemoteSerial: nextRemoteSerial,
		PacketsReceived:  packetsReceived,
		Metrics:          c.metrics,
	}
}

func (c *Conn) currentNegotiator() Negotiator {
	c.negMu.Lock()
	n := c.negotiator
	c.negMu.Unlock()
	return n
}

func (c *Conn) currentKeepAlive() KeepAliveHandler {
	c.keepAliveMu.Lock()
	h := c.keepAlive
	c.keepAliveMu.Unlock()
	return h
}

// Negotiate attaches neg and starts the handshake. It is the only legal
// entry into StateConnecting along with SkipNegotiation (spec.md §3
// invariant 2); calling it more than once, or outside StateNone, fails
// with ErrInvalidState.
func (c *Conn) Negotiate(ctx context.Context, neg Negotiator) error {
	if c.disposed.Load() {
		return ErrObjectDisposed
	}
	if err := c.checkAndChange(StateNone, StateConnecting); err != nil {
		return err
	}
	c.negMu.Lock()
	c.negotiator = neg
	c.negMu.Unlock()

	cached := c.negCache.consumeOnAttach()
	if err := neg.Start(ctx, cached, c.completeNegotiation); err != nil {
		c.completeNegotiation(false, nil)
		return err
	}
	return nil
}

// SkipNegotiation enters StateConnecting and immediately synthesizes a
// successful completion with no negotiated MTU change, per spec.md §4.5's
// coupling of invariants 2 and 3 (skip_negotiation is the only other legal
// entry into Connecting, and it reaches Connected the same way a real
// negotiator's completion callback would).
func (c *Conn) SkipNegotiation() error {
	if c.disposed.Load() {
		return ErrObjectDisposed
	}
	if err := c.checkAndChange(StateNone, StateConnecting); err != nil {
		return err
	}
	c.negCache.discardOnSkip()
	c.completeNegotiation(true, nil)
	return nil
}

// completeNegotiation is the negotiation completion callback of spec.md
// §4.5: it clears the negotiator reference, disables and releases the
// negotiation cache, and — only if still Connecting — applies an MTU
// change and transitions to Connected or Failed.
func (c *Conn) completeNegotiation(success bool, negotiatedMTU *uint16) {
	c.negMu.Lock()
	c.negotiator = nil
	c.negMu.Unlock()
	c.negCache.discardOnSkip()

	c.stateLock.Lock()
	if c.state != StateConnecting {
		c.stateLock.Unlock()
		return
	}
	if negotiatedMTU != nil {
		c.mtu.Store(uint32(*negotiatedMTU))
	}
	next := StateFailed
	if success {
		c.lastActiveTick.Store(time.Now().UnixMilli())
		next = StateConnected
	}
	changed := c.state != next
	c.state = next
	c.stateLock.Unlock()
	if changed {
		c.registry.NotifyStateChanged(c)
	}
	if !success {
		c.releaseAppRegistration()
	}
}

// SetupKeepAlive attaches handler as the connection's sole keep-alive
// handler. Requires StateConnected and no prior handler.
func (c *Conn) SetupKeepAlive(handler KeepAliveHandler) error {
	if c.State() != StateConnected {
		return ErrInvalidState
	}
	c.keepAliveMu.Lock()
	defer c.keepAliveMu.Unlock()
	if c.keepAlive != nil {
		return ErrInvalidState
	}
	c.keepAlive = handler
	return nil
}

// Send frames payload with the next local serial and queues it without
// waiting for the write to complete. It reports whether the datagram was
// accepted for sending; no send path inspects connection state.
func (c *Conn) Send(payload []byte) (bool, error) {
	buf, err := c.pool.Rent(DataHeaderSize+len(payload), false)
	if err != nil {
		return false, err
	}
	defer buf.Release()
	b := buf.Bytes()
	serial := c.nextSerial()
	EncodeDataHeader(b, len(payload), serial)
	copy(b[DataHeaderSize:], payload)
	return c.transport.QueuePacket(b), nil
}

// SendAsync behaves like Send but fast-fails if ctx is already cancelled
// and awaits the underlying transport write.
func (c *Conn) SendAsync(ctx context.Context, payload []byte) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ErrCancelled
	default:
	}
	buf, err := c.pool.Rent(DataHeaderSize+len(payload), false)
	if err != nil {
		return false, err
	}
	defer buf.Release()
	b := buf.Bytes()
	serial := c.nextSerial()
	EncodeDataHeader(b, len(payload), serial)
	copy(b[DataHeaderSize:], payload)
	if err := c.transport.QueueAndSend(ctx, b); err != nil {
		return false, err
	}
	return true, nil
}

// SendWithPreBuffer sends buf in place: the caller must have reserved
// DataHeaderSize bytes ahead of their payload (buf[0:8]), which this
// function overwrites with the framed header; buf[8:] is the payload. It
// fast-fails with ErrCancelled if ctx is already cancelled, matching
// SendAsync, and fails with ErrArgument if buf is shorter than
// DataHeaderSize.
func (c *Conn) SendWithPreBuffer(ctx context.Context, buf []byte) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ErrCancelled
	default:
	}
	if len(buf) < DataHeaderSize {
		return false, ErrArgument
	}
	serial := c.nextSerial()
	EncodeDataHeader(buf, len(buf)-DataHeaderSize, serial)
	return c.transport.QueuePacket(buf), nil
}

func (c *Conn) nextSerial() uint32 {
	return c.nextLocalSerial.Add(1) - 1
}

// queueRaw queues an already-framed (or opaque control) datagram directly,
// bypassing the data codec. Used for keep-alive pings and negotiation
// packets; reset emission goes through QueueAndSend instead.
func (c *Conn) queueRaw(buf []byte) bool {
	return c.transport.QueuePacket(buf)
}

// SendNegotiationPacket frames payload behind a PacketNegotiation type byte
// and queues it unconditionally, independent of connection state. A
// Negotiator (negotiator/ package) is handed this as its send primitive so
// it can drive its handshake without reaching into Conn internals.
func (c *Conn) SendNegotiationPacket(payload []byte) bool {
	buf := make([]byte, 1+len(payload))
	buf[0] = PacketNegotiation
	copy(buf[1:], payload)
	return c.queueRaw(buf)
}

// wrapAfter reports whether threshold is strictly "after" last in the
// unsigned-wrap-aware sense of spec.md §4.5/§9 open question 4: the signed
// interpretation of the unsigned difference (threshold - last) is positive.
func wrapAfter(threshold, last int64) bool {
	d := uint64(threshold) - uint64(last)
	return int64(d) > 0
}

// TryMarkDead implements try_set_to_dead: it returns true immediately if
// the connection is already past Connected (Failed or Dead); otherwise it
// compares thresholdTick to the last-active tick and, if the threshold has
// been exceeded, transitions to Dead, releases the application
// registration, and returns true.
func (c *Conn) TryMarkDead(thresholdTick int64) bool {
	switch c.State() {
	case StateFailed, StateDead:
		return true
	}
	last := c.lastActiveTick.Load()
	if !wrapAfter(thresholdTick, last) {
		return false
	}
	c.changeTo(StateDead)
	c.metrics.IncrementDeadDetections()
	c.releaseAppRegistration()
	return true
}

// handleReset marks the reset as received and performs a synchronous close
// with no outbound reset emitted.
func (c *Conn) handleReset() {
	c.resetReceived.Store(true)
	c.Close()
}

// Close performs the idempotent synchronous close: marks the transport
// closed, transitions to Dead, releases the negotiation cache, the
// negotiator and keep-alive handles, and the application registration.
func (c *Conn) Close() error {
	c.closeOnce.Do(c.doClose)
	return nil
}

func (c *Conn) doClose() {
	c.transportClosed.Store(true)
	c.changeTo(StateDead)
	c.negCache.discardOnSkip()
	c.releaseNegotiator()
	c.releaseKeepAlive()
	c.releaseAppRegistration()
}

// CloseAsync performs the idempotent asynchronous close: unless a reset
// was already received, it first attempts to send a single outbound reset
// datagram under a 2-second cap (swallowing the cancellation if it
// expires), then performs the same cleanup as Close.
func (c *Conn) CloseAsync(ctx context.Context) error {
	if c.closeStarted.CompareAndSwap(false, true) && !c.resetReceived.Load() {
		c.sendResetBestEffort(ctx)
	}
	c.closeOnce.Do(c.doClose)
	return nil
}

func (c *Conn) sendResetBestEffort(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.transport.QueueAndSend(ctx, []byte{PacketReset}); err == nil {
		c.metrics.IncrementResetsSent()
	}
}

// Dispose performs Close, then releases the owned transport (if any), the
// application registration, and the callback registry. Idempotent.
func (c *Conn) Dispose() error {
	if !c.disposed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.Close()
	c.finishDispose()
	return err
}

// DisposeAsync is the async-close variant of Dispose. Idempotent.
func (c *Conn) DisposeAsync(ctx context.Context) error {
	if !c.disposed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.CloseAsync(ctx)
	c.finishDispose()
	return err
}

func (c *Conn) finishDispose() {
	if c.ownsTransport {
		_ = c.transport.Dispose()
	}
	c.releaseAppRegistration()
	c.registry.Clear()
}

func (c *Conn) releaseAppRegistration() {
	c.appRegMu.Lock()
	r := c.appReg
	c.appReg = nil
	c.appRegMu.Unlock()
	if r != nil {
		r.Release()
	}
}

func (c *Conn) releaseNegotiator() {
	c.negMu.Lock()
	n := c.negotiator
	c.negotiator = nil
	c.negMu.Unlock()
	if n != nil {
		n.NotifyDisposed()
	}
}

func (c *Conn) releaseKeepAlive() {
	c.keepAliveMu.Lock()
	h := c.keepAlive
	c.keepAlive = nil
	c.keepAliveMu.Unlock()
	if h != nil {
		h.NotifyDisposed()
	}
}

// SetTransportClosed marks the transport as closed and performs a
// synchronous close, matching the invariant that transport_closed implies
// state == Dead and all optional sub-handles released.
func (c *Conn) SetTransportClosed() {
	c.transportClosed.Store(true)
	c.Close()
}

// SetTransportClosedAsync is the async variant.
func (c *Conn) SetTransportClosedAsync(ctx context.Context) {
	c.transportClosed.Store(true)
	c.CloseAsync(ctx)
}
