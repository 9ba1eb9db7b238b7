package udpconn

import (
	"context"
	"net"
)

// Facade is the transport abstraction the connection state machine talks
// to. It generalizes the teacher's Transport interface (WriteRaw, ReadRaw,
// Close, LocalAddr, RemoteAddr, MaxRawSize) into the push-model contract
// spec.md §4.6 describes: queue a datagram, optionally await its send,
// install an exception handler, and dispose.
//
// Two concrete shapes satisfy Facade: an endpoint transport already bound
// to one remote address, and a shared transport plus an explicit remote
// address (see udptransport.go). Both are adapted by this single
// interface so the connection state machine stays polymorphic over either
// without an inheritance hierarchy — an "interface capability set" per
// spec.md §9.
type Facade interface {
	// QueuePacket enqueues buf for sending without waiting for the
	// network write to complete. It reports whether the datagram was
	// accepted for sending.
	QueuePacket(buf []byte) bool
	// QueueAndSend enqueues buf and waits for the underlying write (or
	// ctx cancellation) before returning.
	QueueAndSend(ctx context.Context, buf []byte) error
	// SetExceptionHandler installs the callback invoked when the
	// transport observes an asynchronous fault. The handler reports
	// whether it considers the fault handled; the façades in
	// udptransport.go ignore that result and keep the transport open.
	SetExceptionHandler(h func(error) bool)
	// RemoteEndpoint returns the peer address this façade sends to.
	RemoteEndpoint() net.Addr
	// Dispose releases the façade's resources. Idempotent.
	Dispose() error
}

// metricsFacade decorates a Facade with Metrics counting, directly modeled
// on the teacher's metricsTransport decorator (same wrap-forward-count
// shape, same "only count on nil error" rule).
type metricsFacade struct {
	Facade
	m Metrics
}

func newMetricsFacade(f Facade, m Metrics) Facade {
	return &metricsFacade{Facade: f, m: m}
}

func (f *metricsFacade) QueuePacket(buf []byte) bool {
	ok := f.Facade.QueuePacket(buf)
	if ok {
		f.m.IncrementPacketsSent()
		f.m.IncrementBytesSent(int64(len(buf)))
	}
	return ok
}

func (f *metricsFacade) QueueAndSend(ctx context.Context, buf []byte) error {
	err := f.Facade.QueueAndSend(ctx, buf)
	if err == nil {
		f.m.IncrementPacketsSent()
		f.m.IncrementBytesSent(int64(len(buf)))
	}
	return err
}
