package udpconn

import (
	"context"
	"testing"
)

func TestDefaultMetricsCounters(t *testing.T) {
	m := NewDefaultMetrics()

	m.IncrementPacketsSent()
	m.IncrementPacketsSent()
	m.IncrementPacketsReceived()
	m.IncrementResetsSent()
	m.IncrementDeadDetections()
	m.IncrementBytesSent(100)
	m.IncrementBytesReceived(42)

	if got := m.GetPacketsSent(); got != 2 {
		t.Fatalf("GetPacketsSent() = %d, want 2", got)
	}
	if got := m.GetPacketsReceived(); got != 1 {
		t.Fatalf("GetPacketsReceived() = %d, want 1", got)
	}
	if got := m.GetResetsSent(); got != 1 {
		t.Fatalf("GetResetsSent() = %d, want 1", got)
	}
	if got := m.GetDeadDetections(); got != 1 {
		t.Fatalf("GetDeadDetections() = %d, want 1", got)
	}
	if got := m.GetBytesSent(); got != 100 {
		t.Fatalf("GetBytesSent() = %d, want 100", got)
	}
	if got := m.GetBytesReceived(); got != 42 {
		t.Fatalf("GetBytesReceived() = %d, want 42", got)
	}
}

func TestSendIncrementsMetrics(t *testing.T) {
	facade := newFakeFacade()
	m := NewDefaultMetrics()
	c := NewConn(facade, WithMetrics(m))

	if _, err := c.Send([]byte("payload")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := m.GetPacketsSent(); got != 1 {
		t.Fatalf("GetPacketsSent() = %d, want 1", got)
	}
	if got := m.GetBytesSent(); got != int64(DataHeaderSize+len("payload")) {
		t.Fatalf("GetBytesSent() = %d, want %d", got, DataHeaderSize+len("payload"))
	}
}

func TestDataPathIncrementsPacketsReceived(t *testing.T) {
	facade := newFakeFacade()
	m := NewDefaultMetrics()
	c := NewConn(facade, WithMetrics(m))
	if err := c.SkipNegotiation(); err != nil {
		t.Fatalf("SkipNegotiation: %v", err)
	}

	buf := make([]byte, DataHeaderSize+1)
	EncodeDataHeader(buf, 1, 0)
	if err := c.InputPacket(context.Background(), buf); err != nil {
		t.Fatalf("InputPacket: %v", err)
	}
	if got := m.GetPacketsReceived(); got != 1 {
		t.Fatalf("GetPacketsReceived() = %d, want 1", got)
	}
}
