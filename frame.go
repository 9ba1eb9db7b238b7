package udpconn

import "encoding/binary"

// Packet type codes, determined by the first byte of a datagram.
const (
	// PacketNegotiation carries an opaque handshake payload forwarded to the
	// attached Negotiator.
	PacketNegotiation byte = 0x01
	// PacketKeepAlive carries an opaque payload forwarded to the attached
	// KeepAliveHandler.
	PacketKeepAlive byte = 0x02
	// PacketData carries a framed, serial-numbered application payload.
	PacketData byte = 0x03
	// PacketReset is a single byte signalling the peer is tearing down.
	PacketReset byte = 0xFF
)

// DataHeaderSize is the fixed size of the data packet header: type, flags,
// a big-endian u16 length, and a big-endian u32 serial.
const DataHeaderSize = 8

// DefaultMTU is the maximum datagram size assumed when a connection is not
// otherwise configured.
const DefaultMTU = 1400

// DefaultPreBufferSize is the number of header bytes a caller of
// SendWithPreBuffer must reserve ahead of their payload.
const DefaultPreBufferSize = DataHeaderSize

// MSS returns the maximum application payload for a given MTU: the data
// header reserves 8 bytes ahead of every payload.
func MSS(mtu uint16) uint16 {
	if mtu < DataHeaderSize {
		return 0
	}
	return mtu - DataHeaderSize
}

// EncodeDataHeader writes an 8-byte data header into buf[0:8]. buf must have
// at least DataHeaderSize bytes; the payload itself is not written by this
// function — the caller places payload bytes at buf[8:8+len(payload)]
// before handing the buffer to the transport. length is payloadLen+4 per
// the wire format (it counts the 4 serial bytes plus the payload).
func EncodeDataHeader(buf []byte, payloadLen int, serial uint32) {
	buf[0] = PacketData
	buf[1] = 0x00
	binary.BigEndian.PutUint16(buf[2:4], uint16(payloadLen+4))
	binary.BigEndian.PutUint32(buf[4:8], serial)
}

// DataHeader is the parsed form of a data packet header.
type DataHeader struct {
	Length uint16 // payload length + 4
	Serial uint32
}

// PayloadLen returns the application payload length encoded in the header.
func (h DataHeader) PayloadLen() int {
	if h.Length < 4 {
		return 0
	}
	return int(h.Length) - 4
}

// ParseDataHeader parses a data packet. It returns ok=false if the datagram
// is too short to contain a header, if the declared length is below the 4
// serial bytes it must count, or if it does not fit within the datagram
// (total_size-4 < length). On success it also returns the payload slice, a
// sub-slice of buf (no copy).
func ParseDataHeader(buf []byte) (hdr DataHeader, payload []byte, ok bool) {
	if len(buf) < DataHeaderSize {
		return DataHeader{}, nil, false
	}
	length := binary.BigEndian.Uint16(buf[2:4])
	serial := binary.BigEndian.Uint32(buf[4:8])
	if length < 4 || len(buf)-4 < int(length) {
		return DataHeader{}, nil, false
	}
	hdr = DataHeader{Length: length, Serial: serial}
	payload = buf[8 : 4+int(length)]
	return hdr, payload, true
}

// PacketType reports the packet type code for a received datagram. ok is
// false for an empty datagram.
func PacketType(buf []byte) (t byte, ok bool) {
	if len(buf) == 0 {
		return 0, false
	}
	return buf[0], true
}
