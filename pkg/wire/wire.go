// Package wire implements the distributor datagram framing: a fixed 3-byte
// header (2-byte magic, 1-byte message type) followed by a type-specific
// payload, all multi-byte integers in network byte order.
package wire

import (
	"encoding/binary"
	"errors"
)

// Magic is the fixed 16-bit value every datagram must begin with.
const Magic uint16 = 0x5EED

// HeaderLen is the size in bytes of the fixed header.
const HeaderLen = 3

// MaxDatagram is the largest datagram the codec will encode or accept.
const MaxDatagram = 65536

// Type is the 8-bit message type tag.
type Type uint8

const (
	EthernetFrame           Type = 0
	AssociateRequest        Type = 1
	AssociateRespond        Type = 2
	KeepaliveRequest        Type = 3
	KeepaliveRespond        Type = 4
	NeedAssociation         Type = 5
	Disconnect              Type = 6
	CompressedEthernetFrame Type = 7
)

func (t Type) String() string {
	switch t {
	case EthernetFrame:
		return "ETHERNET_FRAME"
	case AssociateRequest:
		return "ASSOCIATE_REQUEST"
	case AssociateRespond:
		return "ASSOCIATE_RESPOND"
	case KeepaliveRequest:
		return "KEEPALIVE_REQUEST"
	case KeepaliveRespond:
		return "KEEPALIVE_RESPOND"
	case NeedAssociation:
		return "NEED_ASSOCIATION"
	case Disconnect:
		return "DISCONNECT"
	case CompressedEthernetFrame:
		return "COMPRESSED_ETHERNET_FRAME"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrShort is returned when a datagram is shorter than the fixed header.
	ErrShort = errors.New("wire: datagram shorter than header")
	// ErrMagic is returned when the magic field does not match.
	ErrMagic = errors.New("wire: bad magic")
	// ErrTooLarge is returned by Encode when the resulting datagram would
	// exceed MaxDatagram.
	ErrTooLarge = errors.New("wire: datagram too large")
)

// Packet is a decoded datagram: its message type and payload. Payload
// aliases the buffer passed to Decode and must not be retained past the
// caller's next reuse of that buffer.
type Packet struct {
	Type    Type
	Payload []byte
}

// Decode parses buf as a distributor datagram. It does not allocate; Payload
// is a subslice of buf. Malformed datagrams (too short or bad magic) are
// reported via the returned error; the caller is expected to log and drop,
// per the protocol's best-effort framing (spec.md §4.1, §7).
func Decode(buf []byte) (Packet, error) {
	if len(buf) < HeaderLen {
		return Packet{}, ErrShort
	}
	if binary.BigEndian.Uint16(buf[0:2]) != Magic {
		return Packet{}, ErrMagic
	}
	return Packet{
		Type:    Type(buf[2]),
		Payload: buf[HeaderLen:],
	}, nil
}

// Encode appends the 3-byte header and payload to dst, returning the
// extended slice. It fails if the result would exceed MaxDatagram.
func Encode(dst []byte, typ Type, payload []byte) ([]byte, error) {
	if len(dst)+HeaderLen+len(payload) > MaxDatagram {
		return dst, ErrTooLarge
	}
	var hdr [HeaderLen]byte
	binary.BigEndian.PutUint16(hdr[0:2], Magic)
	hdr[2] = byte(typ)
	dst = append(dst, hdr[:]...)
	dst = append(dst, payload...)
	return dst, nil
}

// PutHeader writes the fixed header into the first HeaderLen bytes of buf,
// which must have length >= HeaderLen, for callers that pre-allocate a
// header prefix once and reuse it across sends (spec.md §4.4, §9). The
// registry frames its datagrams with Encode and does not call it.
func PutHeader(buf []byte, typ Type) {
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	buf[2] = byte(typ)
}

// EncodeNet encodes a network id payload (ASSOCIATE_REQUEST's 4-byte body).
func EncodeNet(net uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], net)
	return b[:]
}

// DecodeNet decodes a network id payload. The payload must be exactly 4
// bytes (spec.md §4.5: "Invalid length: warn and drop").
func DecodeNet(payload []byte) (uint32, error) {
	if len(payload) != 4 {
		return 0, errors.New("wire: associate_request payload must be 4 bytes")
	}
	return binary.BigEndian.Uint32(payload), nil
}

// CompressedHeaderLen is the size of the 2-byte compressed-length prefix
// that precedes a COMPRESSED_ETHERNET_FRAME's compressed bytes.
const CompressedHeaderLen = 2

// EncodeCompressedLen writes the 2-byte compressed length prefix.
func EncodeCompressedLen(n int) []byte {
	var b [CompressedHeaderLen]byte
	binary.BigEndian.PutUint16(b[:], uint16(n))
	return b[:]
}

// DecodeCompressedLen reads the compressed length prefix and returns the
// remaining compressed bytes.
func DecodeCompressedLen(payload []byte) (length int, rest []byte, err error) {
	if len(payload) < CompressedHeaderLen {
		return 0, nil, errors.New("wire: compressed frame header too short")
	}
	length = int(binary.BigEndian.Uint16(payload[:CompressedHeaderLen]))
	rest = payload[CompressedHeaderLen:]
	if length > len(rest) {
		return 0, nil, errors.New("wire: compressed frame length exceeds payload")
	}
	return length, rest[:length], nil
}
