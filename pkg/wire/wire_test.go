package wire

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	buf, err := Encode(nil, EthernetFrame, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	pkt, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pkt.Type != EthernetFrame {
		t.Errorf("type = %v, want EthernetFrame", pkt.Type)
	}
	if string(pkt.Payload) != string(payload) {
		t.Errorf("payload = %v, want %v", pkt.Payload, payload)
	}
}

func TestDecodeShort(t *testing.T) {
	if _, err := Decode([]byte{0x5E}); err != ErrShort {
		t.Errorf("expected ErrShort, got %v", err)
	}
}

func TestDecodeBadMagic(t *testing.T) {
	buf := []byte{0x00, 0x00, byte(EthernetFrame)}
	if _, err := Decode(buf); err != ErrMagic {
		t.Errorf("expected ErrMagic, got %v", err)
	}
}

func TestEncodeTooLarge(t *testing.T) {
	_, err := Encode(nil, EthernetFrame, make([]byte, MaxDatagram))
	if err != ErrTooLarge {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
}

func TestNetPayloadRoundTrip(t *testing.T) {
	payload := EncodeNet(0xDEADBEEF)
	net, err := DecodeNet(payload)
	if err != nil {
		t.Fatalf("decode net: %v", err)
	}
	if net != 0xDEADBEEF {
		t.Errorf("net = %#x, want 0xDEADBEEF", net)
	}
}

func TestDecodeNetBadLength(t *testing.T) {
	if _, err := DecodeNet([]byte{1, 2, 3}); err == nil {
		t.Errorf("expected error for short payload")
	}
}

func TestCompressedLenRoundTrip(t *testing.T) {
	payload := append(EncodeCompressedLen(3), []byte{9, 8, 7, 0xFF}...)
	n, rest, err := DecodeCompressedLen(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != 3 {
		t.Errorf("n = %d, want 3", n)
	}
	if len(rest) != 3 || rest[0] != 9 || rest[2] != 7 {
		t.Errorf("rest = %v", rest)
	}
}
