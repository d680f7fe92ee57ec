package framecodec

import "testing"

func TestS2RoundTrip(t *testing.T) {
	frame := make([]byte, 256)
	for i := range frame {
		frame[i] = byte(i)
	}

	var c S2
	compressed := c.Compress(nil, frame)
	if len(compressed) > c.MaxEncodedLen(len(frame)) {
		t.Fatalf("compressed output exceeds MaxEncodedLen")
	}

	decompressed, err := c.Decompress(nil, compressed)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if len(decompressed) != len(frame) {
		t.Fatalf("length mismatch: got %d, want %d", len(decompressed), len(frame))
	}
	for i := range frame {
		if decompressed[i] != frame[i] {
			t.Fatalf("byte %d mismatch: got %d, want %d", i, decompressed[i], frame[i])
		}
	}
}
