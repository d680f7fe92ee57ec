// Package framecodec implements the distributor's pluggable frame
// compression codec (spec.md §6), standing in for
// original_source/src/distributor-client.cc's LZ4 calls with
// github.com/klauspost/compress/s2 — no example repo in the corpus binds
// real LZ4, while S2 is already a dependency of the teacher (used there for
// gzip in pkg/atlas/server.go) and has the same bounded-output,
// allocation-free-call shape LZ4_compressBound/LZ4_compress_default/
// LZ4_decompress_safe has.
package framecodec

import (
	"fmt"

	"github.com/klauspost/compress/s2"
)

// Codec compresses and decompresses Ethernet frames for transport as
// COMPRESSED_ETHERNET_FRAME datagrams.
type Codec interface {
	// Compress appends the compressed form of frame to dst and returns the
	// extended slice.
	Compress(dst, frame []byte) []byte
	// MaxEncodedLen returns the upper bound on Compress's output size for an
	// input of n bytes, mirroring LZ4_compressBound's role of letting the
	// caller size its send buffer up front.
	MaxEncodedLen(n int) int
	// Decompress appends the decompressed form of compressed to dst and
	// returns the extended slice, or an error if compressed is malformed.
	Decompress(dst, compressed []byte) ([]byte, error)
}

// S2 is the concrete Codec backed by klauspost/compress/s2's block format.
type S2 struct{}

// MaxEncodedLen implements Codec.
func (S2) MaxEncodedLen(n int) int {
	return s2.MaxEncodedLen(n)
}

// Compress implements Codec.
func (S2) Compress(dst, frame []byte) []byte {
	return append(dst, s2.Encode(nil, frame)...)
}

// Decompress implements Codec.
func (S2) Decompress(dst, compressed []byte) ([]byte, error) {
	n, err := s2.DecodedLen(compressed)
	if err != nil {
		return nil, fmt.Errorf("framecodec: %w", err)
	}
	buf := make([]byte, n)
	out, err := s2.Decode(buf, compressed)
	if err != nil {
		return nil, fmt.Errorf("framecodec: %w", err)
	}
	return append(dst, out...), nil
}
