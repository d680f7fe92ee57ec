package nic

import (
	"errors"
	"sync"
)

// Pseudo is an in-memory virtual NIC usable on any OS, for tests and for
// the file-descriptor-pair peer mode ported from
// original_source/src/fd-client.h's FdClient (a pseudo-NIC is simpler and
// more idiomatic in Go than replicating a socketpair(2) fd pair: two
// buffered channels give the same "write on one end, read on the other"
// shape without a syscall, which is why this backend is stdlib-only —
// there is no ecosystem library for an in-memory frame queue simpler than
// a pair of channels).
type Pseudo struct {
	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}

	// Outbound carries frames written by Write, to be read by whatever is
	// on the other end of the pair (e.g. a test harness, or the paired peer
	// in an end-to-end test).
	Outbound chan []byte
	// Inbound carries frames to be returned by Read.
	Inbound chan []byte
}

// NewPseudo returns a Pseudo NIC with the given channel buffer depth.
func NewPseudo(buf int) *Pseudo {
	return &Pseudo{
		closeCh:  make(chan struct{}),
		Outbound: make(chan []byte, buf),
		Inbound:  make(chan []byte, buf),
	}
}

// NewPseudoPair returns two Pseudo NICs wired to each other: a's Write
// feeds b's Read and vice versa, for loopback end-to-end tests.
func NewPseudoPair(buf int) (a, b *Pseudo) {
	a = NewPseudo(buf)
	b = NewPseudo(buf)
	b.Inbound = a.Outbound
	a.Inbound = b.Outbound
	return a, b
}

// Start implements Interface; Pseudo needs no setup.
func (p *Pseudo) Start() error { return nil }

// Stop implements Interface, unblocking any pending Read.
func (p *Pseudo) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.closeCh)
	return nil
}

var ErrClosed = errors.New("nic: pseudo interface closed")

// Read implements Interface.
func (p *Pseudo) Read(buf []byte) (int, error) {
	select {
	case frame := <-p.Inbound:
		return copy(buf, frame), nil
	case <-p.closeCh:
		return 0, ErrClosed
	}
}

// Write implements Interface.
func (p *Pseudo) Write(frame []byte) (int, error) {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	select {
	case p.Outbound <- cp:
		return len(frame), nil
	case <-p.closeCh:
		return 0, ErrClosed
	}
}

// Name implements Interface.
func (p *Pseudo) Name() string { return "pseudo" }
