package registry

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return New(conn, zerolog.Nop())
}

func TestRegisterAssignsSequentialPorts(t *testing.T) {
	r := newTestRegistry(t)
	now := time.Unix(0, 0)

	a1 := netip.MustParseAddrPort("1.2.3.4:1000")
	a2 := netip.MustParseAddrPort("1.2.3.4:2000")

	c1, isNew1 := r.Register(a1, now)
	c2, isNew2 := r.Register(a2, now)

	if !isNew1 || !isNew2 {
		t.Fatalf("both registrations should be new")
	}
	if c1.Port != 1 || c2.Port != 2 {
		t.Errorf("ports = %d, %d, want 1, 2", c1.Port, c2.Port)
	}
}

func TestRegisterIsIdempotentPerAddr(t *testing.T) {
	r := newTestRegistry(t)
	now := time.Unix(0, 0)
	addr := netip.MustParseAddrPort("1.2.3.4:1000")

	c1, _ := r.Register(addr, now)
	c2, isNew := r.Register(addr, now)

	if isNew {
		t.Errorf("second registration of the same address should not be new")
	}
	if c1 != c2 {
		t.Errorf("second registration should return the same client record")
	}
}

func TestUnregisterRemovesBothIndexes(t *testing.T) {
	r := newTestRegistry(t)
	now := time.Unix(0, 0)
	addr := netip.MustParseAddrPort("1.2.3.4:1000")

	c, _ := r.Register(addr, now)
	if !r.Unregister(c.Port) {
		t.Fatalf("unregister of a registered client should report true")
	}
	if r.Unregister(c.Port) {
		t.Errorf("unregister of an already-removed client should report false")
	}
	if _, ok := r.Lookup(addr); ok {
		t.Errorf("address index should be cleared after unregister")
	}
	if _, ok := r.ByPort(c.Port); ok {
		t.Errorf("port index should be cleared after unregister")
	}
}

func TestSendUpdatesLastSent(t *testing.T) {
	r := newTestRegistry(t)
	base := time.Unix(1000, 0)
	r.Now = func() time.Time { return base }

	addr := netip.MustParseAddrPort("127.0.0.1:1")
	c, _ := r.Register(addr, base)

	if age := c.AgeSent(base); age <= 0 {
		t.Errorf("age_sent before any send should already be large (zero last-sent), got %v", age)
	}

	if err := r.Send(c.Port, make([]byte, 14)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if age := c.AgeSent(base); age != 0 {
		t.Errorf("age_sent right after a send should be 0, got %v", age)
	}
}

func TestTouchResetsRetries(t *testing.T) {
	r := newTestRegistry(t)
	now := time.Unix(0, 0)
	c, _ := r.Register(netip.MustParseAddrPort("1.2.3.4:1000"), now)

	c.NoteKeepaliveSent()
	c.NoteKeepaliveSent()
	c.Touch(now)
	if n := c.NoteKeepaliveSent(); n != 1 {
		t.Errorf("retry counter should reset to 0 on Touch, got %d after one subsequent send", n)
	}
}
