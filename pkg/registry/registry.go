// Package registry implements the server-side client registry: the
// bi-directional socket-address <-> port mapping and per-client bookkeeping
// ported from original_source/src/udp-distributor.h's Client/UdpDistributor
// classes.
package registry

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/nat-lab/distributor/pkg/fabric"
	"github.com/nat-lab/distributor/pkg/wire"
)

// Port identifies a client's attachment point in the switch fabric. Ports
// are assigned sequentially starting at 1; 0 is reserved as "unassigned"
// (matching fdb.Lookup's "0 means miss" convention).
type Port = fabric.Port

// Client is a single registered peer: its socket address, assigned port,
// and liveness bookkeeping. The per-client mutex is the inner lock in the
// registry's lock ordering (registry.mu is always acquired first).
type Client struct {
	mu sync.Mutex

	Port      Port
	Addr      netip.AddrPort
	Session   xid.ID
	Net       uint32
	Associated bool

	lastSeen time.Time
	lastSent time.Time
	retries  int
}

// Touch refreshes the client's last-seen time and clears its outstanding
// keepalive retry count, called whenever any datagram is received from it.
func (c *Client) Touch(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = now
	c.retries = 0
}

// Age returns how long it has been since the client was last heard from
// (age_seen, spec.md §4.6).
func (c *Client) Age(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastSeen)
}

// NoteSent records that a datagram was just sent to the client.
func (c *Client) NoteSent(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSent = now
}

// AgeSent returns how long it has been since anything was last sent to the
// client (age_sent, spec.md §4.6). Before the first send, this is the age
// since the zero time, which is always past any KEEPALIVE threshold.
func (c *Client) AgeSent(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastSent)
}

// NoteKeepaliveSent increments the outstanding-retry counter (the number of
// keepalive probes sent since the client was last heard from) and reports
// the new count. The scavenger calls it for every probe it sends; its
// eviction decision rests on Age, not on this count.
func (c *Client) NoteKeepaliveSent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retries++
	return c.retries
}

// SetAssociated records that the client completed association with net.
func (c *Client) SetAssociated(net uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Net = net
	c.Associated = true
}

// IsAssociated reports whether the client has completed association.
func (c *Client) IsAssociated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Associated
}

// Registry maps socket addresses to assigned ports and back, following
// UdpDistributor's Register/Unregister and its monotonic port counter.
type Registry struct {
	mu      sync.Mutex
	log     zerolog.Logger
	byPort  map[Port]*Client
	byAddr  map[netip.AddrPort]*Client
	counter Port

	conn *net.UDPConn

	// Now, if set, is used to stamp outgoing sends' last-sent time instead
	// of time.Now, for deterministic tests.
	Now func() time.Time
}

// New returns an empty Registry that writes outgoing datagrams on conn.
func New(conn *net.UDPConn, log zerolog.Logger) *Registry {
	return &Registry{
		log:    log.With().Str("component", "registry").Logger(),
		byPort: make(map[Port]*Client),
		byAddr: make(map[netip.AddrPort]*Client),
		conn:   conn,
		Now:    time.Now,
	}
}

// Lookup returns the client registered for addr, if any.
func (r *Registry) Lookup(addr netip.AddrPort) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byAddr[addr]
	return c, ok
}

// ByPort returns the client assigned to port, if any.
func (r *Registry) ByPort(port Port) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byPort[port]
	return c, ok
}

// Register assigns a new port to addr, or returns the existing client if
// addr is already registered. The second return value is true iff a new
// client was created.
func (r *Registry) Register(addr netip.AddrPort, now time.Time) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.byAddr[addr]; ok {
		return c, false
	}

	r.counter++
	c := &Client{
		Port:     r.counter,
		Addr:     addr,
		Session:  xid.New(),
		lastSeen: now,
	}
	r.byPort[c.Port] = c
	r.byAddr[addr] = c
	r.log.Info().
		Uint64("port", uint64(c.Port)).
		Str("addr", addr.String()).
		Str("session", c.Session.String()).
		Msg("client registered")
	return c, true
}

// Unregister removes port's client from the registry, reporting whether it
// existed.
func (r *Registry) Unregister(port Port) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byPort[port]
	if !ok {
		return false
	}
	delete(r.byPort, port)
	delete(r.byAddr, c.Addr)
	r.log.Info().
		Uint64("port", uint64(port)).
		Str("session", c.Session.String()).
		Msg("client unregistered")
	return true
}

// Snapshot returns every currently registered client, for the scavenger's
// periodic liveness sweep. The slice is a point-in-time copy of the
// registry's index; it does not hold the registry lock while callers use it.
func (r *Registry) Snapshot() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(r.byPort))
	for _, c := range r.byPort {
		out = append(out, c)
	}
	return out
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byPort)
}

// Reset clears the registry, used on server shutdown.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPort = make(map[Port]*Client)
	r.byAddr = make(map[netip.AddrPort]*Client)
}

// Send implements fabric.Sender: it looks up port's client, wraps frame in
// an ETHERNET_FRAME datagram, and writes it to the client's socket address.
// This is the narrow boundary the switch fabric uses to deliver a frame to
// a specific port without holding a direct reference to the registry's
// internal state (the port-identifier-only addressing design note).
func (r *Registry) Send(port Port, frame []byte) error {
	c, ok := r.ByPort(port)
	if !ok {
		return fmt.Errorf("registry: no client for port %d", port)
	}
	buf, err := wire.Encode(make([]byte, 0, wire.HeaderLen+len(frame)), wire.EthernetFrame, frame)
	if err != nil {
		return err
	}
	_, err = r.conn.WriteToUDPAddrPort(buf, c.Addr)
	if err == nil {
		c.NoteSent(r.Now())
	}
	return err
}

// SendRaw writes a pre-framed datagram (header already applied by the
// caller) directly to port's client, used for control messages
// (ASSOCIATE_RESPOND, KEEPALIVE_REQUEST, DISCONNECT, NEED_ASSOCIATION) that
// the distributor constructs itself.
func (r *Registry) SendRaw(port Port, datagram []byte) error {
	c, ok := r.ByPort(port)
	if !ok {
		return fmt.Errorf("registry: no client for port %d", port)
	}
	_, err := r.conn.WriteToUDPAddrPort(datagram, c.Addr)
	if err == nil {
		c.NoteSent(r.Now())
	}
	return err
}
