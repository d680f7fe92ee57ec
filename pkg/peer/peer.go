// Package peer implements the client side of the distributor protocol: the
// IDLE/CONNECT/CONNECTED/ASSOCIATED state machine and its three worker
// goroutines, ported from original_source/src/distributor-client.{h,cc}.
package peer

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nat-lab/distributor/pkg/framecodec"
	"github.com/nat-lab/distributor/pkg/nic"
	"github.com/nat-lab/distributor/pkg/wire"
)

// State is the client's connection state (S_IDLE..S_ASSOCIATED in the
// original source).
type State int

const (
	Idle State = iota
	Connect
	Connected
	Associated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Connect:
		return "CONNECT"
	case Connected:
		return "CONNECTED"
	case Associated:
		return "ASSOCIATED"
	default:
		return "UNKNOWN"
	}
}

// Config configures a Client.
type Config struct {
	ServerAddr  netip.AddrPort
	Net         uint32
	Compression bool
	// MTU bounds the size of frames read from the NIC per send, matching
	// the CLI's -m flag (spec.md §6, default 1400).
	MTU int
	// Keepalive and Retries mirror DIST_CLIENT_KEEPALIVE/DIST_CLIENT_RETRY.
	Keepalive time.Duration
	Retries   int
}

// DefaultConfig returns the original source's client-side keepalive
// defaults (distinct from the server's — DIST_CLIENT_KEEPALIVE is 30s in
// original_source/src/distributor-client.h, vs the server's 60s).
func DefaultConfig() Config {
	return Config{
		MTU:       1400,
		Keepalive: 30 * time.Second,
		Retries:   3,
	}
}

// Client is a running peer connection to a distributor server.
type Client struct {
	log   zerolog.Logger
	cfg   Config
	iface nic.Interface
	codec framecodec.Codec
	now   func() time.Time

	mu       sync.Mutex
	state    State
	lastSent time.Time
	lastRecv time.Time

	conn *net.UDPConn

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Client bound to the given NIC backend. Start must be
// called to bring it up.
func New(cfg Config, iface nic.Interface, log zerolog.Logger) *Client {
	c := &Client{
		log:   log.With().Str("component", "peer").Logger(),
		cfg:   cfg,
		iface: iface,
		codec: framecodec.S2{},
		now:   time.Now,
	}
	return c
}

// Start brings the NIC up, opens the UDP socket to the server, and starts
// the socket worker, NIC worker, and pinger goroutines. Shutdown is driven
// entirely through ctx: cancelling it (or calling Stop) closes the UDP
// socket and the NIC exactly once, which unblocks every worker's pending
// read — the single-owner shutdown path the design notes call for, instead
// of the original source's Pinger racing Stop()'s SendMsg (the
// acknowledged "FIXME: race-condition on SendMsg()?").
func (c *Client) Start(ctx context.Context) error {
	if err := c.iface.Start(); err != nil {
		return fmt.Errorf("peer: nic start: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(c.cfg.ServerAddr))
	if err != nil {
		c.iface.Stop()
		return fmt.Errorf("peer: dial: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.conn = conn
	c.state = Idle
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(3)
	go c.socketWorker(ctx)
	go c.nicWorker(ctx)
	go c.pinger(ctx)

	go func() {
		<-ctx.Done()
		c.shutdown()
	}()

	c.log.Info().Str("server", c.cfg.ServerAddr.String()).Msg("client ready")
	return nil
}

// Stop requests a disconnect and tears the client down, waiting for all
// workers to exit.
func (c *Client) Stop() {
	c.sendMsg(wire.Disconnect, nil)
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

// shutdown closes the socket and NIC exactly once; called only from the
// single ctx.Done() watcher goroutine started in Start.
func (c *Client) shutdown() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	c.iface.Stop()
}

// State returns the client's current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetNetwork changes the network the client associates with. If the client
// is already connected to the server, it immediately sends a new
// ASSOCIATE_REQUEST, matching DistributorClient::SetNetwork.
func (c *Client) SetNetwork(net uint32) {
	c.mu.Lock()
	c.cfg.Net = net
	state := c.state
	c.mu.Unlock()

	if state >= Connected {
		c.log.Debug().Uint32("net", net).Msg("already connected, sending association request")
		c.sendMsg(wire.AssociateRequest, wire.EncodeNet(net))
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// sendMsg sends a control message with no payload, or an ASSOCIATE_REQUEST
// with its network-id payload, tracking lastSent the way SendMsg tracks
// _last_sent.
func (c *Client) sendMsg(typ wire.Type, payload []byte) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	buf, err := wire.Encode(make([]byte, 0, wire.HeaderLen+len(payload)), typ, payload)
	if err != nil {
		c.log.Error().Err(err).Msg("encode control message")
		return
	}
	if _, err := conn.Write(buf); err != nil {
		c.log.Error().Err(err).Str("type", typ.String()).Msg("sendto failed")
		return
	}

	c.mu.Lock()
	c.lastSent = c.now()
	c.mu.Unlock()
}
