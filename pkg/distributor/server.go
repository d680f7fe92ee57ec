// Package distributor implements the server side of the distributor
// protocol: the UDP ingest loop, message dispatch, scavenger, and metrics
// surface, ported from original_source/src/udp-distributor.{h,cc} and
// switch.{h,cc}.
package distributor

import (
	"errors"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog"

	"github.com/nat-lab/distributor/pkg/fabric"
	"github.com/nat-lab/distributor/pkg/metricsx"
	"github.com/nat-lab/distributor/pkg/registry"
	"github.com/nat-lab/distributor/pkg/wire"
)

// ErrClosed is returned by Serve after a deliberate Close, distinguishing it
// from a genuine socket error (mirrors pkg/nspkt/listener.go's
// ErrListenerClosed/l.closing convention).
var ErrClosed = errors.New("distributor: server closed")

// Server is a running distributor instance: one UDP socket, one client
// registry, one switch fabric.
type Server struct {
	log zerolog.Logger
	cfg Config

	mu      sync.Mutex
	conn    *net.UDPConn
	closing bool
	serve   <-chan struct{}

	reg *registry.Registry
	sw  *fabric.Switch

	metricsSet  *metrics.Set
	rxCount     atomic.Uint64
	rxBytes     atomic.Uint64
	rxMalformed atomic.Uint64
	rxByType    [8]atomic.Uint64
	netForward  *metricsx.NetCounter
	netFlood    *metricsx.NetCounter
	netDropped  *metricsx.NetCounter

	monMu  sync.Mutex
	mon    map[chan<- FrameEvent]struct{}

	now func() time.Time
}

// FrameEvent describes one forwarding decision, for /debug/frames.
type FrameEvent struct {
	Time   time.Time
	Net    uint32
	Src    fabric.Port
	Action string // "forward", "flood", "reject"
	Detail string
}

// NewServer constructs a Server with the given configuration. The socket is
// not bound until Serve or ListenAndServe is called.
func NewServer(cfg Config, log zerolog.Logger) *Server {
	set := metrics.NewSet()
	s := &Server{
		log:        log.With().Str("component", "distributor").Logger(),
		cfg:        cfg,
		metricsSet: set,
		netForward: metricsx.NewNetCounter(set, "distributor_frames_forwarded_total"),
		netFlood:   metricsx.NewNetCounter(set, "distributor_frames_flooded_total"),
		netDropped: metricsx.NewNetCounter(set, "distributor_frames_dropped_total"),
		mon:        make(map[chan<- FrameEvent]struct{}),
		now:        time.Now,
	}
	return s
}

// ListenAndServe binds a UDP socket on cfg.ListenAddr:cfg.ListenPort and
// calls Serve.
func (s *Server) ListenAndServe() error {
	addr := netip.AddrPortFrom(netip.MustParseAddr(s.cfg.ListenAddr), s.cfg.ListenPort)
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(addr))
	if err != nil {
		return err
	}
	return s.Serve(conn)
}

// Serve binds the server to conn and runs the ingest loop until Close is
// called or a read error occurs. It does not return until the loop exits.
func (s *Server) Serve(conn *net.UDPConn) error {
	serveDone := make(chan struct{})
	defer close(serveDone)
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	s.closing = false
	s.serve = serveDone
	s.mu.Unlock()

	s.reg = registry.New(conn, s.log)
	s.sw = fabric.New(s.reg, s.cfg.FdbAgeing, s.log)
	if s.now != nil {
		s.sw.Now = s.now
		s.reg.Now = s.now
	}
	s.sw.OnDecision = func(net fabric.Net, src fabric.Port, action, detail string) {
		switch action {
		case "forward":
			s.netForward.Inc(uint32(net))
		case "flood":
			s.netFlood.Inc(uint32(net))
		case "reject":
			s.netDropped.Inc(uint32(net))
		}
		s.emit(FrameEvent{Time: s.now(), Net: uint32(net), Src: src, Action: action, Detail: detail})
	}

	s.log.Info().Str("addr", conn.LocalAddr().String()).Msg("distributor ready")

	buf := make([]byte, wire.MaxDatagram)
	for {
		n, addr, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.conn = nil
			s.mu.Unlock()
			if closing {
				return ErrClosed
			}
			return err
		}

		s.rxCount.Add(1)
		s.rxBytes.Add(uint64(n))

		addr = netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
		s.handleDatagram(addr, buf[:n])
	}
}

// Close unbinds the server's socket, disconnecting every registered client
// with a DISCONNECT datagram first, and waits for Serve to return. It is
// safe to call multiple times.
func (s *Server) Close() {
	s.mu.Lock()
	conn := s.conn
	closing := s.closing
	serve := s.serve
	s.mu.Unlock()

	if conn == nil || closing {
		return
	}

	s.disconnectAll(conn)

	s.mu.Lock()
	s.closing = true
	s.conn.Close()
	s.mu.Unlock()

	if serve != nil {
		<-serve
	}

	if s.sw != nil {
		s.sw.Reset()
	}
	if s.reg != nil {
		s.reg.Reset()
	}
}

func (s *Server) disconnectAll(conn *net.UDPConn) {
	if s.reg == nil {
		return
	}
	datagram, err := wire.Encode(nil, wire.Disconnect, nil)
	if err != nil {
		return
	}
	for _, c := range s.reg.Snapshot() {
		if _, err := conn.WriteToUDPAddrPort(datagram, c.Addr); err != nil {
			s.log.Error().Err(err).Str("addr", c.Addr.String()).Msg("error sending disconnect")
		}
	}
}

// LocalAddr returns the server's bound local address, or nil if unbound.
func (s *Server) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

func (s *Server) emit(ev FrameEvent) {
	s.monMu.Lock()
	defer s.monMu.Unlock()
	for c := range s.mon {
		select {
		case c <- ev:
		default:
		}
	}
}
