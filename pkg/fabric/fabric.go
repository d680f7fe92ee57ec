// Package fabric implements the switch fabric: port-to-network association
// and Ethernet frame forwarding, ported from original_source/src/switch.cc
// and switch.h.
package fabric

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nat-lab/distributor/pkg/fdb"
)

// Net identifies a virtual broadcast domain.
type Net uint32

// Port identifies a client's attachment point.
type Port = fdb.Port

// EtherHeaderLen is the minimum length of an Ethernet frame the fabric will
// accept: 6 bytes destination + 6 bytes source + 2 bytes ethertype.
const EtherHeaderLen = 14

// Sender is the narrow boundary the fabric uses to hand a frame to a
// specific port, implemented by the client registry. Keeping this a single
// function (rather than the registry holding a reference to the Switch, or
// vice versa) avoids a cyclic-ownership dependency between the two
// components, per the port-identifier-only addressing design note.
type Sender interface {
	Send(port Port, frame []byte) error
}

// Switch holds per-port network association and per-network forwarding
// databases, and forwards Ethernet frames between ports on the same
// network. The zero value is not usable; construct with New.
type Switch struct {
	mu   sync.Mutex
	log  zerolog.Logger
	send Sender

	ports map[Port]Net      // port -> associated network
	nets  map[Net]map[Port]struct{} // network -> member ports
	fdbs  map[Net]*fdb.Fdb

	// Ageing is the per-network FDB entry expiry threshold.
	Ageing time.Duration
	// Now, if set, is threaded into every Fdb created by getFdbLocked, for
	// deterministic tests.
	Now func() time.Time

	// OnDecision, if set, is called for every forwarding decision Forward
	// makes (action is one of "forward", "flood", "reject"), so that
	// operational tooling (the debug live-monitor) can observe them
	// without the fabric depending on that tooling.
	OnDecision func(net Net, src Port, action, detail string)
}

// New returns an empty Switch. send is the callback used by Forward to
// deliver frames to a resolved destination port; ageing is the FDB entry
// expiry threshold (spec.md default 300s).
func New(send Sender, ageing time.Duration, log zerolog.Logger) *Switch {
	return &Switch{
		log:    log.With().Str("component", "fabric").Logger(),
		send:   send,
		ports:  make(map[Port]Net),
		nets:   make(map[Net]map[Port]struct{}),
		fdbs:   make(map[Net]*fdb.Fdb),
		Ageing: ageing,
	}
}

// Plug associates port with net. If the port was previously associated with
// a different network, its entries in that network's FDB are flushed (the
// OLD network, not the new one — original_source/src/switch.cc's Plug
// passes the new net to FlushFdbPriv, which is a bug; this implementation
// flushes the old network as the design intends).
func (s *Switch) Plug(net Net, port Port) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldnet, existed := s.ports[port]
	if !existed {
		s.ports[port] = net
		s.addToNetLocked(net, port)
		s.log.Info().Uint64("port", uint64(port)).Uint32("net", uint32(net)).Msg("port associated with network")
		return
	}

	if oldnet == net {
		s.log.Debug().Uint64("port", uint64(port)).Uint32("net", uint32(net)).Msg("port already associated with network")
		return
	}

	s.flushFdbLocked(oldnet, port)
	s.ports[port] = net
	s.removeFromNetLocked(oldnet, port)
	s.addToNetLocked(net, port)
	s.log.Info().Uint64("port", uint64(port)).Uint32("net", uint32(net)).Uint32("old_net", uint32(oldnet)).Msg("port re-associated")
}

// Unplug removes port's association, flushing its entries from that
// network's FDB. It reports whether the port was associated with anything.
func (s *Switch) Unplug(port Port) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	net, ok := s.ports[port]
	if !ok {
		s.log.Info().Uint64("port", uint64(port)).Msg("unplug: port was not associated with any network")
		return false
	}

	s.flushFdbLocked(net, port)
	delete(s.ports, port)
	s.removeFromNetLocked(net, port)
	s.log.Info().Uint64("port", uint64(port)).Uint32("net", uint32(net)).Msg("port unplugged")
	return true
}

// Plugged reports the network port is currently associated with, if any.
func (s *Switch) Plugged(port Port) (Net, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	net, ok := s.ports[port]
	return net, ok
}

// FlushFdb removes every FDB entry for port's currently associated network.
func (s *Switch) FlushFdb(port Port) {
	s.mu.Lock()
	defer s.mu.Unlock()
	net, ok := s.ports[port]
	if !ok {
		s.log.Warn().Uint64("port", uint64(port)).Msg("flush_fdb: port was not associated with any network")
		return
	}
	s.flushFdbLocked(net, port)
}

// Reset clears all port/network/FDB state, used on server shutdown.
func (s *Switch) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ports = make(map[Port]Net)
	s.nets = make(map[Net]map[Port]struct{})
	s.fdbs = make(map[Net]*fdb.Fdb)
}

// Forward processes an Ethernet frame received on src_port: it learns the
// source address (unless broadcast), resolves the destination via the
// network's FDB, and unicasts on a hit or floods on a miss or broadcast
// destination. Frames shorter than EtherHeaderLen are rejected before the
// port's association is checked, and Forward returns true for them whether
// or not src_port is associated. For a frame of at least EtherHeaderLen
// bytes, Forward returns false when src_port is not associated with any
// network — the signal the caller uses to prompt the client to
// re-associate (spec.md §4.3, §8 testable property 4) — and true otherwise.
func (s *Switch) Forward(srcPort Port, frame []byte) bool {
	if len(frame) < EtherHeaderLen {
		s.log.Warn().Uint64("port", uint64(srcPort)).Int("size", len(frame)).Msg("invalid ethernet frame: too short")
		s.notify(0, srcPort, "reject", "frame too short")
		return true
	}

	var dst, src fdb.Addr
	copy(dst[:], frame[0:6])
	copy(src[:], frame[6:12])

	s.mu.Lock()
	net, ok := s.ports[srcPort]
	if !ok {
		s.mu.Unlock()
		s.log.Warn().Uint64("port", uint64(srcPort)).Msg("forward: port was not associated with any network")
		s.notify(0, srcPort, "reject", "port not associated")
		return false
	}
	table := s.getFdbLocked(net)
	s.mu.Unlock()

	if !src.Broadcast() {
		table.Insert(srcPort, src)
	}

	if !dst.Broadcast() {
		dstPort := table.Lookup(dst)
		if dstPort != 0 {
			if err := s.send.Send(dstPort, frame); err != nil {
				s.log.Error().Err(err).Uint64("port", uint64(dstPort)).Msg("error relaying ethernet frame")
			}
			s.notify(net, srcPort, "forward", "unicast hit")
			return true
		}
		s.log.Debug().Uint32("net", uint32(net)).Msg("destination not in fdb, flooding")
		s.broadcast(net, srcPort, frame)
		s.notify(net, srcPort, "flood", "destination not in fdb")
		return true
	}

	s.broadcast(net, srcPort, frame)
	s.notify(net, srcPort, "flood", "broadcast destination")
	return true
}

func (s *Switch) notify(net Net, src Port, action, detail string) {
	if s.OnDecision != nil {
		s.OnDecision(net, src, action, detail)
	}
}

// broadcast delivers frame to every port on net other than srcPort
// (split-horizon: never reflect a frame back to its own source port).
func (s *Switch) broadcast(net Net, srcPort Port, frame []byte) {
	s.mu.Lock()
	members := s.nets[net]
	ports := make([]Port, 0, len(members))
	for p := range members {
		if p != srcPort {
			ports = append(ports, p)
		}
	}
	s.mu.Unlock()

	for _, p := range ports {
		if err := s.send.Send(p, frame); err != nil {
			s.log.Error().Err(err).Uint64("port", uint64(p)).Msg("error flooding ethernet frame")
		}
	}
}

// getFdbLocked returns net's FDB, creating it on first use. Callers must
// hold s.mu.
func (s *Switch) getFdbLocked(net Net) *fdb.Fdb {
	if t, ok := s.fdbs[net]; ok {
		return t
	}
	t := fdb.New(s.Ageing)
	if s.Now != nil {
		t.Now = s.Now
	}
	s.fdbs[net] = t
	s.log.Info().Uint32("net", uint32(net)).Msg("fdb created for network")
	return t
}

// flushFdbLocked discards net's FDB entries for port, if that network's FDB
// exists. Callers must hold s.mu.
func (s *Switch) flushFdbLocked(net Net, port Port) {
	t, ok := s.fdbs[net]
	if !ok {
		return
	}
	n := t.Discard(port)
	if n > 0 {
		s.log.Debug().Uint32("net", uint32(net)).Uint64("port", uint64(port)).Int("count", n).Msg("flushed fdb entries")
	}
}

func (s *Switch) addToNetLocked(net Net, port Port) {
	m, ok := s.nets[net]
	if !ok {
		m = make(map[Port]struct{})
		s.nets[net] = m
	}
	m[port] = struct{}{}
}

func (s *Switch) removeFromNetLocked(net Net, port Port) {
	m, ok := s.nets[net]
	if !ok {
		return
	}
	delete(m, port)
	if len(m) == 0 {
		delete(s.nets, net)
	}
}
