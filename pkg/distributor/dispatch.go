package distributor

import (
	"net/netip"
	"time"

	"github.com/nat-lab/distributor/pkg/fabric"
	"github.com/nat-lab/distributor/pkg/framecodec"
	"github.com/nat-lab/distributor/pkg/wire"
)

var codec framecodec.Codec = framecodec.S2{}

// handleDatagram decodes and dispatches one datagram from addr, following
// the server-side half of original_source/src/distributor-client.cc's state
// machine (the client-side transitions there are the mirror of the
// decisions made here).
func (s *Server) handleDatagram(addr netip.AddrPort, buf []byte) {
	pkt, err := wire.Decode(buf)
	if err != nil {
		s.rxMalformed.Add(1)
		s.log.Warn().Err(err).Str("addr", addr.String()).Msg("dropping malformed datagram")
		return
	}
	if int(pkt.Type) < len(s.rxByType) {
		s.rxByType[pkt.Type].Add(1)
	}

	now := s.now()

	switch pkt.Type {
	case wire.KeepaliveRequest:
		s.handleKeepaliveRequest(addr, now)
	case wire.KeepaliveRespond:
		s.handleKeepaliveRespond(addr, now)
	case wire.AssociateRequest:
		s.handleAssociateRequest(addr, pkt.Payload, now)
	case wire.EthernetFrame:
		s.handleFrame(addr, pkt.Payload, now)
	case wire.CompressedEthernetFrame:
		s.handleCompressedFrame(addr, pkt.Payload, now)
	case wire.Disconnect:
		s.handleDisconnect(addr)
	case wire.AssociateRespond, wire.NeedAssociation:
		s.log.Warn().Str("addr", addr.String()).Str("type", pkt.Type.String()).Msg("out-of-context message from client, dropping")
	default:
		s.log.Warn().Str("addr", addr.String()).Uint8("type", uint8(pkt.Type)).Msg("unknown message type, dropping")
	}
}

// handleKeepaliveRequest processes a client's initial or periodic
// keepalive. A client unknown to the registry is registered and told it
// needs to associate; a known, already-associated client simply gets a
// keepalive response, matching the client's S_CONNECT/S_CONNECTED/
// S_ASSOCIATED handling of M_KEEPALIVE_REQUEST.
func (s *Server) handleKeepaliveRequest(addr netip.AddrPort, now time.Time) {
	c, isNew := s.reg.Register(addr, now)
	c.Touch(now)

	if isNew || !c.IsAssociated() {
		s.sendControl(c.Port, wire.NeedAssociation)
		return
	}
	s.sendControl(c.Port, wire.KeepaliveRespond)
}

func (s *Server) handleKeepaliveRespond(addr netip.AddrPort, now time.Time) {
	c, ok := s.reg.Lookup(addr)
	if !ok {
		s.log.Warn().Str("addr", addr.String()).Msg("keepalive_respond from unregistered client")
		return
	}
	c.Touch(now)
}

func (s *Server) handleAssociateRequest(addr netip.AddrPort, payload []byte, now time.Time) {
	net, err := wire.DecodeNet(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("addr", addr.String()).Msg("malformed associate_request, dropping")
		return
	}

	c, _ := s.reg.Register(addr, now)
	c.Touch(now)
	s.sw.Plug(fabric.Net(net), c.Port)
	c.SetAssociated(net)

	s.log.Info().Uint64("port", uint64(c.Port)).Uint32("net", net).Msg("client associated")
	s.sendControl(c.Port, wire.AssociateRespond)
}

// handleFrame resolves addr to a client record unconditionally, creating
// one and assigning it a port if this is the first datagram seen from it
// (spec.md §4.5 step 2), then lets Switch.Forward's return value decide
// whether the client needs to (re-)associate rather than duplicating that
// decision from Client.IsAssociated.
func (s *Server) handleFrame(addr netip.AddrPort, frame []byte, now time.Time) {
	c, _ := s.reg.Register(addr, now)
	c.Touch(now)
	if !s.sw.Forward(c.Port, frame) {
		s.log.Warn().Str("addr", addr.String()).Msg("ethernet frame from unassociated client, dropping")
		s.sendControl(c.Port, wire.NeedAssociation)
	}
}

func (s *Server) handleCompressedFrame(addr netip.AddrPort, payload []byte, now time.Time) {
	_, compressed, err := wire.DecodeCompressedLen(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("addr", addr.String()).Msg("malformed compressed frame, dropping")
		return
	}
	frame, err := codec.Decompress(nil, compressed)
	if err != nil {
		s.log.Warn().Err(err).Str("addr", addr.String()).Msg("failed to decompress ethernet frame, dropping")
		return
	}
	s.handleFrame(addr, frame, now)
}

func (s *Server) handleDisconnect(addr netip.AddrPort) {
	c, ok := s.reg.Lookup(addr)
	if !ok {
		return
	}
	s.sw.Unplug(c.Port)
	s.reg.Unregister(c.Port)
	s.log.Info().Uint64("port", uint64(c.Port)).Msg("client disconnected")
}

func (s *Server) sendControl(port fabric.Port, typ wire.Type) {
	datagram, err := wire.Encode(nil, typ, nil)
	if err != nil {
		return
	}
	if err := s.reg.SendRaw(port, datagram); err != nil {
		s.log.Error().Err(err).Uint64("port", uint64(port)).Str("type", typ.String()).Msg("error sending control message")
	}
}
