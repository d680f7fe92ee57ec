package peer

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/nat-lab/distributor/pkg/wire"
)

// socketWorker reads datagrams from the server and drives the client's
// state machine, ported from DistributorClient::SocketWorker.
func (c *Client) socketWorker(ctx context.Context) {
	defer c.wg.Done()
	c.log.Debug().Msg("socket worker started")

	buf := make([]byte, wire.MaxDatagram)
	decBuf := make([]byte, wire.MaxDatagram)

	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Debug().Msg("socket worker stopped")
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			c.log.Error().Err(err).Msg("recvfrom failed")
			continue
		}

		c.mu.Lock()
		c.lastRecv = c.now()
		c.mu.Unlock()

		pkt, err := wire.Decode(buf[:n])
		if err != nil {
			c.log.Warn().Err(err).Msg("received invalid packet")
			continue
		}

		c.dispatch(pkt, decBuf)
	}
}

func (c *Client) dispatch(pkt wire.Packet, decBuf []byte) {
	state := c.State()

	switch state {
	case Idle:
		c.log.Warn().Msg("packet received in IDLE state")
		return

	case Connect:
		switch pkt.Type {
		case wire.KeepaliveRequest:
			c.sendMsg(wire.KeepaliveRespond, nil)
		case wire.NeedAssociation, wire.KeepaliveRespond:
			c.log.Info().Uint32("net", c.cfg.Net).Msg("connected to server, associating")
			c.setState(Connected)
			c.SetNetwork(c.cfg.Net)
		case wire.Disconnect:
			c.log.Info().Msg("got disconnect request from server, going idle")
			c.setState(Idle)
		default:
			c.log.Warn().Str("type", pkt.Type.String()).Msg("out-of-context message in CONNECT state")
		}

	case Connected:
		switch pkt.Type {
		case wire.KeepaliveRequest:
			c.sendMsg(wire.KeepaliveRespond, nil)
		case wire.KeepaliveRespond:
		case wire.Disconnect:
			c.log.Info().Msg("got disconnect request from server, going idle")
			c.setState(Idle)
		case wire.AssociateRespond:
			c.log.Info().Msg("association acknowledged, network ready")
			c.setState(Associated)
		default:
			c.log.Warn().Str("type", pkt.Type.String()).Msg("out-of-context message in CONNECTED state")
		}

	case Associated:
		switch pkt.Type {
		case wire.KeepaliveRequest:
			c.sendMsg(wire.KeepaliveRespond, nil)
		case wire.KeepaliveRespond:
		case wire.Disconnect:
			c.log.Info().Msg("got disconnect request from server, going idle")
			c.setState(Idle)
		case wire.EthernetFrame:
			if _, err := c.iface.Write(pkt.Payload); err != nil {
				c.log.Error().Err(err).Msg("nic write failed")
			}
		case wire.NeedAssociation:
			c.log.Info().Msg("server requested re-association")
			c.setState(Connected)
			c.SetNetwork(c.cfg.Net)
		case wire.CompressedEthernetFrame:
			_, compressed, err := wire.DecodeCompressedLen(pkt.Payload)
			if err != nil {
				c.log.Warn().Err(err).Msg("malformed compressed frame")
				return
			}
			out, err := c.codec.Decompress(decBuf[:0], compressed)
			if err != nil {
				c.log.Warn().Err(err).Msg("failed to decompress ethernet frame from server")
				return
			}
			if _, err := c.iface.Write(out); err != nil {
				c.log.Error().Err(err).Msg("nic write failed")
			}
		default:
			c.log.Warn().Str("type", pkt.Type.String()).Msg("out-of-context message in ASSOCIATED state")
		}
	}
}

// nicWorker reads frames from the NIC and forwards them to the server,
// compressing them first if configured, ported from
// DistributorClient::NicWorker. Frames read while not yet associated are
// discarded, matching the source's "not yet associated" check.
func (c *Client) nicWorker(ctx context.Context) {
	defer c.wg.Done()
	c.log.Debug().Msg("nic worker started")

	buf := make([]byte, c.cfg.MTU)
	compBuf := make([]byte, 0, c.cfg.MTU)

	for {
		n, err := c.iface.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Debug().Msg("nic worker stopped")
				return
			}
			c.log.Error().Err(err).Msg("nic read failed")
			continue
		}
		if n == 0 {
			c.log.Warn().Msg("reading from nic returned 0, is nic up?")
			continue
		}

		if c.State() != Associated {
			c.log.Debug().Msg("discarding ethernet frame from nic, not yet associated")
			continue
		}

		if c.cfg.Compression {
			compressed := c.codec.Compress(compBuf[:0], buf[:n])
			if len(compressed) > wire.MaxDatagram-wire.HeaderLen-wire.CompressedHeaderLen {
				c.log.Warn().Msg("compressed frame is too big to fit, dropping")
				continue
			}
			payload := append(wire.EncodeCompressedLen(len(compressed)), compressed...)
			c.sendFrame(wire.CompressedEthernetFrame, payload)
		} else {
			c.sendFrame(wire.EthernetFrame, buf[:n])
		}
	}
}

func (c *Client) sendFrame(typ wire.Type, payload []byte) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	buf, err := wire.Encode(make([]byte, 0, wire.HeaderLen+len(payload)), typ, payload)
	if err != nil {
		c.log.Warn().Err(err).Msg("frame too large to send, dropping")
		return
	}
	if _, err := conn.Write(buf); err != nil {
		c.log.Error().Err(err).Msg("sendto failed")
		return
	}
	c.mu.Lock()
	c.lastSent = c.now()
	c.mu.Unlock()
}

// pinger drives the initial connection handshake and periodic liveness
// probing, ported from DistributorClient::Pinger. It ticks once per second
// (matching the original's cv.wait_for(1s) loop) so that a cancelled ctx is
// observed promptly rather than waiting out a full keepalive interval.
func (c *Client) pinger(ctx context.Context) {
	defer c.wg.Done()
	c.log.Debug().Msg("pinger started")

	t := time.NewTicker(time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Debug().Msg("pinger stopped")
			return
		case <-t.C:
			c.pingerTick()
		}
	}
}

func (c *Client) pingerTick() {
	switch c.State() {
	case Idle:
		c.log.Debug().Msg("client running but idle, sending initial keepalive")
		c.setState(Connect)
		c.sendMsg(wire.KeepaliveRequest, nil)
	case Connect:
		c.sendMsg(wire.KeepaliveRequest, nil)
	default:
		now := c.now()
		c.mu.Lock()
		sinceSent := now.Sub(c.lastSent)
		sinceRecv := now.Sub(c.lastRecv)
		c.mu.Unlock()

		if sinceSent >= c.cfg.Keepalive && sinceRecv >= c.cfg.Keepalive {
			c.log.Debug().Dur("since_recv", sinceRecv).Msg("nothing received, sending keepalive")
			c.sendMsg(wire.KeepaliveRequest, nil)
		}

		if sinceRecv >= c.cfg.Keepalive*time.Duration(c.cfg.Retries) {
			c.log.Warn().Dur("since_recv", sinceRecv).Msg("nothing received for too long, disconnecting")
			c.sendMsg(wire.Disconnect, nil)
			c.setState(Idle)
		}
	}
}
