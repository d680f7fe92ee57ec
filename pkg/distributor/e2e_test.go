package distributor_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nat-lab/distributor/pkg/distributor"
	"github.com/nat-lab/distributor/pkg/nic"
	"github.com/nat-lab/distributor/pkg/peer"
)

// This exercises the full loop end to end on real loopback UDP sockets:
// two peers associate with the same network through a running server, and
// a frame written to one peer's virtual NIC arrives at the other's.
func TestEndToEndAssociationAndForwarding(t *testing.T) {
	log := zerolog.Nop()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	cfg := distributor.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1"
	srv := distributor.NewServer(cfg, log)

	serverDone := make(chan error, 1)
	go func() { serverDone <- srv.Serve(conn) }()
	defer srv.Close()

	serverAddr := conn.LocalAddr().(*net.UDPAddr).AddrPort()

	ifaceA := nic.NewPseudo(8)
	ifaceB := nic.NewPseudo(8)

	pcfg := peer.DefaultConfig()
	pcfg.ServerAddr = serverAddr
	pcfg.Net = 42

	clientA := peer.New(pcfg, ifaceA, log)
	clientB := peer.New(pcfg, ifaceB, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := clientA.Start(ctx); err != nil {
		t.Fatalf("start client A: %v", err)
	}
	defer clientA.Stop()
	if err := clientB.Start(ctx); err != nil {
		t.Fatalf("start client B: %v", err)
	}
	defer clientB.Stop()

	waitForState(t, clientA, peer.Associated, 5*time.Second)
	waitForState(t, clientB, peer.Associated, 5*time.Second)

	frame := make([]byte, 64)
	copy(frame[0:6], []byte{0xaa, 0xaa, 0xaa, 0xaa, 0xaa, 0xaa}) // dst (unknown yet, floods)
	copy(frame[6:12], []byte{0xbb, 0xbb, 0xbb, 0xbb, 0xbb, 0xbb}) // src

	select {
	case ifaceA.Inbound <- frame:
	case <-time.After(time.Second):
		t.Fatalf("timed out queueing frame on A's nic")
	}

	select {
	case got := <-ifaceB.Outbound:
		if len(got) < 14 {
			t.Fatalf("received frame too short: %d bytes", len(got))
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for frame to arrive at B")
	}

	select {
	case err := <-serverDone:
		t.Fatalf("server exited early: %v", err)
	default:
	}
}

func waitForState(t *testing.T, c *peer.Client, want peer.State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %v, last seen %v", want, c.State())
}
