package fabric

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeSender struct {
	mu  sync.Mutex
	out map[Port][][]byte
}

func newFakeSender() *fakeSender {
	return &fakeSender{out: make(map[Port][][]byte)}
}

func (f *fakeSender) Send(port Port, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	f.out[port] = append(f.out[port], cp)
	return nil
}

func (f *fakeSender) received(port Port) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out[port]
}

func frame(dst, src byte) []byte {
	f := make([]byte, 14)
	for i := 0; i < 6; i++ {
		f[i] = dst
	}
	for i := 6; i < 12; i++ {
		f[i] = src
	}
	return f
}

func broadcastFrame(src byte) []byte {
	f := frame(0xff, src)
	return f
}

func TestForwardUnicastAfterLearning(t *testing.T) {
	send := newFakeSender()
	sw := New(send, 300*time.Second, zerolog.Nop())
	sw.Plug(1, 10)
	sw.Plug(1, 20)

	// port 20's MAC (0x02) learned by its first frame.
	sw.Forward(20, frame(0x01, 0x02))
	// port 10 now addresses port 20's MAC directly.
	sw.Forward(10, frame(0x02, 0x01))

	if got := send.received(20); len(got) != 1 {
		t.Fatalf("port 20 should have received exactly 1 unicast frame, got %d", len(got))
	}
}

func TestForwardFloodsOnMiss(t *testing.T) {
	send := newFakeSender()
	sw := New(send, 300*time.Second, zerolog.Nop())
	sw.Plug(1, 10)
	sw.Plug(1, 20)
	sw.Plug(1, 30)

	sw.Forward(10, frame(0x99, 0x01))

	if len(send.received(20)) != 1 || len(send.received(30)) != 1 {
		t.Fatalf("unknown destination should flood to every other port on the network")
	}
	if len(send.received(10)) != 0 {
		t.Fatalf("flood must not reflect back to the source port")
	}
}

func TestForwardRejectsShortFrame(t *testing.T) {
	send := newFakeSender()
	sw := New(send, 300*time.Second, zerolog.Nop())
	sw.Plug(1, 10)
	sw.Plug(1, 20)

	sw.Forward(10, make([]byte, 10))
	if len(send.received(20)) != 0 {
		t.Fatalf("short frame should be rejected, not forwarded")
	}
}

func TestReassociationFlushesOldNetworkFdb(t *testing.T) {
	send := newFakeSender()
	sw := New(send, 300*time.Second, zerolog.Nop())

	sw.Plug(1, 10)
	sw.Plug(1, 20)
	sw.Forward(20, frame(0x01, 0x02)) // learns 0x02 on port 20, network 1

	// reassociate port 20 to network 2.
	sw.Plug(2, 20)

	// network 1's fdb must no longer resolve port 20's old MAC.
	sw.Plug(1, 30)
	sw.Forward(30, frame(0x02, 0x03))
	if len(send.received(20)) != 0 {
		t.Fatalf("old network's fdb entry for the reassociated port should have been flushed")
	}

	// network 2 has no knowledge of 0x02 yet, so this would only flood
	// within network 2 (no port 30 member), not reach port 20 via stale state.
}

func TestUnplugFlushesFdbAndMembership(t *testing.T) {
	send := newFakeSender()
	sw := New(send, 300*time.Second, zerolog.Nop())
	sw.Plug(1, 10)
	sw.Plug(1, 20)
	sw.Forward(20, frame(0x01, 0x02))

	if !sw.Unplug(20) {
		t.Fatalf("unplug of associated port should report true")
	}
	if sw.Unplug(20) {
		t.Fatalf("unplug of already-unplugged port should report false")
	}

	sw.Forward(10, frame(0x99, 0x01))
	if len(send.received(20)) != 0 {
		t.Fatalf("unplugged port must not receive floods")
	}
}

func TestForwardReportsBoundStatus(t *testing.T) {
	send := newFakeSender()
	sw := New(send, 300*time.Second, zerolog.Nop())
	sw.Plug(1, 10)
	sw.Plug(1, 20)

	if sw.Forward(99, frame(0x01, 0x02)) {
		t.Fatalf("forward on an unbound port should return false")
	}
	if len(send.received(10)) != 0 || len(send.received(20)) != 0 {
		t.Fatalf("forward on an unbound port should perform no send")
	}

	if !sw.Forward(10, frame(0x99, 0x01)) {
		t.Fatalf("forward on a bound port should return true")
	}
}

func TestBroadcastDestinationAlwaysFloods(t *testing.T) {
	send := newFakeSender()
	sw := New(send, 300*time.Second, zerolog.Nop())
	sw.Plug(1, 10)
	sw.Plug(1, 20)

	sw.Forward(10, broadcastFrame(0x01))
	if len(send.received(20)) != 1 {
		t.Fatalf("broadcast destination should always flood")
	}
}
