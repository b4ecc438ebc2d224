package can

import (
	"net"
	"testing"
	"time"
)

func newLoopbackUDP(t *testing.T) *UDP {
	t.Helper()
	u, err := NewUDP(UDPConfig{ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("NewUDP failed: %v", err)
	}
	return u
}

func TestUDPBusExchange(t *testing.T) {
	a := newLoopbackUDP(t)
	defer a.Close()
	b := newLoopbackUDP(t)
	defer b.Close()

	a.AddPeer(b.LocalAddr())
	b.AddPeer(a.LocalAddr())
	a.AddPeer(b.LocalAddr())

	if a.PeerCount() != 1 {
		t.Errorf("PeerCount() = %d, want 1", a.PeerCount())
	}

	f, _ := NewFrame(0x0A0B0C0D, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	if err := a.Transmit(f); err != nil {
		t.Fatalf("Transmit failed: %v", err)
	}

	got, ok := receiveWithin(t, b, 2*time.Second)
	if !ok {
		t.Fatal("frame not received")
	}
	if got != f {
		t.Errorf("received %v, want %v", got, f)
	}
}

func TestUDPNoPeers(t *testing.T) {
	u := newLoopbackUDP(t)
	defer u.Close()

	f, _ := NewFrame(1, nil)
	if err := u.Transmit(f); err != ErrNoPeers {
		t.Errorf("Transmit error = %v, want ErrNoPeers", err)
	}
}

func TestUDPIgnoresGarbage(t *testing.T) {
	u := newLoopbackUDP(t)
	defer u.Close()

	conn, err := net.Dial("udp", u.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte("not a frame"))
	good, _ := NewFrame(5, []byte{5})
	conn.Write(good.Encode())

	got, ok := receiveWithin(t, u, 2*time.Second)
	if !ok {
		t.Fatal("valid frame not received")
	}
	if got != good {
		t.Errorf("received %v, want %v", got, good)
	}
}

func TestUDPCloseTwice(t *testing.T) {
	u := newLoopbackUDP(t)
	if err := u.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := u.Close(); err != ErrClosed {
		t.Errorf("second Close = %v, want ErrClosed", err)
	}
}
