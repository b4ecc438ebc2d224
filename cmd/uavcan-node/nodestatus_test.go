package main

import (
	"testing"
	"time"

	"github.com/backkem/uavcan/pkg/node"
	"github.com/backkem/uavcan/pkg/transfer"
)

func TestNodeStatusEncoding(t *testing.T) {
	st := nodeStatus{Uptime: 0x01020304, Health: healthError, Mode: modeMaintenance, SubMode: 5, Vendor: 0xBEEF}
	b := st.encode()
	want := [nodeStatusSize]byte{0x04, 0x03, 0x02, 0x01, 2<<6 | 2<<3 | 5, 0xEF, 0xBE}
	if b != want {
		t.Fatalf("encode() = % x, want % x", b, want)
	}

	got, err := decodeNodeStatus(b[:])
	if err != nil {
		t.Fatalf("decodeNodeStatus() error = %v", err)
	}
	if got != st {
		t.Errorf("decodeNodeStatus() = %+v, want %+v", got, st)
	}

	if _, err := decodeNodeStatus(b[:6]); err == nil {
		t.Error("decodeNodeStatus(short) succeeded, want error")
	}
}

func newNode(t *testing.T, id transfer.NodeID) *node.TestNode {
	t.Helper()
	n, err := node.NewTestNode(node.TestNodeConfig{NodeID: id})
	if err != nil {
		t.Fatalf("NewTestNode() error = %v", err)
	}
	t.Cleanup(func() { n.Close() })
	return n
}

func TestStatusPublisher(t *testing.T) {
	n := newNode(t, 10)
	pub, err := startStatusPublisher(n, time.Second, 0x1234, nil)
	if err != nil {
		t.Fatalf("startStatusPublisher() error = %v", err)
	}

	if err := n.SpinFor(2500 * time.Millisecond); err != nil {
		t.Fatalf("SpinFor() error = %v", err)
	}

	sent := n.Sent()
	if len(sent) != 3 {
		t.Fatalf("published %d frames, want 3", len(sent))
	}
	for i, f := range sent {
		st, err := decodeNodeStatus(f.Payload())
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if st.Uptime != uint32(i) {
			t.Errorf("frame %d uptime = %d, want %d", i, st.Uptime, i)
		}
		if st.Vendor != 0x1234 || st.Health != healthOK || st.Mode != modeOperational {
			t.Errorf("frame %d = %+v", i, st)
		}
	}

	pub.stop()
	n.ResetSent()
	n.SpinFor(2 * time.Second)
	if len(n.Sent()) != 0 {
		t.Errorf("published %d frames after stop, want 0", len(n.Sent()))
	}
	if len(n.Failures()) != 0 {
		t.Errorf("failures = %v", n.Failures())
	}
}

func TestStatusPublisherPassive(t *testing.T) {
	n := newNode(t, 0)
	if _, err := startStatusPublisher(n, time.Second, 0, nil); err != nil {
		t.Fatalf("startStatusPublisher() error = %v", err)
	}
	n.SpinFor(3 * time.Second)
	if len(n.Sent()) != 0 {
		t.Errorf("passive node published %d frames", len(n.Sent()))
	}
	if st := n.Dispatcher().Stats(); len(st.Errors) != 0 {
		t.Errorf("passive publisher recorded errors: %v", st.Errors)
	}
}

func TestMonitor(t *testing.T) {
	src := newNode(t, 10)
	pub, err := startStatusPublisher(src, time.Second, 0, nil)
	if err != nil {
		t.Fatalf("startStatusPublisher() error = %v", err)
	}

	dst := newNode(t, 20)
	mon, err := newMonitor(dst, 3*time.Second, nil)
	if err != nil {
		t.Fatalf("newMonitor() error = %v", err)
	}
	type change struct {
		id     transfer.NodeID
		online bool
	}
	var changes []change
	mon.onChange = func(e peerEntry, online bool) {
		changes = append(changes, change{e.ID, online})
	}

	deliver := func() {
		t.Helper()
		for _, f := range src.Sent() {
			if err := dst.Inject(f); err != nil {
				t.Fatalf("Inject() error = %v", err)
			}
		}
		src.ResetSent()
		if err := dst.Scheduler().SpinOnce(); err != nil {
			t.Fatalf("SpinOnce() error = %v", err)
		}
	}

	src.SpinFor(2500 * time.Millisecond)
	deliver()

	online := mon.online()
	if len(online) != 1 || online[0].ID != 10 || online[0].Status.Uptime != 2 {
		t.Fatalf("online() = %+v, want node 10 with uptime 2", online)
	}
	if len(changes) != 1 || changes[0] != (change{10, true}) {
		t.Fatalf("changes = %+v, want one online change", changes)
	}

	pub.setMode(modeMaintenance)
	src.SpinFor(time.Second)
	deliver()
	if len(changes) != 2 {
		t.Fatalf("changes = %+v, want mode change reported", changes)
	}

	dst.SpinFor(5 * time.Second)
	if len(mon.online()) != 0 {
		t.Errorf("online() = %+v after silence, want empty", mon.online())
	}
	if len(changes) != 3 || changes[2] != (change{10, false}) {
		t.Errorf("changes = %+v, want offline change", changes)
	}
}
