package dispatch

import (
	"testing"

	"github.com/backkem/uavcan/pkg/transfer"
)

func TestIdentityStartsPassive(t *testing.T) {
	s := NewIdentityState()
	if !s.IsPassive() {
		t.Error("new identity should be passive")
	}
	if s.NodeID() != transfer.NodeIDBroadcast {
		t.Errorf("NodeID() = %v, want broadcast", s.NodeID())
	}
	if s.Mode() != ModePassive {
		t.Errorf("Mode() = %v, want passive", s.Mode())
	}
}

func TestIdentitySetNodeID(t *testing.T) {
	tests := []struct {
		name string
		id   transfer.NodeID
		ok   bool
	}{
		{"broadcast", transfer.NodeIDBroadcast, false},
		{"out of range", 128, false},
		{"max", 255, false},
		{"min", transfer.NodeIDMin, true},
		{"typical", 42, true},
		{"highest", transfer.NodeIDMax, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewIdentityState()
			if got := s.SetNodeID(tc.id); got != tc.ok {
				t.Fatalf("SetNodeID(%d) = %v, want %v", tc.id, got, tc.ok)
			}
			if tc.ok {
				if s.NodeID() != tc.id || s.IsPassive() {
					t.Errorf("after set: NodeID %v passive %v", s.NodeID(), s.IsPassive())
				}
			} else if !s.IsPassive() {
				t.Error("failed set should leave the node passive")
			}
		})
	}
}

func TestIdentitySetOnce(t *testing.T) {
	s := NewIdentityState()
	if !s.SetNodeID(10) {
		t.Fatal("first SetNodeID failed")
	}

	for _, id := range []transfer.NodeID{10, 11, 1, 127, 0} {
		if s.SetNodeID(id) {
			t.Errorf("SetNodeID(%d) succeeded on an active node", id)
		}
		if s.NodeID() != 10 {
			t.Errorf("NodeID() = %v after SetNodeID(%d), want 10", s.NodeID(), id)
		}
		if s.IsPassive() {
			t.Error("node went back to passive")
		}
	}
}
