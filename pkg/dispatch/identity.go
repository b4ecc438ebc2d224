package dispatch

import (
	"sync/atomic"

	"github.com/backkem/uavcan/pkg/transfer"
)

// Mode is the transmission mode of a node.
type Mode uint8

const (
	// ModePassive nodes receive but never transmit.
	ModePassive Mode = iota

	// ModeActive nodes hold a node ID and may transmit.
	ModeActive
)

func (m Mode) String() string {
	if m == ModeActive {
		return "active"
	}
	return "passive"
}

// IdentityState holds the node ID of this node.
//
// The node starts passive with no ID. The first successful SetNodeID makes
// it active; there is no way back. One IdentityState is shared by the
// Dispatcher and everything that asks for the node ID, so several simulated
// nodes can live in one process.
type IdentityState struct {
	id atomic.Uint32
}

// NewIdentityState returns a passive identity.
func NewIdentityState() *IdentityState {
	return &IdentityState{}
}

// SetNodeID assigns id. It fails if an ID is already set or id is not an
// assignable unicast address. Failure leaves the state unchanged.
func (s *IdentityState) SetNodeID(id transfer.NodeID) bool {
	if !id.IsUnicast() {
		return false
	}
	return s.id.CompareAndSwap(uint32(transfer.NodeIDBroadcast), uint32(id))
}

// NodeID returns the assigned ID, or NodeIDBroadcast while passive.
func (s *IdentityState) NodeID() transfer.NodeID {
	return transfer.NodeID(s.id.Load())
}

// IsPassive reports whether no node ID has been assigned yet.
func (s *IdentityState) IsPassive() bool {
	return s.Mode() == ModePassive
}

// Mode returns the current mode.
func (s *IdentityState) Mode() Mode {
	if s.NodeID().IsUnicast() {
		return ModeActive
	}
	return ModePassive
}
