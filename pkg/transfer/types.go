// Package transfer implements the transport layer of the protocol: CAN
// identifier and tail byte encoding, splitting outgoing transfers into
// frames and reassembling incoming multi-frame transfers.
package transfer

import (
	"fmt"

	"github.com/backkem/uavcan/pkg/clock"
)

// NodeID is the bus address of a node. Zero is the broadcast/unset value.
type NodeID uint8

const (
	// NodeIDBroadcast is the distinguished unset/broadcast address.
	NodeIDBroadcast NodeID = 0

	// NodeIDMin is the lowest assignable node ID.
	NodeIDMin NodeID = 1

	// NodeIDMax is the highest assignable node ID.
	NodeIDMax NodeID = 127
)

// IsUnicast reports whether n is an assignable node address.
func (n NodeID) IsUnicast() bool { return n >= NodeIDMin && n <= NodeIDMax }

// IsBroadcast reports whether n is the broadcast/unset value.
func (n NodeID) IsBroadcast() bool { return n == NodeIDBroadcast }

// Valid reports whether n fits the 7-bit address field.
func (n NodeID) Valid() bool { return n <= NodeIDMax }

func (n NodeID) String() string {
	if n.IsBroadcast() {
		return "broadcast"
	}
	return fmt.Sprintf("%d", uint8(n))
}

// Kind distinguishes transfer patterns.
type Kind uint8

const (
	// KindMessageBroadcast is a message published to every node.
	KindMessageBroadcast Kind = iota

	// KindServiceResponse is a response from a server to a client.
	KindServiceResponse

	// KindServiceRequest is a request from a client to a server.
	KindServiceRequest

	numKinds
)

// IsService reports whether k is a service kind.
func (k Kind) IsService() bool {
	return k == KindServiceRequest || k == KindServiceResponse
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k < numKinds }

func (k Kind) String() string {
	switch k {
	case KindMessageBroadcast:
		return "MessageBroadcast"
	case KindServiceResponse:
		return "ServiceResponse"
	case KindServiceRequest:
		return "ServiceRequest"
	default:
		return "Unknown"
	}
}

// DataTypeID identifies a data type. Message types use 16 bits, service types 8.
type DataTypeID uint16

const (
	// MaxMessageDataTypeID is the highest message data type ID.
	MaxMessageDataTypeID DataTypeID = 0xFFFF

	// MaxServiceDataTypeID is the highest service data type ID.
	MaxServiceDataTypeID DataTypeID = 0xFF
)

// ValidFor reports whether id fits the data type field of kind.
func (id DataTypeID) ValidFor(kind Kind) bool {
	if kind.IsService() {
		return id <= MaxServiceDataTypeID
	}
	return kind.Valid()
}

// Signature is the 64-bit data type signature seeding the transfer CRC.
type Signature uint64

// TransferID is the 5-bit rolling transfer counter.
type TransferID uint8

// TransferIDMax is the highest transfer ID before wrapping.
const TransferIDMax TransferID = 31

const transferIDHalfRange = 16

// Next returns the following transfer ID, wrapping at 32.
func (t TransferID) Next() TransferID { return (t + 1) & TransferIDMax }

// ForwardDistance returns how many increments lead from t to other, modulo 32.
func (t TransferID) ForwardDistance(other TransferID) int {
	return int((other - t) & TransferIDMax)
}

// Priority is the 5-bit transfer priority. Lower values win arbitration.
type Priority uint8

const (
	// PriorityHighest is the most urgent priority.
	PriorityHighest Priority = 0

	// PriorityDefault is the nominal priority.
	PriorityDefault Priority = 16

	// PriorityLowest is the least urgent priority.
	PriorityLowest Priority = 31
)

// Valid reports whether p fits the 5-bit priority field.
func (p Priority) Valid() bool { return p <= PriorityLowest }

// Key identifies one reassembly stream.
type Key struct {
	Source   NodeID
	DataType DataTypeID
	Kind     Kind
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d from %s", k.Kind, k.DataType, k.Source)
}

// IncomingTransfer is a completed transfer delivered to a listener.
//
// Payload points into a buffer owned by the receiver and is only valid for the
// duration of the listener callback. Copy it to keep it.
type IncomingTransfer struct {
	Key
	Destination NodeID
	TransferID  TransferID
	Priority    Priority
	Payload     []byte
	Timestamp   clock.Monotonic
	MultiFrame  bool
}

// Anonymous reports whether the transfer was sent by a node without an ID.
func (t *IncomingTransfer) Anonymous() bool {
	return t.Kind == KindMessageBroadcast && t.Source.IsBroadcast()
}

// OutgoingTransfer is a transfer to be split into frames.
type OutgoingTransfer struct {
	DataType    DataTypeID
	Kind        Kind
	Priority    Priority
	Source      NodeID
	Destination NodeID
	TransferID  TransferID
	Signature   Signature
	Payload     []byte
}
