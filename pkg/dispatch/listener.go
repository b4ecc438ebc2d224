package dispatch

import (
	"fmt"

	"github.com/backkem/uavcan/pkg/transfer"
)

// Listener receives completed incoming transfers.
//
// OnTransfer runs synchronously inside the event loop. The transfer payload is
// only valid until OnTransfer returns.
type Listener interface {
	OnTransfer(t *transfer.IncomingTransfer)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(t *transfer.IncomingTransfer)

// OnTransfer calls f(t).
func (f ListenerFunc) OnTransfer(t *transfer.IncomingTransfer) { f(t) }

// ListenerKey identifies a listener registration.
type ListenerKey struct {
	DataType transfer.DataTypeID
	Kind     transfer.Kind
}

func (k ListenerKey) String() string {
	return fmt.Sprintf("%s/%d", k.Kind, k.DataType)
}

// ListenerDescriptor describes the data type a listener accepts.
type ListenerDescriptor struct {
	DataType transfer.DataTypeID
	Kind     transfer.Kind

	// Signature is the data type signature used to check multi-frame CRCs.
	Signature transfer.Signature

	// Name is used in log output only.
	Name string
}

// Key returns the registration key of d.
func (d ListenerDescriptor) Key() ListenerKey {
	return ListenerKey{DataType: d.DataType, Kind: d.Kind}
}

type registration struct {
	desc     ListenerDescriptor
	listener Listener
}
