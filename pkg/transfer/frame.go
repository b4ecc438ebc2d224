package transfer

import (
	"fmt"

	"github.com/backkem/uavcan/pkg/can"
)

// Tail byte layout.
const (
	tailStart   byte = 0x80
	tailEnd     byte = 0x40
	tailToggle  byte = 0x20
	tailTIDMask byte = 0x1F
)

// CAN identifier layout.
const (
	idPriorityShift    = 24
	idMessageTypeShift = 8
	idServiceTypeShift = 16
	idRequestBit       = uint32(1) << 15
	idDestShift        = 8
	idServiceBit       = uint32(1) << 7
	idAnonTypeMask     = uint32(0x3)
)

// FramePayloadLen is the transfer payload carried by one frame (CAN data minus tail byte).
const FramePayloadLen = can.MaxDataLen - 1

// Header is the routing information carried in the CAN identifier.
type Header struct {
	Priority    Priority
	DataType    DataTypeID
	Kind        Kind
	Source      NodeID
	Destination NodeID
}

// Key returns the reassembly key of frames with this header.
func (h Header) Key() Key {
	return Key{Source: h.Source, DataType: h.DataType, Kind: h.Kind}
}

// Anonymous reports whether the header belongs to an anonymous message.
func (h Header) Anonymous() bool {
	return h.Kind == KindMessageBroadcast && h.Source.IsBroadcast()
}

// CANID encodes the header as a 29-bit identifier.
func (h Header) CANID() (uint32, error) {
	if !h.Priority.Valid() || !h.Source.Valid() || !h.Kind.Valid() {
		return 0, ErrInvalidHeader
	}

	id := uint32(h.Priority) << idPriorityShift
	if h.Kind.IsService() {
		if !h.DataType.ValidFor(h.Kind) || !h.Destination.IsUnicast() || !h.Source.IsUnicast() {
			return 0, ErrInvalidHeader
		}
		id |= uint32(h.DataType) << idServiceTypeShift
		if h.Kind == KindServiceRequest {
			id |= idRequestBit
		}
		id |= uint32(h.Destination) << idDestShift
		id |= idServiceBit
	} else {
		if h.Source.IsBroadcast() && uint32(h.DataType) > idAnonTypeMask {
			return 0, ErrInvalidHeader
		}
		id |= uint32(h.DataType) << idMessageTypeShift
	}
	id |= uint32(h.Source)
	return id, nil
}

// ParseCANID decodes a 29-bit identifier.
func ParseCANID(id uint32) Header {
	var h Header
	h.Priority = Priority((id >> idPriorityShift) & 0x1F)
	h.Source = NodeID(id & 0x7F)

	if id&idServiceBit != 0 {
		h.DataType = DataTypeID((id >> idServiceTypeShift) & 0xFF)
		h.Destination = NodeID((id >> idDestShift) & 0x7F)
		if id&idRequestBit != 0 {
			h.Kind = KindServiceRequest
		} else {
			h.Kind = KindServiceResponse
		}
		return h
	}

	h.Kind = KindMessageBroadcast
	if h.Source.IsBroadcast() {
		// Anonymous messages carry a discriminator in the upper bits.
		h.DataType = DataTypeID((id >> idMessageTypeShift) & idAnonTypeMask)
	} else {
		h.DataType = DataTypeID((id >> idMessageTypeShift) & 0xFFFF)
	}
	return h
}

// Tail is the decoded last byte of every frame.
type Tail struct {
	Start      bool
	End        bool
	Toggle     bool
	TransferID TransferID
}

// Byte encodes the tail.
func (t Tail) Byte() byte {
	b := byte(t.TransferID) & tailTIDMask
	if t.Start {
		b |= tailStart
	}
	if t.End {
		b |= tailEnd
	}
	if t.Toggle {
		b |= tailToggle
	}
	return b
}

// ParseTail decodes a tail byte.
func ParseTail(b byte) Tail {
	return Tail{
		Start:      b&tailStart != 0,
		End:        b&tailEnd != 0,
		Toggle:     b&tailToggle != 0,
		TransferID: TransferID(b & tailTIDMask),
	}
}

// Frame is a parsed transport frame.
// Payload excludes the tail byte and aliases the source CAN frame data.
type Frame struct {
	Header  Header
	Tail    Tail
	Payload []byte
}

// ParseFrame parses a received CAN frame.
func ParseFrame(f can.Frame) (Frame, error) {
	if !f.Extended() || f.Remote() || f.IsError() {
		return Frame{}, ErrNotTransportFrame
	}
	if f.DLC < 1 || f.DLC > can.MaxDataLen {
		return Frame{}, ErrMalformedFrame
	}

	data := f.Payload()
	fr := Frame{
		Header:  ParseCANID(f.Identifier()),
		Tail:    ParseTail(data[len(data)-1]),
		Payload: data[:len(data)-1],
	}
	if fr.Header.Kind.IsService() && (fr.Header.Source.IsBroadcast() || fr.Header.Destination.IsBroadcast()) {
		return Frame{}, ErrMalformedFrame
	}
	if fr.Header.Anonymous() && !(fr.Tail.Start && fr.Tail.End) {
		return Frame{}, ErrMalformedFrame
	}
	return fr, nil
}

// CANFrame encodes the frame for transmission.
func (f Frame) CANFrame() (can.Frame, error) {
	if len(f.Payload) > FramePayloadLen {
		return can.Frame{}, ErrMalformedFrame
	}
	id, err := f.Header.CANID()
	if err != nil {
		return can.Frame{}, err
	}

	var data [can.MaxDataLen]byte
	n := copy(data[:], f.Payload)
	data[n] = f.Tail.Byte()
	return can.NewFrame(id, data[:n+1])
}

func (f Frame) String() string {
	return fmt.Sprintf("%s tid=%d sot=%t eot=%t tgl=%t [% X]",
		f.Header.Key(), f.Tail.TransferID, f.Tail.Start, f.Tail.End, f.Tail.Toggle, f.Payload)
}
