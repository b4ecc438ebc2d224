// Package can defines the CAN bus driver contract consumed by the stack and a
// few drivers: an in-memory Pipe for tests and a UDP-encapsulated bus for
// running nodes on a host network.
package can

import (
	"encoding/binary"
	"fmt"
)

// Identifier masks and flags, SocketCAN layout.
const (
	// MaskStdID masks an 11-bit base identifier.
	MaskStdID uint32 = 0x000007FF

	// MaskExtID masks a 29-bit extended identifier.
	MaskExtID uint32 = 0x1FFFFFFF

	// FlagEFF marks an extended (29-bit) frame.
	FlagEFF uint32 = 0x80000000

	// FlagRTR marks a remote transmission request.
	FlagRTR uint32 = 0x40000000

	// FlagERR marks an error frame.
	FlagERR uint32 = 0x20000000
)

// MaxDataLen is the CAN 2.0 payload capacity.
const MaxDataLen = 8

// EncodedFrameLen is the size of a frame in its wire encoding.
const EncodedFrameLen = 4 + 1 + MaxDataLen

// Frame is a single CAN 2.0 frame. ID carries the identifier and the
// FlagEFF/FlagRTR/FlagERR bits.
type Frame struct {
	ID   uint32
	DLC  uint8
	Data [MaxDataLen]byte
}

// NewFrame builds an extended data frame with the given 29-bit identifier.
func NewFrame(id uint32, payload []byte) (Frame, error) {
	if len(payload) > MaxDataLen {
		return Frame{}, ErrFrameTooLong
	}
	f := Frame{ID: (id & MaskExtID) | FlagEFF, DLC: uint8(len(payload))}
	copy(f.Data[:], payload)
	return f, nil
}

// Extended reports whether the frame carries a 29-bit identifier.
func (f Frame) Extended() bool { return f.ID&FlagEFF != 0 }

// Remote reports whether the frame is a remote transmission request.
func (f Frame) Remote() bool { return f.ID&FlagRTR != 0 }

// IsError reports whether the frame is an error frame.
func (f Frame) IsError() bool { return f.ID&FlagERR != 0 }

// Identifier returns the bare identifier without flags.
func (f Frame) Identifier() uint32 {
	if f.Extended() {
		return f.ID & MaskExtID
	}
	return f.ID & MaskStdID
}

// Payload returns the valid part of Data.
func (f Frame) Payload() []byte {
	n := f.DLC
	if n > MaxDataLen {
		n = MaxDataLen
	}
	return f.Data[:n]
}

// Validate checks the DLC and identifier range.
func (f Frame) Validate() error {
	if f.DLC > MaxDataLen {
		return ErrFrameTooLong
	}
	if !f.Extended() && f.ID&MaskExtID&^MaskStdID != 0 {
		return ErrInvalidID
	}
	return nil
}

func (f Frame) String() string {
	p := f.Payload()
	if f.Extended() {
		return fmt.Sprintf("%08X [%d] % X", f.Identifier(), f.DLC, p)
	}
	return fmt.Sprintf("%03X [%d] % X", f.Identifier(), f.DLC, p)
}

// Encode serializes the frame: 4-byte big-endian ID with flags, DLC, 8 data bytes.
func (f Frame) Encode() []byte {
	buf := make([]byte, EncodedFrameLen)
	f.encodeTo(buf)
	return buf
}

func (f Frame) encodeTo(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], f.ID)
	buf[4] = f.DLC
	copy(buf[5:], f.Data[:])
}

// DecodeFrame parses a frame produced by Encode.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) != EncodedFrameLen {
		return Frame{}, ErrInvalidEncoding
	}
	var f Frame
	f.ID = binary.BigEndian.Uint32(b[0:4])
	f.DLC = b[4]
	copy(f.Data[:], b[5:])
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}
