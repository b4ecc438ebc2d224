package transfer

import "github.com/backkem/uavcan/pkg/can"

// MaxPayloadLen is the largest transfer payload the protocol can carry.
const MaxPayloadLen = 439

// crcLen is the size of the transfer CRC prefixed to multi-frame transfers.
const crcLen = 2

// Split encodes an outgoing transfer as a sequence of CAN frames, appending
// them to dst. Transfers up to 7 bytes fit one frame; longer ones are prefixed
// with the transfer CRC and spread over frames with alternating toggle bits.
func Split(dst []can.Frame, t *OutgoingTransfer) ([]can.Frame, error) {
	if len(t.Payload) > MaxPayloadLen {
		return dst, ErrPayloadTooLong
	}

	h := Header{
		Priority:    t.Priority,
		DataType:    t.DataType,
		Kind:        t.Kind,
		Source:      t.Source,
		Destination: t.Destination,
	}
	tid := t.TransferID & TransferIDMax

	if len(t.Payload) <= FramePayloadLen {
		f := Frame{
			Header:  h,
			Tail:    Tail{Start: true, End: true, TransferID: tid},
			Payload: t.Payload,
		}
		cf, err := f.CANFrame()
		if err != nil {
			return dst, err
		}
		return append(dst, cf), nil
	}

	if h.Anonymous() {
		return dst, ErrInvalidHeader
	}

	crc := NewTransferCRC(t.Signature)
	crc.Add(t.Payload)
	sum := crc.Sum()

	// The CRC travels little-endian ahead of the payload.
	var chunk [FramePayloadLen]byte
	chunk[0] = byte(sum)
	chunk[1] = byte(sum >> 8)
	n := copy(chunk[crcLen:], t.Payload)
	rest := t.Payload[n:]

	toggle := false
	f := Frame{
		Header:  h,
		Tail:    Tail{Start: true, TransferID: tid},
		Payload: chunk[:],
	}
	for {
		f.Tail.Toggle = toggle
		f.Tail.End = len(rest) == 0

		cf, err := f.CANFrame()
		if err != nil {
			return dst, err
		}
		dst = append(dst, cf)
		if f.Tail.End {
			return dst, nil
		}

		n = copy(chunk[:], rest)
		f.Payload = chunk[:n]
		rest = rest[n:]
		f.Tail.Start = false
		toggle = !toggle
	}
}

// FrameCount returns the number of frames a payload of n bytes occupies.
func FrameCount(n int) int {
	if n <= FramePayloadLen {
		return 1
	}
	return (n + crcLen + FramePayloadLen - 1) / FramePayloadLen
}
