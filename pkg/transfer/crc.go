package transfer

// CRC16 computes CRC-16-CCITT-FALSE (poly 0x1021, init 0xFFFF, no reflection),
// the checksum carried by multi-frame transfers.
type CRC16 struct {
	value uint16
}

// NewCRC16 returns a CRC in its initial state.
func NewCRC16() CRC16 {
	return CRC16{value: 0xFFFF}
}

// NewTransferCRC returns a CRC seeded with a data type signature, as used for
// multi-frame transfers.
func NewTransferCRC(sig Signature) CRC16 {
	c := NewCRC16()
	for i := 0; i < 8; i++ {
		c.AddByte(byte(sig >> (8 * i)))
	}
	return c
}

// AddByte feeds one byte.
func (c *CRC16) AddByte(b byte) {
	c.value ^= uint16(b) << 8
	for i := 0; i < 8; i++ {
		if c.value&0x8000 != 0 {
			c.value = (c.value << 1) ^ 0x1021
		} else {
			c.value <<= 1
		}
	}
}

// Add feeds a byte slice.
func (c *CRC16) Add(p []byte) {
	for _, b := range p {
		c.AddByte(b)
	}
}

// Sum returns the current checksum.
func (c CRC16) Sum() uint16 { return c.value }
