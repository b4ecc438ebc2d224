package transfer

import "testing"

func TestCRC16CheckValue(t *testing.T) {
	c := NewCRC16()
	c.Add([]byte("123456789"))
	if got := c.Sum(); got != 0x29B1 {
		t.Errorf("Sum() = %#04x, want 0x29b1", got)
	}
}

func TestTransferCRCSeedsSignature(t *testing.T) {
	sig := Signature(0x0F0E0D0C0B0A0908)

	seeded := NewTransferCRC(sig)
	manual := NewCRC16()
	manual.Add([]byte{0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F})

	if seeded.Sum() != manual.Sum() {
		t.Errorf("seeded = %#04x, want %#04x", seeded.Sum(), manual.Sum())
	}
}
