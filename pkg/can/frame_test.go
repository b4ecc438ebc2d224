package can

import (
	"bytes"
	"testing"
)

func TestNewFrame(t *testing.T) {
	f, err := NewFrame(0x1ABCDEF0, []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("NewFrame failed: %v", err)
	}
	if !f.Extended() {
		t.Error("frame should be extended")
	}
	if f.Identifier() != 0x1ABCDEF0 {
		t.Errorf("Identifier() = %#x, want %#x", f.Identifier(), 0x1ABCDEF0)
	}
	if !bytes.Equal(f.Payload(), []byte{1, 2, 3}) {
		t.Errorf("Payload() = %v, want [1 2 3]", f.Payload())
	}

	if _, err := NewFrame(1, make([]byte, 9)); err != ErrFrameTooLong {
		t.Errorf("9-byte payload error = %v, want ErrFrameTooLong", err)
	}
}

func TestFrameEncodeDecode(t *testing.T) {
	f, _ := NewFrame(0x00123456, []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03, 0x04})

	data := f.Encode()
	if len(data) != EncodedFrameLen {
		t.Fatalf("encoded length = %d, want %d", len(data), EncodedFrameLen)
	}

	got, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if got != f {
		t.Errorf("decoded = %v, want %v", got, f)
	}
}

func TestDecodeFrameInvalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short", []byte{1, 2, 3}, ErrInvalidEncoding},
		{"bad dlc", append([]byte{0x80, 0, 0, 1, 9}, make([]byte, 8)...), ErrFrameTooLong},
		{"std id overflow", append([]byte{0, 0, 0x10, 0, 1}, make([]byte, 8)...), ErrInvalidID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame(tt.data)
			if err != tt.want {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFrameFlags(t *testing.T) {
	f := Frame{ID: 0x123 | FlagRTR}
	if f.Extended() {
		t.Error("frame should not be extended")
	}
	if !f.Remote() {
		t.Error("frame should be remote")
	}
	if f.IsError() {
		t.Error("frame should not be an error frame")
	}
	if f.Identifier() != 0x123 {
		t.Errorf("Identifier() = %#x, want 0x123", f.Identifier())
	}
	if got := f.String(); got != "123 [0] " {
		t.Errorf("String() = %q", got)
	}
}
