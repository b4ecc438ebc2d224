package transfer

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/backkem/uavcan/pkg/clock"
	"github.com/backkem/uavcan/pkg/pool"
	"github.com/backkem/uavcan/pkg/status"
)

const testSignature Signature = 0x0B2A812620A11D40

var testKey = Key{Source: 7, DataType: 1030, Kind: KindMessageBroadcast}

func newTestReassembler(t *testing.T, blocks int) (*Reassembler, *pool.Fixed) {
	t.Helper()
	p := pool.NewFixed(blocks, 16)
	r, err := NewReassembler(ReassemblerConfig{
		Allocator:       p,
		Slots:           4,
		Timeout:         100 * time.Millisecond,
		DuplicateWindow: 500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewReassembler failed: %v", err)
	}
	return r, p
}

// splitFrames splits a payload for testKey into parsed frames.
func splitFrames(t *testing.T, tid TransferID, payload []byte) []Frame {
	t.Helper()
	cfs, err := Split(nil, &OutgoingTransfer{
		DataType:   testKey.DataType,
		Kind:       testKey.Kind,
		Priority:   PriorityDefault,
		Source:     testKey.Source,
		TransferID: tid,
		Signature:  testSignature,
		Payload:    payload,
	})
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	frames := make([]Frame, len(cfs))
	for i, cf := range cfs {
		f, err := ParseFrame(cf)
		if err != nil {
			t.Fatalf("ParseFrame failed: %v", err)
		}
		frames[i] = f
	}
	return frames
}

func feed(r *Reassembler, frames []Frame, now clock.Monotonic) (IncomingTransfer, int, error) {
	var (
		last      IncomingTransfer
		completed int
		lastErr   error
	)
	for i := range frames {
		tr, ok, err := r.Accept(&frames[i], testSignature, now)
		if err != nil {
			lastErr = err
		}
		if ok {
			completed++
			last = tr
			last.Payload = append([]byte(nil), tr.Payload...)
		}
	}
	return last, completed, lastErr
}

func checkPoolParity(t *testing.T, p *pool.Fixed) {
	t.Helper()
	s := p.Stats()
	if s.Allocations != s.Releases {
		t.Errorf("pool allocations = %d, releases = %d", s.Allocations, s.Releases)
	}
	if s.InUse != 0 {
		t.Errorf("pool blocks in use = %d, want 0", s.InUse)
	}
}

func TestReassembleTwoFrames(t *testing.T) {
	r, p := newTestReassembler(t, 8)
	payload := sequentialPayload(10)
	frames := splitFrames(t, 0, payload)

	if len(frames) != 2 {
		t.Fatalf("frame count = %d, want 2", len(frames))
	}
	if frames[0].Tail.Toggle || !frames[1].Tail.Toggle || !frames[1].Tail.End {
		t.Fatal("unexpected toggle/end layout")
	}

	now := clock.MonotonicFromMicros(1000)

	_, ok, err := r.Accept(&frames[0], testSignature, now)
	if ok || err != nil {
		t.Fatalf("first frame: ok %v err %v", ok, err)
	}
	if !r.InProgress(testKey) {
		t.Error("transfer should be in progress after first frame")
	}
	if p.Stats().InUse == 0 {
		t.Error("first frame should take a pool block")
	}

	tr, ok, err := r.Accept(&frames[1], testSignature, now)
	if err != nil || !ok {
		t.Fatalf("final frame: ok %v err %v", ok, err)
	}
	if !bytes.Equal(tr.Payload, payload) {
		t.Errorf("payload = %v, want %v", tr.Payload, payload)
	}
	if tr.Key != testKey || tr.TransferID != 0 || !tr.MultiFrame {
		t.Errorf("transfer = %+v", tr)
	}

	checkPoolParity(t, p)
	if r.Stats().Completed != 1 {
		t.Errorf("Completed = %d, want 1", r.Stats().Completed)
	}
}

func TestReassembleLongTransferSpansBlocks(t *testing.T) {
	r, p := newTestReassembler(t, 64)
	payload := sequentialPayload(MaxPayloadLen)

	tr, n, err := feed(r, splitFrames(t, 9, payload), clock.Monotonic{})
	if err != nil || n != 1 {
		t.Fatalf("completed %d, err %v", n, err)
	}
	if !bytes.Equal(tr.Payload, payload) {
		t.Error("long payload corrupted")
	}
	if p.Stats().Peak < MaxPayloadLen/16 {
		t.Errorf("peak blocks = %d, want several", p.Stats().Peak)
	}
	checkPoolParity(t, p)
}

func TestDuplicateFinalFrameSuppressed(t *testing.T) {
	r, p := newTestReassembler(t, 8)
	frames := splitFrames(t, 3, sequentialPayload(10))
	now := clock.MonotonicFromMicros(1000)

	if _, n, _ := feed(r, frames, now); n != 1 {
		t.Fatalf("completed %d transfers, want 1", n)
	}

	_, ok, err := r.Accept(&frames[1], testSignature, now.Add(time.Millisecond))
	if ok {
		t.Fatal("duplicate final frame was delivered again")
	}
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}

	// A full retransmission of the same transfer is suppressed too.
	if _, n, err := feed(r, frames, now.Add(2*time.Millisecond)); n != 0 {
		t.Errorf("retransmission delivered %d transfers (err %v)", n, err)
	}

	checkPoolParity(t, p)
	if r.Stats().Duplicates == 0 {
		t.Error("Duplicates counter not incremented")
	}
}

func TestDuplicateSingleFrameSuppressed(t *testing.T) {
	r, _ := newTestReassembler(t, 1)
	frames := splitFrames(t, 1, []byte{1, 2})
	now := clock.MonotonicFromMicros(1000)

	if _, n, _ := feed(r, frames, now); n != 1 {
		t.Fatal("first copy not delivered")
	}
	if _, n, err := feed(r, frames, now); n != 0 || !errors.Is(err, ErrDuplicate) {
		t.Errorf("second copy: delivered %d err %v", n, err)
	}

	// The next transfer ID is accepted.
	if _, n, _ := feed(r, splitFrames(t, 2, []byte{3}), now); n != 1 {
		t.Error("next transfer ID not delivered")
	}
}

func TestDuplicateWindowExpires(t *testing.T) {
	r, _ := newTestReassembler(t, 1)
	frames := splitFrames(t, 1, []byte{1})
	now := clock.MonotonicFromMicros(1000)

	feed(r, frames, now)

	later := now.Add(600 * time.Millisecond)
	r.Cleanup(later)
	if r.Len() != 0 {
		t.Errorf("Len() = %d after window, want 0", r.Len())
	}
	if _, n, _ := feed(r, frames, later); n != 1 {
		t.Error("same transfer ID should be accepted after the duplicate window")
	}
}

func TestOutOfOrderRejected(t *testing.T) {
	r, _ := newTestReassembler(t, 1)
	now := clock.MonotonicFromMicros(1000)

	feed(r, splitFrames(t, 10, []byte{1}), now)

	_, n, err := feed(r, splitFrames(t, 8, []byte{2}), now)
	if n != 0 || !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("older transfer: delivered %d err %v", n, err)
	}
	if r.Stats().OutOfOrder != 1 {
		t.Errorf("OutOfOrder = %d, want 1", r.Stats().OutOfOrder)
	}
}

func TestToggleMismatchAbandons(t *testing.T) {
	r, p := newTestReassembler(t, 8)
	frames := splitFrames(t, 0, sequentialPayload(15))
	if len(frames) != 3 {
		t.Fatalf("frame count = %d, want 3", len(frames))
	}
	now := clock.MonotonicFromMicros(1000)

	r.Accept(&frames[0], testSignature, now)
	// Skip the second frame: the third carries the wrong toggle.
	_, ok, err := r.Accept(&frames[2], testSignature, now)
	if ok || !errors.Is(err, ErrToggleMismatch) {
		t.Fatalf("ok %v err %v, want ErrToggleMismatch", ok, err)
	}
	if r.InProgress(testKey) {
		t.Error("corrupted transfer should be abandoned")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
	checkPoolParity(t, p)
	if r.Stats().Corrupted != 1 {
		t.Errorf("Corrupted = %d, want 1", r.Stats().Corrupted)
	}
}

func TestCRCMismatchAbandons(t *testing.T) {
	r, p := newTestReassembler(t, 8)
	frames := splitFrames(t, 0, sequentialPayload(10))
	now := clock.MonotonicFromMicros(1000)

	r.Accept(&frames[0], testSignature, now)
	_, ok, err := r.Accept(&frames[1], testSignature+1, now)
	if ok || !errors.Is(err, ErrCRCMismatch) {
		t.Fatalf("ok %v err %v, want ErrCRCMismatch", ok, err)
	}
	checkPoolParity(t, p)
}

func TestReassemblyTimeoutReleasesBuffer(t *testing.T) {
	r, p := newTestReassembler(t, 8)
	frames := splitFrames(t, 0, sequentialPayload(20))
	now := clock.MonotonicFromMicros(1000)

	r.Accept(&frames[0], testSignature, now)
	if p.Stats().InUse == 0 {
		t.Fatal("expected a block in use")
	}

	if n := r.Cleanup(now.Add(50 * time.Millisecond)); n != 0 {
		t.Errorf("Cleanup before timeout expired %d", n)
	}
	if n := r.Cleanup(now.Add(150 * time.Millisecond)); n != 1 {
		t.Errorf("Cleanup after timeout expired %d, want 1", n)
	}
	if r.InProgress(testKey) || r.Len() != 0 {
		t.Error("timed out transfer still tracked")
	}
	checkPoolParity(t, p)
	if r.Stats().TimedOut != 1 {
		t.Errorf("TimedOut = %d, want 1", r.Stats().TimedOut)
	}
}

func TestStaleTransferExpiredOnNextFrame(t *testing.T) {
	r, p := newTestReassembler(t, 8)
	frames := splitFrames(t, 0, sequentialPayload(20))
	now := clock.MonotonicFromMicros(1000)

	r.Accept(&frames[0], testSignature, now)
	_, ok, err := r.Accept(&frames[1], testSignature, now.Add(time.Second))
	if ok || !errors.Is(err, ErrUnexpectedFrame) {
		t.Errorf("ok %v err %v, want ErrUnexpectedFrame", ok, err)
	}
	checkPoolParity(t, p)
}

func TestPoolExhaustionDropsTransfer(t *testing.T) {
	r, p := newTestReassembler(t, 1)
	frames := splitFrames(t, 0, sequentialPayload(40))
	now := clock.MonotonicFromMicros(1000)

	_, n, err := feed(r, frames, now)
	if n != 0 {
		t.Fatal("transfer should not complete without memory")
	}
	if !errors.Is(err, ErrUnexpectedFrame) && !errors.Is(err, status.ErrMemory) {
		t.Errorf("err = %v, want memory failure", err)
	}
	if r.Stats().NoMemory == 0 {
		t.Error("NoMemory counter not incremented")
	}
	checkPoolParity(t, p)
}

func TestSlotExhaustion(t *testing.T) {
	r, p := newTestReassembler(t, 16)
	now := clock.MonotonicFromMicros(1000)

	for src := NodeID(1); src <= 4; src++ {
		f := Frame{
			Header:  Header{DataType: 1, Source: src},
			Tail:    Tail{Start: true, TransferID: 0},
			Payload: make([]byte, FramePayloadLen),
		}
		if _, _, err := r.Accept(&f, 0, now); err != nil {
			t.Fatalf("source %d: %v", src, err)
		}
	}

	f := Frame{
		Header:  Header{DataType: 1, Source: 5},
		Tail:    Tail{Start: true},
		Payload: make([]byte, FramePayloadLen),
	}
	if _, _, err := r.Accept(&f, 0, now); !errors.Is(err, status.ErrMemory) {
		t.Errorf("fifth stream err = %v, want ErrMemory", err)
	}

	r.Reset()
	checkPoolParity(t, p)
}

func TestNewStartAbandonsInProgress(t *testing.T) {
	r, p := newTestReassembler(t, 8)
	now := clock.MonotonicFromMicros(1000)

	first := splitFrames(t, 0, sequentialPayload(20))
	second := splitFrames(t, 1, sequentialPayload(10))

	r.Accept(&first[0], testSignature, now)
	tr, n, err := feed(r, second, now)
	if err != nil || n != 1 {
		t.Fatalf("second transfer: delivered %d err %v", n, err)
	}
	if tr.TransferID != 1 {
		t.Errorf("delivered tid %d, want 1", tr.TransferID)
	}
	checkPoolParity(t, p)
}

func TestStaleStartKeepsTransferInProgress(t *testing.T) {
	tests := []struct {
		name    string
		staleID TransferID
		wantErr error
	}{
		{"repeated start", 5, ErrDuplicate},
		{"older start", 3, ErrOutOfOrder},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, p := newTestReassembler(t, 8)
			now := clock.MonotonicFromMicros(1000)

			if _, n, err := feed(r, splitFrames(t, 5, sequentialPayload(20)), now); err != nil || n != 1 {
				t.Fatalf("transfer 5: delivered %d err %v", n, err)
			}

			payload := sequentialPayload(20)
			next := splitFrames(t, 6, payload)
			if _, _, err := r.Accept(&next[0], testSignature, now); err != nil {
				t.Fatalf("start of transfer 6: %v", err)
			}

			stale := splitFrames(t, tc.staleID, sequentialPayload(20))
			if _, ok, err := r.Accept(&stale[0], testSignature, now); ok || !errors.Is(err, tc.wantErr) {
				t.Errorf("stale start: ok = %v, err = %v, want %v", ok, err, tc.wantErr)
			}
			if !r.InProgress(testKey) {
				t.Fatal("transfer 6 no longer in progress")
			}

			tr, n, err := feed(r, next[1:], now)
			if err != nil || n != 1 {
				t.Fatalf("transfer 6: delivered %d err %v", n, err)
			}
			if tr.TransferID != 6 || !bytes.Equal(tr.Payload, payload) {
				t.Errorf("delivered tid %d payload %x, want 6 %x", tr.TransferID, tr.Payload, payload)
			}
			checkPoolParity(t, p)
		})
	}
}

func TestNewReassemblerRequiresAllocator(t *testing.T) {
	if _, err := NewReassembler(ReassemblerConfig{}); !errors.Is(err, status.ErrInvalidParam) {
		t.Errorf("err = %v, want ErrInvalidParam", err)
	}
}
