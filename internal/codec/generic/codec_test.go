package generic

import (
	"bytes"
	"testing"

	"github.com/kstaniek/cannelloni-tunnel/internal/can"
	"github.com/kstaniek/cannelloni-tunnel/internal/codec"
)

type simpleAllocator struct{ released int }

func (a *simpleAllocator) RequestNB() (*can.Frame, error) { return &can.Frame{}, nil }
func (a *simpleAllocator) Release(*can.Frame)             { a.released++ }

func TestS7StdFrame(t *testing.T) {
	f := &can.Frame{CANID: 0x3FF, Len: 5}
	copy(f.Data[:5], []byte{1, 2, 3, 4, 5})
	buf := make([]byte, 64)
	c := Codec{}
	n, overflowAt, err := c.Encode(buf, []*can.Frame{f}, 0)
	if err != nil || overflowAt != -1 {
		t.Fatalf("Encode: n=%d overflowAt=%d err=%v", n, overflowAt, err)
	}
	want := []byte{0x05, 0x00, 0x00, 0x03, 0xFF, 0x01, 0x02, 0x03, 0x04, 0x05, 0x00, 0x00, 0x00}
	if !bytes.Equal(buf[:n], want) {
		t.Fatalf("encoded = % X, want % X", buf[:n], want)
	}
	a := &simpleAllocator{}
	frames, err := c.Parse(buf[:n], a)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(frames) != 1 || frames[0].CANID != 0x3FF || frames[0].Len != 5 {
		t.Fatalf("parsed mismatch: %+v", frames[0])
	}
}

func TestS8ExtFrame(t *testing.T) {
	f := &can.Frame{CANID: 0x12345678 | can.CAN_EFF_FLAG, Len: 8}
	copy(f.Data[:8], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	buf := make([]byte, 64)
	c := Codec{}
	n, _, err := c.Encode(buf, []*can.Frame{f}, 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{0x88, 0x12, 0x34, 0x56, 0x78, 1, 2, 3, 4, 5, 6, 7, 8}
	if !bytes.Equal(buf[:n], want) {
		t.Fatalf("encoded = % X, want % X", buf[:n], want)
	}
	a := &simpleAllocator{}
	frames, err := c.Parse(buf[:n], a)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !frames[0].IsExtended() || frames[0].ID() != 0x12345678 {
		t.Fatalf("parsed mismatch: %+v", frames[0])
	}
}

func TestFilterDropsSilently(t *testing.T) {
	matching := &can.Frame{CANID: 0x100, Len: 1}
	other := &can.Frame{CANID: 0x200, Len: 1}
	c := Codec{Filter: codec.FilterRule{ID: 0x100, Mask: 0x7FF}}
	buf := make([]byte, 64)
	n, overflowAt, err := c.Encode(buf, []*can.Frame{matching, other}, 0)
	if err != nil || overflowAt != -1 {
		t.Fatalf("Encode: n=%d overflowAt=%d err=%v", n, overflowAt, err)
	}
	a := &simpleAllocator{}
	frames, err := c.Parse(buf[:n], a)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(frames) != 1 || frames[0].CANID != 0x100 {
		t.Fatalf("filter did not drop non-matching frame: %+v", frames)
	}
}

func TestEmptyFilterMatchesEverything(t *testing.T) {
	r := codec.FilterRule{}
	if !r.Match(0x1234) {
		t.Fatalf("empty rule should match everything")
	}
}

func TestTruncatedTrailingFrame(t *testing.T) {
	f := &can.Frame{CANID: 1, Len: 8}
	copy(f.Data[:8], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	buf := make([]byte, 64)
	c := Codec{}
	n, _, _ := c.Encode(buf, []*can.Frame{f}, 0)
	partial := buf[:n+3] // dangling partial second frame header
	a := &simpleAllocator{}
	frames, err := c.Parse(partial, a)
	if err != codec.ErrTruncated {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 delivered frame, got %d", len(frames))
	}
}

func TestNewInfoAccessors(t *testing.T) {
	b := newInfo(true, false, 5)
	if !infoFF(b) || infoRTR(b) || infoLen(b) != 5 {
		t.Fatalf("info byte round trip failed: %#x", b)
	}
}
