package serial

import (
	"bytes"
	"testing"

	"github.com/kstaniek/cannelloni-tunnel/internal/can"
	"github.com/kstaniek/cannelloni-tunnel/internal/metrics"
)

// TestDecodeStreamMalformed ensures malformed length / checksum increment metric.
func TestDecodeStreamMalformed(t *testing.T) {
	var buf bytes.Buffer
	codec := Codec{}
	before := metrics.Snap().Malformed

	// Build a valid small frame then corrupt checksum.
	fr := f(0x1, 0xAA)
	frame := codec.Encode(fr)
	frame[len(frame)-1] ^= 0xFF // corrupt checksum
	buf.Write(frame)
	if err := codec.DecodeStream(&buf, func(_ can.Frame) {}); err != nil {
		t.Fatalf("DecodeStream error: %v", err)
	}
	after := metrics.Snap().Malformed
	if after <= before {
		t.Fatalf("expected malformed metric increment, before=%d after=%d", before, after)
	}
}
