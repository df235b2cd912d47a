// Package generic implements the headerless, fixed-stride DTU wire format
// from spec.md §4.2: a concatenation of 5+max(len,8)-byte frames with no
// header and no sequence number.
package generic

import (
	"encoding/binary"

	"github.com/kstaniek/cannelloni-tunnel/internal/can"
	"github.com/kstaniek/cannelloni-tunnel/internal/codec"
)

// infoLenMask is the low nibble of the info byte (bits 0-3).
const (
	infoFFBit  = 1 << 7
	infoRTRBit = 1 << 6
	infoLenMask = 0x0F
)

// newInfo packs the Frame-Info byte: FF(bit7) | RTR(bit6) | 0 | 0 | len[3:0].
// Spec.md §9 calls for a named uint8 with accessor functions instead of a
// language bitfield/union, since the layout is part of the wire contract.
func newInfo(ff, rtr bool, length uint8) byte {
	var b byte
	if ff {
		b |= infoFFBit
	}
	if rtr {
		b |= infoRTRBit
	}
	b |= length & infoLenMask
	return b
}

func infoFF(b byte) bool   { return b&infoFFBit != 0 }
func infoRTR(b byte) bool  { return b&infoRTRBit != 0 }
func infoLen(b byte) uint8 { return b & infoLenMask }

// frameHeaderSize is info(1) + id(4).
const frameHeaderSize = 5

// Codec is the generic DTU codec. FilterRule replaces the original
// process-wide g_filter/g_canid/g_mask globals (spec.md §9): it is a plain
// field set at construction, consulted only on encode.
type Codec struct {
	Filter codec.FilterRule
}

var _ codec.Codec = Codec{}

func (Codec) HeaderSize() int { return 0 }

// MinFrameSize is the smallest stride: header(5) + the 8-byte data-length floor.
func (Codec) MinFrameSize() int { return frameHeaderSize + 8 }

// strideFor returns the number of bytes a frame of effective length n
// occupies; the data section never drops below 8 bytes.
func strideFor(n uint8) int {
	dataLen := int(n)
	if dataLen < 8 {
		dataLen = 8
	}
	return frameHeaderSize + dataLen
}

// Parse walks buf until exhausted. It does not check any version/op_code —
// the generic format is headerless by design (spec.md §9, Open Question b):
// any desync mid-datagram has no recovery within that datagram.
func (Codec) Parse(buf []byte, a codec.Allocator) ([]*can.Frame, error) {
	var out []*can.Frame
	pos := 0
	for pos < len(buf) {
		if pos+frameHeaderSize > len(buf) {
			return out, codec.ErrTruncated
		}
		info := buf[pos]
		length := infoLen(info)
		dataLen := int(length)
		stride := strideFor(length)
		if pos+stride > len(buf) {
			return out, codec.ErrTruncated
		}
		f, err := a.RequestNB()
		if err != nil {
			return out, codec.ErrAllocationFailed
		}
		id := binary.BigEndian.Uint32(buf[pos+1 : pos+5])
		if infoFF(info) {
			id |= can.CAN_EFF_FLAG
		}
		if infoRTR(info) {
			id |= can.CAN_RTR_FLAG
		}
		f.CANID = id
		f.Len = length
		copy(f.Data[:dataLen], buf[pos+frameHeaderSize:pos+frameHeaderSize+dataLen])
		out = append(out, f)
		pos += stride
	}
	return out, nil
}

// Encode writes as many leading frames as fit, consulting Filter before
// each write: non-matching frames are silently dropped (not counted toward
// overflow, not requeued) per spec.md §4.2.
// Encode's seq parameter is unused: the generic format carries no sequence
// number (spec.md §4.2).
func (c Codec) Encode(buf []byte, frames []*can.Frame, _ uint8) (int, int, error) {
	pos := 0
	overflowAt := -1
	for i, f := range frames {
		if !c.Filter.Match(f.ID()) {
			continue
		}
		eff := f.EffectiveLen()
		need := strideFor(eff)
		if pos+need > len(buf) {
			overflowAt = i
			break
		}
		buf[pos] = newInfo(f.IsExtended(), f.IsRTR(), eff)
		binary.BigEndian.PutUint32(buf[pos+1:pos+5], f.ID())
		dataLen := int(eff)
		if dataLen < 8 {
			dataLen = 8
		}
		for j := 0; j < dataLen; j++ {
			buf[pos+frameHeaderSize+j] = 0
		}
		copy(buf[pos+frameHeaderSize:], f.Data[:eff])
		pos += frameHeaderSize + dataLen
	}
	return pos, overflowAt, nil
}
