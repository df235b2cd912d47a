// Package native implements the cannelloni wire format from spec.md §4.1: a
// 5-byte header (version, op_code, seq_no, count) followed by a run of
// variable-length frames. Bit-exact with the existing cannelloni protocol.
package native

import (
	"encoding/binary"

	"github.com/kstaniek/cannelloni-tunnel/internal/can"
	"github.com/kstaniek/cannelloni-tunnel/internal/codec"
)

// Version is the only protocol version this core accepts.
const Version = 2

// OpCode values. Only DATA is handled by this core; anything else (e.g. a
// future control channel) is rejected with ErrWrongOpCode.
const (
	OpData = 0
)

// headerSize is version(1) + op_code(1) + seq_no(1) + count(2).
const headerSize = 5

// frameBaseSize is can_id(4) + len(1), the smallest a serialized frame can be.
const frameBaseSize = 5

// Codec is the native cannelloni codec. It holds no mutable state and is
// safe for concurrent use.
type Codec struct{}

var _ codec.Codec = Codec{}

func (Codec) HeaderSize() int   { return headerSize }
func (Codec) MinFrameSize() int { return frameBaseSize }

// frameWireSize returns the number of bytes f occupies on the wire.
func frameWireSize(f *can.Frame) int {
	n := frameBaseSize
	if f.IsFD() {
		n++ // flags byte
	}
	if !f.IsRTR() {
		n += int(f.EffectiveLen())
	}
	return n
}

// Parse decodes every frame in buf. On a truncated header or payload it
// returns the frames parsed so far plus codec.ErrTruncated; the partially
// read frame is released back to the allocator per spec.md §4.1.
func (Codec) Parse(buf []byte, a codec.Allocator) ([]*can.Frame, error) {
	if len(buf) < headerSize {
		return nil, codec.ErrTruncated
	}
	if buf[0] != Version {
		return nil, codec.ErrWrongVersion
	}
	if buf[1] != OpData {
		return nil, codec.ErrWrongOpCode
	}
	count := binary.BigEndian.Uint16(buf[3:5])
	if count == 0 {
		return nil, nil
	}

	out := make([]*can.Frame, 0, count)
	pos := headerSize
	for i := uint16(0); i < count; i++ {
		if pos+frameBaseSize > len(buf) {
			return out, codec.ErrTruncated
		}
		f, err := a.RequestNB()
		if err != nil {
			return out, codec.ErrAllocationFailed
		}

		canID := binary.BigEndian.Uint32(buf[pos : pos+4])
		rawLen := buf[pos+4]
		p := pos + 5

		isFD := rawLen&can.CANFDFrame != 0
		if isFD {
			if p+1 > len(buf) {
				a.Release(f)
				return out, codec.ErrTruncated
			}
		}
		var flags uint8
		if isFD {
			flags = buf[p]
			p++
		}

		eff := rawLen &^ can.CANFDFrame
		isRTR := canID&can.CAN_RTR_FLAG != 0
		dataLen := 0
		if !isRTR {
			dataLen = int(eff)
			if p+dataLen > len(buf) {
				a.Release(f)
				return out, codec.ErrTruncated
			}
		}

		f.CANID = canID
		f.Len = rawLen
		f.Flags = flags
		if dataLen > 0 {
			copy(f.Data[:dataLen], buf[p:p+dataLen])
		}
		p += dataLen

		out = append(out, f)
		pos = p
	}
	return out, nil
}

// Encode writes as many leading frames as fit whole into buf, then writes
// the header. overflowAt is the index of the first frame that did not fit,
// or -1 if every frame fit.
func (Codec) Encode(buf []byte, frames []*can.Frame, seq uint8) (int, int, error) {
	pos := headerSize
	overflowAt := -1
	for i, f := range frames {
		size := frameWireSize(f)
		if pos+size > len(buf) {
			overflowAt = i
			break
		}
		binary.BigEndian.PutUint32(buf[pos:pos+4], f.CANID)
		buf[pos+4] = f.Len
		p := pos + 5
		if f.IsFD() {
			buf[p] = f.Flags
			p++
		}
		if !f.IsRTR() {
			n := copy(buf[p:], f.Data[:f.EffectiveLen()])
			p += n
		}
		pos = p
	}
	encoded := len(frames)
	if overflowAt >= 0 {
		encoded = overflowAt
	}
	buf[0] = Version
	buf[1] = OpData
	buf[2] = seq
	binary.BigEndian.PutUint16(buf[3:5], uint16(encoded))
	return pos, overflowAt, nil
}
