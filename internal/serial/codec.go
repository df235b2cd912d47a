package serial

import (
	"bytes"
	"encoding/binary"

	"github.com/kstaniek/cannelloni-tunnel/internal/can"
	"github.com/kstaniek/cannelloni-tunnel/internal/metrics"
)

// Codec frames one CAN/CAN-FD frame per UART message: a two-byte preamble,
// a length byte, the frame body, and a checksum. This differs from
// internal/codec's Native/Generic codecs, which frame a whole UDP datagram
// of many CAN frames at once — a UART dongle talks one frame per message,
// so this codec's unit of framing is a single can.Frame.
type Codec struct{}

const (
	preamble0 = 0x2D
	preamble1 = 0xD4
)

// frameBodyLen is CANID(4) + LEN(1), the part of the frame body present
// regardless of FD or payload length.
const frameBodyLen = 5

// CompactBuffer reclaims consumed prefix capacity when underlying buffer
// grows too large relative to unread bytes. It returns true if compaction
// occurred. Thresholds chosen to avoid excessive copying.
func CompactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	// If buffer size < 1KB, skip.
	if len(data) < 1024 {
		return false
	}
	// If unread < 25% of capacity, compact.
	if cap(data) > 0 && len(data)*4 < cap(data) {
		clone := make([]byte, len(data))
		copy(clone, data)
		b.Reset()
		_, _ = b.Write(clone)
		return true
	}
	return false
}

// encodeEnvelope wraps body in the preamble/length/checksum envelope the
// UART dongle expects: [0x2D, 0xD4, len+1, body..., checksum], checksum =
// (len+1) + 0x2D + sum(body) (mod 256).
func encodeEnvelope(body []byte) []byte {
	n := len(body)
	frame := make([]byte, n+4)

	frame[0] = preamble0
	frame[1] = preamble1
	frame[2] = byte(n + 1)

	sum := frame[2] + preamble0
	for i, b := range body {
		frame[3+i] = b
		sum += b
	}
	frame[3+n] = sum
	return frame
}

// Encode serializes f the same way internal/codec/native frames a single
// CAN frame: CANID(4, carrying EFF/RTR/ERR flag bits), LEN(1, DLC with the
// CANFDFrame bit), an optional FLAGS byte present only for FD frames, then
// the payload (omitted entirely for RTR frames).
func (Codec) Encode(f can.Frame) []byte {
	isFD := f.IsFD()
	isRTR := f.IsRTR()
	dataLen := 0
	if !isRTR {
		dataLen = int(f.EffectiveLen())
	}
	hdrLen := frameBodyLen
	if isFD {
		hdrLen++
	}
	body := make([]byte, hdrLen+dataLen)
	binary.BigEndian.PutUint32(body[0:4], f.CANID)
	body[4] = f.Len
	p := frameBodyLen
	if isFD {
		body[p] = f.Flags
		p++
	}
	if dataLen > 0 {
		copy(body[p:], f.Data[:dataLen])
	}
	return encodeEnvelope(body)
}

// DecodeStream reads from in and emits complete frames via out.
// It returns nil if no error occurred (including io.EOF).
//
// Example frame body (classic, DLC=2): ID(4) LEN(1) PAYLOAD(2)
// wrapped as: 2D D4 <len> <body...> <checksum>
func (Codec) DecodeStream(in *bytes.Buffer, out func(can.Frame)) error {
	const (
		// ln = bodyBytes + 1(checksum)
		// bodyBytes = CANID(4) + LEN(1) + FLAGS(0 or 1) + PAYLOAD(0..64)
		minLn = frameBodyLen + 1                    // classic RTR, zero payload
		maxLn = frameBodyLen + 1 + 1 + can.MaxDataLen // FD, full 64-byte payload
	)
	header := []byte{preamble0, preamble1}

	for {
		data := in.Bytes()
		// Periodically compact to avoid unbounded growth from misaligned garbage.
		_ = CompactBuffer(in)
		if len(data) < 3 { // need preamble + len
			return nil
		}

		// align to preamble
		i := bytes.Index(data, header)
		if i < 0 {
			// keep last byte in case next buffer starts with preamble second byte
			if in.Len() > 1 {
				last := data[len(data)-1]
				in.Reset()
				_ = in.WriteByte(last)
			}
			return nil
		}
		if i > 0 {
			in.Next(i)
			continue
		}

		// preamble at start; need length
		if len(data) < 4 {
			return nil
		}
		ln := int(data[2]) // includes (body bytes + 1 checksum)
		if ln < minLn || ln > maxLn {
			// malformed length; advance one byte to resync
			metrics.IncMalformed()
			in.Next(1)
			continue
		}

		req := 3 + ln // total bytes: 2 preamble + 1 len + ln
		if len(data) < req {
			return nil
		}

		// checksum: 0x2D + len + sum(body bytes)
		sum := uint(preamble0) + uint(data[2])
		for _, b := range data[3 : req-1] {
			sum += uint(b)
		}
		if byte(sum) != data[req-1] {
			// checksum mismatch: count and attempt resync
			metrics.IncMalformed()
			in.Next(1)
			continue
		}

		body := data[3 : req-1]
		canID := binary.BigEndian.Uint32(body[0:4])
		rawLen := body[4]
		p := frameBodyLen

		isFD := rawLen&can.CANFDFrame != 0
		var flags uint8
		if isFD {
			if len(body) < p+1 {
				metrics.IncMalformed()
				in.Next(1)
				continue
			}
			flags = body[p]
			p++
		}

		eff := rawLen &^ can.CANFDFrame
		isRTR := canID&can.CAN_RTR_FLAG != 0
		dataLen := 0
		if !isRTR {
			dataLen = int(eff)
		}
		if len(body) != p+dataLen {
			// length byte disagrees with the envelope length; resync
			metrics.IncMalformed()
			in.Next(1)
			continue
		}

		var f can.Frame
		f.CANID = canID
		f.Len = rawLen
		f.Flags = flags
		if dataLen > 0 {
			copy(f.Data[:], body[p:p+dataLen])
		}

		out(f)
		metrics.IncSerialRx()
		in.Next(req)
	}
}
