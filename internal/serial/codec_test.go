package serial

import (
	"bytes"
	"testing"

	"github.com/kstaniek/cannelloni-tunnel/internal/can"
)

func f(id uint32, data ...byte) can.Frame {
	var fr can.Frame
	fr.CANID = (id & can.CAN_EFF_MASK) | can.CAN_EFF_FLAG
	fr.Len = uint8(len(data))
	copy(fr.Data[:], data)
	return fr
}

func fdFrame(id uint32, flags uint8, data ...byte) can.Frame {
	var fr can.Frame
	fr.CANID = (id & can.CAN_EFF_MASK) | can.CAN_EFF_FLAG
	fr.Len = uint8(len(data)) | can.CANFDFrame
	fr.Flags = flags
	copy(fr.Data[:], data)
	return fr
}

func rtrFrame(id uint32) can.Frame {
	var fr can.Frame
	fr.CANID = (id & can.CAN_EFF_MASK) | can.CAN_EFF_FLAG | can.CAN_RTR_FLAG
	return fr
}

func TestSerialCodec_RoundTrip_Chunked(t *testing.T) {
	codec := Codec{}

	want := []can.Frame{
		f(0x0001E5A, 0x34, 0x7B, 0x70, 0xD7, 0x94, 0x10, 0x0D, 0xF7), // 8B classic
		f(0x0001F55, 0xA1, 0xB2, 0xC3, 0xD4, 0xE5, 0xF6),             // 6B classic
		f(0x0123456, 0x9A, 0xBC),                                     // 2B classic
		rtrFrame(0x0555),                                             // RTR, zero payload
		fdFrame(0x01ABCDE, 0x01, bytes.Repeat([]byte{0x5A}, 32)...),  // 32B FD
	}

	stream := make([]byte, 0, 512)
	for _, fr := range want {
		stream = append(stream, codec.Encode(fr)...)
	}

	var buf bytes.Buffer
	got := make([]can.Frame, 0, len(want))

	// Feed in irregular small chunks to stress preamble alignment & partials.
	chunkSizes := []int{1, 2, 3, 4, 5, 7, 11}
	cs := 0
	for pos := 0; pos < len(stream); {
		n := chunkSizes[cs%len(chunkSizes)]
		cs++
		if pos+n > len(stream) {
			n = len(stream) - pos
		}
		buf.Write(stream[pos : pos+n])
		pos += n

		if err := codec.DecodeStream(&buf, func(fr can.Frame) {
			got = append(got, fr.CopyShallow())
		}); err != nil {
			t.Fatalf("DecodeStream error: %v", err)
		}
	}

	if len(got) != len(want) {
		t.Fatalf("decoded %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].CANID != want[i].CANID ||
			got[i].Len != want[i].Len ||
			got[i].Flags != want[i].Flags ||
			string(got[i].Data[:got[i].EffectiveLen()]) != string(want[i].Data[:want[i].EffectiveLen()]) {
			t.Fatalf("frame %d mismatch\n got  id=0x%X len=%d flags=%d data=% X\n want id=0x%X len=%d flags=%d data=% X",
				i,
				got[i].CANID, got[i].Len, got[i].Flags, got[i].Data[:got[i].EffectiveLen()],
				want[i].CANID, want[i].Len, want[i].Flags, want[i].Data[:want[i].EffectiveLen()])
		}
	}
}
