package rtpcodec

import (
	"bytes"
	"testing"
)

func h265Nal(naluType byte, payload ...byte) []byte {
	b0 := naluType << 1
	b1 := byte(1)
	return append([]byte{b0, b1}, payload...)
}

func TestH265RoundTripSmallFrame(t *testing.T) {
	vps := h265Nal(h265VPS, 1, 2)
	sps := h265Nal(h265SPS, 3, 4, 5)
	pps := h265Nal(h265PPS, 6)
	idr := h265Nal(19, byteSlice(200, 11)...)

	au := annexB(vps, sps, pps, idr)
	roundTripH265(t, au, 1188)
}

func TestH265RoundTripLargeFrameTriggersFU(t *testing.T) {
	vps := h265Nal(h265VPS, 1, 2)
	sps := h265Nal(h265SPS, 3, 4, 5)
	pps := h265Nal(h265PPS, 6)
	idr := h265Nal(19, byteSlice(5000, 13)...)

	au := annexB(vps, sps, pps, idr)
	roundTripH265(t, au, 1188)
}

func roundTripH265(t *testing.T, au []byte, mtu int) {
	t.Helper()
	pk := NewH265Packetizer(mtu, 97, 0xFEEDFACE)
	pkts, err := pk.Packetize(au, 2000)
	if err != nil {
		t.Fatalf("packetize: %v", err)
	}
	for _, p := range pkts {
		if len(p.Payload) > mtu {
			t.Fatalf("payload %d exceeds mtu %d", len(p.Payload), mtu)
		}
	}

	out := make([]byte, len(au)+4096)
	dp := WrapH265(out)
	for _, p := range pkts {
		if err := dp.Push(p.Payload); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	got := dp.Bytes()
	if !bytes.Equal(got, au) {
		t.Fatalf("round trip mismatch:\n got  %x\n want %x", got, au)
	}
}
