package rtpcodec

import "github.com/pion/rtp"

// H.265 NAL unit types relevant to parameter-set caching and aggregation,
// per RFC 7798.
const (
	h265VPS = 32
	h265SPS = 33
	h265PPS = 34
	h265AP  = 48
	h265FU  = 49
)

func h265NaluType(b0 byte) byte { return (b0 >> 1) & 0x3F }

// H265Packetizer mirrors H264Packetizer but caches VPS+SPS+PPS (three NALs,
// not two) before emitting parameter sets, completing the cache-and-emit
// model the original source left as todo!() for HEVC (see spec.md §9 and
// SPEC_FULL.md §C.1).
type H265Packetizer struct {
	mtu         int
	payloadType uint8
	ssrc        uint32
	seq         uint16
	vps, sps, pps []byte
}

// NewH265Packetizer builds a packetizer with the given MTU and outgoing RTP
// payload type / SSRC.
func NewH265Packetizer(mtu int, payloadType uint8, ssrc uint32) *H265Packetizer {
	return &H265Packetizer{mtu: mtu, payloadType: payloadType, ssrc: ssrc}
}

func (p *H265Packetizer) Packetize(accessUnit []byte, timestamp uint32) ([]*rtp.Packet, error) {
	nalus := splitAnnexB(accessUnit)
	var pkts []*rtp.Packet

	for i, nal := range nalus {
		if len(nal) < 2 {
			continue
		}
		naluType := h265NaluType(nal[0])
		switch naluType {
		case h265VPS:
			p.vps = append([]byte(nil), nal...)
			if p.sps != nil && p.pps != nil {
				pkts = append(pkts, p.emitParameterSets(timestamp)...)
			}
			continue
		case h265SPS:
			p.sps = append([]byte(nil), nal...)
			if p.vps != nil && p.pps != nil {
				pkts = append(pkts, p.emitParameterSets(timestamp)...)
			}
			continue
		case h265PPS:
			p.pps = append([]byte(nil), nal...)
			if p.vps != nil && p.sps != nil {
				pkts = append(pkts, p.emitParameterSets(timestamp)...)
			}
			continue
		}

		last := i == len(nalus)-1
		if len(nal) <= p.mtu {
			pkts = append(pkts, p.newPacket(nal, timestamp, last))
		} else {
			pkts = append(pkts, p.emitFragmented(nal, timestamp, last)...)
		}
	}
	return pkts, nil
}

func (p *H265Packetizer) emitParameterSets(timestamp uint32) []*rtp.Packet {
	vps, sps, pps := p.vps, p.sps, p.pps
	p.vps, p.sps, p.pps = nil, nil, nil

	needed := 2 /*AP header*/ + (2+len(vps))*3 // rough upper bound check below
	_ = needed
	apHeaderSize := 2
	total := apHeaderSize + 2 + len(vps) + 2 + len(sps) + 2 + len(pps)
	if total <= p.mtu {
		payload := make([]byte, 0, total)
		payload = append(payload, apHeader()...)
		payload = appendLenPrefixed(payload, vps)
		payload = appendLenPrefixed(payload, sps)
		payload = appendLenPrefixed(payload, pps)
		return []*rtp.Packet{p.newPacket(payload, timestamp, false)}
	}

	var pkts []*rtp.Packet
	for _, nal := range [][]byte{vps, sps, pps} {
		if len(nal) <= p.mtu {
			pkts = append(pkts, p.newPacket(nal, timestamp, false))
		} else {
			pkts = append(pkts, p.emitFragmented(nal, timestamp, false)...)
		}
	}
	return pkts
}

// apHeader builds the 2-byte NAL header for an Aggregation Packet: type=48,
// layer id 0, TID 1.
func apHeader() []byte {
	b0 := byte(h265AP << 1)
	b1 := byte(1)
	return []byte{b0, b1}
}

func (p *H265Packetizer) emitFragmented(nal []byte, timestamp uint32, last bool) []*rtp.Packet {
	naluType := h265NaluType(nal[0])
	layerTID := nal[1]
	data := nal[2:]

	fragSize := p.mtu - 3
	var pkts []*rtp.Packet
	for off := 0; off < len(data); off += fragSize {
		end := off + fragSize
		if end > len(data) {
			end = len(data)
		}
		isFirst := off == 0
		isLast := end == len(data)

		fuHeader := naluType
		if isFirst {
			fuHeader |= 0x80
		}
		if isLast {
			fuHeader |= 0x40
		}

		payload := make([]byte, 0, 3+(end-off))
		payload = append(payload, byte(h265FU<<1), layerTID, fuHeader)
		payload = append(payload, data[off:end]...)

		marker := isLast && last
		pkts = append(pkts, p.newPacket(payload, timestamp, marker))
	}
	return pkts
}

func (p *H265Packetizer) newPacket(payload []byte, timestamp uint32, marker bool) *rtp.Packet {
	p.seq++
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    p.payloadType,
			SequenceNumber: p.seq,
			Timestamp:      timestamp,
			SSRC:           p.ssrc,
		},
		Payload: payload,
	}
}

// H265Depacketizer reassembles Annex-B access units from H.265 RTP
// payloads.
type H265Depacketizer struct {
	out      []byte
	w        int
	fuActive bool
}

func WrapH265(out []byte) *H265Depacketizer {
	return &H265Depacketizer{out: out}
}

func (d *H265Depacketizer) Bytes() []byte { return d.out[:d.w] }

func (d *H265Depacketizer) Finish() int {
	n := d.w
	d.w = 0
	d.fuActive = false
	return n
}

func (d *H265Depacketizer) write(b []byte) error {
	if d.w+len(b) > len(d.out) {
		return ErrOutputBufferFull
	}
	copy(d.out[d.w:], b)
	d.w += len(b)
	return nil
}

func (d *H265Depacketizer) Push(payload []byte) error {
	if len(payload) < 2 {
		return ErrPayloadTooShort
	}
	naluType := h265NaluType(payload[0])

	switch naluType {
	case h265AP:
		return d.pushAP(payload)
	case h265FU:
		return d.pushFU(payload)
	default:
		if err := d.write(startCode); err != nil {
			return err
		}
		return d.write(payload)
	}
}

func (d *H265Depacketizer) pushAP(payload []byte) error {
	buf := payload[2:]
	for len(buf) > 0 {
		if len(buf) < 2 {
			return ErrPayloadTooShort
		}
		size := int(buf[0])<<8 | int(buf[1])
		buf = buf[2:]
		if len(buf) < size {
			return ErrPayloadTooShort
		}
		nal := buf[:size]
		buf = buf[size:]
		if err := d.write(startCode); err != nil {
			return err
		}
		if err := d.write(nal); err != nil {
			return err
		}
	}
	return nil
}

func (d *H265Depacketizer) pushFU(payload []byte) error {
	if len(payload) < 3 {
		return ErrPayloadTooShort
	}
	layerTID := payload[1]
	fuHeader := payload[2]
	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	fuType := fuHeader & 0x3F
	frag := payload[3:]

	if start {
		header0 := byte(fuType << 1)
		if err := d.write(startCode); err != nil {
			return err
		}
		if err := d.write([]byte{header0, layerTID}); err != nil {
			return err
		}
		d.fuActive = true
	} else if !d.fuActive {
		return ErrMissedAggregateStart
	}

	if err := d.write(frag); err != nil {
		return err
	}
	if end {
		d.fuActive = false
	}
	return nil
}
