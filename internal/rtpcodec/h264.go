// Package rtpcodec implements H.264 (RFC 6184) and H.265 (RFC 7798) RTP
// packetization and depacketization: FU-A/FU fragmentation, STAP-A/AP
// aggregation of parameter sets, and an in-order depacketizer.
//
// Grounded on original_source/webrtc-bridge/src/codecs/h264/{sample_sender,
// depacketizer}.rs, re-expressed against github.com/pion/rtp's Packet type
// instead of a bespoke RTP struct.
package rtpcodec

import (
	"github.com/pion/rtp"
)

const (
	naluTypeMask = 0x1F

	naluAUD    = 9
	naluFiller = 12
	naluSPS    = 7
	naluPPS    = 8
	naluSTAPA  = 24
	naluFUA    = 28

	stapAHeader = 0x78 // F=0, NRI=3, Type=24
)

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// H264Packetizer converts Annex-B access units into RTP packets, caching SPS
// and PPS until both are present before emitting parameter sets, as
// spec.md §4.5.1 describes.
type H264Packetizer struct {
	mtu        int
	payloadType uint8
	ssrc       uint32
	seq        uint16
	sps, pps   []byte
}

// NewH264Packetizer builds a packetizer with the given MTU (max RTP payload
// size) and outgoing RTP payload type / SSRC.
func NewH264Packetizer(mtu int, payloadType uint8, ssrc uint32) *H264Packetizer {
	return &H264Packetizer{mtu: mtu, payloadType: payloadType, ssrc: ssrc}
}

// Packetize splits one Annex-B access unit (starting with a 0x00000001 start
// code) into RTP packets carrying the given 90kHz timestamp.
func (p *H264Packetizer) Packetize(accessUnit []byte, timestamp uint32) ([]*rtp.Packet, error) {
	nalus := splitAnnexB(accessUnit)
	var pkts []*rtp.Packet

	for i, nal := range nalus {
		if len(nal) == 0 {
			continue
		}
		naluType := nal[0] & naluTypeMask
		switch naluType {
		case naluAUD, naluFiller:
			continue
		case naluSPS:
			p.sps = append([]byte(nil), nal...)
			if p.pps != nil {
				pkts = append(pkts, p.emitParameterSets(timestamp)...)
			}
			continue
		case naluPPS:
			p.pps = append([]byte(nil), nal...)
			if p.sps != nil {
				pkts = append(pkts, p.emitParameterSets(timestamp)...)
			}
			continue
		}

		last := i == len(nalus)-1
		if len(nal) <= p.mtu {
			pkts = append(pkts, p.emitSingle(nal, timestamp, last))
		} else {
			pkts = append(pkts, p.emitFragmented(nal, timestamp, last)...)
		}
	}
	return pkts, nil
}

func (p *H264Packetizer) emitParameterSets(timestamp uint32) []*rtp.Packet {
	sps, pps := p.sps, p.pps
	p.sps, p.pps = nil, nil

	needed := 2 + 2 + len(sps) + 2 + len(pps) + 1
	if needed <= p.mtu {
		payload := make([]byte, 0, needed-1)
		payload = append(payload, stapAHeader)
		payload = appendLenPrefixed(payload, sps)
		payload = appendLenPrefixed(payload, pps)
		return []*rtp.Packet{p.newPacket(payload, timestamp, false)}
	}

	var pkts []*rtp.Packet
	if len(sps) <= p.mtu {
		pkts = append(pkts, p.emitSingle(sps, timestamp, false))
	} else {
		pkts = append(pkts, p.emitFragmented(sps, timestamp, false)...)
	}
	if len(pps) <= p.mtu {
		pkts = append(pkts, p.emitSingle(pps, timestamp, false))
	} else {
		pkts = append(pkts, p.emitFragmented(pps, timestamp, false)...)
	}
	return pkts
}

func (p *H264Packetizer) emitSingle(nal []byte, timestamp uint32, marker bool) *rtp.Packet {
	return p.newPacket(nal, timestamp, marker)
}

func (p *H264Packetizer) emitFragmented(nal []byte, timestamp uint32, last bool) []*rtp.Packet {
	nri := nal[0] & 0x60
	naluType := nal[0] & naluTypeMask
	data := nal[1:]

	fragSize := p.mtu - 2
	var pkts []*rtp.Packet
	for off := 0; off < len(data); off += fragSize {
		end := off + fragSize
		if end > len(data) {
			end = len(data)
		}
		isFirst := off == 0
		isLast := end == len(data)

		indicator := nri | naluFUA
		header := naluType
		if isFirst {
			header |= 0x80
		}
		if isLast {
			header |= 0x40
		}

		payload := make([]byte, 0, 2+(end-off))
		payload = append(payload, indicator, header)
		payload = append(payload, data[off:end]...)

		marker := isLast && last
		pkts = append(pkts, p.newPacket(payload, timestamp, marker))
	}
	return pkts
}

func (p *H264Packetizer) newPacket(payload []byte, timestamp uint32, marker bool) *rtp.Packet {
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

// H264Depacketizer reassembles Annex-B access units from RTP payloads,
// writing start-coded NAL units into a caller-provided output buffer.
type H264Depacketizer struct {
	out      []byte
	w        int
	fuActive bool
	fuType   byte
}

// WrapH264 returns a depacketizer writing into out (not grown; returns
// ErrOutputBufferFull once exhausted).
func WrapH264(out []byte) *H264Depacketizer {
	return &H264Depacketizer{out: out}
}

// Bytes returns the portion of the output buffer written so far.
func (d *H264Depacketizer) Bytes() []byte { return d.out[:d.w] }

// Finish returns the number of bytes written and resets internal state for
// reuse of the same output buffer.
func (d *H264Depacketizer) Finish() int {
	n := d.w
	d.w = 0
	d.fuActive = false
	return n
}

func (d *H264Depacketizer) write(b []byte) error {
	if d.w+len(b) > len(d.out) {
		return ErrOutputBufferFull
	}
	copy(d.out[d.w:], b)
	d.w += len(b)
	return nil
}

// Push decodes one RTP payload, appending reconstructed NAL unit(s) (each
// preceded by a start code) to the output buffer.
func (d *H264Depacketizer) Push(payload []byte) error {
	if len(payload) == 0 {
		return ErrPayloadTooShort
	}
	naluType := payload[0] & naluTypeMask

	switch naluType {
	case naluSTAPA:
		return d.pushSTAPA(payload)
	case naluFUA:
		return d.pushFUA(payload)
	default:
		if err := d.write(startCode); err != nil {
			return err
		}
		return d.write(payload)
	}
}

func (d *H264Depacketizer) pushSTAPA(payload []byte) error {
	buf := payload[1:]
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

func (d *H264Depacketizer) pushFUA(payload []byte) error {
	if len(payload) < 2 {
		return ErrPayloadTooShort
	}
	indicator := payload[0]
	fuHeader := payload[1]
	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	fuType := fuHeader & naluTypeMask
	frag := payload[2:]

	if start {
		nri := indicator & 0x60
		header := nri | fuType
		if err := d.write(startCode); err != nil {
			return err
		}
		if err := d.write([]byte{header}); err != nil {
			return err
		}
		d.fuActive = true
		d.fuType = fuType
	} else {
		if !d.fuActive {
			return ErrMissedAggregateStart
		}
	}

	if err := d.write(frag); err != nil {
		return err
	}

	if end {
		d.fuActive = false
	}
	return nil
}

func splitAnnexB(b []byte) [][]byte {
	var nalus [][]byte
	starts := findStartCodes(b)
	for i, s := range starts {
		end := len(b)
		if i+1 < len(starts) {
			end = starts[i+1].offset
		}
		nalStart := s.offset + s.length
		if nalStart < end {
			nalus = append(nalus, b[nalStart:end])
		}
	}
	return nalus
}

type startCodeMatch struct {
	offset int
	length int
}

func findStartCodes(b []byte) []startCodeMatch {
	var matches []startCodeMatch
	for i := 0; i+2 < len(b); i++ {
		if b[i] == 0 && b[i+1] == 0 {
			if b[i+2] == 1 {
				matches = append(matches, startCodeMatch{offset: i, length: 3})
				i += 2
			} else if i+3 < len(b) && b[i+2] == 0 && b[i+3] == 1 {
				matches = append(matches, startCodeMatch{offset: i, length: 4})
				i += 3
			}
		}
	}
	return matches
}

func appendLenPrefixed(dst, data []byte) []byte {
	dst = append(dst, byte(len(data)>>8), byte(len(data)))
	return append(dst, data...)
}
