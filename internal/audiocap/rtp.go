package audiocap

import "github.com/pion/rtp"

// Packetizer wraps one Opus packet per RTP packet, per spec.md §4.5's
// "Opus RTP payload per RFC 7587 (one Opus frame per RTP packet, 48 kHz
// clock, PT dynamic)".
type Packetizer struct {
	payloadType uint8
	ssrc        uint32
	seq         uint16
}

func NewPacketizer(payloadType uint8, ssrc uint32) *Packetizer {
	return &Packetizer{payloadType: payloadType, ssrc: ssrc}
}

// Packetize wraps one Opus packet at the given 48kHz timestamp.
func (p *Packetizer) Packetize(opusPacket []byte, timestamp uint32) *rtp.Packet {
	p.seq++
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         true,
			PayloadType:    p.payloadType,
			SequenceNumber: p.seq,
			Timestamp:      timestamp,
			SSRC:           p.ssrc,
		},
		Payload: opusPacket,
	}
}
