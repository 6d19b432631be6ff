package bwe

import (
	"github.com/pion/rtcp"
)

// ReceiveStatus is the per-packet status symbol carried in a TWCC packet
// chunk (draft-holmer-rmcat-transport-wide-cc-extensions-01 §3.1.3).
type ReceiveStatus int

const (
	StatusNotReceived ReceiveStatus = iota
	StatusReceivedSmallDelta
	StatusReceivedLargeDelta
	StatusReceivedWithoutDelta
)

// reportedPacket is one sequence number's reported status, before it has
// been resolved against the send-info table.
type reportedPacket struct {
	seq    uint16
	status ReceiveStatus
}

// expandStatuses walks a TransportLayerCC's run-length and status-vector
// chunks into one ReceiveStatus per reported sequence number, in order
// starting at BaseSequenceNumber. Grounded on the wire layout spec.md §6
// describes (draft-holmer-rmcat-transport-wide-cc-extensions-01).
func expandStatuses(cc *rtcp.TransportLayerCC) []reportedPacket {
	out := make([]reportedPacket, 0, cc.PacketStatusCount)
	seq := cc.BaseSequenceNumber

	appendN := func(status ReceiveStatus, n int) {
		for i := 0; i < n && len(out) < int(cc.PacketStatusCount); i++ {
			out = append(out, reportedPacket{seq: seq, status: status})
			seq++
		}
	}

	for _, chunk := range cc.PacketChunks {
		switch c := chunk.(type) {
		case *rtcp.RunLengthChunk:
			appendN(ReceiveStatus(c.PacketStatusSymbol), int(c.RunLength))
		case *rtcp.StatusVectorChunk:
			for _, sym := range c.SymbolList {
				if len(out) >= int(cc.PacketStatusCount) {
					break
				}
				appendN(ReceiveStatus(sym), 1)
			}
		}
	}
	return out
}

// resolveArrivals walks the ordered RecvDelta list (one entry per packet
// reported as received, small- or large-delta, in sequence order) and pairs
// each with its reportedPacket, accumulating the running arrival clock from
// the feedback's 24-bit reference time.
func resolveArrivals(cc *rtcp.TransportLayerCC) []PacketSample {
	statuses := expandStatuses(cc)
	refTime := FromWireReferenceTime(cc.ReferenceTime)
	arrival := refTime

	samples := make([]PacketSample, 0, len(statuses))
	deltaIdx := 0
	for _, rp := range statuses {
		if rp.status == StatusNotReceived || rp.status == StatusReceivedWithoutDelta {
			continue
		}
		if deltaIdx >= len(cc.RecvDeltas) {
			break
		}
		d := cc.RecvDeltas[deltaIdx]
		deltaIdx++
		arrival = arrival.Add(d.Delta)
		samples = append(samples, PacketSample{
			Seq:       rp.seq,
			ArrivalUs: arrival.Micros(),
		})
	}
	return samples
}

// FeedbackCounts summarizes the received/lost split of one TWCC feedback
// batch for the loss-based estimator (spec.md §4.7.2).
type FeedbackCounts struct {
	Received int
	Lost     int
}

func countStatuses(cc *rtcp.TransportLayerCC) FeedbackCounts {
	var fc FeedbackCounts
	for _, rp := range expandStatuses(cc) {
		if rp.status == StatusNotReceived {
			fc.Lost++
		} else {
			fc.Received++
		}
	}
	return fc
}
