// Package bwe implements the WebRTC congestion-control core of spec.md
// §4.7: a TWCC-based delay estimator (arrival-time Kalman filter over
// packet groups) combined with a loss-based estimator, producing one
// bandwidth estimate consumed by the video encoder.
package bwe

import (
	"math"

	"github.com/pion/rtcp"
)

const (
	minBitrateBytesPerSec = 10_000 / 8.0       // spec.md §4.3.5's library-suggested floor, 10kbps
	maxBitrateBytesPerSec = 100_000_000 / 8.0  // and ceiling, 100Mbps
	defaultInitialBps     = 2_500_000 / 8.0
)

// KeyframeRequest is forwarded to the video encoder's input half on receipt
// of a PictureLossIndication or FullIntraRequest, per spec.md §4.3.6.
type KeyframeRequest struct {
	MediaSSRC uint32
}

// Controller is the TWCC congestion controller of spec.md §4.7: it
// consumes RTCP packets (TransportLayerCC feedback, Receiver Reports, PLI,
// FIR) for one outgoing RTP stream and publishes a combined bandwidth
// estimate.
type Controller struct {
	sendInfo *SendInfoTable
	delay    *DelayBasedEstimator
	loss     *LossBasedEstimator
	estimate *Estimate

	rttMs  float64
	nowNTP uint32

	keyframeRequests chan KeyframeRequest
}

// NewController builds a Controller over the given send-info table (shared
// with the RTP sender that records departure times/sizes), seeded at
// initialBps bytes/sec. keyframeBuf sizes the bounded PLI/FIR channel.
func NewController(sendInfo *SendInfoTable, initialBps float64, keyframeBuf int) *Controller {
	if initialBps <= 0 {
		initialBps = defaultInitialBps
	}
	return &Controller{
		sendInfo:         sendInfo,
		delay:            NewDelayBasedEstimator(initialBps),
		loss:             NewLossBasedEstimator(initialBps),
		estimate:         NewEstimate(initialBps),
		rttMs:            100,
		keyframeRequests: make(chan KeyframeRequest, keyframeBuf),
	}
}

// Estimate returns the watched bandwidth-estimate scalar readers observe.
func (c *Controller) Estimate() *Estimate { return c.estimate }

// KeyframeRequests returns the channel the input half of the video encoder
// reads PLI/FIR notifications from.
func (c *Controller) KeyframeRequests() <-chan KeyframeRequest { return c.keyframeRequests }

// OnRTCP processes one batch of RTCP packets read from the peer connection,
// updating the estimate and/or forwarding keyframe requests. Never blocks:
// if the keyframe-request channel is full, the request is dropped (a
// following PLI will usually arrive soon after).
func (c *Controller) OnRTCP(packets []rtcp.Packet) {
	for _, pkt := range packets {
		switch p := pkt.(type) {
		case *rtcp.TransportLayerCC:
			c.onTransportCC(p)
		case *rtcp.ReceiverReport:
			c.onReceiverReport(p)
		case *rtcp.PictureLossIndication:
			c.requestKeyframe(p.MediaSSRC)
		case *rtcp.FullIntraRequest:
			c.requestKeyframe(p.MediaSSRC)
		}
	}
}

func (c *Controller) requestKeyframe(ssrc uint32) {
	select {
	case c.keyframeRequests <- KeyframeRequest{MediaSSRC: ssrc}:
	default:
	}
}

func (c *Controller) onReceiverReport(rr *rtcp.ReceiverReport) {
	if c.nowNTP == 0 || len(rr.Reports) == 0 {
		return
	}
	for _, report := range rr.Reports {
		if rttMs, ok := RTTFromReceiverReport(report, c.nowNTP); ok {
			c.rttMs = rttMs
			break
		}
	}
}

// SetNowNTP lets the caller (the session driving RTCP reads) supply the
// current time in NTP short-format (middle 32 bits of the 64-bit NTP
// timestamp) ahead of routing a batch through OnRTCP, since Receiver Report
// RTT (spec.md §4.7.3) needs a "now" pion's RTCP reader doesn't supply.
func (c *Controller) SetNowNTP(now uint32) { c.nowNTP = now }

func (c *Controller) onTransportCC(cc *rtcp.TransportLayerCC) {
	samples := resolveArrivals(cc)
	resolved := make([]PacketSample, 0, len(samples))
	for _, s := range samples {
		departureUs, size, ok := c.sendInfo.Lookup(s.Seq)
		if !ok {
			continue
		}
		s.DepartureUs = departureUs
		s.Size = size
		resolved = append(resolved, s)
	}

	for _, s := range resolved {
		c.delay.OnSample(s, c.rttMs)
	}

	counts := countStatuses(cc)
	lossRate := c.loss.OnFeedbackBatch(counts.Received, counts.Lost)

	combined := math.Min(c.delay.Rate(), lossRate)
	combined = clampBps(combined)

	c.delay.SetRate(combined)
	c.loss.SetRate(combined)
	c.estimate.Store(combined)
}

// UpdateRTT lets the owning session feed a freshly computed RTT (from a
// Receiver Report, spec.md §4.7.3) into the controller's additive-increase
// step size.
func (c *Controller) UpdateRTT(rttMs float64) {
	if rttMs < 0 {
		return
	}
	c.rttMs = rttMs
}

func clampBps(v float64) float64 {
	if v < minBitrateBytesPerSec {
		return minBitrateBytesPerSec
	}
	if v > maxBitrateBytesPerSec {
		return maxBitrateBytesPerSec
	}
	return v
}
