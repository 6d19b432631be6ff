package bwe

import "math"

const (
	receivedBandwidthWindow = 100 // groups, per spec.md §4.7.1's "100-group window"
	incomingEstimatorAlpha  = 0.05
	minIncreaseBytesPerSec  = 125.0
)

// windowSample is one group's contribution to the received-bandwidth
// window: its arrival time and the bytes it carried.
type windowSample struct {
	arrivalUs uint64
	size      int
}

// incomingBitrateEstimator is the EWMA mean/variance tracker spec.md
// §4.7.1 uses to decide whether the delay-based estimate has "converged":
// a new sample more than 3 standard deviations from the running mean resets
// the estimator and marks it not-converged.
type incomingBitrateEstimator struct {
	initialized bool
	mean        float64
	variance    float64
	converged   bool
}

func (e *incomingBitrateEstimator) Update(sampleBytesPerSec float64) {
	if !e.initialized {
		e.mean = sampleBytesPerSec
		e.variance = 0
		e.initialized = true
		e.converged = false
		return
	}
	diff := sampleBytesPerSec - e.mean
	std := math.Sqrt(e.variance)
	if std > 0 && math.Abs(diff) > 3*std {
		e.mean = sampleBytesPerSec
		e.variance = 0
		e.converged = false
		return
	}
	e.mean += incomingEstimatorAlpha * diff
	e.variance = (1 - incomingEstimatorAlpha) * (e.variance + incomingEstimatorAlpha*diff*diff)
	e.converged = true
}

// DelayBasedEstimator is the delay side of the TWCC congestion controller,
// per spec.md §4.7.1: an arrival-time Kalman filter feeding an adaptive
// overuse/underuse threshold, which in turn drives an additive/
// multiplicative/backoff rate adjustment.
type DelayBasedEstimator struct {
	grouper     packetGrouper
	filter      *ArrivalTimeFilter
	minInterval *AscendingMinima
	detector    *overuseDetector
	incoming    incomingBitrateEstimator

	rate           float64 // bytes_per_sec
	window         []windowSample
	windowHead     int
	haveLastUpdate bool
	lastUpdateUs   uint64
}

// NewDelayBasedEstimator builds an estimator starting at the given rate.
func NewDelayBasedEstimator(initialBytesPerSec float64) *DelayBasedEstimator {
	return &DelayBasedEstimator{
		filter:      NewArrivalTimeFilter(),
		minInterval: NewAscendingMinima(windowSize),
		detector:    newOveruseDetector(),
		rate:        initialBytesPerSec,
	}
}

// Rate returns the current delay-based rate estimate in bytes/sec.
func (e *DelayBasedEstimator) Rate() float64 { return e.rate }

// SetRate overwrites the estimator's rate, used to keep it in step with a
// combined estimate produced elsewhere (e.g. after a loss-based backoff).
func (e *DelayBasedEstimator) SetRate(bytesPerSec float64) { e.rate = bytesPerSec }

func (e *DelayBasedEstimator) pushWindow(s windowSample) {
	e.window = append(e.window, s)
	if len(e.window) > receivedBandwidthWindow {
		e.window = e.window[len(e.window)-receivedBandwidthWindow:]
	}
}

// receivedBandwidth computes total bytes received in the window divided by
// the window's arrival time span, per spec.md §4.7.1.
func (e *DelayBasedEstimator) receivedBandwidth() (float64, bool) {
	if len(e.window) < 2 {
		return 0, false
	}
	first, last := e.window[0], e.window[len(e.window)-1]
	spanUs := last.arrivalUs - first.arrivalUs
	if spanUs == 0 {
		return 0, false
	}
	total := 0
	for _, w := range e.window {
		total += w.size
	}
	return float64(total) / (float64(spanUs) / 1e6), true
}

// OnSample feeds one packet sample (already resolved against the send-info
// table) through the grouper. rttMs is the last known RTT, used for the
// additive-increase step size.
func (e *DelayBasedEstimator) OnSample(s PacketSample, rttMs float64) {
	e.pushWindow(windowSample{arrivalUs: s.ArrivalUs, size: s.Size})

	transition, closed := e.grouper.Feed(s)
	if !closed {
		return
	}

	e.minInterval.Push(float64(transition.interDepartureUs))
	minSendInterval, ok := e.minInterval.Min()
	if !ok {
		minSendInterval = float64(transition.interDepartureUs)
	}

	intergroupDelay := float64(transition.interArrivalUs - transition.interDepartureUs)
	e.filter.Update(intergroupDelay, minSendInterval)

	elapsedUs := transition.interArrivalUs
	if elapsedUs < 0 {
		elapsedUs = 0
	}
	usage := e.detector.Update(e.filter.MHat(), transition.interArrivalUs, elapsedUs)

	sampleRate := 0.0
	if transition.interArrivalUs > 0 {
		sampleRate = float64(transition.sizeBytes) / (float64(transition.interArrivalUs) / 1e6)
	}
	e.incoming.Update(sampleRate)

	deltaMs := float64(elapsedUs) / 1000.0
	avgPacketSize := 0.0
	if transition.sizeBytes > 0 {
		avgPacketSize = float64(transition.sizeBytes)
	}

	switch usage {
	case Overuse:
		rx, known := e.receivedBandwidth()
		if !known {
			rx = e.rate
		}
		e.rate = 0.85 * rx
	case Underuse:
		// hold current rate
	default: // Normal
		if e.incoming.converged {
			alpha := 0.5 * math.Min(1, deltaMs/(100+rttMs))
			e.rate += math.Max(minIncreaseBytesPerSec, alpha*avgPacketSize)
		} else {
			e.rate *= math.Pow(1.08, math.Min(1, deltaMs/1000.0))
		}
	}

	if rx, known := e.receivedBandwidth(); known {
		e.rate = math.Min(e.rate, 1.5*rx)
	}
}
