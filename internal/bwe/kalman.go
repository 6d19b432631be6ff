package bwe

import "math"

// Constants grounded on original_source/webrtc-bridge/src/interceptor/twcc/
// estimator/delay_based/{mod.rs,history.rs}, with q expressed directly in
// microseconds per spec.md §4.7.1's literal "process noise q = 10 ms".
const (
	burstTimeUs             = 5_000
	windowSize              = 100
	estimatorReactionTimeMs = 100.0
	processNoiseQUs         = 10_000.0
	initialSystemErrorCov   = 0.1
	chi                     = 0.01
)

// ArrivalTimeFilter is the Kalman filter over inter-group delay variation,
// per spec.md §4.7.1.
type ArrivalTimeFilter struct {
	mHat    float64 // estimated delay variation, us
	e       float64 // error covariance
	varVHat float64 // EWMA observation noise variance
}

// NewArrivalTimeFilter builds a filter at its initial state.
func NewArrivalTimeFilter() *ArrivalTimeFilter {
	return &ArrivalTimeFilter{e: initialSystemErrorCov}
}

// MHat returns the current delay-variation estimate in microseconds.
func (f *ArrivalTimeFilter) MHat() float64 { return f.mHat }

// Update feeds one inter-group delay sample through the filter.
// minSendIntervalUs is the running minimum inter-departure time over the
// trailing window, used to compute the EWMA decay factor alpha.
func (f *ArrivalTimeFilter) Update(intergroupDelayUs float64, minSendIntervalUs float64) {
	const q = processNoiseQUs
	z := intergroupDelayUs - f.mHat

	alpha := math.Pow(1-chi, 30*minSendIntervalUs/1e6)
	f.varVHat = math.Max(1, alpha*f.varVHat+(1-alpha)*z*z)

	k := (f.e + q) / (f.varVHat + f.e + q)
	f.e = (1 - k) * (f.e + q)
	f.mHat += k * z
}

// ascendingMinimaEntry is one slot of the monotonic deque.
type ascendingMinimaEntry struct {
	value float64
	index int
}

// AscendingMinima maintains the running minimum of a value over a trailing
// window of the last `size` samples using a monotonic deque, giving O(1)
// amortized push and O(1) minimum query. Grounded on
// original_source/.../delay_based/history.rs's min_send_interval tracker.
type AscendingMinima struct {
	size   int
	nextI  int
	deque  []ascendingMinimaEntry
}

// NewAscendingMinima builds a tracker over a trailing window of `size`
// samples.
func NewAscendingMinima(size int) *AscendingMinima {
	return &AscendingMinima{size: size}
}

// Push records a new sample and evicts entries that have fallen out of the
// trailing window or that the new sample makes irrelevant (anything >= the
// new value can never again be the minimum while the new value is in
// range).
func (a *AscendingMinima) Push(value float64) {
	i := a.nextI
	a.nextI++

	for len(a.deque) > 0 && a.deque[len(a.deque)-1].value >= value {
		a.deque = a.deque[:len(a.deque)-1]
	}
	a.deque = append(a.deque, ascendingMinimaEntry{value: value, index: i})

	for len(a.deque) > 0 && a.deque[0].index <= i-a.size {
		a.deque = a.deque[1:]
	}
}

// Min returns the minimum value currently in the trailing window, and false
// if no samples have been pushed yet.
func (a *AscendingMinima) Min() (float64, bool) {
	if len(a.deque) == 0 {
		return 0, false
	}
	return a.deque[0].value, true
}
