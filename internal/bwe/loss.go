package bwe

// LossBasedEstimator implements the loss-based side of the TWCC controller,
// per spec.md §4.7.2: a simple multiplicative response to the received/lost
// ratio observed in one feedback batch.
type LossBasedEstimator struct {
	rate float64 // bytes_per_sec
}

// NewLossBasedEstimator starts the estimator at the given initial rate.
func NewLossBasedEstimator(initialBytesPerSec float64) *LossBasedEstimator {
	return &LossBasedEstimator{rate: initialBytesPerSec}
}

// Rate returns the current loss-based rate estimate in bytes/sec.
func (e *LossBasedEstimator) Rate() float64 { return e.rate }

// SetRate overwrites the estimator's current rate; used to keep the
// loss-based side in step with a delay-based adjustment so the next batch's
// multiplicative/additive step is taken from the combined estimate rather
// than drifting from a stale loss-only rate.
func (e *LossBasedEstimator) SetRate(bytesPerSec float64) { e.rate = bytesPerSec }

// OnFeedbackBatch folds one TWCC feedback batch's received/lost counts into
// the estimator and returns the updated rate.
func (e *LossBasedEstimator) OnFeedbackBatch(received, lost int) float64 {
	total := received + lost
	if total == 0 {
		return e.rate
	}
	p := float64(lost) / float64(total)
	switch {
	case p < 0.02:
		e.rate *= 1.05
	case p > 0.10:
		e.rate *= 1 - 0.5*p
	}
	return e.rate
}
