package bwe

import "math"

const (
	initialGammaUs = 12_500.0
	minGammaUs     = 6_000.0
	maxGammaUs     = 600_000.0
	maxAdaptDeltaUs = 15_000.0
	kUp            = 0.01
	kDown          = 0.00018
	overuseSustainUs = 10_000.0
)

// Usage is the three-way overuse/underuse/normal signal spec.md §4.7.1
// derives from the filtered delay estimate and the adaptive threshold.
type Usage int

const (
	Normal Usage = iota
	Overuse
	Underuse
)

// overuseDetector tracks the adaptive threshold gamma and the sustained
// overuse condition ("m_hat > gamma ... sustained for >= 10ms").
type overuseDetector struct {
	gamma        float64
	prevMHat     float64
	overuseSince int64 // accumulated overuse duration in µs; meaningful only while haveOveruse
	haveOveruse  bool
}

func newOveruseDetector() *overuseDetector {
	return &overuseDetector{gamma: initialGammaUs}
}

// Update feeds one filtered estimate (mHat) and the inter-arrival time of
// the sample that produced it (used both to step the adaptive threshold and
// to accumulate the 10ms sustain window), returning the usage signal.
func (d *overuseDetector) Update(mHat float64, interArrivalUs int64, elapsedSinceLastUs int64) Usage {
	delta := math.Abs(mHat) - d.gamma
	if math.Abs(delta) <= maxAdaptDeltaUs {
		k := kUp
		if delta < 0 {
			k = kDown
		}
		d.gamma += float64(interArrivalUs) * k * delta
		d.gamma = math.Max(minGammaUs, math.Min(maxGammaUs, d.gamma))
	}

	usage := Normal
	switch {
	case mHat > d.gamma:
		if mHat >= d.prevMHat {
			if d.haveOveruse {
				d.overuseSince += elapsedSinceLastUs
			} else {
				d.haveOveruse = true
				d.overuseSince = 0
			}
			if d.overuseSince >= overuseSustainUs {
				usage = Overuse
			}
		} else {
			d.haveOveruse = false
		}
	case mHat < -d.gamma:
		d.haveOveruse = false
		usage = Underuse
	default:
		d.haveOveruse = false
	}

	d.prevMHat = mHat
	return usage
}
