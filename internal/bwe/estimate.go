package bwe

import (
	"math"
	"sync/atomic"
)

// Estimate is the watched bandwidth scalar of spec.md §3/§4.7.4: single
// writer (the Controller), many readers, latest-value-wins with a
// generation counter so readers can detect an update without a channel or
// any possibility of a slow reader blocking the writer.
type Estimate struct {
	bits atomic.Uint64
	gen  atomic.Uint64
}

// NewEstimate builds an Estimate seeded at the given bytes/sec.
func NewEstimate(initialBytesPerSec float64) *Estimate {
	e := &Estimate{}
	e.bits.Store(math.Float64bits(initialBytesPerSec))
	return e
}

// Store publishes a new bytes/sec value and bumps the generation counter.
func (e *Estimate) Store(bytesPerSec float64) {
	e.bits.Store(math.Float64bits(bytesPerSec))
	e.gen.Add(1)
}

// Load returns the latest bytes/sec value and the generation it was
// published at.
func (e *Estimate) Load() (bytesPerSec float64, generation uint64) {
	return math.Float64frombits(e.bits.Load()), e.gen.Load()
}

// BytesPerSec is a convenience accessor for readers that don't need to
// track the generation.
func (e *Estimate) BytesPerSec() float64 {
	v, _ := e.Load()
	return v
}
