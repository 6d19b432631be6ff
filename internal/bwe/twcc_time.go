package bwe

// Time represents a TWCC reference time: a 24-bit counter of 64 ms ticks in
// the wire format, expanded here into a microsecond value modulo
// domain = 2^24 * 64000 us. Grounded on original_source's
// webrtc-bridge/src/interceptor/twcc/time.rs.
type Time uint64

const (
	tickUs    = 64_000
	domainBig = uint64(1) << 24 * tickUs // 1,073,741,824,000
)

// NewTime wraps a raw microsecond value into the TWCC domain.
func NewTime(us uint64) Time {
	return Time(us % domainBig)
}

// FromWireReferenceTime reconstructs a Time from the 24-bit wire reference
// time field (already in 64ms units) found in a TWCC feedback packet.
func FromWireReferenceTime(ref24 uint32) Time {
	return Time((uint64(ref24) * tickUs) % domainBig)
}

// Add returns t shifted by deltaUs microseconds, wrapping within the domain.
// deltaUs may be negative.
func (t Time) Add(deltaUs int64) Time {
	v := int64(t) + deltaUs
	v %= int64(domainBig)
	if v < 0 {
		v += int64(domainBig)
	}
	return Time(v)
}

// SubAssumingSmallDelta computes t - other as a signed microsecond delta,
// choosing the short arc through the wraparound. Deltas larger than half the
// domain are assumed to be a wrap and are folded to their short-arc
// equivalent, per spec.md's RFC 1982 guidance applied to the 24-bit domain.
func (t Time) SubAssumingSmallDelta(other Time) int64 {
	d := int64(t) - int64(other)
	half := int64(domainBig / 2)
	switch {
	case d > half:
		d -= int64(domainBig)
	case d < -half:
		d += int64(domainBig)
	}
	return d
}

// Less orders two Times using the same short-arc convention as
// SubAssumingSmallDelta: t < other iff the short-arc delta (t - other) is
// negative.
func (t Time) Less(other Time) bool {
	return t.SubAssumingSmallDelta(other) < 0
}

// Micros returns the raw microsecond value in [0, domain).
func (t Time) Micros() uint64 {
	return uint64(t)
}
