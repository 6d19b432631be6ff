package bwe

import "testing"

func TestTimeWrapAround(t *testing.T) {
	const base = uint64(1_073_741_696_000)
	a := NewTime(base)
	b := NewTime(base + 64_000)
	c := NewTime(base + 704_000)

	if got := b.SubAssumingSmallDelta(a); got != 64_000 {
		t.Fatalf("b.Sub(a) = %d, want 64000", got)
	}
	if got := c.SubAssumingSmallDelta(b); got != 640_000 {
		t.Fatalf("c.Sub(b) = %d, want 640000", got)
	}
	if !a.Less(c) {
		t.Fatalf("expected a < c across the wraparound")
	}
}
