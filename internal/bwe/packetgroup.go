package bwe

// PacketSample is one TWCC-reported packet resolved against the send-info
// table: its departure time (written at RTP egress) and the arrival time
// reconstructed from the feedback's reference time plus delta chain.
type PacketSample struct {
	Seq         uint16
	DepartureUs uint64
	ArrivalUs   uint64
	Size        int
}

// group is one packet-group accumulation window, per spec.md §3/§4.7.1: a
// new group starts once the departure time or the arrival time measured
// from the current group's earliest packet leaves the 5ms burst window (an
// arrival earlier than the group's earliest also starts a new group).
type group struct {
	earliestDepartureUs uint64
	earliestArrivalUs   uint64
	arrivalUs           uint64 // arrival time of the last packet folded in
	sizeBytes           int
}

// packetGrouper folds an ordered stream of PacketSamples into packet groups
// and emits one (prevGroup, group) pair each time a group closes that has a
// predecessor, which is what the delay-based estimator consumes.
type packetGrouper struct {
	have    bool
	current group
	prev    group
	havePrev bool
}

// groupTransition is what the delay-based estimator needs about a completed
// group relative to its predecessor.
type groupTransition struct {
	interDepartureUs int64
	interArrivalUs   int64
	sizeBytes        int
}

// Feed folds one packet sample into the in-progress group, returning a
// groupTransition and true when folding the sample closes the in-progress
// group (i.e. this sample starts a new one) and that group has a
// predecessor; the first group to close only becomes the predecessor and
// yields false.
func (g *packetGrouper) Feed(s PacketSample) (groupTransition, bool) {
	if !g.have {
		g.current = group{
			earliestDepartureUs: s.DepartureUs,
			earliestArrivalUs:   s.ArrivalUs,
			arrivalUs:           s.ArrivalUs,
			sizeBytes:           s.Size,
		}
		g.have = true
		return groupTransition{}, false
	}

	// Reordered relative to the group's earliest departure: ignore per
	// spec.md §4.7.1 ("Ignore reordered packets").
	if s.DepartureUs < g.current.earliestDepartureUs {
		return groupTransition{}, false
	}

	departureSpan := s.DepartureUs - g.current.earliestDepartureUs
	arrivalSpan := int64(s.ArrivalUs) - int64(g.current.earliestArrivalUs)

	withinBurst := departureSpan <= burstTimeUs && arrivalSpan >= 0 && arrivalSpan <= burstTimeUs
	if withinBurst {
		g.current.sizeBytes += s.Size
		if s.ArrivalUs > g.current.arrivalUs {
			g.current.arrivalUs = s.ArrivalUs
		}
		return groupTransition{}, false
	}

	// Current group closes; this sample starts the next one.
	var (
		t  groupTransition
		ok bool
	)
	if g.havePrev {
		t = groupTransition{
			interDepartureUs: int64(g.current.earliestDepartureUs) - int64(g.prev.earliestDepartureUs),
			interArrivalUs:   int64(g.current.arrivalUs) - int64(g.prev.arrivalUs),
			sizeBytes:        g.current.sizeBytes,
		}
		ok = true
	}
	g.prev = g.current
	g.havePrev = true
	g.current = group{
		earliestDepartureUs: s.DepartureUs,
		earliestArrivalUs:   s.ArrivalUs,
		arrivalUs:           s.ArrivalUs,
		sizeBytes:           s.Size,
	}
	return t, ok
}
