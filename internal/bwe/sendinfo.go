package bwe

import "sync/atomic"

// sendInfoTableSize is chosen so wrap is impossible within an RTT, per
// spec.md §3 ("typical: 2^14 entries").
const sendInfoTableSize = 1 << 14

type sendInfoEntry struct {
	departureUs atomic.Uint64
	size        atomic.Uint64
}

// SendInfoTable records per-packet departure time and size at RTP egress,
// indexed by the low bits of the sequence number, and is read back when
// TWCC feedback arrives. Grounded on spec.md §3's "Send-info table".
type SendInfoTable struct {
	entries [sendInfoTableSize]sendInfoEntry
}

// NewSendInfoTable allocates an empty table.
func NewSendInfoTable() *SendInfoTable {
	return &SendInfoTable{}
}

// Record stores the departure time (microseconds since an arbitrary epoch)
// and size for a packet about to be sent with the given sequence number.
func (t *SendInfoTable) Record(seq uint16, departureUs uint64, size int) {
	e := &t.entries[seq&(sendInfoTableSize-1)]
	e.departureUs.Store(departureUs)
	e.size.Store(uint64(size))
}

// Lookup returns the recorded departure time and size for seq. ok is false
// only in the degenerate case that nothing was ever recorded at that slot
// (departure and size are both still zero).
func (t *SendInfoTable) Lookup(seq uint16) (departureUs uint64, size int, ok bool) {
	e := &t.entries[seq&(sendInfoTableSize-1)]
	d := e.departureUs.Load()
	s := e.size.Load()
	return d, int(s), d != 0 || s != 0
}
