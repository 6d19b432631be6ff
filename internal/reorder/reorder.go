// Package reorder implements an in-order delivery buffer in front of an RTP
// source, tolerating a bounded window of out-of-order arrival.
//
// Grounded on original_source/webrtc-bridge/src/network/reorder_buffer.rs
// (and its near-identical twin under util/), reworked into idiomatic Go:
// the Rust BTreeMap keyed by a custom Ord is replaced by a plain map plus a
// linear scan for the minimum buffered sequence number, which is simpler and
// just as fast given max_unordered is always small (low hundreds at most).
package reorder

import (
	"errors"
	"fmt"
	"time"

	"github.com/lanternops/streamhost/internal/rfc1982"
)

var (
	// ErrReadTimeout is returned when the underlying source produced no
	// packet within the configured read timeout.
	ErrReadTimeout = errors.New("reorder: read timeout")
	// ErrUnorderablePacket is returned for a packet whose sequence number is
	// older than what the caller has already consumed.
	ErrUnorderablePacket = errors.New("reorder: unorderable packet")
	// ErrBufferFull is returned when a swap's distance exceeds max_unordered;
	// expected_seq_num has already been advanced to the buffered minimum so
	// the caller can resume by calling Recv again.
	ErrBufferFull = errors.New("reorder: buffer full")
)

// ReadError wraps an error returned by the underlying Source.
type ReadError struct{ Err error }

func (e *ReadError) Error() string { return fmt.Sprintf("reorder: read error: %v", e.Err) }
func (e *ReadError) Unwrap() error { return e.Err }

// Packet is the minimal shape this package needs from an RTP packet.
type Packet struct {
	SequenceNumber uint16
	Timestamp      uint32
	Payload        []byte
}

// Source is the underlying RTP reader the buffer pulls from. Timeout
// expiring with no packet available must return (Packet{}, true, nil);
// a hard read failure returns a non-nil err.
type Source interface {
	ReadRTP(timeout time.Duration) (pkt Packet, timedOut bool, err error)
}

// Config configures a Buffer. InitialSeqNum, if non-nil, seeds
// expected_seq_num; otherwise it is taken from the first packet received.
type Config struct {
	InitialSeqNum *uint16
	ReadTimeout   time.Duration
	MaxUnordered  int
}

// Buffer wraps a Source, delivering packets to Recv in sequence-number
// order.
type Buffer struct {
	src      Source
	cfg      Config
	expected uint16
	primed   bool
	buffered map[uint16]Packet
}

// New constructs a Buffer over src.
func New(src Source, cfg Config) *Buffer {
	b := &Buffer{
		src:      src,
		cfg:      cfg,
		buffered: make(map[uint16]Packet),
	}
	if cfg.InitialSeqNum != nil {
		b.expected = *cfg.InitialSeqNum
		b.primed = true
	}
	return b
}

// Len reports the number of packets currently buffered out of order.
func (b *Buffer) Len() int { return len(b.buffered) }

// Recv returns the next in-order (payload, rtp timestamp), per spec.md §4.6.
func (b *Buffer) Recv() ([]byte, uint32, error) {
	if b.primed {
		if pkt, ok := b.popExpected(); ok {
			return pkt.Payload, pkt.Timestamp, nil
		}
	}

	pkt, timedOut, err := b.src.ReadRTP(b.cfg.ReadTimeout)
	if err != nil {
		return nil, 0, &ReadError{Err: err}
	}
	if timedOut {
		return nil, 0, ErrReadTimeout
	}

	if !b.primed {
		b.expected = pkt.SequenceNumber
		b.primed = true
	}

	seq := pkt.SequenceNumber
	if rfc1982.SeqLess(seq, b.expected) {
		return nil, 0, ErrUnorderablePacket
	}
	if seq == b.expected && len(b.buffered) == 0 {
		b.expected++
		return pkt.Payload, pkt.Timestamp, nil
	}

	b.buffered[seq] = pkt // duplicates overwrite

	if len(b.buffered) > b.cfg.MaxUnordered {
		min, ok := b.minBuffered()
		if ok {
			b.expected = min
		}
		return nil, 0, ErrBufferFull
	}

	if out, ok := b.popExpected(); ok {
		return out.Payload, out.Timestamp, nil
	}
	// Nothing ready yet; recurse to pull another packet from the source.
	return b.Recv()
}

func (b *Buffer) popExpected() (Packet, bool) {
	pkt, ok := b.buffered[b.expected]
	if !ok {
		return Packet{}, false
	}
	delete(b.buffered, b.expected)
	b.expected++
	return pkt, true
}

// minBuffered returns the buffered sequence number with the smallest
// rfc1982 distance ahead of b.expected.
func (b *Buffer) minBuffered() (uint16, bool) {
	var (
		best    uint16
		bestD   int32 = 1<<31 - 1
		anySeen bool
	)
	for seq := range b.buffered {
		d := rfc1982.SeqDistance(b.expected, seq)
		if d < 0 {
			continue
		}
		if !anySeen || d < bestD {
			best, bestD, anySeen = seq, d, true
		}
	}
	return best, anySeen
}
