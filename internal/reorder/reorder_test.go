package reorder

import (
	"math/rand"
	"testing"
	"time"
)

type queueSource struct {
	pkts []Packet
	i    int
}

func (q *queueSource) ReadRTP(time.Duration) (Packet, bool, error) {
	if q.i >= len(q.pkts) {
		return Packet{}, true, nil
	}
	p := q.pkts[q.i]
	q.i++
	return p, false, nil
}

func seqPackets(start uint16, n int) []Packet {
	pkts := make([]Packet, n)
	for i := 0; i < n; i++ {
		seq := start + uint16(i)
		pkts[i] = Packet{SequenceNumber: seq, Timestamp: uint32(seq) * 3000, Payload: []byte{byte(seq), byte(seq >> 8)}}
	}
	return pkts
}

func TestInOrderInput(t *testing.T) {
	pkts := seqPackets(100, 50)
	src := &queueSource{pkts: pkts}
	buf := New(src, Config{MaxUnordered: 16, ReadTimeout: time.Second})

	for i, want := range pkts {
		payload, ts, err := buf.Recv()
		if err != nil {
			t.Fatalf("recv %d: %v", i, err)
		}
		if ts != want.Timestamp {
			t.Fatalf("recv %d: ts=%d want %d", i, ts, want.Timestamp)
		}
		_ = payload
	}
	if buf.Len() != 0 {
		t.Fatalf("map not empty: %d", buf.Len())
	}
}

func TestAdjacentSwapsFromIndexOne(t *testing.T) {
	pkts := seqPackets(0, 20)
	// swap (1,2), (3,4), (5,6) ...
	for i := 1; i+1 < len(pkts); i += 2 {
		pkts[i], pkts[i+1] = pkts[i+1], pkts[i]
	}
	src := &queueSource{pkts: pkts}
	buf := New(src, Config{MaxUnordered: 4, ReadTimeout: time.Second})

	for i := 0; i < len(pkts); i++ {
		_, ts, err := buf.Recv()
		if err != nil {
			t.Fatalf("recv %d: %v", i, err)
		}
		want := uint32(i) * 3000
		if ts != want {
			t.Fatalf("recv %d: ts=%d want %d", i, ts, want)
		}
		if buf.Len() > 1 {
			t.Fatalf("map size %d exceeds 1", buf.Len())
		}
	}
}

func TestRandomShuffleWithinWindow(t *testing.T) {
	const n = 200
	const window = 6
	pkts := seqPackets(1000, n)
	rng := rand.New(rand.NewSource(42))
	for i := 0; i+window <= len(pkts); i += window {
		rng.Shuffle(window, func(a, b int) {
			pkts[i+a], pkts[i+b] = pkts[i+b], pkts[i+a]
		})
	}

	src := &queueSource{pkts: pkts}
	first := uint16(1000)
	buf := New(src, Config{InitialSeqNum: &first, MaxUnordered: window, ReadTimeout: time.Second})

	for i := 0; i < n; i++ {
		_, ts, err := buf.Recv()
		if err != nil {
			t.Fatalf("recv %d: %v", i, err)
		}
		want := uint32(1000+i) * 3000
		if ts != want {
			t.Fatalf("recv %d: ts=%d want %d", i, ts, want)
		}
	}
}

func TestSwapBeyondMaxUnorderedReturnsBufferFull(t *testing.T) {
	pkts := seqPackets(0, 10)
	// seq 0 arrives last, after 1..9, distance 9 > maxUnordered 3
	reordered := append(append([]Packet{}, pkts[1:]...), pkts[0])
	src := &queueSource{pkts: reordered}
	first := uint16(0)
	buf := New(src, Config{InitialSeqNum: &first, MaxUnordered: 3, ReadTimeout: time.Second})

	var gotFull bool
	for i := 0; i < len(reordered); i++ {
		_, _, err := buf.Recv()
		if err == ErrBufferFull {
			gotFull = true
			break
		}
	}
	if !gotFull {
		t.Fatal("expected ErrBufferFull")
	}
}

func TestSeqBelowExpectedIsUnorderable(t *testing.T) {
	pkts := []Packet{
		{SequenceNumber: 5, Timestamp: 5},
		{SequenceNumber: 6, Timestamp: 6},
		{SequenceNumber: 3, Timestamp: 3}, // older than expected(7) after the first two
	}
	src := &queueSource{pkts: pkts}
	buf := New(src, Config{MaxUnordered: 8, ReadTimeout: time.Second})

	if _, _, err := buf.Recv(); err != nil {
		t.Fatalf("recv 0: %v", err)
	}
	if _, _, err := buf.Recv(); err != nil {
		t.Fatalf("recv 1: %v", err)
	}
	if _, _, err := buf.Recv(); err != ErrUnorderablePacket {
		t.Fatalf("recv 2: err=%v, want ErrUnorderablePacket", err)
	}
}
