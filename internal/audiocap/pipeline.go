package audiocap

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/lanternops/streamhost/internal/conveyor"
)

// slot is one conveyor frame slot for the audio lane (spec.md §3's "frame
// slot (audio or video)": raw bytes for audio).
type slot struct {
	pcm       []byte
	numFrames int
	flags     uint32
	timestamp uint64
}

// Pipeline is the audio capture + Opus encode pipeline of spec.md §4.4,
// the same input-thread/output-thread split as internal/videoenc.Pipeline
// but with PCM byte slices instead of GPU texture handles in each slot.
type Pipeline struct {
	cap Capturer
	enc *Encoder

	writer *conveyor.Writer[slot]
	reader *conveyor.Reader[slot]

	log *slog.Logger
}

// OpenPipeline wires a Capturer and Encoder together through an n-slot
// conveyor; n must be a power of two.
func OpenPipeline(cap Capturer, enc *Encoder, n int, log *slog.Logger) (*Pipeline, error) {
	if n <= 0 || n&(n-1) != 0 {
		return nil, fmt.Errorf("audiocap: slot count must be a power of two, got %d", n)
	}
	if log == nil {
		log = slog.Default()
	}
	slots := make([]slot, n)
	for i := range slots {
		slots[i].pcm = make([]byte, 0, 4096)
	}
	writer, reader := conveyor.New(slots)
	return &Pipeline{cap: cap, enc: enc, writer: writer, reader: reader, log: log}, nil
}

// Close shuts the capturer and encoder down.
func (p *Pipeline) Close() error {
	capErr := p.cap.Close()
	encErr := p.enc.Close()
	if capErr != nil {
		return capErr
	}
	return encErr
}

// RunInputOnce captures one block (100ms poll per spec.md §4.4) and
// publishes it into the conveyor's input half.
func (p *Pipeline) RunInputOnce(stopped func() bool) error {
	block, err := p.cap.Next(100)
	if err != nil {
		return err
	}
	if block.NumFrames == 0 {
		return nil // routine poll timeout, not an error
	}

	spin := func() {
		if !stopped() {
			runtime.Gosched()
		}
	}
	p.writer.Write(spin, func(_ int, s *slot) {
		s.pcm = append(s.pcm[:0], block.RawPCM...)
		s.numFrames = block.NumFrames
		s.flags = block.Flags
		s.timestamp = block.Timestamp
	})
	return nil
}

// ConsumeOutput drains one captured block from the conveyor's output half,
// Opus-encodes it, and hands the packet to consume. Silent blocks (no
// audio this tick) are encoded too, since Opus itself tracks DTX/CNG state
// across frames.
func (p *Pipeline) ConsumeOutput(stopped func() bool, consume func(packet []byte, timestamp uint64) error) error {
	spin := func() {
		if !stopped() {
			runtime.Gosched()
		}
	}

	var outerErr error
	p.reader.Read(spin, func(_ int, s *slot) {
		packet, err := p.enc.EncodeBlock(s.pcm, s.numFrames)
		if err != nil {
			outerErr = fmt.Errorf("audiocap: encode block: %w", err)
			return
		}
		if cerr := consume(packet, s.timestamp); cerr != nil {
			p.log.Warn("consume_output failed", "error", cerr)
		}
	})
	return outerErr
}
