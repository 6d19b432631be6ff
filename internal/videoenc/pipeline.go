package videoenc

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/lanternops/streamhost/internal/bwe"
	"github.com/lanternops/streamhost/internal/conveyor"
)

// CapturedFrame is what the input half needs from one captured frame,
// expressed without depending on internal/capture directly (spec.md §6
// treats the capture interface as an external collaborator; streamsession
// is what adapts a capture.AcquiredFrame into this shape).
type CapturedFrame struct {
	Timestamp uint64
	// CopyInto performs the GPU texture copy into the encoder's input-array
	// subresource at slotIndex (spec.md §4.3.3 step 3's
	// "device.copy_texture(encoder_input[i], captured_texture, i)").
	CopyInto func(slotIndex int) error
	// Release is the post_copy_op: releases the OS-level frame lock
	// immediately, without waiting for encoding (spec.md §4.3.3 step 3).
	Release func()
}

// Pipeline is the video encoder pipeline of spec.md §4.3: one encoder
// session split into an input half (owns the conveyor Writer) and an
// output half (owns the Reader), sharing the session and device context.
type Pipeline struct {
	enc   HardwareEncoder
	items []BufferItem

	writer *conveyor.Writer[BufferItem]
	reader *conveyor.Reader[BufferItem]

	config   EncodeConfig
	estimate *bwe.Estimate
	lastGen  uint64

	keyframeRequests <-chan bwe.KeyframeRequest
	forceIDR         atomic.Bool

	log *slog.Logger
}

// Open builds the encoder session, its input-texture array worth of
// BufferItems, and the conveyor splitting input/output halves, per spec.md
// §4.3.1-§4.3.2. n is the number of in-flight slots (the encoder's async
// depth) and must be a power of two (conveyor's contract).
func Open(params EncodeParams, n int, estimate *bwe.Estimate, keyframeRequests <-chan bwe.KeyframeRequest, log *slog.Logger) (*Pipeline, error) {
	if n <= 0 || n&(n-1) != 0 {
		return nil, fmt.Errorf("videoenc: slot count must be a power of two, got %d", n)
	}
	if log == nil {
		log = slog.Default()
	}

	enc, err := resolveHardware(params)
	if err != nil {
		return nil, err
	}

	items, err := buildBufferItems(enc, n)
	if err != nil {
		enc.Close()
		return nil, err
	}

	writer, reader := conveyor.New(items)

	return &Pipeline{
		enc:              enc,
		items:            items,
		writer:           writer,
		reader:           reader,
		config:           *params.Config,
		estimate:         estimate,
		keyframeRequests: keyframeRequests,
		log:              log,
	}, nil
}

// cpuInputBuffer is implemented by the software backend only: it exposes
// the plain byte buffer behind a registered slot so CapturedFrame.CopyInto
// can write pixels into it directly, with no device-side mapping step.
type cpuInputBuffer interface {
	Buffer(handle uintptr) []byte
}

// InputBuffer returns the raw pixel buffer behind slot index, for backends
// with no GPU-side resource (the software encoder). Returns ok=false for a
// hardware backend, where CapturedFrame.CopyInto must instead do a
// device-to-device texture copy using the backend's own API.
func (p *Pipeline) InputBuffer(index int) (buf []byte, ok bool) {
	cb, ok := p.enc.(cpuInputBuffer)
	if !ok {
		return nil, false
	}
	return cb.Buffer(p.items[index].Resource), true
}

// Close tears down the encoder session and every buffer item.
func (p *Pipeline) Close() error {
	for i := range p.items {
		cleanup(p.enc, &p.items[i])
	}
	return p.enc.Close()
}

// pollBitrate reads the latest bandwidth estimate and reconfigures the
// encoder if it changed since the last frame, per spec.md §4.3.3 step 1.
func (p *Pipeline) pollBitrate() {
	if p.estimate == nil {
		return
	}
	bps, gen := p.estimate.Load()
	if gen == p.lastGen {
		return
	}
	p.lastGen = gen
	p.config.AverageBitRate = ClampBitrate(int(bps * 8))
	if err := p.enc.Reconfigure(p.config); err != nil {
		p.log.Warn("bitrate reconfigure failed", "error", err)
	}
}

// pollKeyframeRequests drains pending PLI/FIR notifications without
// blocking, per spec.md §4.3.6: the input half sets a force-IDR flag
// consumed by the next EncodePicture call.
func (p *Pipeline) pollKeyframeRequests() {
	if p.keyframeRequests == nil {
		return
	}
	for {
		select {
		case <-p.keyframeRequests:
			p.forceIDR.Store(true)
		default:
			return
		}
	}
}

// RunInputOnce submits one captured frame through the input half, per
// spec.md §4.3.3: copy into the acquired slot (inside the writer critical
// section), then call EncodePicture outside it, once the slot is already
// published to the output half.
func (p *Pipeline) RunInputOnce(frame CapturedFrame, stopped func() bool) error {
	p.pollBitrate()
	p.pollKeyframeRequests()

	spin := func() {
		if !stopped() {
			runtime.Gosched()
		}
	}

	var (
		submitErr error
		slotIndex int
	)
	p.writer.Write(spin, func(index int, slot *BufferItem) {
		slotIndex = index
		if err := frame.CopyInto(index); err != nil {
			submitErr = fmt.Errorf("videoenc: copy texture into slot %d: %w", index, err)
			return
		}
		if frame.Release != nil {
			frame.Release()
		}

		mapped, err := p.enc.MapInput(slot.Resource)
		if err != nil {
			submitErr = fmt.Errorf("videoenc: map input slot %d: %w", index, err)
			return
		}
		slot.MappedInput = mapped
	})
	if submitErr != nil {
		return submitErr
	}

	return p.Submit(slotIndex, frame.Timestamp)
}

// Submit calls EncodePicture for an already-published slot, outside the
// writer's critical section (spec.md §4.3.3 step 4).
func (p *Pipeline) Submit(slotIndex int, timestamp uint64) error {
	slot := &p.items[slotIndex]
	forceIDR := p.forceIDR.Swap(false)
	return p.enc.EncodePicture(slot.MappedInput, slot.Output, slot.Event, timestamp, forceIDR, false)
}

// SubmitEndOfStream writes the sentinel slot of spec.md §4.3.3's
// "End-of-stream": a null input buffer and an encodePicFlags=EOS submit.
func (p *Pipeline) SubmitEndOfStream(stopped func() bool) error {
	spin := func() {
		if !stopped() {
			runtime.Gosched()
		}
	}
	p.writer.Write(spin, func(index int, slot *BufferItem) {
		slot.EndOfStream = true
		slot.MappedInput = 0
	})
	return p.enc.EncodePicture(0, 0, 0, 0, false, true)
}

// ConsumeOutput implements the output half's per-slot loop of spec.md
// §4.3.4: wait on the slot's completion event, lock the bitstream, invoke
// consume, unlock, unmap. Runs on a dedicated thread (spec.md §5).
func (p *Pipeline) ConsumeOutput(stopped func() bool, consume func(LockedBitstream) error) error {
	spin := func() {
		if !stopped() {
			runtime.Gosched()
		}
	}

	var outerErr error
	p.reader.Read(spin, func(index int, slot *BufferItem) {
		if slot.EndOfStream {
			outerErr = errEndOfStream
			return
		}
		if err := p.enc.WaitCompletion(slot.Event, -1); err != nil {
			outerErr = fmt.Errorf("videoenc: wait completion slot %d: %w", index, err)
			return
		}
		locked, err := p.enc.LockBitstream(slot.Output)
		if err != nil {
			outerErr = fmt.Errorf("videoenc: lock bitstream slot %d: %w", index, err)
			return
		}
		if cerr := consume(locked); cerr != nil {
			p.log.Warn("consume_output failed", "error", cerr)
		}
		if err := p.enc.UnlockBitstream(slot.Output); err != nil {
			p.log.Warn("unlock bitstream failed", "error", err)
		}
		if slot.MappedInput != 0 {
			if err := p.enc.UnmapInput(slot.MappedInput); err != nil {
				p.log.Warn("unmap input failed", "error", err)
			}
			slot.MappedInput = 0
		}
	})
	return outerErr
}

// errEndOfStream signals the output loop to exit cleanly.
var errEndOfStream = errors.New("videoenc: end of stream")

// IsEndOfStream reports whether err is the end-of-stream sentinel
// ConsumeOutput returns once the flush slot has been drained.
func IsEndOfStream(err error) bool { return errors.Is(err, errEndOfStream) }
