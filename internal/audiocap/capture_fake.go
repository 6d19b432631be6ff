package audiocap

import "sync"

// FakeCapturer generates silent PCM16 blocks at a fixed 20ms cadence,
// standing in for loopback hardware on non-Windows builds and in tests.
type FakeCapturer struct {
	mu     sync.Mutex
	format MixFormat
	closed bool
	tick   uint64
}

// NewFakeCapturer returns a capturer producing 20ms blocks of the given
// sample rate/channel count, PCM16.
func NewFakeCapturer(sampleRate, channels int) *FakeCapturer {
	return &FakeCapturer{format: MixFormat{SampleRate: sampleRate, Channels: channels, Format: FormatPCM16, BitsPerSample: 16}}
}

func (f *FakeCapturer) Format() MixFormat { return f.format }

func (f *FakeCapturer) Next(timeoutMs int) (Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return Block{}, ErrCaptureStopped
	}
	frames := f.format.SampleRate / 50 // 20ms
	f.tick++
	buf := make([]byte, frames*f.format.Channels*2)
	return Block{RawPCM: buf, Format: FormatPCM16, NumFrames: frames, Flags: FlagSilent, Timestamp: f.tick}, nil
}

func (f *FakeCapturer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
