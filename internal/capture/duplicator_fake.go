package capture

import (
	"sync"
	"time"
)

// fakeTexture is a TextureHandle with no GPU backing: its Data is a plain
// byte slice the encoder pipeline copies from directly, which is exactly
// what the software encoder backend (internal/videoenc's openh264 path)
// needs on platforms with no hardware duplicator wired up.
type fakeTexture struct {
	Data []byte
}

func (*fakeTexture) Release() {}

// Bytes implements CPUReadable: the fake texture has no GPU backing, so its
// pixels are already host-visible.
func (t *fakeTexture) Bytes() []byte { return t.Data }

// FakeDuplicator is a portable Duplicator that synthesizes frames at a
// fixed refresh rate instead of calling into an OS compositor. It backs
// internal/streamsession on any platform without a registered hardware
// duplicator.
type FakeDuplicator struct {
	desc   DisplayDesc
	period time.Duration

	mu       sync.Mutex
	lost     bool
	lastTick time.Time
	frame    uint64
}

// NewFakeDuplicator builds a duplicator that presents synthetic BGRA8
// frames of the given dimensions at refreshHz.
func NewFakeDuplicator(width, height, refreshHz int) *FakeDuplicator {
	return &FakeDuplicator{
		desc: DisplayDesc{
			Width:      width,
			Height:     height,
			Format:     FormatBGRA8,
			RefreshNum: refreshHz,
			RefreshDen: 1,
		},
		period: time.Second / time.Duration(refreshHz),
	}
}

func (d *FakeDuplicator) Desc() DisplayDesc { return d.desc }

// AcquireFrame blocks until the next synthetic vblank or timeoutMs elapses,
// whichever comes first, mirroring the real duplicator's pacing.
func (d *FakeDuplicator) AcquireFrame(timeoutMs int) (*AcquiredFrame, error) {
	d.mu.Lock()
	if d.lost {
		d.mu.Unlock()
		return nil, &AcquireError{Kind: AccessLost, Err: errNotReset}
	}
	d.mu.Unlock()

	timer := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-time.After(d.period):
	case <-timer.C:
		return nil, &AcquireError{Kind: WaitTimeout}
	}

	d.mu.Lock()
	d.frame++
	frameSize := d.desc.Width * d.desc.Height * 4
	buf := make([]byte, frameSize)
	shade := byte(d.frame)
	for i := range buf {
		buf[i] = shade
	}
	d.lastTick = time.Now()
	d.mu.Unlock()

	return &AcquiredFrame{
		Texture:   &fakeTexture{Data: buf},
		Timestamp: uint64(time.Now().UnixMicro()),
	}, nil
}

// SimulateAccessLost forces the next AcquireFrame to fail with AccessLost,
// exercising the reset path (tests, and fault injection harnesses).
func (d *FakeDuplicator) SimulateAccessLost() {
	d.mu.Lock()
	d.lost = true
	d.mu.Unlock()
}

func (d *FakeDuplicator) Reset() error {
	d.mu.Lock()
	d.lost = false
	d.mu.Unlock()
	return nil
}

func (d *FakeDuplicator) Close() error { return nil }
