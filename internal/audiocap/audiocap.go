// Package audiocap implements the audio capture + Opus encoder pipeline of
// spec.md §4.4 (C4): a loopback-captured rendering device, 10/20ms frames
// converted to PCM and handed through a conveyor to an Opus encoder,
// mirroring the structure of internal/videoenc (§4.3) with the differences
// spec.md §4.4 lists.
//
// Grounded on the teacher's audio.go/audio_windows.go (the capability-trait
// split behind a platform build tag) and audio_mulaw_test.go's table-driven
// style for this package's own tests.
package audiocap

import (
	"errors"
	"fmt"
)

var (
	ErrBadArg          = errors.New("audiocap: invalid argument")
	ErrDeviceChanged    = errors.New("audiocap: default render device changed")
	ErrCaptureStopped   = errors.New("audiocap: capture stopped")
)

// SampleFormat is the subtype WASAPI's mix format reports.
type SampleFormat int

const (
	FormatPCM16 SampleFormat = iota
	FormatFloat32
)

// Block is one captured block, per spec.md §6's audio capture interface:
// raw PCM bytes, the format they're encoded in, frame count, capture
// flags, and a device timestamp.
type Block struct {
	RawPCM      []byte
	Format      SampleFormat
	NumFrames   int
	Flags       uint32
	Timestamp   uint64
}

// Capture flag bits, per spec.md §3's "capture-layer flags".
const (
	FlagSilent          uint32 = 1 << 0
	FlagDiscontinuity    uint32 = 1 << 1
	FlagTimestampError   uint32 = 1 << 2
)

// MixFormat describes the negotiated capture format, per spec.md §4.4's
// format-negotiation step.
type MixFormat struct {
	SampleRate int
	Channels   int
	Format     SampleFormat
	BitsPerSample int
}

// nativeSampleRates are the rates usable without OS-side conversion, per
// spec.md §4.4.
var nativeSampleRates = map[int]bool{
	8000: true, 12000: true, 16000: true, 24000: true, 48000: true,
}

// NegotiateFormat implements spec.md §4.4's format-negotiation rule: use
// the device's mix format directly if its rate is one of the native rates
// and its subtype is PCM or float; otherwise request the OS auto-converter
// target of 48kHz/16-bit/stereo PCM.
func NegotiateFormat(device MixFormat) MixFormat {
	if nativeSampleRates[device.SampleRate] && (device.Format == FormatPCM16 || device.Format == FormatFloat32) {
		return device
	}
	return MixFormat{SampleRate: 48000, Channels: 2, Format: FormatPCM16, BitsPerSample: 16}
}

// Capturer is the capability trait spec.md §6 describes for the audio
// capture interface: blocks delivered from a waitable OS event, polled at
// a fixed period (100ms per spec.md §4.4) when no event fires.
type Capturer interface {
	Format() MixFormat
	// Next blocks until the next block of frames is available or
	// timeoutMs elapses with nothing captured (a routine poll, not an
	// error: spec.md §4.4 "capture waits on an OS event (100ms poll)").
	Next(timeoutMs int) (Block, error)
	Close() error
}

// Open resolves the platform capturer.
func Open() (Capturer, error) {
	return openPlatformCapturer()
}

// sysStatus wraps a fatal hardware/library error, mirroring
// videoenc.SysStatus for the audio path (spec.md §7 kind 4).
type sysStatus struct {
	Message string
}

func (e *sysStatus) Error() string { return fmt.Sprintf("audiocap: %s", e.Message) }
