// Package capture implements the display duplicator of spec.md §4.2 (C2):
// one GPU-texture reference per presented frame, with a monotonic capture
// timestamp, delivered through the thin capability trait spec.md §6
// describes so the encoder pipeline in internal/videoenc never depends on
// the OS duplication API directly.
//
// Grounded on the teacher's capture_dxgi_windows.go for the Windows
// backend's vtable-call shape; capture_linux.go/capture_darwin.go show the
// same "platform backend behind a portable interface" split this package
// follows.
package capture

import (
	"errors"
	"fmt"
)

// AcquireError is the transient-capture taxonomy of spec.md §4.2/§7.1.
type AcquireError struct {
	Kind AcquireErrorKind
	Err  error
}

func (e *AcquireError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capture: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("capture: %s", e.Kind)
}

func (e *AcquireError) Unwrap() error { return e.Err }

// AcquireErrorKind enumerates the three outcomes spec.md §4.2 names.
type AcquireErrorKind int

const (
	// WaitTimeout means no new frame presented within the requested window;
	// recovered locally by polling RTCP/bandwidth and retrying (spec.md §4.3.7).
	WaitTimeout AcquireErrorKind = iota
	// AccessLost means the duplication interface was invalidated (mode
	// switch, GPU reset, secure desktop switch); the caller must call
	// Reset before the next AcquireFrame.
	AccessLost
	// Other is any non-recoverable duplication failure.
	Other
)

func (k AcquireErrorKind) String() string {
	switch k {
	case WaitTimeout:
		return "wait timeout"
	case AccessLost:
		return "access lost"
	default:
		return "other"
	}
}

var errNotReset = errors.New("capture: AcquireFrame called after AccessLost without Reset")

// TextureHandle is an opaque reference to a GPU-resident texture owned by
// the duplicator; the encoder pipeline (internal/videoenc) copies from it
// into its own staging array without knowing its concrete representation.
type TextureHandle interface {
	// Release returns the frame to the OS compositor. Idempotent.
	Release()
}

// CPUReadable is an optional capability a TextureHandle may implement when
// its pixels are already host-visible (the fake duplicator; a real
// duplicator's staging-texture readback path, where wired). The software
// encoder backend's CopyInto path (internal/streamsession) uses this rather
// than a device-to-device GPU copy, which requires a hardware encoder
// registration this tree's software-only build doesn't have.
type CPUReadable interface {
	Bytes() []byte
}

// DisplayDesc describes the duplicated output's format, per spec.md §4.2.
type DisplayDesc struct {
	Width       int
	Height      int
	Format      PixelFormat
	RefreshNum  int
	RefreshDen  int
}

// PixelFormat enumerates the input pixel formats the capture layer may
// hand to the encoder (spec.md §4.3.1's "input pixel formats").
type PixelFormat int

const (
	FormatBGRA8 PixelFormat = iota
	FormatRGBA10
)

// AcquiredFrame is the RAII handle of spec.md §4.2: on Release the
// underlying texture is handed back to the compositor. Texture may be nil,
// in which case Release does nothing.
type AcquiredFrame struct {
	Texture   TextureHandle
	Timestamp uint64 // device-tick, monotonic, units device-defined
	Flags     uint32
}

// Release returns the frame to the compositor. Safe to call once; callers
// should defer it immediately after a successful AcquireFrame.
func (f *AcquiredFrame) Release() {
	if f.Texture != nil {
		f.Texture.Release()
	}
}

// Duplicator is the capability trait spec.md §6 describes for the capture
// interface. Implementations: windowsDuplicator (DXGI, build-tagged),
// FakeDuplicator (portable, used off-Windows).
type Duplicator interface {
	Desc() DisplayDesc
	// AcquireFrame blocks up to timeoutMs for the next presented frame.
	AcquireFrame(timeoutMs int) (*AcquiredFrame, error)
	// Reset must be called after an AccessLost error, before the next
	// AcquireFrame, re-opening the duplication interface.
	Reset() error
	Close() error
}
