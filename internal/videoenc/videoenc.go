// Package videoenc implements the video encoder pipeline of spec.md §4.3
// (C3): a hardware-encoder capability trait, split into an input half and
// an output half sharing one encoder session through the conveyor ring,
// bitrate steered by the bandwidth estimate from internal/bwe.
//
// Grounded on the teacher's encoder.go (the backend-behind-an-interface
// split, SetBitrate/SetCodec validation style) and encoder_nvenc.go (the
// build-tagged hardware-factory registration pattern); the buffer-item RAII
// rollback is grounded on original_source/nvenc/src/encoder/buffer_items.rs
// per SPEC_FULL.md's supplemented-features list.
package videoenc

import (
	"errors"
	"fmt"
)

// Codec is the negotiated video codec, per spec.md §4.3.1.
type Codec string

const (
	CodecH264 Codec = "h264"
	CodecH265 Codec = "h265"
)

// Preset names the encoder's speed/quality tradeoff knob.
type Preset string

const (
	PresetLowLatency Preset = "low-latency"
	PresetDefault    Preset = "default"
	PresetQuality    Preset = "quality"
)

// Tuning selects the encoder's target use case.
type Tuning string

const (
	TuningUltraLowLatency Tuning = "ultra-low-latency"
	TuningLowLatency      Tuning = "low-latency"
)

var (
	ErrUnsupportedVersion     = errors.New("videoenc: unsupported API version")
	ErrMalformedFunctionList  = errors.New("videoenc: malformed function list")
	ErrLibraryNotSigned       = errors.New("videoenc: encoder library failed signature verification")
	ErrUnsupportedCodec       = errors.New("videoenc: unsupported codec")
	ErrCodecNotSet            = errors.New("videoenc: codec not set")
	ErrInvalidBitrate         = errors.New("videoenc: invalid bitrate")
	ErrInvalidDimensions      = errors.New("videoenc: invalid dimensions")
	ErrSessionClosed          = errors.New("videoenc: session closed")
)

// SysStatus wraps a hardware/library status code as a typed fatal error,
// per spec.md §4.3.7 ("Encode-side hardware error ... propagate as
// SysStatus(code)").
type SysStatus struct {
	Code    int32
	Message string
}

func (e *SysStatus) Error() string {
	return fmt.Sprintf("videoenc: hardware status 0x%08X: %s", uint32(e.Code), e.Message)
}

// ExtraOptions are the small per-codec knobs spec.md §4.3.1 names.
type ExtraOptions struct {
	InbandCSDDisabled bool // disableSPSPPS
	CSDShouldRepeat   bool // repeatSPSPPS
	SpatialAQEnabled  bool // enableAQ
}

// InitParams configures the encoder session, per spec.md §4.3.1.
type InitParams struct {
	EncodeWidth        int
	EncodeHeight       int
	DisplayAspectRatio [2]int
	RefreshRateRatio   [2]int
	Tuning             Tuning
	Codec              Codec
	Profile            string
	Preset             Preset
	ChromaFormatIDC    int // 3 for YUV444[10bit], 1 otherwise
	PixelBitDepthM8    int // 2 for 10-bit, 0 otherwise
	Extra              ExtraOptions
	AsyncOutput        bool
}

// EncodeConfig is the heap-owned, mutable-at-runtime half of EncodeParams
// (spec.md §4.3.1): the only field the input thread is allowed to mutate
// after session open is AverageBitRate, via Reconfigure.
type EncodeConfig struct {
	AverageBitRate int // bits/sec
}

// EncodeParams is InitParams plus a heap-owned EncodeConfig, matching
// spec.md's "one InitParams and one heap-owned EncodeConfig" record.
type EncodeParams struct {
	Init   InitParams
	Config *EncodeConfig
}

// ClampBitrate bounds bps to the library-suggested range spec.md §4.3.5 gives:
// 10kbps to 100Mbps.
func ClampBitrate(bps int) int {
	const (
		minBps = 10_000
		maxBps = 100_000_000
	)
	if bps < minBps {
		return minBps
	}
	if bps > maxBps {
		return maxBps
	}
	return bps
}

// LockedBitstream is the output of one completed encode, per spec.md
// §4.3.4's "locked region" contract.
type LockedBitstream struct {
	Data            []byte
	OutputTimestamp uint64
	IsIDR           bool
	ReferenceID     uint32
}

// HardwareEncoder is the capability trait spec.md §6 mirrors against the
// NVENC entry points actually used. Backends: softwareBackend (openh264,
// always available) and a build-tagged real-hardware backend registered
// through RegisterHardwareFactory.
type HardwareEncoder interface {
	// RegisterResource binds one input-array subresource (identified by
	// index) to the encoder, returning an opaque registration handle.
	RegisterResource(index int) (uintptr, error)
	UnregisterResource(handle uintptr) error

	CreateBitstreamBuffer() (uintptr, error)
	DestroyBitstreamBuffer(handle uintptr) error

	CreateCompletionEvent() (uintptr, error)
	DestroyCompletionEvent(handle uintptr) error

	MapInput(resource uintptr) (uintptr, error)
	UnmapInput(mapped uintptr) error

	// EncodePicture submits one frame. forceIDR requests a keyframe;
	// endOfStream submits the sentinel flush picture of spec.md §4.3.3.
	EncodePicture(input uintptr, output uintptr, event uintptr, timestamp uint64, forceIDR, endOfStream bool) error

	// WaitCompletion blocks on the per-slot completion event.
	WaitCompletion(event uintptr, timeoutMs int) error

	LockBitstream(output uintptr) (LockedBitstream, error)
	UnlockBitstream(output uintptr) error

	Reconfigure(cfg EncodeConfig) error

	Close() error
}

// HardwareFactory builds a HardwareEncoder for the given params. Registered
// build-tagged backends are tried in registration order by Open; the
// software backend is not registered and is used only when none succeeds.
type HardwareFactory func(params EncodeParams) (HardwareEncoder, error)

var hardwareFactories []HardwareFactory

// RegisterHardwareFactory adds a candidate hardware backend, mirroring the
// teacher's registerHardwareFactory pattern (encoder_nvenc.go): real
// hardware backends self-register from an init() behind a build tag so
// this file never imports a vendor SDK directly.
func RegisterHardwareFactory(f HardwareFactory) {
	hardwareFactories = append(hardwareFactories, f)
}

// resolveHardware tries every registered hardware factory in order,
// falling back to the software backend if none succeed (or none are
// registered, e.g. a build with no hardware tag enabled).
func resolveHardware(params EncodeParams) (HardwareEncoder, error) {
	if params.Init.Codec != CodecH264 && params.Init.Codec != CodecH265 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, params.Init.Codec)
	}
	for _, f := range hardwareFactories {
		enc, err := f(params)
		if err == nil {
			return enc, nil
		}
	}
	return newSoftwareBackend(params)
}
