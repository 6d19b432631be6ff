package videoenc

import (
	"errors"
	"sync"

	openh264 "github.com/y9o/go-openh264"
)

// softwareBackend implements HardwareEncoder over a software H.264 encoder
// (openh264), the always-available fallback when no hardware factory
// registers (spec.md §4.3.1 implies this path by describing the hardware
// trait as one of possibly several backends; the teacher's encoder.go
// names the same shape "tryHardware falls back to newSoftwareEncoder").
//
// There is no GPU texture array to register against in the software path,
// so RegisterResource/MapInput hand back a plain byte-buffer handle that
// CopyInto (the caller in internal/streamsession) writes the captured
// frame's pixels into directly.
type softwareBackend struct {
	mu  sync.Mutex
	enc *openh264.Encoder

	width, height int
	bitrateBps    int

	resources  map[uintptr][]byte
	nextHandle uintptr

	// bitstreams holds one encoded result per output-buffer handle, keyed
	// the same way resources is keyed per input handle, so that up to N
	// in-flight slots never clobber one another's pending output the way a
	// single shared field would (the encoder runs synchronously inside
	// EncodePicture, but the output half drains slots on its own thread and
	// may lag behind the input half submitting the next one).
	bitstreams       map[uintptr]LockedBitstream
	nextOutputHandle uintptr
}

func newSoftwareBackend(params EncodeParams) (HardwareEncoder, error) {
	if params.Init.Codec != CodecH264 {
		return nil, errors.New("videoenc: software backend only supports h264")
	}
	cfg := openh264.EncoderConfig{
		Width:        params.Init.EncodeWidth,
		Height:       params.Init.EncodeHeight,
		BitrateBps:   params.Config.AverageBitRate,
		MaxFrameRate: float32(params.Init.RefreshRateRatio[0]) / float32(maxInt(1, params.Init.RefreshRateRatio[1])),
	}
	enc, err := openh264.NewEncoder(cfg)
	if err != nil {
		return nil, err
	}
	return &softwareBackend{
		enc:        enc,
		width:      params.Init.EncodeWidth,
		height:     params.Init.EncodeHeight,
		bitrateBps: params.Config.AverageBitRate,
		resources:  make(map[uintptr][]byte),
		bitstreams: make(map[uintptr]LockedBitstream),
	}, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (s *softwareBackend) RegisterResource(index int) (uintptr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHandle++
	h := s.nextHandle
	s.resources[h] = make([]byte, s.width*s.height*4)
	return h, nil
}

func (s *softwareBackend) UnregisterResource(handle uintptr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resources, handle)
	return nil
}

func (s *softwareBackend) CreateBitstreamBuffer() (uintptr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOutputHandle++
	return s.nextOutputHandle, nil
}

func (s *softwareBackend) DestroyBitstreamBuffer(handle uintptr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bitstreams, handle)
	return nil
}

func (s *softwareBackend) CreateCompletionEvent() (uintptr, error) { return 1, nil }
func (s *softwareBackend) DestroyCompletionEvent(uintptr) error    { return nil }

// MapInput returns the same handle it was given: there is no separate
// device-side mapping step for a plain byte buffer.
func (s *softwareBackend) MapInput(resource uintptr) (uintptr, error) { return resource, nil }
func (s *softwareBackend) UnmapInput(uintptr) error                   { return nil }

// Buffer exposes the raw pixel buffer behind a registered/mapped handle so
// the caller's CopyInto can write directly into it without another copy.
func (s *softwareBackend) Buffer(handle uintptr) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resources[handle]
}

func (s *softwareBackend) EncodePicture(input, output, _ uintptr, timestamp uint64, forceIDR, endOfStream bool) error {
	if endOfStream {
		return nil
	}
	s.mu.Lock()
	pixels := s.resources[input]
	s.mu.Unlock()
	if pixels == nil {
		return errors.New("videoenc: software encode: unknown input handle")
	}

	out, isIDR, err := s.enc.Encode(pixels, forceIDR)
	if err != nil {
		return &SysStatus{Code: -1, Message: err.Error()}
	}

	s.mu.Lock()
	s.bitstreams[output] = LockedBitstream{Data: out, OutputTimestamp: timestamp, IsIDR: isIDR}
	s.mu.Unlock()
	return nil
}

// WaitCompletion is a no-op: the software path encodes synchronously inside
// EncodePicture, so the "completion event" is already signaled.
func (s *softwareBackend) WaitCompletion(uintptr, int) error { return nil }

func (s *softwareBackend) LockBitstream(output uintptr) (LockedBitstream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bitstreams[output], nil
}

func (s *softwareBackend) UnlockBitstream(uintptr) error { return nil }

func (s *softwareBackend) Reconfigure(cfg EncodeConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bitrateBps = cfg.AverageBitRate
	return s.enc.SetBitrate(cfg.AverageBitRate)
}

func (s *softwareBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Close()
}
