package audiocap

import (
	"encoding/binary"
	"errors"
	"fmt"

	opus "gopkg.in/hraban/opus.v2"
)

// Application selects the Opus encoder's application mode, per spec.md
// §4.4's `application_mode ∈ {voip, audio, low_delay}`.
type Application int

const (
	AppVoIP Application = iota
	AppAudio
	AppRestrictedLowDelay
)

func (a Application) toOpus() int {
	switch a {
	case AppVoIP:
		return opus.AppVoIP
	case AppRestrictedLowDelay:
		return opus.AppRestrictedLowdelay
	default:
		return opus.AppAudio
	}
}

// EncoderConfig is the Opus encoder's construction-time configuration,
// per spec.md §4.4.
type EncoderConfig struct {
	SampleRate  int
	Channels    int
	Application Application
}

// RuntimeSettings are the Opus knobs adjustable after construction, per
// spec.md §4.4: bitrate, inband FEC gated on expected packet loss, the
// loss percentage itself, and complexity.
type RuntimeSettings struct {
	BitrateBps            int
	ExpectedPacketLossPct int // [0,100]
	Complexity            int // [0,10]
}

// Validate enforces spec.md §4.4's BadArg edge cases.
func (r RuntimeSettings) Validate() error {
	if r.ExpectedPacketLossPct < 0 || r.ExpectedPacketLossPct > 100 {
		return fmt.Errorf("audiocap: expected_packet_loss_pct out of range: %w", ErrBadArg)
	}
	if r.Complexity < 0 || r.Complexity > 10 {
		return fmt.Errorf("audiocap: complexity out of range: %w", ErrBadArg)
	}
	return nil
}

// Encoder wraps opus.Encoder with the construction/runtime-settings split
// spec.md §4.4 describes, mirroring videoenc's InitParams/EncodeConfig
// split for the video path.
type Encoder struct {
	enc      *opus.Encoder
	channels int
	settings RuntimeSettings
}

// NewEncoder constructs an Opus encoder per cfg and applies the initial
// runtime settings.
func NewEncoder(cfg EncoderConfig, settings RuntimeSettings) (*Encoder, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	enc, err := opus.NewEncoder(cfg.SampleRate, cfg.Channels, cfg.Application.toOpus())
	if err != nil {
		return nil, fmt.Errorf("audiocap: opus.NewEncoder: %w", err)
	}
	e := &Encoder{enc: enc, channels: cfg.Channels}
	if err := e.Reconfigure(settings); err != nil {
		return nil, err
	}
	return e, nil
}

// Reconfigure applies new runtime settings, per spec.md §4.4: inband FEC
// is enabled exactly when expected_packet_loss_pct > 0.
func (e *Encoder) Reconfigure(settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if settings.BitrateBps > 0 {
		if err := e.enc.SetBitrate(settings.BitrateBps); err != nil {
			return fmt.Errorf("audiocap: SetBitrate: %w", err)
		}
	}
	if err := e.enc.SetPacketLossPerc(settings.ExpectedPacketLossPct); err != nil {
		return fmt.Errorf("audiocap: SetPacketLossPerc: %w", err)
	}
	if err := e.enc.SetInBandFEC(settings.ExpectedPacketLossPct > 0); err != nil {
		return fmt.Errorf("audiocap: SetInBandFEC: %w", err)
	}
	if err := e.enc.SetComplexity(settings.Complexity); err != nil {
		return fmt.Errorf("audiocap: SetComplexity: %w", err)
	}
	e.settings = settings
	return nil
}

// EncodeBlock encodes one PCM16 capture block into an Opus packet, per
// spec.md §4.4's "one per capture tick" framing. pcmBytes is little-endian
// interleaved PCM16.
func (e *Encoder) EncodeBlock(pcmBytes []byte, numFrames int) ([]byte, error) {
	if len(pcmBytes) < numFrames*e.channels*2 {
		return nil, errors.New("audiocap: short PCM block")
	}
	samples := make([]int16, numFrames*e.channels)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcmBytes[i*2:]))
	}
	out := make([]byte, 4000) // Opus max packet size ceiling
	n, err := e.enc.Encode(samples, out)
	if err != nil {
		return nil, fmt.Errorf("audiocap: opus encode: %w", err)
	}
	return out[:n], nil
}

func (e *Encoder) Close() error { return nil }
