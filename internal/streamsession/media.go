package streamsession

import (
	"errors"
	"time"

	"github.com/pion/rtp"

	"github.com/lanternops/streamhost/internal/audiocap"
	"github.com/lanternops/streamhost/internal/capture"
	"github.com/lanternops/streamhost/internal/videoenc"
)

// startMediaLoops launches the four long-lived loops spec.md §5 describes:
// one goroutine per capture/encode direction for video and audio. Each
// loop's stop condition is s.isRunning() (the ICE-state watch closing
// s.done), per spec.md §5's cancellation rule.
func (s *Session) startMediaLoops() {
	s.wg.Add(4)
	go s.videoCaptureLoop()
	go s.videoOutputLoop()
	go s.audioCaptureLoop()
	go s.audioOutputLoop()
}

// videoCaptureLoop implements spec.md §4.3.3's input-half frame loop over
// the display duplicator: acquire one frame, copy it into the encoder's
// next conveyor slot, submit it for encoding. AccessLost rebuilds the
// duplicator and drops the current frame; WaitTimeout polls and retries,
// per spec.md §4.3.7.
func (s *Session) videoCaptureLoop() {
	defer s.wg.Done()
	timeoutMs := 1000 / maxInt(1, s.duplicator.Desc().RefreshNum/maxInt(1, s.duplicator.Desc().RefreshDen))

	for s.isRunning() {
		frame, err := s.duplicator.AcquireFrame(timeoutMs)
		if err != nil {
			var acqErr *capture.AcquireError
			if errors.As(err, &acqErr) {
				switch acqErr.Kind {
				case capture.WaitTimeout:
					continue
				case capture.AccessLost:
					if rerr := s.duplicator.Reset(); rerr != nil {
						s.log.Warn("duplicator reset failed", "error", rerr)
					}
					continue
				}
			}
			s.log.Warn("acquire frame failed", "error", err)
			continue
		}

		captured := videoenc.CapturedFrame{
			Timestamp: frame.Timestamp,
			CopyInto: func(slotIndex int) error {
				return copyTextureIntoSlot(s.videoPipe, slotIndex, frame.Texture)
			},
			Release: frame.Release,
		}

		if err := s.videoPipe.RunInputOnce(captured, s.notRunning); err != nil {
			s.log.Warn("video encode submit failed", "error", err)
		}
	}
}

// copyTextureIntoSlot implements spec.md §4.3.3 step 3's
// "device.copy_texture(encoder_input[i], captured_texture, i)". Only the
// CPU path is wired in this tree: the software encoder backend has no
// GPU-resident input array to copy into device-to-device, so a captured
// texture must expose its pixels via capture.CPUReadable. A real hardware
// backend (built with the nvenc tag) would instead issue a device copy
// through its own D3D11 context here; that path has no concrete
// implementation in this build (see DESIGN.md).
func copyTextureIntoSlot(pipe *videoenc.Pipeline, slotIndex int, tex capture.TextureHandle) error {
	readable, ok := tex.(capture.CPUReadable)
	if !ok {
		return errors.New("streamsession: capture texture has no CPU-readable path for the software encoder")
	}
	buf, ok := pipe.InputBuffer(slotIndex)
	if !ok {
		return errors.New("streamsession: encoder backend exposes no CPU input buffer")
	}
	copy(buf, readable.Bytes())
	return nil
}

// videoOutputLoop implements spec.md §4.3.4: wait for each completed slot,
// packetize the locked bitstream, send the RTP packets, record their
// departure time/size into the send-info table the congestion controller
// reads back on TWCC feedback.
func (s *Session) videoOutputLoop() {
	defer s.wg.Done()
	for s.isRunning() {
		err := s.videoPipe.ConsumeOutput(s.notRunning, func(locked videoenc.LockedBitstream) error {
			if len(locked.Data) == 0 {
				return nil
			}
			ts := rtpTimestamp90kHz(time.Now())
			pkts, err := s.videoPkt.Packetize(locked.Data, ts)
			if err != nil {
				return err
			}
			return s.writeRTP(s.videoTrack, pkts)
		})
		if err != nil {
			if videoenc.IsEndOfStream(err) {
				return
			}
			s.log.Warn("video consume failed", "error", err)
		}
	}
}

// audioCaptureLoop implements spec.md §4.4's mirror of the video input
// half: capture one block per tick and hand it through the conveyor to
// the Opus encoder.
func (s *Session) audioCaptureLoop() {
	defer s.wg.Done()
	for s.isRunning() {
		if err := s.audioPipe.RunInputOnce(s.notRunning); err != nil {
			if errors.Is(err, audiocap.ErrCaptureStopped) {
				return
			}
			s.log.Warn("audio capture failed", "error", err)
		}
	}
}

// audioOutputLoop drains encoded Opus packets and writes them as one RTP
// packet per frame, per spec.md §4.5 / RFC 7587.
func (s *Session) audioOutputLoop() {
	defer s.wg.Done()
	var samples uint32
	for s.isRunning() {
		err := s.audioPipe.ConsumeOutput(s.notRunning, func(packet []byte, _ uint64) error {
			samples += 960 // 20ms at 48kHz
			pkt := s.audioPkt.Packetize(packet, samples)
			return s.writeRTP(s.audioTrack, []*rtp.Packet{pkt})
		})
		if err != nil {
			s.log.Warn("audio consume failed", "error", err)
		}
	}
}

// writeRTP sends each packet over track, recording its departure
// time/size into the send-info table so the congestion controller can
// resolve arrival reports against it (spec.md §3's "Send-info table",
// written on RTP egress).
func (s *Session) writeRTP(track interface{ WriteRTP(*rtp.Packet) error }, pkts []*rtp.Packet) error {
	departureUs := uint64(time.Now().UnixMicro())
	for _, pkt := range pkts {
		if track == s.videoTrack { // only the video lane feeds TWCC/send-info; spec.md §4.7 steers the encoder from this lane's feedback.
			s.sendInfo.Record(pkt.SequenceNumber, departureUs, len(pkt.Payload)+12)
		}
		if err := track.WriteRTP(pkt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) notRunning() bool { return !s.isRunning() }

func rtpTimestamp90kHz(t time.Time) uint32 {
	return uint32((t.UnixMicro() * 90) / 1000)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
