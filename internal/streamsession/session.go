package streamsession

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/lanternops/streamhost/internal/audiocap"
	"github.com/lanternops/streamhost/internal/bwe"
	"github.com/lanternops/streamhost/internal/capture"
	"github.com/lanternops/streamhost/internal/config"
	"github.com/lanternops/streamhost/internal/logging"
	"github.com/lanternops/streamhost/internal/signaling"
	"github.com/lanternops/streamhost/internal/videoenc"
)

const iceGatherTimeout = 20 * time.Second

// videoPacketizer is the packetizer interface common to H264Packetizer and
// H265Packetizer (spec.md §4.5.1/§4.5.2): the codec is chosen once at
// session creation from config.Config.VideoCodec.
type videoPacketizer interface {
	Packetize(accessUnit []byte, timestamp uint32) ([]*rtp.Packet, error)
}

// InputSink receives opaque pointer/gamepad input events forwarded from the
// client's "input" data channel. Injecting them into the host OS is outside
// this system's scope (spec.md §1 lists Windows Pointer Injection as an
// external hardware collaborator); streamsession only decodes the data
// channel and hands the bytes onward.
type InputSink interface {
	HandleInput(data []byte)
}

// Session wires C1-C7 plus signaling into one streaming session: capture
// (internal/capture) through the video encoder (internal/videoenc) and RTP
// packetizer (internal/rtpcodec) to a WebRTC video track, loopback audio
// (internal/audiocap) through its own Opus packetizer to an audio track,
// and RTCP feedback from both senders into the congestion controller
// (internal/bwe) that steers the video encoder's bitrate and forwards
// keyframe requests.
//
// Grounded on the teacher's desktop/webrtc.go Session/SessionManager shape:
// the same done-channel-plus-WaitGroup stop sequence, the same
// sync.Once-guarded Stop/cleanup split, and the same one-goroutine-per-loop
// structure (capture loop, RTCP drain). Where the teacher hands the track
// pion's sample-based TrackLocalStaticSample/media.Sample API (it never
// needs its own RTP packetization), this system needs raw RTP packets
// built by internal/rtpcodec, so the track here is TrackLocalStaticRTP and
// every loop writes rtp.Packet values itself.
type Session struct {
	id  string
	cfg *config.Config
	log *slog.Logger

	signaler  signaling.Signaler
	inputSink InputSink

	pc          *webrtc.PeerConnection
	videoTrack  *webrtc.TrackLocalStaticRTP
	audioTrack  *webrtc.TrackLocalStaticRTP
	videoSender *webrtc.RTPSender
	audioSender *webrtc.RTPSender

	duplicator capture.Duplicator
	videoPipe  *videoenc.Pipeline
	videoPkt   videoPacketizer

	audioCapturer audiocap.Capturer
	audioPipe     *audiocap.Pipeline
	audioPkt      *audiocap.Packetizer

	sendInfo *bwe.SendInfoTable
	ctrl     *bwe.Controller

	connected atomic.Bool
	started   atomic.Bool
	done      chan struct{}
	wg        sync.WaitGroup

	stopOnce    sync.Once
	cleanupOnce sync.Once
	mu          sync.Mutex
}

// New builds a Session from cfg, ready to negotiate over signaler. Media
// capture/encode does not start until the ICE connection reaches
// Connected (see negotiate.go), mirroring the teacher's "streaming starts
// on PeerConnectionStateConnected to avoid sending the first keyframe
// while the receiver is still negotiating."
func New(id string, cfg *config.Config, signaler signaling.Signaler, inputSink InputSink) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("streamsession: %w", err)
	}

	sendInfo := bwe.NewSendInfoTable()

	return &Session{
		id:        id,
		cfg:       cfg,
		log:       logging.WithSession(logging.L("streamsession"), id),
		signaler:  signaler,
		inputSink: inputSink,
		sendInfo:  sendInfo,
		ctrl:      bwe.NewController(sendInfo, float64(cfg.InitialBandwidthBps)/8.0, 8),
		done:      make(chan struct{}),
	}, nil
}

// Run negotiates the session over its Signaler and blocks until the
// session is stopped (Stop is called, the ICE connection fails/closes, or
// the signaler returns Bye/a fatal error). It always returns a nil error
// for a clean stop; negotiation failures are returned directly.
func (s *Session) Run() error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if err := s.negotiate(); err != nil {
		s.Stop()
		return err
	}

	s.wg.Add(1)
	go s.signalingLoop()

	<-s.done
	s.wg.Wait()
	s.doCleanup()
	return nil
}

// Stop tears the session down. Safe to call more than once and from any
// goroutine, including the session's own loops.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.pc != nil {
			_ = s.pc.Close()
		}
	})
}

func (s *Session) doCleanup() {
	s.cleanupOnce.Do(func() {
		if s.audioPipe != nil {
			_ = s.audioPipe.Close()
		} else if s.audioCapturer != nil {
			_ = s.audioCapturer.Close()
		}
		if s.videoPipe != nil {
			_ = s.videoPipe.Close()
		}
		if s.duplicator != nil {
			_ = s.duplicator.Close()
		}
		_ = s.signaler.Close()
		s.log.Info("session stopped")
	})
}

// isRunning reports whether the session's loops should keep iterating,
// per spec.md §5's cancellation rule: every long-lived loop observes the
// done channel.
func (s *Session) isRunning() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}
