package streamsession

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/lanternops/streamhost/internal/audiocap"
	"github.com/lanternops/streamhost/internal/bwe"
	"github.com/lanternops/streamhost/internal/capture"
	"github.com/lanternops/streamhost/internal/rtpcodec"
	"github.com/lanternops/streamhost/internal/signaling"
	"github.com/lanternops/streamhost/internal/videoenc"
)

const (
	videoPayloadType uint8 = 96
	audioPayloadType uint8 = 111
)

// negotiate waits for the remote SDP offer, builds the peer connection and
// every media component, answers, and waits for ICE gathering, per spec.md
// §6/§9: the Signaler carries the SDP offer/answer and ICE candidates as
// opaque Message values; no transport is prescribed by the core itself
// (internal/signaling.WebSocketSignaler is this tree's concrete choice).
func (s *Session) negotiate() error {
	msg, err := s.signaler.Recv()
	if err != nil {
		return &negotiationError{stage: "recv offer", err: err}
	}
	if msg.Type != signaling.TypeSDPOffer {
		return &negotiationError{stage: "recv offer", err: fmt.Errorf("%w: got %s", ErrNoRemoteOffer, msg.Type)}
	}

	mediaEngine, err := s.buildMediaEngine()
	if err != nil {
		return &negotiationError{stage: "media engine", err: err}
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: s.iceServers()})
	if err != nil {
		return &negotiationError{stage: "new peer connection", err: err}
	}
	s.pc = pc

	if err := s.addTracks(); err != nil {
		return &negotiationError{stage: "add tracks", err: err}
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != "input" {
			return
		}
		dc.OnMessage(func(m webrtc.DataChannelMessage) {
			if s.inputSink != nil {
				s.inputSink.HandleInput(m.Data)
			}
		})
	})

	pc.OnICEConnectionStateChange(s.onICEStateChange)

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}); err != nil {
		return &negotiationError{stage: "set remote description", err: err}
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return &negotiationError{stage: "create answer", err: err}
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return &negotiationError{stage: "set local description", err: err}
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	timer := time.NewTimer(iceGatherTimeout)
	defer timer.Stop()
	select {
	case <-gatherComplete:
	case <-timer.C:
		return &negotiationError{stage: "ice gathering", err: errors.New("timed out")}
	case <-s.done:
		return &negotiationError{stage: "ice gathering", err: ErrClosed}
	}

	local := pc.LocalDescription()
	if local == nil {
		return &negotiationError{stage: "local description", err: errors.New("not available after gathering")}
	}
	if err := s.signaler.Send(signaling.Message{Type: signaling.TypeSDPAnswer, SDP: local.SDP}); err != nil {
		return &negotiationError{stage: "send answer", err: err}
	}

	if err := s.buildMedia(); err != nil {
		return &negotiationError{stage: "build media", err: err}
	}

	s.startRTCPDrain(s.videoSender)
	if s.audioSender != nil {
		s.startRTCPDrain(s.audioSender)
	}

	return nil
}

func (s *Session) iceServers() []webrtc.ICEServer {
	if len(s.cfg.ICEServers) == 0 {
		return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	return []webrtc.ICEServer{{URLs: s.cfg.ICEServers}}
}

// buildMediaEngine registers exactly the codec this session negotiated
// (H.264 or H.265 per config, plus Opus), rather than
// RegisterDefaultCodecs, mirroring the teacher's explicit fmtp-line
// registration (session_webrtc.go) so the SDP answer advertises the
// profile our own encoder/packetizer actually produce.
func (s *Session) buildMediaEngine() (*webrtc.MediaEngine, error) {
	m := &webrtc.MediaEngine{}

	videoMime := webrtc.MimeTypeH264
	fmtpLine := "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"
	if s.cfg.VideoCodec == "h265" {
		videoMime = webrtc.MimeTypeH265
		fmtpLine = ""
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    videoMime,
			ClockRate:   90000,
			SDPFmtpLine: fmtpLine,
			RTCPFeedback: []webrtc.RTCPFeedback{
				{Type: "nack"},
				{Type: "nack", Parameter: "pli"},
				{Type: "goog-remb"},
				{Type: "transport-cc"},
			},
		},
		PayloadType: webrtc.PayloadType(videoPayloadType),
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register video codec: %w", err)
	}

	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		PayloadType: webrtc.PayloadType(audioPayloadType),
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus codec: %w", err)
	}

	const twccURI = "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01"
	if err := m.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: twccURI}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register transport-cc extension: %w", err)
	}

	return m, nil
}

func (s *Session) addTracks() error {
	videoMime := webrtc.MimeTypeH264
	if s.cfg.VideoCodec == "h265" {
		videoMime = webrtc.MimeTypeH265
	}
	videoTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: videoMime, ClockRate: 90000},
		"video", "streamhost",
	)
	if err != nil {
		return fmt.Errorf("create video track: %w", err)
	}
	s.videoTrack = videoTrack
	sender, err := s.pc.AddTrack(videoTrack)
	if err != nil {
		return fmt.Errorf("add video track: %w", err)
	}
	s.videoSender = sender

	audioTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "streamhost",
	)
	if err != nil {
		return fmt.Errorf("create audio track: %w", err)
	}
	s.audioTrack = audioTrack
	audioSender, err := s.pc.AddTrack(audioTrack)
	if err != nil {
		return fmt.Errorf("add audio track: %w", err)
	}
	s.audioSender = audioSender

	return nil
}

// onICEStateChange implements spec.md §5's cancellation rule: every
// long-lived loop observes the ICE-state watch, stopping when the state
// moves away from Connected. Media loops are only started the first time
// the state reaches Connected (spec.md §4.2's "streaming starts on
// PeerConnectionStateConnected to avoid sending the first keyframe while
// the receiver is still negotiating", preserved from the teacher).
func (s *Session) onICEStateChange(state webrtc.ICEConnectionState) {
	s.log.Info("ice connection state changed", "state", state.String())
	switch state {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		if s.connected.CompareAndSwap(false, true) {
			s.startMediaLoops()
		}
	case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed, webrtc.ICEConnectionStateDisconnected:
		s.Stop()
	}
}

// signalingLoop drains trickle ICE candidates (and Bye) arriving after the
// initial offer/answer exchange, per spec.md §6's Message enum.
func (s *Session) signalingLoop() {
	defer s.wg.Done()
	for {
		msg, err := s.signaler.Recv()
		if err != nil {
			if !errors.Is(err, signaling.ErrClosed) {
				s.log.Warn("signaling recv failed", "error", err)
			}
			s.Stop()
			return
		}
		switch msg.Type {
		case signaling.TypeICECandidate:
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal(msg.Candidate, &init); err != nil {
				s.log.Warn("bad ice candidate payload", "error", err)
				continue
			}
			if err := s.pc.AddICECandidate(init); err != nil {
				s.log.Warn("add ice candidate failed", "error", err)
			}
		case signaling.TypeBye:
			s.Stop()
			return
		}
		if !s.isRunning() {
			return
		}
	}
}

// startRTCPDrain forwards RTCP read from sender into the congestion
// controller, per spec.md §4.7: TWCC feedback, Receiver Reports, and
// PLI/FIR are all read from the same RTCP stream. RTCP read failures are
// logged, not fatal (spec.md §7).
func (s *Session) startRTCPDrain(sender *webrtc.RTPSender) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		buf := make([]byte, 1500)
		for s.isRunning() {
			n, _, err := sender.Read(buf)
			if err != nil {
				return
			}
			pkts, err := rtcp.Unmarshal(buf[:n])
			if err != nil {
				s.log.Debug("rtcp unmarshal failed", "error", err)
				continue
			}
			s.ctrl.SetNowNTP(bwe.NowNTPShort())
			s.ctrl.OnRTCP(pkts)
		}
	}()
}

// buildMedia constructs the capture/encode/packetize components for both
// lanes. Loops do not start until the peer connection reaches Connected
// (see onICEStateChange).
func (s *Session) buildMedia() error {
	if err := s.buildVideo(); err != nil {
		return fmt.Errorf("video: %w", err)
	}
	if err := s.buildAudio(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	return nil
}

func (s *Session) buildVideo() error {
	dup, err := capture.New(s.cfg.DisplayIndex, []capture.PixelFormat{capture.FormatBGRA8})
	if err != nil {
		return fmt.Errorf("open duplicator: %w", err)
	}
	s.duplicator = dup
	desc := dup.Desc()

	codec := videoenc.CodecH264
	if s.cfg.VideoCodec == "h265" {
		codec = videoenc.CodecH265
	}

	params := videoenc.EncodeParams{
		Init: videoenc.InitParams{
			EncodeWidth:        desc.Width,
			EncodeHeight:       desc.Height,
			DisplayAspectRatio: reduceRatio(desc.Width, desc.Height),
			RefreshRateRatio:   [2]int{desc.RefreshNum, desc.RefreshDen},
			Tuning:             videoenc.TuningUltraLowLatency,
			Codec:              codec,
			Profile:            "main",
			Preset:             videoenc.PresetLowLatency,
			ChromaFormatIDC:    1,
			PixelBitDepthM8:    0,
			Extra: videoenc.ExtraOptions{
				InbandCSDDisabled: false,
				CSDShouldRepeat:   true,
			},
			AsyncOutput: true,
		},
		Config: &videoenc.EncodeConfig{AverageBitRate: videoenc.ClampBitrate(s.cfg.VideoBitrateBps)},
	}

	pipe, err := videoenc.Open(params, s.cfg.VideoInputSlots, s.ctrl.Estimate(), s.ctrl.KeyframeRequests(), s.log)
	if err != nil {
		return fmt.Errorf("open encoder pipeline: %w", err)
	}
	s.videoPipe = pipe

	if codec == videoenc.CodecH265 {
		s.videoPkt = rtpcodec.NewH265Packetizer(s.cfg.VideoMTU, videoPayloadType, 0)
	} else {
		s.videoPkt = rtpcodec.NewH264Packetizer(s.cfg.VideoMTU, videoPayloadType, 0)
	}
	return nil
}

func (s *Session) buildAudio() error {
	capturer, err := audiocap.Open()
	if err != nil {
		return fmt.Errorf("open capturer: %w", err)
	}
	s.audioCapturer = capturer
	format := audiocap.NegotiateFormat(capturer.Format())

	settings := audiocap.RuntimeSettings{
		BitrateBps:            s.cfg.AudioBitrateBps,
		ExpectedPacketLossPct: s.cfg.AudioExpectedLossPct,
		Complexity:            s.cfg.AudioComplexity,
	}
	enc, err := audiocap.NewEncoder(audiocap.EncoderConfig{
		SampleRate:  format.SampleRate,
		Channels:    format.Channels,
		Application: audiocap.AppAudio,
	}, settings)
	if err != nil {
		_ = capturer.Close()
		return fmt.Errorf("new encoder: %w", err)
	}

	pipe, err := audiocap.OpenPipeline(capturer, enc, 4, s.log)
	if err != nil {
		_ = capturer.Close()
		_ = enc.Close()
		return fmt.Errorf("open pipeline: %w", err)
	}
	s.audioPipe = pipe
	s.audioPkt = audiocap.NewPacketizer(audioPayloadType, 0)
	return nil
}

func reduceRatio(w, h int) [2]int {
	if w == 0 || h == 0 {
		return [2]int{1, 1}
	}
	a, b := w, h
	for b != 0 {
		a, b = b, a%b
	}
	return [2]int{w / a, h / a}
}
