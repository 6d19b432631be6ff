// Package streamsession wires C1-C7 plus signaling into one streaming
// session: capture (internal/capture) through the video encoder
// (internal/videoenc) and RTP packetizer (internal/rtpcodec) to a WebRTC
// video track, loopback audio (internal/audiocap) through its own Opus
// packetizer to an audio track, and RTCP feedback from both senders into
// the congestion controller (internal/bwe) that steers the video encoder's
// bitrate and forwards keyframe requests.
//
// Grounded on the teacher's desktop/webrtc.go Session/SessionManager shape:
// the same done-channel-plus-WaitGroup stop sequence, the same
// sync.Once-guarded Stop/cleanup split, and the same one-goroutine-per-loop
// structure (media loops, RTCP drain). Where the teacher hands
// the track pion's sample-based TrackLocalStaticSample/media.Sample API (it
// never needs its own RTP packetization), this system needs raw RTP
// packets built by internal/rtpcodec, so the track here is
// TrackLocalStaticRTP and every loop writes rtp.Packet values itself.
package streamsession

import (
	"errors"
	"fmt"
)

var (
	ErrClosed       = errors.New("streamsession: session closed")
	ErrAlreadyStarted = errors.New("streamsession: already started")
	ErrNoRemoteOffer  = errors.New("streamsession: no remote offer received")
)

// negotiationError wraps a failure in the SDP offer/answer or ICE candidate
// exchange driven by the signaling.Signaler, per spec.md §6/§9.
type negotiationError struct {
	stage string
	err   error
}

func (e *negotiationError) Error() string {
	return fmt.Sprintf("streamsession: %s: %v", e.stage, e.err)
}

func (e *negotiationError) Unwrap() error { return e.err }
