// Package signaling implements the Signaler capability spec.md §6 and §9
// describe generically ("express Signaler as a capability with send and
// recv methods over a message enum; no implementation is prescribed") and
// a concrete WebSocket transport, the default the teacher's go.mod already
// carries gorilla/websocket for but never wires into the desktop package
// itself.
package signaling

import (
	"encoding/json"
	"errors"
)

// MessageType discriminates the Message enum of spec.md §6:
// `Message ∈ { Sdp(sdp), IceCandidate(candidate_json), Bye }`.
type MessageType string

const (
	TypeSDPOffer  MessageType = "sdp-offer"
	TypeSDPAnswer MessageType = "sdp-answer"
	TypeICECandidate MessageType = "ice-candidate"
	TypeBye       MessageType = "bye"
)

// Message is the wire envelope exchanged over a Signaler.
type Message struct {
	Type      MessageType     `json:"type"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

var ErrClosed = errors.New("signaling: channel closed")

// Signaler is the capability trait of spec.md §6: send/recv over the
// Message enum, transport-agnostic.
type Signaler interface {
	Send(msg Message) error
	Recv() (Message, error)
	Close() error
}
