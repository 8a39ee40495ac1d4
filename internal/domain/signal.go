package domain

import "github.com/pion/webrtc/v4"

// Signaling message types exchanged with the rendezvous server.
const (
	SignalOpen    = "open"
	SignalIDTaken = "id-taken"
	SignalOffer   = "offer"
	SignalAnswer  = "answer"
	SignalLeave   = "leave"
	SignalExpire  = "expire"
	SignalError   = "error"
	SignalPing    = "ping"
	SignalPong    = "pong"
)

// Payload kinds: which capability an offer negotiates.
const (
	PayloadData  = "data"
	PayloadMedia = "media"
)

// SignalMessage is the envelope relayed by the rendezvous server. Src is
// stamped by the server; clients only fill Dst.
type SignalMessage struct {
	Type    string         `json:"type"`
	Src     PeerID         `json:"src,omitempty"`
	Dst     PeerID         `json:"dst,omitempty"`
	ID      PeerID         `json:"id,omitempty"`
	Error   string         `json:"error,omitempty"`
	Payload *SignalPayload `json:"payload,omitempty"`
}

// SignalPayload carries one negotiation step of a data connection or call.
type SignalPayload struct {
	Kind         string                     `json:"kind"`
	ConnectionID string                     `json:"connectionId"`
	SDP          *webrtc.SessionDescription `json:"sdp,omitempty"`
	Label        string                     `json:"label,omitempty"`
}

// Relayed reports whether the server forwards this type to Dst.
func (m SignalMessage) Relayed() bool {
	switch m.Type {
	case SignalOffer, SignalAnswer, SignalLeave:
		return true
	}
	return false
}
