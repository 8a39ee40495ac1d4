package app

import "github.com/dkeye/Peerchat/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickPeer
	DropFrame
)

// Policy decides what happens to a peer whose send queue is full.
type Policy interface {
	OnBackPressure(peer domain.PeerID, msgType string) BackpressureAction
}

// SimplePolicy kicks every slow peer.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.PeerID, string) BackpressureAction {
	return KickPeer
}

// LenientPolicy drops heartbeats and kicks only when negotiation frames
// cannot be delivered.
type LenientPolicy struct{}

func (LenientPolicy) OnBackPressure(_ domain.PeerID, msgType string) BackpressureAction {
	if msgType == domain.SignalPong {
		return DropFrame
	}
	return KickPeer
}
