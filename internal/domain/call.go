package domain

import "fmt"

type CallState string

const (
	CallIdle            CallState = "idle"
	CallAwaitingConsent CallState = "awaiting_consent"
	CallAwaitingMedia   CallState = "awaiting_media"
	CallActive          CallState = "active"
	CallClosed          CallState = "closed"
)

// callTransitions lists the legal successors of each state. Closed is
// reachable from everywhere and is terminal.
var callTransitions = map[CallState][]CallState{
	CallIdle:            {CallAwaitingConsent, CallAwaitingMedia, CallClosed},
	CallAwaitingConsent: {CallAwaitingMedia, CallClosed},
	CallAwaitingMedia:   {CallActive, CallClosed},
	CallActive:          {CallClosed},
}

// CanTransition reports whether a call may move from one state to another.
func CanTransition(from, to CallState) bool {
	for _, next := range callTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Call describes a media exchange with one remote peer.
type Call struct {
	RemoteID  PeerID    `json:"remote_id"`
	Direction Direction `json:"direction"`
	State     CallState `json:"state"`
}

// Transition moves the call to the next state or returns an error naming
// the illegal edge.
func (c *Call) Transition(to CallState) error {
	if !CanTransition(c.State, to) {
		return fmt.Errorf("call %s: illegal transition %s -> %s", c.RemoteID, c.State, to)
	}
	c.State = to
	return nil
}
