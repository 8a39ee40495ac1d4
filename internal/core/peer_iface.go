package core

import (
	"context"

	"github.com/dkeye/Peerchat/internal/domain"
)

// Peer is the signaling and transport capability of the local peer. It
// provides the rendezvous identity and opens data connections and calls.
type Peer interface {
	// Start links to the signaling service. h.HandleOpen fires once the
	// rendezvous id is usable; it may never fire if the link never opens.
	Start(ctx context.Context, h PeerHandler) error
	// Connect opens an outbound data connection. Events are delivered to h,
	// which is bound before any event can fire.
	Connect(remote domain.PeerID, h ConnectionHandler) (DataConnection, error)
	// Call offers local to remote. Events are delivered to h.
	Call(remote domain.PeerID, local Stream, h CallHandler) (MediaCall, error)
	Close() error
}

// PeerHandler receives peer-level events. The handlers returned for inbound
// connections and calls receive all of their events. Adapters invoke
// handlers from their own goroutines, never from inside a method call made
// by the handler's owner.
type PeerHandler interface {
	HandleOpen(id string)
	HandleConnection(conn DataConnection) ConnectionHandler
	HandleCall(call MediaCall) CallHandler
	HandlePeerError(err error)
}

type ConnectionHandler interface {
	HandleOpen()
	HandleData(payload []byte)
	HandleClose()
	HandleError(err error)
}

type CallHandler interface {
	HandleStream(remote Stream)
	HandleClose()
	HandleError(err error)
}

// DataConnection is an ordered, message-framed channel to one remote peer.
type DataConnection interface {
	ID() string
	RemoteID() domain.PeerID
	// Send transmits one frame. Frames sent before the channel opens are
	// queued until it does.
	Send(payload []byte) error
	Close() error
}

// MediaCall is an audio/video exchange with one remote peer.
type MediaCall interface {
	ID() string
	RemoteID() domain.PeerID
	// Answer accepts an inbound call with the local stream.
	Answer(local Stream) error
	// Close hangs up. For an unanswered inbound call it declines the offer.
	Close() error
}
