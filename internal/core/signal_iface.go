package core

// Frame is a raw encoded signaling message.
type Frame []byte

// ClientToken identifies a browser or CLI client across reconnects. It is
// what owns a rendezvous id on the server.
type ClientToken string

// SignalConnection abstracts the server side of a client's signaling socket.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
