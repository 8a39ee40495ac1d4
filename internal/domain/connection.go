package domain

type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

type ConnectionState string

const (
	ConnectionOpening ConnectionState = "opening"
	ConnectionOpen    ConnectionState = "open"
	ConnectionClosed  ConnectionState = "closed"
)

// Connection describes a data channel to one remote peer.
type Connection struct {
	RemoteID  PeerID          `json:"remote_id"`
	Direction Direction       `json:"direction"`
	State     ConnectionState `json:"state"`
}
