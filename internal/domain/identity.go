// Package domain contains the session entities without transport logic.
package domain

import (
	"errors"
	"strings"
)

const MaxPeerIDLen = 64

var (
	ErrPeerIDTooLong = errors.New("peer id too long")
	ErrPeerIDInvalid = errors.New("peer id contains invalid characters")
	ErrIdentityIsSet = errors.New("identity already assigned")
	ErrIdentityEmpty = errors.New("identity is empty")
)

// PeerID is the rendezvous identifier of a peer.
type PeerID string

// ValidatePeerID checks a rendezvous id requested by a client or typed by a user.
// An empty id is reported as ErrEmptyRemoteID.
func ValidatePeerID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyRemoteID
	}
	if len(id) > MaxPeerIDLen {
		return ErrPeerIDTooLong
	}
	for _, r := range id {
		if r <= ' ' || r == 0x7f {
			return ErrPeerIDInvalid
		}
	}
	return nil
}

// PeerIdentity is the local rendezvous identity. It is assigned exactly
// once, when the signaling link opens.
type PeerIdentity struct {
	ID    PeerID `json:"id"`
	Ready bool   `json:"ready"`
}

// Assign sets the identity. Subsequent calls fail with ErrIdentityIsSet.
func (p *PeerIdentity) Assign(id string) error {
	if p.Ready {
		return ErrIdentityIsSet
	}
	if id == "" {
		return ErrIdentityEmpty
	}
	p.ID = PeerID(id)
	p.Ready = true
	return nil
}
