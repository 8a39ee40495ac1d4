// Package orch routes signaling messages between connected peers.
package orch

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Peerchat/internal/app"
	"github.com/dkeye/Peerchat/internal/core"
	"github.com/dkeye/Peerchat/internal/domain"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Registry *app.Registry
	Policy   app.Policy
}

// Send encodes msg and queues it on the socket holding id.
func (o *Orchestrator) Send(id domain.PeerID, msg domain.SignalMessage) error {
	conn, ok := o.Registry.Lookup(id)
	if !ok {
		return domain.ErrPeerUnavailable
	}
	return o.SendTo(id, conn, msg)
}

// SendTo queues msg on a known socket. Backpressure is handed to Policy.
func (o *Orchestrator) SendTo(id domain.PeerID, conn core.SignalConnection, msg domain.SignalMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	err = conn.TrySend(core.Frame(b))
	if errors.Is(err, domain.ErrBackpressure) {
		o.onBackPressure(id, msg.Type)
	}
	return err
}

// Relay forwards an offer, answer or leave from src to msg.Dst. When Dst is
// not connected the sender gets an expire carrying the original payload.
func (o *Orchestrator) Relay(src domain.PeerID, msg domain.SignalMessage) error {
	msg.Src = src
	err := o.Send(msg.Dst, msg)
	if !errors.Is(err, domain.ErrPeerUnavailable) {
		return err
	}
	log.Info().Str("module", "orch").Str("src", string(src)).Str("dst", string(msg.Dst)).Str("type", msg.Type).Msg("destination offline")
	if msg.Type != domain.SignalLeave {
		_ = o.Send(src, domain.SignalMessage{
			Type:    domain.SignalExpire,
			Src:     msg.Dst,
			Payload: msg.Payload,
		})
	}
	return err
}

func (o *Orchestrator) KickByID(id domain.PeerID) {
	if o.Registry.Cancel(id) {
		log.Info().Str("module", "orch").Str("peer", string(id)).Msg("kicked")
	}
}

// OnDisconnect releases id if conn still holds it.
func (o *Orchestrator) OnDisconnect(id domain.PeerID, conn core.SignalConnection) {
	o.Registry.Release(id, conn)
}

func (o *Orchestrator) onBackPressure(id domain.PeerID, msgType string) {
	if o.Policy == nil {
		return
	}
	switch o.Policy.OnBackPressure(id, msgType) {
	case app.KickPeer:
		log.Warn().Str("module", "orch").Str("peer", string(id)).Str("type", msgType).Msg("slow peer, kicking")
		o.KickByID(id)
	case app.DropFrame, app.NoAction:
		log.Debug().Str("module", "orch").Str("peer", string(id)).Str("type", msgType).Msg("frame dropped")
	}
}
