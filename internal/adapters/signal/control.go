package signal

import (
	"errors"

	"github.com/dkeye/Peerchat/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handlePing(id domain.PeerID, conn *WsSignalConn) {
	ctl.send(id, conn, domain.SignalMessage{Type: domain.SignalPong})
}

func (ctl *SignalWSController) handleOffer(id domain.PeerID, conn *WsSignalConn, msg domain.SignalMessage) {
	if ctl.Limiter != nil && !ctl.Limiter.Allow(id) {
		log.Warn().Str("module", "signal").Str("peer", string(id)).Msg("offer rate limited")
		ctl.sendError(id, conn, "rate_limited")
		return
	}
	ctl.handleRelay(id, conn, msg)
}

func (ctl *SignalWSController) handleRelay(id domain.PeerID, conn *WsSignalConn, msg domain.SignalMessage) {
	if msg.Dst == "" || msg.Payload == nil {
		ctl.sendError(id, conn, "bad_payload")
		return
	}
	err := ctl.Orch.Relay(id, msg)
	switch {
	case err == nil:
		log.Debug().Str("module", "signal").
			Str("src", string(id)).
			Str("dst", string(msg.Dst)).
			Str("type", msg.Type).
			Str("connection_id", msg.Payload.ConnectionID).
			Msg("relayed")
	case errors.Is(err, domain.ErrPeerUnavailable):
	default:
		log.Warn().Err(err).Str("module", "signal").Str("dst", string(msg.Dst)).Str("type", msg.Type).Msg("relay failed")
	}
}
