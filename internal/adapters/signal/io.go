package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/Peerchat/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, id domain.PeerID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("peer", string(id)).Msg("readPump closing")
		cancel()
		ctl.Orch.OnDisconnect(id, c)
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(id)
		}
		c.Close()
	}()

	pongWait := ctl.PingPeriod * 10 / 9
	c.conn.SetReadLimit(ctl.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("peer", string(id)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		ctl.handleSignal(id, c, data)
	}
}

func (ctl *SignalWSController) handleSignal(id domain.PeerID, c *WsSignalConn, data []byte) {
	var msg domain.SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("peer", string(id)).Msg("bad json")
		ctl.sendError(id, c, "bad_payload")
		return
	}

	switch msg.Type {
	case domain.SignalPing:
		ctl.handlePing(id, c)
	case domain.SignalOffer:
		ctl.handleOffer(id, c, msg)
	case domain.SignalAnswer, domain.SignalLeave:
		ctl.handleRelay(id, c, msg)
	default:
		log.Warn().Str("module", "signal").Str("peer", string(id)).Str("type", msg.Type).Msg("unknown signal")
	}
}

func (ctl *SignalWSController) send(id domain.PeerID, c *WsSignalConn, msg domain.SignalMessage) {
	if err := ctl.Orch.SendTo(id, c, msg); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("peer", string(id)).Str("type", msg.Type).Msg("send")
	}
}

func (ctl *SignalWSController) sendError(id domain.PeerID, c *WsSignalConn, reason string) {
	ctl.send(id, c, domain.SignalMessage{Type: domain.SignalError, Error: reason})
}
