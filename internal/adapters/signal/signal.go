// Package signal is the server side of the rendezvous protocol: one
// websocket per peer, carrying JSON envelopes.
package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Peerchat/internal/app/orch"
	"github.com/dkeye/Peerchat/internal/core"
	"github.com/dkeye/Peerchat/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type SignalWSController struct {
	Orch       *orch.Orchestrator
	Limiter    *OfferRateLimiter
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

func NewSignalWSController(o *orch.Orchestrator, limiter *OfferRateLimiter) *SignalWSController {
	return &SignalWSController{
		Orch:       o,
		Limiter:    limiter,
		ReadLimit:  1 << 20,
		PingPeriod: 54 * time.Second,
		SendBuffer: 32,
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return domain.ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return domain.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request, claims a rendezvous id and pumps
// messages until the socket closes or the peer is kicked.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	token := core.ClientToken(c.GetString("client_token"))
	requested := c.Query("id")
	if requested != "" {
		if err := domain.ValidatePeerID(requested); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	// The session cookie must ride on the handshake response.
	hdr := http.Header{}
	if cookies := c.Writer.Header().Values("Set-Cookie"); len(cookies) > 0 {
		hdr["Set-Cookie"] = cookies
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, hdr)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	id := domain.PeerID(requested)
	if id == "" {
		id = domain.PeerID(uuid.NewString())
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.SendBuffer),
	}
	ctx, cancel := context.WithCancel(ctx)
	previous, err := ctl.Orch.Registry.Claim(id, token, conn, cancel)
	if err != nil {
		cancel()
		log.Info().Str("module", "signal").Str("peer", string(id)).Msg("requested id taken")
		_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_ = ws.WriteJSON(domain.SignalMessage{Type: domain.SignalIDTaken, ID: id})
		_ = ws.Close()
		return
	}
	if previous != nil {
		previous()
	}
	log.Info().Str("module", "signal").Str("peer", string(id)).Msg("new WS connection")

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, id, conn)

	ctl.send(id, conn, domain.SignalMessage{Type: domain.SignalOpen, ID: id})
}
