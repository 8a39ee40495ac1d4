package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Peerchat/internal/domain"
)

const signalWriteWait = 5 * time.Second

// SignalClient is the peer's websocket link to the rendezvous server.
type SignalClient struct {
	conn *websocket.Conn

	wmu sync.Mutex
}

// DialSignal connects to the rendezvous server, asking for requestedID
// when it is not empty. jar carries the server's client token; dialing
// again with the same jar reclaims an id this client already holds.
func DialSignal(ctx context.Context, rawURL, requestedID string, jar http.CookieJar) (*SignalClient, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("signal url: %w", err)
	}
	if requestedID != "" {
		q := u.Query()
		q.Set("id", requestedID)
		u.RawQuery = q.Encode()
	}
	d := websocket.Dialer{
		Jar:              jar,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := d.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", u.Redacted(), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	log.Info().Str("module", "rtc.signal").Str("url", u.Redacted()).Msg("signaling connected")
	return &SignalClient{conn: conn}, nil
}

// Send writes one envelope. Writes are serialized.
func (s *SignalClient) Send(msg domain.SignalMessage) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(signalWriteWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(msg)
}

// Listen reads envelopes until the link fails or ctx ends, calling handle
// for each. Malformed envelopes are skipped.
func (s *SignalClient) Listen(ctx context.Context, handle func(domain.SignalMessage)) error {
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("signaling read: %w", err)
		}
		var msg domain.SignalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Str("module", "rtc.signal").Msg("bad envelope")
			continue
		}
		handle(msg)
	}
}

// KeepAlive sends a ping envelope every period until ctx ends or a write
// fails.
func (s *SignalClient) KeepAlive(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Send(domain.SignalMessage{Type: domain.SignalPing}); err != nil {
				log.Debug().Err(err).Str("module", "rtc.signal").Msg("keepalive stopped")
				return
			}
		}
	}
}

func (s *SignalClient) Close() error {
	s.wmu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(signalWriteWait))
	s.wmu.Unlock()
	return s.conn.Close()
}
