package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Peerchat/internal/app"
	"github.com/dkeye/Peerchat/internal/app/orch"
	"github.com/dkeye/Peerchat/internal/config"
	"github.com/dkeye/Peerchat/internal/domain"
)

func newServer(t *testing.T, rateLimit int) (*httptest.Server, *orch.Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	cfg := &config.Config{
		Mode:              "release",
		ReadLimit:         1 << 20,
		PingPeriod:        time.Minute,
		Secret:            "test-secret",
		OfferRateLimit:    rateLimit,
		OfferRateInterval: time.Minute,
		SendBuffer:        16,
	}
	o := &orch.Orchestrator{Registry: app.NewRegistry(), Policy: app.SimplePolicy{}}
	srv := httptest.NewServer(SetupRouter(ctx, cfg, o))
	t.Cleanup(srv.Close)
	return srv, o
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
}

func newJar(t *testing.T) http.CookieJar {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return jar
}

func dial(t *testing.T, srv *httptest.Server, jar http.CookieJar, id string) *client {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
	if id != "" {
		u += "?id=" + id
	}
	d := websocket.Dialer{Jar: jar, HandshakeTimeout: 2 * time.Second}
	ws, _, err := d.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return &client{t: t, ws: ws}
}

func (c *client) read() domain.SignalMessage {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m domain.SignalMessage
	require.NoError(c.t, c.ws.ReadJSON(&m))
	return m
}

func (c *client) write(m domain.SignalMessage) {
	c.t.Helper()
	require.NoError(c.t, c.ws.WriteJSON(m))
}

func (c *client) open() domain.PeerID {
	c.t.Helper()
	m := c.read()
	require.Equal(c.t, domain.SignalOpen, m.Type)
	require.NotEmpty(c.t, m.ID)
	return m.ID
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newServer(t, 0)
	resp, err := http.Get(srv.URL + "/myapp")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello World", string(body))
}

func TestOpenAssignsIDs(t *testing.T) {
	srv, _ := newServer(t, 0)
	generated := dial(t, srv, newJar(t), "").open()
	assert.Len(t, string(generated), 36)

	requested := dial(t, srv, newJar(t), "alice").open()
	assert.Equal(t, domain.PeerID("alice"), requested)

	resp, err := http.Get(srv.URL + "/api/peers")
	require.NoError(t, err)
	defer resp.Body.Close()
	var peers struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&peers))
	assert.Equal(t, 2, peers.Count)
}

func TestRequestedIDOwnership(t *testing.T) {
	srv, o := newServer(t, 0)
	jar := newJar(t)
	dial(t, srv, jar, "alice").open()

	taken := dial(t, srv, newJar(t), "alice").read()
	assert.Equal(t, domain.SignalIDTaken, taken.Type)

	// The same client token takes the id over.
	again := dial(t, srv, jar, "alice")
	assert.Equal(t, domain.PeerID("alice"), again.open())
	assert.Equal(t, 1, o.Registry.Count())
}

func TestInvalidRequestedIDIsRefused(t *testing.T) {
	srv, _ := newServer(t, 0)
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal?id=a%20b"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOfferAnswerRelay(t *testing.T) {
	srv, _ := newServer(t, 0)
	a := dial(t, srv, newJar(t), "a")
	b := dial(t, srv, newJar(t), "b")
	a.open()
	b.open()

	a.write(domain.SignalMessage{
		Type:    domain.SignalOffer,
		Dst:     "b",
		Payload: &domain.SignalPayload{Kind: domain.PayloadData, ConnectionID: "c1", Label: "peerchat"},
	})
	offer := b.read()
	assert.Equal(t, domain.SignalOffer, offer.Type)
	assert.Equal(t, domain.PeerID("a"), offer.Src)
	assert.Equal(t, "peerchat", offer.Payload.Label)

	b.write(domain.SignalMessage{
		Type:    domain.SignalAnswer,
		Dst:     "a",
		Payload: &domain.SignalPayload{Kind: domain.PayloadData, ConnectionID: "c1"},
	})
	answer := a.read()
	assert.Equal(t, domain.SignalAnswer, answer.Type)
	assert.Equal(t, domain.PeerID("b"), answer.Src)
}

func TestOfferToUnknownPeerExpires(t *testing.T) {
	srv, _ := newServer(t, 0)
	a := dial(t, srv, newJar(t), "a")
	a.open()

	a.write(domain.SignalMessage{
		Type:    domain.SignalOffer,
		Dst:     "nobody",
		Payload: &domain.SignalPayload{Kind: domain.PayloadMedia, ConnectionID: "c2"},
	})
	m := a.read()
	assert.Equal(t, domain.SignalExpire, m.Type)
	assert.Equal(t, domain.PeerID("nobody"), m.Src)
	assert.Equal(t, "c2", m.Payload.ConnectionID)
}

func TestPingAndMalformedMessages(t *testing.T) {
	srv, _ := newServer(t, 0)
	a := dial(t, srv, newJar(t), "a")
	a.open()

	a.write(domain.SignalMessage{Type: domain.SignalPing})
	assert.Equal(t, domain.SignalPong, a.read().Type)

	require.NoError(t, a.ws.WriteMessage(websocket.TextMessage, []byte("{nope")))
	m := a.read()
	assert.Equal(t, domain.SignalError, m.Type)
	assert.Equal(t, "bad_payload", m.Error)

	a.write(domain.SignalMessage{Type: domain.SignalAnswer})
	assert.Equal(t, "bad_payload", a.read().Error)
}

func TestOffersAreRateLimited(t *testing.T) {
	srv, _ := newServer(t, 1)
	a := dial(t, srv, newJar(t), "a")
	b := dial(t, srv, newJar(t), "b")
	a.open()
	b.open()

	offer := domain.SignalMessage{Type: domain.SignalOffer, Dst: "b", Payload: &domain.SignalPayload{ConnectionID: "x"}}
	a.write(offer)
	assert.Equal(t, domain.SignalOffer, b.read().Type)

	a.write(offer)
	m := a.read()
	assert.Equal(t, domain.SignalError, m.Type)
	assert.Equal(t, "rate_limited", m.Error)
}

func TestDisconnectReleasesID(t *testing.T) {
	srv, o := newServer(t, 0)
	a := dial(t, srv, newJar(t), "a")
	a.open()
	require.Equal(t, 1, o.Registry.Count())

	require.NoError(t, a.ws.Close())
	require.Eventually(t, func() bool { return o.Registry.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
