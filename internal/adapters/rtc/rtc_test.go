package rtc

import (
	"bytes"
	"context"
	"errors"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/dkeye/Peerchat/internal/adapters/http"
	"github.com/dkeye/Peerchat/internal/app"
	"github.com/dkeye/Peerchat/internal/app/orch"
	"github.com/dkeye/Peerchat/internal/app/playback"
	"github.com/dkeye/Peerchat/internal/config"
	"github.com/dkeye/Peerchat/internal/core"
	"github.com/dkeye/Peerchat/internal/domain"
)

const waitFor = 15 * time.Second

// recorder turns adapter events into channels.
type recorder struct {
	opened chan string
	errs   chan error
	conns  chan core.DataConnection
	calls  chan core.MediaCall
	connEv *connRecorder
	callEv *callRecorder
}

func newRecorder() *recorder {
	return &recorder{
		opened: make(chan string, 4),
		errs:   make(chan error, 4),
		conns:  make(chan core.DataConnection, 4),
		calls:  make(chan core.MediaCall, 4),
		connEv: newConnRecorder(),
		callEv: newCallRecorder(),
	}
}

func (r *recorder) HandleOpen(id string)      { r.opened <- id }
func (r *recorder) HandlePeerError(err error) { r.errs <- err }

func (r *recorder) HandleConnection(c core.DataConnection) core.ConnectionHandler {
	r.conns <- c
	return r.connEv
}

func (r *recorder) HandleCall(c core.MediaCall) core.CallHandler {
	r.calls <- c
	return r.callEv
}

type connRecorder struct {
	open   chan struct{}
	data   chan []byte
	closed chan struct{}
	errs   chan error
}

func newConnRecorder() *connRecorder {
	return &connRecorder{
		open:   make(chan struct{}, 4),
		data:   make(chan []byte, 16),
		closed: make(chan struct{}, 4),
		errs:   make(chan error, 4),
	}
}

func (r *connRecorder) HandleOpen()           { r.open <- struct{}{} }
func (r *connRecorder) HandleData(b []byte)   { r.data <- b }
func (r *connRecorder) HandleClose()          { r.closed <- struct{}{} }
func (r *connRecorder) HandleError(err error) { r.errs <- err }

type callRecorder struct {
	streams chan core.Stream
	closed  chan struct{}
	errs    chan error
}

func newCallRecorder() *callRecorder {
	return &callRecorder{
		streams: make(chan core.Stream, 4),
		closed:  make(chan struct{}, 4),
		errs:    make(chan error, 4),
	}
}

func (r *callRecorder) HandleStream(s core.Stream) { r.streams <- s }
func (r *callRecorder) HandleClose()               { r.closed <- struct{}{} }
func (r *callRecorder) HandleError(err error)      { r.errs <- err }

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatalf("no event within %s", waitFor)
	}
	var zero T
	return zero
}

type fakeLink struct {
	left    chan struct{}
	expired chan struct{}
}

func (l *fakeLink) onAnswer(webrtc.SessionDescription) {}
func (l *fakeLink) onLeave()                           { l.left <- struct{}{} }
func (l *fakeLink) onExpire()                          { l.expired <- struct{}{} }
func (l *fakeLink) Close() error                       { return nil }

func TestSignalRouting(t *testing.T) {
	p, err := NewPeer(Options{SignalURL: "ws://127.0.0.1:1/api/ws/signal"})
	require.NoError(t, err)
	rec := newRecorder()
	p.handler = rec
	go p.q.Run()
	defer p.q.Close()

	p.handleSignal(domain.SignalMessage{Type: domain.SignalOpen, ID: "a"})
	p.handleSignal(domain.SignalMessage{Type: domain.SignalOpen, ID: "b"})
	assert.Equal(t, "a", recv(t, rec.opened))
	select {
	case id := <-rec.opened:
		t.Fatalf("second open event for %q", id)
	case <-time.After(50 * time.Millisecond):
	}

	p.handleSignal(domain.SignalMessage{Type: domain.SignalIDTaken, ID: "a"})
	assert.ErrorIs(t, recv(t, rec.errs), domain.ErrIDTaken)

	l := &fakeLink{left: make(chan struct{}, 1), expired: make(chan struct{}, 1)}
	p.addLink("c1", l)
	p.handleSignal(domain.SignalMessage{Type: domain.SignalLeave, Src: "b", Payload: &domain.SignalPayload{ConnectionID: "c1"}})
	recv(t, l.left)
	p.handleSignal(domain.SignalMessage{Type: domain.SignalExpire, Src: "b", Payload: &domain.SignalPayload{ConnectionID: "c1"}})
	recv(t, l.expired)
	p.handleSignal(domain.SignalMessage{Type: domain.SignalLeave, Payload: &domain.SignalPayload{ConnectionID: "unknown"}})
}

func TestConnectBeforeOpen(t *testing.T) {
	p, err := NewPeer(Options{SignalURL: "ws://127.0.0.1:1/api/ws/signal"})
	require.NoError(t, err)
	_, err = p.Connect("b", newConnRecorder())
	assert.ErrorIs(t, err, domain.ErrNotReady)

	_, err = NewPeer(Options{})
	assert.Error(t, err)
}

func TestUnreachableSignalServer(t *testing.T) {
	p, err := NewPeer(Options{SignalURL: "ws://127.0.0.1:1/api/ws/signal"})
	require.NoError(t, err)
	rec := newRecorder()
	require.NoError(t, p.Start(context.Background(), rec))
	defer p.Close()
	assert.Error(t, recv(t, rec.errs))
}

func TestMediaSources(t *testing.T) {
	_, err := NoDevice{}.Acquire(context.Background(), core.Constraints{Audio: true})
	assert.ErrorIs(t, err, domain.ErrNoDevice)

	s, err := SyntheticSource{}.Acquire(context.Background(), core.Constraints{Audio: true, Video: true})
	require.NoError(t, err)
	ls := s.(*LocalStream)
	require.Len(t, ls.Tracks(), 2)
	assert.Equal(t, webrtc.RTPCodecTypeAudio, ls.Tracks()[0].Kind())
	assert.Equal(t, webrtc.RTPCodecTypeVideo, ls.Tracks()[1].Kind())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = SyntheticSource{}.Acquire(ctx, core.Constraints{Audio: true})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCallRejectsForeignStreams(t *testing.T) {
	_, err := localStream(foreignStream{})
	assert.Error(t, err)
}

type foreignStream struct{}

func (foreignStream) ID() string   { return "foreign" }
func (foreignStream) Close() error { return nil }

func signalServer(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	cfg := &config.Config{Mode: "release", Secret: "test", OfferRateLimit: 100, OfferRateInterval: time.Second}
	o := &orch.Orchestrator{Registry: app.NewRegistry(), Policy: app.SimplePolicy{}}
	srv := httptest.NewServer(httpadapter.SetupRouter(ctx, cfg, o))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
}

func startPeer(t *testing.T, url, id string) (*Peer, *recorder) {
	t.Helper()
	p, err := NewPeer(Options{SignalURL: url, RequestedID: id, ChunkSize: 4096})
	require.NoError(t, err)
	rec := newRecorder()
	require.NoError(t, p.Start(context.Background(), rec))
	t.Cleanup(func() { _ = p.Close() })
	require.Equal(t, id, recv(t, rec.opened))
	return p, rec
}

func TestSharedJarReclaimsRequestedID(t *testing.T) {
	url := signalServer(t)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	start := func(j *cookiejar.Jar) *recorder {
		p, err := NewPeer(Options{SignalURL: url, RequestedID: "alice", Jar: j})
		require.NoError(t, err)
		rec := newRecorder()
		require.NoError(t, p.Start(context.Background(), rec))
		t.Cleanup(func() { _ = p.Close() })
		return rec
	}

	assert.Equal(t, "alice", recv(t, start(jar).opened))
	assert.Equal(t, "alice", recv(t, start(jar).opened))

	stranger, err := cookiejar.New(nil)
	require.NoError(t, err)
	assert.ErrorIs(t, recv(t, start(stranger).errs), domain.ErrIDTaken)
}

func TestLoopbackSession(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real peer connections")
	}
	url := signalServer(t)
	a, _ := startPeer(t, url, "alice")
	_, bRec := startPeer(t, url, "bob")

	aConn := newConnRecorder()
	conn, err := a.Connect("bob", aConn)
	require.NoError(t, err)

	big := bytes.Repeat([]byte("peerchat "), 3000)
	require.NoError(t, conn.Send([]byte("queued before open")))

	inbound := recv(t, bRec.conns)
	assert.Equal(t, domain.PeerID("alice"), inbound.RemoteID())
	assert.Equal(t, conn.ID(), inbound.ID())
	recv(t, aConn.open)
	recv(t, bRec.connEv.open)

	require.NoError(t, conn.Send(big))
	assert.Equal(t, []byte("queued before open"), recv(t, bRec.connEv.data))
	assert.Equal(t, big, recv(t, bRec.connEv.data))

	require.NoError(t, inbound.Send([]byte("reply")))
	assert.Equal(t, []byte("reply"), recv(t, aConn.data))

	local, err := SyntheticSource{}.Acquire(context.Background(), core.Constraints{Audio: true, Video: true})
	require.NoError(t, err)
	defer local.Close()
	aCall := newCallRecorder()
	call, err := a.Call("bob", local, aCall)
	require.NoError(t, err)

	offered := recv(t, bRec.calls)
	bLocal, err := SyntheticSource{}.Acquire(context.Background(), core.Constraints{Audio: true, Video: true})
	require.NoError(t, err)
	defer bLocal.Close()
	require.NoError(t, offered.Answer(bLocal))

	remote := recv(t, aCall.streams)
	recv(t, bRec.callEv.streams)

	feed, ok := remote.(playback.Feed)
	require.True(t, ok)
	relays := playback.NewManager()
	defer relays.StopAll()
	counter := &playback.Counter{}
	feed.OnTrack(func(id string, src playback.PacketSource) {
		relays.Start(context.Background(), id, src)
		relays.AddOutput(id, "speaker", counter)
	})
	require.Eventually(t, func() bool { return counter.Packets() > 0 }, waitFor, 20*time.Millisecond)

	require.NoError(t, call.Close())
	recv(t, aCall.closed)
	recv(t, bRec.callEv.closed)

	require.NoError(t, conn.Close())
	recv(t, aConn.closed)
	recv(t, bRec.connEv.closed)
}

func TestConnectToOfflinePeer(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real peer connections")
	}
	url := signalServer(t)
	a, _ := startPeer(t, url, "alice")

	rec := newConnRecorder()
	_, err := a.Connect("nobody", rec)
	require.NoError(t, err)
	err = recv(t, rec.errs)
	assert.True(t, errors.Is(err, domain.ErrPeerUnavailable))
	recv(t, rec.closed)
}
