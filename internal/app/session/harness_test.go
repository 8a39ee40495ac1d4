package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/Peerchat/internal/adapters/memory"
	"github.com/dkeye/Peerchat/internal/core"
	"github.com/dkeye/Peerchat/internal/domain"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

var testConfig = Config{
	ConnectTimeout:   2 * time.Second,
	CallSetupTimeout: 2 * time.Second,
	MediaTimeout:     2 * time.Second,
	ConsentTimeout:   2 * time.Second,
	FileReadTimeout:  time.Second,
	MaxFileSize:      1 << 20,
}

type notice struct {
	level core.NoticeLevel
	msg   string
}

type notices struct {
	mu   sync.Mutex
	list []notice
}

func (n *notices) Notify(level core.NoticeLevel, msg string) {
	n.mu.Lock()
	n.list = append(n.list, notice{level, msg})
	n.mu.Unlock()
}

func (n *notices) has(level core.NoticeLevel, substr string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, x := range n.list {
		if x.level == level && strings.Contains(x.msg, substr) {
			return true
		}
	}
	return false
}

type consentFunc func(ctx context.Context, remote domain.PeerID) (bool, error)

func (f consentFunc) ConfirmCall(ctx context.Context, remote domain.PeerID) (bool, error) {
	return f(ctx, remote)
}

func accept(context.Context, domain.PeerID) (bool, error)  { return true, nil }
func decline(context.Context, domain.PeerID) (bool, error) { return false, nil }

// undecided never answers; it returns when the prompt is withdrawn.
func undecided(ctx context.Context, _ domain.PeerID) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

type sink struct {
	mu     sync.Mutex
	local  []core.Stream
	remote []core.Stream
}

func (s *sink) BindLocal(st core.Stream) {
	s.mu.Lock()
	s.local = append(s.local, st)
	s.mu.Unlock()
}

func (s *sink) BindRemote(st core.Stream) {
	s.mu.Lock()
	s.remote = append(s.remote, st)
	s.mu.Unlock()
}

func (s *sink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.local), len(s.remote)
}

type node struct {
	id    domain.PeerID
	m     *Manager
	peer  *memory.Peer
	media *memory.MediaSource
	notes *notices
	sink  *sink
}

func newNode(t *testing.T, sb *memory.Switchboard, id string, peerOpts []memory.PeerOption, opts ...Option) *node {
	t.Helper()
	n := &node{
		id:    domain.PeerID(id),
		peer:  sb.NewPeer(id, peerOpts...),
		media: memory.NewMediaSource(),
		notes: &notices{},
		sink:  &sink{},
	}
	all := append([]Option{
		WithConfig(testConfig),
		WithNotifier(n.notes),
		WithSink(n.sink),
		WithConsent(consentFunc(accept)),
	}, opts...)
	n.m = New(n.peer, n.media, all...)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = n.m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-n.m.Done()
	})
	return n
}

// startNode runs a manager and waits for its id.
func startNode(t *testing.T, sb *memory.Switchboard, id string, opts ...Option) *node {
	t.Helper()
	n := newNode(t, sb, id, nil, opts...)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	got, err := n.m.AwaitReady(ctx)
	require.NoError(t, err)
	require.Equal(t, n.id, got)
	return n
}

func (n *node) state(t *testing.T) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	s, err := n.m.State(ctx)
	require.NoError(t, err)
	return s
}

func (n *node) connState(t *testing.T, remote domain.PeerID) domain.ConnectionState {
	for _, c := range n.state(t).Connections {
		if c.RemoteID == remote {
			return c.State
		}
	}
	return ""
}

func (n *node) callState(t *testing.T) domain.CallState {
	if c := n.state(t).Call; c != nil {
		return c.State
	}
	return ""
}

func bg(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	t.Cleanup(cancel)
	return ctx
}

// connected links a to b and waits until both ends are open.
func connected(t *testing.T, a, b *node) {
	t.Helper()
	require.NoError(t, a.m.Connect(bg(t), string(b.id)))
	require.Eventually(t, func() bool {
		return a.connState(t, b.id) == domain.ConnectionOpen && b.connState(t, a.id) == domain.ConnectionOpen
	}, waitFor, tick)
}
