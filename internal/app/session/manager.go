// Package session implements the peer Session Manager: it owns the local
// rendezvous identity, the data connections and the single media call,
// and turns transport events into conversation log entries.
//
// All state is owned by one goroutine, the event loop started by Run.
// Transport callbacks and completions of asynchronous work are posted to
// the loop as closures; public methods post a closure and wait for it.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Peerchat/internal/app/convo"
	"github.com/dkeye/Peerchat/internal/core"
	"github.com/dkeye/Peerchat/internal/domain"
)

const eventQueueSize = 256

// Snapshot is a read-only copy of session state.
type Snapshot struct {
	Identity    domain.PeerIdentity
	Connection  *domain.Connection
	Connections []domain.Connection
	Call        *domain.Call
}

type Manager struct {
	peer     core.Peer
	media    core.MediaSource
	sink     core.MediaSink
	notifier core.Notifier
	consent  core.ConsentPrompter
	log      *convo.Log
	cfg      Config

	events    chan func()
	ready     chan struct{}
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	readyOnce sync.Once

	// loop-owned
	runCtx   context.Context
	identity domain.PeerIdentity
	conns    *registry
	call     *callEntry
}

func New(peer core.Peer, media core.MediaSource, opts ...Option) *Manager {
	m := &Manager{
		peer:     peer,
		media:    media,
		sink:     nopSink{},
		notifier: logNotifier{},
		consent:  declineAll{},
		cfg:      DefaultConfig(),
		events:   make(chan func(), eventQueueSize),
		ready:    make(chan struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		conns:    newRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = convo.NewLog()
	}
	return m
}

// Log is the conversation log fed by this manager.
func (m *Manager) Log() *convo.Log { return m.log }

// Run initializes the session and processes events until ctx ends or
// Close is called. On exit the session is torn down. Run must be called
// once.
func (m *Manager) Run(ctx context.Context) error {
	started := false
	m.startOnce.Do(func() { started = true })
	if !started {
		return fmt.Errorf("session: already started or closed")
	}
	defer close(m.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.runCtx = ctx

	if err := m.Initialize(ctx); err != nil {
		m.teardown()
		return err
	}

	for {
		select {
		case fn := <-m.events:
			fn()
		case <-ctx.Done():
			m.teardown()
			return nil
		case <-m.stop:
			cancel()
			m.teardown()
			return nil
		}
	}
}

// Initialize binds the manager to the signaling service. It does not wait
// for the identity; AwaitReady does.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.peer.Start(ctx, peerEvents{m: m}); err != nil {
		log.Error().Str("module", "app.session").Err(err).Msg("peer start failed")
		return fmt.Errorf("start peer: %w", err)
	}
	log.Info().Str("module", "app.session").Msg("waiting for rendezvous id")
	return nil
}

// Close tears the session down and waits for the loop to exit.
func (m *Manager) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	running := true
	m.startOnce.Do(func() { running = false })
	if !running {
		close(m.done)
		return m.peer.Close()
	}
	<-m.done
	return nil
}

// Done is closed once the session has been torn down.
func (m *Manager) Done() <-chan struct{} { return m.done }

// AwaitReady blocks until the rendezvous id is assigned.
func (m *Manager) AwaitReady(ctx context.Context) (domain.PeerID, error) {
	select {
	case <-m.ready:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-m.done:
		return "", domain.ErrClosed
	}
	snap, err := m.State(ctx)
	if err != nil {
		return "", err
	}
	return snap.Identity.ID, nil
}

func (m *Manager) State(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := m.do(ctx, func() error {
		snap.Identity = m.identity
		if cur := m.conns.current; cur != nil {
			c := cur.info
			snap.Connection = &c
		}
		for _, e := range m.conns.all() {
			snap.Connections = append(snap.Connections, e.info)
		}
		sort.Slice(snap.Connections, func(i, j int) bool {
			return snap.Connections[i].RemoteID < snap.Connections[j].RemoteID
		})
		if m.call != nil {
			c := m.call.info
			snap.Call = &c
		}
		return nil
	})
	return snap, err
}

// post queues fn on the loop. It reports false once the loop has exited.
func (m *Manager) post(fn func()) bool {
	select {
	case m.events <- fn:
		return true
	case <-m.done:
		return false
	}
}

// do runs fn on the loop and waits for its result.
func (m *Manager) do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	if !m.post(func() { res <- fn() }) {
		return domain.ErrClosed
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return domain.ErrClosed
	}
}

func (m *Manager) notify(level core.NoticeLevel, format string, args ...any) {
	m.notifier.Notify(level, fmt.Sprintf(format, args...))
}

func (m *Manager) requireReady() error {
	if !m.identity.Ready {
		return domain.ErrNotReady
	}
	return nil
}

func (m *Manager) onOpen(id string) {
	if err := m.identity.Assign(id); err != nil {
		log.Warn().Str("module", "app.session").Str("peer", id).Err(err).Msg("ignoring repeated open")
		return
	}
	m.readyOnce.Do(func() { close(m.ready) })
	log.Info().Str("module", "app.session").Str("peer", id).Msg("rendezvous id ready")
	m.notify(core.NoticeSuccess, "Your id: %s", id)
}

func (m *Manager) onPeerError(err error) {
	log.Error().Str("module", "app.session").Err(err).Msg("peer error")
	m.notify(core.NoticeError, "Signaling error: %v", err)
}

// teardown closes the call, stops local media, closes every connection
// and the peer.
func (m *Manager) teardown() {
	if m.call != nil {
		m.hangUp(m.call, "session closed")
	}
	for _, e := range m.conns.all() {
		e.retire()
		m.conns.remove(e)
		if err := e.conn.Close(); err != nil {
			log.Warn().Str("module", "app.session").Str("remote", string(e.info.RemoteID)).Err(err).Msg("close connection")
		}
	}
	if err := m.peer.Close(); err != nil {
		log.Warn().Str("module", "app.session").Err(err).Msg("close peer")
	}
	log.Info().Str("module", "app.session").Msg("session torn down")
}
