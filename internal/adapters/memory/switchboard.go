// Package memory is an in-process implementation of the peer transport.
// A Switchboard plays the signaling service: peers registered on the same
// switchboard can reach each other by id. Events are delivered on one
// goroutine per peer, in order, never from inside the caller's method.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Peerchat/internal/adapters/dispatch"
	"github.com/dkeye/Peerchat/internal/core"
	"github.com/dkeye/Peerchat/internal/domain"
)

type Switchboard struct {
	mu    sync.Mutex
	peers map[domain.PeerID]*Peer
}

func NewSwitchboard() *Switchboard {
	return &Switchboard{peers: make(map[domain.PeerID]*Peer)}
}

func (s *Switchboard) register(p *Peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.peers[p.id]; taken {
		return domain.ErrIDTaken
	}
	s.peers[p.id] = p
	return nil
}

func (s *Switchboard) unregister(p *Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peers[p.id] == p {
		delete(s.peers, p.id)
	}
}

func (s *Switchboard) lookup(id domain.PeerID) *Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers[id]
}

// Online reports whether id is registered.
func (s *Switchboard) Online(id domain.PeerID) bool {
	return s.lookup(id) != nil
}

type PeerOption func(*Peer)

// HoldOpen keeps the open event back until ReleaseOpen is called.
func HoldOpen() PeerOption {
	return func(p *Peer) { p.holdOpen = true }
}

// Peer implements core.Peer on a Switchboard.
type Peer struct {
	sb       *Switchboard
	id       domain.PeerID
	holdOpen bool
	q        *dispatch.Queue

	mu      sync.Mutex
	handler core.PeerHandler
	started bool
	closed  bool
	sendErr error
	conns   map[*dataConn]struct{}
	calls   map[*mediaCall]struct{}
}

// NewPeer creates a peer that will claim id on Start. An empty id gets a
// generated one.
func (s *Switchboard) NewPeer(id string, opts ...PeerOption) *Peer {
	if id == "" {
		id = uuid.NewString()
	}
	p := &Peer{
		sb:    s,
		id:    domain.PeerID(id),
		q:     dispatch.NewQueue(),
		conns: make(map[*dataConn]struct{}),
		calls: make(map[*mediaCall]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Peer) ID() domain.PeerID { return p.id }

func (p *Peer) Start(ctx context.Context, h core.PeerHandler) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("memory: peer already started")
	}
	p.started = true
	p.handler = h
	p.mu.Unlock()

	go p.q.Run()
	go func() {
		<-ctx.Done()
		_ = p.Close()
	}()

	if err := p.sb.register(p); err != nil {
		p.dispatch(func() { h.HandlePeerError(err) })
		return nil
	}
	log.Debug().Str("module", "adapters.memory").Str("peer", string(p.id)).Msg("registered")
	if !p.holdOpen {
		p.dispatch(func() { h.HandleOpen(string(p.id)) })
	}
	return nil
}

// ReleaseOpen fires the open event held back by HoldOpen.
func (p *Peer) ReleaseOpen() {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h != nil {
		p.dispatch(func() { h.HandleOpen(string(p.id)) })
	}
}

// FailSends makes every later Send on this peer's connections fail with
// err. A nil err restores normal sends.
func (p *Peer) FailSends(err error) {
	p.mu.Lock()
	p.sendErr = err
	p.mu.Unlock()
}

func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns := make([]*dataConn, 0, len(p.conns))
	for c := range p.conns {
		conns = append(conns, c)
	}
	calls := make([]*mediaCall, 0, len(p.calls))
	for c := range p.calls {
		calls = append(calls, c)
	}
	p.mu.Unlock()

	p.sb.unregister(p)
	for _, c := range conns {
		_ = c.Close()
	}
	for _, c := range calls {
		_ = c.Close()
	}
	p.q.Close()
	return nil
}

func (p *Peer) dispatch(fn func()) { p.q.Push(fn) }

func (p *Peer) usable() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return domain.ErrClosed
	case !p.started:
		return domain.ErrNotReady
	}
	return nil
}

func (p *Peer) currentHandler() core.PeerHandler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler
}

func (p *Peer) sendError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sendErr
}

func (p *Peer) track(c *dataConn) {
	p.mu.Lock()
	p.conns[c] = struct{}{}
	p.mu.Unlock()
}

func (p *Peer) untrack(c *dataConn) {
	p.mu.Lock()
	delete(p.conns, c)
	p.mu.Unlock()
}

func (p *Peer) trackCall(c *mediaCall) {
	p.mu.Lock()
	p.calls[c] = struct{}{}
	p.mu.Unlock()
}

func (p *Peer) untrackCall(c *mediaCall) {
	p.mu.Lock()
	delete(p.calls, c)
	p.mu.Unlock()
}
