package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Peerchat/internal/core"
	"github.com/dkeye/Peerchat/internal/domain"
	"github.com/rs/zerolog/log"
)

type peerEntry struct {
	Token  core.ClientToken
	Conn   core.SignalConnection
	Cancel context.CancelFunc
	Since  time.Time
}

// Registry maps rendezvous ids to the signaling socket that claimed them.
type Registry struct {
	mu    sync.RWMutex
	peers map[domain.PeerID]*peerEntry
}

func NewRegistry() *Registry {
	return &Registry{
		peers: make(map[domain.PeerID]*peerEntry),
	}
}

// Claim binds id to conn. An id held by another client token is refused
// with ErrIDTaken; the same token takes it over and the previous socket's
// cancel is returned so the caller can drop it.
func (r *Registry) Claim(
	id domain.PeerID,
	token core.ClientToken,
	conn core.SignalConnection,
	cancel context.CancelFunc,
) (context.CancelFunc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var previous context.CancelFunc
	if e, ok := r.peers[id]; ok {
		if e.Token != token {
			log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("id taken")
			return nil, domain.ErrIDTaken
		}
		previous = e.Cancel
		log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("reclaimed by same client")
	}
	r.peers[id] = &peerEntry{
		Token:  token,
		Conn:   conn,
		Cancel: cancel,
		Since:  time.Now(),
	}
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("bound peer")
	return previous, nil
}

func (r *Registry) Lookup(id domain.PeerID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.peers[id]; ok {
		return e.Conn, true
	}
	return nil, false
}

// Release unbinds id if conn still holds it. A socket that lost its id to
// a reclaim must not evict the new holder.
func (r *Registry) Release(id domain.PeerID, conn core.SignalConnection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[id]
	if !ok || e.Conn != conn {
		return false
	}
	delete(r.peers, id)
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("unbind peer")
	return true
}

func (r *Registry) Cancel(id domain.PeerID) bool {
	r.mu.RLock()
	e, ok := r.peers[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("canceled peer")
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// IDs returns the connected ids, sorted.
func (r *Registry) IDs() []domain.PeerID {
	r.mu.RLock()
	out := make([]domain.PeerID, 0, len(r.peers))
	for id := range r.peers {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
