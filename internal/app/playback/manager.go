// Package playback forwards RTP from remote tracks to local outputs.
package playback

import (
	"context"
	"sync"

	"github.com/dkeye/Peerchat/internal/core"
	"github.com/rs/zerolog/log"
)

// Feed is a remote stream whose tracks can be relayed. OnTrack fires once
// per track, including tracks that arrived before it was set.
type Feed interface {
	core.Stream
	OnTrack(fn func(trackID string, src PacketSource))
}

// Manager owns the relays of every remote track, keyed by track id.
type Manager struct {
	mu     sync.RWMutex
	relays map[string]*Relay
}

func NewManager() *Manager {
	return &Manager{relays: make(map[string]*Relay)}
}

// Start creates the relay for trackID and starts its loop. A relay already
// running for trackID is replaced.
func (m *Manager) Start(ctx context.Context, trackID string, src PacketSource) *Relay {
	logger := log.With().
		Str("module", "playback").
		Str("track_id", trackID).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(src, cancel)

	m.mu.Lock()
	if old, ok := m.relays[trackID]; ok {
		logger.Info().Msg("replacing existing relay")
		old.markAllDelete()
		old.cancel()
	}
	m.relays[trackID] = relay
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")
	go relay.loop(relayCtx, &logger)
	return relay
}

// AddOutput attaches w to the relay of trackID under name.
func (m *Manager) AddOutput(trackID, name string, w PacketWriter) bool {
	m.mu.RLock()
	relay, ok := m.relays[trackID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	relay.AddOutput(name, NewOutput(w))
	return true
}

// Mute pauses the named output on every relay.
func (m *Manager) Mute(name string) {
	m.each(name, (*Output).MarkMuted)
}

func (m *Manager) Unmute(name string) {
	m.each(name, (*Output).MarkOk)
}

func (m *Manager) each(name string, fn func(*Output)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, relay := range m.relays {
		if out, ok := relay.output(name); ok {
			fn(out)
		}
	}
}

// Stop cancels the relay of trackID and forgets it.
func (m *Manager) Stop(trackID string) {
	m.mu.Lock()
	relay, ok := m.relays[trackID]
	delete(m.relays, trackID)
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.markAllDelete()
	relay.cancel()
}

func (m *Manager) StopAll() {
	m.mu.Lock()
	relays := m.relays
	m.relays = make(map[string]*Relay)
	m.mu.Unlock()
	for _, relay := range relays {
		relay.markAllDelete()
		relay.cancel()
	}
}

func (m *Manager) Has(trackID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[trackID]
	return ok
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.relays)
}
