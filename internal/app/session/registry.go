package session

import (
	"time"

	"github.com/dkeye/Peerchat/internal/app/convo"
	"github.com/dkeye/Peerchat/internal/core"
	"github.com/dkeye/Peerchat/internal/domain"
)

// connEntry is one registered data connection. Only the event loop
// touches it.
type connEntry struct {
	conn    core.DataConnection
	info    domain.Connection
	seqOut  uint64
	inbound *convo.Sequencer
	timer   *time.Timer
	gap     *time.Timer
	order   uint64
}

func (e *connEntry) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *connEntry) stopGap() {
	if e.gap != nil {
		e.gap.Stop()
		e.gap = nil
	}
}

// retire stops every timer of an entry that is leaving the registry.
func (e *connEntry) retire() {
	e.stopTimer()
	e.stopGap()
	e.info.State = domain.ConnectionClosed
}

// initiator is the peer that opened e.
func (e *connEntry) initiator(local domain.PeerID) domain.PeerID {
	if e.info.Direction == domain.Outbound {
		return local
	}
	return e.info.RemoteID
}

// registry holds live connections keyed by remote id. The most recently
// installed one is current; sends go there.
type registry struct {
	byRemote map[domain.PeerID]*connEntry
	current  *connEntry
	installs uint64
}

func newRegistry() *registry {
	return &registry{byRemote: make(map[domain.PeerID]*connEntry)}
}

// install registers e as current. A live connection to the same remote is
// closed first and returned.
func (r *registry) install(e *connEntry) *connEntry {
	old := r.byRemote[e.info.RemoteID]
	if old != nil {
		r.remove(old)
		old.retire()
		_ = old.conn.Close()
	}
	r.installs++
	e.order = r.installs
	r.byRemote[e.info.RemoteID] = e
	r.current = e
	return old
}

// promote makes a registered entry current again.
func (r *registry) promote(e *connEntry) {
	if r.live(e) {
		r.installs++
		e.order = r.installs
		r.current = e
	}
}

func (r *registry) live(e *connEntry) bool {
	return e != nil && r.byRemote[e.info.RemoteID] == e
}

func (r *registry) lookup(remote domain.PeerID) *connEntry {
	return r.byRemote[remote]
}

func (r *registry) remove(e *connEntry) {
	if r.byRemote[e.info.RemoteID] == e {
		delete(r.byRemote, e.info.RemoteID)
	}
	if r.current == e {
		r.current = r.latest()
	}
}

// latest is the most recently installed live entry, or nil.
func (r *registry) latest() *connEntry {
	var best *connEntry
	for _, e := range r.byRemote {
		if best == nil || e.order > best.order {
			best = e
		}
	}
	return best
}

func (r *registry) all() []*connEntry {
	out := make([]*connEntry, 0, len(r.byRemote))
	for _, e := range r.byRemote {
		out = append(out, e)
	}
	return out
}
