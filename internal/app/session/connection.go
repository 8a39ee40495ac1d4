package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Peerchat/internal/app/convo"
	"github.com/dkeye/Peerchat/internal/codec"
	"github.com/dkeye/Peerchat/internal/core"
	"github.com/dkeye/Peerchat/internal/domain"
)

// Connect opens an outbound data connection to remote and makes it
// current. It returns once the connection is registered; the open event
// is reported through the notifier.
func (m *Manager) Connect(ctx context.Context, remote string) error {
	if err := domain.ValidatePeerID(remote); err != nil {
		return err
	}
	return m.do(ctx, func() error {
		if err := m.requireReady(); err != nil {
			return err
		}
		_, err := m.connect(domain.PeerID(remote))
		return err
	})
}

func (m *Manager) connect(remote domain.PeerID) (*connEntry, error) {
	if old := m.conns.lookup(remote); old != nil && old.info.Direction == domain.Inbound && remote < m.identity.ID {
		// The remote dialed first and its link outranks ours; keep it.
		m.conns.promote(old)
		log.Info().Str("module", "app.session").
			Str("remote", string(remote)).
			Str("connection_id", old.conn.ID()).
			Msg("reusing inbound connection")
		if old.info.State == domain.ConnectionOpen {
			m.notify(core.NoticeInfo, "Already connected to %s", remote)
		}
		return old, nil
	}

	h := &connEvents{m: m}
	conn, err := m.peer.Connect(remote, h)
	if err != nil {
		terr := &domain.TransportError{RemoteID: remote, Err: err}
		log.Error().Str("module", "app.session").Str("remote", string(remote)).Err(err).Msg("connect failed")
		m.notify(core.NoticeError, "%v", terr)
		return nil, terr
	}
	e := m.register(conn, domain.Outbound, h)
	e.timer = time.AfterFunc(m.cfg.ConnectTimeout, func() {
		m.post(func() { m.connectTimedOut(e) })
	})
	return e, nil
}

func (m *Manager) acceptConnection(conn core.DataConnection, h *connEvents) {
	e := newConnEntry(conn, domain.Inbound, m.cfg.HoldLimit)
	h.entry = e
	if old := m.conns.lookup(e.info.RemoteID); old != nil && !m.outranks(e, old) {
		// Both sides dialed at once; the remote drops its own link when
		// ours reaches it.
		e.info.State = domain.ConnectionClosed
		_ = conn.Close()
		log.Info().Str("module", "app.session").
			Str("remote", string(e.info.RemoteID)).
			Str("connection_id", conn.ID()).
			Str("kept", old.conn.ID()).
			Msg("declined crossing connection")
		return
	}
	m.install(e)
	log.Info().Str("module", "app.session").
		Str("remote", string(e.info.RemoteID)).
		Str("connection_id", conn.ID()).
		Msg("accepted inbound connection")
}

// outranks reports whether e replaces old. Links to the same remote in
// opposite directions keep the one opened by the lower peer id, so both
// ends settle on the same link.
func (m *Manager) outranks(e, old *connEntry) bool {
	if e.info.Direction == old.info.Direction {
		return true
	}
	return e.initiator(m.identity.ID) <= old.initiator(m.identity.ID)
}

func newConnEntry(conn core.DataConnection, dir domain.Direction, holdLimit int) *connEntry {
	return &connEntry{
		conn: conn,
		info: domain.Connection{
			RemoteID:  conn.RemoteID(),
			Direction: dir,
			State:     domain.ConnectionOpening,
		},
		inbound: convo.NewSequencer(holdLimit),
	}
}

func (m *Manager) register(conn core.DataConnection, dir domain.Direction, h *connEvents) *connEntry {
	e := newConnEntry(conn, dir, m.cfg.HoldLimit)
	h.entry = e
	m.install(e)
	return e
}

func (m *Manager) install(e *connEntry) {
	if old := m.conns.install(e); old != nil {
		log.Info().Str("module", "app.session").
			Str("remote", string(old.info.RemoteID)).
			Str("connection_id", old.conn.ID()).
			Msg("closed superseded connection")
	}
}

func (m *Manager) connectionOpened(e *connEntry) {
	if !m.conns.live(e) {
		m.dropStale("open", e)
		return
	}
	e.stopTimer()
	e.info.State = domain.ConnectionOpen
	log.Info().Str("module", "app.session").
		Str("remote", string(e.info.RemoteID)).
		Str("direction", string(e.info.Direction)).
		Msg("connection open")
	if e.info.Direction == domain.Outbound {
		m.notify(core.NoticeSuccess, "Connected to %s", e.info.RemoteID)
	} else {
		m.notify(core.NoticeInfo, "%s connected", e.info.RemoteID)
	}
}

func (m *Manager) frameReceived(e *connEntry, payload []byte) {
	if !m.conns.live(e) {
		m.dropStale("data", e)
		return
	}
	f, err := codec.Decode(payload)
	if err != nil {
		log.Warn().Str("module", "app.session").Str("remote", string(e.info.RemoteID)).Err(err).Msg("dropping undecodable frame")
		return
	}
	log.Debug().Str("module", "app.session").
		Str("remote", string(e.info.RemoteID)).
		Str("type", f.Type).
		Uint64("seq", f.Seq).
		Msg("frame received")

	deliverable, fresh := e.inbound.Push(f.Entry(e.info.RemoteID))
	if !fresh {
		log.Warn().Str("module", "app.session").Str("remote", string(e.info.RemoteID)).Uint64("seq", f.Seq).Msg("dropping duplicate frame")
		return
	}
	m.deliver(e, deliverable)
	m.armGap(e)
}

func (m *Manager) deliver(e *connEntry, entries []domain.MessageEntry) {
	for _, entry := range entries {
		if _, err := m.log.Append(entry); err != nil {
			log.Warn().Str("module", "app.session").Str("remote", string(e.info.RemoteID)).Err(err).Msg("dropping invalid entry")
		}
	}
}

// armGap starts the gap timer while frames are held and stops it once
// nothing is.
func (m *Manager) armGap(e *connEntry) {
	if e.inbound.Held() == 0 {
		e.stopGap()
		return
	}
	if e.gap != nil {
		return
	}
	e.gap = time.AfterFunc(m.cfg.GapTimeout, func() {
		m.post(func() { m.gapExpired(e) })
	})
}

func (m *Manager) gapExpired(e *connEntry) {
	if !m.conns.live(e) {
		return
	}
	e.gap = nil
	released := e.inbound.SkipGap()
	log.Warn().Str("module", "app.session").
		Str("remote", string(e.info.RemoteID)).
		Int("released", len(released)).
		Dur("timeout", m.cfg.GapTimeout).
		Msg("skipping missing frames")
	m.deliver(e, released)
	m.armGap(e)
}

func (m *Manager) connectionClosed(e *connEntry) {
	if !m.conns.live(e) {
		m.dropStale("close", e)
		return
	}
	e.retire()
	m.conns.remove(e)
	log.Info().Str("module", "app.session").Str("remote", string(e.info.RemoteID)).Msg("connection closed")
	m.notify(core.NoticeInfo, "Connection with %s closed", e.info.RemoteID)
}

func (m *Manager) connectionFailed(e *connEntry, err error) {
	if !m.conns.live(e) {
		m.dropStale("error", e)
		return
	}
	terr := &domain.TransportError{RemoteID: e.info.RemoteID, Err: err}
	log.Error().Str("module", "app.session").Str("remote", string(e.info.RemoteID)).Err(err).Msg("connection error")
	m.notify(core.NoticeError, "%v", terr)
}

func (m *Manager) connectTimedOut(e *connEntry) {
	if !m.conns.live(e) || e.info.State != domain.ConnectionOpening {
		return
	}
	e.timer = nil
	e.retire()
	m.conns.remove(e)
	_ = e.conn.Close()
	terr := &domain.TransportError{RemoteID: e.info.RemoteID, Err: fmt.Errorf("open: %w", domain.ErrTimeout)}
	log.Error().Str("module", "app.session").Str("remote", string(e.info.RemoteID)).Dur("timeout", m.cfg.ConnectTimeout).Msg("connection did not open")
	m.notify(core.NoticeError, "%v", terr)
}

func (m *Manager) dropStale(event string, e *connEntry) {
	ev := log.Warn().Str("module", "app.session").Str("event", event)
	if e != nil {
		ev = ev.Str("remote", string(e.info.RemoteID)).Str("connection_id", e.conn.ID())
	}
	ev.Msg("ignoring event from stale connection")
}
