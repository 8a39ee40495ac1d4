package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Peerchat/internal/core"
	"github.com/dkeye/Peerchat/internal/domain"
)

// callEntry is the current call. Only the event loop touches it.
type callEntry struct {
	call   core.MediaCall
	info   domain.Call
	local  core.Stream
	remote core.Stream
	cancel context.CancelFunc
	timer  *time.Timer
}

func (c *callEntry) stopWaiting() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

var avConstraints = core.Constraints{Audio: true, Video: true}

// Call starts an outbound audio/video call to remote. It returns once
// media acquisition has started; progress is reported through the
// notifier and State. A data connection to remote is opened too unless
// one is already registered.
func (m *Manager) Call(ctx context.Context, remote string) error {
	if err := domain.ValidatePeerID(remote); err != nil {
		return err
	}
	return m.do(ctx, func() error {
		if err := m.requireReady(); err != nil {
			return err
		}
		if m.call != nil {
			return domain.ErrCallInProgress
		}
		id := domain.PeerID(remote)
		if m.conns.lookup(id) == nil {
			// Failure is already reported; the call goes ahead regardless.
			_, _ = m.connect(id)
		}
		ce := &callEntry{info: domain.Call{RemoteID: id, Direction: domain.Outbound, State: domain.CallIdle}}
		m.call = ce
		m.transition(ce, domain.CallAwaitingMedia)
		m.acquireMedia(ce)
		return nil
	})
}

// EndCall hangs up the current call in whatever state it is.
func (m *Manager) EndCall(ctx context.Context) error {
	return m.do(ctx, func() error {
		if m.call == nil {
			return domain.ErrNoCall
		}
		remote := m.call.info.RemoteID
		m.hangUp(m.call, "ended locally")
		m.notify(core.NoticeInfo, "Call with %s ended", remote)
		return nil
	})
}

func (m *Manager) offerReceived(mc core.MediaCall, h *callEvents) {
	ce := &callEntry{
		call: mc,
		info: domain.Call{RemoteID: mc.RemoteID(), Direction: domain.Inbound, State: domain.CallIdle},
	}
	h.entry = ce
	if m.call != nil {
		log.Info().Str("module", "app.session").
			Str("remote", string(ce.info.RemoteID)).
			Str("busy_with", string(m.call.info.RemoteID)).
			Msg("rejecting call offer while busy")
		_ = mc.Close()
		m.notify(core.NoticeInfo, "Rejected call from %s: busy", ce.info.RemoteID)
		return
	}

	m.call = ce
	m.transition(ce, domain.CallAwaitingConsent)
	m.notify(core.NoticeInfo, "Incoming call from %s", ce.info.RemoteID)

	ctx, cancel := context.WithTimeout(m.runCtx, m.cfg.ConsentTimeout)
	ce.cancel = cancel
	go func() {
		ok, err := m.consent.ConfirmCall(ctx, ce.info.RemoteID)
		m.post(func() { m.consentDecided(ce, ok, err) })
	}()
}

func (m *Manager) consentDecided(ce *callEntry, accepted bool, err error) {
	if m.call != ce || ce.info.State != domain.CallAwaitingConsent {
		m.dropStaleCall("consent", ce)
		return
	}
	ce.stopWaiting()
	if err != nil || !accepted {
		ev := log.Info().Str("module", "app.session").Str("remote", string(ce.info.RemoteID))
		if err != nil {
			ev = ev.AnErr("consent_err", err)
		}
		ev.Msg("declined call")
		_ = ce.call.Close()
		m.release(ce)
		m.notify(core.NoticeInfo, "Declined call from %s", ce.info.RemoteID)
		return
	}
	m.transition(ce, domain.CallAwaitingMedia)
	m.acquireMedia(ce)
}

func (m *Manager) acquireMedia(ce *callEntry) {
	ctx, cancel := context.WithTimeout(m.runCtx, m.cfg.MediaTimeout)
	ce.cancel = cancel
	go func() {
		stream, err := m.media.Acquire(ctx, avConstraints)
		if errors.Is(err, context.DeadlineExceeded) {
			err = domain.ErrTimeout
		}
		if !m.post(func() { m.mediaReady(ce, stream, err) }) && stream != nil {
			_ = stream.Close()
		}
	}()
}

func (m *Manager) mediaReady(ce *callEntry, stream core.Stream, err error) {
	if m.call != ce || ce.info.State != domain.CallAwaitingMedia || ce.local != nil {
		if stream != nil {
			_ = stream.Close()
		}
		m.dropStaleCall("media", ce)
		return
	}
	ce.stopWaiting()

	if err != nil {
		merr := &domain.MediaAcquisitionError{Err: err}
		log.Error().Str("module", "app.session").Str("remote", string(ce.info.RemoteID)).Err(err).Msg("media acquisition failed")
		if ce.call != nil {
			_ = ce.call.Close()
		}
		m.release(ce)
		m.notify(core.NoticeError, "%v", merr)
		return
	}

	ce.local = stream
	m.sink.BindLocal(stream)

	if ce.info.Direction == domain.Outbound {
		mc, err := m.peer.Call(ce.info.RemoteID, stream, &callEvents{m: m, entry: ce})
		if err != nil {
			m.abortCall(ce, err)
			return
		}
		ce.call = mc
	} else if err := ce.call.Answer(stream); err != nil {
		m.abortCall(ce, err)
		return
	}

	ce.timer = time.AfterFunc(m.cfg.CallSetupTimeout, func() {
		m.post(func() { m.setupTimedOut(ce) })
	})
}

func (m *Manager) remoteStream(ce *callEntry, stream core.Stream) {
	if ce == nil || m.call != ce {
		m.dropStaleCall("stream", ce)
		return
	}
	if ce.info.State != domain.CallAwaitingMedia || ce.local == nil {
		log.Warn().Str("module", "app.session").
			Str("remote", string(ce.info.RemoteID)).
			Str("state", string(ce.info.State)).
			Msg("ignoring unexpected remote stream")
		return
	}
	ce.stopWaiting()
	ce.remote = stream
	m.sink.BindRemote(stream)
	m.transition(ce, domain.CallActive)
	m.notify(core.NoticeSuccess, "Call with %s active", ce.info.RemoteID)
}

func (m *Manager) remoteHangUp(ce *callEntry) {
	if ce == nil || m.call != ce {
		m.dropStaleCall("close", ce)
		return
	}
	remote := ce.info.RemoteID
	m.hangUp(ce, "closed by remote")
	m.notify(core.NoticeInfo, "Call with %s ended", remote)
}

// callFailed reports a call error. The call stays up until its close event.
func (m *Manager) callFailed(ce *callEntry, err error) {
	if ce == nil || m.call != ce {
		m.dropStaleCall("error", ce)
		return
	}
	cerr := &domain.CallError{RemoteID: ce.info.RemoteID, Err: err}
	log.Error().Str("module", "app.session").Str("remote", string(ce.info.RemoteID)).Str("state", string(ce.info.State)).Err(err).Msg("call error")
	m.notify(core.NoticeError, "%v", cerr)
}

func (m *Manager) setupTimedOut(ce *callEntry) {
	if m.call != ce || ce.info.State != domain.CallAwaitingMedia {
		return
	}
	ce.timer = nil
	cerr := &domain.CallError{RemoteID: ce.info.RemoteID, Err: fmt.Errorf("remote stream: %w", domain.ErrTimeout)}
	log.Error().Str("module", "app.session").Str("remote", string(ce.info.RemoteID)).Dur("timeout", m.cfg.CallSetupTimeout).Msg("call setup timed out")
	m.hangUp(ce, "setup timed out")
	m.notify(core.NoticeError, "%v", cerr)
}

func (m *Manager) abortCall(ce *callEntry, err error) {
	terr := &domain.TransportError{RemoteID: ce.info.RemoteID, Err: err}
	log.Error().Str("module", "app.session").Str("remote", string(ce.info.RemoteID)).Err(err).Msg("call setup failed")
	m.hangUp(ce, "setup failed")
	m.notify(core.NoticeError, "%v", terr)
}

// hangUp closes the transport side of ce and releases it.
func (m *Manager) hangUp(ce *callEntry, reason string) {
	ce.stopWaiting()
	if ce.call != nil {
		if err := ce.call.Close(); err != nil {
			log.Warn().Str("module", "app.session").Str("remote", string(ce.info.RemoteID)).Err(err).Msg("close call")
		}
	}
	log.Info().Str("module", "app.session").Str("remote", string(ce.info.RemoteID)).Str("reason", reason).Msg("call over")
	m.release(ce)
}

// release stops local media and forgets ce. Bound streams stay bound.
func (m *Manager) release(ce *callEntry) {
	ce.stopWaiting()
	if ce.local != nil {
		if err := ce.local.Close(); err != nil {
			log.Warn().Str("module", "app.session").Err(err).Msg("stop local media")
		}
	}
	m.transition(ce, domain.CallClosed)
	if m.call == ce {
		m.call = nil
	}
}

func (m *Manager) transition(ce *callEntry, to domain.CallState) {
	from := ce.info.State
	if err := ce.info.Transition(to); err != nil {
		log.Error().Str("module", "app.session").Err(err).Msg("call state")
		return
	}
	log.Info().Str("module", "app.session").
		Str("remote", string(ce.info.RemoteID)).
		Str("direction", string(ce.info.Direction)).
		Str("from", string(from)).
		Str("state", string(to)).
		Msg("call state")
}

func (m *Manager) dropStaleCall(event string, ce *callEntry) {
	ev := log.Warn().Str("module", "app.session").Str("event", event)
	if ce != nil {
		ev = ev.Str("remote", string(ce.info.RemoteID))
	}
	ev.Msg("ignoring event from stale call")
}
