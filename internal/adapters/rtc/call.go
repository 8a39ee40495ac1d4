package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Peerchat/internal/core"
	"github.com/dkeye/Peerchat/internal/domain"
)

// mediaCall carries one audio/video exchange on its own PeerConnection.
type mediaCall struct {
	p      *Peer
	id     string
	remote domain.PeerID
	logger zerolog.Logger

	mu       sync.Mutex
	h        core.CallHandler
	pc       *webrtc.PeerConnection
	offer    *webrtc.SessionDescription
	remoteMS *RemoteStream
	answered bool
	closed   bool
}

func newMediaCall(p *Peer, id string, remote domain.PeerID, h core.CallHandler) *mediaCall {
	return &mediaCall{
		p:      p,
		id:     id,
		remote: remote,
		h:      h,
		logger: log.With().Str("module", "rtc.call").Str("connection_id", id).Str("remote", string(remote)).Logger(),
	}
}

func (c *mediaCall) ID() string              { return c.id }
func (c *mediaCall) RemoteID() domain.PeerID { return c.remote }

func localStream(s core.Stream) (*LocalStream, error) {
	ls, ok := s.(*LocalStream)
	if !ok {
		return nil, fmt.Errorf("rtc: unsupported local stream %T", s)
	}
	return ls, nil
}

func (p *Peer) Call(remote domain.PeerID, local core.Stream, h core.CallHandler) (core.MediaCall, error) {
	_, ctx, err := p.ready()
	if err != nil {
		return nil, err
	}
	ls, err := localStream(local)
	if err != nil {
		return nil, err
	}
	c := newMediaCall(p, uuid.NewString(), remote, h)
	p.addLink(c.id, c)
	go func() {
		if err := c.dial(ctx, ls); err != nil {
			c.fail(err)
		}
	}()
	return c, nil
}

func (c *mediaCall) dial(ctx context.Context, ls *LocalStream) error {
	pc, err := c.newPC(ls)
	if err != nil || pc == nil {
		return err
	}
	c.logger.Info().Msg("offering call")
	return c.p.offer(ctx, pc, c.remote, domain.SignalPayload{Kind: domain.PayloadMedia, ConnectionID: c.id})
}

// acceptCall surfaces an inbound call. It is answered only by Answer.
func (p *Peer) acceptCall(remote domain.PeerID, payload *domain.SignalPayload) {
	if _, _, err := p.ready(); err != nil {
		return
	}
	c := newMediaCall(p, payload.ConnectionID, remote, nil)
	offer := *payload.SDP
	c.offer = &offer
	p.addLink(c.id, c)
	p.dispatch(func() {
		h := p.currentHandler().HandleCall(c)
		c.mu.Lock()
		c.h = h
		closed := c.closed
		c.mu.Unlock()
		if closed {
			p.dispatch(h.HandleClose)
		}
	})
}

// Answer sends local in reply to the offer. Negotiation continues in the
// background; failures arrive as error events.
func (c *mediaCall) Answer(local core.Stream) error {
	ls, err := localStream(local)
	if err != nil {
		return err
	}
	_, ctx, err := c.p.ready()
	if err != nil {
		return err
	}
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return domain.ErrClosed
	case c.offer == nil:
		c.mu.Unlock()
		return errors.New("rtc: only inbound calls can be answered")
	case c.answered:
		c.mu.Unlock()
		return nil
	}
	c.answered = true
	offer := *c.offer
	c.mu.Unlock()

	go func() {
		pc, err := c.newPC(ls)
		if err == nil && pc != nil {
			c.logger.Info().Msg("answering call")
			err = c.p.answer(ctx, pc, c.remote, offer, domain.SignalPayload{Kind: domain.PayloadMedia, ConnectionID: c.id})
		}
		if err != nil {
			c.fail(err)
		}
	}()
	return nil
}

// newPC builds the PeerConnection carrying ls. It returns nil when the
// call closed meanwhile.
func (c *mediaCall) newPC(ls *LocalStream) (*webrtc.PeerConnection, error) {
	pc, err := c.p.newPeerConnection()
	if err != nil {
		return nil, err
	}
	for _, t := range ls.Tracks() {
		sender, err := pc.AddTrack(t)
		if err != nil {
			closePC(pc, c.id)
			return nil, fmt.Errorf("add track %s: %w", t.ID(), err)
		}
		go drainRTCP(sender)
	}
	pc.OnTrack(c.onTrack)
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed {
			go c.fail(errors.New("peer connection failed"))
		}
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		closePC(pc, c.id)
		return nil, nil
	}
	c.pc = pc
	c.mu.Unlock()
	return pc, nil
}

// drainRTCP reads RTCP so the sender's buffers never fill.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// onTrack fires the stream event for the first track; later tracks join
// the same remote stream.
func (c *mediaCall) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	c.logger.Info().
		Str("kind", track.Kind().String()).
		Str("track_id", track.ID()).
		Str("stream_id", track.StreamID()).
		Msg("OnTrack received")

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	first := c.remoteMS == nil
	if first {
		c.remoteMS = newRemoteStream(track.StreamID())
	}
	rs, h := c.remoteMS, c.h
	c.mu.Unlock()

	rs.add(track)
	if first && h != nil {
		c.p.dispatch(func() { h.HandleStream(rs) })
	}
}

func (c *mediaCall) onAnswer(sdp webrtc.SessionDescription) {
	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()
	if pc == nil {
		return
	}
	if err := pc.SetRemoteDescription(sdp); err != nil {
		c.fail(err)
	}
}

func (c *mediaCall) onLeave() { c.shut(false) }

func (c *mediaCall) onExpire() { c.fail(domain.ErrPeerUnavailable) }

// Close hangs up. An unanswered inbound call is declined.
func (c *mediaCall) Close() error {
	c.shut(true)
	return nil
}

func (c *mediaCall) fail(err error) {
	c.mu.Lock()
	h, closed := c.h, c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.logger.Error().Err(err).Msg("call failed")
	if h != nil {
		c.p.dispatch(func() { h.HandleError(err) })
	}
	c.shut(true)
}

func (c *mediaCall) shut(notifyRemote bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pc, h, rs := c.pc, c.h, c.remoteMS
	c.mu.Unlock()

	c.p.removeLink(c.id)
	if notifyRemote {
		c.p.leave(c.remote, domain.PayloadMedia, c.id)
	}
	closePC(pc, c.id)
	if rs != nil {
		_ = rs.Close()
	}
	if h != nil {
		c.p.dispatch(h.HandleClose)
	}
}
