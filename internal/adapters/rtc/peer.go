// Package rtc implements the peer transport on pion/webrtc, negotiated
// through the rendezvous server with vanilla ICE: every SDP carries its
// candidates, so only offer, answer and leave travel over signaling.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Peerchat/internal/adapters/dispatch"
	"github.com/dkeye/Peerchat/internal/codec"
	"github.com/dkeye/Peerchat/internal/core"
	"github.com/dkeye/Peerchat/internal/domain"
)

const dataLabel = "peerchat"

type Options struct {
	SignalURL     string
	RequestedID   string
	ICEServers    []string
	ChunkSize     int
	PingPeriod    time.Duration
	GatherTimeout time.Duration
	// Jar holds the rendezvous client token. Peers sharing a jar count as
	// the same client. NewPeer creates one when nil.
	Jar http.CookieJar
}

// link is a negotiated resource addressed by its connection id.
type link interface {
	onAnswer(sdp webrtc.SessionDescription)
	onLeave()
	onExpire()
	Close() error
}

// Peer implements core.Peer.
type Peer struct {
	opts Options
	api  *webrtc.API
	q    *dispatch.Queue

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	handler core.PeerHandler
	sig     *SignalClient
	id      domain.PeerID
	started bool
	closed  bool
	links   map[string]link
}

func NewPeer(opts Options) (*Peer, error) {
	if opts.SignalURL == "" {
		return nil, errors.New("rtc: signal url is required")
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = codec.DefaultChunkSize
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 20 * time.Second
	}
	if opts.GatherTimeout <= 0 {
		opts.GatherTimeout = 10 * time.Second
	}
	if opts.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		opts.Jar = jar
	}
	api, err := newAPI()
	if err != nil {
		return nil, err
	}
	return &Peer{
		opts:  opts,
		api:   api,
		q:     dispatch.NewQueue(),
		links: make(map[string]link),
	}, nil
}

func newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se)), nil
}

func (p *Peer) Start(ctx context.Context, h core.PeerHandler) error {
	p.mu.Lock()
	if p.started || p.closed {
		p.mu.Unlock()
		return errors.New("rtc: peer already started or closed")
	}
	p.started = true
	p.handler = h
	p.ctx, p.cancel = context.WithCancel(ctx)
	runCtx := p.ctx
	p.mu.Unlock()

	go p.q.Run()
	go p.run(runCtx, h)
	return nil
}

func (p *Peer) run(ctx context.Context, h core.PeerHandler) {
	sig, err := DialSignal(ctx, p.opts.SignalURL, p.opts.RequestedID, p.opts.Jar)
	if err != nil {
		p.dispatch(func() { h.HandlePeerError(err) })
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = sig.Close()
		return
	}
	p.sig = sig
	p.mu.Unlock()

	go sig.KeepAlive(ctx, p.opts.PingPeriod)
	err = sig.Listen(ctx, p.handleSignal)
	if ctx.Err() == nil && !p.isClosed() {
		log.Warn().Err(err).Str("module", "rtc").Msg("signaling link lost")
		p.dispatch(func() { h.HandlePeerError(err) })
	}
}

func (p *Peer) handleSignal(msg domain.SignalMessage) {
	logger := log.With().Str("module", "rtc").Str("type", msg.Type).Str("src", string(msg.Src)).Logger()
	switch msg.Type {
	case domain.SignalOpen:
		p.mu.Lock()
		first := p.id == ""
		if first {
			p.id = msg.ID
		}
		h := p.handler
		p.mu.Unlock()
		if first {
			logger.Info().Str("peer", string(msg.ID)).Msg("rendezvous id assigned")
			p.dispatch(func() { h.HandleOpen(string(msg.ID)) })
		}
	case domain.SignalIDTaken:
		h := p.currentHandler()
		p.dispatch(func() { h.HandlePeerError(fmt.Errorf("%w: %s", domain.ErrIDTaken, msg.ID)) })
	case domain.SignalError:
		h := p.currentHandler()
		p.dispatch(func() { h.HandlePeerError(fmt.Errorf("signaling: %s", msg.Error)) })
	case domain.SignalPong:
	case domain.SignalOffer:
		if msg.Payload == nil || msg.Payload.SDP == nil {
			logger.Warn().Msg("offer without sdp")
			return
		}
		switch msg.Payload.Kind {
		case domain.PayloadData:
			p.acceptData(msg.Src, msg.Payload)
		case domain.PayloadMedia:
			p.acceptCall(msg.Src, msg.Payload)
		default:
			logger.Warn().Str("kind", msg.Payload.Kind).Msg("unknown offer kind")
		}
	case domain.SignalAnswer, domain.SignalLeave, domain.SignalExpire:
		if msg.Payload == nil {
			return
		}
		l, ok := p.lookup(msg.Payload.ConnectionID)
		if !ok {
			logger.Debug().Str("connection_id", msg.Payload.ConnectionID).Msg("no such connection")
			return
		}
		switch msg.Type {
		case domain.SignalAnswer:
			if msg.Payload.SDP != nil {
				l.onAnswer(*msg.Payload.SDP)
			}
		case domain.SignalLeave:
			l.onLeave()
		default:
			l.onExpire()
		}
	default:
		logger.Debug().Msg("ignored envelope")
	}
}

// Close ends every connection and call and leaves the rendezvous server.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	links := make([]link, 0, len(p.links))
	for _, l := range p.links {
		links = append(links, l)
	}
	sig := p.sig
	cancel := p.cancel
	p.mu.Unlock()

	for _, l := range links {
		_ = l.Close()
	}
	if cancel != nil {
		cancel()
	}
	if sig != nil {
		_ = sig.Close()
	}
	p.q.Close()
	return nil
}

func (p *Peer) dispatch(fn func()) { p.q.Push(fn) }

func (p *Peer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Peer) currentHandler() core.PeerHandler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler
}

// ready returns the local id and the run context once the link is open.
func (p *Peer) ready() (domain.PeerID, context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return "", nil, domain.ErrClosed
	case p.id == "":
		return "", nil, domain.ErrNotReady
	}
	return p.id, p.ctx, nil
}

func (p *Peer) signal(msg domain.SignalMessage) error {
	p.mu.Lock()
	sig := p.sig
	p.mu.Unlock()
	if sig == nil {
		return domain.ErrNotReady
	}
	return sig.Send(msg)
}

func (p *Peer) addLink(id string, l link) {
	p.mu.Lock()
	p.links[id] = l
	p.mu.Unlock()
}

func (p *Peer) removeLink(id string) {
	p.mu.Lock()
	delete(p.links, id)
	p.mu.Unlock()
}

func (p *Peer) lookup(id string) (link, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.links[id]
	return l, ok
}

func (p *Peer) newPeerConnection() (*webrtc.PeerConnection, error) {
	cfg := webrtc.Configuration{}
	if len(p.opts.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: p.opts.ICEServers}}
	}
	return p.api.NewPeerConnection(cfg)
}

// localDescription sets desc and waits for candidate gathering, returning
// the description with every candidate in it.
func (p *Peer) localDescription(ctx context.Context, pc *webrtc.PeerConnection, desc webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-time.After(p.opts.GatherTimeout):
		return nil, fmt.Errorf("ICE gathering: %w", domain.ErrTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return pc.LocalDescription(), nil
}

// offer creates the local offer on pc and publishes it to remote.
func (p *Peer) offer(ctx context.Context, pc *webrtc.PeerConnection, remote domain.PeerID, payload domain.SignalPayload) error {
	o, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	desc, err := p.localDescription(ctx, pc, o)
	if err != nil {
		return err
	}
	payload.SDP = desc
	return p.signal(domain.SignalMessage{Type: domain.SignalOffer, Dst: remote, Payload: &payload})
}

// answer applies the remote offer on pc and publishes the answer.
func (p *Peer) answer(ctx context.Context, pc *webrtc.PeerConnection, remote domain.PeerID, offer webrtc.SessionDescription, payload domain.SignalPayload) error {
	if err := pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	a, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	desc, err := p.localDescription(ctx, pc, a)
	if err != nil {
		return err
	}
	payload.SDP = desc
	return p.signal(domain.SignalMessage{Type: domain.SignalAnswer, Dst: remote, Payload: &payload})
}

func (p *Peer) leave(remote domain.PeerID, kind, connectionID string) {
	err := p.signal(domain.SignalMessage{
		Type:    domain.SignalLeave,
		Dst:     remote,
		Payload: &domain.SignalPayload{Kind: kind, ConnectionID: connectionID},
	})
	if err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("connection_id", connectionID).Msg("leave not sent")
	}
}

func closePC(pc *webrtc.PeerConnection, connectionID string) {
	if pc == nil {
		return
	}
	if err := pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("connection_id", connectionID).Msg("close error")
		return
	}
	log.Info().Str("module", "rtc").Str("connection_id", connectionID).Msg("closed")
}
