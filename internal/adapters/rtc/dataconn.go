package rtc

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Peerchat/internal/codec"
	"github.com/dkeye/Peerchat/internal/core"
	"github.com/dkeye/Peerchat/internal/domain"
)

type connState int

const (
	connOpening connState = iota
	connOpen
	connClosed
)

// dataConn is a data channel on its own PeerConnection. Payloads are
// split into codec packets no larger than the chunk size.
type dataConn struct {
	p      *Peer
	id     string
	remote domain.PeerID
	logger zerolog.Logger

	packetID atomic.Uint64

	mu      sync.Mutex
	h       core.ConnectionHandler
	state   connState
	pc      *webrtc.PeerConnection
	dc      *webrtc.DataChannel
	pending [][]byte
	reasm   *codec.Reassembler
}

func newDataConn(p *Peer, id string, remote domain.PeerID, h core.ConnectionHandler) *dataConn {
	return &dataConn{
		p:      p,
		id:     id,
		remote: remote,
		h:      h,
		reasm:  codec.NewReassembler(0),
		logger: log.With().Str("module", "rtc.data").Str("connection_id", id).Str("remote", string(remote)).Logger(),
	}
}

func (c *dataConn) ID() string              { return c.id }
func (c *dataConn) RemoteID() domain.PeerID { return c.remote }

func (p *Peer) Connect(remote domain.PeerID, h core.ConnectionHandler) (core.DataConnection, error) {
	_, ctx, err := p.ready()
	if err != nil {
		return nil, err
	}
	c := newDataConn(p, uuid.NewString(), remote, h)
	p.addLink(c.id, c)
	go func() {
		if err := c.dial(ctx); err != nil {
			c.fail(err)
		}
	}()
	return c, nil
}

func (c *dataConn) dial(ctx context.Context) error {
	pc, err := c.p.newPeerConnection()
	if err != nil {
		return err
	}
	if !c.setPC(pc) {
		closePC(pc, c.id)
		return nil
	}
	ordered := true
	dc, err := pc.CreateDataChannel(dataLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return err
	}
	c.attach(dc)
	c.logger.Info().Msg("offering data connection")
	return c.p.offer(ctx, pc, c.remote, domain.SignalPayload{
		Kind:         domain.PayloadData,
		ConnectionID: c.id,
		Label:        dataLabel,
	})
}

// acceptData surfaces an inbound offer, then answers it.
func (p *Peer) acceptData(remote domain.PeerID, payload *domain.SignalPayload) {
	_, ctx, err := p.ready()
	if err != nil {
		return
	}
	c := newDataConn(p, payload.ConnectionID, remote, nil)
	p.addLink(c.id, c)
	offer := *payload.SDP
	p.dispatch(func() {
		h := p.currentHandler().HandleConnection(c)
		c.mu.Lock()
		c.h = h
		closed := c.state == connClosed
		c.mu.Unlock()
		if closed {
			p.dispatch(h.HandleClose)
			return
		}
		go func() {
			if err := c.accept(ctx, offer); err != nil {
				c.fail(err)
			}
		}()
	})
}

func (c *dataConn) accept(ctx context.Context, offer webrtc.SessionDescription) error {
	pc, err := c.p.newPeerConnection()
	if err != nil {
		return err
	}
	if !c.setPC(pc) {
		closePC(pc, c.id)
		return nil
	}
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != dataLabel {
			c.logger.Warn().Str("label", dc.Label()).Msg("unexpected data channel")
			return
		}
		c.attach(dc)
	})
	c.logger.Info().Msg("answering data connection")
	return c.p.answer(ctx, pc, c.remote, offer, domain.SignalPayload{
		Kind:         domain.PayloadData,
		ConnectionID: c.id,
	})
}

// setPC binds pc unless the connection is already closed.
func (c *dataConn) setPC(pc *webrtc.PeerConnection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == connClosed {
		return false
	}
	c.pc = pc
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed {
			go c.fail(errors.New("peer connection failed"))
		}
	})
	return true
}

func (c *dataConn) attach(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()
	dc.OnOpen(c.markOpen)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) { c.receive(msg.Data) })
	dc.OnClose(func() { go c.shut(false) })
}

// markOpen flushes frames queued before open, then fires the open event.
func (c *dataConn) markOpen() {
	c.mu.Lock()
	if c.state != connOpening {
		c.mu.Unlock()
		return
	}
	c.state = connOpen
	pending := c.pending
	c.pending = nil
	h := c.h
	c.mu.Unlock()

	c.logger.Info().Msg("data channel open")
	for _, b := range pending {
		if err := c.transmit(b); err != nil {
			c.logger.Error().Err(err).Msg("flush queued frame")
		}
	}
	c.p.dispatch(h.HandleOpen)
}

func (c *dataConn) receive(data []byte) {
	pkt, err := codec.DecodePacket(data)
	if err != nil {
		c.logger.Warn().Err(err).Msg("dropping packet")
		return
	}
	c.mu.Lock()
	payload, done, err := c.reasm.Add(pkt)
	h, closed := c.h, c.state == connClosed
	c.mu.Unlock()
	if err != nil {
		c.logger.Warn().Err(err).Msg("dropping packet")
		return
	}
	if !done || closed {
		return
	}
	c.p.dispatch(func() { h.HandleData(payload) })
}

func (c *dataConn) Send(payload []byte) error {
	b := bytes.Clone(payload)
	c.mu.Lock()
	switch c.state {
	case connClosed:
		c.mu.Unlock()
		return domain.ErrClosed
	case connOpening:
		c.pending = append(c.pending, b)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.transmit(b)
}

func (c *dataConn) transmit(payload []byte) error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()
	if dc == nil {
		return domain.ErrClosed
	}
	packets, err := codec.Chunk(c.packetID.Add(1), payload, c.p.opts.ChunkSize)
	if err != nil {
		return err
	}
	for _, pkt := range packets {
		b, err := codec.EncodePacket(pkt)
		if err != nil {
			return err
		}
		if err := dc.Send(b); err != nil {
			return err
		}
	}
	c.logger.Debug().Int("bytes", len(payload)).Int("packets", len(packets)).Msg("sent frame")
	return nil
}

func (c *dataConn) onAnswer(sdp webrtc.SessionDescription) {
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

func (c *dataConn) onLeave() { c.shut(false) }

func (c *dataConn) onExpire() { c.fail(domain.ErrPeerUnavailable) }

func (c *dataConn) Close() error {
	c.shut(true)
	return nil
}

// fail fires the error event, then closes.
func (c *dataConn) fail(err error) {
	c.mu.Lock()
	h, closed := c.h, c.state == connClosed
	c.mu.Unlock()
	if closed {
		return
	}
	c.logger.Error().Err(err).Msg("data connection failed")
	if h != nil {
		c.p.dispatch(func() { h.HandleError(err) })
	}
	c.shut(true)
}

// shut closes the connection once and fires its close event.
func (c *dataConn) shut(notifyRemote bool) {
	c.mu.Lock()
	if c.state == connClosed {
		c.mu.Unlock()
		return
	}
	c.state = connClosed
	c.pending = nil
	pc, h := c.pc, c.h
	c.mu.Unlock()

	c.p.removeLink(c.id)
	if notifyRemote {
		c.p.leave(c.remote, domain.PayloadData, c.id)
	}
	closePC(pc, c.id)
	if h != nil {
		c.p.dispatch(h.HandleClose)
	}
}
