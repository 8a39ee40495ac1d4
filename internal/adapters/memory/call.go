package memory

import (
	"sync"

	"github.com/google/uuid"

	"github.com/dkeye/Peerchat/internal/core"
	"github.com/dkeye/Peerchat/internal/domain"
)

// mediaCall is one end of an in-process call.
type mediaCall struct {
	id     string
	owner  *Peer
	remote domain.PeerID
	h      core.CallHandler

	mu       sync.Mutex
	local    core.Stream
	other    *mediaCall
	answered bool
	closed   bool
}

func (c *mediaCall) ID() string              { return c.id }
func (c *mediaCall) RemoteID() domain.PeerID { return c.remote }

func (p *Peer) Call(remote domain.PeerID, local core.Stream, h core.CallHandler) (core.MediaCall, error) {
	if err := p.usable(); err != nil {
		return nil, err
	}
	out := &mediaCall{id: uuid.NewString(), owner: p, remote: remote, h: h, local: local}
	p.trackCall(out)

	p.dispatch(func() {
		target := p.sb.lookup(remote)
		if target == nil {
			h.HandleError(domain.ErrPeerUnavailable)
			_ = out.Close()
			return
		}
		in := &mediaCall{id: out.id, owner: target, remote: p.id, other: out}
		target.trackCall(in)
		target.dispatch(func() {
			th := target.currentHandler()
			if th == nil {
				_ = out.Close()
				return
			}
			ih := th.HandleCall(in)
			in.mu.Lock()
			in.h = ih
			in.mu.Unlock()

			out.mu.Lock()
			if out.closed {
				out.mu.Unlock()
				in.shut()
				return
			}
			out.other = in
			out.mu.Unlock()
		})
	})
	return out, nil
}

// Answer accepts the offer; both ends then receive each other's stream.
func (c *mediaCall) Answer(local core.Stream) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrClosed
	}
	if c.answered {
		c.mu.Unlock()
		return nil
	}
	c.answered = true
	c.local = local
	other := c.other
	c.mu.Unlock()
	if other == nil {
		return domain.ErrClosed
	}

	other.mu.Lock()
	offered := other.local
	other.mu.Unlock()
	other.stream(local)
	c.stream(offered)
	return nil
}

func (c *mediaCall) stream(remote core.Stream) {
	c.mu.Lock()
	h, closed := c.h, c.closed
	c.mu.Unlock()
	if closed || h == nil {
		return
	}
	c.owner.dispatch(func() { h.HandleStream(remote) })
}

func (c *mediaCall) Close() error {
	if !c.shut() {
		return nil
	}
	c.mu.Lock()
	other := c.other
	c.mu.Unlock()
	if other != nil {
		other.shut()
	}
	return nil
}

func (c *mediaCall) shut() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	h := c.h
	c.mu.Unlock()

	c.owner.untrackCall(c)
	if h != nil {
		c.owner.dispatch(h.HandleClose)
	}
	return true
}
