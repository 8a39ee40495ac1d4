package memory

import (
	"bytes"
	"sync"

	"github.com/google/uuid"

	"github.com/dkeye/Peerchat/internal/core"
	"github.com/dkeye/Peerchat/internal/domain"
)

type connState int

const (
	connOpening connState = iota
	connOpen
	connClosed
)

// dataConn is one end of an in-process data connection.
type dataConn struct {
	id     string
	owner  *Peer
	remote domain.PeerID
	h      core.ConnectionHandler

	mu      sync.Mutex
	state   connState
	other   *dataConn
	pending [][]byte
}

func (c *dataConn) ID() string              { return c.id }
func (c *dataConn) RemoteID() domain.PeerID { return c.remote }

func (p *Peer) Connect(remote domain.PeerID, h core.ConnectionHandler) (core.DataConnection, error) {
	if err := p.usable(); err != nil {
		return nil, err
	}
	out := &dataConn{id: uuid.NewString(), owner: p, remote: remote, h: h}
	p.track(out)

	p.dispatch(func() {
		target := p.sb.lookup(remote)
		if target == nil {
			h.HandleError(domain.ErrPeerUnavailable)
			_ = out.Close()
			return
		}
		in := &dataConn{id: out.id, owner: target, remote: p.id}
		target.track(in)
		target.dispatch(func() {
			th := target.currentHandler()
			if th == nil {
				_ = out.Close()
				return
			}
			h := th.HandleConnection(in)
			in.mu.Lock()
			in.h = h
			in.mu.Unlock()
			if !link(out, in) {
				_ = in.Close()
				return
			}
			in.markOpen()
			out.markOpen()
		})
	})
	return out, nil
}

func link(a, b *dataConn) bool {
	a.mu.Lock()
	if a.state == connClosed {
		a.mu.Unlock()
		return false
	}
	a.other = b
	a.mu.Unlock()
	b.mu.Lock()
	b.other = a
	b.mu.Unlock()
	return true
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
	other := c.other
	c.mu.Unlock()

	c.owner.dispatch(c.h.HandleOpen)
	for _, b := range pending {
		other.deliver(b)
	}
}

func (c *dataConn) Send(payload []byte) error {
	if err := c.owner.sendError(); err != nil {
		return err
	}
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
	other := c.other
	c.mu.Unlock()
	other.deliver(b)
	return nil
}

func (c *dataConn) deliver(b []byte) {
	c.mu.Lock()
	closed := c.state == connClosed
	c.mu.Unlock()
	if closed {
		return
	}
	c.owner.dispatch(func() { c.h.HandleData(b) })
}

func (c *dataConn) Close() error {
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

// shut marks this end closed and fires its close event once.
func (c *dataConn) shut() bool {
	c.mu.Lock()
	if c.state == connClosed {
		c.mu.Unlock()
		return false
	}
	c.state = connClosed
	c.pending = nil
	h := c.h
	c.mu.Unlock()

	c.owner.untrack(c)
	if h != nil {
		c.owner.dispatch(h.HandleClose)
	}
	return true
}
