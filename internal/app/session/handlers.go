package session

import "github.com/dkeye/Peerchat/internal/core"

// The handlers below run on adapter goroutines. Each one only posts to the
// event loop; resource pointers they carry are read on the loop.

type peerEvents struct{ m *Manager }

func (p peerEvents) HandleOpen(id string) {
	p.m.post(func() { p.m.onOpen(id) })
}

func (p peerEvents) HandleConnection(conn core.DataConnection) core.ConnectionHandler {
	h := &connEvents{m: p.m}
	p.m.post(func() { p.m.acceptConnection(conn, h) })
	return h
}

func (p peerEvents) HandleCall(call core.MediaCall) core.CallHandler {
	h := &callEvents{m: p.m}
	p.m.post(func() { p.m.offerReceived(call, h) })
	return h
}

func (p peerEvents) HandlePeerError(err error) {
	p.m.post(func() { p.m.onPeerError(err) })
}

type connEvents struct {
	m     *Manager
	entry *connEntry
}

func (h *connEvents) HandleOpen() {
	h.m.post(func() { h.m.connectionOpened(h.entry) })
}

func (h *connEvents) HandleData(payload []byte) {
	h.m.post(func() { h.m.frameReceived(h.entry, payload) })
}

func (h *connEvents) HandleClose() {
	h.m.post(func() { h.m.connectionClosed(h.entry) })
}

func (h *connEvents) HandleError(err error) {
	h.m.post(func() { h.m.connectionFailed(h.entry, err) })
}

type callEvents struct {
	m     *Manager
	entry *callEntry
}

func (h *callEvents) HandleStream(remote core.Stream) {
	h.m.post(func() { h.m.remoteStream(h.entry, remote) })
}

func (h *callEvents) HandleClose() {
	h.m.post(func() { h.m.remoteHangUp(h.entry) })
}

func (h *callEvents) HandleError(err error) {
	h.m.post(func() { h.m.callFailed(h.entry, err) })
}
