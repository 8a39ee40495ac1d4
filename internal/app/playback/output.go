package playback

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

// PacketWriter consumes RTP packets. *webrtc.TrackLocalStaticRTP satisfies it.
type PacketWriter interface {
	WriteRTP(p *rtp.Packet) error
}

type OutputState int32

const (
	OutputOk OutputState = iota
	OutputMuted
	OutputDelete
)

func (s OutputState) String() string {
	switch s {
	case OutputMuted:
		return "muted"
	case OutputDelete:
		return "delete"
	default:
		return "ok"
	}
}

// Output is one destination a relay forwards to.
type Output struct {
	W     PacketWriter
	state atomic.Int32
}

func NewOutput(w PacketWriter) *Output {
	return &Output{W: w}
}

func (o *Output) State() OutputState {
	return OutputState(o.state.Load())
}

func (o *Output) MarkOk() {
	o.state.CompareAndSwap(int32(OutputMuted), int32(OutputOk))
}

func (o *Output) MarkMuted() {
	o.state.CompareAndSwap(int32(OutputOk), int32(OutputMuted))
}

func (o *Output) MarkDelete() {
	o.state.Store(int32(OutputDelete))
}

// Counter is a PacketWriter that only tallies what it receives.
type Counter struct {
	packets atomic.Uint64
	bytes   atomic.Uint64
}

func (c *Counter) WriteRTP(p *rtp.Packet) error {
	c.packets.Add(1)
	c.bytes.Add(uint64(len(p.Payload)))
	return nil
}

func (c *Counter) Packets() uint64 { return c.packets.Load() }
func (c *Counter) Bytes() uint64   { return c.bytes.Load() }
