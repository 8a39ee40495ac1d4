package playback

import (
	"context"
	"maps"
	"sync"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// PacketSource yields RTP packets until it fails or is closed.
type PacketSource interface {
	ReadRTP() (*rtp.Packet, error)
}

// Relay copies packets from one remote track to its outputs.
type Relay struct {
	Src PacketSource

	mu      sync.RWMutex
	outputs map[string]*Output

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRelay(src PacketSource, cancel context.CancelFunc) *Relay {
	return &Relay{
		Src:     src,
		outputs: make(map[string]*Output),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Done is closed when the relay loop exits.
func (r *Relay) Done() <-chan struct{} { return r.done }

func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all outputs for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, err := r.Src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("relay source ended")
			r.markAllDelete()
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outputs)
	r.mu.RUnlock()

	var dirty []string
	for name, out := range snapshot {
		switch out.State() {
		case OutputDelete:
			dirty = append(dirty, name)
		case OutputMuted:
		case OutputOk:
			if err := out.W.WriteRTP(pkt); err != nil {
				logger.Error().Err(err).Str("output", name).Msg("relay write RTP error, marking output as delete")
				out.MarkDelete()
				dirty = append(dirty, name)
			}
		}
	}

	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range dirty {
		delete(r.outputs, name)
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, out := range r.outputs {
		out.MarkDelete()
	}
}

func (r *Relay) AddOutput(name string, out *Output) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[name] = out
}

func (r *Relay) output(name string) (*Output, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out, ok := r.outputs[name]
	return out, ok
}
