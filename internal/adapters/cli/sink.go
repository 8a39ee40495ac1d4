package cli

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Peerchat/internal/app/playback"
	"github.com/dkeye/Peerchat/internal/core"
)

const speakerOutput = "speaker"

// Sink binds call media for the terminal. The local stream is only
// recorded, as a muted preview; remote tracks are relayed to a counting
// speaker output.
type Sink struct {
	ctx     context.Context
	relays  *playback.Manager
	speaker *playback.Counter

	mu     sync.Mutex
	local  string
	remote string
	muted  bool
}

func NewSink(ctx context.Context, relays *playback.Manager) *Sink {
	return &Sink{ctx: ctx, relays: relays, speaker: &playback.Counter{}}
}

func (s *Sink) BindLocal(st core.Stream) {
	s.mu.Lock()
	s.local = st.ID()
	s.mu.Unlock()
	log.Info().Str("module", "cli.sink").Str("stream_id", st.ID()).Msg("local preview bound (muted)")
}

func (s *Sink) BindRemote(st core.Stream) {
	s.relays.StopAll()
	s.mu.Lock()
	s.remote = st.ID()
	s.mu.Unlock()
	log.Info().Str("module", "cli.sink").Str("stream_id", st.ID()).Msg("remote stream bound")

	feed, ok := st.(playback.Feed)
	if !ok {
		return
	}
	feed.OnTrack(func(trackID string, src playback.PacketSource) {
		s.relays.Start(s.ctx, trackID, src)
		s.relays.AddOutput(trackID, speakerOutput, s.speaker)
		if s.Muted() {
			s.relays.Mute(speakerOutput)
		}
	})
}

func (s *Sink) Mute() {
	s.mu.Lock()
	s.muted = true
	s.mu.Unlock()
	s.relays.Mute(speakerOutput)
}

func (s *Sink) Unmute() {
	s.mu.Lock()
	s.muted = false
	s.mu.Unlock()
	s.relays.Unmute(speakerOutput)
}

func (s *Sink) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// SinkStats describes what is bound and how much remote media played.
type SinkStats struct {
	Local   string
	Remote  string
	Tracks  int
	Packets uint64
	Bytes   uint64
	Muted   bool
}

func (s *Sink) Stats() SinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SinkStats{
		Local:   s.local,
		Remote:  s.remote,
		Tracks:  s.relays.Len(),
		Packets: s.speaker.Packets(),
		Bytes:   s.speaker.Bytes(),
		Muted:   s.muted,
	}
}
