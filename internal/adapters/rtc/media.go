package rtc

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Peerchat/internal/app/playback"
	"github.com/dkeye/Peerchat/internal/core"
	"github.com/dkeye/Peerchat/internal/domain"
)

const (
	audioFrame = 20 * time.Millisecond
	videoFrame = time.Second / 30
)

// opusSilence is a complete Opus packet that decodes to 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticSource captures test-pattern media instead of real devices.
type SyntheticSource struct{}

func (SyntheticSource) Acquire(ctx context.Context, c core.Constraints) (core.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &LocalStream{id: uuid.NewString()}
	if c.Audio {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", s.id)
		if err != nil {
			return nil, err
		}
		s.tracks = append(s.tracks, t)
		s.feeds = append(s.feeds, feed{track: t, period: audioFrame, sample: func(int) []byte { return opusSilence }})
	}
	if c.Video {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", s.id)
		if err != nil {
			return nil, err
		}
		s.tracks = append(s.tracks, t)
		s.feeds = append(s.feeds, feed{track: t, period: videoFrame, sample: vp8Pattern})
	}
	s.start()
	log.Info().Str("module", "rtc.media").Str("stream_id", s.id).Int("tracks", len(s.tracks)).Msg("synthetic media acquired")
	return s, nil
}

// vp8Pattern returns a tiny frame whose first byte marks every 30th frame
// as a key frame.
func vp8Pattern(n int) []byte {
	frame := []byte{0x01, 0x00, 0x00, 0x9d, 0x01, 0x2a, byte(n)}
	if n%30 == 0 {
		frame[0] = 0x00
	}
	return frame
}

// NoDevice is a source for hosts without capture devices.
type NoDevice struct{}

func (NoDevice) Acquire(context.Context, core.Constraints) (core.Stream, error) {
	return nil, domain.ErrNoDevice
}

type feed struct {
	track  *webrtc.TrackLocalStaticSample
	period time.Duration
	sample func(n int) []byte
}

// LocalStream is acquired media ready to be added to a PeerConnection.
type LocalStream struct {
	id     string
	tracks []webrtc.TrackLocal
	feeds  []feed

	once   sync.Once
	cancel context.CancelFunc
}

func (s *LocalStream) ID() string { return s.id }

func (s *LocalStream) Tracks() []webrtc.TrackLocal { return s.tracks }

func (s *LocalStream) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	for _, f := range s.feeds {
		go f.run(ctx)
	}
}

func (f feed) run(ctx context.Context) {
	ticker := time.NewTicker(f.period)
	defer ticker.Stop()
	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := f.track.WriteSample(media.Sample{Data: f.sample(n), Duration: f.period}); err != nil {
			log.Debug().Err(err).Str("module", "rtc.media").Str("track_id", f.track.ID()).Msg("write sample")
		}
	}
}

// Close stops the tracks.
func (s *LocalStream) Close() error {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		log.Info().Str("module", "rtc.media").Str("stream_id", s.id).Msg("local media stopped")
	})
	return nil
}

// RemoteStream collects the tracks a call receives. It is a playback.Feed.
type RemoteStream struct {
	id string

	mu     sync.Mutex
	tracks []*webrtc.TrackRemote
	fn     func(string, playback.PacketSource)
	closed bool
}

func newRemoteStream(id string) *RemoteStream {
	return &RemoteStream{id: id}
}

func (s *RemoteStream) ID() string { return s.id }

// OnTrack sets fn and replays the tracks received so far.
func (s *RemoteStream) OnTrack(fn func(trackID string, src playback.PacketSource)) {
	s.mu.Lock()
	s.fn = fn
	tracks := append([]*webrtc.TrackRemote(nil), s.tracks...)
	s.mu.Unlock()
	for _, t := range tracks {
		fn(t.ID(), trackSource{t})
	}
}

func (s *RemoteStream) add(t *webrtc.TrackRemote) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.tracks = append(s.tracks, t)
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		fn(t.ID(), trackSource{t})
	}
}

func (s *RemoteStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.fn = nil
	s.mu.Unlock()
	return nil
}

// trackSource adapts a remote track to playback.PacketSource.
type trackSource struct {
	t *webrtc.TrackRemote
}

func (s trackSource) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := s.t.ReadRTP()
	return pkt, err
}
