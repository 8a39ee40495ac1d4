package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dkeye/Peerchat/internal/core"
)

// Stream is a media stream with no tracks.
type Stream struct {
	id     string
	closed atomic.Bool
}

func NewStream() *Stream { return &Stream{id: uuid.NewString()} }

func (s *Stream) ID() string { return s.id }

func (s *Stream) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Stream) Closed() bool { return s.closed.Load() }

// MediaSource hands out Streams. Fail makes acquisition fail; Gate makes
// it wait until the gate is closed or the context ends.
type MediaSource struct {
	mu       sync.Mutex
	err      error
	gate     chan struct{}
	acquired []*Stream
}

func NewMediaSource() *MediaSource { return &MediaSource{} }

func (m *MediaSource) Fail(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Gate holds acquisitions until the returned func is called.
func (m *MediaSource) Gate() (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.gate = gate
	m.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (m *MediaSource) Acquire(ctx context.Context, c core.Constraints) (core.Stream, error) {
	m.mu.Lock()
	gate := m.gate
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	s := NewStream()
	m.acquired = append(m.acquired, s)
	return s, nil
}

// Acquired returns every stream handed out so far.
func (m *MediaSource) Acquired() []*Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Stream(nil), m.acquired...)
}
