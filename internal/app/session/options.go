package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Peerchat/internal/app/convo"
	"github.com/dkeye/Peerchat/internal/core"
	"github.com/dkeye/Peerchat/internal/domain"
)

// Config bounds every asynchronous step the manager waits on.
type Config struct {
	ConnectTimeout   time.Duration
	CallSetupTimeout time.Duration
	MediaTimeout     time.Duration
	ConsentTimeout   time.Duration
	FileReadTimeout  time.Duration
	MaxFileSize      int64
	// HoldLimit caps out-of-order frames buffered per connection.
	HoldLimit int
	// GapTimeout bounds how long frames wait on a missing seq.
	GapTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   15 * time.Second,
		CallSetupTimeout: 30 * time.Second,
		MediaTimeout:     10 * time.Second,
		ConsentTimeout:   30 * time.Second,
		FileReadTimeout:  30 * time.Second,
		MaxFileSize:      16 << 20,
		HoldLimit:        convo.DefaultHoldLimit,
		GapTimeout:       3 * time.Second,
	}
}

type Option func(*Manager)

// WithConfig replaces the timeouts and limits. Zero fields keep defaults.
func WithConfig(c Config) Option {
	return func(m *Manager) {
		d := &m.cfg
		if c.ConnectTimeout > 0 {
			d.ConnectTimeout = c.ConnectTimeout
		}
		if c.CallSetupTimeout > 0 {
			d.CallSetupTimeout = c.CallSetupTimeout
		}
		if c.MediaTimeout > 0 {
			d.MediaTimeout = c.MediaTimeout
		}
		if c.ConsentTimeout > 0 {
			d.ConsentTimeout = c.ConsentTimeout
		}
		if c.FileReadTimeout > 0 {
			d.FileReadTimeout = c.FileReadTimeout
		}
		if c.MaxFileSize > 0 {
			d.MaxFileSize = c.MaxFileSize
		}
		if c.HoldLimit > 0 {
			d.HoldLimit = c.HoldLimit
		}
		if c.GapTimeout > 0 {
			d.GapTimeout = c.GapTimeout
		}
	}
}

func WithNotifier(n core.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithConsent sets who decides on inbound calls. Without one every
// inbound call is declined.
func WithConsent(p core.ConsentPrompter) Option {
	return func(m *Manager) { m.consent = p }
}

func WithSink(s core.MediaSink) Option {
	return func(m *Manager) { m.sink = s }
}

// WithLog shares an existing conversation log.
func WithLog(l *convo.Log) Option {
	return func(m *Manager) { m.log = l }
}

type logNotifier struct{}

func (logNotifier) Notify(level core.NoticeLevel, msg string) {
	log.Info().Str("module", "app.session").Str("level", level.String()).Msg(msg)
}

type declineAll struct{}

func (declineAll) ConfirmCall(context.Context, domain.PeerID) (bool, error) { return false, nil }

type nopSink struct{}

func (nopSink) BindLocal(core.Stream)  {}
func (nopSink) BindRemote(core.Stream) {}
