package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Peerchat/internal/codec"
	"github.com/dkeye/Peerchat/internal/core"
	"github.com/dkeye/Peerchat/internal/domain"
)

// File is an attachment to send. MimeType may be empty, in which case it
// is detected from the content.
type File struct {
	Name     string
	MimeType string
	Content  io.Reader
}

// SendText appends a local text entry and transmits it on the current
// connection. The entry is appended before transmission; a failed send
// marks it failed and returns a TransportError.
func (m *Manager) SendText(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return domain.ErrEmptyContent
	}
	return m.do(ctx, func() error {
		e := m.conns.current
		if e == nil {
			return domain.ErrNoConnection
		}
		return m.transmit(e, domain.NewTextEntry(domain.OriginLocal, e.info.RemoteID, content))
	})
}

// SendFile reads f, then appends and transmits a file entry. Image files
// carry an inline preview.
func (m *Manager) SendFile(ctx context.Context, f File) error {
	if strings.TrimSpace(f.Name) == "" || f.Content == nil {
		return domain.ErrEmptyFile
	}
	if err := m.do(ctx, func() error {
		if m.conns.current == nil {
			return domain.ErrNoConnection
		}
		return nil
	}); err != nil {
		return err
	}

	readCtx, cancel := context.WithTimeout(ctx, m.cfg.FileReadTimeout)
	defer cancel()
	payload, err := readLimited(readCtx, f.Content, m.cfg.MaxFileSize)
	if err != nil {
		log.Error().Str("module", "app.session").Str("file", f.Name).Err(err).Msg("file read failed")
		return fmt.Errorf("read %s: %w", f.Name, err)
	}

	mimeType := f.MimeType
	if mimeType == "" {
		mimeType = mimetype.Detect(payload).String()
	}

	return m.do(ctx, func() error {
		// The connection may have changed while the file was read.
		e := m.conns.current
		if e == nil {
			return domain.ErrNoConnection
		}
		return m.transmit(e, domain.NewFileEntry(domain.OriginLocal, e.info.RemoteID, f.Name, mimeType, payload))
	})
}

// transmit numbers entry with the connection's next seq, which is only
// consumed once the frame is handed to the transport; the receiver never
// waits on a seq that was not sent.
func (m *Manager) transmit(e *connEntry, entry domain.MessageEntry) error {
	entry.Seq = e.seqOut + 1
	idx, err := m.log.Append(entry)
	if err != nil {
		return err
	}

	status := domain.StatusSent
	frame, err := codec.EncodeEntry(entry)
	if err == nil {
		err = e.conn.Send(frame)
	}
	if err != nil {
		status = domain.StatusFailed
		err = &domain.TransportError{RemoteID: e.info.RemoteID, Err: err}
		log.Error().Str("module", "app.session").Str("remote", string(e.info.RemoteID)).Uint64("seq", entry.Seq).Err(err).Msg("send failed")
		m.notify(core.NoticeError, "%v", err)
	} else {
		e.seqOut = entry.Seq
		log.Debug().Str("module", "app.session").
			Str("remote", string(e.info.RemoteID)).
			Str("kind", string(entry.Kind)).
			Uint64("seq", entry.Seq).
			Int("bytes", len(frame)).
			Msg("frame sent")
	}
	if serr := m.log.SetStatus(idx, status); serr != nil {
		log.Warn().Str("module", "app.session").Int("index", idx).Err(serr).Msg("status update")
	}
	return err
}

// readLimited reads r to the end off the caller's goroutine so ctx can
// abandon a stuck read.
func readLimited(ctx context.Context, r io.Reader, limit int64) ([]byte, error) {
	type result struct {
		b   []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		b, err := io.ReadAll(io.LimitReader(r, limit+1))
		ch <- result{b, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if int64(len(res.b)) > limit {
			return nil, domain.ErrFileTooLarge
		}
		if res.b == nil {
			res.b = []byte{}
		}
		return res.b, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, domain.ErrTimeout
		}
		return nil, ctx.Err()
	}
}
