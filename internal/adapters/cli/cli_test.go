package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Peerchat/internal/app/convo"
	"github.com/dkeye/Peerchat/internal/app/playback"
	"github.com/dkeye/Peerchat/internal/app/session"
	"github.com/dkeye/Peerchat/internal/core"
	"github.com/dkeye/Peerchat/internal/domain"
)

func init() { color.NoColor = true }

// syncBuffer is a bytes.Buffer safe for the consent goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type call struct {
	op  string
	arg string
}

type fakeSession struct {
	calls []call
	err   error
	file  []byte
	snap  session.Snapshot
	log   *convo.Log
}

func (f *fakeSession) record(op, arg string) error {
	f.calls = append(f.calls, call{op, arg})
	return f.err
}

func (f *fakeSession) Connect(_ context.Context, remote string) error {
	return f.record("connect", remote)
}

func (f *fakeSession) Call(_ context.Context, remote string) error {
	return f.record("call", remote)
}

func (f *fakeSession) EndCall(context.Context) error {
	return f.record("end", "")
}

func (f *fakeSession) SendText(_ context.Context, content string) error {
	return f.record("text", content)
}

func (f *fakeSession) SendFile(_ context.Context, file session.File) error {
	b, err := io.ReadAll(file.Content)
	if err != nil {
		return err
	}
	f.file = b
	return f.record("file", file.Name)
}

func (f *fakeSession) State(context.Context) (session.Snapshot, error) {
	return f.snap, f.err
}

func (f *fakeSession) Log() *convo.Log {
	if f.log == nil {
		f.log = convo.NewLog()
	}
	return f.log
}

func newCommands(s Session) (*Commands, *syncBuffer) {
	out := &syncBuffer{}
	console := NewConsole(out)
	return NewCommands(s, console, NewSink(context.Background(), playback.NewManager())), out
}

func TestExecuteDispatchesCommands(t *testing.T) {
	s := &fakeSession{}
	cmds, _ := newCommands(s)
	ctx := context.Background()

	assert.False(t, cmds.Execute(ctx, "/connect bob"))
	assert.False(t, cmds.Execute(ctx, "/call  bob "))
	assert.False(t, cmds.Execute(ctx, "/end"))
	assert.False(t, cmds.Execute(ctx, "hello there"))
	assert.False(t, cmds.Execute(ctx, "   "))
	assert.True(t, cmds.Execute(ctx, "/exit"))

	assert.Equal(t, []call{
		{"connect", "bob"},
		{"call", "bob"},
		{"end", ""},
		{"text", "hello there"},
	}, s.calls)
}

func TestExecuteUsageAndErrors(t *testing.T) {
	s := &fakeSession{}
	cmds, out := newCommands(s)
	ctx := context.Background()

	cmds.Execute(ctx, "/connect")
	cmds.Execute(ctx, "/dance")
	assert.Empty(t, s.calls)
	assert.Contains(t, out.String(), "Usage: /connect <peer id>")
	assert.Contains(t, out.String(), "Unknown command /dance")

	s.err = domain.ErrNoConnection
	cmds.Execute(ctx, "hi")
	assert.Contains(t, out.String(), "No connection")

	s.err = &domain.TransportError{RemoteID: "bob", Err: errors.New("boom")}
	before := out.String()
	cmds.Execute(ctx, "/connect bob")
	assert.Equal(t, before, out.String())

	s.err = domain.ErrNotReady
	cmds.Execute(ctx, "/call bob")
	assert.Contains(t, out.String(), "Still connecting")
}

func TestFileCommand(t *testing.T) {
	s := &fakeSession{}
	cmds, out := newCommands(s)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("contents"), 0o600))

	cmds.Execute(context.Background(), "/file "+path)
	require.Equal(t, []call{{"file", "notes.txt"}}, s.calls)
	assert.Equal(t, []byte("contents"), s.file)

	cmds.Execute(context.Background(), "/file "+filepath.Join(t.TempDir(), "missing"))
	assert.Contains(t, out.String(), "no such file")
}

func TestStateCommand(t *testing.T) {
	s := &fakeSession{snap: session.Snapshot{
		Identity:    domain.PeerIdentity{ID: "alice", Ready: true},
		Connection:  &domain.Connection{RemoteID: "bob", Direction: domain.Outbound, State: domain.ConnectionOpen},
		Connections: []domain.Connection{{RemoteID: "bob", Direction: domain.Outbound, State: domain.ConnectionOpen}},
		Call:        &domain.Call{RemoteID: "bob", Direction: domain.Inbound, State: domain.CallActive},
	}}
	cmds, out := newCommands(s)
	cmds.Execute(context.Background(), "/state")
	text := out.String()
	assert.Contains(t, text, "id: alice")
	assert.Contains(t, text, "current connection: bob (outbound, open)")
	assert.Contains(t, text, "call: bob (inbound, active)")
	assert.Contains(t, text, "media: 0 tracks")
}

func TestConsentQuestion(t *testing.T) {
	out := &syncBuffer{}
	c := NewConsole(out)
	assert.False(t, c.Answer("y"))

	result := make(chan bool, 1)
	go func() {
		ok, _ := c.ConfirmCall(context.Background(), "bob")
		result <- ok
	}()
	require.Eventually(t, c.Asking, time.Second, 5*time.Millisecond)
	assert.Contains(t, out.String(), "Accept call from bob? [y/n]")

	second, err := c.ConfirmCall(context.Background(), "carol")
	require.NoError(t, err)
	assert.False(t, second)

	assert.True(t, c.Answer(" Yes "))
	assert.True(t, <-result)
	assert.False(t, c.Asking())

	go func() {
		ok, _ := c.ConfirmCall(context.Background(), "bob")
		result <- ok
	}()
	require.Eventually(t, c.Asking, time.Second, 5*time.Millisecond)
	assert.True(t, c.Answer("nope"))
	assert.False(t, <-result)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ok, err := c.ConfirmCall(ctx, "bob")
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFormatEntry(t *testing.T) {
	text := domain.NewTextEntry(domain.OriginRemote, "bob", "hi")
	assert.Equal(t, "[bob] hi", FormatEntry(text))

	mine := domain.NewTextEntry(domain.OriginLocal, "bob", "hello")
	assert.Equal(t, "hello  [you → bob]", FormatEntry(mine))

	doc := domain.NewFileEntry(domain.OriginRemote, "bob", "a.pdf", "application/pdf", make([]byte, 2048))
	assert.Equal(t, "[bob] file a.pdf (application/pdf, 2.0 KiB)", FormatEntry(doc))

	img := domain.NewFileEntry(domain.OriginRemote, "bob", "a.png", "image/png", []byte{1, 2, 3})
	assert.True(t, strings.HasSuffix(FormatEntry(img), "(image/png, 3 B) [image]"))
}

func TestRenderSubscribedLog(t *testing.T) {
	out := &syncBuffer{}
	c := NewConsole(out)
	l := convo.NewLog()
	defer l.Subscribe(c.Render)()

	idx, err := l.Append(domain.NewTextEntry(domain.OriginLocal, "bob", "hello"))
	require.NoError(t, err)
	require.NoError(t, l.SetStatus(idx, domain.StatusFailed))
	_, err = l.Append(domain.NewTextEntry(domain.OriginRemote, "bob", "hey"))
	require.NoError(t, err)

	_, err = l.Append(domain.NewFileEntry(domain.OriginRemote, "bob", "a.txt", "text/plain", []byte("abc")))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{
		"hello  [you → bob]",
		"not delivered to bob: hello",
		"[bob] hey",
		"#3 [bob] file a.txt (text/plain, 3 B)",
	}, lines)
}

func TestSaveWritesReceivedAttachment(t *testing.T) {
	s := &fakeSession{}
	cmds, out := newCommands(s)
	ctx := context.Background()
	dir := t.TempDir()
	t.Chdir(dir)

	_, err := s.Log().Append(domain.NewTextEntry(domain.OriginRemote, "bob", "see attached"))
	require.NoError(t, err)
	_, err = s.Log().Append(domain.NewFileEntry(domain.OriginRemote, "bob", "../report.pdf", "application/pdf", []byte("%PDF-1.4")))
	require.NoError(t, err)

	cmds.Execute(ctx, "/save 2")
	got, err := os.ReadFile(filepath.Join(dir, "report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), got)
	assert.Contains(t, out.String(), "Saved ../report.pdf (8 B) to report.pdf")

	sub := filepath.Join(dir, "downloads")
	require.NoError(t, os.Mkdir(sub, 0o755))
	cmds.Execute(ctx, "/save #2 "+sub)
	_, err = os.Stat(filepath.Join(sub, "report.pdf"))
	assert.NoError(t, err)

	cmds.Execute(ctx, "/save 2")
	assert.Contains(t, out.String(), "file exists")
	cmds.Execute(ctx, "/save 1")
	assert.Contains(t, out.String(), "entry #1 is not a file")
	cmds.Execute(ctx, "/save 9")
	assert.Contains(t, out.String(), "no entry #9")
	cmds.Execute(ctx, "/save x")
	assert.Contains(t, out.String(), "not an entry number: x")
	cmds.Execute(ctx, "/save")
	assert.Contains(t, out.String(), "Usage: /save <n> [path]")
	assert.Empty(t, s.calls)
}

type lines struct {
	items []string
	i     int
}

func (l *lines) Readline() (string, error) {
	if l.i >= len(l.items) {
		return "", io.EOF
	}
	l.i++
	return l.items[l.i-1], nil
}

func TestLoopStopsOnExit(t *testing.T) {
	s := &fakeSession{}
	cmds, _ := newCommands(s)
	in := &lines{items: []string{"one", "/exit", "never"}}
	require.NoError(t, Loop(context.Background(), in, cmds.console, cmds))
	assert.Equal(t, []call{{"text", "one"}}, s.calls)

	in = &lines{items: []string{"two"}}
	require.NoError(t, Loop(context.Background(), in, cmds.console, cmds))
	assert.Len(t, s.calls, 2)
}

// feed is a playback.Feed with pre-made tracks.
type feed struct {
	tracks map[string]playback.PacketSource
}

func (f *feed) ID() string   { return "remote" }
func (f *feed) Close() error { return nil }

func (f *feed) OnTrack(fn func(string, playback.PacketSource)) {
	for id, src := range f.tracks {
		fn(id, src)
	}
}

type packets chan *rtp.Packet

func (p packets) ReadRTP() (*rtp.Packet, error) {
	pkt, ok := <-p
	if !ok {
		return nil, io.EOF
	}
	return pkt, nil
}

func TestSinkRelaysRemoteMedia(t *testing.T) {
	relays := playback.NewManager()
	sink := NewSink(context.Background(), relays)
	audio := make(packets, 4)
	defer close(audio)

	sink.BindLocal(stubStream("local"))
	sink.BindRemote(&feed{tracks: map[string]playback.PacketSource{"audio": audio}})
	audio <- &rtp.Packet{Payload: []byte{1, 2}}
	require.Eventually(t, func() bool { return sink.Stats().Packets == 1 }, time.Second, 5*time.Millisecond)

	sink.Mute()
	audio <- &rtp.Packet{Payload: []byte{3}}
	audio <- &rtp.Packet{Payload: []byte{4}}
	time.Sleep(50 * time.Millisecond)
	st := sink.Stats()
	assert.Equal(t, uint64(1), st.Packets)
	assert.True(t, st.Muted)
	assert.Equal(t, "local", st.Local)
	assert.Equal(t, "remote", st.Remote)
	assert.Equal(t, 1, st.Tracks)

	sink.Unmute()
	audio <- &rtp.Packet{Payload: []byte{5}}
	require.Eventually(t, func() bool { return sink.Stats().Packets == 2 }, time.Second, 5*time.Millisecond)

	// Plain streams are bound without relays.
	sink.BindRemote(stubStream("plain"))
	assert.Equal(t, 0, sink.Stats().Tracks)
}

type stubStream string

func (s stubStream) ID() string   { return string(s) }
func (s stubStream) Close() error { return nil }

var _ core.MediaSink = (*Sink)(nil)
var _ core.Notifier = (*Console)(nil)
var _ core.ConsentPrompter = (*Console)(nil)
