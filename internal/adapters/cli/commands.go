package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Peerchat/internal/app/convo"
	"github.com/dkeye/Peerchat/internal/app/session"
	"github.com/dkeye/Peerchat/internal/core"
	"github.com/dkeye/Peerchat/internal/domain"
)

// Session is what the command loop drives. *session.Manager satisfies it.
type Session interface {
	Connect(ctx context.Context, remote string) error
	Call(ctx context.Context, remote string) error
	EndCall(ctx context.Context) error
	SendText(ctx context.Context, content string) error
	SendFile(ctx context.Context, f session.File) error
	State(ctx context.Context) (session.Snapshot, error)
	Log() *convo.Log
}

var commandNames = []string{"/connect", "/call", "/end", "/file", "/save", "/mute", "/unmute", "/state", "/help", "/exit"}

// Commands maps input lines to session operations.
type Commands struct {
	s       Session
	console *Console
	sink    *Sink
}

func NewCommands(s Session, console *Console, sink *Sink) *Commands {
	return &Commands{s: s, console: console, sink: sink}
}

// Execute runs one input line. Lines not starting with a slash are sent
// as text. It reports true when the user asked to leave.
func (c *Commands) Execute(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		c.report(c.s.SendText(ctx, line))
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/connect":
		if arg == "" {
			c.usage("/connect <peer id>")
			return false
		}
		c.report(c.s.Connect(ctx, arg))
	case "/call":
		if arg == "" {
			c.usage("/call <peer id>")
			return false
		}
		c.report(c.s.Call(ctx, arg))
	case "/end":
		c.report(c.s.EndCall(ctx))
	case "/file":
		if arg == "" {
			c.usage("/file <path>")
			return false
		}
		c.report(c.sendFile(ctx, arg))
	case "/save":
		if arg == "" {
			c.usage("/save <n> [path]")
			return false
		}
		c.report(c.saveFile(arg))
	case "/mute":
		c.sink.Mute()
		c.console.Notify(core.NoticeInfo, "Remote audio muted")
	case "/unmute":
		c.sink.Unmute()
		c.console.Notify(core.NoticeInfo, "Remote audio unmuted")
	case "/state":
		c.printState(ctx)
	case "/help":
		c.printHelp()
	case "/exit", "/quit":
		return true
	default:
		c.console.Notify(core.NoticeError, fmt.Sprintf("Unknown command %s, try /help", cmd))
	}
	return false
}

func (c *Commands) sendFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.s.SendFile(ctx, session.File{Name: filepath.Base(path), Content: f})
}

// saveFile writes the payload of file entry #n to disk. Without a path
// the file's own name in the working directory is used; a directory path
// gets the file's name appended. Existing files are not overwritten.
func (c *Commands) saveFile(arg string) error {
	num, dest, _ := strings.Cut(arg, " ")
	n, err := strconv.Atoi(strings.TrimPrefix(num, "#"))
	if err != nil || n < 1 {
		return fmt.Errorf("not an entry number: %s", num)
	}
	e, ok := c.s.Log().Entry(n - 1)
	if !ok {
		return fmt.Errorf("no entry #%d", n)
	}
	if e.Kind != domain.KindFile {
		return fmt.Errorf("entry #%d is not a file", n)
	}

	name := filepath.Base(e.FileName)
	if name == "." || name == ".." || name == string(filepath.Separator) {
		name = fmt.Sprintf("entry-%d", n)
	}
	dest = strings.TrimSpace(dest)
	if dest == "" {
		dest = name
	} else if fi, err := os.Stat(dest); err == nil && fi.IsDir() {
		dest = filepath.Join(dest, name)
	}

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(e.Payload); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	log.Info().Str("module", "cli").Str("file", e.FileName).Str("path", dest).Int("bytes", len(e.Payload)).Msg("attachment saved")
	c.console.Notify(core.NoticeSuccess, fmt.Sprintf("Saved %s (%s) to %s", e.FileName, humanize.IBytes(uint64(len(e.Payload))), dest))
	return nil
}

// report surfaces errors the session did not already announce.
func (c *Commands) report(err error) {
	if err == nil {
		return
	}
	var (
		verr *domain.ValidationError
		terr *domain.TransportError
	)
	switch {
	case errors.As(err, &terr):
	case errors.As(err, &verr):
		c.console.Notify(core.NoticeError, capitalize(verr.Reason))
	case errors.Is(err, domain.ErrNotReady):
		c.console.Notify(core.NoticeError, "Still connecting to the rendezvous server")
	default:
		c.console.Notify(core.NoticeError, err.Error())
	}
}

func (c *Commands) usage(u string) {
	c.console.Notify(core.NoticeError, "Usage: "+u)
}

func (c *Commands) printState(ctx context.Context) {
	snap, err := c.s.State(ctx)
	if err != nil {
		c.report(err)
		return
	}
	id := "loading..."
	if snap.Identity.Ready {
		id = string(snap.Identity.ID)
	}
	c.console.Printf("id: %s\n", id)
	if snap.Connection != nil {
		c.console.Printf("current connection: %s (%s, %s)\n", snap.Connection.RemoteID, snap.Connection.Direction, snap.Connection.State)
	} else {
		c.console.Println("current connection: none")
	}
	for _, conn := range snap.Connections {
		c.console.Printf("  %s %s %s\n", conn.RemoteID, conn.Direction, conn.State)
	}
	if snap.Call != nil {
		c.console.Printf("call: %s (%s, %s)\n", snap.Call.RemoteID, snap.Call.Direction, snap.Call.State)
	} else {
		c.console.Println("call: none")
	}
	st := c.sink.Stats()
	c.console.Printf("media: %d tracks, %d packets, %s received, muted=%t\n", st.Tracks, st.Packets, humanize.IBytes(st.Bytes), st.Muted)
}

func (c *Commands) printHelp() {
	c.console.Println(`Commands:
  /connect <id>   open a data connection
  /call <id>      start an audio/video call
  /end            end the current call
  /file <path>    send a file
  /save <n> [p]   save file #n from the log
  /mute, /unmute  toggle remote audio
  /state          show identity, connections and call
  /help           this text
  /exit           leave
Any other line is sent as a text message.`)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Completer completes command names.
func Completer() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(commandNames))
	for _, name := range commandNames {
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}

// Prompt is the input prompt for the local id.
func Prompt(id domain.PeerID) string {
	if id == "" {
		return localColor.Sprint("loading...") + "> "
	}
	return localColor.Sprint(string(id)) + "> "
}

// LineReader is the part of *readline.Instance the loop uses.
type LineReader interface {
	Readline() (string, error)
}

// Loop reads lines until /exit, end of input or ctx. Lines answer an open
// consent question first.
func Loop(ctx context.Context, in LineReader, console *Console, cmds *Commands) error {
	for ctx.Err() == nil {
		line, err := in.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if line == "" {
				return nil
			}
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}
		if console.Answer(line) {
			continue
		}
		if cmds.Execute(ctx, line) {
			log.Info().Str("module", "cli").Msg("exit requested")
			return nil
		}
	}
	return ctx.Err()
}
