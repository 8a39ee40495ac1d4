package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/dkeye/Peerchat/internal/app/convo"
	"github.com/dkeye/Peerchat/internal/domain"
)

var (
	localColor  = color.New(color.FgGreen)
	remoteColor = color.New(color.FgCyan)
)

// Render prints one conversation log change. Use it with convo.Log.Subscribe.
// File entries are numbered for /save.
func (c *Console) Render(ch convo.Change) {
	e := ch.Entry
	switch ch.Kind {
	case convo.Appended:
		line := FormatEntry(e)
		if e.Kind == domain.KindFile {
			line = fmt.Sprintf("#%d %s", ch.Index+1, line)
		}
		if e.Origin == domain.OriginLocal {
			localColor.Fprintln(c.out, line)
			return
		}
		remoteColor.Fprintln(c.out, line)
	case convo.StatusChanged:
		if e.Status == domain.StatusFailed {
			errorColor.Fprintf(c.out, "not delivered to %s: %s\n", e.RemoteID, summary(e))
		}
	}
}

// FormatEntry renders an entry as one line. Local entries carry the
// "you" tag on the right.
func FormatEntry(e domain.MessageEntry) string {
	if e.Origin == domain.OriginLocal {
		return fmt.Sprintf("%s  [you → %s]", summary(e), e.RemoteID)
	}
	return fmt.Sprintf("[%s] %s", e.RemoteID, summary(e))
}

func summary(e domain.MessageEntry) string {
	if e.Kind == domain.KindText {
		return e.Text
	}
	mime := e.MimeType
	if mime == "" {
		mime = "unknown type"
	}
	s := fmt.Sprintf("file %s (%s, %s)", e.FileName, mime, humanize.IBytes(uint64(len(e.Payload))))
	if e.PreviewDataURI != "" {
		s += " [image]"
	}
	return s
}
