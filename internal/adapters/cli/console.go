// Package cli is the terminal surface of the peer: notifications, the
// call consent question, the rendered conversation and the command loop.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/dkeye/Peerchat/internal/core"
	"github.com/dkeye/Peerchat/internal/domain"
)

var (
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
	askColor     = color.New(color.FgYellow, color.Bold)
)

// Console writes to the terminal and holds the pending consent question.
// It implements core.Notifier and core.ConsentPrompter.
type Console struct {
	out io.Writer

	mu       sync.Mutex
	question *question
}

type question struct {
	remote domain.PeerID
	answer chan bool
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) Notify(level core.NoticeLevel, msg string) {
	switch level {
	case core.NoticeSuccess:
		successColor.Fprintln(c.out, msg)
	case core.NoticeError:
		errorColor.Fprintln(c.out, msg)
	default:
		fmt.Fprintln(c.out, msg)
	}
}

func (c *Console) Println(a ...any) {
	fmt.Fprintln(c.out, a...)
}

func (c *Console) Printf(format string, a ...any) {
	fmt.Fprintf(c.out, format, a...)
}

// ConfirmCall asks at the prompt and waits for Answer or ctx. Only one
// question is open at a time; a second one is declined.
func (c *Console) ConfirmCall(ctx context.Context, remote domain.PeerID) (bool, error) {
	q := &question{remote: remote, answer: make(chan bool, 1)}
	c.mu.Lock()
	if c.question != nil {
		c.mu.Unlock()
		return false, nil
	}
	c.question = q
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.question == q {
			c.question = nil
		}
		c.mu.Unlock()
	}()

	askColor.Fprintf(c.out, "Accept call from %s? [y/n]\n", remote)
	select {
	case ok := <-q.answer:
		return ok, nil
	case <-ctx.Done():
		c.Println("No answer given.")
		return false, ctx.Err()
	}
}

// Answer consumes line as the reply to an open consent question. It
// reports false when no question is open.
func (c *Console) Answer(line string) bool {
	c.mu.Lock()
	q := c.question
	c.question = nil
	c.mu.Unlock()
	if q == nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		q.answer <- true
	default:
		q.answer <- false
	}
	return true
}

// Asking reports whether a consent question is open.
func (c *Console) Asking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.question != nil
}
