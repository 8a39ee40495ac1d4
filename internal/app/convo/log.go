// Package convo holds the conversation log and the inbound frame sequencer.
package convo

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Peerchat/internal/domain"
)

var (
	ErrNoEntry       = errors.New("no such entry")
	ErrStatusSettled = errors.New("entry status already settled")
)

type ChangeKind int

const (
	Appended ChangeKind = iota
	StatusChanged
)

// Change describes one mutation of the log as seen by subscribers.
type Change struct {
	Kind  ChangeKind
	Index int
	Entry domain.MessageEntry
}

// Log is the append-only conversation record. Entries are never removed
// or reordered; the transmission status of a local entry is the only field
// that changes after append. Safe for concurrent readers; subscribers are
// called on the writer's goroutine, in mutation order.
type Log struct {
	mu      sync.RWMutex
	entries []domain.MessageEntry
	subs    map[int]func(Change)
	nextSub int
}

func NewLog() *Log {
	return &Log{subs: make(map[int]func(Change))}
}

// Append validates e and adds it at the end. It returns e's position.
func (l *Log) Append(e domain.MessageEntry) (int, error) {
	if err := e.Validate(); err != nil {
		return -1, err
	}
	l.mu.Lock()
	l.entries = append(l.entries, e)
	idx := len(l.entries) - 1
	subs := l.subscribersLocked()
	l.mu.Unlock()

	for _, fn := range subs {
		fn(Change{Kind: Appended, Index: idx, Entry: e})
	}
	return idx, nil
}

// SetStatus settles a pending local entry.
func (l *Log) SetStatus(idx int, status domain.Status) error {
	l.mu.Lock()
	if idx < 0 || idx >= len(l.entries) {
		l.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNoEntry, idx)
	}
	e := &l.entries[idx]
	if e.Status != domain.StatusPending {
		l.mu.Unlock()
		return fmt.Errorf("%w: %d is %s", ErrStatusSettled, idx, e.Status)
	}
	e.Status = status
	snapshot := *e
	subs := l.subscribersLocked()
	l.mu.Unlock()

	for _, fn := range subs {
		fn(Change{Kind: StatusChanged, Index: idx, Entry: snapshot})
	}
	return nil
}

// Entries returns a copy of the log in order.
func (l *Log) Entries() []domain.MessageEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.MessageEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Entry(idx int) (domain.MessageEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if idx < 0 || idx >= len(l.entries) {
		return domain.MessageEntry{}, false
	}
	return l.entries[idx], true
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Subscribe registers fn for every later change. The returned func
// removes the subscription.
func (l *Log) Subscribe(fn func(Change)) func() {
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

func (l *Log) subscribersLocked() []func(Change) {
	out := make([]func(Change), 0, len(l.subs))
	for id := 0; id < l.nextSub; id++ {
		if fn, ok := l.subs[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}
