package convo

import (
	"maps"
	"slices"

	"github.com/dkeye/Peerchat/internal/domain"
)

// DefaultHoldLimit is how many out-of-order entries a Sequencer keeps
// before it gives up on a gap.
const DefaultHoldLimit = 64

// Sequencer restores sender order for entries received on one
// connection. Senders number frames from 1. Entries with Seq 0 are
// unsequenced and pass straight through. Not safe for concurrent use.
type Sequencer struct {
	next  uint64
	limit int
	held  map[uint64]domain.MessageEntry
}

func NewSequencer(limit int) *Sequencer {
	if limit <= 0 {
		limit = DefaultHoldLimit
	}
	return &Sequencer{
		next:  1,
		limit: limit,
		held:  make(map[uint64]domain.MessageEntry),
	}
}

// Push accepts one entry and returns the entries now deliverable, in
// order. The bool is false when e was a duplicate and got dropped.
func (s *Sequencer) Push(e domain.MessageEntry) ([]domain.MessageEntry, bool) {
	if e.Seq == 0 {
		return []domain.MessageEntry{e}, true
	}
	if e.Seq < s.next {
		return nil, false
	}
	if _, dup := s.held[e.Seq]; dup {
		return nil, false
	}
	s.held[e.Seq] = e
	if e.Seq != s.next && len(s.held) > s.limit {
		return s.SkipGap(), true
	}
	return s.drain(), true
}

// SkipGap gives up on the missing entries before the lowest held one and
// returns what becomes deliverable.
func (s *Sequencer) SkipGap() []domain.MessageEntry {
	if len(s.held) == 0 {
		return nil
	}
	s.next = slices.Min(slices.Collect(maps.Keys(s.held)))
	return s.drain()
}

// Held reports how many entries wait on a gap.
func (s *Sequencer) Held() int { return len(s.held) }

func (s *Sequencer) drain() []domain.MessageEntry {
	var out []domain.MessageEntry
	for {
		e, ok := s.held[s.next]
		if !ok {
			return out
		}
		delete(s.held, s.next)
		out = append(out, e)
		s.next++
	}
}
