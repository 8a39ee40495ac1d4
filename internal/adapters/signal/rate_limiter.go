package signal

import (
	"sync"
	"time"

	"github.com/dkeye/Peerchat/internal/domain"
)

// OfferRateLimiter allows at most limit offers per peer in a sliding window.
type OfferRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.PeerID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewOfferRateLimiter(limit int, interval time.Duration) *OfferRateLimiter {
	return &OfferRateLimiter{
		history:  make(map[domain.PeerID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *OfferRateLimiter) Allow(id domain.PeerID) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[id]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[id] = fresh
		return false
	}

	rl.history[id] = append(fresh, now)
	return true
}

// Forget drops the history of a disconnected peer.
func (rl *OfferRateLimiter) Forget(id domain.PeerID) {
	rl.mu.Lock()
	delete(rl.history, id)
	rl.mu.Unlock()
}
