package worker

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const logSuppressWindow = time.Hour

// rateLimiter suppresses repeat log lines per device+error key so a
// permanently sleeping disk does not flood the log.
type rateLimiter struct {
	clk  clock.Clock
	mu   sync.Mutex
	last map[string]int64
}

func newRateLimiter(clk clock.Clock) *rateLimiter {
	return &rateLimiter{clk: clk, last: make(map[string]int64)}
}

// Allow reports whether the keyed message may be logged now, recording
// the emission time when it is.
func (r *rateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clk.Now().UnixNano()
	if prev, ok := r.last[key]; ok && now-prev < logSuppressWindow.Nanoseconds() {
		return false
	}
	r.last[key] = now
	return true
}
