package handlers

import (
	"strings"
	"sync"
	"time"
)

type rateLimiter interface {
	Allow(key string) bool
}

// pruneEvery bounds how often the limiter sweeps stale windows so a churn of
// one-off webhook sources cannot grow the map unbounded.
const pruneEvery = 256

// simpleRateLimiter counts requests per key in fixed windows. A window resets
// lazily on the first request after it elapses.
type simpleRateLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu       sync.Mutex
	windows  map[string]rateWindow
	inserted int
}

type rateWindow struct {
	count   int
	started time.Time
}

func newSimpleRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &simpleRateLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]rateWindow),
	}
}

func (l *simpleRateLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}

	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.started) >= l.window {
		l.windows[key] = rateWindow{count: 1, started: now}
		l.inserted++
		if l.inserted%pruneEvery == 0 {
			l.pruneLocked(now)
		}
		return true
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	l.windows[key] = w
	return true
}

func (l *simpleRateLimiter) pruneLocked(now time.Time) {
	for key, w := range l.windows {
		if now.Sub(w.started) >= l.window {
			delete(l.windows, key)
		}
	}
}
