package handlers

import (
	"strings"
	"sync"
	"time"
)

type rateLimiter interface {
	Allow(key string) bool
}

// fixedWindowLimiter counts hits per key inside a fixed window. It backs the
// public payment callback, keyed by remote IP, so the map stays small; stale
// windows are swept whenever a new key is admitted.
type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]*hitWindow
}

type hitWindow struct {
	openedAt time.Time
	hits     int
}

func newSimpleRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]*hitWindow),
	}
}

func (l *fixedWindowLimiter) Allow(key string) bool {
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

	win := l.windows[key]
	if win == nil || now.Sub(win.openedAt) >= l.window {
		l.sweepLocked(now)
		l.windows[key] = &hitWindow{openedAt: now, hits: 1}
		return true
	}
	if win.hits >= l.limit {
		return false
	}
	win.hits++
	return true
}

func (l *fixedWindowLimiter) sweepLocked(now time.Time) {
	for key, win := range l.windows {
		if now.Sub(win.openedAt) >= l.window {
			delete(l.windows, key)
		}
	}
}
