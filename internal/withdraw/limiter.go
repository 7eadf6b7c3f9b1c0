package withdraw

import (
	"sync"
	"time"

	"github.com/udisondev/spawnerd/internal/config"
)

// limiter admits at most RateMax operations of one action per actor in any
// RateWindow and enforces Cooldown after each finished operation.
//
// check is a read-only precheck; admit re-checks and records the admission.
// Only attempts that got past the actor lock are recorded.
type limiter struct {
	mu       sync.Mutex
	cooldown time.Duration
	window   time.Duration // <= 0: unlimited
	limit    int
	actors   map[string]map[string]*bucket // actor → action → bucket
}

type bucket struct {
	admitted []time.Time // ascending, only entries younger than window
	lastDone time.Time
}

func newLimiter(cfg config.Withdraw) *limiter {
	return &limiter{
		cooldown: max(0, cfg.Cooldown),
		window:   cfg.RateWindow,
		limit:    max(1, cfg.RateMax),
		actors:   make(map[string]map[string]*bucket),
	}
}

func (l *limiter) bucketLocked(actor, action string) *bucket {
	byAction, ok := l.actors[actor]
	if !ok {
		byAction = make(map[string]*bucket)
		l.actors[actor] = byAction
	}
	b, ok := byAction[action]
	if !ok {
		b = &bucket{}
		byAction[action] = b
	}
	return b
}

func (l *limiter) allowedLocked(b *bucket, now time.Time) bool {
	if !b.lastDone.IsZero() && now.Sub(b.lastDone) < l.cooldown {
		return false
	}
	if l.window <= 0 {
		return true
	}
	drop := 0
	for drop < len(b.admitted) && now.Sub(b.admitted[drop]) >= l.window {
		drop++
	}
	if drop > 0 {
		b.admitted = append(b.admitted[:0], b.admitted[drop:]...)
	}
	return len(b.admitted) < l.limit
}

// check reports whether an operation could start now. Records nothing.
func (l *limiter) check(actor, action string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowedLocked(l.bucketLocked(actor, action), now)
}

// admit re-checks and records the operation in the window.
func (l *limiter) admit(actor, action string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketLocked(actor, action)
	if !l.allowedLocked(b, now) {
		return false
	}
	if l.window > 0 {
		b.admitted = append(b.admitted, now)
	}
	return true
}

// finish starts the cooldown.
func (l *limiter) finish(actor, action string, now time.Time) {
	l.mu.Lock()
	l.bucketLocked(actor, action).lastDone = now
	l.mu.Unlock()
}

func (l *limiter) forget(actor string) {
	l.mu.Lock()
	delete(l.actors, actor)
	l.mu.Unlock()
}

func (l *limiter) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.actors)
}
