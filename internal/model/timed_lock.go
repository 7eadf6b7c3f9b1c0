package model

import "time"

// TimedLock is a mutex that supports bounded waits.
// Zero value is not usable; create with NewTimedLock.
type TimedLock struct {
	ch chan struct{}
}

// NewTimedLock creates an unlocked TimedLock.
func NewTimedLock() *TimedLock {
	return &TimedLock{ch: make(chan struct{}, 1)}
}

// Lock blocks until the lock is acquired.
func (l *TimedLock) Lock() {
	l.ch <- struct{}{}
}

// TryLock acquires the lock without waiting.
func (l *TimedLock) TryLock() bool {
	select {
	case l.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// TryLockFor waits at most d for the lock.
func (l *TimedLock) TryLockFor(d time.Duration) bool {
	if l.TryLock() {
		return true
	}
	if d <= 0 {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case l.ch <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

// Unlock releases the lock. Unlocking an unlocked TimedLock panics.
func (l *TimedLock) Unlock() {
	select {
	case <-l.ch:
	default:
		panic("model: unlock of unlocked TimedLock")
	}
}
