package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimedLock_TryLock(t *testing.T) {
	l := NewTimedLock()

	assert.True(t, l.TryLock())
	assert.False(t, l.TryLock())
	l.Unlock()
	assert.True(t, l.TryLock())
	l.Unlock()
}

func TestTimedLock_TryLockForTimesOut(t *testing.T) {
	l := NewTimedLock()
	l.Lock()
	defer l.Unlock()

	start := time.Now()
	assert.False(t, l.TryLockFor(20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	assert.False(t, l.TryLockFor(0))
}

func TestTimedLock_TryLockForAcquiresAfterRelease(t *testing.T) {
	l := NewTimedLock()
	l.Lock()

	go func() {
		time.Sleep(5 * time.Millisecond)
		l.Unlock()
	}()

	assert.True(t, l.TryLockFor(time.Second))
	l.Unlock()
}

func TestTimedLock_UnlockUnlockedPanics(t *testing.T) {
	l := NewTimedLock()
	assert.Panics(t, l.Unlock)
}
