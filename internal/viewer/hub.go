package viewer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/udisondev/spawnerd/internal/model"
)

// Viewer is one actor looking at one spawner's storage.
type Viewer interface {
	Actor() string
	// Refresh re-renders the view. Called from the hub's flush goroutine.
	Refresh(sp *model.Spawner)
	// Close tells the viewer its spawner is gone.
	Close()
}

// Hub coalesces spawner change notifications and refreshes viewers once per
// flush interval. Spawners nobody looks at are never queued.
type Hub struct {
	mu    sync.Mutex
	views map[string]map[string]Viewer // spawnerID → actor → viewer
	dirty map[string]*model.Spawner

	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once

	flushes   atomic.Uint64
	refreshed atomic.Uint64
}

// NewHub creates a hub flushing every interval (≤0 → 250ms).
func NewHub(interval time.Duration) *Hub {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Hub{
		views:    make(map[string]map[string]Viewer),
		dirty:    make(map[string]*model.Spawner),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// SpawnerChanged implements model.Notifier.
func (h *Hub) SpawnerChanged(sp *model.Spawner) {
	h.mu.Lock()
	if len(h.views[sp.ID()]) > 0 {
		h.dirty[sp.ID()] = sp
	}
	h.mu.Unlock()
}

// Track registers v as a viewer of spawnerID, replacing the actor's previous
// view of the same spawner.
func (h *Hub) Track(spawnerID string, v Viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	byActor, ok := h.views[spawnerID]
	if !ok {
		byActor = make(map[string]Viewer)
		h.views[spawnerID] = byActor
	}
	byActor[v.Actor()] = v
}

// Untrack removes the actor's view of spawnerID.
func (h *Hub) Untrack(spawnerID, actor string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	byActor, ok := h.views[spawnerID]
	if !ok {
		return false
	}
	if _, ok := byActor[actor]; !ok {
		return false
	}
	delete(byActor, actor)
	if len(byActor) == 0 {
		delete(h.views, spawnerID)
		delete(h.dirty, spawnerID)
	}
	return true
}

// CloseSpawner drops and closes every view of a spawner. Returns how many
// were closed.
func (h *Hub) CloseSpawner(spawnerID string) int {
	h.mu.Lock()
	byActor := h.views[spawnerID]
	delete(h.views, spawnerID)
	delete(h.dirty, spawnerID)
	h.mu.Unlock()

	for _, v := range byActor {
		v.Close()
	}
	return len(byActor)
}

// HasViewers reports whether anyone looks at spawnerID.
func (h *Hub) HasViewers(spawnerID string) bool {
	return h.Viewers(spawnerID) > 0
}

// Viewers returns number of viewers of spawnerID.
func (h *Hub) Viewers(spawnerID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.views[spawnerID])
}

// Start runs the flush loop (blocks until context is canceled or Stop is called).
func (h *Hub) Start(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	slog.Info("viewer hub started", "flush_interval", h.interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("viewer hub stopping", "flushes", h.flushes.Load())
			return ctx.Err()

		case <-h.stopCh:
			slog.Info("viewer hub stopped", "flushes", h.flushes.Load())
			return nil

		case <-ticker.C:
			h.Flush()
		}
	}
}

// Stop stops the flush loop. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// Flush refreshes every viewer of every changed spawner and returns the
// number of refreshes.
func (h *Hub) Flush() int {
	type job struct {
		sp      *model.Spawner
		viewers []Viewer
	}

	h.mu.Lock()
	jobs := make([]job, 0, len(h.dirty))
	for id, sp := range h.dirty {
		j := job{sp: sp}
		for _, v := range h.views[id] {
			j.viewers = append(j.viewers, v)
		}
		jobs = append(jobs, j)
	}
	clear(h.dirty)
	h.mu.Unlock()

	h.flushes.Add(1)
	n := 0
	for _, j := range jobs {
		if j.sp.Removed() {
			continue
		}
		for _, v := range j.viewers {
			h.refresh(v, j.sp)
			n++
		}
	}
	h.refreshed.Add(uint64(n))
	return n
}

func (h *Hub) refresh(v Viewer, sp *model.Spawner) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("viewer refresh panicked", "actor", v.Actor(), "spawner", sp.ID(), "panic", r)
		}
	}()
	v.Refresh(sp)
}

// Stats returns number of flushes and refreshes so far.
func (h *Hub) Stats() (flushes, refreshed uint64) {
	return h.flushes.Load(), h.refreshed.Load()
}
