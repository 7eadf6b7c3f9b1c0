package db

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/udisondev/spawnerd/internal/model"
)

// SpawnerStore is the persistence the saver flushes to.
type SpawnerStore interface {
	Save(ctx context.Context, recs ...SpawnerRecord) error
	Delete(ctx context.Context, ids ...string) error
}

// SpawnerLookup resolves live spawners by id.
type SpawnerLookup interface {
	Get(id string) (*model.Spawner, bool)
}

// Saver batches dirty spawners and flushes them periodically.
// Implements model.Persister; MarkDirty never blocks on I/O.
type Saver struct {
	store    SpawnerStore
	lookup   SpawnerLookup
	interval time.Duration

	mu      sync.Mutex
	dirty   map[string]struct{}
	deleted map[string]struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSaver creates a saver flushing every interval.
func NewSaver(store SpawnerStore, lookup SpawnerLookup, interval time.Duration) *Saver {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Saver{
		store:    store,
		lookup:   lookup,
		interval: interval,
		dirty:    make(map[string]struct{}),
		deleted:  make(map[string]struct{}),
		stopCh:   make(chan struct{}),
	}
}

// SetLookup sets the registry dirty ids are resolved against.
func (s *Saver) SetLookup(l SpawnerLookup) {
	s.lookup = l
}

// MarkDirty schedules a spawner for the next flush.
func (s *Saver) MarkDirty(id string) {
	s.mu.Lock()
	if _, gone := s.deleted[id]; !gone {
		s.dirty[id] = struct{}{}
	}
	s.mu.Unlock()
}

// MarkDeleted schedules a spawner row for deletion.
func (s *Saver) MarkDeleted(id string) {
	s.mu.Lock()
	delete(s.dirty, id)
	s.deleted[id] = struct{}{}
	s.mu.Unlock()
}

// Pending returns number of dirty and deleted ids waiting for a flush.
func (s *Saver) Pending() (dirty, deleted int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirty), len(s.deleted)
}

// Start runs the flush loop (blocks until context is canceled or Stop is called).
// A final flush runs on the way out.
func (s *Saver) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("spawner saver started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.finalFlush()
			return ctx.Err()

		case <-s.stopCh:
			s.finalFlush()
			return nil

		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				slog.Error("spawner flush failed", "error", err)
			}
		}
	}
}

// Stop stops the flush loop.
func (s *Saver) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Saver) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		slog.Error("final spawner flush failed", "error", err)
		return
	}
	slog.Info("spawner saver stopped")
}

// Flush writes all pending changes. Ids that fail to save are re-queued.
func (s *Saver) Flush(ctx context.Context) error {
	s.mu.Lock()
	dirty, deleted := s.dirty, s.deleted
	s.dirty = make(map[string]struct{})
	s.deleted = make(map[string]struct{})
	s.mu.Unlock()

	if len(dirty) == 0 && len(deleted) == 0 {
		return nil
	}

	recs := make([]SpawnerRecord, 0, len(dirty))
	for id := range dirty {
		sp, ok := s.lookup.Get(id)
		if !ok || sp.Removed() {
			// unloaded since marked; its last state was saved on unload
			continue
		}
		sp.ClearModified()
		recs = append(recs, RecordOf(sp))
	}

	if err := s.store.Save(ctx, recs...); err != nil {
		s.requeue(dirty, nil)
		s.requeue(nil, deleted)
		return err
	}

	ids := make([]string, 0, len(deleted))
	for id := range deleted {
		ids = append(ids, id)
	}
	if err := s.store.Delete(ctx, ids...); err != nil {
		s.requeue(nil, deleted)
		return err
	}

	slog.Debug("spawners flushed", "saved", len(recs), "deleted", len(ids))
	return nil
}

// SaveNow writes one spawner synchronously (used on world unload).
func (s *Saver) SaveNow(ctx context.Context, sp *model.Spawner) error {
	s.mu.Lock()
	delete(s.dirty, sp.ID())
	s.mu.Unlock()

	sp.ClearModified()
	if err := s.store.Save(ctx, RecordOf(sp)); err != nil {
		s.MarkDirty(sp.ID())
		return err
	}
	return nil
}

func (s *Saver) requeue(dirty, deleted map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range deleted {
		s.deleted[id] = struct{}{}
	}
	for id := range dirty {
		if _, gone := s.deleted[id]; !gone {
			s.dirty[id] = struct{}{}
		}
	}
}
