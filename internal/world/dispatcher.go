package world

import (
	"context"
	"errors"
	"hash/maphash"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/udisondev/spawnerd/internal/model"
)

// ErrRegionUnavailable is returned when a task cannot be queued on the
// executor owning a location.
var ErrRegionUnavailable = errors.New("region executor unavailable")

// Executor runs tasks in the execution context that owns a location.
// Tasks for the same region never run concurrently and run in FIFO order.
type Executor interface {
	Dispatch(loc model.Location, fn func()) bool
}

// defaultQueueSize is the per-worker task buffer.
const defaultQueueSize = 1024

// RegionExecutor hashes regions onto a fixed set of single-goroutine workers.
type RegionExecutor struct {
	queues  []chan func()
	seed    maphash.Seed
	dropped atomic.Int64

	mu      sync.RWMutex // guards running against in-flight Dispatch sends
	running bool

	wg sync.WaitGroup
}

// NewRegionExecutor creates executor with n workers (n < 1 → runtime.NumCPU()).
func NewRegionExecutor(n int) *RegionExecutor {
	if n < 1 {
		n = runtime.NumCPU()
	}
	e := &RegionExecutor{
		queues: make([]chan func(), n),
		seed:   maphash.MakeSeed(),
	}
	for i := range e.queues {
		e.queues[i] = make(chan func(), defaultQueueSize)
	}
	return e
}

// Workers returns number of workers.
func (e *RegionExecutor) Workers() int {
	return len(e.queues)
}

// Running reports whether Dispatch accepts tasks.
func (e *RegionExecutor) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Dropped returns number of tasks rejected because a queue was full.
func (e *RegionExecutor) Dropped() int64 {
	return e.dropped.Load()
}

// Start runs the workers until ctx is cancelled. Tasks queued before
// cancellation still run, in order, before Start returns.
func (e *RegionExecutor) Start(ctx context.Context) error {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	slog.Info("region executor started", "workers", len(e.queues))

	for i, q := range e.queues {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.work(ctx, i, q)
		}()
	}

	<-ctx.Done()
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	e.wg.Wait()

	drained := e.drain()
	slog.Info("region executor stopped", "drained", drained, "dropped", e.dropped.Load())
	return ctx.Err()
}

// drain runs what is left in the queues. Dispatch is closed by now.
func (e *RegionExecutor) drain() int {
	n := 0
	for i, q := range e.queues {
		for empty := false; !empty; {
			select {
			case fn := <-q:
				e.run(i, fn)
				n++
			default:
				empty = true
			}
		}
	}
	return n
}

func (e *RegionExecutor) work(ctx context.Context, id int, q <-chan func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-q:
			e.run(id, fn)
		}
	}
}

func (e *RegionExecutor) run(id int, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("region task panicked", "worker", id, "panic", r)
		}
	}()
	fn()
}

// Dispatch queues fn on the worker owning loc's region.
// Returns false if the executor is not running or the queue is full.
func (e *RegionExecutor) Dispatch(loc model.Location, fn func()) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.running {
		return false
	}
	q := e.queues[e.worker(loc)]
	select {
	case q <- fn:
		return true
	default:
		e.dropped.Add(1)
		slog.Warn("region queue full, task dropped", "location", loc.String())
		return false
	}
}

func (e *RegionExecutor) worker(loc model.Location) int {
	rx, rz := CoordToRegionIndex(loc.X, loc.Z)
	var h maphash.Hash
	h.SetSeed(e.seed)
	h.WriteString(loc.World)
	var buf [8]byte
	key := uint64(RegionKey(rx, rz))
	for i := range buf {
		buf[i] = byte(key >> (8 * i))
	}
	h.Write(buf[:])
	return int(h.Sum64() % uint64(len(e.queues)))
}

// InlineExecutor runs tasks synchronously on the calling goroutine.
// Used by tests and tools that have no region threads.
type InlineExecutor struct{}

// Dispatch runs fn immediately.
func (InlineExecutor) Dispatch(_ model.Location, fn func()) bool {
	fn()
	return true
}
