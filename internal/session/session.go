package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/udisondev/spawnerd/internal/model"
	"github.com/udisondev/spawnerd/internal/viewer"
	"github.com/udisondev/spawnerd/internal/withdraw"
)

var (
	// ErrUnknownSpawner is returned when opening a view of an unregistered spawner.
	ErrUnknownSpawner = errors.New("unknown spawner")
	// ErrNoView is returned for storage actions without an open view.
	ErrNoView = errors.New("no open view")
)

// Sink receives rendered snapshots of the actor's view.
type Sink interface {
	Send(s viewer.Snapshot)
	// Closed is called once when the view ends for a reason other than the
	// actor closing it.
	Closed(reason string)
}

// Lookup resolves registered spawners.
type Lookup interface {
	Get(id string) (*model.Spawner, bool)
}

// Presence removes disconnected players from the world.
type Presence interface {
	RemovePlayer(id string)
}

// Registry holds the open storage views, one per actor. All per-actor state
// lives here and is evicted on disconnect.
type Registry struct {
	views sync.Map // map[string]*View — actor → view
	open  atomic.Int32

	spawners Lookup
	hub      *viewer.Hub
	withdraw *withdraw.Service
	presence Presence
	visual   viewer.Visual
	prices   model.PriceSource
	perPage  int
}

// NewRegistry creates an empty session registry.
func NewRegistry(
	spawners Lookup,
	hub *viewer.Hub,
	svc *withdraw.Service,
	presence Presence,
	visual viewer.Visual,
	prices model.PriceSource,
	perPage int,
) *Registry {
	if perPage <= 0 {
		perPage = 45
	}
	return &Registry{
		spawners: spawners,
		hub:      hub,
		withdraw: svc,
		presence: presence,
		visual:   visual,
		prices:   prices,
		perPage:  perPage,
	}
}

// Open opens actor's view of spawnerID, closing any previous view.
func (r *Registry) Open(actor, spawnerID string, sink Sink) (*View, error) {
	sp, ok := r.spawners.Get(spawnerID)
	if !ok || sp.Removed() {
		return nil, fmt.Errorf("opening view of %s: %w", spawnerID, ErrUnknownSpawner)
	}
	r.Close(actor)

	v := &View{
		registry: r,
		actor:    actor,
		sp:       sp,
		sink:     sink,
		page:     1,
		staging:  withdraw.NewPage(nil),
	}
	r.views.Store(actor, v)
	r.open.Add(1)
	r.hub.Track(spawnerID, v)
	v.Refresh(sp)

	slog.Debug("storage view opened", "actor", actor, "spawner", spawnerID)
	return v, nil
}

// View returns the actor's open view.
func (r *Registry) View(actor string) (*View, bool) {
	v, ok := r.views.Load(actor)
	if !ok {
		return nil, false
	}
	return v.(*View), true
}

// Close closes the actor's view and cancels its in-flight transaction.
func (r *Registry) Close(actor string) bool {
	v, ok := r.views.LoadAndDelete(actor)
	if !ok {
		return false
	}
	r.open.Add(-1)
	view := v.(*View)
	r.hub.Untrack(view.sp.ID(), actor)
	if r.withdraw.CloseView(actor) {
		slog.Info("view closed during withdrawal, transaction cancelled", "actor", actor, "spawner", view.sp.ID())
	}
	return true
}

// Disconnect evicts everything kept for the actor.
func (r *Registry) Disconnect(actor string) {
	r.Close(actor)
	r.withdraw.ForgetActor(actor)
	r.presence.RemovePlayer(actor)
	slog.Debug("actor disconnected", "actor", actor)
}

// Count returns number of open views.
func (r *Registry) Count() int {
	return int(r.open.Load())
}

// View is one actor's open storage view. It is the withdraw.Staging the
// actor's transactions snapshot.
type View struct {
	registry *Registry
	actor    string
	sp       *model.Spawner
	sink     Sink

	mu      sync.Mutex
	page    int
	staging *withdraw.Page
}

// Actor implements viewer.Viewer.
func (v *View) Actor() string { return v.actor }

// Spawner returns the viewed spawner.
func (v *View) Spawner() *model.Spawner { return v.sp }

// Page returns the current page number (1-based).
func (v *View) Page() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.page
}

// Staging returns the rendered page the actor acts on.
func (v *View) Staging() *withdraw.Page { return v.staging }

// Refresh implements viewer.Viewer: re-renders the page and pushes it.
func (v *View) Refresh(sp *model.Spawner) {
	r := v.registry

	v.mu.Lock()
	items, pages := sp.Ledger().Page(v.page, r.perPage, sp.PreferredSort())
	v.page = min(v.page, pages)
	page := v.page
	v.staging.Set(items)
	v.mu.Unlock()

	if v.sink != nil {
		v.sink.Send(viewer.NewSnapshot(sp, items, page, pages, r.visual, r.prices))
	}
}

// Close implements viewer.Viewer: the spawner is gone.
func (v *View) Close() {
	if cur, ok := v.registry.View(v.actor); ok && cur == v {
		v.registry.Close(v.actor)
	}
	if v.sink != nil {
		v.sink.Closed("spawner removed")
	}
}

// SetPage switches to page n (clamped) and re-renders.
func (v *View) SetPage(n int) {
	v.mu.Lock()
	v.page = max(1, n)
	v.mu.Unlock()
	v.Refresh(v.sp)
}

// SetPreferredSort changes which kind is listed first and re-renders.
func (v *View) SetPreferredSort(kind string) {
	v.sp.SetPreferredSort(kind)
	v.sp.MarkModified()
	v.Refresh(v.sp)
}

// DropPage drops everything on the current page.
func (v *View) DropPage(ctx context.Context) withdraw.Result {
	return v.after(v.registry.withdraw.DropPage(ctx, v.actor, v.sp, v.staging))
}

// TakeItem takes amount units from one slot of the current page.
func (v *View) TakeItem(ctx context.Context, slot int, amount int64) withdraw.Result {
	return v.after(v.registry.withdraw.TakeItem(ctx, v.actor, v.sp, v.staging, slot, amount))
}

// SellAll sells the whole storage.
func (v *View) SellAll(ctx context.Context) withdraw.Result {
	return v.after(v.registry.withdraw.SellAll(ctx, v.actor, v.sp, v.staging))
}

// TakeExp claims the stored experience.
func (v *View) TakeExp(ctx context.Context) withdraw.Result {
	return v.after(v.registry.withdraw.TakeExp(ctx, v.actor, v.sp))
}

// after re-renders the view following a successful action.
func (v *View) after(res withdraw.Result) withdraw.Result {
	if res == withdraw.ResultOK {
		v.Refresh(v.sp)
	}
	return res
}
