package withdraw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/udisondev/spawnerd/internal/config"
	"github.com/udisondev/spawnerd/internal/ledger"
	"github.com/udisondev/spawnerd/internal/model"
)

// Lookup resolves the currently registered spawner for an id.
type Lookup interface {
	Get(id string) (*model.Spawner, bool)
}

// Effect materializes withdrawn items outside the ledger (dropped in the
// world, moved into an inventory). Runs only after the ledger commit.
type Effect interface {
	Materialize(ctx context.Context, actor string, items []ledger.Stack) error
}

// EffectFunc adapts a function to Effect.
type EffectFunc func(ctx context.Context, actor string, items []ledger.Stack) error

// Materialize calls f.
func (f EffectFunc) Materialize(ctx context.Context, actor string, items []ledger.Stack) error {
	return f(ctx, actor, items)
}

// Payout credits an actor for sold items.
type Payout interface {
	Pay(ctx context.Context, actor string, amount float64) error
}

// ExpSink gives claimed experience to an actor.
type ExpSink interface {
	GiveExp(ctx context.Context, actor string, exp int64) error
}

// Effects groups the external effects of each withdrawal kind.
// Nil members are no-ops.
type Effects struct {
	Drop   Effect
	Give   Effect
	Payout Payout
	Exp    ExpSink
}

type nopEffects struct{}

func (nopEffects) Materialize(context.Context, string, []ledger.Stack) error { return nil }
func (nopEffects) Pay(context.Context, string, float64) error { return nil }
func (nopEffects) GiveExp(context.Context, string, int64) error { return nil }

// Service runs withdrawal transactions against spawner ledgers.
//
// Every operation follows the same protocol: rate limit, per-actor lock,
// snapshot, validate, clear staging, ledger commit (rollback staging on
// failure), external effect, unconditional release, audit.
type Service struct {
	lookup    Lookup
	prices    model.PriceSource
	effects   Effects
	limiter   *limiter
	locks     *lockTable
	txTimeout time.Duration

	clock     model.Clock
	notifier  model.Notifier
	persister model.Persister
	auditor   model.Auditor
}

// NewService creates a withdrawal service.
func NewService(lookup Lookup, prices model.PriceSource, effects Effects, cfg config.Withdraw) *Service {
	if effects.Drop == nil {
		effects.Drop = nopEffects{}
	}
	if effects.Give == nil {
		effects.Give = nopEffects{}
	}
	if effects.Payout == nil {
		effects.Payout = nopEffects{}
	}
	if effects.Exp == nil {
		effects.Exp = nopEffects{}
	}
	txTimeout := cfg.TxTimeout
	if txTimeout <= 0 {
		txTimeout = 5 * time.Second
	}
	return &Service{
		lookup:    lookup,
		prices:    prices,
		effects:   effects,
		limiter:   newLimiter(cfg),
		locks:     newLockTable(cfg.StuckTimeout),
		txTimeout: txTimeout,
		clock:     model.SystemClock{},
		notifier:  model.NopNotifier{},
		persister: model.NopPersister{},
		auditor:   model.NopAuditor{},
	}
}

// SetClock replaces the time source (tests).
func (s *Service) SetClock(c model.Clock) { s.clock = c }

// SetNotifier sets the viewer notification hook.
func (s *Service) SetNotifier(n model.Notifier) { s.notifier = n }

// SetPersister sets the dirty-marking hook.
func (s *Service) SetPersister(p model.Persister) { s.persister = p }

// SetAuditor sets the audit hook.
func (s *Service) SetAuditor(a model.Auditor) { s.auditor = a }

// DropPage removes everything visible on the actor's staging page and drops
// it into the world.
func (s *Service) DropPage(ctx context.Context, actor string, sp *model.Spawner, page Staging) Result {
	return s.run(ctx, request{
		action:  ActionDropPage,
		actor:   actor,
		sp:      sp,
		staging: page,
		prepare: func() (plan, bool) {
			snap := page.Snapshot()
			if len(snap) == 0 {
				return plan{}, false
			}
			p := plan{staged: snap}
			for _, slot := range orderedSlots(snap) {
				p.items = append(p.items, snap[slot])
			}
			return p, true
		},
		commit: removeItems(sp),
		effect: func(ctx context.Context, p plan) error {
			return s.effects.Drop.Materialize(ctx, actor, p.items)
		},
	})
}

// TakeItem moves amount units of one staging slot to the actor.
// amount ≤ 0 or larger than the slot takes the whole slot.
func (s *Service) TakeItem(ctx context.Context, actor string, sp *model.Spawner, page Staging, slot int, amount int64) Result {
	return s.run(ctx, request{
		action:  ActionTakeItem,
		actor:   actor,
		sp:      sp,
		staging: page,
		prepare: func() (plan, bool) {
			st, ok := page.Snapshot()[slot]
			if !ok || st.Amount <= 0 {
				return plan{}, false
			}
			if amount <= 0 || amount > st.Amount {
				amount = st.Amount
			}
			p := plan{
				staged: map[int]ledger.Stack{slot: st},
				items:  []ledger.Stack{ledger.NewStack(st.Sig, amount)},
			}
			if rest := st.Amount - amount; rest > 0 {
				p.restore = map[int]ledger.Stack{slot: ledger.NewStack(st.Sig, rest)}
			}
			return p, true
		},
		commit: removeItems(sp),
		effect: func(ctx context.Context, p plan) error {
			return s.effects.Give.Materialize(ctx, actor, p.items)
		},
	})
}

// SellAll sells every priced item in the ledger and pays the actor.
// page may be nil when the actor has no storage view open.
func (s *Service) SellAll(ctx context.Context, actor string, sp *model.Spawner, page Staging) Result {
	return s.run(ctx, request{
		action:  ActionSellAll,
		actor:   actor,
		sp:      sp,
		staging: page,
		prepare: func() (plan, bool) {
			if sp.SellValue(s.prices) <= 0 {
				return plan{}, false
			}
			var p plan
			contents := sp.Ledger().Consolidated()
			sigs := make([]ledger.Signature, 0, len(contents))
			for sig := range contents {
				sigs = append(sigs, sig)
			}
			slices.SortFunc(sigs, compareSignatures)
			for _, sig := range sigs {
				price, ok := s.prices.Price(sig)
				if !ok || price <= 0 {
					continue
				}
				q := contents[sig]
				p.items = append(p.items, ledger.NewStack(sig, q))
				p.value += price * float64(q)
			}
			if len(p.items) == 0 {
				return plan{}, false
			}
			if page != nil {
				p.staged = page.Snapshot()
				p.restore = make(map[int]ledger.Stack)
				for slot, st := range p.staged {
					if _, ok := s.prices.Price(st.Sig); !ok {
						p.restore[slot] = st
					}
				}
			}
			return p, true
		},
		commit: removeItems(sp),
		effect: func(ctx context.Context, p plan) error {
			return s.effects.Payout.Pay(ctx, actor, p.value)
		},
	})
}

// TakeExp gives all stored experience to the actor.
func (s *Service) TakeExp(ctx context.Context, actor string, sp *model.Spawner) Result {
	return s.run(ctx, request{
		action: ActionTakeExp,
		actor:  actor,
		sp:     sp,
		prepare: func() (plan, bool) {
			exp := sp.Exp()
			return plan{exp: exp}, exp > 0
		},
		commit: func(p *plan) bool {
			p.exp = sp.TakeExp()
			return p.exp > 0
		},
		effect: func(ctx context.Context, p plan) error {
			return s.effects.Exp.GiveExp(ctx, actor, p.exp)
		},
	})
}

// CloseView cancels the actor's in-flight transaction. A transaction that
// has not committed yet rolls back and reports ResultCancelled.
func (s *Service) CloseView(actor string) bool {
	return s.locks.cancel(actor)
}

// ForgetActor drops all per-actor state (disconnect).
func (s *Service) ForgetActor(actor string) {
	s.locks.forget(actor)
	s.limiter.forget(actor)
}

// InProgress reports whether the actor holds a transaction lock.
func (s *Service) InProgress(actor string) bool {
	return s.locks.active(actor)
}

// Stats returns held transaction locks, force-released locks and actors with
// rate-limit state.
func (s *Service) Stats() (held int, forced uint64, tracked int) {
	held, forced = s.locks.stats()
	return held, forced, s.limiter.len()
}

type request struct {
	action  string
	actor   string
	sp      *model.Spawner
	staging Staging

	prepare func() (plan, bool)
	commit  func(p *plan) bool
	effect  func(ctx context.Context, p plan) error
}

// plan is what a transaction intends to remove.
type plan struct {
	staged  map[int]ledger.Stack // slots cleared before commit
	restore map[int]ledger.Stack // written back after a successful commit
	items   []ledger.Stack
	exp     int64
	value   float64
}

func removeItems(sp *model.Spawner) func(p *plan) bool {
	return func(p *plan) bool {
		return sp.Ledger().Remove(p.items)
	}
}

func (s *Service) run(ctx context.Context, req request) (res Result) {
	entry := model.AuditEntry{Actor: req.actor, Action: req.action}
	if req.sp != nil {
		entry.SpawnerID = req.sp.ID()
	}
	defer func() {
		entry.Success = res == ResultOK
		if entry.Reason == "" {
			entry.Reason = res.String()
		}
		entry.At = s.clock.Now()
		s.auditor.Record(entry)
	}()

	now := s.clock.Now()
	if !s.limiter.check(req.actor, req.action, now) {
		return ResultRateLimited
	}

	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	tx, ok := s.locks.acquire(req.actor, entry.SpawnerID, now, cancel)
	if !ok {
		return ResultInProgress
	}
	if !s.limiter.admit(req.actor, req.action, now) {
		s.locks.release(tx)
		return ResultRateLimited
	}
	defer func() {
		s.locks.release(tx)
		s.limiter.finish(req.actor, req.action, s.clock.Now())
	}()

	var (
		p         plan
		cleared   bool
		committed bool
	)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("withdrawal panicked",
				"action", req.action,
				"actor", req.actor,
				"spawner", entry.SpawnerID,
				"committed", committed,
				"panic", r)
			if cleared && !committed {
				s.rollback(req, p)
			}
			entry.Reason = fmt.Sprintf("panic: %v", r)
			res = ResultFailed
		}
	}()

	if !s.valid(req.sp) {
		return ResultInvalidDevice
	}
	p, ok = req.prepare()
	if !ok {
		return ResultNothingToDo
	}
	entry.Items, entry.Exp, entry.Value = p.items, p.exp, p.value

	if req.staging != nil && len(p.staged) > 0 {
		req.staging.Clear(orderedSlots(p.staged))
		cleared = true
	}

	if err := txCtx.Err(); err != nil {
		if cleared {
			s.rollback(req, p)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			entry.Reason = "TIMEOUT"
			return ResultFailed
		}
		return ResultCancelled
	}
	if !s.valid(req.sp) {
		slog.Warn("spawner disappeared during withdrawal",
			"action", req.action,
			"actor", req.actor,
			"spawner", entry.SpawnerID)
		if cleared {
			s.rollback(req, p)
		}
		return ResultInvalidDevice
	}

	if !req.commit(&p) {
		if cleared {
			s.rollback(req, p)
		}
		return ResultInsufficient
	}
	committed = true
	entry.Exp = p.exp
	s.afterCommit(req.sp)
	if req.staging != nil && len(p.restore) > 0 {
		req.staging.Restore(p.restore)
	}

	// committed: closing the view no longer cancels the effect
	if err := req.effect(context.WithoutCancel(txCtx), p); err != nil {
		slog.Error("withdrawal effect failed after commit",
			"action", req.action,
			"actor", req.actor,
			"spawner", entry.SpawnerID,
			"error", err)
		entry.Reason = "EFFECT_FAILED: " + err.Error()
		return ResultFailed
	}
	return ResultOK
}

func (s *Service) valid(sp *model.Spawner) bool {
	if sp == nil || sp.Removed() {
		return false
	}
	cur, ok := s.lookup.Get(sp.ID())
	return ok && cur == sp
}

func (s *Service) rollback(req request, p plan) {
	req.staging.Restore(p.staged)
	slog.Warn("withdrawal rolled back",
		"action", req.action,
		"actor", req.actor,
		"spawner", req.sp.ID(),
		"slots", len(p.staged))
}

func (s *Service) afterCommit(sp *model.Spawner) {
	sp.MarkInteracted()
	sp.MarkModified()
	sp.UpdateCapacityStatus()
	s.persister.MarkDirty(sp.ID())
	s.notifier.SpawnerChanged(sp)
}

func compareSignatures(a, b ledger.Signature) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	default:
		return 0
	}
}
