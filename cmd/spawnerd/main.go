package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/spawnerd/internal/audit"
	"github.com/udisondev/spawnerd/internal/config"
	"github.com/udisondev/spawnerd/internal/db"
	"github.com/udisondev/spawnerd/internal/gate"
	"github.com/udisondev/spawnerd/internal/ledger"
	"github.com/udisondev/spawnerd/internal/lootgen"
	"github.com/udisondev/spawnerd/internal/model"
	"github.com/udisondev/spawnerd/internal/session"
	"github.com/udisondev/spawnerd/internal/spawner"
	"github.com/udisondev/spawnerd/internal/transport/ws"
	"github.com/udisondev/spawnerd/internal/viewer"
	"github.com/udisondev/spawnerd/internal/withdraw"
	"github.com/udisondev/spawnerd/internal/world"
)

const ConfigPath = "config/spawnerd.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := ConfigPath
	if p := os.Getenv("SPAWNERD_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadSpawnerd(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("spawnerd starting", "log_level", cfg.LogLevel, "config", cfgPath)

	if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	database, err := db.New(ctx, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()
	slog.Info("database connected")

	factory, err := spawner.NewFactory(&cfg)
	if err != nil {
		return fmt.Errorf("building spawner factory: %w", err)
	}

	w := world.Instance()
	for _, name := range cfg.Worlds {
		w.LoadWorld(name)
	}

	repo := database.Spawners()
	hub := viewer.NewHub(cfg.Viewer.FlushInterval)
	visual, err := viewer.VisualFromConfig(cfg.Viewer.Visual)
	if err != nil {
		return fmt.Errorf("selecting visual: %w", err)
	}

	saver := db.NewSaver(repo, nil, cfg.Persistence.SaveInterval)
	manager := spawner.NewManager(factory, repo, saver, w)
	saver.SetLookup(manager)
	manager.SetNotifier(hub)
	manager.SetViewCloser(hub)
	manager.SetDropper(logDropper{})

	if err := manager.LoadAll(ctx); err != nil {
		return fmt.Errorf("loading spawners: %w", err)
	}
	slog.Info("spawners loaded", "count", manager.Count(), "pending", manager.Pending())

	exec := world.NewRegionExecutor(cfg.Workers.Regions)

	gen := lootgen.New(exec, w, cfg.Workers.LootPool, cfg.Gate.LockTimeout)
	gen.SetNotifier(hub)
	gen.SetPersister(saver)
	defer gen.Close()

	policy, err := gate.PolicyFromConfig(cfg.Gate, w)
	if err != nil {
		return fmt.Errorf("building gate policy: %w", err)
	}
	g := gate.New(manager, w, policy, gen, exec, cfg.Gate)
	g.SetNotifier(hub)

	svc := withdraw.NewService(manager, factory.Catalog(), logEffects(), cfg.Withdraw)
	svc.SetNotifier(hub)
	svc.SetPersister(saver)
	if cfg.Audit.Path != "" {
		store, err := audit.OpenSQLite(cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer store.Close()
		svc.SetAuditor(store)
		slog.Info("audit log opened", "path", cfg.Audit.Path)
	}

	sessions := session.NewRegistry(manager, hub, svc, w, visual, factory.Catalog(), cfg.Withdraw.PageSize)

	eg, gctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := exec.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("region executor: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		if err := g.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("production gate: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		if err := hub.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("viewer hub: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		if err := saver.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("spawner saver: %w", err)
		}
		return nil
	})
	if cfg.Viewer.Listen != "" {
		srv := ws.NewServer(cfg.Viewer.Listen, sessions, w)
		srv.SetExplosions(manager)
		srv.SetMessageLimit(cfg.Viewer.MessageRate, cfg.Viewer.MessageBurst)
		eg.Go(func() error {
			return srv.Start(gctx)
		})
	}

	slog.Info("spawnerd started",
		"spawners", manager.Count(),
		"worlds", len(cfg.Worlds),
		"gate_policy", cfg.Gate.Policy,
		"visual", visual.Name(),
		"listen", cfg.Viewer.Listen)

	return eg.Wait()
}

// logEffects returns withdrawal effects for a standalone daemon: withdrawn
// goods leave the ledger and are only logged.
func logEffects() withdraw.Effects {
	materialize := func(event string) withdraw.EffectFunc {
		return func(_ context.Context, actor string, items []ledger.Stack) error {
			slog.Info(event, "actor", actor, "stacks", len(items), "amount", ledger.TotalAmount(items))
			return nil
		}
	}
	return withdraw.Effects{
		Drop:   materialize("items dropped"),
		Give:   materialize("items given"),
		Payout: logPayout{},
		Exp:    logPayout{},
	}
}

type logPayout struct{}

func (logPayout) Pay(_ context.Context, actor string, amount float64) error {
	slog.Info("sale paid", "actor", actor, "amount", amount)
	return nil
}

func (logPayout) GiveExp(_ context.Context, actor string, exp int64) error {
	slog.Info("experience given", "actor", actor, "exp", exp)
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// logDropper only logs spawners dropped by explosions; the daemon has no item
// entities to spawn.
type logDropper struct{}

func (logDropper) DropSpawner(sp *model.Spawner) {
	slog.Info("spawner dropped", "spawner", sp.ID(), "entity", sp.EntityType(), "location", sp.Location())
}
