// Package app wires the runtime together: configuration, observability,
// the store, the event bus, the autorun engine, the service runtime, and
// the persistence and scripting collaborators. It manages startup order
// and graceful shutdown so embedders and the CLI entry point stay thin.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dshills/reflow/internal/autorun"
	"github.com/dshills/reflow/internal/config"
	"github.com/dshills/reflow/internal/event"
	"github.com/dshills/reflow/internal/event/kind"
	"github.com/dshills/reflow/internal/observability"
	"github.com/dshills/reflow/internal/script"
	"github.com/dshills/reflow/internal/service"
	"github.com/dshills/reflow/internal/snapshot"
	"github.com/dshills/reflow/internal/store"
)

// KindConfigReloaded is emitted on the bus after a config file reload.
const KindConfigReloaded kind.Kind = "config.reloaded"

// snapshotServiceID owns the periodic snapshot flush.
const snapshotServiceID = "svc.snapshot"

// Options configures the application.
type Options struct {
	// ConfigPath is the path to the configuration file. Empty uses
	// defaults plus the environment.
	ConfigPath string

	// Logger receives all observability signals. Nil builds a text
	// logger on stderr at the configured level.
	Logger *slog.Logger
}

// Application owns the wired runtime.
type Application struct {
	cfg        config.Config
	configPath string
	observer   observability.Observer

	store   *store.Store
	bus     *event.Bus
	engine  *autorun.Engine
	runtime *service.Runtime

	saver   *snapshot.Saver
	watcher *config.Watcher

	shutdownOnce sync.Once
	shutdownErr  error
	done         chan struct{}
}

// New builds and starts the runtime. On return the store accepts
// dispatches and services can be registered.
func New(opts Options) (*Application, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	a := &Application{
		cfg:        cfg,
		configPath: opts.ConfigPath,
		done:       make(chan struct{}),
	}
	a.observer = observability.NewSlogObserver(buildLogger(opts.Logger, cfg.LogLevel))

	storeOpts := []store.Option{store.WithObserver(a.observer)}

	// Seed from the last snapshot when persistence is configured.
	var snapStore *snapshot.FileStore
	if cfg.Snapshot.Dir != "" {
		snapStore, err = snapshot.NewFileStore(cfg.Snapshot.Dir)
		if err != nil {
			return nil, err
		}
		seed, err := loadSeed(snapStore)
		if err != nil {
			return nil, err
		}
		if seed != nil {
			storeOpts = append(storeOpts, store.WithInitial(seed))
		}
	}

	a.store = store.New(storeOpts...)
	a.bus = event.NewBus(event.WithObserver(a.observer))
	a.engine = autorun.NewEngine(autorun.WithObserver(a.observer))

	a.store.AddListener(a.engine)
	a.store.AddListener(store.ListenerFunc(func(c store.Commit) {
		if len(c.Result.Events) > 0 {
			a.bus.Emit(context.Background(), c.Result.Events...)
		}
	}))

	if err := a.store.Start(); err != nil {
		return nil, err
	}

	a.runtime = service.NewRuntime(a.store, a.bus, a.engine,
		service.WithObserver(a.observer),
		service.WithInitTimeout(cfg.InitTimeout.Std()),
		service.WithQueueSize(cfg.QueueSize),
	)

	if err := a.startCollaborators(snapStore); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(shutdownCtx)
		return nil, err
	}
	return a, nil
}

// startCollaborators registers the built-in services: the snapshot saver,
// scripted reducers, and the config watcher.
func (a *Application) startCollaborators(snapStore *snapshot.FileStore) error {
	if snapStore != nil {
		a.saver = snapshot.NewSaver(snapStore, snapshot.WithObserver(a.observer))
		a.store.AddListener(a.saver)

		interval := a.cfg.Snapshot.Interval.Std()
		_, err := a.runtime.Register(
			service.Descriptor{ID: snapshotServiceID, Priority: 100},
			func(ctx context.Context, svc *service.Context) error {
				return scheduleFlush(svc, a.saver, interval)
			})
		if err != nil {
			return fmt.Errorf("start snapshot service: %w", err)
		}
	}

	if a.cfg.Script.Dir != "" {
		host := script.NewHost(script.WithCallTimeout(a.cfg.Script.Timeout.Std()))
		reducers, err := host.LoadDir(a.cfg.Script.Dir)
		if err != nil {
			return err
		}
		for slice, reducer := range reducers {
			if err := a.store.Register(slice, reducer); err != nil {
				return fmt.Errorf("register scripted reducer %q: %w", slice, err)
			}
		}
	}

	if a.configPath != "" {
		watcher, err := config.NewWatcher(a.configPath,
			func(cfg config.Config) {
				a.bus.Emit(context.Background(), event.New(KindConfigReloaded, cfg, "config"))
			},
			config.WithErrorHandler(func(err error) {
				observability.Emit(context.Background(), a.observer, "config.reload_fault",
					observability.LevelWarn, "config", map[string]any{"error": err.Error()})
			}))
		if err != nil {
			return err
		}
		a.watcher = watcher
	}
	return nil
}

// scheduleFlush keeps a flush task rescheduling itself on the service's
// scheduler until the service stops.
func scheduleFlush(svc *service.Context, saver *snapshot.Saver, interval time.Duration) error {
	var tick func(ctx context.Context) error
	tick = func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		// A failed flush is already signalled; the next tick retries.
		_ = saver.Flush(ctx)
		_, err := svc.GoAfter(interval, tick)
		if errors.Is(err, service.ErrServiceStopped) {
			return nil
		}
		return err
	}
	_, err := svc.GoAfter(interval, tick)
	return err
}

// loadSeed loads the persisted snapshot, tolerating a missing one.
func loadSeed(snapStore *snapshot.FileStore) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snap, err := snapStore.Load(ctx)
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snapshot.Decode(snap)
}

func buildLogger(logger *slog.Logger, level string) *slog.Logger {
	if logger != nil {
		return logger
	}
	var lv slog.Level
	switch level {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
}

// Config returns the resolved configuration.
func (a *Application) Config() config.Config {
	return a.cfg
}

// Store returns the dispatch store.
func (a *Application) Store() *store.Store {
	return a.store
}

// Bus returns the event bus.
func (a *Application) Bus() *event.Bus {
	return a.bus
}

// Autorun returns the autorun engine.
func (a *Application) Autorun() *autorun.Engine {
	return a.engine
}

// Runtime returns the service runtime for registering services.
func (a *Application) Runtime() *service.Runtime {
	return a.runtime
}

// Wait blocks until Shutdown completes.
func (a *Application) Wait() {
	<-a.done
}

// Shutdown stops everything in reverse dependency order: services first,
// then a final snapshot flush, then the store. Idempotent.
func (a *Application) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		var errs []error

		if a.watcher != nil {
			if err := a.watcher.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := a.runtime.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := a.store.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		if a.saver != nil {
			if err := a.saver.Flush(ctx); err != nil {
				errs = append(errs, err)
			}
		}

		a.shutdownErr = errors.Join(errs...)
		close(a.done)
	})
	return a.shutdownErr
}
