// Package app wires the tracker engine to its inputs and outputs: the log
// watcher, the hook listener, the liveness monitor, notifications and the
// activity journal.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/drewfead/vigil/internal/config"
	"github.com/drewfead/vigil/internal/hooks"
	"github.com/drewfead/vigil/internal/journal"
	"github.com/drewfead/vigil/internal/liveness"
	"github.com/drewfead/vigil/internal/logging"
	"github.com/drewfead/vigil/internal/notify"
	"github.com/drewfead/vigil/internal/tracker"
	"github.com/drewfead/vigil/internal/watcher"
)

// ShutdownTimeout bounds how long Shutdown waits for background loops.
const ShutdownTimeout = 5 * time.Second

// App owns every long-running component.
type App struct {
	config   *config.Config
	engine   *tracker.Engine
	watcher  *watcher.Watcher
	listener *hooks.Listener
	monitor  *liveness.Monitor
	journal  *journal.Journal
	log      *slog.Logger

	probe    liveness.Probe
	notifier tracker.Notifier
	loadCfg  func() (*config.Config, error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	shutdownOnce sync.Once
}

// Option configures an App.
type Option func(*App)

// WithProbe replaces the process probe used for liveness.
func WithProbe(p liveness.Probe) Option {
	return func(a *App) { a.probe = p }
}

// WithNotifier replaces the desktop notifier.
func WithNotifier(n tracker.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithConfigLoader sets how SIGHUP rereads configuration. It should read
// the same file the App was started from.
func WithConfigLoader(load func() (*config.Config, error)) Option {
	return func(a *App) { a.loadCfg = load }
}

// New builds the component graph. Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		config: cfg,
		log:    logging.Component("app"),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.probe == nil {
		a.probe = liveness.ProcessProbe(cfg.Claude.ProcessName)
	}
	if a.notifier == nil {
		a.notifier = notify.NewDesktop()
	}
	if a.loadCfg == nil {
		a.loadCfg = config.Load
	}

	engineOpts := []tracker.Option{tracker.WithNotifier(a.notifier)}

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Database, cfg.Journal.Buffer)
		if err != nil {
			// The journal is a record only; tracking works without it.
			a.log.Warn("activity journal unavailable", "database", cfg.Journal.Database, "error", err)
		} else {
			a.journal = j
			engineOpts = append(engineOpts, tracker.WithRecorder(j))
		}
	}

	// The watcher's handler needs the engine, which needs the watcher as
	// its tailer; the closure breaks the cycle.
	var engine *tracker.Engine
	a.watcher = watcher.New(cfg.Claude.ProjectsDir, cfg.Claude.LogExt, func(c watcher.Change) {
		engine.OnFileChanged(c.Path, changeKind(c.Op))
	})
	engineOpts = append(engineOpts, tracker.WithTailer(a.watcher))

	engine = tracker.New(EngineConfig(cfg), engineOpts...)
	a.engine = engine

	a.listener = hooks.NewListener(cfg.Hooks.Socket, engine.OnLifecycleEvent,
		hooks.WithReadTimeout(cfg.Hooks.ReadTimeout),
		hooks.WithMaxMessageBytes(cfg.Hooks.MaxMessageBytes),
	)

	a.monitor = liveness.NewMonitor(a.probe, cfg.Monitor.LivenessInterval, liveness.Callbacks{
		OnDetected: engine.OnProcessDetected,
		OnLost:     engine.OnProcessLost,
	})

	return a, nil
}

// EngineConfig maps the file configuration onto the engine's.
func EngineConfig(cfg *config.Config) tracker.Config {
	return tracker.Config{
		ProjectsDir:     cfg.Claude.ProjectsDir,
		LogExt:          cfg.Claude.LogExt,
		TaskTool:        cfg.Claude.TaskTool,
		TaskCreateTool:  cfg.Claude.TaskCreateTool,
		TaskUpdateTool:  cfg.Claude.TaskUpdateTool,
		RefreshInterval: cfg.Monitor.RefreshInterval,
		NotifyOnStop:    cfg.Notifications.OnStop,
	}
}

func changeKind(op watcher.Op) tracker.ChangeKind {
	if op == watcher.Removed {
		return tracker.ChangeRemoved
	}
	return tracker.ChangeModified
}

// Engine returns the tracker engine for presentation layers.
func (a *App) Engine() *tracker.Engine {
	return a.engine
}

// Journal returns the activity journal, or nil when disabled.
func (a *App) Journal() *journal.Journal {
	return a.journal
}

// Start opens the hook socket and begins liveness polling. A hook socket
// that cannot be opened is logged; tracking continues from logs alone.
func (a *App) Start() error {
	if a.ctx.Err() != nil {
		return errors.New("app: already shut down")
	}

	if err := a.listener.Start(); err != nil {
		a.log.Warn("hook listener unavailable, lifecycle events disabled", "socket", a.config.Hooks.Socket, "error", err)
	} else {
		a.log.Info("hook listener ready", "socket", a.config.Hooks.Socket)
	}

	a.wg.Add(1)
	go a.safeLoop("liveness-loop", func() {
		a.monitor.Run(a.ctx)
	})
	return nil
}

// Run starts the app and blocks until SIGINT or SIGTERM. SIGHUP reloads
// the reloadable settings.
func (a *App) Run() error {
	if err := a.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 2) // room for a second signal
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	return a.signalLoop(sigCh)
}

func (a *App) signalLoop(sigCh <-chan os.Signal) error {
	for {
		select {
		case <-a.ctx.Done():
			a.Shutdown()
			return nil
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				a.log.Info("received SIGHUP, reloading config")
				if err := a.reloadConfig(); err != nil {
					a.log.Error("config reload failed", "error", err)
				}

			case syscall.SIGINT, syscall.SIGTERM:
				a.log.Info("received shutdown signal", "signal", sig.String())
				done := make(chan struct{})
				go func() {
					a.Shutdown()
					close(done)
				}()

				select {
				case <-done:
					a.log.Info("shutdown complete")
					return nil
				case sig2 := <-sigCh:
					a.log.Warn("received second signal, exiting immediately", "signal", sig2.String())
					return fmt.Errorf("forced shutdown by signal: %s", sig2.String())
				}
			}
		}
	}
}

func (a *App) reloadConfig() error {
	newCfg, err := a.loadCfg()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.Reload(newCfg)
	return nil
}

// Reload applies the settings that can change without a restart.
func (a *App) Reload(newCfg *config.Config) {
	a.config.Notifications.OnStop = newCfg.Notifications.OnStop
	a.config.Daemon.LogLevel = newCfg.Daemon.LogLevel
	a.engine.SetNotifyOnStop(newCfg.Notifications.OnStop)
	logging.SetLevel(logging.ParseLevel(newCfg.Daemon.LogLevel))

	a.log.Info("config reloaded",
		"notify_on_stop", newCfg.Notifications.OnStop,
		"log_level", logging.Level().String(),
	)
}

// Shutdown stops every component. It is safe to call more than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		a.cancel()

		if err := a.listener.Stop(); err != nil {
			a.log.Warn("error stopping hook listener", "error", err)
		}

		done := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(ShutdownTimeout):
			a.log.Warn("timed out waiting for background loops")
		}

		a.engine.Close()

		if a.journal != nil {
			if err := a.journal.Close(); err != nil {
				a.log.Error("error closing journal", "error", err)
			}
			if n := a.journal.Dropped(); n > 0 {
				a.log.Warn("journal dropped activity under load", "count", n)
			}
		}
	})
}

// safeLoop runs fn with panic recovery. A panicking loop cancels the app.
func (a *App) safeLoop(name string, fn func()) {
	defer a.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logging.CapturePanic(r, "loop", name)
			a.cancel()
		}
	}()
	fn()
}
