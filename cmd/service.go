package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"kbcheck/internal/api"
	"kbcheck/internal/autostart"
	"kbcheck/internal/checker"
	"kbcheck/internal/config"
	"kbcheck/internal/hotkey"
	"kbcheck/internal/input"
	"kbcheck/internal/layout"
	"kbcheck/internal/logging"
	"kbcheck/internal/platform"
	"kbcheck/internal/presenter"
	"kbcheck/internal/switcher"
	"kbcheck/internal/tray"
	"kbcheck/internal/ui"
)

// app is the running detector and everything wired around it.
type app struct {
	logger *logging.Logger
	log    logr.Logger
	cfgMgr *config.Manager

	host     platform.Host
	registry *layout.Registry
	checker  *checker.Checker
	session  *checker.Session
	displays presenter.Multi
	gate     *presenter.Gate
	notify   *presenter.NotifyDisplay
	switcher *switcher.Switcher
	hotkeys  *hotkey.Manager
	api      *api.Server
	ui       *ui.Server
	auto     *autostart.Manager
	tray     *tray.Tray
	items    trayItems
}

func runService(ctx context.Context, opts *rootOptions) error {
	cfgMgr, err := loadConfig(opts)
	if err != nil {
		return err
	}
	cfg := cfgMgr.Get()

	logger, err := newLogger(opts, cfg, true)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logger.Close()
	cfgMgr.SetLogger(logger.WithName("config"))

	logger.Info("kbcheck starting", "version", version, "config", cfgMgr.Path())

	host, err := newHost()
	if err != nil {
		logger.Error(err, "Layout services unavailable, suggestions disabled")
	}

	a := newApp(cfgMgr, logger, host, input.NewInjector(), presenter.BeeepNotify)
	a.auto = autostart.New(logger.WithName("autostart"))
	return a.run(ctx, input.NewHook(), cfg.General.Tray && !opts.noTray)
}

// newApp builds the components and applies the current configuration.
// Nothing is started.
func newApp(cfgMgr *config.Manager, logger *logging.Logger, host platform.Host, injector input.Injector, notify presenter.NotifyFunc) *app {
	log := logger.Logger
	a := &app{
		logger:  logger,
		log:     log,
		cfgMgr:  cfgMgr,
		host:    host,
		hotkeys: hotkey.NewManager(log.WithName("hotkey")),
	}
	cfg := cfgMgr.Get()

	reg, err := layout.Load(host, log.WithName("layout"))
	if err != nil && !errors.Is(err, layout.ErrNoLayouts) {
		log.Error(err, "Failed to load layouts")
	}
	a.registry = reg

	a.notify = presenter.NewNotifyDisplay(notify, cfg.Presenter.NotifyInterval.Std(), log.WithName("notify"))
	a.displays = presenter.Multi{presenter.LogDisplay{Log: log.WithName("presenter")}, a.notify}
	// The gate sees displays added below through the pointer.
	a.gate = presenter.NewGate(&a.displays, cfg.Presenter.MinLength, log.WithName("presenter"))

	a.checker = checker.New(reg, layout.NewTranslator(host), host, a.gate, log.WithName("checker"))
	a.switcher = switcher.New(reg, host, injector, a.gate, a, log.WithName("switcher"))

	if cfg.API.Enabled {
		a.api = api.NewServer(api.Deps{
			Monitor:     a,
			Suggestions: a.gate,
			Acceptor:    a.switcher,
			Registry:    reg,
			Version:     version,
		}, log.WithName("api"))
		a.displays = append(a.displays, a.api)
	}

	a.ui = ui.NewServer(cfgMgr, reg, a.gate, a.switcher, log.WithName("ui"))

	a.applyConfig(cfg)
	cfgMgr.RegisterChangeCallback(a.applyConfig)
	return a
}

// attach connects the session to hook. Hotkeys see the same key stream and
// keep the keys that complete a combination out of the buffer.
func (a *app) attach(hook input.Hook) {
	a.session = checker.NewSession(hook, a.checker, a.log.WithName("session"))
	a.session.SetQueueSize(a.cfgMgr.Get().Buffer.QueueSize)
	a.session.Observe(a.hotkeys.HandleKey)
}

// The app is the API Monitor and the switcher Resetter. Before attach there
// is no session and these report a stopped monitor.

func (a *app) Running() bool { return a.session != nil && a.session.Running() }
func (a *app) Paused() bool  { return a.session != nil && a.session.Paused() }

func (a *app) Pause() {
	if a.session != nil {
		a.session.Pause()
		a.refreshTray()
	}
}

func (a *app) Resume() {
	if a.session != nil {
		a.session.Resume()
		a.refreshTray()
	}
}

func (a *app) Reset() {
	if a.session != nil {
		a.session.Reset()
		return
	}
	a.checker.Reset()
}

func (a *app) togglePause() {
	if a.Paused() {
		a.Resume()
	} else {
		a.Pause()
	}
}

func (a *app) accept() {
	if _, err := a.switcher.Accept(""); err != nil && !errors.Is(err, switcher.ErrNoSuggestion) {
		a.log.Error(err, "Accept failed")
	}
}

func (a *app) openSettings() {
	if _, err := a.ui.Open(); err != nil {
		a.log.Error(err, "Failed to open settings")
	}
}

func checkerOptions(b config.BufferConfig, log logr.Logger) checker.Options {
	keys, err := b.ResetKeyCodes()
	if err != nil {
		log.Error(err, "Ignoring invalid reset keys")
		keys = checker.DefaultOptions().ResetKeys
	}
	return checker.Options{
		MaxLength:          b.MaxLength,
		ResetKeys:          keys,
		ResetOnFocusChange: b.ResetOnFocusChange,
		IdleReset:          b.IdleReset.Std(),
		StrictCandidates:   b.StrictCandidates,
	}
}

// applyConfig pushes cfg into every component. It runs once at startup and
// again on every change.
func (a *app) applyConfig(cfg *config.Config) {
	if err := a.logger.SetLevel(cfg.Log.Level); err != nil {
		a.log.Error(err, "Ignoring log level")
	}

	opts := checkerOptions(cfg.Buffer, a.log)
	if a.session != nil {
		a.session.SetOptions(opts)
		a.session.SetQueueSize(cfg.Buffer.QueueSize)
	} else {
		a.checker.SetOptions(opts)
	}

	a.gate.SetMinLength(cfg.Presenter.MinLength)
	a.notify.SetEnabled(cfg.Presenter.Notify)
	a.notify.SetInterval(cfg.Presenter.NotifyInterval.Std())

	a.switcher.SetOptions(switcher.Options{
		SwitchLayout:    cfg.Actions.SwitchLayout,
		Retype:          cfg.Actions.Retype,
		CopyToClipboard: cfg.Actions.CopyToClipboard,
	})

	if a.api != nil {
		a.api.SetToken(cfg.API.Token)
	}

	a.registerHotkeys(cfg.General)
	a.refreshTray()
	a.log.V(1).Info("Configuration applied")
}

// registerHotkeys replaces the registered hotkeys.
func (a *app) registerHotkeys(g config.GeneralConfig) {
	a.hotkeys.Clear()
	bindings := []struct {
		name, keys string
		fn         func()
	}{
		{"accept", g.AcceptHotkey, a.accept},
		{"reset", g.ResetHotkey, a.Reset},
		{"pause", g.PauseHotkey, a.togglePause},
	}
	for _, b := range bindings {
		if _, err := a.hotkeys.Register(b.keys, b.fn); err != nil {
			a.log.Error(err, "Failed to register hotkey", "action", b.name, "hotkey", b.keys)
		}
	}
}

// run starts monitoring and blocks until ctx is done or the tray quits.
func (a *app) run(ctx context.Context, hook input.Hook, withTray bool) error {
	a.attach(hook)
	if withTray {
		a.tray = a.buildTray()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.session.Start(ctx); err != nil {
		return errors.Join(err, a.shutdown())
	}
	a.refreshTray()
	if a.registry.Len() < 2 {
		a.log.Info("Fewer than two layouts installed, no suggestions will be shown", "layouts", a.registry.Len())
	}

	if err := a.cfgMgr.Watch(ctx); err != nil {
		a.log.Error(err, "Config hot reload disabled")
	}

	if a.auto != nil {
		if err := a.auto.Apply(a.cfgMgr.Get().General.StartOnLogin); err != nil && !errors.Is(err, autostart.ErrUnsupported) {
			a.log.Error(err, "Failed to update autostart")
		}
	}

	var apiErr chan error
	if a.api != nil {
		apiErr = make(chan error, 1)
		port := a.cfgMgr.Get().API.Port
		go func() { apiErr <- a.api.Start(port) }()
	}

	if withTray {
		go func() {
			<-ctx.Done()
			a.tray.Stop()
		}()
		a.log.Info("kbcheck running")
		a.tray.Run()
		cancel()
	} else {
		a.log.Info("kbcheck running. Press Ctrl+C to stop.")
		select {
		case <-ctx.Done():
		case err := <-apiErr:
			if err != nil {
				a.log.Error(err, "API server stopped")
			}
			<-ctx.Done()
		}
	}

	return a.shutdown()
}

func (a *app) shutdown() error {
	a.log.Info("Shutting down...")
	var errs []error
	if err := a.session.Stop(); err != nil {
		errs = append(errs, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if a.api != nil {
		if err := a.api.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop API server: %w", err))
		}
	}
	if err := a.ui.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop settings UI: %w", err))
	}
	a.notify.Close()
	return errors.Join(errs...)
}
