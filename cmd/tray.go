package main

import (
	"errors"

	"kbcheck/internal/autostart"
	"kbcheck/internal/switcher"
	"kbcheck/internal/tray"
)

// trayItems are the menu ids set by buildTray.
type trayItems struct {
	status, pause, login int
}

func (a *app) buildTray() *tray.Tray {
	t := tray.New("kbcheck", "kbcheck - wrong layout detector")

	a.items.status = t.AddLabel(a.statusText())
	t.AddSeparator()
	t.AddMenuItem("Accept suggestion", a.accept)
	t.AddMenuItem("Copy suggestion", func() {
		if _, err := a.switcher.Copy(""); err != nil && !errors.Is(err, switcher.ErrNoSuggestion) {
			a.log.Error(err, "Copy failed")
		}
	})
	t.AddMenuItem("Reset typed text", a.Reset)
	a.items.pause = t.AddCheckbox("Pause", a.Paused(), func(paused bool) {
		if paused {
			a.Pause()
		} else {
			a.Resume()
		}
	})
	t.AddSeparator()

	enabled := a.cfgMgr.Get().General.StartOnLogin
	a.items.login = t.AddCheckbox("Start on login", enabled, a.setStartOnLogin)
	if a.auto == nil {
		t.SetItemEnabled(a.items.login, false)
	}
	t.AddMenuItem("Settings...", a.openSettings)
	t.AddSeparator()
	t.AddMenuItem("Quit", t.Stop)

	t.SetPaused(a.Paused())
	return t
}

// setStartOnLogin updates the login entry and persists the choice. A
// failed update restores the check mark.
func (a *app) setStartOnLogin(enabled bool) {
	if a.auto != nil {
		if err := a.auto.Apply(enabled); err != nil {
			if !errors.Is(err, autostart.ErrUnsupported) {
				a.log.Error(err, "Failed to update autostart")
			}
			if a.tray != nil {
				a.tray.SetItemChecked(a.items.login, !enabled)
			}
			return
		}
	}
	cfg := a.cfgMgr.Get()
	cfg.General.StartOnLogin = enabled
	if err := a.cfgMgr.Set(cfg); err != nil {
		a.log.Error(err, "Failed to update config")
		return
	}
	if err := a.cfgMgr.Save(); err != nil {
		a.log.Error(err, "Failed to save config")
	}
}

func (a *app) statusText() string {
	switch {
	case a.Paused():
		return "Paused"
	case a.registry != nil && a.registry.Len() < 2:
		return "Inactive: fewer than two layouts"
	case a.Running():
		return "Watching typing"
	default:
		return "Stopped"
	}
}

// refreshTray mirrors the session state in the tray.
func (a *app) refreshTray() {
	if a.tray == nil {
		return
	}
	paused := a.Paused()
	a.tray.SetItemTitle(a.items.status, a.statusText())
	a.tray.SetItemChecked(a.items.pause, paused)
	a.tray.SetPaused(paused)
}
