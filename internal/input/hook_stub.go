//go:build !windows

package input

// Stub implementation for non-Windows platforms

// StubHook never delivers events.
type StubHook struct{}

// NewHook returns the stub hook.
func NewHook() *StubHook {
	return &StubHook{}
}

// Install always fails with ErrUnsupported.
func (h *StubHook) Install(handler func(KeyEvent)) error {
	return ErrUnsupported
}

// Uninstall is a no-op.
func (h *StubHook) Uninstall() error {
	return nil
}

// StubInjector refuses to inject anything.
type StubInjector struct{}

// NewInjector returns the stub injector.
func NewInjector() *StubInjector {
	return &StubInjector{}
}

// InjectBackspaces fails with ErrUnsupported.
func (i *StubInjector) InjectBackspaces(n int) error {
	return ErrUnsupported
}

// InjectText fails with ErrUnsupported.
func (i *StubInjector) InjectText(s string) error {
	return ErrUnsupported
}
