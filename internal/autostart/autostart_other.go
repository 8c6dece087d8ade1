//go:build !windows

package autostart

type unsupported struct{}

func platformStore() store { return unsupported{} }

func (unsupported) get(string) (string, error) { return "", ErrUnsupported }
func (unsupported) set(string, string) error   { return ErrUnsupported }
func (unsupported) remove(string) error        { return ErrUnsupported }
