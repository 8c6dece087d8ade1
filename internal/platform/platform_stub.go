//go:build !windows

package platform

// New always fails with ErrUnsupported on this platform.
func New() (*Unsupported, error) {
	return nil, ErrUnsupported
}
