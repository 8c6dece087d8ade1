package layout

import (
	"fmt"

	"github.com/go-logr/logr"
)

// Registry is the immutable set of layouts known to the process. It is safe
// for concurrent readers once constructed.
type Registry struct {
	layouts  []Layout
	byHandle map[Handle]Layout
	byName   map[string]Layout
}

// NewRegistry builds a registry from the given layouts, keeping the first
// occurrence of every handle and every name.
func NewRegistry(layouts []Layout) *Registry {
	r := &Registry{
		layouts:  make([]Layout, 0, len(layouts)),
		byHandle: make(map[Handle]Layout, len(layouts)),
		byName:   make(map[string]Layout, len(layouts)),
	}
	for _, l := range layouts {
		if _, dup := r.byHandle[l.Handle]; dup {
			continue
		}
		if _, dup := r.byName[l.Name]; dup {
			continue
		}
		r.layouts = append(r.layouts, l)
		r.byHandle[l.Handle] = l
		r.byName[l.Name] = l
	}
	return r
}

// Load enumerates the host layouts and registers them. When the host reports
// none, an empty registry is returned together with ErrNoLayouts.
func Load(e Enumerator, log logr.Logger) (*Registry, error) {
	layouts, err := e.EnumerateLayouts()
	if err != nil {
		return NewRegistry(nil), fmt.Errorf("enumerate layouts: %w", err)
	}
	r := NewRegistry(layouts)
	if r.Len() == 0 {
		log.Error(ErrNoLayouts, "layout registry is empty, suggestions disabled")
		return r, ErrNoLayouts
	}
	for _, l := range r.layouts {
		log.Info("Registered layout", "name", l.Name, "handle", fmt.Sprintf("%#x", uintptr(l.Handle)))
	}
	if skipped := len(layouts) - r.Len(); skipped > 0 {
		log.V(1).Info("Collapsed duplicate layouts", "count", skipped)
	}
	log.Info("Initialized layout registry", "layouts", r.Len())
	return r, nil
}

// Layouts returns the registered layouts in registration order.
func (r *Registry) Layouts() []Layout {
	out := make([]Layout, len(r.layouts))
	copy(out, r.layouts)
	return out
}

// Len returns the number of registered layouts.
func (r *Registry) Len() int {
	return len(r.layouts)
}

// Lookup returns the layout registered under the handle.
func (r *Registry) Lookup(h Handle) (Layout, bool) {
	l, ok := r.byHandle[h]
	return l, ok
}

// ByName returns the layout registered under the name.
func (r *Registry) ByName(name string) (Layout, bool) {
	l, ok := r.byName[name]
	return l, ok
}

// Name returns the registered name for h, or the hex handle when unknown.
func (r *Registry) Name(h Handle) string {
	if l, ok := r.byHandle[h]; ok {
		return l.Name
	}
	return fmt.Sprintf("%#x", uintptr(h))
}
