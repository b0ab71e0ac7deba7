// Package stdlib provides the DPLang standard library function registry.
//
// Every function here is pure: it sees only its positional arguments.
// Builtins that call back into user code or read history (map, filter,
// reduce, ref, past, window, print) live in the evaluator.
package stdlib

import (
	"sort"

	"github.com/thomasrohde/dplang/pkg/evaluator"
)

// Fn represents a standard library function.
type Fn = evaluator.StdlibFn

// Registry holds registered stdlib functions.
type Registry struct {
	fns map[string]*Fn
}

// NewRegistry creates a new empty stdlib registry.
func NewRegistry() *Registry {
	return &Registry{
		fns: make(map[string]*Fn),
	}
}

// Default returns a registry holding every standard function.
func Default() *Registry {
	r := NewRegistry()
	RegisterDefaults(r)
	return r
}

// Register adds a stdlib function to the registry.
func (r *Registry) Register(fn Fn) {
	r.fns[fn.Name] = &fn
}

// Get retrieves a stdlib function by name.
func (r *Registry) Get(name string) *Fn {
	return r.fns[name]
}

// All returns all registered stdlib functions.
func (r *Registry) All() map[string]*Fn {
	return r.fns
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.fns))
	for name := range r.fns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
