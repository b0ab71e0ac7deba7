package evaluator

import "sort"

// Env is a scoped environment for variable bindings.
// It supports parent-chained lookup for lexical scoping.
type Env struct {
	bindings map[string]Value
	parent   *Env

	// frame marks the scope created for a function or lambda call.
	frame bool
	// history marks a scope that may read column history: the row scope
	// itself and lambda snapshots taken inside it.
	history bool
}

// NewEnv creates a new environment with an optional parent scope.
func NewEnv(parent *Env) *Env {
	return &Env{
		bindings: make(map[string]Value),
		parent:   parent,
	}
}

// NewRowEnv creates the per-row scope; column history is readable from it
// and from every scope nested in it.
func NewRowEnv(parent *Env) *Env {
	env := NewEnv(parent)
	env.history = true
	return env
}

// Child creates a new child scope whose parent is this environment.
func (e *Env) Child() *Env {
	return NewEnv(e)
}

// Get looks up a variable by name, traversing parent scopes.
func (e *Env) Get(name string) (Value, bool) {
	if val, ok := e.bindings[name]; ok {
		return val, true
	}
	if e.parent != nil {
		return e.parent.Get(name)
	}
	return nil, false
}

// Set binds a variable in this scope.
func (e *Env) Set(name string, val Value) {
	e.bindings[name] = val
}

// Has checks whether a variable is defined in this scope or any parent.
func (e *Env) Has(name string) bool {
	_, ok := e.Get(name)
	return ok
}

// HasLocal checks whether a variable is defined in this scope only.
func (e *Env) HasLocal(name string) bool {
	_, ok := e.bindings[name]
	return ok
}

// Names returns every visible name, sorted.
func (e *Env) Names() []string {
	seen := map[string]bool{}
	for env := e; env != nil; env = env.parent {
		for name := range env.bindings {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot copies the bindings of names visible from e into a new
// parentless scope. Names that are not bound are skipped.
func (e *Env) Snapshot(names []string) *Env {
	snap := NewEnv(nil)
	snap.history = e.readsHistory()
	for _, name := range names {
		if v, ok := e.Get(name); ok {
			snap.bindings[name] = v
		}
	}
	return snap
}

// readsHistory reports whether e is nested in a row scope or in a lambda
// created inside one.
func (e *Env) readsHistory() bool {
	for env := e; env != nil; env = env.parent {
		if env.history {
			return true
		}
	}
	return false
}

// historyName reports whether name, looked up from e, refers to a
// column rather than to a call-local binding.
func (e *Env) historyName(name string) bool {
	for env := e; env != nil; env = env.parent {
		if env.frame && env.HasLocal(name) {
			return false
		}
		if env.history {
			return true
		}
	}
	return false
}

func newFrame(parent *Env) *Env {
	env := NewEnv(parent)
	env.frame = true
	return env
}
