// Package packages locates, parses and orders DPLang package scripts.
//
// A package named m lives in a file m.dp on the search path. Packages may
// import other packages; Load returns them in dependency order so each can
// be executed once after everything it imports.
package packages

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/thomasrohde/dplang/pkg/ast"
	"github.com/thomasrohde/dplang/pkg/diagnostics"
	"github.com/thomasrohde/dplang/pkg/parser"
)

// Extension is the file extension of DPLang sources.
const Extension = ".dp"

// DefaultPaths are searched, relative to the working directory, when a
// loader is created without paths.
var DefaultPaths = []string{"packages", ".", "stdlib"}

// Package is a parsed package script.
type Package struct {
	Name   string
	Path   string
	Script *ast.Script
}

// Exports returns the names the package makes visible to importers:
// constants and functions not starting with '_', sorted.
func (p *Package) Exports() []string {
	var names []string
	for _, stmt := range p.Script.Body {
		if s, ok := stmt.(*ast.AssignStmt); ok && !strings.HasPrefix(s.Name, "_") {
			names = append(names, s.Name)
		}
	}
	for _, fn := range p.Script.Functions {
		if !strings.HasPrefix(fn.Name, "_") {
			names = append(names, fn.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Error reports a package that could not be loaded. Diags holds the
// package's own parse errors, or a single E_PACKAGE/E_IMPORT_CYCLE
// diagnostic.
type Error struct {
	Diags []diagnostics.Diagnostic
}

func (e *Error) Error() string {
	msgs := make([]string, len(e.Diags))
	for i, d := range e.Diags {
		msgs[i] = d.Message
	}
	return strings.Join(msgs, "; ")
}

func newError(code, msg string, span *ast.Span) *Error {
	return &Error{Diags: []diagnostics.Diagnostic{diagnostics.MakeDiag(code, msg, span, "")}}
}

// Loader resolves package names against a search path and caches parsed
// packages. It is not safe for concurrent use.
type Loader struct {
	paths []string
	cache map[string]*Package
}

// NewLoader creates a loader searching paths in order. Without paths it
// uses DefaultPaths.
func NewLoader(paths ...string) *Loader {
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	return &Loader{paths: append([]string(nil), paths...), cache: make(map[string]*Package)}
}

// AddPath appends a directory to the search path.
func (l *Loader) AddPath(path string) {
	l.paths = append(l.paths, path)
}

// Paths returns the search path.
func (l *Loader) Paths() []string {
	return l.paths
}

// ClearCache forgets every parsed package.
func (l *Loader) ClearCache() {
	l.cache = make(map[string]*Package)
}

// Find returns the file that defines package name.
func (l *Loader) Find(name string) (string, error) {
	file := name + Extension
	for _, dir := range l.paths {
		candidate := filepath.Join(dir, file)
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", newError(diagnostics.EIO, fmt.Sprintf("package %s: %v", name, err), nil)
		}
	}
	return "", &Error{Diags: []diagnostics.Diagnostic{diagnostics.MakeDiag(diagnostics.EPackage,
		fmt.Sprintf("package '%s' not found", name), nil,
		fmt.Sprintf("looked for %s in %s", file, strings.Join(l.paths, ", ")))}}
}

// Get parses package name, or returns it from the cache.
func (l *Loader) Get(name string) (*Package, error) {
	if pkg, ok := l.cache[name]; ok {
		return pkg, nil
	}
	path, err := l.Find(name)
	if err != nil {
		return nil, err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(diagnostics.EIO, fmt.Sprintf("package %s: %v", name, err), nil)
	}
	script, diags := parser.Parse(string(src), path)
	if len(diags) > 0 {
		return nil, &Error{Diags: diags}
	}
	if script.ScriptKind != ast.PackageScript {
		return nil, newError(diagnostics.EPackage, fmt.Sprintf("%s is not a package script", path), nil)
	}
	if script.Name != name {
		span := script.Span
		return nil, newError(diagnostics.EPackage,
			fmt.Sprintf("%s declares package '%s', expected '%s'", path, script.Name, name), &span)
	}

	pkg := &Package{Name: name, Path: path, Script: script}
	l.cache[name] = pkg
	return pkg, nil
}

// Load resolves names and everything they import, transitively, and
// returns the packages in dependency order: every package comes after
// the packages it imports. Import cycles are E_IMPORT_CYCLE errors.
func (l *Loader) Load(names []string) ([]*Package, error) {
	var order []*Package
	done := map[string]bool{}
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		if done[name] {
			return nil
		}
		for i, onStack := range stack {
			if onStack == name {
				cycle := append(append([]string(nil), stack[i:]...), name)
				return newError(diagnostics.EImportCycle,
					fmt.Sprintf("import cycle: %s", strings.Join(cycle, " -> ")), nil)
			}
		}
		pkg, err := l.Get(name)
		if err != nil {
			return err
		}
		stack = append(stack, name)
		for _, dep := range pkg.Script.Imports() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		done[name] = true
		order = append(order, pkg)
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}
