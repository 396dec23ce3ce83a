// Package template indexes the renderable text templates used by the
// generators. Templates are organised on disk by format and role
// (document, section, entry) and addressed by their slash-separated logical
// name, e.g. "cda/section/generic". A document template includes section
// output, which includes entry output; direct {{template "x"}} includes are
// resolved at load time into a checked acyclic graph.
package template

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"
	"text/template/parse"
	"time"
)

// Error reports an unresolved include, a cyclic include, or an unknown
// filter. It indicates broken configuration, not bad input data.
type Error struct {
	Template string
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("template %s: %s: %v", e.Template, e.Msg, e.Err)
	}
	return fmt.Sprintf("template %s: %s", e.Template, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Template is one immutable parsed template body with its logical name and
// the fingerprint used for live-reload invalidation.
type Template struct {
	Name    string
	Path    string
	ModTime time.Time
}

type entry struct {
	mu      sync.Mutex // guards metadata reads against the reload swap
	name    string
	path    string
	modTime time.Time
	body    string
}

// Option configures a Registry.
type Option func(*Registry)

// WithReload makes Resolve re-read a template whose on-disk fingerprint
// (path + mtime) changed since last load. Without it the registry is fully
// immutable after construction.
func WithReload() Option {
	return func(r *Registry) { r.reload = true }
}

// WithFilter registers a named transform function available inside all
// templates. Must be applied at construction or before concurrent use.
func WithFilter(name string, fn any) Option {
	return func(r *Registry) { r.funcs[name] = fn }
}

// Registry indexes templates under a root directory. After construction it
// is safe for concurrent Render calls; live-reload is the only mutation
// path and is internally locked.
type Registry struct {
	root     string
	reload   bool
	funcs    template.FuncMap
	mu       sync.RWMutex // guards master across reload swaps
	reloadMu sync.Mutex   // serializes rebuilds; build reads every entry's body
	master   *template.Template
	entries  map[string]*entry
}

// New loads every *.tmpl file under root. Include resolution and cycle
// detection run here, so a broken include graph fails construction rather
// than the first render.
func New(root string, opts ...Option) (*Registry, error) {
	r := &Registry{
		root:    root,
		funcs:   builtinFilters(),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.scan(); err != nil {
		return nil, err
	}
	if err := r.build(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) scan() error {
	found := false
	err := filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".tmpl" {
			return nil
		}
		rel, err := filepath.Rel(r.root, path)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(filepath.ToSlash(rel), ".tmpl")
		body, info, err := readTemplate(path)
		if err != nil {
			return err
		}
		r.entries[name] = &entry{name: name, path: path, modTime: info, body: body}
		found = true
		return nil
	})
	if err != nil {
		return &Error{Template: r.root, Msg: "cannot scan template root", Err: err}
	}
	if !found {
		return &Error{Template: r.root, Msg: "no templates found"}
	}
	return nil
}

func readTemplate(path string) (string, time.Time, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", time.Time{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", time.Time{}, err
	}
	return string(raw), info.ModTime(), nil
}

// build parses all bodies into one master template set and validates the
// include graph. Callers hold no locks; the swap happens under r.mu.
func (r *Registry) build() error {
	master := template.New("").Option("missingkey=zero").Funcs(r.funcs)

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		e := r.entries[name]
		if _, err := master.New(name).Parse(e.body); err != nil {
			return &Error{Template: name, Msg: "parse failed", Err: err}
		}
	}
	if err := checkIncludes(master, names); err != nil {
		return err
	}

	r.mu.Lock()
	r.master = master
	r.mu.Unlock()
	return nil
}

// checkIncludes walks every parse tree for {{template "x"}} nodes, failing
// on includes of undefined templates and on include cycles.
func checkIncludes(master *template.Template, names []string) error {
	defined := make(map[string]bool, len(names))
	for _, n := range names {
		defined[n] = true
	}

	edges := make(map[string][]string, len(names))
	for _, name := range names {
		t := master.Lookup(name)
		if t == nil || t.Tree == nil {
			continue
		}
		refs := includeRefs(t.Tree.Root)
		for _, ref := range refs {
			if !defined[ref] {
				return &Error{Template: name, Msg: fmt.Sprintf("includes undefined template %q", ref)}
			}
		}
		edges[name] = refs
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(names))
	var visit func(name string, trail []string) error
	visit = func(name string, trail []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return &Error{Template: name, Msg: fmt.Sprintf("include cycle: %s", strings.Join(append(trail, name), " -> "))}
		}
		state[name] = visiting
		for _, ref := range edges[name] {
			if err := visit(ref, append(trail, name)); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}
	for _, name := range names {
		if err := visit(name, nil); err != nil {
			return err
		}
	}
	return nil
}

func includeRefs(node parse.Node) []string {
	var refs []string
	var walk func(parse.Node)
	walk = func(n parse.Node) {
		switch n := n.(type) {
		case *parse.TemplateNode:
			refs = append(refs, n.Name)
		case *parse.ListNode:
			if n == nil {
				return
			}
			for _, c := range n.Nodes {
				walk(c)
			}
		case *parse.IfNode:
			walk(n.List)
			if n.ElseList != nil {
				walk(n.ElseList)
			}
		case *parse.RangeNode:
			walk(n.List)
			if n.ElseList != nil {
				walk(n.ElseList)
			}
		case *parse.WithNode:
			walk(n.List)
			if n.ElseList != nil {
				walk(n.ElseList)
			}
		}
	}
	walk(node)
	return refs
}

// Resolve returns the template metadata for a logical name, re-reading the
// source first when reload mode is on and the fingerprint changed.
func (r *Registry) Resolve(name string) (Template, error) {
	e, ok := r.entries[name]
	if !ok {
		return Template{}, &Error{Template: name, Msg: "not registered"}
	}
	if r.reload {
		if err := r.refresh(e); err != nil {
			return Template{}, err
		}
	}
	e.mu.Lock()
	t := Template{Name: e.name, Path: e.path, ModTime: e.modTime}
	e.mu.Unlock()
	return t, nil
}

// refresh performs the fingerprint check-and-swap for one entry. The
// registry reload lock serializes the whole check-and-swap across entries,
// since build reads every entry's body; the entry lock keeps Resolve's
// metadata read consistent with the swap.
func (r *Registry) refresh(e *entry) error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	info, err := os.Stat(e.path)
	if err != nil {
		return &Error{Template: e.name, Msg: "source vanished", Err: err}
	}
	if info.ModTime().Equal(e.modTime) {
		return nil
	}
	body, modTime, err := readTemplate(e.path)
	if err != nil {
		return &Error{Template: e.name, Msg: "reload failed", Err: err}
	}
	e.mu.Lock()
	e.body = body
	e.modTime = modTime
	e.mu.Unlock()
	return r.build()
}

// Render resolves and executes a template with the given context.
func (r *Registry) Render(name string, ctx any) (string, error) {
	if _, err := r.Resolve(name); err != nil {
		return "", err
	}

	r.mu.RLock()
	t := r.master.Lookup(name)
	r.mu.RUnlock()
	if t == nil {
		return "", &Error{Template: name, Msg: "not registered"}
	}

	var buf strings.Builder
	if err := t.Execute(&buf, ctx); err != nil {
		return "", &Error{Template: name, Msg: "render failed", Err: err}
	}
	return buf.String(), nil
}

// RegisterFilter adds a named transform function and re-parses all
// templates so the new name resolves. Not safe to call concurrently with
// Render; register filters during wiring.
func (r *Registry) RegisterFilter(name string, fn any) error {
	r.funcs[name] = fn
	return r.build()
}

// Names returns all registered logical names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
