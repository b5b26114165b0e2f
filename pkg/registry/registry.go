// Package registry is the host's view registry: it resolves the view
// identifiers that invocations are scoped to.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/morezero/invoke-bridge/pkg/invoke"
)

const logPrefix = "registry:registry"

// View is a registered view. A view with no command list may invoke any
// command.
type View struct {
	label    string
	title    string
	commands map[string]struct{}
}

// Label returns the view identifier.
func (v *View) Label() string { return v.label }

// Title returns the human-readable title.
func (v *View) Title() string { return v.title }

// Allows reports whether the view may invoke command.
func (v *View) Allows(command string) bool {
	if len(v.commands) == 0 {
		return true
	}
	_, ok := v.commands[command]
	return ok
}

// Commands returns the sorted command allowlist, or nil when unrestricted.
func (v *View) Commands() []string {
	if len(v.commands) == 0 {
		return nil
	}
	out := make([]string, 0, len(v.commands))
	for c := range v.commands {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// ViewSpec describes a view to register.
type ViewSpec struct {
	Label    string
	Title    string
	Commands []string
}

// Registry is a concurrency-safe set of views.
type Registry struct {
	mu    sync.RWMutex
	views map[string]*View
}

// NewRegistry creates a registry holding specs.
func NewRegistry(specs ...ViewSpec) *Registry {
	r := &Registry{views: make(map[string]*View, len(specs))}
	for _, s := range specs {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a view.
func (r *Registry) Register(spec ViewSpec) *View {
	v := &View{label: spec.Label, title: spec.Title}
	if len(spec.Commands) > 0 {
		v.commands = make(map[string]struct{}, len(spec.Commands))
		for _, c := range spec.Commands {
			v.commands[c] = struct{}{}
		}
	}

	r.mu.Lock()
	r.views[spec.Label] = v
	r.mu.Unlock()

	slog.Debug(fmt.Sprintf("%s - registered view %s", logPrefix, spec.Label))
	return v
}

// Unregister removes a view. It reports whether the view existed.
func (r *Registry) Unregister(label string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.views[label]; !ok {
		return false
	}
	delete(r.views, label)
	return true
}

// Resolve implements invoke.ViewResolver.
func (r *Registry) Resolve(label string) (invoke.View, error) {
	r.mu.RLock()
	v, ok := r.views[label]
	r.mu.RUnlock()
	if !ok {
		return nil, invoke.NewBridgeError(invoke.CodeViewNotFound, fmt.Sprintf("no view with label %q", label))
	}
	return v, nil
}

// Labels returns every registered label, sorted.
func (r *Registry) Labels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.views))
	for l := range r.views {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
