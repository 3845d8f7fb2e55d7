package tools

import (
	"context"
	"fmt"
	"sync"
)

// Source identifies where a tool descriptor originated. Decorator
// (programmatic) registrations win over configuration-file descriptors on
// a name conflict.
type Source string

const (
	SourceDecorator Source = "decorator"
	SourceConfig    Source = "config"
)

// Runner is the capability a config-declared tool's implementation binds
// to by name: a service object exposing a single run(call_map) -> string
// method.
type Runner interface {
	Run(ctx context.Context, args map[string]any) (string, error)
}

// Descriptor is a tool's registry entry: its schema and how to run it.
type Descriptor struct {
	Name        string
	Description string
	Schema      map[string]any
	Tags        []string
	Source      Source
	Run         func(ctx context.Context, args map[string]any) (string, error)
}

// Registry holds tool descriptors registered either programmatically
// (decorator) or from configuration. Decorator registrations always win a
// name conflict, even if the config source registers after it.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Descriptor
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Descriptor)}
}

// RegisterDecorator registers (or overwrites) a programmatic tool
// descriptor. Decorator registrations always take effect, regardless of
// what is already registered.
func (r *Registry) RegisterDecorator(d Descriptor) {
	d.Source = SourceDecorator
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[d.Name] = d
}

// RegisterConfig registers a configuration-declared tool descriptor. If a
// decorator-sourced descriptor with the same name already exists, the
// config registration is dropped silently: decorator wins.
func (r *Registry) RegisterConfig(d Descriptor) {
	d.Source = SourceConfig
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[d.Name]; ok && existing.Source == SourceDecorator {
		return
	}
	r.entries[d.Name] = d
}

// Get returns a descriptor by name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.entries[name]
	return d, ok
}

// ByTag returns all descriptors carrying the given tag, in registration
// order stabilized by name for determinism.
func (r *Registry) ByTag(tag string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Descriptor
	for _, d := range r.entries {
		for _, t := range d.Tags {
			if t == tag {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// All returns every registered descriptor.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.entries))
	for _, d := range r.entries {
		out = append(out, d)
	}
	return out
}

// Call bundles a tool invocation as it passes through the middleware
// chain. Middleware may mutate Args and observe Result.
type Call struct {
	Tool   string
	Args   map[string]any
	Result string
}

// Next is the continuation a Middleware invokes to proceed to the next
// stage (or, for the last stage, to the tool's Runner).
type Next func(ctx context.Context, call *Call) error

// Middleware wraps tool execution. It may mutate call.Args before calling
// next, observe call.Result after, and must propagate any error from next
// upward unchanged.
type Middleware func(next Next) Next

// Chain composes middleware into a single Next that ultimately invokes
// the registry lookup and the resolved tool's Runner. Middleware is
// applied in the order given: the first middleware in the slice is the
// outermost, matching the standard stack (trace, security, rate-limit,
// audit, performance).
func Chain(registry *Registry, middleware ...Middleware) Next {
	var terminal Next = func(ctx context.Context, call *Call) error {
		d, ok := registry.Get(call.Tool)
		if !ok {
			return fmt.Errorf("tools: unknown tool %q", call.Tool)
		}
		result, err := d.Run(ctx, call.Args)
		if err != nil {
			return err
		}
		call.Result = result
		return nil
	}

	next := terminal
	for i := len(middleware) - 1; i >= 0; i-- {
		next = middleware[i](next)
	}
	return next
}
