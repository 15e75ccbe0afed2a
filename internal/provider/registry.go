package provider

import (
	"fmt"
	"path"
	"strings"
)

type route struct {
	pattern string
	adapter Adapter
}

// Registry routes endpoints to adapters. Patterns use path.Match syntax and
// are tried in registration order; the first match wins.
type Registry struct {
	routes   []route
	adapters map[string]Adapter
	order    []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter serving the given endpoint patterns.
func (r *Registry) Register(adapter Adapter, patterns ...string) error {
	name := adapter.Name()
	if name == "" {
		return fmt.Errorf("provider name is required")
	}
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("provider %q registered twice", name)
	}
	if len(patterns) == 0 {
		return fmt.Errorf("provider %q serves no endpoints", name)
	}
	for _, pattern := range patterns {
		if _, err := path.Match(pattern, ""); err != nil {
			return fmt.Errorf("provider %q: invalid endpoint pattern %q: %w", name, pattern, err)
		}
	}

	r.adapters[name] = adapter
	r.order = append(r.order, name)
	for _, pattern := range patterns {
		r.routes = append(r.routes, route{pattern: pattern, adapter: adapter})
	}
	return nil
}

// Resolve returns the adapter serving an endpoint.
func (r *Registry) Resolve(endpoint string) (Adapter, error) {
	endpoint = strings.TrimSpace(endpoint)
	for _, rt := range r.routes {
		if ok, _ := path.Match(rt.pattern, endpoint); ok {
			return rt.adapter, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEndpoint, endpoint)
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Adapters returns every adapter in registration order.
func (r *Registry) Adapters() []Adapter {
	out := make([]Adapter, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.adapters[name])
	}
	return out
}

// MatchAny reports whether endpoint matches one of the patterns.
func MatchAny(patterns []string, endpoint string) bool {
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, endpoint); ok {
			return true
		}
	}
	return false
}
