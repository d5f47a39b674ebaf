package backend

import (
	"context"
	"slices"
	"sync"
)

// Router dispatches backend calls by target name. Named backends serve
// specific targets; everything else, including the localhost aliases, falls
// through to the default backend. Router itself implements Backend so the
// bridge tools stay agnostic of how many adapters are connected.
type Router struct {
	mu       sync.RWMutex
	backends map[string]Backend
	fallback Backend
}

func NewRouter() *Router {
	return &Router{backends: make(map[string]Backend)}
}

// Register routes a target name to a backend.
func (r *Router) Register(target string, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[target] = b
}

// SetDefault sets the fallback backend for unregistered targets.
func (r *Router) SetDefault(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = b
}

// Targets lists registered target names, sorted.
func (r *Router) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *Router) backend(target string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.backends[target]; ok {
		return b, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, errorf(CodeNoBackend, "no backend registered for target: %s", target)
}

func (r *Router) Resolve(ctx context.Context, target string) (*TargetInfo, error) {
	b, err := r.backend(target)
	if err != nil {
		return nil, err
	}
	return b.Resolve(ctx, target)
}

func (r *Router) ListDiagnostics(ctx context.Context, target string) ([]Diagnostic, error) {
	b, err := r.backend(target)
	if err != nil {
		return nil, err
	}
	return b.ListDiagnostics(ctx, target)
}

func (r *Router) RunDiagnostic(ctx context.Context, target, action string, args map[string]any) (*Result, error) {
	b, err := r.backend(target)
	if err != nil {
		return nil, err
	}
	return b.RunDiagnostic(ctx, target, action, args)
}

func (r *Router) RunShell(ctx context.Context, target, command string) (*Result, error) {
	b, err := r.backend(target)
	if err != nil {
		return nil, err
	}
	return b.RunShell(ctx, target, command)
}
