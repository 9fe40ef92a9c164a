package action

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	automation "github.com/Nine-Minds/alga-psa-sub020"
)

// Registry maps action names to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty action registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register registers a handler under the given action name, replacing
// any previous registration.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// RegisterTyped registers a handler that takes a typed input struct. The
// resolved input map is JSON round-tripped into T before the typed
// handler runs.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterTyped[T any](r *Registry, name string, h func(ctx context.Context, call *Call, input T) (map[string]any, error)) {
	r.Register(name, func(ctx context.Context, call *Call) (map[string]any, error) {
		var t T
		if len(call.Input) > 0 {
			data, err := json.Marshal(call.Input)
			if err != nil {
				return nil, fmt.Errorf("marshal input for action %q: %w", name, err)
			}
			if err := json.Unmarshal(data, &t); err != nil {
				return nil, fmt.Errorf("unmarshal input for action %q: %w", name, err)
			}
		}
		return h(ctx, call, t)
	})
}

// Get returns the handler for the given action name.
// Returns false if no handler is registered.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Invoke looks up and runs the named handler.
func (r *Registry) Invoke(ctx context.Context, call *Call) (map[string]any, error) {
	h, ok := r.Get(call.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", automation.ErrActionNotFound, call.Name)
	}
	return h(ctx, call)
}

// Names returns all registered action names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
