// Package controller defines the contract between the dispatcher and
// application handler code.
//
// A Definition is what the dispatcher looks up for a controller name. For
// every request it is asked for a fresh Controller instance with the request
// Context injected; the instance is never reused.
package controller

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// ActionFunc handles one action. Data for the view goes into ctx.View.
type ActionFunc func(ctx *Context) error

// Controller exposes the actions of one controller instance.
type Controller interface {
	Action(name string) (ActionFunc, bool)
}

// Definition constructs controller instances.
type Definition interface {
	New(ctx *Context) (Controller, error)
}

// DefinitionFunc adapts a function to Definition.
type DefinitionFunc func(ctx *Context) (Controller, error)

// New implements Definition.
func (f DefinitionFunc) New(ctx *Context) (Controller, error) {
	return f(ctx)
}

// Actions is a Controller backed by a map of action names.
type Actions map[string]ActionFunc

// Action implements Controller.
func (a Actions) Action(name string) (ActionFunc, bool) {
	fn, ok := a[name]
	return fn, ok && fn != nil
}

// Static returns a Definition that hands out the same stateless actions for
// every request.
func Static(actions Actions) Definition {
	return DefinitionFunc(func(*Context) (Controller, error) {
		return actions, nil
	})
}

// Close releases instance resources if the controller holds any.
func Close(c Controller) error {
	if closer, ok := c.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

type key struct {
	module string
	name   string
}

// Registry maps (module, controller name) to Go-implemented definitions.
type Registry struct {
	definitions map[key]Definition
	mutex       sync.RWMutex
}

// NewRegistry creates an empty controller registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[key]Definition)}
}

// Register adds or replaces the definition for name in module. An empty
// module is the application itself. Names are controller names such as
// "BlogPostController".
func (r *Registry) Register(module, name string, def Definition) {
	if def == nil {
		panic(fmt.Sprintf("controller: nil definition for %s", name))
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.definitions[key{module, name}] = def
}

// Unregister removes a definition.
func (r *Registry) Unregister(module, name string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	delete(r.definitions, key{module, name})
}

// Lookup retrieves a definition.
func (r *Registry) Lookup(module, name string) (Definition, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	def, ok := r.definitions[key{module, name}]
	return def, ok
}

// Names returns "module/name" (or just "name") for every registration.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.definitions))
	for k := range r.definitions {
		if k.module == "" {
			names = append(names, k.name)
		} else {
			names = append(names, k.module+"/"+k.name)
		}
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered definitions.
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.definitions)
}
