// Package registry holds the process-wide named slots shared by controllers
// and views, and the per-cycle helper set that accumulates head tags.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Reserved slot names. They belong to the per-cycle helper set.
const (
	HelpersKey    = "helpers"
	HeadScriptKey = "headScript"
	HeadLinkKey   = "headLink"
)

// ErrReservedName is returned when Set targets a reserved slot.
var ErrReservedName = errors.New("registry: reserved name")

var reserved = map[string]struct{}{
	HelpersKey:    {},
	HeadScriptKey: {},
	HeadLinkKey:   {},
}

// Registry manages named values that live for the lifetime of the process
// or until the next full reload.
type Registry struct {
	slots map[string]any
	mutex sync.RWMutex
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{slots: make(map[string]any)}
}

// IsReserved reports whether key names a built-in helper.
func IsReserved(key string) bool {
	_, ok := reserved[key]
	return ok
}

// Set stores value under key, replacing any previous value.
func (r *Registry) Set(key string, value any) error {
	if IsReserved(key) {
		return fmt.Errorf("%w: %q", ErrReservedName, key)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.slots[key] = value
	return nil
}

// Get retrieves a value by key.
func (r *Registry) Get(key string) (any, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	value, ok := r.slots[key]
	return value, ok
}

// Delete removes key. It reports whether the key was present.
func (r *Registry) Delete(key string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	_, ok := r.slots[key]
	delete(r.slots, key)
	return ok
}

// Keys returns the slot names in sorted order.
func (r *Registry) Keys() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	keys := make([]string, 0, len(r.slots))
	for k := range r.slots {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of every slot.
func (r *Registry) Snapshot() map[string]any {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	out := make(map[string]any, len(r.slots))
	for k, v := range r.slots {
		out[k] = v
	}
	return out
}

// Count returns the number of slots.
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.slots)
}

// Reset drops every slot.
func (r *Registry) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.slots = make(map[string]any)
}
