package registry

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrAlreadyExists indicates the symbol is already monitored.
	ErrAlreadyExists = errors.New("registry: symbol already monitored")
	// ErrNotFound indicates the symbol is not monitored.
	ErrNotFound = errors.New("registry: symbol not monitored")
)

// Registry is the mutable set of currently-monitored symbols. The scheduler
// reads it through List, which returns a copy, so membership changes never
// race with an in-flight poll cycle.
type Registry struct {
	mu    sync.RWMutex
	codes map[string]struct{}
	order []string
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{codes: make(map[string]struct{})}
}

// Seed replaces the membership wholesale, preserving the given order.
// Used to reconstitute the registry from persisted symbol rows at startup.
func (r *Registry) Seed(codes []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.codes = make(map[string]struct{}, len(codes))
	r.order = r.order[:0]
	for _, code := range codes {
		if _, ok := r.codes[code]; ok {
			continue
		}
		r.codes[code] = struct{}{}
		r.order = append(r.order, code)
	}
}

// Add registers a symbol for monitoring.
func (r *Registry) Add(code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.codes[code]; ok {
		return ErrAlreadyExists
	}
	r.codes[code] = struct{}{}
	r.order = append(r.order, code)
	return nil
}

// Remove unregisters a symbol.
func (r *Registry) Remove(code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.codes[code]; !ok {
		return ErrNotFound
	}
	delete(r.codes, code)
	for i, c := range r.order {
		if c == code {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Contains reports whether a symbol is monitored.
func (r *Registry) Contains(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.codes[code]
	return ok
}

// List returns a copy of the active codes in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Sorted returns a copy of the active codes in lexical order.
func (r *Registry) Sorted() []string {
	out := r.List()
	sort.Strings(out)
	return out
}

// Len returns the number of monitored symbols.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.codes)
}
