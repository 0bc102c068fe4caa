package server

import (
	"sort"
	"strings"
	"sync"
)

// Registry maps command verbs to parsers of type P. Verbs are
// case-insensitive and stored uppercase. A verb can be disabled without
// being removed; the disabled flag survives Remove and a later Add, so
// a re-registered command stays disabled until explicitly re-enabled.
type Registry[P any] struct {
	mu       sync.RWMutex
	parsers  map[string]P
	disabled map[string]bool
}

// NewRegistry creates an empty command registry.
func NewRegistry[P any]() *Registry[P] {
	return &Registry[P]{
		parsers:  make(map[string]P),
		disabled: make(map[string]bool),
	}
}

// Add registers or replaces the parser for a verb.
func (r *Registry[P]) Add(verb string, parser P) {
	r.mu.Lock()
	r.parsers[strings.ToUpper(verb)] = parser
	r.mu.Unlock()
}

// Remove unregisters a verb. The disabled flag is kept.
func (r *Registry[P]) Remove(verb string) {
	r.mu.Lock()
	delete(r.parsers, strings.ToUpper(verb))
	r.mu.Unlock()
}

// SetEnabled enables or disables a verb.
func (r *Registry[P]) SetEnabled(verb string, enabled bool) {
	r.mu.Lock()
	if enabled {
		delete(r.disabled, strings.ToUpper(verb))
	} else {
		r.disabled[strings.ToUpper(verb)] = true
	}
	r.mu.Unlock()
}

// Enabled reports whether a verb is registered and not disabled.
func (r *Registry[P]) Enabled(verb string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v := strings.ToUpper(verb)
	_, ok := r.parsers[v]
	return ok && !r.disabled[v]
}

// Lookup returns the parser registered for a verb.
func (r *Registry[P]) Lookup(verb string) (P, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[strings.ToUpper(verb)]
	return p, ok
}

// Verbs returns the registered verbs in sorted order.
func (r *Registry[P]) Verbs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	verbs := make([]string, 0, len(r.parsers))
	for v := range r.parsers {
		verbs = append(verbs, v)
	}
	sort.Strings(verbs)
	return verbs
}
