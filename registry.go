package di

import (
	"sort"
	"sync"
)

// Registration describes one implementation bound to a token.
type Registration struct {
	Token    *Token
	Scope    Scope
	Factory  FactoryFunc
	Priority int

	// order is the registration sequence number, used to break priority ties
	// (first registered wins).
	order int
}

// Registry maps tokens to registrations. A registry may delegate to a parent
// for tokens it does not hold itself, which lets tests layer an isolated
// registry over globally registered defaults.
type Registry struct {
	mu      sync.RWMutex
	parent  *Registry
	records map[string][]*Registration
	seq     int
}

// NewRegistry creates a registry. parent may be nil.
func NewRegistry(parent *Registry) *Registry {
	return &Registry{
		parent:  parent,
		records: make(map[string][]*Registration),
	}
}

// Set registers or re-registers an implementation for a token. Multiple
// registrations per token are kept; resolution uses the active one (highest
// priority, earliest registration on ties).
func (r *Registry) Set(token Injectable, scope Scope, factory FactoryFunc, priority int) *Registration {
	base := token.Base()
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	rec := &Registration{
		Token:    base,
		Scope:    scope,
		Factory:  factory,
		Priority: priority,
		order:    r.seq,
	}
	r.records[base.id] = append(r.records[base.id], rec)
	return rec
}

// Get returns the active registration for a token, consulting the parent
// registry when this one holds nothing for it.
func (r *Registry) Get(token Injectable) (*Registration, error) {
	base := token.Base()
	r.mu.RLock()
	records := r.records[base.id]
	r.mu.RUnlock()

	if len(records) == 0 {
		if r.parent != nil {
			return r.parent.Get(token)
		}
		return nil, &NotRegisteredError{Token: base.name}
	}

	active := records[0]
	for _, rec := range records[1:] {
		if rec.Priority > active.Priority {
			active = rec
		}
	}
	return active, nil
}

// GetAll returns every registration for a token, own and inherited, sorted by
// priority descending (registration order on ties). Intended for diagnostics
// and override verification.
func (r *Registry) GetAll(token Injectable) []*Registration {
	base := token.Base()

	var all []*Registration
	if r.parent != nil {
		all = append(all, r.parent.GetAll(token)...)
	}
	r.mu.RLock()
	all = append(all, r.records[base.id]...)
	r.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Priority != all[j].Priority {
			return all[i].Priority > all[j].Priority
		}
		return all[i].order < all[j].order
	})
	return all
}

// Has reports whether the token is registered here or in a parent.
func (r *Registry) Has(token Injectable) bool {
	_, err := r.Get(token)
	return err == nil
}

// Remove drops every registration this registry holds for the token. Parent
// registrations are untouched.
func (r *Registry) Remove(token Injectable) {
	base := token.Base()
	r.mu.Lock()
	delete(r.records, base.id)
	r.mu.Unlock()
}
