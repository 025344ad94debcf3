package di

import "sync"

// holderStorage is the keyed holder container for one scope tier: one global
// tier for singleton/transient/instance holders, one per ScopedContainer for
// request holders. It guarantees that between registering a Creating holder
// and its completion, every lookup for the same instance name observes the
// same holder object.
type holderStorage struct {
	mu      sync.Mutex
	holders map[string]*holder
	// byInstance maps a created instance back to its holder so callers can
	// invalidate by object identity.
	byInstance map[any]*holder
}

func newHolderStorage() *holderStorage {
	return &holderStorage{
		holders:    make(map[string]*holder),
		byInstance: make(map[any]*holder),
	}
}

// getOrCreate returns the holder for name, allocating a fresh Creating holder
// when none exists or when the existing one is Failed or Destroyed (a failed
// construction is terminal for its holder; re-resolution starts over).
// created reports whether the returned holder was allocated by this call and
// therefore must be completed or failed by the caller.
func (s *holderStorage) getOrCreate(name string, token *Token, scope Scope) (h *holder, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.holders[name]; ok {
		switch existing.Status() {
		case StatusCreating, StatusCreated:
			return existing, false
		}
	}
	h = newHolder(name, token, scope)
	h.owner = s
	s.holders[name] = h
	return h, true
}

// get returns the holder for name, if any.
func (s *holderStorage) get(name string) (*holder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holders[name]
	return h, ok
}

// put registers an externally built holder (transient holders with unique
// names, pre-supplied instances).
func (s *holderStorage) put(h *holder) {
	s.mu.Lock()
	h.owner = s
	s.holders[h.name] = h
	s.mu.Unlock()
}

// index records the instance -> holder mapping once construction succeeds.
// Instances of uncomparable types cannot be indexed and are skipped; they
// remain invalidatable by name.
func (s *holderStorage) index(h *holder, instance any) {
	defer func() {
		// Uncomparable map key panics are swallowed on purpose.
		_ = recover()
	}()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byInstance[instance] = h
}

// lookupInstance finds the holder owning an instance object.
func (s *holderStorage) lookupInstance(instance any) (*holder, bool) {
	defer func() {
		_ = recover()
	}()
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.byInstance[instance]
	return h, ok
}

// remove drops a holder and its reverse-index entry. The holder stays usable
// by anyone already waiting on it.
func (s *holderStorage) remove(h *holder) {
	defer func() {
		_ = recover()
	}()
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.holders[h.name]; ok && current == h {
		delete(s.holders, h.name)
	}
	if instance := h.rawInstance(); instance != nil {
		if indexed, ok := s.byInstance[instance]; ok && indexed == h {
			delete(s.byInstance, instance)
		}
	}
}

// all returns a snapshot of every holder in this tier.
func (s *holderStorage) all() []*holder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*holder, 0, len(s.holders))
	for _, h := range s.holders {
		out = append(out, h)
	}
	return out
}
