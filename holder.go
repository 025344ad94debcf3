package di

import (
	"context"
	"sync"
)

// HolderStatus is the lifecycle state of an instance holder.
type HolderStatus int32

const (
	// StatusCreating marks a holder whose construction is in flight.
	StatusCreating HolderStatus = iota
	// StatusCreated marks a holder carrying a usable instance.
	StatusCreated
	// StatusFailed marks a holder whose construction failed; the error is
	// retained and surfaced to every waiter.
	StatusFailed
	// StatusDestroyed marks an invalidated holder.
	StatusDestroyed
)

func (s HolderStatus) String() string {
	switch s {
	case StatusCreating:
		return "creating"
	case StatusCreated:
		return "created"
	case StatusFailed:
		return "failed"
	case StatusDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// holder is the lifecycle record for one concrete instance of one token+args
// pair. A holder moves Creating->Created or Creating->Failed exactly once,
// and Created->Destroyed at most once; there is no path back to Creating.
// A fresh resolution after failure or destruction allocates a new holder.
type holder struct {
	name  string
	token *Token
	scope Scope
	// owner is the storage tier the holder lives in, used to unregister it
	// on destruction.
	owner *holderStorage

	mu         sync.Mutex
	status     HolderStatus
	instance   any
	err        error
	done       chan struct{}
	depHolders []*holder
	listeners  []func()
}

func newHolder(name string, token *Token, scope Scope) *holder {
	return &holder{
		name:   name,
		token:  token,
		scope:  scope,
		status: StatusCreating,
		done:   make(chan struct{}),
	}
}

// complete transitions Creating->Created and releases every waiter.
func (h *holder) complete(instance any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status != StatusCreating {
		return
	}
	h.instance = instance
	h.status = StatusCreated
	close(h.done)
}

// fail transitions Creating->Failed. The error is retained so current and
// future waiters on this holder all observe the same outcome.
func (h *holder) fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status != StatusCreating {
		return
	}
	h.err = err
	h.status = StatusFailed
	close(h.done)
}

// destroy transitions the holder to Destroyed and returns the registered
// destroy listeners for the caller to run. ok is false when the holder was
// already destroyed. Destroying a holder that is still Creating releases its
// waiters with the teardown error passed in by the caller.
func (h *holder) destroy(teardownErr error) (listeners []func(), ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == StatusDestroyed {
		return nil, false
	}
	if h.status == StatusCreating {
		h.err = teardownErr
		close(h.done)
	}
	h.status = StatusDestroyed
	listeners = h.listeners
	h.listeners = nil
	return listeners, true
}

// Status returns the current lifecycle state.
func (h *holder) Status() HolderStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// value returns the instance if and only if the holder is Created.
func (h *holder) value() (any, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == StatusCreated {
		return h.instance, true
	}
	return nil, false
}

// rawInstance returns the stored instance regardless of status. Used for
// reverse-index bookkeeping during teardown.
func (h *holder) rawInstance() any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.instance
}

// waitReady blocks until the holder leaves Creating and returns the final
// (instance, error) pair. It never panics, so any number of concurrent
// callers can share one construction's outcome.
func (h *holder) waitReady(ctx context.Context) (any, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	return h.instance, nil
}

// addDep records that this holder consumed the given dependency.
func (h *holder) addDep(dep *holder) {
	h.mu.Lock()
	h.depHolders = append(h.depHolders, dep)
	h.mu.Unlock()
}

// dependencies returns a snapshot of the dependency holders this holder
// recorded edges onto.
func (h *holder) dependencies() []*holder {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*holder, len(h.depHolders))
	copy(out, h.depHolders)
	return out
}

// onDestroy registers a listener invoked when the holder is destroyed. If the
// holder is already destroyed the listener is returned to the caller to run
// immediately.
func (h *holder) onDestroy(fn func()) (immediate bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == StatusDestroyed {
		return true
	}
	h.listeners = append(h.listeners, fn)
	return false
}
