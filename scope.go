package di

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// ScopedContainer is one request's resolution context, layered on top of the
// root Container. Request-scoped holders live in the scope's own storage;
// every other scope delegates to the parent, with the scope threaded through
// so nested injections made by singletons and transients still resolve
// request-scoped dependencies against the correct request.
type ScopedContainer struct {
	parent    *Container
	requestID string
	metadata  map[string]any
	storage   *holderStorage
	disposed  atomic.Bool
}

// RequestID returns the id the scope was opened with.
func (sc *ScopedContainer) RequestID() string {
	return sc.requestID
}

// Metadata returns the metadata value stored under key at BeginRequest, or
// nil.
func (sc *ScopedContainer) Metadata(key string) any {
	return sc.metadata[key]
}

// Get resolves a token within this request. Request-scoped registrations are
// cached in the scope's own storage, isolated from every other request;
// anything else delegates to the parent container.
func (sc *ScopedContainer) Get(ctx context.Context, token Injectable, args ...any) (any, error) {
	if sc.disposed.Load() {
		return nil, &ScopeDisposedError{RequestID: sc.requestID}
	}
	resolved, err := token.resolveArgs(args)
	if err != nil {
		return nil, err
	}
	value, _, err := sc.resolveRegistered(ctx, token, resolved, nil)
	return value, err
}

// ResolveScoped is the typed convenience wrapper around ScopedContainer.Get.
func ResolveScoped[T any](ctx context.Context, sc *ScopedContainer, token Injectable, args ...any) (T, error) {
	var zero T
	instance, err := sc.Get(ctx, token, args...)
	if err != nil {
		return zero, err
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, &TypeMismatchError{
			Expected: fmt.Sprintf("%T", zero),
			Got:      fmt.Sprintf("%T", instance),
		}
	}
	return typed, nil
}

// resolveRegistered implements resolver. args are already folded and
// validated.
func (sc *ScopedContainer) resolveRegistered(ctx context.Context, token Injectable, args []any, chain []string) (any, *holder, error) {
	if sc.disposed.Load() {
		return nil, nil, &ScopeDisposedError{RequestID: sc.requestID}
	}
	reg, err := sc.parent.registry.Get(token)
	if err != nil {
		return nil, nil, err
	}
	if reg.Scope != ScopeRequest {
		return sc.parent.resolveWith(ctx, sc, token, args, chain)
	}

	base := token.Base()
	name := instanceName(base, args)
	if chainContains(chain, name) {
		return nil, nil, &CircularDependencyError{Chain: append(append([]string{}, chain...), name)}
	}
	h, created := sc.storage.getOrCreate(name, base, ScopeRequest)
	if !created {
		value, err := h.waitReady(ctx)
		return value, h, err
	}
	value, err := sc.parent.buildInstance(ctx, sc, reg, h, args, chain)
	return value, h, err
}

// lookupCreated implements resolver: the scope's own tier first, then the
// parent's.
func (sc *ScopedContainer) lookupCreated(name string) (*holder, bool) {
	if h, ok := sc.storage.get(name); ok && h.Status() == StatusCreated {
		return h, true
	}
	return sc.parent.lookupCreated(name)
}

// TryGetSync returns the cached instance for token+args if it is already
// Created in this scope or in the parent. It never constructs.
func (sc *ScopedContainer) TryGetSync(token Injectable, args ...any) (any, bool) {
	if sc.disposed.Load() {
		return nil, false
	}
	resolved, err := token.resolveArgs(args)
	if err != nil {
		return nil, false
	}
	if h, ok := sc.lookupCreated(instanceName(token.Base(), resolved)); ok {
		return h.value()
	}
	return nil, false
}

// Invalidate destroys a holder owned by this scope (or, for targets living
// in the parent tier, delegates upward) and cascades.
func (sc *ScopedContainer) Invalidate(ctx context.Context, instanceOrName any) error {
	if sc.disposed.Load() {
		return &ScopeDisposedError{RequestID: sc.requestID}
	}
	return sc.parent.Invalidate(ctx, instanceOrName)
}

// EndRequest tears the scope down: every request-scoped holder it owns is
// invalidated, cascades included, before the scope is marked disposed and
// removed from the parent's active-request registry. Ending an already ended
// scope fails with ScopeDisposedError.
func (sc *ScopedContainer) EndRequest(ctx context.Context) error {
	if !sc.disposed.CompareAndSwap(false, true) {
		return &ScopeDisposedError{RequestID: sc.requestID}
	}

	var errs []error
	for _, h := range sc.storage.all() {
		if err := sc.parent.cascade(ctx, h); err != nil {
			errs = append(errs, err)
		}
	}
	sc.parent.dropScope(sc.requestID)
	_ = sc.parent.bus.Emit(Event{Topic: TopicScopeEnded, Instance: sc.requestID, Scope: ScopeRequest})
	sc.parent.logger.Debug().Str("request_id", sc.requestID).Msg("request scope ended")
	return errors.Join(errs...)
}

// Disposed reports whether EndRequest has run.
func (sc *ScopedContainer) Disposed() bool {
	return sc.disposed.Load()
}
