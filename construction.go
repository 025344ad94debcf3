package di

import (
	"context"
	"fmt"
)

type constructionPhase int

const (
	phaseRecording constructionPhase = iota
	phaseReplay
)

type requestKind int

const (
	kindSync requestKind = iota
	kindAsync
	kindOptional
)

// injectionRequest is one recorded Inject/AsyncInject/Optional call. The
// recording pass appends requests in call order; the replay pass consumes
// them with a cursor and verifies the sequence matches.
type injectionRequest struct {
	kind  requestKind
	token *Token
	// name is the dedup name of the requested instance, used for sequence
	// matching between passes.
	name   string
	args   []any
	done   chan struct{}
	value  any
	err    error
	handle any
	// satisfied marks a request settled during the recording pass itself:
	// a synchronous cache hit or a captured argument failure.
	satisfied bool
}

// replayFailure carries a captured dependency error to the construction
// runner. Raised at the exact call site that depended on the failure.
type replayFailure struct {
	err error
}

// protocolViolation aborts a replay whose call sequence diverged from the
// recording pass.
type protocolViolation struct {
	detail string
}

// resolver abstracts what a construction resolves against: the root
// Container, or the ScopedContainer passed through so nested injections see
// the current request.
type resolver interface {
	// lookupCreated returns the holder for a dedup name if it is already
	// Created in this resolution context.
	lookupCreated(name string) (*holder, bool)

	// resolveRegistered resolves a token whose arguments are already folded
	// and validated, returning the settled holder alongside the value.
	resolveRegistered(ctx context.Context, token Injectable, args []any, chain []string) (any, *holder, error)
}

// ConstructionContext is the per-construction state both factory passes run
// against. Factories receive it as their only parameter and must route every
// dependency access through Inject, AsyncInject or Optional.
type ConstructionContext struct {
	ctx       context.Context
	container *Container
	scope     *ScopedContainer
	holder    *holder
	args      []any
	chain     []string

	phase    constructionPhase
	requests []*injectionRequest
	cursor   int
}

// Args returns the folded, validated resolution arguments for the instance
// under construction: the caller-supplied arguments, or the token's bound or
// factory-produced argument.
func (cc *ConstructionContext) Args() []any {
	return cc.args
}

// Arg returns the construction argument at index i typed as T, or the zero T
// when the argument is absent or of a different type.
func Arg[T any](cc *ConstructionContext, i int) T {
	var zero T
	if i < 0 || i >= len(cc.args) {
		return zero
	}
	typed, ok := cc.args[i].(T)
	if !ok {
		return zero
	}
	return typed
}

func (cc *ConstructionContext) resolver() resolver {
	if cc.scope != nil {
		return cc.scope
	}
	return cc.container
}

// Context returns the resolution context the construction runs under.
func (cc *ConstructionContext) Context() context.Context {
	return cc.ctx
}

// Request returns the ScopedContainer this construction is resolving within,
// or nil when resolving at the root.
func (cc *ConstructionContext) Request() *ScopedContainer {
	return cc.scope
}

// InstanceName returns the name of the instance under construction.
func (cc *ConstructionContext) InstanceName() string {
	return cc.holder.name
}

// OnDestroy registers a cleanup listener on the instance under construction.
// Listeners run when the instance is invalidated. Registrations made during
// the recording pass are ignored so the listener is attached exactly once.
func (cc *ConstructionContext) OnDestroy(fn func()) {
	if cc.phase != phaseReplay {
		return
	}
	if cc.holder.onDestroy(fn) {
		fn()
	}
}

// Inject resolves a dependency synchronously. During the recording pass it
// registers the request, starts resolution and returns the zero T as a
// pending placeholder (assign it, never dereference it); when the
// dependency's holder is already Created in scope the real value is returned
// immediately instead. During the replay pass it returns the resolved value,
// or raises the dependency's captured failure at this call site.
func Inject[T any](cc *ConstructionContext, token Injectable, args ...any) T {
	req := cc.request(kindSync, token, args)
	return requestValue[T](req)
}

// Optional behaves like Inject but converts any dependency failure into the
// zero T instead of failing the construction.
func Optional[T any](cc *ConstructionContext, token Injectable, args ...any) T {
	req := cc.request(kindOptional, token, args)
	if req.err != nil {
		var zero T
		return zero
	}
	return requestValue[T](req)
}

// AsyncInject starts resolving a dependency without blocking construction on
// it. The returned handle settles once the dependency is ready and may only
// be awaited after construction completes. Async resolution bypasses cycle
// tracking, which is what breaks deadlocks in circular graphs: the caller
// cannot use the value before the handle settles.
func AsyncInject[T any](cc *ConstructionContext, token Injectable, args ...any) *Async[T] {
	req := cc.request(kindAsync, token, args)
	if req.handle == nil {
		req.handle = &Async[T]{req: req}
	}
	handle, ok := req.handle.(*Async[T])
	if !ok {
		panic(protocolViolation{detail: fmt.Sprintf("async handle type changed between passes for %s", req.name)})
	}
	return handle
}

// requestValue extracts the value for a settled synchronous request.
func requestValue[T any](req *injectionRequest) T {
	var zero T
	if req.value == nil {
		return zero
	}
	typed, ok := req.value.(T)
	if !ok {
		panic(replayFailure{err: &TypeMismatchError{
			Expected: fmt.Sprintf("%T", zero),
			Got:      fmt.Sprintf("%T", req.value),
		}})
	}
	return typed
}

// request records (pass 1) or replays (pass 2) one injection call.
func (cc *ConstructionContext) request(kind requestKind, token Injectable, args []any) *injectionRequest {
	switch cc.phase {
	case phaseRecording:
		return cc.record(kind, token, args)
	case phaseReplay:
		return cc.replay(kind, token, args)
	default:
		panic(protocolViolation{detail: "injection outside a construction pass"})
	}
}

func (cc *ConstructionContext) record(kind requestKind, token Injectable, args []any) *injectionRequest {
	base := token.Base()
	req := &injectionRequest{
		kind:  kind,
		token: base,
		done:  make(chan struct{}),
	}
	cc.requests = append(cc.requests, req)

	resolved, err := token.resolveArgs(args)
	if err != nil {
		// Captured now, surfaced at this call site on replay.
		req.name = base.name
		req.err = err
		req.satisfied = true
		close(req.done)
		if kind == kindAsync {
			return req
		}
		return pendingView(req)
	}
	req.args = resolved
	req.name = instanceName(base, resolved)

	// Synchronous short-circuit: an already-warm holder in this scope skips
	// the two-phase wait for this request entirely.
	if kind != kindAsync {
		if dh, ok := cc.resolver().lookupCreated(req.name); ok {
			if value, ready := dh.value(); ready {
				req.value = value
				req.satisfied = true
				close(req.done)
				cc.recordEdge(dh)
				return req
			}
		}
	}

	chain := cc.chain
	if kind == kindAsync {
		// No cycle tracking for async requests.
		chain = nil
	}
	go func() {
		value, dh, err := cc.resolver().resolveRegistered(cc.ctx, token, req.args, chain)
		req.value, req.err = value, err
		if err == nil && dh != nil {
			cc.recordEdge(dh)
		}
		close(req.done)
	}()
	if kind == kindAsync {
		// The async handle wraps the live request; awaiting it before the
		// construction completes simply blocks until the dependency settles.
		return req
	}
	return pendingView(req)
}

// recordEdge registers the dependency edge from the instance under
// construction onto one of its resolved dependencies.
func (cc *ConstructionContext) recordEdge(dep *holder) {
	cc.holder.addDep(dep)
	cc.container.recordEdge(dep, cc.holder)
}

// pendingView hides the eventual value from the recording pass so the
// factory only ever assigns the zero placeholder on pass one.
func pendingView(req *injectionRequest) *injectionRequest {
	return &injectionRequest{
		kind:  req.kind,
		token: req.token,
		name:  req.name,
	}
}

func (cc *ConstructionContext) replay(kind requestKind, token Injectable, args []any) *injectionRequest {
	if cc.cursor >= len(cc.requests) {
		panic(protocolViolation{detail: fmt.Sprintf(
			"replay pass made more injection calls than recorded (%d)", len(cc.requests))})
	}
	req := cc.requests[cc.cursor]
	cc.cursor++

	base := token.Base()
	if req.token.id != base.id {
		panic(protocolViolation{detail: fmt.Sprintf(
			"replay call %d requested token %s, recorded %s", cc.cursor, base.name, req.token.name)})
	}
	if req.kind != kind {
		panic(protocolViolation{detail: fmt.Sprintf(
			"replay call %d changed injection kind for token %s", cc.cursor, base.name)})
	}
	if req.args != nil {
		resolved, err := token.resolveArgs(args)
		if err == nil && instanceName(base, resolved) != req.name {
			panic(protocolViolation{detail: fmt.Sprintf(
				"replay call %d changed arguments for token %s", cc.cursor, base.name)})
		}
	}

	if req.kind == kindSync && req.err != nil {
		panic(replayFailure{err: req.err})
	}
	return req
}

// Async is an awaitable handle to a dependency resolved via AsyncInject.
type Async[T any] struct {
	req *injectionRequest
}

// Await blocks until the dependency settles and returns its value or the
// construction failure.
func (a *Async[T]) Await(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-a.req.done:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	if a.req.err != nil {
		return zero, a.req.err
	}
	typed, ok := a.req.value.(T)
	if !ok {
		return zero, &TypeMismatchError{
			Expected: fmt.Sprintf("%T", zero),
			Got:      fmt.Sprintf("%T", a.req.value),
		}
	}
	return typed, nil
}

// Ready reports whether the handle has settled.
func (a *Async[T]) Ready() bool {
	select {
	case <-a.req.done:
		return true
	default:
		return false
	}
}
