package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Container is the root resolution engine. It owns the process-wide holder
// tier (singleton, transient and instance scopes), the dependency edge index
// driving invalidation cascades, and the registry of active request scopes.
type Container struct {
	registry      *Registry
	logger        zerolog.Logger
	bus           *Bus
	ownsBus       bool
	cascadeRounds int

	storage      *holderStorage
	transientSeq atomic.Uint64

	mu     sync.Mutex
	edges  map[*holder][]*holder
	scopes map[string]*ScopedContainer
	closed bool
}

// New creates a container resolving against the given registry. The registry
// is an explicit dependency: tests typically layer a private registry over
// the application's defaults and hand it to a private container.
func New(registry *Registry, opts ...Option) *Container {
	if registry == nil {
		registry = NewRegistry(nil)
	}
	c := &Container{
		registry:      registry,
		logger:        zerolog.Nop(),
		bus:           NewBus(),
		ownsBus:       true,
		cascadeRounds: defaultCascadeRounds,
		storage:       newHolderStorage(),
		edges:         make(map[*holder][]*holder),
		scopes:        make(map[string]*ScopedContainer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the registry this container resolves against.
func (c *Container) Registry() *Registry {
	return c.registry
}

// Bus returns the container's event bus.
func (c *Container) Bus() *Bus {
	return c.bus
}

// RegisterAbstractFactory registers a factory for a token. This is the
// registration surface consumed by framework glue at definition time.
func (c *Container) RegisterAbstractFactory(token Injectable, factory FactoryFunc, scope Scope, priority int) *Registration {
	return c.registry.Set(token, scope, factory, priority)
}

// AddInstance registers a pre-built value under instance scope and makes it
// immediately resolvable. The value is re-used if the holder is invalidated
// and the token resolved again. Re-adding a value for a live token
// invalidates the previous instance first, cascade included.
func (c *Container) AddInstance(token Injectable, value any) error {
	base := token.Base()
	if value == nil {
		return &NilServiceError{Token: base.name}
	}
	// A later AddInstance wins over every earlier registration at the token,
	// whatever priority it was registered with.
	priority := 0
	if all := c.registry.GetAll(token); len(all) > 0 {
		priority = all[0].Priority + 1
	}
	c.registry.Set(token, ScopeInstance, func(*ConstructionContext) (any, error) {
		return value, nil
	}, priority)

	name := instanceName(base, nil)
	if existing, ok := c.storage.get(name); ok && existing.Status() == StatusCreated {
		_ = c.cascade(context.Background(), existing)
	}
	h, created := c.storage.getOrCreate(name, base, ScopeInstance)
	if created {
		h.complete(value)
		c.storage.index(h, value)
		_ = c.bus.Emit(Event{Topic: TopicCreated, Instance: name, Scope: ScopeInstance, Value: value})
	}
	return nil
}

// Get resolves the active instance for a token. Singleton and instance
// scopes share one instance per token+args; transient scope constructs a new
// one per call; request-scoped tokens must be resolved through a
// ScopedContainer and fail here with NotRequestScopedError.
func (c *Container) Get(ctx context.Context, token Injectable, args ...any) (any, error) {
	resolved, err := token.resolveArgs(args)
	if err != nil {
		return nil, err
	}
	value, _, err := c.resolveWith(ctx, nil, token, resolved, nil)
	return value, err
}

// Resolve is the typed convenience wrapper around Container.Get.
func Resolve[T any](ctx context.Context, c *Container, token Injectable, args ...any) (T, error) {
	var zero T
	instance, err := c.Get(ctx, token, args...)
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

// TryGetSync returns the cached instance for token+args if its holder is
// already Created. It never constructs and never blocks.
func (c *Container) TryGetSync(token Injectable, args ...any) (any, bool) {
	resolved, err := token.resolveArgs(args)
	if err != nil {
		return nil, false
	}
	if h, ok := c.lookupCreated(instanceName(token.Base(), resolved)); ok {
		return h.value()
	}
	return nil, false
}

// lookupCreated implements resolver against the root tier.
func (c *Container) lookupCreated(name string) (*holder, bool) {
	h, ok := c.storage.get(name)
	if !ok || h.Status() != StatusCreated {
		return nil, false
	}
	return h, true
}

// resolveRegistered implements resolver for root-level constructions. args
// are already folded and validated.
func (c *Container) resolveRegistered(ctx context.Context, token Injectable, args []any, chain []string) (any, *holder, error) {
	return c.resolveWith(ctx, nil, token, args, chain)
}

// resolveWith is the root resolution algorithm. scope, when non-nil, is
// threaded into constructions so nested injections made by singletons and
// transients still observe the current request.
func (c *Container) resolveWith(ctx context.Context, scope *ScopedContainer, token Injectable, args []any, chain []string) (any, *holder, error) {
	base := token.Base()
	reg, err := c.registry.Get(token)
	if err != nil {
		return nil, nil, err
	}

	switch reg.Scope {
	case ScopeRequest:
		return nil, nil, &NotRequestScopedError{Token: base.name}
	case ScopeTransient:
		return c.resolveTransient(ctx, scope, reg, base, args, chain)
	default:
		return c.resolveShared(ctx, scope, reg, base, args, chain)
	}
}

// resolveShared handles singleton and instance scope: one holder per
// token+args, concurrent callers collapsing onto one construction.
func (c *Container) resolveShared(ctx context.Context, scope *ScopedContainer, reg *Registration, base *Token, args []any, chain []string) (any, *holder, error) {
	name := instanceName(base, args)
	if chainContains(chain, name) {
		return nil, nil, &CircularDependencyError{Chain: append(append([]string{}, chain...), name)}
	}

	h, created := c.storage.getOrCreate(name, base, reg.Scope)
	if !created {
		value, err := h.waitReady(ctx)
		return value, h, err
	}
	value, err := c.buildInstance(ctx, scope, reg, h, args, chain)
	return value, h, err
}

// resolveTransient always allocates a fresh holder; the name gets a unique
// suffix so the holder can still participate in invalidation and edges.
func (c *Container) resolveTransient(ctx context.Context, scope *ScopedContainer, reg *Registration, base *Token, args []any, chain []string) (any, *holder, error) {
	dedupName := instanceName(base, args)
	if chainContains(chain, dedupName) {
		return nil, nil, &CircularDependencyError{Chain: append(append([]string{}, chain...), dedupName)}
	}

	name := fmt.Sprintf("%s#%d", dedupName, c.transientSeq.Add(1))
	h := newHolder(name, base, ScopeTransient)
	c.storage.put(h)
	value, err := c.buildInstance(ctx, scope, reg, h, args, chain)
	return value, h, err
}

// buildInstance runs the two-pass construction protocol against a freshly
// allocated Creating holder and settles it.
func (c *Container) buildInstance(ctx context.Context, scope *ScopedContainer, reg *Registration, h *holder, args []any, chain []string) (any, error) {
	cc := &ConstructionContext{
		ctx:       ctx,
		container: c,
		scope:     scope,
		holder:    h,
		args:      args,
		chain:     append(append([]string{}, chain...), h.name),
		phase:     phaseRecording,
	}
	c.logger.Debug().Str("instance", h.name).Str("scope", string(h.scope)).Msg("construction started")

	// Recording pass: every injection call registers a request and kicks off
	// its resolution.
	if _, err := runFactory(reg.Factory, cc); err != nil {
		return nil, c.failBuild(h, cc, err)
	}

	// Await every synchronous request. Async requests are deliberately not
	// awaited here; their handles settle on their own.
	for _, req := range cc.requests {
		if req.kind == kindAsync || req.satisfied {
			continue
		}
		<-req.done
	}

	// Frozen replay: the factory runs again, with each injection call
	// returning the resolved value in recorded order.
	cc.phase = phaseReplay
	cc.cursor = 0
	instance, err := runFactory(reg.Factory, cc)
	if err == nil && cc.cursor != len(cc.requests) {
		err = &ProtocolViolationError{
			Instance: h.name,
			Detail: fmt.Sprintf("replay pass made %d of %d recorded injection calls",
				cc.cursor, len(cc.requests)),
		}
	}
	if err != nil {
		return nil, c.failBuild(h, cc, err)
	}

	h.complete(instance)
	h.owner.index(h, instance)
	_ = c.bus.Emit(Event{Topic: TopicCreated, Instance: h.name, Scope: h.scope, Value: instance})
	c.logger.Debug().Str("instance", h.name).Msg("construction completed")
	return instance, nil
}

// failBuild settles a holder with the wrapped failure. The holder stays in
// storage so every current waiter observes the same error; the next
// resolution for the name allocates a fresh holder.
func (c *Container) failBuild(h *holder, cc *ConstructionContext, err error) error {
	var pv *ProtocolViolationError
	if !errors.As(err, &pv) {
		err = &ConstructionFailedError{Instance: h.name, Chain: cc.chain, Err: err}
	}
	h.fail(err)
	c.logger.Debug().Str("instance", h.name).Err(err).Msg("construction failed")
	return err
}

// runFactory executes one factory pass, converting protocol panics and user
// panics into errors.
func runFactory(factory FactoryFunc, cc *ConstructionContext) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case replayFailure:
				err = v.err
			case protocolViolation:
				err = &ProtocolViolationError{Instance: cc.holder.name, Detail: v.detail}
			default:
				err = fmt.Errorf("factory panic: %v", r)
			}
		}
	}()
	return factory(cc)
}

// recordEdge indexes a dependency edge for cascade lookups.
func (c *Container) recordEdge(dep *holder, dependent *holder) {
	c.mu.Lock()
	c.edges[dep] = append(c.edges[dep], dependent)
	c.mu.Unlock()
}

// takeDependents removes and returns the holders that recorded an edge onto
// the given one.
func (c *Container) takeDependents(dep *holder) []*holder {
	c.mu.Lock()
	defer c.mu.Unlock()
	dependents := c.edges[dep]
	delete(c.edges, dep)
	return dependents
}

// Invalidate destroys the holder identified by an instance object or an
// instance name and cascades the invalidation to every holder that recorded
// a dependency edge onto it. A string argument is tried as an instance name
// before falling back to identity lookup.
func (c *Container) Invalidate(ctx context.Context, instanceOrName any) error {
	h, ok := c.lookupTarget(instanceOrName)
	if !ok {
		return &UnknownInstanceError{Target: fmt.Sprintf("%v", instanceOrName)}
	}
	return c.cascade(ctx, h)
}

// lookupTarget finds a holder by name or by instance identity, searching the
// root tier first and then every active request scope.
func (c *Container) lookupTarget(instanceOrName any) (*holder, bool) {
	tiers := []*holderStorage{c.storage}
	c.mu.Lock()
	for _, sc := range c.scopes {
		tiers = append(tiers, sc.storage)
	}
	c.mu.Unlock()

	// A string is tried as an instance name first; when no holder carries
	// that name it is treated as an instance value like anything else, so
	// string-valued instances stay invalidatable by identity.
	if name, ok := instanceOrName.(string); ok {
		for _, tier := range tiers {
			if h, found := tier.get(name); found {
				return h, true
			}
		}
	}
	for _, tier := range tiers {
		if h, found := tier.lookupInstance(instanceOrName); found {
			return h, true
		}
	}
	return nil, false
}

// cascade destroys a holder and everything depending on it, round by round,
// within the configured round budget.
func (c *Container) cascade(ctx context.Context, root *holder) error {
	seen := make(map[*holder]struct{})
	queue := []*holder{root}

	for round := 0; round < c.cascadeRounds; round++ {
		if len(queue) == 0 {
			return nil
		}
		var next []*holder
		for _, h := range queue {
			if _, done := seen[h]; done {
				continue
			}
			seen[h] = struct{}{}
			c.destroyHolder(ctx, h)
			for _, dep := range c.takeDependents(h) {
				if _, done := seen[dep]; !done {
					next = append(next, dep)
				}
			}
		}
		c.logger.Debug().Str("instance", root.name).Int("round", round+1).
			Int("pending", len(next)).Msg("invalidation cascade round")
		queue = next
	}
	if len(queue) > 0 {
		return &CascadeNotConvergedError{Instance: root.name, Rounds: c.cascadeRounds}
	}
	return nil
}

// destroyHolder tears one holder down: shutdown hook, destroy listeners,
// storage removal, destroyed event.
func (c *Container) destroyHolder(ctx context.Context, h *holder) {
	instance := h.rawInstance()
	listeners, ok := h.destroy(&ConstructionFailedError{
		Instance: h.name,
		Err:      errors.New("invalidated during construction"),
	})
	if !ok {
		return
	}

	if sd, isShutdowner := instance.(Shutdowner); isShutdowner {
		if err := sd.Shutdown(ctx); err != nil {
			c.logger.Warn().Str("instance", h.name).Err(err).Msg("shutdown hook failed")
		}
	}
	for _, fn := range listeners {
		fn()
	}

	// Drop the edges this holder recorded onto its own dependencies.
	c.mu.Lock()
	for _, dep := range h.dependencies() {
		filtered := c.edges[dep][:0]
		for _, d := range c.edges[dep] {
			if d != h {
				filtered = append(filtered, d)
			}
		}
		if len(filtered) == 0 {
			delete(c.edges, dep)
		} else {
			c.edges[dep] = filtered
		}
	}
	c.mu.Unlock()

	if h.owner != nil {
		h.owner.remove(h)
	}
	_ = c.bus.Emit(Event{Topic: TopicDestroyed, Instance: h.name, Scope: h.scope, Value: instance})
	c.logger.Debug().Str("instance", h.name).Msg("holder destroyed")
}

// BeginRequest opens a request-isolated resolution scope. An empty requestID
// gets a generated one; calling BeginRequest for an id that is already
// active returns the existing scope.
func (c *Container) BeginRequest(requestID string, metadata ...map[string]any) *ScopedContainer {
	if requestID == "" {
		requestID = uuid.NewString()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.scopes[requestID]; ok {
		return existing
	}

	merged := make(map[string]any)
	for _, m := range metadata {
		for k, v := range m {
			merged[k] = v
		}
	}
	sc := &ScopedContainer{
		parent:    c,
		requestID: requestID,
		metadata:  merged,
		storage:   newHolderStorage(),
	}
	c.scopes[requestID] = sc
	c.logger.Debug().Str("request_id", requestID).Msg("request scope opened")
	return sc
}

// dropScope removes an ended scope from the active-request registry.
func (c *Container) dropScope(requestID string) {
	c.mu.Lock()
	delete(c.scopes, requestID)
	c.mu.Unlock()
}

// HolderInfo describes one live holder for diagnostics.
type HolderInfo struct {
	Instance string
	Scope    Scope
	Status   HolderStatus
}

// Snapshot lists every holder in the root tier and in each active request
// scope.
func (c *Container) Snapshot() []HolderInfo {
	var out []HolderInfo
	for _, h := range c.storage.all() {
		out = append(out, HolderInfo{Instance: h.name, Scope: h.scope, Status: h.Status()})
	}
	c.mu.Lock()
	scopes := make([]*ScopedContainer, 0, len(c.scopes))
	for _, sc := range c.scopes {
		scopes = append(scopes, sc)
	}
	c.mu.Unlock()
	for _, sc := range scopes {
		for _, h := range sc.storage.all() {
			out = append(out, HolderInfo{Instance: h.name, Scope: h.scope, Status: h.Status()})
		}
	}
	return out
}

// Close ends every active request scope, tears down every root holder and
// closes the event bus if the container owns it.
func (c *Container) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	scopes := make([]*ScopedContainer, 0, len(c.scopes))
	for _, sc := range c.scopes {
		scopes = append(scopes, sc)
	}
	c.mu.Unlock()

	var errs []error
	for _, sc := range scopes {
		if err := sc.EndRequest(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, h := range c.storage.all() {
		if err := c.cascade(ctx, h); err != nil {
			errs = append(errs, err)
		}
	}
	if c.ownsBus {
		c.bus.Close()
	}
	c.logger.Debug().Msg("container closed")
	return errors.Join(errs...)
}

// chainContains reports whether the resolution chain already carries the
// dedup name, ignoring the unique suffix on transient holder names.
func chainContains(chain []string, dedupName string) bool {
	for _, entry := range chain {
		if entry == dedupName {
			return true
		}
		if i := strings.IndexByte(entry, '#'); i >= 0 && entry[:i] == dedupName {
			return true
		}
	}
	return false
}
