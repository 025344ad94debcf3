package di

import "context"

// Scope defines the lifetime and sharing behavior of a registration.
type Scope string

// Available scopes.
const (
	// ScopeSingleton shares a single instance per token+args across the process.
	ScopeSingleton Scope = "singleton"
	// ScopeTransient constructs a new instance on every resolution.
	ScopeTransient Scope = "transient"
	// ScopeRequest shares an instance within one ScopedContainer.
	ScopeRequest Scope = "request"
	// ScopeInstance holds a pre-built value registered through AddInstance.
	ScopeInstance Scope = "instance"
)

// FactoryFunc constructs an instance for a registration. The factory body
// runs twice per construction (recording pass and frozen replay pass) and
// must be side-effect free apart from assignments; see the package
// documentation.
type FactoryFunc func(cc *ConstructionContext) (any, error)

// Shutdowner is implemented by instances that hold resources needing cleanup.
// Shutdown is called when the owning holder is invalidated, before destroy
// listeners run.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Injectable is the resolution identity accepted by Get, Inject and friends:
// a *Token, or a *BoundToken/*FactoryToken wrapping one.
type Injectable interface {
	// Base returns the underlying token carrying id, name and schema.
	Base() *Token

	// resolveArgs folds the caller-supplied arguments with any argument the
	// token itself carries (bound value or factory product).
	resolveArgs(callerArgs []any) ([]any, error)
}
