package di

import (
	"fmt"
	"strings"
)

// NotRegisteredError represents a token with no active registration.
type NotRegisteredError struct {
	Token string
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("no registration found for token: %s", e.Token)
}

// NotRequestScopedError represents a request-scoped token resolved on the
// root container instead of a ScopedContainer.
type NotRequestScopedError struct {
	Token string
}

func (e *NotRequestScopedError) Error() string {
	return fmt.Sprintf("token %s is request-scoped and must be resolved through a ScopedContainer", e.Token)
}

// ValidationError represents resolution arguments that failed the token's
// argument schema. Construction is never attempted.
type ValidationError struct {
	Token string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("argument validation failed for token %s: %v", e.Token, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ProtocolViolationError represents a frozen-replay pass whose injection
// sequence diverged from the recording pass.
type ProtocolViolationError struct {
	Instance string
	Detail   string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("construction protocol violation in %s: %s", e.Instance, e.Detail)
}

// ScopeDisposedError represents an operation on a ScopedContainer whose
// request has already ended.
type ScopeDisposedError struct {
	RequestID string
}

func (e *ScopeDisposedError) Error() string {
	return fmt.Sprintf("scope for request %s is disposed", e.RequestID)
}

// ConstructionFailedError wraps a constructor or initializer failure. Chain
// holds the instance names from the root resolution down to the failure.
type ConstructionFailedError struct {
	Instance string
	Chain    []string
	Err      error
}

func (e *ConstructionFailedError) Error() string {
	if len(e.Chain) > 0 {
		return fmt.Sprintf("construction of %s failed (chain: %s): %v",
			e.Instance, strings.Join(e.Chain, " -> "), e.Err)
	}
	return fmt.Sprintf("construction of %s failed: %v", e.Instance, e.Err)
}

func (e *ConstructionFailedError) Unwrap() error {
	return e.Err
}

// CircularDependencyError represents a synchronous dependency cycle detected
// during resolution.
type CircularDependencyError struct {
	Chain []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Chain, " -> "))
}

// CascadeNotConvergedError represents an invalidation cascade that did not
// settle within its round budget.
type CascadeNotConvergedError struct {
	Instance string
	Rounds   int
}

func (e *CascadeNotConvergedError) Error() string {
	return fmt.Sprintf("invalidation cascade for %s did not converge within %d rounds", e.Instance, e.Rounds)
}

// NilServiceError represents an attempt to register a nil instance.
type NilServiceError struct {
	Token string
}

func (e *NilServiceError) Error() string {
	return fmt.Sprintf("nil instance provided for token: %s", e.Token)
}

// TypeMismatchError represents an instance that does not satisfy the type
// the caller asked for.
type TypeMismatchError struct {
	Expected string
	Got      string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch: expected %s, got %s", e.Expected, e.Got)
}

// UnknownInstanceError represents an invalidation target that maps to no
// known holder.
type UnknownInstanceError struct {
	Target string
}

func (e *UnknownInstanceError) Error() string {
	return fmt.Sprintf("no holder found for instance: %s", e.Target)
}
