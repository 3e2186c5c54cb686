package memory

import (
	"errors"
	"fmt"
)

// Predefined errors forming the engine's failure taxonomy.
var (
	// ErrNotFound indicates that a memory, job, pool, or request is absent.
	ErrNotFound = errors.New("record not found")

	// ErrUnauthorized indicates that an agent's profile does not permit the
	// attempted operation (missing type in needs, access level above the
	// profile's lattice position, or missing role).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidState indicates an operation against a record in the wrong
	// lifecycle state, e.g. deciding an already-decided access request or
	// running a non-pending consolidation job.
	ErrInvalidState = errors.New("invalid state")

	// ErrExternalService indicates an external dependency failure, e.g. the
	// embedding provider being unreachable. Components that can fall back
	// absorb this error instead of surfacing it.
	ErrExternalService = errors.New("external service failure")

	// ErrValidation indicates malformed input at a boundary.
	ErrValidation = errors.New("validation failed")
)

// EngineError wraps errors with operation context.
//
// Example:
//
//	err := NewEngineError("ShareMemory", ErrUnauthorized)
//	// Error() returns: "memoria: ShareMemory: unauthorized"
type EngineError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message in the form "memoria: <Op>: <Err>".
func (e *EngineError) Error() string {
	return fmt.Sprintf("memoria: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error so errors.Is and errors.As work
// through EngineError.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError creates a new EngineError wrapping err. Returns nil when
// err is nil, which allows unconditional wrapping at return sites.
func NewEngineError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &EngineError{Op: op, Err: err}
}
