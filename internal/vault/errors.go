package vault

import (
	"errors"
	"fmt"
)

// NotFoundError signals absence in a state query. Expected control flow for
// the reconciler, never surfaced as a per-name failure.
type NotFoundError struct {
	Backend string
	Name    string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s: secret '%s' not found", e.Backend, e.Name)
}

// AuthError signals that no valid vault session could be established. This is
// the only error class that aborts an entire reconcile run.
type AuthError struct {
	Backend string
	Err     error
}

func (e AuthError) Error() string {
	return fmt.Sprintf("%s: authorization failed: %v", e.Backend, e.Err)
}

func (e AuthError) Unwrap() error {
	return e.Err
}

// ConflictError signals that an operation was refused because of the secret's
// current lifecycle state, typically a create attempted while a soft-deleted
// remnant still occupies the name.
type ConflictError struct {
	Backend string
	Name    string
	Err     error
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s: conflict on secret '%s': %v", e.Backend, e.Name, e.Err)
}

func (e ConflictError) Unwrap() error {
	return e.Err
}

// ServiceError wraps any other backend failure for a single operation.
type ServiceError struct {
	Backend string
	Op      string
	Name    string
	Err     error
}

func (e ServiceError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s: %s failed for secret '%s': %v", e.Backend, e.Op, e.Name, e.Err)
	}
	return fmt.Sprintf("%s: %s failed: %v", e.Backend, e.Op, e.Err)
}

func (e ServiceError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	var ae AuthError
	return errors.As(err, &ae)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce ConflictError
	return errors.As(err, &ce)
}
