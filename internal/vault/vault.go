// Package vault abstracts managed secret stores that enforce soft-delete
// semantics. A secret name is always in exactly one of three states: absent,
// active, or soft-deleted. Implementations never cache state; every call is a
// fresh round-trip so callers can rely on check-act pairs.
package vault

import (
	"context"
	"time"
)

// Client is the narrow surface the reconciler and inspector consume.
//
// Implementations must be safe for sequential reuse across calls and must
// classify failures with the error types in this package so callers can
// distinguish absence from real faults.
type Client interface {
	// ListSecretNames returns the names of all active secrets.
	// Soft-deleted secrets are not included.
	ListSecretNames(ctx context.Context) ([]string, error)

	// GetActive returns metadata and the plaintext value of an active secret.
	// Returns NotFoundError if the name is absent or only soft-deleted.
	GetActive(ctx context.Context, name string) (Metadata, string, error)

	// GetSoftDeleted returns metadata for a soft-deleted secret.
	// Returns NotFoundError if no soft-deleted remnant exists under the name.
	GetSoftDeleted(ctx context.Context, name string) (Metadata, error)

	// SetSecret creates or overwrites an active secret. Fails with
	// ConflictError when a soft-deleted remnant still occupies the name.
	SetSecret(ctx context.Context, name, value string) error

	// DeleteSecret transitions an active secret to soft-deleted.
	DeleteSecret(ctx context.Context, name string) error

	// PurgeSecret permanently removes a soft-deleted secret, freeing the
	// name for reuse. The purge is asynchronous on some backends; callers
	// must poll GetSoftDeleted before creating under the same name.
	PurgeSecret(ctx context.Context, name string) error
}

// Metadata describes a secret without exposing its value.
type Metadata struct {
	Name        string
	ContentType string
	Enabled     bool
	Created     time.Time
	Updated     time.Time
	Tags        map[string]string
}
