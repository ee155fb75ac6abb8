package vault

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Operation names accepted by Fake.FailOn.
const (
	OpList       = "list"
	OpGet        = "get"
	OpGetDeleted = "get-deleted"
	OpSet        = "set"
	OpDelete     = "delete"
	OpPurge      = "purge"
)

type fakeSecret struct {
	value       string
	contentType string
	tags        map[string]string
	created     time.Time
	updated     time.Time
	deleted     bool
	// purgePolls counts remaining GetSoftDeleted observations before an
	// in-flight purge completes, simulating asynchronous purges.
	purgePolls int
}

// Fake is an in-memory Client for tests. Each name holds one of the three
// lifecycle states; per-operation errors can be injected by name.
type Fake struct {
	mu      sync.Mutex
	secrets map[string]*fakeSecret
	errors  map[string]error

	// PurgeLag, when >0, keeps a purged secret visible to GetSoftDeleted for
	// that many polls before it disappears, exercising settling loops.
	PurgeLag int

	// Calls records every operation as "op name" in invocation order.
	Calls []string
}

// NewFake creates an empty fake vault.
func NewFake() *Fake {
	return &Fake{
		secrets: make(map[string]*fakeSecret),
		errors:  make(map[string]error),
	}
}

// AddSecret seeds an active secret.
func (f *Fake) AddSecret(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	f.secrets[name] = &fakeSecret{value: value, created: now, updated: now}
}

// AddSecretWithMetadata seeds an active secret with content type and tags.
func (f *Fake) AddSecretWithMetadata(name, value, contentType string, tags map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	f.secrets[name] = &fakeSecret{
		value:       value,
		contentType: contentType,
		tags:        tags,
		created:     now,
		updated:     now,
	}
}

// AddSoftDeleted seeds a soft-deleted remnant.
func (f *Fake) AddSoftDeleted(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	f.secrets[name] = &fakeSecret{created: now, updated: now, deleted: true}
}

// FailOn injects an error for a single operation/name pair. Use OpList with
// an empty name to fail listing.
func (f *Fake) FailOn(op, name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[op+"/"+name] = err
}

// State reports the lifecycle state of a name: "absent", "active", or
// "soft-deleted". Test helper.
func (f *Fake) State(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.secrets[name]
	switch {
	case !ok:
		return "absent"
	case s.deleted:
		return "soft-deleted"
	default:
		return "active"
	}
}

func (f *Fake) record(op, name string) error {
	f.Calls = append(f.Calls, op+" "+name)
	if err, ok := f.errors[op+"/"+name]; ok {
		return err
	}
	return nil
}

func (f *Fake) metadata(name string, s *fakeSecret) Metadata {
	return Metadata{
		Name:        name,
		ContentType: s.contentType,
		Enabled:     !s.deleted,
		Created:     s.created,
		Updated:     s.updated,
		Tags:        s.tags,
	}
}

// ListSecretNames returns sorted active secret names.
func (f *Fake) ListSecretNames(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(OpList, ""); err != nil {
		return nil, err
	}
	var names []string
	for name, s := range f.secrets {
		if !s.deleted {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// GetActive returns an active secret's metadata and value.
func (f *Fake) GetActive(ctx context.Context, name string) (Metadata, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(OpGet, name); err != nil {
		return Metadata{}, "", err
	}
	s, ok := f.secrets[name]
	if !ok || s.deleted {
		return Metadata{}, "", NotFoundError{Backend: "fake", Name: name}
	}
	return f.metadata(name, s), s.value, nil
}

// GetSoftDeleted returns metadata for a soft-deleted remnant. In-flight
// purges stay visible for PurgeLag polls before disappearing.
func (f *Fake) GetSoftDeleted(ctx context.Context, name string) (Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(OpGetDeleted, name); err != nil {
		return Metadata{}, err
	}
	s, ok := f.secrets[name]
	if !ok || !s.deleted {
		return Metadata{}, NotFoundError{Backend: "fake", Name: name}
	}
	if s.purgePolls > 0 {
		s.purgePolls--
		if s.purgePolls == 0 {
			delete(f.secrets, name)
		}
	}
	return f.metadata(name, s), nil
}

// SetSecret creates or overwrites an active secret. A soft-deleted remnant
// under the same name refuses the write, matching vaults with soft-delete
// protection.
func (f *Fake) SetSecret(ctx context.Context, name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(OpSet, name); err != nil {
		return err
	}
	if s, ok := f.secrets[name]; ok && s.deleted {
		return ConflictError{
			Backend: "fake",
			Name:    name,
			Err:     fmt.Errorf("a soft-deleted secret occupies this name"),
		}
	}
	now := time.Now()
	if s, ok := f.secrets[name]; ok {
		s.value = value
		s.updated = now
		return nil
	}
	f.secrets[name] = &fakeSecret{value: value, created: now, updated: now}
	return nil
}

// DeleteSecret transitions an active secret to soft-deleted.
func (f *Fake) DeleteSecret(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(OpDelete, name); err != nil {
		return err
	}
	s, ok := f.secrets[name]
	if !ok || s.deleted {
		return NotFoundError{Backend: "fake", Name: name}
	}
	s.deleted = true
	return nil
}

// PurgeSecret removes a soft-deleted secret, immediately or after PurgeLag
// polls of GetSoftDeleted.
func (f *Fake) PurgeSecret(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(OpPurge, name); err != nil {
		return err
	}
	s, ok := f.secrets[name]
	if !ok || !s.deleted {
		return NotFoundError{Backend: "fake", Name: name}
	}
	if f.PurgeLag > 0 {
		s.purgePolls = f.PurgeLag
		return nil
	}
	delete(f.secrets, name)
	return nil
}
