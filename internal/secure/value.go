// Package secure holds secret material in memguard enclaves between the time
// configuration is loaded and the moment a value is written to the vault.
// Plaintext only exists in a locked buffer while a single vault call runs.
package secure

import (
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
)

// Value is an encrypted-at-rest in-memory secret value.
type Value struct {
	enclave   *memguard.Enclave
	mu        sync.RWMutex
	destroyed bool
}

// NewValue seals the given plaintext into a protected enclave. The input
// string is not wiped (Go strings are immutable); callers should avoid
// retaining it.
func NewValue(plaintext string) *Value {
	return &Value{enclave: memguard.NewEnclave([]byte(plaintext))}
}

// Reveal decrypts the value and returns it as a string for a vault write.
// The intermediate locked buffer is destroyed before returning.
func (v *Value) Reveal() (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.destroyed {
		return "", fmt.Errorf("secure value already destroyed")
	}

	locked, err := v.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open enclave: %w", err)
	}
	defer locked.Destroy()

	// Copy out before the locked buffer is wiped; LockedBuffer.String would
	// alias memory that Destroy zeroes.
	return string(locked.Bytes()), nil
}

// Destroy marks the value as unusable. Idempotent. The encrypted enclave data
// is left to the garbage collector; call memguard.Purge() at process exit for
// full cleanup.
func (v *Value) Destroy() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.destroyed {
		return
	}
	v.enclave = nil
	v.destroyed = true
}
